package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

// Paystack is the Paystack transaction API. Amounts are sent in the
// currency's minor unit (kobo for NGN).
type Paystack struct {
	base   string
	secret string
	http   *http.Client
}

func NewPaystack(apiURL, secretKey string) *Paystack {
	// The secret key is a static bearer credential.
	h := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: secretKey,
		TokenType:   "Bearer",
	}))
	h.Timeout = timeouts.Gateway
	return &Paystack{base: strings.TrimSuffix(apiURL, "/"), secret: secretKey, http: h}
}

func (p *Paystack) Name() string { return "paystack" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := p.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.CodeTransientNetwork, "payment provider unreachable", err)
	}
	defer res.Body.Close()

	var env paystackEnvelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&env); err != nil {
		if res.StatusCode/100 != 2 {
			return upstream(res.StatusCode, res.Status)
		}
		return errs.Wrap(errs.CodeTransientNetwork, "malformed payment provider response", err)
	}
	if res.StatusCode/100 != 2 {
		msg := env.Message
		if msg == "" {
			msg = res.Status
		}
		return upstream(res.StatusCode, msg)
	}
	if !env.Status {
		return errs.New(errs.CodePaymentFailed, env.Message)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (p *Paystack) Initialize(ctx context.Context, c Checkout) (Session, error) {
	body := map[string]any{
		"email":        c.Email,
		"amount":       int64(math.Round(c.Amount * 100)),
		"reference":    c.Reference,
		"callback_url": c.CallbackURL,
	}
	if c.Currency != "" {
		body["currency"] = c.Currency
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return Session{}, err
	}
	if data.AuthorizationURL == "" {
		return Session{}, errs.New(errs.CodePaymentFailed, "payment provider returned no checkout URL")
	}
	return Session{AuthorizationURL: data.AuthorizationURL, AccessCode: data.AccessCode}, nil
}

func (p *Paystack) Status(ctx context.Context, reference string) (payment.Status, error) {
	var data struct {
		Status string `json:"status"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return "", err
	}
	return paystackStatus(data.Status), nil
}

func paystackStatus(s string) payment.Status {
	switch strings.ToLower(s) {
	case "success":
		return payment.StatusSuccess
	case "failed", "abandoned", "reversed":
		return payment.StatusFailed
	default: // ongoing, pending, processing, queued
		return payment.StatusPending
	}
}

// ParseWebhook checks X-Paystack-Signature, the hex HMAC-SHA512 of the body
// keyed with the secret key.
func (p *Paystack) ParseWebhook(h http.Header, body []byte) (Event, error) {
	sig, err := hex.DecodeString(h.Get("X-Paystack-Signature"))
	if err != nil || len(sig) == 0 {
		return Event{}, ErrBadSignature
	}
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Event{}, ErrBadSignature
	}
	var n struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	if n.Data.Reference == "" {
		return Event{}, ErrIgnored
	}
	switch n.Event {
	case "charge.success":
		return Event{Reference: n.Data.Reference, Status: payment.StatusSuccess}, nil
	case "charge.failed":
		return Event{Reference: n.Data.Reference, Status: payment.StatusFailed}, nil
	}
	return Event{}, ErrIgnored
}

// SignPaystack computes the X-Paystack-Signature value for body.
func SignPaystack(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
