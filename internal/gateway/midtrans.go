package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

// Midtrans opens Snap checkouts and checks status through the Core API.
// The reference is used as the Midtrans order id.
type Midtrans struct {
	serverKey string
	snap      snap.Client
	core      coreapi.Client
}

func NewMidtrans(serverKey string, production bool) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	m := &Midtrans{serverKey: serverKey}
	m.snap.New(serverKey, env)
	m.core.New(serverKey, env)
	return m
}

func (m *Midtrans) Name() string { return "midtrans" }

// The midtrans client takes no context; calls are bounded by its own
// HTTP timeout.
func (m *Midtrans) Initialize(_ context.Context, c Checkout) (Session, error) {
	gross := int64(math.Round(c.Amount))
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  c.Reference,
			GrossAmt: gross,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			Email: c.Email,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:    c.Reference,
			Price: gross,
			Qty:   1,
			Name:  truncate(c.Description, 50),
		}},
	}
	if c.CallbackURL != "" {
		req.Callbacks = &snap.Callbacks{Finish: c.CallbackURL}
	}
	resp, merr := m.snap.CreateTransaction(req)
	if merr != nil {
		return Session{}, midtransErr(merr)
	}
	return Session{AuthorizationURL: resp.RedirectURL, AccessCode: resp.Token}, nil
}

func (m *Midtrans) Status(_ context.Context, reference string) (payment.Status, error) {
	resp, merr := m.core.CheckTransaction(reference)
	if merr != nil {
		if merr.GetStatusCode() == http.StatusNotFound {
			return payment.StatusPending, nil
		}
		return "", midtransErr(merr)
	}
	return midtransStatus(resp.TransactionStatus, resp.FraudStatus), nil
}

func midtransErr(e *midtrans.Error) error {
	return upstream(e.GetStatusCode(), e.GetMessage())
}

func midtransStatus(transaction, fraud string) payment.Status {
	switch strings.ToLower(transaction) {
	case "settlement":
		return payment.StatusSuccess
	case "capture":
		if f := strings.ToLower(fraud); f == "" || f == "accept" {
			return payment.StatusSuccess
		}
		return payment.StatusPending
	case "deny", "cancel", "expire", "failure", "refund", "partial_refund":
		return payment.StatusFailed
	default:
		return payment.StatusPending
	}
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// ParseWebhook checks signature_key, the hex SHA-512 of
// order_id+status_code+gross_amount+server key.
func (m *Midtrans) ParseWebhook(_ http.Header, body []byte) (Event, error) {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	want := SignMidtrans(m.serverKey, n.OrderID, n.StatusCode, n.GrossAmount)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(n.SignatureKey)), []byte(want)) != 1 {
		return Event{}, ErrBadSignature
	}
	st := midtransStatus(n.TransactionStatus, n.FraudStatus)
	if st == payment.StatusPending || n.OrderID == "" {
		return Event{}, ErrIgnored
	}
	return Event{Reference: n.OrderID, Status: st}, nil
}

// SignMidtrans computes a notification's signature_key.
func SignMidtrans(serverKey, orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if s == "" {
		return "Course access"
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}
