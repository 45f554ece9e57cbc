// Package client is the typed request/response client for the CBT API. It
// enforces no business rules: it encodes requests, attaches the session
// credential and maps failures onto the errs taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/session"
	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

type Client struct {
	base     *url.URL
	session  *session.Store
	anon     *http.Client
	authed   *http.Client
	timeout  time.Duration
	validate *validator.Validate
}

type Option func(*Client)

// WithHTTPClient sets the underlying transport client (useful for tests).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.anon = h } }

// WithTimeout bounds every call; zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a client for baseURL. sess is required; it supplies the bearer
// credential for authenticated calls.
func New(baseURL string, sess *session.Store, opts ...Option) (*Client, error) {
	if sess == nil {
		return nil, errors.New("client: nil session store")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:     u,
		session:  sess,
		anon:     http.DefaultClient,
		timeout:  timeouts.Request,
		validate: validator.New(),
	}
	for _, o := range opts {
		o(c)
	}
	base := c.anon.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.authed = &http.Client{
		Transport: &oauth2.Transport{Source: sess, Base: base},
		Timeout:   c.anon.Timeout,
	}
	return c, nil
}

// Session returns the store the client authenticates with.
func (c *Client) Session() *session.Store { return c.session }

type call struct {
	method string
	path   string
	// body is JSON-encoded unless raw is set.
	body        any
	raw         io.Reader
	contentType string
	out         any
	// auth attaches the bearer credential when a session is active.
	auth bool
	// authCall marks login/registration, where 4xx means AuthFailure.
	authCall bool
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) do(ctx context.Context, cl call) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	contentType := cl.contentType
	switch {
	case cl.raw != nil:
		body = cl.raw
	case cl.body != nil:
		buf, err := json.Marshal(cl.body)
		if err != nil {
			return errs.Wrap(errs.CodeValidation, "encode request", err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.endpoint(cl.path), body)
	if err != nil {
		return errs.Wrap(errs.CodeValidation, "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	hc := c.anon
	if cl.auth && c.session.Authenticated() {
		hc = c.authed
	}
	res, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return session.ErrNoSession
		}
		return errs.Wrap(errs.CodeTransientNetwork, transportMessage(err), err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return decodeFailure(res, cl.authCall)
	}
	if cl.out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(cl.out); err != nil {
		return errs.Wrap(errs.CodeTransientNetwork, "malformed response from server", err)
	}
	return nil
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "the server did not respond in time"
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	return "could not reach the server"
}

// decodeFailure reads the {detail} body the server attaches to 4xx/5xx.
func decodeFailure(res *http.Response, authCall bool) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var env struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	detail := ""
	if json.Unmarshal(raw, &env) == nil {
		var s string
		if len(env.Detail) > 0 && json.Unmarshal(env.Detail, &s) == nil {
			detail = s
		} else if len(env.Detail) > 0 {
			detail = string(env.Detail)
		} else {
			detail = env.Message
		}
	} else {
		detail = strings.TrimSpace(string(raw))
	}
	return errs.FromStatus(res.StatusCode, detail, authCall)
}

// check runs struct validation, reporting the first failing field.
func (c *Client) check(v any) error {
	if err := c.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return errs.Validation(fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return errs.Wrap(errs.CodeValidation, "invalid request", err)
	}
	return nil
}
