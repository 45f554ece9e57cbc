package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

// Sandbox settles every payment it opened unless Decline was called for
// it. The checkout URL points straight at the client's callback.
type Sandbox struct {
	callback string

	mu       sync.Mutex
	opened   map[string]bool
	declined map[string]bool
}

func NewSandbox(callbackURL string) *Sandbox {
	return &Sandbox{callback: callbackURL, opened: map[string]bool{}, declined: map[string]bool{}}
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) Initialize(_ context.Context, c Checkout) (Session, error) {
	s.mu.Lock()
	s.opened[c.Reference] = true
	s.mu.Unlock()

	cb := c.CallbackURL
	if cb == "" {
		cb = s.callback
	}
	u, err := url.Parse(cb)
	if err != nil {
		return Session{}, err
	}
	q := u.Query()
	q.Set("reference", c.Reference)
	q.Set("trxref", c.Reference)
	u.RawQuery = q.Encode()
	return Session{AuthorizationURL: u.String(), AccessCode: "sandbox-" + c.Reference}, nil
}

// Decline makes the next status check for reference report failure.
func (s *Sandbox) Decline(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined[reference] = true
}

func (s *Sandbox) Status(_ context.Context, reference string) (payment.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.declined[reference]:
		return payment.StatusFailed, nil
	case s.opened[reference]:
		return payment.StatusSuccess, nil
	}
	// Unknown to this process, e.g. after a restart.
	return payment.StatusFailed, nil
}

// ParseWebhook accepts an unsigned {"event","reference"} body.
func (s *Sandbox) ParseWebhook(_ http.Header, body []byte) (Event, error) {
	var n struct {
		Event     string `json:"event"`
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body, &n); err != nil || n.Reference == "" {
		return Event{}, ErrIgnored
	}
	switch n.Event {
	case "charge.success":
		return Event{Reference: n.Reference, Status: payment.StatusSuccess}, nil
	case "charge.failed":
		return Event{Reference: n.Reference, Status: payment.StatusFailed}, nil
	}
	return Event{}, ErrIgnored
}
