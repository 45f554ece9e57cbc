// Package gateway talks to payment providers on behalf of the CBT server:
// opening a checkout, asking for a transaction's status, and
// authenticating webhook notifications.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mind-engage/mindengage-cbt/internal/config"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

// Checkout describes a payment to open at the provider.
type Checkout struct {
	Reference   string
	Email       string
	Amount      float64
	Currency    string
	CallbackURL string
	Description string
}

// Session is where the payer completes the checkout.
type Session struct {
	AuthorizationURL string
	AccessCode       string
}

// Event is an authenticated provider notification.
type Event struct {
	Reference string
	Status    payment.Status
}

type Provider interface {
	Name() string
	Initialize(ctx context.Context, c Checkout) (Session, error)
	// Status asks the provider for the transaction's current status.
	Status(ctx context.Context, reference string) (payment.Status, error)
	// ParseWebhook authenticates and decodes a notification body.
	ParseWebhook(h http.Header, body []byte) (Event, error)
}

// ErrBadSignature is returned for webhooks that fail authentication.
var ErrBadSignature = errs.New(errs.CodeAuthFailure, "invalid webhook signature")

// ErrIgnored is returned for authentic webhooks that carry no status change.
var ErrIgnored = errors.New("webhook event ignored")

// New returns the provider selected by cfg.PaymentGateway.
func New(cfg config.Server) (Provider, error) {
	switch cfg.PaymentGateway {
	case "", "sandbox":
		return NewSandbox(cfg.PaymentCallback), nil
	case "paystack":
		if cfg.PaystackSecretKey == "" {
			return nil, errors.New("PAYSTACK_SECRET_KEY is required for the paystack gateway")
		}
		return NewPaystack(cfg.PaystackAPIURL, cfg.PaystackSecretKey), nil
	case "midtrans":
		if cfg.MidtransServerKey == "" {
			return nil, errors.New("MIDTRANS_SERVER_KEY is required for the midtrans gateway")
		}
		return NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProd), nil
	default:
		return nil, fmt.Errorf("unknown PAYMENT_GATEWAY %q", cfg.PaymentGateway)
	}
}

// upstream maps a provider HTTP status onto the taxonomy: 5xx and
// throttling are transient, anything else a payment failure.
func upstream(status int, msg string) error {
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return &errs.Error{Code: errs.CodeTransientNetwork, Message: "payment provider unavailable: " + msg, Status: status}
	}
	return &errs.Error{Code: errs.CodePaymentFailed, Message: msg, Status: status}
}
