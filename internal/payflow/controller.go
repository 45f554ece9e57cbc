// Package payflow runs one purchase: initialize a payment, wait for the
// provider to confirm it, have the server verify it, then re-run the
// entitlement check. The server's verification is the only source of truth.
package payflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

type Phase int

const (
	Idle Phase = iota
	Initializing
	AwaitingProvider
	Verifying
	Verified
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Initializing:
		return "Initializing"
	case AwaitingProvider:
		return "AwaitingProvider"
	case Verifying:
		return "Verifying"
	case Verified:
		return "Verified"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Gateway is the server side of a purchase. *client.Client satisfies it.
type Gateway interface {
	InitializePayment(ctx context.Context, courseID string) (payment.Payment, error)
	VerifyPayment(ctx context.Context, reference string) (payment.Payment, error)
}

type Outcome int

const (
	Confirmed Outcome = iota
	Declined
)

func (o Outcome) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "declined"
}

// ProviderConfirmer waits for the payer to finish (or abandon) checkout at
// the provider for p.
type ProviderConfirmer interface {
	AwaitConfirmation(ctx context.Context, p payment.Payment) (Outcome, error)
}

// EntitlementChecker re-queries entitlement after a verified payment.
type EntitlementChecker interface {
	Recheck(ctx context.Context, courseID string) (entitlement.Decision, error)
}

type Result struct {
	Payment  payment.Payment
	Decision entitlement.Decision
}

var errPending = errors.New("payment still pending at provider")

type Controller struct {
	gw      Gateway
	confirm ProviderConfirmer
	ent     EntitlementChecker
	log     *log.Logger

	verifyTries    uint
	verifyInterval time.Duration
	confirmTimeout time.Duration

	mu      sync.Mutex
	phase   Phase
	current *payment.Payment
	lastErr error
	used    map[string]struct{}
}

type Option func(*Controller)

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithVerifyRetry sets how many times verify is tried and the first backoff
// interval.
func WithVerifyRetry(tries uint, initial time.Duration) Option {
	return func(c *Controller) {
		if tries > 0 {
			c.verifyTries = tries
		}
		if initial > 0 {
			c.verifyInterval = initial
		}
	}
}

// WithConfirmTimeout bounds the wait for the provider.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

func New(gw Gateway, confirm ProviderConfirmer, ent EntitlementChecker, opts ...Option) *Controller {
	c := &Controller{
		gw:             gw,
		confirm:        confirm,
		ent:            ent,
		log:            log.New(io.Discard, "", 0),
		verifyTries:    5,
		verifyInterval: 500 * time.Millisecond,
		confirmTimeout: timeouts.ProviderConfirmation,
		used:           map[string]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// InFlight reports whether a purchase is between Idle and a terminal phase.
func (c *Controller) InFlight() bool {
	switch c.Phase() {
	case Initializing, AwaitingProvider, Verifying:
		return true
	}
	return false
}

// Current returns the payment of the latest run, if any.
func (c *Controller) Current() (payment.Payment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return payment.Payment{}, false
	}
	return *c.current, true
}

// Err is the failure of the latest run.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run purchases courseID. Each call starts from a fresh reference; a
// concurrent call while one is in flight is rejected.
func (c *Controller) Run(ctx context.Context, courseID string) (Result, error) {
	if courseID == "" {
		return Result{}, errs.Validation("course id required")
	}
	c.mu.Lock()
	switch c.phase {
	case Initializing, AwaitingProvider, Verifying:
		c.mu.Unlock()
		return Result{}, errs.Validation("a payment is already in progress")
	}
	c.phase = Initializing
	c.current = nil
	c.lastErr = nil
	c.mu.Unlock()

	p, err := c.gw.InitializePayment(ctx, courseID)
	if err != nil {
		return Result{}, c.failed(err)
	}
	if !c.claim(p.Reference) {
		return Result{}, c.failed(errs.New(errs.CodePaymentFailed, fmt.Sprintf("payment reference %q was already used", p.Reference)))
	}
	c.log.Printf("payflow: initialized %s for course %s amount=%.2f", p.Reference, courseID, p.Amount)
	c.advance(AwaitingProvider, p)

	cctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	outcome, err := c.confirm.AwaitConfirmation(cctx, p)
	cancel()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Result{Payment: p}, c.failed(errs.Wrap(errs.CodePaymentFailed, "timed out waiting for the payment provider", err))
	case err != nil:
		return Result{Payment: p}, c.failed(errs.Wrap(errs.CodePaymentFailed, "payment provider error", err))
	case outcome != Confirmed:
		return Result{Payment: p}, c.failed(errs.New(errs.CodePaymentFailed, "payment was not completed"))
	}
	c.advance(Verifying, p)

	v, err := c.verify(ctx, p.Reference)
	if err != nil {
		return Result{Payment: p}, c.failed(err)
	}
	if v.CourseID == "" {
		v.CourseID = p.CourseID
	}
	if v.Amount == 0 {
		v.Amount, v.Currency = p.Amount, p.Currency
	}
	if !v.Settled() {
		c.advanceFailed(v)
		return Result{Payment: v}, c.failed(errs.New(errs.CodePaymentFailed, "payment verification failed"))
	}
	c.advance(Verified, v)
	c.log.Printf("payflow: verified %s", v.Reference)

	d, err := c.ent.Recheck(ctx, courseID)
	if err != nil {
		return Result{Payment: v}, err
	}
	return Result{Payment: v, Decision: d}, nil
}

// verify asks the server to settle reference, retrying transient failures
// and pending answers with exponential backoff.
func (c *Controller) verify(ctx context.Context, reference string) (payment.Payment, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.verifyInterval
	b.MaxInterval = 10 * c.verifyInterval

	op := func() (payment.Payment, error) {
		p, err := c.gw.VerifyPayment(ctx, reference)
		switch {
		case errors.Is(err, errs.ErrTransientNetwork):
			return p, err
		case err != nil:
			return p, backoff.Permanent(err)
		case p.Status == payment.StatusPending:
			return p, errPending
		}
		return p, nil
	}
	notify := func(err error, next time.Duration) {
		c.log.Printf("payflow: verify %s: %v; retrying in %s", reference, err, next)
	}
	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.verifyTries),
		backoff.WithNotify(notify),
	)
	switch {
	case errors.Is(err, errPending):
		return p, errs.New(errs.CodePaymentFailed, "payment is still pending; verification did not complete")
	case err != nil && (errs.CodeOf(err) == "" || errors.Is(err, errs.ErrTransientNetwork)):
		return p, errs.Wrap(errs.CodePaymentFailed, "payment verification did not complete", err)
	case err != nil:
		return p, err
	}
	return p, nil
}

func (c *Controller) claim(reference string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reference == "" {
		return false
	}
	if _, dup := c.used[reference]; dup {
		return false
	}
	c.used[reference] = struct{}{}
	return true
}

func (c *Controller) advance(ph Phase, p payment.Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = ph
	c.current = &p
}

func (c *Controller) advanceFailed(p payment.Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &p
}

func (c *Controller) failed(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = Failed
	c.lastErr = err
	if c.current != nil && !c.current.Status.Terminal() {
		c.current.Status = payment.StatusFailed
	}
	c.log.Printf("payflow: failed: %v", err)
	return err
}
