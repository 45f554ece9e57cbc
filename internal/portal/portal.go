// Package portal wires the catalog, entitlement gate, test session machine
// and payment flow into the learner's control flow: look up the course,
// ask the gate, start the test, and when payment is required run the
// purchase and ask again.
package portal

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payflow"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/session"
	"github.com/mind-engage/mindengage-cbt/internal/testsession"
)

// API is the subset of the catalog client the portal drives.
type API interface {
	ListCourses(ctx context.Context) ([]course.Course, error)
	MyAttempts(ctx context.Context) ([]course.AttemptSummary, error)
	PaymentStatus(ctx context.Context, courseID string) (payment.AccessStatus, error)
	testsession.Backend
	payflow.Gateway
}

type Portal struct {
	api     API
	sess    *session.Store
	gate    entitlement.Gate
	machine *testsession.Machine
	pay     *payflow.Controller
	now     func() time.Time

	mu        sync.Mutex
	courses   map[string]course.Course
	snapshots map[string]entitlement.Decision
}

type Config struct {
	Policy      entitlement.Policy
	Confirmer   payflow.ProviderConfirmer
	MachineOpts []testsession.Option
	PayOpts     []payflow.Option
}

func New(api API, sess *session.Store, cfg Config) *Portal {
	p := &Portal{
		api:       api,
		sess:      sess,
		gate:      entitlement.New(cfg.Policy),
		machine:   testsession.New(api, cfg.MachineOpts...),
		now:       time.Now,
		courses:   map[string]course.Course{},
		snapshots: map[string]entitlement.Decision{},
	}
	conf := cfg.Confirmer
	if conf == nil {
		conf = payflow.AutoConfirm{}
	}
	p.pay = payflow.New(api, conf, p, cfg.PayOpts...)
	return p
}

func (p *Portal) Machine() *testsession.Machine { return p.machine }

func (p *Portal) Payments() *payflow.Controller { return p.pay }

// Courses refreshes and returns the catalog.
func (p *Portal) Courses(ctx context.Context) ([]course.Course, error) {
	cs, err := p.api.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.courses = make(map[string]course.Course, len(cs))
	for _, c := range cs {
		p.courses[c.ID] = c
	}
	return cs, nil
}

func (p *Portal) lookup(ctx context.Context, courseID string) (course.Course, error) {
	p.mu.Lock()
	c, ok := p.courses[courseID]
	p.mu.Unlock()
	if ok {
		return c, nil
	}
	if _, err := p.Courses(ctx); err != nil {
		return course.Course{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.courses[courseID]; !ok {
		return course.Course{}, errs.New(errs.CodeNotFound, "course not found")
	}
	return c, nil
}

// Entitlement fetches the caller's history for courseID and asks the gate.
// The decision is remembered as the course's snapshot.
func (p *Portal) Entitlement(ctx context.Context, courseID string) (entitlement.Decision, error) {
	c, err := p.lookup(ctx, courseID)
	if err != nil {
		return entitlement.Decision{}, err
	}
	var (
		who *session.Identity
		h   entitlement.History
	)
	if id, ok := p.sess.Identity(); ok {
		who = &id
		if h, err = p.history(ctx, c); err != nil {
			return entitlement.Decision{}, err
		}
	}
	d := p.gate.Decide(who, c, h)
	p.mu.Lock()
	p.snapshots[courseID] = d
	p.mu.Unlock()
	return d, nil
}

func (p *Portal) history(ctx context.Context, c course.Course) (entitlement.History, error) {
	var (
		status   payment.AccessStatus
		attempts []course.AttemptSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	if !c.IsFree {
		g.Go(func() error {
			var err error
			status, err = p.api.PaymentStatus(gctx, c.ID)
			return err
		})
	}
	g.Go(func() error {
		var err error
		attempts, err = p.api.MyAttempts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return entitlement.History{}, err
	}
	h := entitlement.History{Payments: status.Payments, Attempts: attempts}
	if status.HasAccess && !anySettled(status.Payments) {
		// Server reports access without itemizing; trust it as of now.
		now := p.now()
		h.Payments = append(h.Payments, payment.Payment{
			CourseID: c.ID, Status: payment.StatusSuccess, Verified: true, VerifiedAt: &now,
		})
	}
	return h, nil
}

func anySettled(ps []payment.Payment) bool {
	for _, p := range ps {
		if p.Settled() {
			return true
		}
	}
	return false
}

// Recheck re-queries entitlement; the payment flow calls it after a
// verified payment.
func (p *Portal) Recheck(ctx context.Context, courseID string) (entitlement.Decision, error) {
	return p.Entitlement(ctx, courseID)
}

// Snapshot is the last decision known for courseID.
func (p *Portal) Snapshot(courseID string) (entitlement.Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.snapshots[courseID]
	return d, ok
}

// StartTest asks the gate and, when allowed, loads the test. While a
// purchase is in flight the snapshot from before the purchase is used, so a
// paid course stays denied until verification completes.
func (p *Portal) StartTest(ctx context.Context, courseID string) (entitlement.Decision, error) {
	var (
		d   entitlement.Decision
		err error
	)
	if p.pay.InFlight() {
		var ok bool
		if d, ok = p.Snapshot(courseID); !ok {
			d = entitlement.Decision{Verdict: entitlement.DeniedPaymentRequired, Reason: "payment in progress"}
		}
	} else if d, err = p.Entitlement(ctx, courseID); err != nil {
		return entitlement.Decision{}, err
	}
	return d, p.machine.Start(ctx, courseID, d)
}

// Purchase runs the payment flow for courseID.
func (p *Portal) Purchase(ctx context.Context, courseID string) (payflow.Result, error) {
	if !p.sess.Authenticated() {
		return payflow.Result{}, session.ErrNoSession
	}
	return p.pay.Run(ctx, courseID)
}

// StartOrPurchase starts the test, purchasing first when the gate asks for
// payment. The test is started only after the post-payment recheck allows
// it.
func (p *Portal) StartOrPurchase(ctx context.Context, courseID string) (entitlement.Decision, error) {
	d, err := p.StartTest(ctx, courseID)
	if err == nil || d.Verdict != entitlement.DeniedPaymentRequired || !errors.Is(err, errs.ErrAccessDenied) {
		return d, err
	}
	res, err := p.Purchase(ctx, courseID)
	if err != nil {
		return d, err
	}
	if !res.Decision.Allowed() {
		return res.Decision, &errs.Error{Code: errs.CodeAccessDenied, Message: res.Decision.Reason}
	}
	return res.Decision, p.machine.Start(ctx, courseID, res.Decision)
}
