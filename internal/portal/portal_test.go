package portal

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payflow"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/session"
	"github.com/mind-engage/mindengage-cbt/internal/testsession"
)

// fakeAPI models the server: a paid course becomes accessible once a
// payment for it verifies.
type fakeAPI struct {
	mu       sync.Mutex
	courses  []course.Course
	payments []payment.Payment
	attempts []course.AttemptSummary
	details  int
	verifies int
	nextRef  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{courses: []course.Course{
		{ID: "free-1", Title: "Free", IsFree: true, TotalQuestions: 2},
		{ID: "paid-1", Title: "Paid", Price: 2000, TotalQuestions: 2},
	}}
}

func (f *fakeAPI) ListCourses(context.Context) ([]course.Course, error) {
	return f.courses, nil
}

func (f *fakeAPI) GetCourseDetail(_ context.Context, id string) (course.CourseDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details++
	for _, c := range f.courses {
		if c.ID == id {
			return course.CourseDetail{Course: c, Questions: []course.Question{
				{ID: id + "-q0", Text: "a?", Options: []string{"x", "y"}, Position: 0},
				{ID: id + "-q1", Text: "b?", Options: []string{"x", "y"}, Position: 1},
			}}, nil
		}
	}
	return course.CourseDetail{}, errs.New(errs.CodeNotFound, "Course not found")
}

func (f *fakeAPI) SubmitAttempt(_ context.Context, id string, a course.Answers) (course.AttemptResult, error) {
	return course.AttemptResult{Score: 50, CorrectAnswers: 1, TotalQuestions: 2}, nil
}

func (f *fakeAPI) MyAttempts(context.Context) ([]course.AttemptSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]course.AttemptSummary(nil), f.attempts...), nil
}

func (f *fakeAPI) PaymentStatus(_ context.Context, id string) (payment.AccessStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := payment.AccessStatus{CourseID: id, PaymentStatus: "none"}
	for _, p := range f.payments {
		if p.CourseID == id {
			st.Payments = append(st.Payments, p)
			if p.Settled() {
				st.HasAccess, st.PaymentStatus = true, "completed"
			}
		}
	}
	return st, nil
}

func (f *fakeAPI) InitializePayment(_ context.Context, id string) (payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRef++
	p := payment.Payment{Reference: "ref-" + strconv.Itoa(f.nextRef), CourseID: id, Amount: 2000, Status: payment.StatusPending}
	f.payments = append(f.payments, p)
	return p, nil
}

func (f *fakeAPI) VerifyPayment(_ context.Context, ref string) (payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	for i := range f.payments {
		if f.payments[i].Reference == ref {
			now := time.Now()
			f.payments[i].Status, f.payments[i].Verified, f.payments[i].VerifiedAt = payment.StatusSuccess, true, &now
			return f.payments[i], nil
		}
	}
	return payment.Payment{}, errs.New(errs.CodeNotFound, "Payment not found")
}

func signedIn() *session.Store {
	s := session.New()
	_ = s.Login(session.Identity{ID: "u1", Email: "ada@example.com"}, "tok")
	return s
}

type gatedConfirm struct{ release chan struct{} }

func (g gatedConfirm) AwaitConfirmation(ctx context.Context, _ payment.Payment) (payflow.Outcome, error) {
	select {
	case <-g.release:
		return payflow.Confirmed, nil
	case <-ctx.Done():
		return payflow.Declined, ctx.Err()
	}
}

func TestPaidCourseDeniedWithoutLoadingDetail(t *testing.T) {
	api := newFakeAPI()
	p := New(api, signedIn(), Config{})

	d, err := p.StartTest(context.Background(), "paid-1")
	if d.Verdict != entitlement.DeniedPaymentRequired || !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("decision=%+v err=%v", d, err)
	}
	if api.details != 0 {
		t.Fatalf("course detail fetched %d times", api.details)
	}
	if p.Machine().State() != testsession.Idle {
		t.Fatalf("state = %v", p.Machine().State())
	}
}

func TestFreeCourseStarts(t *testing.T) {
	api := newFakeAPI()
	p := New(api, session.New(), Config{})

	d, err := p.StartTest(context.Background(), "free-1")
	if err != nil || !d.Allowed() {
		t.Fatalf("decision=%+v err=%v", d, err)
	}
	if p.Machine().State() != testsession.Ready {
		t.Fatalf("state = %v", p.Machine().State())
	}
}

func TestStartOrPurchaseUnlocksAfterVerify(t *testing.T) {
	api := newFakeAPI()
	p := New(api, signedIn(), Config{PayOpts: []payflow.Option{payflow.WithVerifyRetry(2, time.Millisecond)}})

	d, err := p.StartOrPurchase(context.Background(), "paid-1")
	if err != nil || !d.Allowed() {
		t.Fatalf("decision=%+v err=%v", d, err)
	}
	if api.verifies != 1 || p.Machine().State() != testsession.Ready {
		t.Fatalf("verifies=%d state=%v", api.verifies, p.Machine().State())
	}
	if pay, ok := p.Payments().Current(); !ok || pay.Reference != "ref-1" || !pay.Verified {
		t.Fatalf("payment = %+v", pay)
	}
}

func TestStartDuringPurchaseUsesSnapshot(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	p := New(api, signedIn(), Config{Confirmer: gatedConfirm{release: release}})

	if d, _ := p.StartTest(context.Background(), "paid-1"); d.Allowed() {
		t.Fatal("paid course should start denied")
	}
	done := make(chan error, 1)
	go func() {
		_, err := p.Purchase(context.Background(), "paid-1")
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for p.Payments().Phase() != payflow.AwaitingProvider && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// The provider has not confirmed; even if the server already knew of a
	// success, the start must use the pre-purchase snapshot.
	d, err := p.StartTest(context.Background(), "paid-1")
	if d.Verdict != entitlement.DeniedPaymentRequired || !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("decision=%+v err=%v", d, err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if d, _ := p.Snapshot("paid-1"); !d.Allowed() {
		t.Fatalf("snapshot after purchase = %+v", d)
	}
	if _, err := p.StartTest(context.Background(), "paid-1"); err != nil {
		t.Fatalf("start after purchase: %v", err)
	}
}

func TestPurchaseRequiresSession(t *testing.T) {
	p := New(newFakeAPI(), session.New(), Config{})
	if _, err := p.Purchase(context.Background(), "paid-1"); !errors.Is(err, errs.ErrAuthFailure) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownCourse(t *testing.T) {
	p := New(newFakeAPI(), signedIn(), Config{})
	if _, err := p.StartTest(context.Background(), "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestAttemptConsumesPaidAccess(t *testing.T) {
	api := newFakeAPI()
	now := time.Now()
	api.payments = []payment.Payment{{Reference: "ref-0", CourseID: "paid-1", Status: payment.StatusSuccess, Verified: true, VerifiedAt: &now}}
	api.attempts = []course.AttemptSummary{{CourseID: "paid-1", CompletedAt: now.Add(time.Minute)}}
	p := New(api, signedIn(), Config{})

	d, err := p.Entitlement(context.Background(), "paid-1")
	if err != nil || d.Verdict != entitlement.DeniedPaymentRequired {
		t.Fatalf("decision=%+v err=%v", d, err)
	}
}
