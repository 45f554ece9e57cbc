package entitlement

import (
	"testing"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/session"
)

var (
	me    = &session.Identity{ID: "u1"}
	free  = course.Course{ID: "free-1", IsFree: true}
	paid  = course.Course{ID: "paid-1", Price: 2000}
	t0    = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	hour  = time.Hour
	later = t0.Add(hour)
)

func settled(courseID string, at time.Time) payment.Payment {
	return payment.Payment{CourseID: courseID, Status: payment.StatusSuccess, Verified: true, VerifiedAt: &at}
}

func attempt(courseID string, at time.Time, canRetake bool) course.AttemptSummary {
	return course.AttemptSummary{CourseID: courseID, CompletedAt: at, CanRetake: canRetake}
}

func TestFreeCourseAlwaysAllowed(t *testing.T) {
	histories := []History{
		{},
		{Payments: []payment.Payment{{CourseID: free.ID, Status: payment.StatusFailed}}},
		{Attempts: []course.AttemptSummary{attempt(free.ID, t0, true), attempt(free.ID, later, true)}},
		{Payments: []payment.Payment{settled(free.ID, t0)}},
	}
	g := New(Policy{})
	for i, h := range histories {
		for _, who := range []*session.Identity{nil, me} {
			if d := g.Decide(who, free, h); d.Verdict != Allowed {
				t.Errorf("history %d who=%v: got %v", i, who, d.Verdict)
			}
		}
	}
}

func TestPaidCourseWithoutSettledPaymentDenied(t *testing.T) {
	histories := []History{
		{},
		{Payments: []payment.Payment{{CourseID: paid.ID, Status: payment.StatusPending}}},
		{Payments: []payment.Payment{{CourseID: paid.ID, Status: payment.StatusFailed}}},
		// provider said success but the server never verified it
		{Payments: []payment.Payment{{CourseID: paid.ID, Status: payment.StatusSuccess}}},
		// settled, but for another course
		{Payments: []payment.Payment{settled("other", t0)}},
	}
	g := New(Policy{})
	for i, h := range histories {
		d := g.Decide(me, paid, h)
		if d.Verdict != DeniedPaymentRequired || d.Reason == "" {
			t.Errorf("history %d: got %+v", i, d)
		}
	}
}

func TestPaidCourseRules(t *testing.T) {
	cases := []struct {
		name string
		h    History
		want Verdict
	}{
		{
			name: "paid, never attempted",
			h:    History{Payments: []payment.Payment{settled(paid.ID, t0)}},
			want: Allowed,
		},
		{
			name: "payment consumed by attempt",
			h: History{
				Payments: []payment.Payment{settled(paid.ID, t0)},
				Attempts: []course.AttemptSummary{attempt(paid.ID, later, false)},
			},
			want: DeniedPaymentRequired,
		},
		{
			name: "new payment after attempt",
			h: History{
				Payments: []payment.Payment{settled(paid.ID, t0), settled(paid.ID, later.Add(hour))},
				Attempts: []course.AttemptSummary{attempt(paid.ID, later, false)},
			},
			want: Allowed,
		},
		{
			name: "latest attempt retake eligible",
			h: History{
				Payments: []payment.Payment{settled(paid.ID, t0)},
				Attempts: []course.AttemptSummary{attempt(paid.ID, later, true)},
			},
			want: Allowed,
		},
		{
			name: "attempts on other courses ignored",
			h: History{
				Payments: []payment.Payment{settled(paid.ID, t0)},
				Attempts: []course.AttemptSummary{attempt("other", later, false)},
			},
			want: Allowed,
		},
	}
	g := New(Policy{})
	for _, c := range cases {
		if d := g.Decide(me, paid, c.h); d.Verdict != c.want {
			t.Errorf("%s: got %v (%s), want %v", c.name, d.Verdict, d.Reason, c.want)
		}
	}
}

func TestAnonymousPaidDenied(t *testing.T) {
	h := History{Payments: []payment.Payment{settled(paid.ID, t0)}}
	if d := New(Policy{}).Decide(nil, paid, h); d.Verdict != DeniedPaymentRequired {
		t.Fatalf("got %v", d.Verdict)
	}
}

func TestFreeAttemptLimit(t *testing.T) {
	g := New(Policy{FreeAttemptLimit: 1})
	if d := g.Decide(me, free, History{}); !d.Allowed() {
		t.Fatalf("first attempt: %v", d.Verdict)
	}
	h := History{Attempts: []course.AttemptSummary{attempt(free.ID, t0, true)}}
	if d := g.Decide(me, free, h); d.Verdict != DeniedAlreadyAttempted {
		t.Fatalf("second attempt: %v", d.Verdict)
	}
}

func TestVerdictString(t *testing.T) {
	if DeniedPaymentRequired.String() != "DeniedPaymentRequired" || Verdict(9).String() != "Verdict(9)" {
		t.Fatal("unexpected verdict names")
	}
}
