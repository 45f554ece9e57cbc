// Package entitlement decides whether an identity may start or retake a
// course. Decide is a pure function over already fetched data.
package entitlement

import (
	"fmt"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/session"
)

type Verdict int

const (
	Allowed Verdict = iota
	DeniedPaymentRequired
	DeniedAlreadyAttempted
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "Allowed"
	case DeniedPaymentRequired:
		return "DeniedPaymentRequired"
	case DeniedAlreadyAttempted:
		return "DeniedAlreadyAttempted"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

type Decision struct {
	Verdict Verdict
	Reason  string
}

func (d Decision) Allowed() bool { return d.Verdict == Allowed }

// Policy holds product knobs. FreeAttemptLimit caps attempts on free
// courses; zero means unlimited.
type Policy struct {
	FreeAttemptLimit int
}

// History is what the caller knows about its own purchases and attempts.
// Entries for other courses are ignored.
type History struct {
	Payments []payment.Payment
	Attempts []course.AttemptSummary
}

type Gate struct {
	Policy Policy
}

func New(p Policy) Gate { return Gate{Policy: p} }

// Decide applies the entitlement rules to (who, c, h).
func (g Gate) Decide(who *session.Identity, c course.Course, h History) Decision {
	attempts := h.attemptsFor(c.ID)
	if c.IsFree {
		if lim := g.Policy.FreeAttemptLimit; lim > 0 && len(attempts) >= lim {
			return Decision{DeniedAlreadyAttempted, fmt.Sprintf("this free course allows %d attempt(s)", lim)}
		}
		return Decision{Allowed, "free course"}
	}
	if who == nil {
		return Decision{DeniedPaymentRequired, "sign in and purchase this course to start"}
	}
	paid := h.settledFor(c.ID)
	if len(paid) == 0 {
		return Decision{DeniedPaymentRequired, "payment required to access this course"}
	}
	last := latest(attempts)
	if last == nil || last.CanRetake {
		return Decision{Allowed, "paid"}
	}
	for _, p := range paid {
		if p.VerifiedAt != nil && p.VerifiedAt.After(last.CompletedAt) {
			return Decision{Allowed, "new payment cleared since last attempt"}
		}
	}
	return Decision{DeniedPaymentRequired, "you have already attempted this course; payment required for retake"}
}

func (h History) attemptsFor(courseID string) []course.AttemptSummary {
	var out []course.AttemptSummary
	for _, a := range h.Attempts {
		if a.CourseID == courseID {
			out = append(out, a)
		}
	}
	return out
}

func (h History) settledFor(courseID string) []payment.Payment {
	var out []payment.Payment
	for _, p := range h.Payments {
		if p.CourseID == courseID && p.Settled() {
			out = append(out, p)
		}
	}
	return out
}

func latest(as []course.AttemptSummary) *course.AttemptSummary {
	var best *course.AttemptSummary
	for i := range as {
		if best == nil || as[i].CompletedAt.After(best.CompletedAt) {
			best = &as[i]
		}
	}
	return best
}
