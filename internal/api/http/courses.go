package http

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cbt/internal/auth"
	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/eventlog"
	"github.com/mind-engage/mindengage-cbt/internal/grading"
	"github.com/mind-engage/mindengage-cbt/internal/rbac"
	"github.com/mind-engage/mindengage-cbt/internal/session"
	"github.com/mind-engage/mindengage-cbt/internal/store"
)

// decide runs the entitlement gate over the caller's stored history.
// Anonymous callers have no history.
func (d *Deps) history(ctx context.Context, userID string, c course.Course) (entitlement.History, error) {
	var h entitlement.History
	var err error
	if h.Attempts, err = d.Store.ListAttempts(ctx, userID, c.ID); err != nil {
		return entitlement.History{}, err
	}
	if !c.IsFree {
		if h.Payments, err = d.Store.ListPayments(ctx, userID, c.ID); err != nil {
			return entitlement.History{}, err
		}
	}
	return h, nil
}

func (d *Deps) decide(ctx context.Context, userID string, c course.Course) (entitlement.Decision, error) {
	if userID == "" {
		return d.gate.Decide(nil, c, entitlement.History{}), nil
	}
	h, err := d.history(ctx, userID, c)
	if err != nil {
		return entitlement.Decision{}, err
	}
	return d.gate.Decide(&session.Identity{ID: userID}, c, h), nil
}

func isAdmin(ctx context.Context) bool { return rbac.RoleFromContext(ctx) == rbac.RoleAdmin }

// GET /courses
func ListCoursesHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		list, err := d.Store.ListCourses(r.Context())
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, list)
	}
}

// GET /courses/{courseID}
// Paid courses need an unspent payment; the answer key is never sent.
func GetCourseHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		c, err := d.Store.GetCourse(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if !isAdmin(r.Context()) {
			dec, err := d.decide(r.Context(), auth.SubjectFromContext(r.Context()), c.Course)
			if err != nil {
				d.writeErr(w, r, err)
				return
			}
			if !dec.Allowed() {
				writeDetail(w, nethttp.StatusForbidden, deniedDetail(dec))
				return
			}
		}
		out := course.CourseDetail{Course: c.Course, Questions: make([]course.Question, 0, len(c.Questions))}
		for _, q := range c.Questions {
			out.Questions = append(out.Questions, q.Public())
		}
		writeJSON(w, nethttp.StatusOK, out)
	}
}

func deniedDetail(dec entitlement.Decision) string {
	if dec.Verdict == entitlement.DeniedPaymentRequired {
		return "Payment required to access this course"
	}
	return "You have used all attempts for this course"
}

type attemptRequest struct {
	Answers course.Answers `json:"answers" validate:"required,min=1"`
}

// POST /courses/{courseID}/attempt {answers}
// Grades the submission, records it, and reports whether another attempt
// is allowed.
func SubmitAttemptHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx := r.Context()
		sub := auth.SubjectFromContext(ctx)
		var req attemptRequest
		if err := d.decode(r, &req); err != nil {
			d.writeErr(w, r, err)
			return
		}
		c, err := d.Store.GetCourse(ctx, chi.URLParam(r, "courseID"))
		if err != nil {
			d.writeErr(w, r, err)
			return
		}

		unlock := d.locks.Lock(sub + "/" + c.ID)
		defer unlock()

		who := &session.Identity{ID: sub}
		h, err := d.history(ctx, sub, c.Course)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if dec := d.gate.Decide(who, c.Course, h); !dec.Allowed() {
			writeDetail(w, nethttp.StatusForbidden, deniedDetail(dec))
			return
		}
		res, err := grading.Grade(c.Questions, req.Answers)
		if err != nil {
			var (
				uq *grading.UnknownQuestionError
				ov *grading.InvalidOptionError
			)
			if errors.As(err, &uq) || errors.As(err, &ov) {
				d.writeErr(w, r, errs.Validation(err.Error()))
				return
			}
			d.writeErr(w, r, err)
			return
		}
		a := store.Attempt{
			ID:          uuid.NewString(),
			UserID:      sub,
			CourseID:    c.ID,
			Answers:     req.Answers,
			Score:       res.Score,
			Correct:     res.Correct,
			Total:       res.Total,
			CompletedAt: d.now(),
		}
		// Whether another attempt is allowed once this one counts. A paid
		// attempt spends the payments cleared before it.
		h.Attempts = append(h.Attempts, course.AttemptSummary{
			ID: a.ID, CourseID: c.ID, CompletedAt: a.CompletedAt, CanRetake: c.IsFree,
		})
		a.CanRetake = d.gate.Decide(who, c.Course, h).Allowed()
		if err := d.Store.RecordAttempt(ctx, a); err != nil {
			d.writeErr(w, r, err)
			return
		}
		d.event(ctx, eventlog.AttemptSubmitted, a.ID, map[string]any{
			"user_id": sub, "course_id": c.ID, "score": res.Score,
			"correct_answers": res.Correct, "total_questions": res.Total,
		})

		writeJSON(w, nethttp.StatusOK, res.AsAttempt(a.CanRetake))
	}
}

// GET /my-attempts
func MyAttemptsHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		list, err := d.Store.ListAttempts(r.Context(), auth.SubjectFromContext(r.Context()), "")
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, list)
	}
}
