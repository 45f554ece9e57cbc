package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cbt/internal/auth"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/eventlog"
	"github.com/mind-engage/mindengage-cbt/internal/gateway"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/store"
	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

type initializeRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

type initializeData struct {
	Reference        string  `json:"reference"`
	CourseID         string  `json:"course_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	AuthorizationURL string  `json:"authorization_url"`
	AccessCode       string  `json:"access_code"`
}

func newReference() string {
	return "CBT_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// POST /payments/initialize {course_id}
// Opens a checkout with the provider first; the pending record is stored
// only once the provider accepted it.
func InitializePaymentHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx := r.Context()
		sub := auth.SubjectFromContext(ctx)
		var req initializeRequest
		if err := d.decode(r, &req); err != nil {
			d.writeErr(w, r, err)
			return
		}
		c, err := d.Store.GetCourse(ctx, req.CourseID)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if c.IsFree {
			writeDetail(w, nethttp.StatusBadRequest, "This course is free")
			return
		}
		dec, err := d.decide(ctx, sub, c.Course)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if dec.Allowed() {
			writeDetail(w, nethttp.StatusBadRequest, "You already have access to this course")
			return
		}
		u, err := d.Store.UserByID(ctx, sub)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}

		ref := newReference()
		gctx, cancel := context.WithTimeout(ctx, timeouts.Gateway)
		defer cancel()
		sess, err := d.Gateway.Initialize(gctx, gateway.Checkout{
			Reference:   ref,
			Email:       u.Email,
			Amount:      c.Price,
			Currency:    d.Config.PaymentCurrency,
			CallbackURL: d.Config.PaymentCallback,
			Description: c.Title,
		})
		if err != nil {
			d.Logger.Printf("initialize %s with %s: %v", ref, d.Gateway.Name(), err)
			d.writeErr(w, r, err)
			return
		}
		rec := store.PaymentRecord{
			Payment: payment.Payment{
				Reference:        ref,
				CourseID:         c.ID,
				Amount:           c.Price,
				Currency:         d.Config.PaymentCurrency,
				Status:           payment.StatusPending,
				AuthorizationURL: sess.AuthorizationURL,
				AccessCode:       sess.AccessCode,
				CreatedAt:        d.now(),
			},
			UserID:  sub,
			Gateway: d.Gateway.Name(),
		}
		if err := d.Store.CreatePayment(ctx, rec); err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"status":  true,
			"message": "Payment initialized",
			"data": initializeData{
				Reference:        ref,
				CourseID:         c.ID,
				Amount:           c.Price,
				Currency:         rec.Currency,
				AuthorizationURL: sess.AuthorizationURL,
				AccessCode:       sess.AccessCode,
			},
		})
	}
}

// settle records a terminal provider status and logs the event once.
func (d *Deps) settle(ctx context.Context, rec store.PaymentRecord, st payment.Status) (store.PaymentRecord, error) {
	out, err := d.Store.SettlePayment(ctx, rec.Reference, st, d.now())
	if err != nil {
		return store.PaymentRecord{}, err
	}
	if rec.Status == payment.StatusPending && out.Status.Terminal() {
		typ := eventlog.PaymentVerified
		if out.Status != payment.StatusSuccess {
			typ = eventlog.PaymentFailed
		}
		d.event(ctx, typ, out.Reference, map[string]any{
			"user_id": out.UserID, "course_id": out.CourseID, "amount": out.Amount, "gateway": out.Gateway,
		})
	}
	return out, nil
}

func verifyMessage(st payment.Status) string {
	switch st {
	case payment.StatusSuccess:
		return "Payment verified successfully"
	case payment.StatusPending:
		return "Payment is still pending"
	default:
		return "Payment was not successful"
	}
}

// POST /payments/verify/{reference}
// Idempotent: a settled payment is reported as stored without asking the
// provider again.
func VerifyPaymentHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx := r.Context()
		rec, err := d.Store.GetPayment(ctx, chi.URLParam(r, "reference"))
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if rec.UserID != auth.SubjectFromContext(ctx) && !isAdmin(ctx) {
			d.writeErr(w, r, store.ErrNotFound)
			return
		}
		if !rec.Status.Terminal() {
			gctx, cancel := context.WithTimeout(ctx, timeouts.Gateway)
			st, err := d.Gateway.Status(gctx, rec.Reference)
			cancel()
			if err != nil {
				d.Logger.Printf("verify %s with %s: %v", rec.Reference, rec.Gateway, err)
				d.writeErr(w, r, err)
				return
			}
			if st.Terminal() {
				if rec, err = d.settle(ctx, rec, st); err != nil {
					d.writeErr(w, r, err)
					return
				}
			}
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"status":  rec.Status,
			"message": verifyMessage(rec.Status),
			"data": map[string]any{
				"reference":   rec.Reference,
				"status":      rec.Status,
				"verified_at": rec.VerifiedAt,
			},
		})
	}
}

// GET /payments/status/{courseID}
func PaymentStatusHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx := r.Context()
		sub := auth.SubjectFromContext(ctx)
		c, err := d.Store.GetCourse(ctx, chi.URLParam(r, "courseID"))
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		pays, err := d.Store.ListPayments(ctx, sub, c.ID)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		dec, err := d.decide(ctx, sub, c.Course)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		st := payment.AccessStatus{
			CourseID:      c.ID,
			HasAccess:     dec.Allowed(),
			PaymentStatus: "none",
			Payments:      pays,
		}
		if c.IsFree {
			st.PaymentStatus = "free"
		} else if len(pays) > 0 {
			st.PaymentStatus = string(pays[0].Status) // newest first
		}
		writeJSON(w, nethttp.StatusOK, st)
	}
}

// POST /payments/webhook
// Provider notification; authenticated by the provider's signature, not
// by a bearer token.
func WebhookHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, err := io.ReadAll(nethttp.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeDetail(w, nethttp.StatusBadRequest, "unreadable body")
			return
		}
		ev, err := d.Gateway.ParseWebhook(r.Header, body)
		switch {
		case errors.Is(err, gateway.ErrIgnored):
			writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ignored"})
			return
		case errs.CodeOf(err) == errs.CodeAuthFailure:
			writeDetail(w, nethttp.StatusUnauthorized, errs.Message(err))
			return
		case err != nil:
			writeDetail(w, nethttp.StatusBadRequest, err.Error())
			return
		}
		rec, err := d.Store.GetPayment(r.Context(), ev.Reference)
		if errors.Is(err, store.ErrNotFound) {
			d.Logger.Printf("webhook for unknown payment %s", ev.Reference)
			writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if _, err := d.settle(r.Context(), rec, ev.Status); err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"})
	}
}
