package http

import (
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-cbt/internal/auth"
	"github.com/mind-engage/mindengage-cbt/internal/rbac"
)

// Mount registers the contract endpoints on r.
func Mount(r chi.Router, d *Deps) {
	d.init()

	r.Get("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			writeDetail(w, nethttp.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok", "gateway": d.Gateway.Name()})
	})

	r.Post("/auth/login", LoginHandler(d))
	r.Post("/auth/register", RegisterHandler(d))
	r.Post("/payments/webhook", WebhookHandler(d))

	// The catalog list is public; a token, if sent, must be valid.
	r.With(auth.OptionalJWT(d.Auth)).Get("/courses", ListCoursesHandler(d))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		pr.With(rbac.Require("course:view")).
			Get("/courses/{courseID}", GetCourseHandler(d))

		pr.With(rbac.Require("attempt:submit")).
			Post("/courses/{courseID}/attempt", SubmitAttemptHandler(d))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/my-attempts", MyAttemptsHandler(d))

		pr.With(rbac.Require("payment:initialize")).
			Post("/payments/initialize", InitializePaymentHandler(d))
		pr.With(rbac.Require("payment:verify")).
			Post("/payments/verify/{reference}", VerifyPaymentHandler(d))
		pr.With(rbac.Require("payment:view-own")).
			Get("/payments/status/{courseID}", PaymentStatusHandler(d))

		pr.Route("/admin", func(ar chi.Router) {
			ar.With(rbac.Require("admin:courses")).Post("/courses/upload", UploadCourseHandler(d))
			ar.With(rbac.Require("admin:courses")).Get("/courses", AdminCoursesHandler(d))
			ar.With(rbac.Require("admin:courses")).Get("/courses/{courseID}/details", AdminCourseDetailsHandler(d))
			ar.With(rbac.Require("admin:courses")).Get("/courses/{courseID}/source", CourseSourceHandler(d))
			ar.With(rbac.Require("admin:courses")).Put("/courses/{courseID}/questions/{questionID}", UpdateQuestionHandler(d))
			ar.With(rbac.Require("admin:courses")).Delete("/courses/{courseID}", DeleteCourseHandler(d))
			ar.With(rbac.RequireAny("admin:events", "admin:courses")).Get("/events", EventsHandler(d))
		})
	})
}
