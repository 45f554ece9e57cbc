package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/session"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sess := session.New()
	c, err := New(srv.URL, sess, WithHTTPClient(srv.Client()), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	return c, sess
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("/api", session.New()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New("http://x", nil); err == nil {
		t.Fatal("expected error for nil session")
	}
}

func TestLoginStoresSessionAndAttachesBearer(t *testing.T) {
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "pw123456" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": "u1", "email": req.Email, "full_name": "Ada", "is_admin": false},
		})
	})
	mux.HandleFunc("/courses", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []course.Course{{ID: "c1", Title: "Bio", IsFree: true}})
	})
	c, sess := newTestClient(t, mux)
	ctx := context.Background()

	if _, err := c.ListCourses(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := c.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "wrong"})
	if !errors.Is(err, errs.ErrAuthFailure) || errs.Message(err) != "Invalid credentials" {
		t.Fatalf("bad login err = %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("failed login must not authenticate")
	}
	id, err := c.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "pw123456"})
	if err != nil || id.ID != "u1" || !sess.Authenticated() {
		t.Fatalf("login: %+v %v", id, err)
	}
	if _, err := c.ListCourses(ctx); err != nil {
		t.Fatal(err)
	}
	c.Logout()
	if _, err := c.ListCourses(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"", "Bearer tok-1", ""}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Fatalf("authorization headers = %q", seen)
	}
}

func TestRegisterConflictIsAuthFailureWithDetail(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already registered"})
	}))
	_, err := c.Register(context.Background(), RegisterRequest{Email: "a@b.co", Password: "secret1", FullName: "A B", Phone: "08012345678"})
	if !errors.Is(err, errs.ErrAuthFailure) || errs.Message(err) != "Email already registered" {
		t.Fatalf("err = %v", err)
	}
}

func TestRegisterValidatesLocally(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	_, err := c.Register(context.Background(), RegisterRequest{Email: "not-an-email", Password: "secret1", FullName: "A", Phone: "08012345678"})
	if !errors.Is(err, errs.ErrValidation) || calls != 0 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestCourseDetailStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, errs.ErrAccessDenied},
		{http.StatusNotFound, errs.ErrNotFound},
		{http.StatusUnauthorized, errs.ErrAuthFailure},
		{http.StatusUnprocessableEntity, errs.ErrValidation},
		{http.StatusInternalServerError, errs.ErrTransientNetwork},
		{http.StatusTooManyRequests, errs.ErrTransientNetwork},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, map[string]string{"detail": "nope"})
		}))
		_, err := c.GetCourseDetail(context.Background(), "c1")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v", tc.status, err)
		}
	}
}

func TestStructuredDetailPassedThrough(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"msg": "field required"}}})
	}))
	_, err := c.ListCourses(context.Background())
	if !strings.Contains(errs.Message(err), "field required") {
		t.Fatalf("err = %v", err)
	}
}

func TestUnreachableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(url, session.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListCourses(context.Background()); !errors.Is(err, errs.ErrTransientNetwork) {
		t.Fatalf("err = %v", err)
	}
}

func TestCourseDetailOrdersQuestions(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/courses/c%201" {
			t.Errorf("path = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "c 1", "title": "T", "is_free": true, "price": 0,
			"questions": []map[string]any{
				{"id": "b", "question_text": "2", "options": []string{"x", "y"}, "position": 1},
				{"id": "a", "question_text": "1", "options": []string{"x", "y"}, "position": 0},
			},
		})
	}))
	d, err := c.GetCourseDetail(context.Background(), "c 1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Questions[0].ID != "a" || d.TotalQuestions != 2 {
		t.Fatalf("detail = %+v", d)
	}
}

func TestSubmitAttemptRejectsEmptyLocally(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	if _, err := c.SubmitAttempt(context.Background(), "c1", course.Answers{}); !errors.Is(err, errs.ErrValidation) || calls != 0 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPaymentRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/payments/initialize", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": true, "message": "Payment initialized",
			"data": map[string]any{"reference": "CBT_abc", "amount": 2000, "authorization_url": "https://pay.example/abc"},
		})
	})
	mux.HandleFunc("/payments/verify/CBT_abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": map[string]any{"reference": "CBT_abc", "status": "completed"}})
	})
	c, _ := newTestClient(t, mux)

	p, err := c.InitializePayment(context.Background(), "paid-1")
	if err != nil || p.Reference != "CBT_abc" || p.CourseID != "paid-1" || p.Status != payment.StatusPending {
		t.Fatalf("init: %+v %v", p, err)
	}
	v, err := c.VerifyPayment(context.Background(), p.Reference)
	if err != nil || !v.Settled() {
		t.Fatalf("verify: %+v %v", v, err)
	}
}

func TestInitializeFalseStatusIsPaymentFailed(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": false, "message": "gateway down"})
	}))
	_, err := c.InitializePayment(context.Background(), "paid-1")
	if !errors.Is(err, errs.ErrPaymentFailed) || errs.Message(err) != "gateway down" {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadCourseMultipart(t *testing.T) {
	c, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse: %v", err)
		}
		if r.FormValue("title") != "Physics" || r.FormValue("is_free") != "false" || r.FormValue("price") != "1500" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("pdf_file")
		if err != nil {
			t.Errorf("file: %v", err)
		} else {
			body, _ := io.ReadAll(f)
			if hdr.Filename != "bank.txt" || string(body) != "1. Q?\nA. x\nB. y\n" {
				t.Errorf("file %q = %q", hdr.Filename, body)
			}
		}
		if r.Header.Get("Authorization") != "Bearer admin-tok" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusOK, course.UploadResult{Message: "ok", CourseID: "c9", QuestionsExtracted: 1})
	}))
	_ = sess.Login(session.Identity{ID: "admin", IsAdmin: true}, "admin-tok")

	res, err := c.UploadCourse(context.Background(), UploadCourseRequest{
		Title: "Physics", Description: "Mechanics", Price: 1500,
		FileName: "bank.txt", File: strings.NewReader("1. Q?\nA. x\nB. y\n"),
	})
	if err != nil || res.CourseID != "c9" || res.QuestionsExtracted != 1 {
		t.Fatalf("upload: %+v %v", res, err)
	}
}

func TestUploadPaidCourseNeedsPrice(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.UploadCourse(context.Background(), UploadCourseRequest{
		Title: "P", Description: "D", FileName: "f.txt", File: strings.NewReader("x"),
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}
