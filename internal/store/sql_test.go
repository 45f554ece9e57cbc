package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/db"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

var seq atomic.Int64

func newStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", seq.Add(1)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSQLStore(conn)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedCourse(t *testing.T, s *SQLStore, id string, free bool) course.AdminCourse {
	t.Helper()
	c := course.AdminCourse{
		Course: course.Course{ID: id, Title: "Course " + id, Description: "d", IsFree: free, CreatedAt: t0},
		Questions: []course.KeyedQuestion{
			{Question: course.Question{ID: id + "-q1", Text: "2+2?", Options: []string{"3", "4"}, Position: 0}, CorrectAnswer: 1},
			{Question: course.Question{ID: id + "-q2", Text: "3+3?", Options: []string{"6", "7"}, Position: 1}, CorrectAnswer: 0},
		},
	}
	if !free {
		c.Price = 1500
	}
	if err := s.CreateCourse(context.Background(), c, "admin"); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestUsers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := User{ID: "u1", Email: "Ada@Example.com", PasswordHash: "h", FullName: "Ada", CreatedAt: t0}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, User{ID: "u2", Email: "ada@example.com", PasswordHash: "h", CreatedAt: t0}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: %v", err)
	}
	got, err := s.UserByEmail(ctx, "ADA@example.com")
	if err != nil || got.ID != "u1" || got.Email != "ada@example.com" || !got.CreatedAt.Equal(t0) {
		t.Fatalf("by email = %+v, %v", got, err)
	}
	if _, err := s.UserByID(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}
}

func TestCourseQuestionsKeepKeyAndPosition(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedCourse(t, s, "c1", false)

	c, err := s.GetCourse(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.TotalQuestions != 2 || c.Questions[0].CorrectAnswer != 1 || c.IsFree || c.Price != 1500 {
		t.Fatalf("course = %+v", c)
	}

	upd := course.KeyedQuestion{
		Question:      course.Question{ID: "c1-q2", Text: "3*3?", Options: []string{"6", "9", "12"}, Position: 7},
		CorrectAnswer: 1,
	}
	if err := s.UpdateQuestion(ctx, "c1", upd); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCourse(ctx, "c1")
	q := c.Questions[1]
	if q.Text != "3*3?" || len(q.Options) != 3 || q.CorrectAnswer != 1 || q.Position != 1 {
		t.Fatalf("updated question = %+v", q)
	}
	if err := s.UpdateQuestion(ctx, "c1", course.KeyedQuestion{Question: course.Question{ID: "nope"}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown question: %v", err)
	}
	if err := s.UpdateQuestion(ctx, "missing", upd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown course: %v", err)
	}

	list, err := s.ListCourses(ctx)
	if err != nil || len(list) != 1 || list[0].TotalQuestions != 2 {
		t.Fatalf("list = %+v, %v", list, err)
	}
}

func TestAttemptsCarryRetakeFlag(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedCourse(t, s, "free", true)
	seedCourse(t, s, "paid", false)

	// The last free attempt was graded at the attempt cap.
	for i, a := range []struct {
		cid   string
		retry bool
	}{{"free", true}, {"paid", false}, {"free", false}} {
		err := s.RecordAttempt(ctx, Attempt{
			ID: fmt.Sprintf("a%d", i), UserID: "u1", CourseID: a.cid,
			Answers: course.Answers{a.cid + "-q1": 1}, Score: 50, Correct: 1, Total: 2,
			CanRetake: a.retry, CompletedAt: t0.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListAttempts(ctx, "u1", "")
	if err != nil || len(all) != 3 {
		t.Fatalf("attempts = %+v, %v", all, err)
	}
	if all[0].CourseID != "free" || all[0].CanRetake {
		t.Fatalf("newest = %+v", all[0])
	}
	if all[1].CourseID != "paid" || all[1].CanRetake || all[1].CourseTitle != "Course paid" {
		t.Fatalf("middle = %+v", all[1])
	}
	if all[2].CourseID != "free" || !all[2].CanRetake {
		t.Fatalf("oldest = %+v", all[2])
	}

	only, err := s.ListAttempts(ctx, "u1", "free")
	if err != nil || len(only) != 2 {
		t.Fatalf("filtered = %+v, %v", only, err)
	}
	none, err := s.ListAttempts(ctx, "u2", "")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("other user = %#v, %v", none, err)
	}
}

func TestSettlePaymentOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedCourse(t, s, "paid", false)

	p := PaymentRecord{
		Payment: payment.Payment{Reference: "CBT_1", CourseID: "paid", Amount: 1500, Currency: "NGN", Status: payment.StatusPending, CreatedAt: t0},
		UserID:  "u1",
		Gateway: "sandbox",
	}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePayment(ctx, p); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate reference: %v", err)
	}
	if _, err := s.SettlePayment(ctx, "CBT_1", payment.StatusPending, t0); err == nil {
		t.Fatal("settling to pending should fail")
	}

	at := t0.Add(time.Minute)
	got, err := s.SettlePayment(ctx, "CBT_1", payment.StatusSuccess, at)
	if err != nil || !got.Settled() || got.VerifiedAt == nil || !got.VerifiedAt.Equal(at) {
		t.Fatalf("settled = %+v, %v", got, err)
	}
	again, err := s.SettlePayment(ctx, "CBT_1", payment.StatusFailed, at.Add(time.Hour))
	if err != nil || again.Status != payment.StatusSuccess || !again.VerifiedAt.Equal(at) {
		t.Fatalf("second settle = %+v, %v", again, err)
	}
	if _, err := s.SettlePayment(ctx, "CBT_404", payment.StatusSuccess, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown reference: %v", err)
	}

	ps, err := s.ListPayments(ctx, "u1", "paid")
	if err != nil || len(ps) != 1 || !ps[0].Settled() {
		t.Fatalf("payments = %+v, %v", ps, err)
	}
}

func TestDeleteCourseCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedCourse(t, s, "paid", false)
	_ = s.CreatePayment(ctx, PaymentRecord{
		Payment: payment.Payment{Reference: "CBT_2", CourseID: "paid", Amount: 1500, Status: payment.StatusPending, CreatedAt: t0},
		UserID:  "u1",
	})
	_ = s.RecordAttempt(ctx, Attempt{ID: "a1", UserID: "u1", CourseID: "paid", Answers: course.Answers{}, Total: 2, CompletedAt: t0})

	st, err := s.CourseStats(ctx, "paid")
	if err != nil || st.TotalAttempts != 1 || st.TotalPayments != 1 || st.QuestionsCount != 2 {
		t.Fatalf("stats = %+v, %v", st, err)
	}
	res, err := s.DeleteCourse(ctx, "paid")
	if err != nil || res.AttemptsDeleted != 1 || res.PaymentsDeleted != 1 || res.CourseTitle != "Course paid" {
		t.Fatalf("delete = %+v, %v", res, err)
	}
	if _, err := s.GetCourse(ctx, "paid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
	if _, err := s.DeleteCourse(ctx, "paid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}
