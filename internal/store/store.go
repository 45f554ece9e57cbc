// Package store persists users, courses, attempts and payments for the CBT
// server over database/sql. Queries use $n placeholders, which both the
// sqlite and pgx drivers accept.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	Phone        string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Attempt is one graded submission.
type Attempt struct {
	ID          string
	UserID      string
	CourseID    string
	Answers     course.Answers
	Score       float64
	Correct     int
	Total       int
	// CanRetake is the entitlement decided when the attempt was graded.
	CanRetake   bool
	CompletedAt time.Time
}

// PaymentRecord is a payment with the server-only columns.
type PaymentRecord struct {
	payment.Payment
	UserID  string
	Gateway string
}

type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)

	CreateCourse(ctx context.Context, c course.AdminCourse, createdBy string) error
	ListCourses(ctx context.Context) ([]course.Course, error)
	// GetCourse returns the course with its answer key.
	GetCourse(ctx context.Context, id string) (course.AdminCourse, error)
	ListAdminCourses(ctx context.Context) ([]course.AdminCourse, error)
	UpdateQuestion(ctx context.Context, courseID string, q course.KeyedQuestion) error
	CourseStats(ctx context.Context, id string) (course.CourseStats, error)
	DeleteCourse(ctx context.Context, id string) (course.DeleteResult, error)

	RecordAttempt(ctx context.Context, a Attempt) error
	// ListAttempts returns userID's attempts, newest first; courseID filters
	// when non-empty.
	ListAttempts(ctx context.Context, userID, courseID string) ([]course.AttemptSummary, error)

	CreatePayment(ctx context.Context, p PaymentRecord) error
	GetPayment(ctx context.Context, reference string) (PaymentRecord, error)
	// SettlePayment moves a pending payment to a terminal status. It
	// returns the stored record unchanged when already terminal.
	SettlePayment(ctx context.Context, reference string, status payment.Status, at time.Time) (PaymentRecord, error)
	ListPayments(ctx context.Context, userID, courseID string) ([]payment.Payment, error)
}
