package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUnique recognizes unique-constraint violations from sqlite and postgres.
func isUnique(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

// ---- users ----

func (s *SQLStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id,email,password_hash,full_name,phone,is_admin,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.FullName, u.Phone, boolInt(u.IsAdmin), ms(u.CreatedAt))
	if isUnique(err) {
		return ErrConflict
	}
	return err
}

const userCols = `id,email,password_hash,full_name,phone,is_admin,created_at`

func scanUser(row *sql.Row) (User, error) {
	var (
		u       User
		isAdmin int
		created int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &isAdmin, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.IsAdmin = isAdmin != 0
	u.CreatedAt = fromMS(created)
	return u, nil
}

func (s *SQLStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=$1`, strings.ToLower(email)))
}

func (s *SQLStore) UserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

// ---- courses ----

func (s *SQLStore) CreateCourse(ctx context.Context, c course.AdminCourse, createdBy string) error {
	qj, err := json.Marshal(c.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO courses (id,title,description,is_free,price,questions_json,source_key,created_by,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.Title, c.Description, boolInt(c.IsFree), c.Price, string(qj), c.SourceKey, createdBy, ms(c.CreatedAt))
	if isUnique(err) {
		return ErrConflict
	}
	return err
}

const courseCols = `id,title,description,is_free,price,questions_json,source_key,created_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanCourse(r rowScanner) (course.AdminCourse, error) {
	var (
		c       course.AdminCourse
		isFree  int
		qjson   string
		created int64
	)
	if err := r.Scan(&c.ID, &c.Title, &c.Description, &isFree, &c.Price, &qjson, &c.SourceKey, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.AdminCourse{}, ErrNotFound
		}
		return course.AdminCourse{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &c.Questions); err != nil {
		return course.AdminCourse{}, fmt.Errorf("course %s questions: %w", c.ID, err)
	}
	c.IsFree = isFree != 0
	c.CreatedAt = fromMS(created)
	c.TotalQuestions = len(c.Questions)
	return c, nil
}

func (s *SQLStore) GetCourse(ctx context.Context, id string) (course.AdminCourse, error) {
	return scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseCols+` FROM courses WHERE id=$1`, id))
}

func (s *SQLStore) ListAdminCourses(ctx context.Context) ([]course.AdminCourse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+courseCols+` FROM courses ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []course.AdminCourse{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCourses is the catalog view: no questions.
func (s *SQLStore) ListCourses(ctx context.Context) ([]course.Course, error) {
	all, err := s.ListAdminCourses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]course.Course, 0, len(all))
	for _, c := range all {
		out = append(out, c.Course)
	}
	return out, nil
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, courseID string, q course.KeyedQuestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var qjson string
	if err := tx.QueryRowContext(ctx, `SELECT questions_json FROM courses WHERE id=$1`, courseID).Scan(&qjson); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var qs []course.KeyedQuestion
	if err := json.Unmarshal([]byte(qjson), &qs); err != nil {
		return err
	}
	found := false
	for i := range qs {
		if qs[i].ID == q.ID {
			q.Position = qs[i].Position
			qs[i] = q
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	buf, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE courses SET questions_json=$1 WHERE id=$2`, string(buf), courseID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) CourseStats(ctx context.Context, id string) (course.CourseStats, error) {
	c, err := s.GetCourse(ctx, id)
	if err != nil {
		return course.CourseStats{}, err
	}
	st := course.CourseStats{QuestionsCount: len(c.Questions), CreatedAt: c.CreatedAt}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE course_id=$1`, id).Scan(&st.TotalAttempts); err != nil {
		return course.CourseStats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE course_id=$1`, id).Scan(&st.TotalPayments); err != nil {
		return course.CourseStats{}, err
	}
	return st, nil
}

// DeleteCourse removes the course with its attempts and payments and
// reports what went.
func (s *SQLStore) DeleteCourse(ctx context.Context, id string) (course.DeleteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return course.DeleteResult{}, err
	}
	defer tx.Rollback()

	var res course.DeleteResult
	if err := tx.QueryRowContext(ctx, `SELECT title FROM courses WHERE id=$1`, id).Scan(&res.CourseTitle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.DeleteResult{}, ErrNotFound
		}
		return course.DeleteResult{}, err
	}
	r, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE course_id=$1`, id)
	if err != nil {
		return course.DeleteResult{}, err
	}
	res.AttemptsDeleted, _ = r.RowsAffected()
	if r, err = tx.ExecContext(ctx, `DELETE FROM payments WHERE course_id=$1`, id); err != nil {
		return course.DeleteResult{}, err
	}
	res.PaymentsDeleted, _ = r.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id=$1`, id); err != nil {
		return course.DeleteResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return course.DeleteResult{}, err
	}
	res.Message = fmt.Sprintf("Course %q deleted", res.CourseTitle)
	return res, nil
}

// ---- attempts ----

func (s *SQLStore) RecordAttempt(ctx context.Context, a Attempt) error {
	aj, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id,user_id,course_id,answers_json,score,correct_answers,total_questions,can_retake,completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.UserID, a.CourseID, string(aj), a.Score, a.Correct, a.Total, boolInt(a.CanRetake), ms(a.CompletedAt))
	return err
}

func (s *SQLStore) ListAttempts(ctx context.Context, userID, courseID string) ([]course.AttemptSummary, error) {
	q := `SELECT a.id, a.course_id, c.title, a.can_retake, a.score, a.correct_answers, a.total_questions, a.completed_at
	      FROM attempts a JOIN courses c ON c.id = a.course_id
	      WHERE a.user_id=$1`
	args := []any{userID}
	if courseID != "" {
		q += ` AND a.course_id=$2`
		args = append(args, courseID)
	}
	q += ` ORDER BY a.completed_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []course.AttemptSummary{}
	for rows.Next() {
		var (
			a     course.AttemptSummary
			retry int
			done  int64
		)
		if err := rows.Scan(&a.ID, &a.CourseID, &a.CourseTitle, &retry, &a.Score, &a.CorrectAnswers, &a.TotalQuestions, &done); err != nil {
			return nil, err
		}
		a.CompletedAt = fromMS(done)
		a.CanRetake = retry != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- payments ----

func (s *SQLStore) CreatePayment(ctx context.Context, p PaymentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (reference,user_id,course_id,amount,currency,status,gateway,authorization_url,access_code,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.Reference, p.UserID, p.CourseID, p.Amount, p.Currency, string(p.Status), p.Gateway,
		p.AuthorizationURL, p.AccessCode, ms(p.CreatedAt))
	if isUnique(err) {
		return ErrConflict
	}
	return err
}

const paymentCols = `reference,user_id,course_id,amount,currency,status,gateway,authorization_url,access_code,created_at,verified_at`

func scanPayment(r rowScanner) (PaymentRecord, error) {
	var (
		p        PaymentRecord
		status   string
		created  int64
		verified sql.NullInt64
	)
	if err := r.Scan(&p.Reference, &p.UserID, &p.CourseID, &p.Amount, &p.Currency, &status, &p.Gateway,
		&p.AuthorizationURL, &p.AccessCode, &created, &verified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PaymentRecord{}, ErrNotFound
		}
		return PaymentRecord{}, err
	}
	p.Status = payment.Status(status)
	p.CreatedAt = fromMS(created)
	if verified.Valid {
		t := fromMS(verified.Int64)
		p.VerifiedAt = &t
	}
	p.Verified = p.Status == payment.StatusSuccess && p.VerifiedAt != nil
	return p, nil
}

func (s *SQLStore) GetPayment(ctx context.Context, reference string) (PaymentRecord, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE reference=$1`, reference))
}

func (s *SQLStore) SettlePayment(ctx context.Context, reference string, status payment.Status, at time.Time) (PaymentRecord, error) {
	if !status.Terminal() {
		return PaymentRecord{}, fmt.Errorf("settle %s: status %q is not terminal", reference, status)
	}
	var verified any
	if status == payment.StatusSuccess {
		verified = ms(at)
	}
	// Only pending rows move; a second settle is a no-op.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status=$1, verified_at=$2 WHERE reference=$3 AND status=$4`,
		string(status), verified, reference, string(payment.StatusPending)); err != nil {
		return PaymentRecord{}, err
	}
	return s.GetPayment(ctx, reference)
}

func (s *SQLStore) ListPayments(ctx context.Context, userID, courseID string) ([]payment.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE user_id=$1`
	args := []any{userID}
	if courseID != "" {
		q += ` AND course_id=$2`
		args = append(args, courseID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []payment.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Payment)
	}
	return out, rows.Err()
}
