package course

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

type Course struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	IsFree         bool      `json:"is_free"`
	Price          float64   `json:"price"`
	TotalQuestions int       `json:"total_questions"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// Validate checks the pricing invariant: price is 0 iff the course is free.
func (c Course) Validate() error {
	if c.Price < 0 {
		return errors.New("price must not be negative")
	}
	if c.IsFree && c.Price != 0 {
		return errors.New("free course must have price 0")
	}
	if !c.IsFree && c.Price == 0 {
		return errors.New("paid course must have a price")
	}
	return nil
}

// Question is the learner view: no answer key.
type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"question_text"`
	Options  []string `json:"options"`
	Position int      `json:"position"`
}

// ValidOption reports whether idx addresses one of q's options.
func (q Question) ValidOption(idx int) bool {
	return idx >= 0 && idx < len(q.Options)
}

type CourseDetail struct {
	Course
	Questions []Question `json:"questions"`
}

// Normalize orders questions by position and checks that positions are the
// contiguous range 0..n-1 and every question has at least two options.
func (d *CourseDetail) Normalize() error {
	sort.SliceStable(d.Questions, func(i, j int) bool {
		return d.Questions[i].Position < d.Questions[j].Position
	})
	seen := make(map[string]struct{}, len(d.Questions))
	for i, q := range d.Questions {
		if q.Position != i {
			return fmt.Errorf("question %s: position %d, want %d", q.ID, q.Position, i)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %s: needs at least 2 options", q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	if d.TotalQuestions == 0 {
		d.TotalQuestions = len(d.Questions)
	}
	return nil
}

// Answers maps question id to the chosen option index.
type Answers map[string]int

func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AttemptResult is the server's grading of one submission.
type AttemptResult struct {
	Score          float64 `json:"score"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalQuestions int     `json:"total_questions"`
	CanRetake      bool    `json:"can_retake"`
	Percentage     string  `json:"percentage,omitempty"`
}

// Consistent reports whether Score matches correct/total within rounding.
func (r AttemptResult) Consistent() bool {
	return math.Abs(Score(r.CorrectAnswers, r.TotalQuestions)-r.Score) < 1e-6
}

type AttemptSummary struct {
	ID             string    `json:"id"`
	CourseID       string    `json:"course_id"`
	CourseTitle    string    `json:"course_title"`
	Score          float64   `json:"score"`
	CorrectAnswers int       `json:"correct_answers"`
	TotalQuestions int       `json:"total_questions"`
	CompletedAt    time.Time `json:"completed_at"`
	CanRetake      bool      `json:"can_retake"`
}

// Score is the percentage of correct answers; 0 when there are no questions.
func Score(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}

// KeyedQuestion carries the answer key; only administrators and the grader
// see it.
type KeyedQuestion struct {
	Question
	CorrectAnswer int `json:"correct_answer"`
}

// Public strips the answer key.
func (q KeyedQuestion) Public() Question { return q.Question }

type AdminCourse struct {
	Course
	Questions []KeyedQuestion `json:"questions"`
	SourceKey string          `json:"source_key,omitempty"`
}

type CourseStats struct {
	TotalAttempts  int       `json:"total_attempts"`
	TotalPayments  int       `json:"total_payments"`
	QuestionsCount int       `json:"questions_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type AdminCourseDetails struct {
	Course     AdminCourse `json:"course"`
	Statistics CourseStats `json:"statistics"`
}

type DeleteResult struct {
	Message         string `json:"message"`
	CourseTitle     string `json:"course_title"`
	AttemptsDeleted int64  `json:"attempts_deleted"`
	PaymentsDeleted int64  `json:"payments_deleted"`
}

type UploadResult struct {
	Message            string `json:"message"`
	CourseID           string `json:"course_id"`
	QuestionsExtracted int    `json:"questions_extracted"`
}
