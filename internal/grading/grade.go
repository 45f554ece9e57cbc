// Package grading scores single-choice submissions against a course's
// answer key.
package grading

import (
	"fmt"

	"github.com/mind-engage/mindengage-cbt/internal/course"
)

// Result is the outcome of grading one submission.
type Result struct {
	Correct    int
	Total      int
	Score      float64
	Unanswered int
}

// AsAttempt renders r the way the attempt endpoint reports it.
func (r Result) AsAttempt(canRetake bool) course.AttemptResult {
	return course.AttemptResult{
		Score:          r.Score,
		CorrectAnswers: r.Correct,
		TotalQuestions: r.Total,
		CanRetake:      canRetake,
		Percentage:     fmt.Sprintf("%.1f%%", r.Score),
	}
}

// UnknownQuestionError reports an answer for a question the course lacks.
type UnknownQuestionError struct{ ID string }

func (e *UnknownQuestionError) Error() string {
	return fmt.Sprintf("question %q is not part of this course", e.ID)
}

// InvalidOptionError reports an answer index outside a question's options.
type InvalidOptionError struct {
	QuestionID string
	Index      int
	Options    int
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("answer %d for question %q is out of range (0..%d)", e.Index, e.QuestionID, e.Options-1)
}

// Grade counts answers matching the key. Every question counts toward the
// total whether answered or not. Answers naming unknown questions or
// options are rejected before anything is counted.
func Grade(key []course.KeyedQuestion, answers course.Answers) (Result, error) {
	byID := make(map[string]course.KeyedQuestion, len(key))
	for _, q := range key {
		byID[q.ID] = q
	}
	for id, choice := range answers {
		q, ok := byID[id]
		if !ok {
			return Result{}, &UnknownQuestionError{ID: id}
		}
		if !q.ValidOption(choice) {
			return Result{}, &InvalidOptionError{QuestionID: id, Index: choice, Options: len(q.Options)}
		}
	}
	res := Result{Total: len(key)}
	for _, q := range key {
		choice, ok := answers[q.ID]
		switch {
		case !ok:
			res.Unanswered++
		case choice == q.CorrectAnswer:
			res.Correct++
		}
	}
	res.Score = course.Score(res.Correct, res.Total)
	return res, nil
}
