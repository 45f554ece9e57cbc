package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
)

// SubmitAttempt sends the full answer map in one call. It is never retried
// here: a duplicate submission would record a second attempt.
func (c *Client) SubmitAttempt(ctx context.Context, courseID string, answers course.Answers) (course.AttemptResult, error) {
	if courseID == "" {
		return course.AttemptResult{}, errs.Validation("course id required")
	}
	if len(answers) == 0 {
		return course.AttemptResult{}, errs.Validation("answer at least one question")
	}
	body := struct {
		Answers course.Answers `json:"answers"`
	}{answers}
	var out course.AttemptResult
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/courses/" + url.PathEscape(courseID) + "/attempt",
		body:   body,
		out:    &out,
		auth:   true,
	})
	return out, err
}

// MyAttempts lists the caller's completed attempts.
func (c *Client) MyAttempts(ctx context.Context) ([]course.AttemptSummary, error) {
	var out []course.AttemptSummary
	if err := c.do(ctx, call{method: http.MethodGet, path: "/my-attempts", out: &out, auth: true}); err != nil {
		return nil, err
	}
	return out, nil
}
