package client

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
)

// ListCourses returns the catalog in server order.
func (c *Client) ListCourses(ctx context.Context) ([]course.Course, error) {
	var out []course.Course
	if err := c.do(ctx, call{method: http.MethodGet, path: "/courses", out: &out, auth: true}); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCourseDetail fetches a course with its ordered questions. It fails
// with AccessDenied when the caller lacks entitlement and NotFound when the
// id is unknown.
func (c *Client) GetCourseDetail(ctx context.Context, courseID string) (course.CourseDetail, error) {
	if courseID == "" {
		return course.CourseDetail{}, errs.Validation("course id required")
	}
	var out course.CourseDetail
	if err := c.do(ctx, call{method: http.MethodGet, path: "/courses/" + url.PathEscape(courseID), out: &out, auth: true}); err != nil {
		return course.CourseDetail{}, err
	}
	if err := out.Normalize(); err != nil {
		return course.CourseDetail{}, errs.Wrap(errs.CodeTransientNetwork, "server returned an inconsistent question set", err)
	}
	return out, nil
}

// Dashboard is the landing view: catalog plus the caller's attempts.
type Dashboard struct {
	Courses  []course.Course
	Attempts []course.AttemptSummary
}

// Dashboard fetches courses and attempts concurrently.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cs, err := c.ListCourses(gctx)
		d.Courses = cs
		return err
	})
	g.Go(func() error {
		as, err := c.MyAttempts(gctx)
		d.Attempts = as
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}
