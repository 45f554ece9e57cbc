package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
)

// UploadCourseRequest is the admin upload form.
type UploadCourseRequest struct {
	Title       string    `validate:"required,max=200"`
	Description string    `validate:"required"`
	IsFree      bool
	Price       float64   `validate:"gte=0"`
	FileName    string    `validate:"required"`
	File        io.Reader `validate:"required"`
}

// UploadCourse posts a question document. Extraction happens server side.
func (c *Client) UploadCourse(ctx context.Context, req UploadCourseRequest) (course.UploadResult, error) {
	if err := c.check(req); err != nil {
		return course.UploadResult{}, err
	}
	if req.IsFree {
		req.Price = 0
	} else if req.Price <= 0 {
		return course.UploadResult{}, errs.Validation("price: paid course needs a positive price")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"title", req.Title},
		{"description", req.Description},
		{"is_free", strconv.FormatBool(req.IsFree)},
		{"price", strconv.FormatFloat(req.Price, 'f', -1, 64)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return course.UploadResult{}, errs.Wrap(errs.CodeValidation, "encode form", err)
		}
	}
	fw, err := mw.CreateFormFile("pdf_file", req.FileName)
	if err != nil {
		return course.UploadResult{}, errs.Wrap(errs.CodeValidation, "encode form", err)
	}
	if _, err := io.Copy(fw, req.File); err != nil {
		return course.UploadResult{}, errs.Wrap(errs.CodeValidation, "read upload", err)
	}
	if err := mw.Close(); err != nil {
		return course.UploadResult{}, errs.Wrap(errs.CodeValidation, "encode form", err)
	}

	var out course.UploadResult
	err = c.do(ctx, call{
		method:      http.MethodPost,
		path:        "/admin/courses/upload",
		raw:         &buf,
		contentType: mw.FormDataContentType(),
		out:         &out,
		auth:        true,
	})
	return out, err
}

func (c *Client) AdminCourses(ctx context.Context) ([]course.AdminCourse, error) {
	var out []course.AdminCourse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/admin/courses", out: &out, auth: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AdminCourseDetails(ctx context.Context, courseID string) (course.AdminCourseDetails, error) {
	var out course.AdminCourseDetails
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/admin/courses/" + url.PathEscape(courseID) + "/details",
		out:    &out,
		auth:   true,
	})
	return out, err
}

// UpdateQuestion replaces one question, typically to fix its answer key.
func (c *Client) UpdateQuestion(ctx context.Context, courseID string, q course.KeyedQuestion) error {
	if len(q.Options) < 2 {
		return errs.Validation("question needs at least 2 options")
	}
	if !q.ValidOption(q.CorrectAnswer) {
		return errs.Validation("correct answer out of range")
	}
	return c.do(ctx, call{
		method: http.MethodPut,
		path:   "/admin/courses/" + url.PathEscape(courseID) + "/questions/" + url.PathEscape(q.ID),
		body:   q,
		auth:   true,
	})
}

func (c *Client) DeleteCourse(ctx context.Context, courseID string) (course.DeleteResult, error) {
	var out course.DeleteResult
	err := c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/admin/courses/" + url.PathEscape(courseID),
		out:    &out,
		auth:   true,
	})
	return out, err
}
