package http

import (
	"bytes"
	"errors"
	"io"
	nethttp "net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cbt/internal/auth"
	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/eventlog"
	"github.com/mind-engage/mindengage-cbt/internal/qbank"
	"github.com/mind-engage/mindengage-cbt/internal/storage"
)

const maxUpload = 10 << 20

type uploadForm struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"required"`
	IsFree      bool    `json:"is_free"`
	Price       float64 `json:"price" validate:"gte=0"`
}

// POST /admin/courses/upload  multipart(title, description, is_free, price, pdf_file)
// pdf_file keeps its historical field name but must hold a plain-text
// question bank. PDF and other binary documents are rejected with 400 and
// have to be exported to text first. The source is kept in the blob store
// next to the course and removed again if the course cannot be saved.
func UploadCourseHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		r.Body = nethttp.MaxBytesReader(w, r.Body, maxUpload+1<<20)
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeDetail(w, nethttp.StatusBadRequest, "invalid multipart form")
			return
		}
		form := uploadForm{
			Title:       strings.TrimSpace(r.FormValue("title")),
			Description: strings.TrimSpace(r.FormValue("description")),
		}
		var err error
		if v := r.FormValue("is_free"); v != "" {
			if form.IsFree, err = strconv.ParseBool(v); err != nil {
				writeDetail(w, nethttp.StatusBadRequest, "is_free: not a boolean")
				return
			}
		}
		if v := r.FormValue("price"); v != "" {
			if form.Price, err = strconv.ParseFloat(v, 64); err != nil {
				writeDetail(w, nethttp.StatusBadRequest, "price: not a number")
				return
			}
		}
		if form.IsFree {
			form.Price = 0
		}
		if err := d.check(form); err != nil {
			d.writeErr(w, r, err)
			return
		}

		f, hdr, err := r.FormFile("pdf_file")
		if err != nil {
			writeDetail(w, nethttp.StatusBadRequest, "pdf_file is required")
			return
		}
		defer f.Close()
		raw, err := io.ReadAll(io.LimitReader(f, maxUpload))
		if err != nil {
			writeDetail(w, nethttp.StatusBadRequest, "could not read upload")
			return
		}
		qs, err := qbank.Parse(bytes.NewReader(raw))
		if err != nil {
			if errors.Is(err, qbank.ErrBinary) || errors.Is(err, qbank.ErrNoQuestions) {
				writeDetail(w, nethttp.StatusBadRequest, err.Error())
				return
			}
			d.writeErr(w, r, err)
			return
		}

		c := course.AdminCourse{
			Course: course.Course{
				ID:             uuid.NewString(),
				Title:          form.Title,
				Description:    form.Description,
				IsFree:         form.IsFree,
				Price:          form.Price,
				TotalQuestions: len(qs),
				CreatedAt:      d.now(),
			},
			Questions: qs,
		}
		if err := c.Validate(); err != nil {
			d.writeErr(w, r, errs.Validation(err.Error()))
			return
		}
		if d.Blobs != nil {
			key := storage.CourseSourceKey(c.ID, hdr.Filename)
			if c.SourceKey, err = d.Blobs.Put(key, bytes.NewReader(raw)); err != nil {
				d.writeErr(w, r, err)
				return
			}
		}
		if err := d.Store.CreateCourse(r.Context(), c, auth.SubjectFromContext(r.Context())); err != nil {
			if c.SourceKey != "" {
				if derr := d.Blobs.Delete(c.SourceKey); derr != nil {
					d.Logger.Printf("delete orphaned source %s: %v", c.SourceKey, derr)
				}
			}
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusCreated, course.UploadResult{
			Message:            "Course created successfully",
			CourseID:           c.ID,
			QuestionsExtracted: len(qs),
		})
	}
}

// GET /admin/courses
func AdminCoursesHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		list, err := d.Store.ListAdminCourses(r.Context())
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, list)
	}
}

// GET /admin/courses/{courseID}/details
func AdminCourseDetailsHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "courseID")
		c, err := d.Store.GetCourse(r.Context(), id)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		st, err := d.Store.CourseStats(r.Context(), id)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, course.AdminCourseDetails{Course: c, Statistics: st})
	}
}

type questionUpdate struct {
	Text          string   `json:"question_text" validate:"required"`
	Options       []string `json:"options" validate:"min=2,max=4,dive,required"`
	CorrectAnswer int      `json:"correct_answer" validate:"gte=0"`
}

// PUT /admin/courses/{courseID}/questions/{questionID}
func UpdateQuestionHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req questionUpdate
		if err := d.decode(r, &req); err != nil {
			d.writeErr(w, r, err)
			return
		}
		if req.CorrectAnswer >= len(req.Options) {
			d.writeErr(w, r, errs.Validation("correct_answer: out of range"))
			return
		}
		q := course.KeyedQuestion{
			Question: course.Question{
				ID:      chi.URLParam(r, "questionID"),
				Text:    strings.TrimSpace(req.Text),
				Options: req.Options,
			},
			CorrectAnswer: req.CorrectAnswer,
		}
		if err := d.Store.UpdateQuestion(r.Context(), chi.URLParam(r, "courseID"), q); err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"message": "Question updated successfully"})
	}
}

// DELETE /admin/courses/{courseID}
// Removes the course with its attempts, payments and stored source.
func DeleteCourseHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := chi.URLParam(r, "courseID")
		c, err := d.Store.GetCourse(r.Context(), id)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		res, err := d.Store.DeleteCourse(r.Context(), id)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if d.Blobs != nil && c.SourceKey != "" {
			if err := d.Blobs.Delete(c.SourceKey); err != nil {
				d.Logger.Printf("delete source %s: %v", c.SourceKey, err)
			}
		}
		d.event(r.Context(), eventlog.CourseDeleted, id, res)
		writeJSON(w, nethttp.StatusOK, res)
	}
}

// GET /admin/courses/{courseID}/source
func CourseSourceHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		c, err := d.Store.GetCourse(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		if d.Blobs == nil || c.SourceKey == "" {
			writeDetail(w, nethttp.StatusNotFound, "No source stored for this course")
			return
		}
		rc, err := d.Blobs.Get(c.SourceKey)
		if err != nil {
			writeDetail(w, nethttp.StatusNotFound, "No source stored for this course")
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(c.SourceKey)+`"`)
		_, _ = io.Copy(w, rc)
	}
}

// GET /admin/events?after=&limit=
func EventsHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if d.Events == nil {
			writeJSON(w, nethttp.StatusOK, []any{})
			return
		}
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := d.Events.List(r.Context(), after, limit)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, list)
	}
}
