package http

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/store"
)

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail sends the {detail} body every failure carries.
func writeDetail(w nethttp.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeErr maps err onto a status. Unclassified errors are logged and
// reported as a generic 500.
func (d *Deps) writeErr(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, nethttp.StatusNotFound, "Not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeDetail(w, nethttp.StatusConflict, "Already exists")
		return
	}
	if code := errs.CodeOf(err); code != "" {
		writeDetail(w, errs.HTTPStatus(code), errs.Message(err))
		return
	}
	d.Logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	writeDetail(w, nethttp.StatusInternalServerError, "Internal server error")
}

// decode reads a JSON body into v and validates it.
func (d *Deps) decode(r *nethttp.Request, v any) error {
	dec := json.NewDecoder(nethttp.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errs.Validation("invalid JSON body")
	}
	return d.check(v)
}

func (d *Deps) check(v any) error {
	if err := d.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return errs.Validation(fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return errs.Wrap(errs.CodeValidation, "invalid request", err)
	}
	return nil
}
