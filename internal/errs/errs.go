// Package errs defines the error taxonomy shared by the client core and the
// contract server. Errors carry a machine-readable Code and a human-readable
// Message that is safe to show to the user verbatim.
package errs

import (
	"errors"
	"net/http"
)

// Code classifies a failure.
type Code string

const (
	CodeAuthFailure      Code = "AUTH_FAILURE"
	CodeAccessDenied     Code = "ACCESS_DENIED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeValidation       Code = "VALIDATION_FAILURE"
	CodePaymentFailed    Code = "PAYMENT_FAILED"
	CodeTransientNetwork Code = "TRANSIENT_NETWORK_FAILURE"
)

// Sentinels for errors.Is matching by code.
var (
	ErrAuthFailure      = &Error{Code: CodeAuthFailure}
	ErrAccessDenied     = &Error{Code: CodeAccessDenied}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrValidation       = &Error{Code: CodeValidation}
	ErrPaymentFailed    = &Error{Code: CodePaymentFailed}
	ErrTransientNetwork = &Error{Code: CodeTransientNetwork}
)

// Error is the coded error type.
type Error struct {
	Code    Code
	Message string
	// Status is the HTTP status the error was decoded from, if any.
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation is shorthand for a caller error.
func Validation(message string) *Error { return New(CodeValidation, message) }

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// FromStatus maps an HTTP failure to the taxonomy. authCall marks the
// login/registration endpoints, where every 4xx is an authentication failure.
func FromStatus(status int, detail string, authCall bool) *Error {
	if detail == "" {
		detail = http.StatusText(status)
	}
	e := &Error{Message: detail, Status: status}
	switch {
	case status >= 500:
		e.Code = CodeTransientNetwork
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		e.Code = CodeTransientNetwork
	case authCall && status >= 400:
		e.Code = CodeAuthFailure
	case status == http.StatusUnauthorized:
		e.Code = CodeAuthFailure
	case status == http.StatusForbidden:
		e.Code = CodeAccessDenied
	case status == http.StatusNotFound:
		e.Code = CodeNotFound
	default:
		e.Code = CodeValidation
	}
	return e
}

// HTTPStatus is the status the contract server answers with for code.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAuthFailure:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodePaymentFailed:
		return http.StatusPaymentRequired
	case CodeTransientNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
