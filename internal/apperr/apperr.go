package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the error category propagated between components. Handlers map
// codes to HTTP statuses; components never pass raw status codes around.
type Code string

// Code enum values
const (
	CodeNotFound      Code = "not_found"
	CodeAlreadyExists Code = "already_exists"
	CodeValidation    Code = "validation_error"
	CodeBadRequest    Code = "bad_request"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal"
	CodePartial       Code = "partial"
)

// Error carries a category, a caller-facing message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so callers can test categories
// with errors.Is(err, apperr.NotFound("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists reports a unique-key violation on create.
func AlreadyExists(format string, args ...any) *Error {
	return &Error{Code: CodeAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a body that fails schema or range checks.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// BadRequest reports a missing required argument.
func BadRequest(format string, args ...any) *Error {
	return &Error{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Unavailable reports incomplete initialization or an unreachable
// dependency.
func Unavailable(format string, args ...any) *Error {
	return &Error{Code: CodeUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure; the cause is preserved for logs.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Partial marks an orchestrated result where some sub-component failed but
// the request still returned.
func Partial(format string, args ...any) *Error {
	return &Error{Code: CodePartial, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a categorized error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the category of err, defaulting to internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error category to its response status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodePartial:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
