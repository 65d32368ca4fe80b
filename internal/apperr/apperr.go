// Package apperr defines the error taxonomy shared by the HTTP layer and the
// services. Every failure that crosses a handler boundary is one of these
// kinds; the handler maps the kind to a status code and a uniform JSON
// envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Validation Kind = iota
	NotFound
	Unauthorized
	Forbidden
	Conflict
	NotConfigured
	Upstream
	Generation
	Upload
	Internal
)

type Error struct {
	Kind    Kind
	Code    string // machine-readable envelope code, e.g. "validation_error"
	Message string
	Detail  string
	// Extras are operation-specific envelope fields, e.g. the offending
	// attachment ids on a rejected message.
	Extras map[string]any
	cause  error
}

// WithExtra attaches an extra envelope field and returns the error.
func (e *Error) WithExtra(key string, value any) *Error {
	if e.Extras == nil {
		e.Extras = make(map[string]any, 1)
	}
	e.Extras[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind to the response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case NotConfigured:
		return http.StatusServiceUnavailable
	case Upstream:
		return http.StatusBadGateway
	case Generation:
		return http.StatusBadGateway
	case Upload:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	e := &Error{Kind: kind, Code: code, Message: message, cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, "validation_error", fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, "not_found", fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, "forbidden", fmt.Sprintf(format, args...))
}

// As extracts an *Error from err, or wraps unknown errors as Internal so the
// boundary never leaks an unformatted failure.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(Internal, "internal_error", "An unexpected error occurred.", err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
