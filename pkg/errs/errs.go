// Package errs defines the error taxonomy shared across the core.
// Every failure that can cross a package boundary is classified by Kind so
// the HTTP layer can map it to a status code without string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for surfacing.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindAuth       Kind = "AUTH"
	KindForbidden  Kind = "FORBIDDEN"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindRateLimit  Kind = "RATE_LIMIT"
	KindUpstream   Kind = "UPSTREAM"
	KindNetwork    Kind = "NETWORK"
	KindProtocol   Kind = "PROTOCOL"
	KindStorage    Kind = "STORAGE"
	KindInternal   Kind = "INTERNAL"
)

// Error is a classified error. Details is optional structured context that
// is safe to return to API clients (never secrets, never stack traces).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, wrapped: err}
}

// WithDetails attaches structured context and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Validation builds a 400-class error carrying the failed rules.
func Validation(message string, failures ...string) *Error {
	e := New(KindValidation, message)
	if len(failures) > 0 {
		e.Details = map[string]any{"errors": failures}
	}
	return e
}

// Storage classifies a database failure with the operation and entity that
// triggered it.
func Storage(op, entity string, err error) *Error {
	return &Error{
		Kind:    KindStorage,
		Message: fmt.Sprintf("storage failure in %s on %s", op, entity),
		Details: map[string]any{"operation": op, "entity": entity},
		wrapped: err,
	}
}

// Upstream classifies a non-retryable upstream HTTP failure.
func Upstream(provider string, status int, snippet string) *Error {
	return &Error{
		Kind:    KindUpstream,
		Message: fmt.Sprintf("upstream %s returned %d", provider, status),
		Details: map[string]any{"provider": provider, "status": status, "body": snippet},
	}
}

// KindOf extracts the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code the admin surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUpstream, KindNetwork, KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
