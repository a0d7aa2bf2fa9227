// Package api — JSON response envelope and helpers for the admin surface.
// All API responses use the {success, data, message, error} format.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Kind    errs.Kind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the uniform response shape.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// WriteJSON writes an arbitrary envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteData writes a 200 success envelope wrapping data.
func WriteData(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteMessage writes a success envelope with a human-readable message.
func WriteMessage(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// WriteError writes a classified error envelope. Unclassified errors are
// reported as INTERNAL with a generic message so nothing internal leaks.
func WriteError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)

	body := &ErrorBody{Kind: kind, Message: "internal error"}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Details = e.Details
	}
	WriteJSON(w, status, Envelope{Success: false, Error: body})
}

// WriteErrorKind writes an error envelope for a kind and message directly.
func WriteErrorKind(w http.ResponseWriter, kind errs.Kind, message string) {
	WriteJSON(w, errs.HTTPStatus(kind), Envelope{
		Success: false,
		Error:   &ErrorBody{Kind: kind, Message: message},
	})
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteErrorKind(w, errs.KindAuth, detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteErrorKind(w, errs.KindForbidden, detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteErrorKind(w, errs.KindNotFound, detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteJSON(w, http.StatusMethodNotAllowed, Envelope{
		Success: false,
		Error:   &ErrorBody{Kind: errs.KindValidation, Message: "method not allowed"},
	})
}

// WriteTooManyRequests writes a 429 with Retry-After and the rate-limit body.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSeconds int64) {
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	WriteJSON(w, http.StatusTooManyRequests, Envelope{
		Success: false,
		Data:    map[string]any{"retry_after_seconds": retryAfterSeconds},
		Error: &ErrorBody{
			Kind:    errs.KindRateLimit,
			Message: fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfterSeconds),
		},
	})
}
