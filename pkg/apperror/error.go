// Package apperror implements the queue's error taxonomy: a small set of
// error kinds (not a class hierarchy) that every component surfaces
// failures through, so the worker loop and the HTTP adapters can decide
// retriability and status codes from one place.
package apperror

import (
	"fmt"
	"net/http"
)

// Kind is one of the error taxonomy members from the error handling design.
type Kind string

const (
	KindStoreError   Kind = "store_error"
	KindInvalidState Kind = "invalid_state"
	KindInvalidBatch Kind = "invalid_batch"
	KindLLMNetwork   Kind = "llm_network_error"
	KindLLMClient    Kind = "llm_client_error"
	KindParseError   Kind = "parse_error"
	KindCanceled     Kind = "canceled"
)

// Error is an application error carrying an HTTP status, a stable code, a
// human message, an optional wrapped internal error, a retriability flag,
// and optional structured details.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Retriable  bool
	Details    map[string]any
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// ToEchoError is implemented in handler.go (it needs the echo import kept
// out of this file so the taxonomy itself has no HTTP framework dependency
// beyond what's needed for the JSON status mapping).

func (e *Error) clone() *Error {
	cp := *e
	return &cp
}

// WithInternal returns a copy of the error with an internal error attached.
func (e *Error) WithInternal(err error) *Error {
	cp := e.clone()
	cp.Internal = err
	return cp
}

// WithMessage returns a copy of the error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	cp := e.clone()
	cp.Message = message
	return cp
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := e.clone()
	cp.Details = details
	return cp
}

// New creates a freestanding application error of the given kind.
func New(kind Kind, status int, code, message string, retriable bool) *Error {
	return &Error{Kind: kind, HTTPStatus: status, Code: code, Message: message, Retriable: retriable}
}

// Sentinel instances for the seven taxonomy members. Call sites use
// WithInternal/WithMessage/WithDetails to specialize rather than
// constructing new Kind values.
var (
	ErrStoreFailure = New(KindStoreError, http.StatusInternalServerError, "store_error", "durable store operation failed", true)
	ErrInvalidState = New(KindInvalidState, http.StatusConflict, "invalid_state", "record is not in an expected state for this transition", false)
	ErrInvalidBatch = New(KindInvalidBatch, http.StatusUnprocessableEntity, "invalid_batch", "batch does not satisfy structural preconditions", false)
	ErrLLMNetwork   = New(KindLLMNetwork, http.StatusBadGateway, "llm_network_error", "LLM endpoint transport failure", true)
	ErrLLMClient    = New(KindLLMClient, http.StatusBadGateway, "llm_client_error", "LLM endpoint rejected the request", false)
	ErrParse        = New(KindParseError, http.StatusUnprocessableEntity, "parse_error", "LLM response did not match the declared wire format", false)
	ErrCanceled     = New(KindCanceled, http.StatusConflict, "canceled", "operation was canceled", false)

	// Generic HTTP-adapter errors, not part of the §7 taxonomy but needed
	// by the auth/ownership contract in front of the core.
	ErrUnauthorized = New("", http.StatusUnauthorized, "unauthorized", "authentication required", false)
	ErrForbidden    = New("", http.StatusForbidden, "forbidden", "caller does not own this project", false)
	ErrNotFound     = New("", http.StatusNotFound, "not_found", "resource not found", false)
	ErrBadRequest   = New("", http.StatusBadRequest, "bad_request", "invalid request", false)
)

// NewNotFound creates a not-found error for a resource type and id.
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s %q not found", resourceType, id))
}

// NewBadRequest creates a bad-request error with a custom message.
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// ToHTTPError converts any error into an HTTP status and a JSON-serializable
// body. Unrecognized errors map to a generic 500.
func ToHTTPError(err error) (int, map[string]any) {
	if appErr, ok := err.(*Error); ok {
		body := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
		return appErr.HTTPStatus, map[string]any{"error": body}
	}
	return http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"code":    "internal_error",
			"message": "an internal error occurred",
		},
	}
}

// IsRetriable reports whether err, if it is one of the taxonomy's errors,
// is retriable. Non-*Error values are treated as non-retriable.
func IsRetriable(err error) bool {
	appErr, ok := err.(*Error)
	return ok && appErr.Retriable
}
