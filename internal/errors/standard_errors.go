// Package errors provides the standardized error taxonomy used across the
// agent runtime: a single Kind enum shared by the file store, memory index,
// compactor, watcher, sandbox, and agent loop.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind is a semantic error kind, independent of any transport encoding.
type Kind string

const (
	// KindBadInput - shape/content rejected before any side effect.
	KindBadInput Kind = "BAD_INPUT"
	// KindNotPermitted - command/module not on allow-list, or auth check failed.
	KindNotPermitted Kind = "NOT_PERMITTED"
	// KindNotFound - retrieve/delete on a missing FileRef or unknown chunk.
	KindNotFound Kind = "NOT_FOUND"
	// KindPathViolation - attempted traversal or symlink escape.
	KindPathViolation Kind = "PATH_VIOLATION"
	// KindSizeExceeded - blob too big for its category, or total storage over cap.
	KindSizeExceeded Kind = "SIZE_EXCEEDED"
	// KindTimeout - sandbox or LLM call exceeded budget.
	KindTimeout Kind = "TIMEOUT"
	// KindCancelled - ambient cancellation observed.
	KindCancelled Kind = "CANCELLED"
	// KindDegraded - operation succeeded with reduced quality. Not user-facing as an error.
	KindDegraded Kind = "DEGRADED"
	// KindInternal - unexpected; logged with stack, generic message returned.
	KindInternal Kind = "INTERNAL"
)

// RuntimeError is the concrete error type returned by every component.
type RuntimeError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
	Cause   error                  `json:"-"`
	Partial string                 `json:"partial,omitempty"` // partial stdout etc. for Timeout
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *RuntimeError) Unwrap() error { return e.Cause }

// New creates a RuntimeError of the given kind.
func New(kind Kind, message string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message}
}

// Wrap creates a RuntimeError of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details for diagnosis or API responses.
func (e *RuntimeError) WithDetails(details map[string]interface{}) *RuntimeError {
	e.Details = details
	return e
}

// WithTraceID attaches a trace id for log correlation.
func (e *RuntimeError) WithTraceID(traceID string) *RuntimeError {
	e.TraceID = traceID
	return e
}

// WithPartial attaches partial output, used by Timeout errors .
func (e *RuntimeError) WithPartial(partial string) *RuntimeError {
	e.Partial = partial
	return e
}

// ToHTTPStatus maps a Kind to the HTTP status the chat endpoint should use.
func (e *RuntimeError) ToHTTPStatus() int {
	switch e.Kind {
	case KindBadInput:
		return http.StatusBadRequest
	case KindNotPermitted:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindPathViolation:
		return http.StatusBadRequest
	case KindSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindCancelled:
		return http.StatusServiceUnavailable
	case KindDegraded:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// UserVisible reports whether the message is safe to show a chat user
// verbatim: BadInput/NotPermitted/NotFound/SizeExceeded/Timeout/Cancelled are
// user-visible; Internal is not and should be replaced by a generic message
// upstream.
func (e *RuntimeError) UserVisible() bool {
	switch e.Kind {
	case KindBadInput, KindNotPermitted, KindNotFound, KindSizeExceeded, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}

// ToJSON renders the error as the JSON body of an API error response.
func (e *RuntimeError) ToJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		Message string `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
		TraceID string `json:"trace_id,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Kind: e.Kind,
		Message: e.Message,
		Details: e.Details,
		TraceID: e.TraceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteHTTPError writes the error as an HTTP JSON response.
func (e *RuntimeError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.TraceID != "" {
		w.Header().Set("X-Trace-ID", e.TraceID)
	}
	w.WriteHeader(e.ToHTTPStatus())
	body, _ := e.ToJSON()
	_, _ = w.Write(body)
}

// IsKind reports whether err is itself a *RuntimeError of the given kind.
// It is a direct type assertion: wrapped errors are not unwrapped.
func IsKind(err error, kind Kind) bool {
	re, ok := err.(*RuntimeError)
	return ok && re.Kind == kind
}
