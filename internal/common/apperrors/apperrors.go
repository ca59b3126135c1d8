// Package apperrors defines the structured error taxonomy shared by all
// services. Services raise an *Error with a code; the HTTP layer maps the code
// to a status and the canonical envelope {error:true, code, message}.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping.
type Code string

const (
	CodeValidation  Code = "validation"
	CodeNotFound    Code = "not_found"
	CodeForbidden   Code = "forbidden"
	CodeConflict    Code = "conflict"
	CodeRateLimited Code = "rate_limited"
	CodeTimeout     Code = "timeout"
	CodeInternal    Code = "internal"
)

// Error is a structured service error.
type Error struct {
	Code       Code
	Message    string
	Suggestion string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code so callers can use errors.Is with sentinel codes.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithSuggestion attaches a human-readable suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// Wrap attaches a cause to the error.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a validation error (HTTP 400).
func Validation(format string, args ...interface{}) *Error {
	return newError(CodeValidation, format, args...)
}

// NotFound returns a not_found error (HTTP 404).
func NotFound(format string, args ...interface{}) *Error {
	return newError(CodeNotFound, format, args...)
}

// Forbidden returns a forbidden error (HTTP 403).
func Forbidden(format string, args ...interface{}) *Error {
	return newError(CodeForbidden, format, args...)
}

// Conflict returns a conflict error (HTTP 409).
func Conflict(format string, args ...interface{}) *Error {
	return newError(CodeConflict, format, args...)
}

// RateLimited returns a rate_limited error (HTTP 429).
func RateLimited(format string, args ...interface{}) *Error {
	return newError(CodeRateLimited, format, args...)
}

// Timeout returns a timeout error (HTTP 504).
func Timeout(format string, args ...interface{}) *Error {
	return newError(CodeTimeout, format, args...)
}

// Internal returns an internal error (HTTP 500).
func Internal(format string, args ...interface{}) *Error {
	return newError(CodeInternal, format, args...)
}

// CodeOf extracts the code from err, defaulting to internal for plain errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the canonical JSON error body.
type Envelope struct {
	Error      bool   `json:"error"`
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ToEnvelope converts err into the canonical envelope. Plain errors are
// reported as internal without leaking their message.
func ToEnvelope(err error) (int, Envelope) {
	var e *Error
	if errors.As(err, &e) {
		return HTTPStatus(e.Code), Envelope{Error: true, Code: e.Code, Message: e.Message, Suggestion: e.Suggestion}
	}
	return http.StatusInternalServerError, Envelope{Error: true, Code: CodeInternal, Message: "internal error"}
}
