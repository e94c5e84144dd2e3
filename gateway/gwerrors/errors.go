// Package gwerrors defines the gateway's closed error taxonomy.
package gwerrors

import "fmt"

// Code is a closed classification for any provider or routing failure.
type Code string

const (
	CodeRateLimited           Code = "rate_limited"
	CodeAuthError             Code = "auth_error"
	CodeServerError           Code = "server_error"
	CodeClientError           Code = "client_error"
	CodeCapabilityUnsupported Code = "capability_unsupported"
	CodeUnknownModel          Code = "unknown_model"
	CodeUnknownProvider       Code = "unknown_provider"
	CodeCancelled             Code = "cancelled"
	CodeExhausted             Code = "exhausted"
)

// Error is the gateway's structured error type. Every classified failure
// on the request path is carried as one of these, end to end.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
	Provider   string
	RetryAfter int // seconds, 0 if unspecified
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message. HTTP status and
// retryability default per the closed taxonomy's outward-mapping table.
func New(code Code, message string) *Error {
	e := &Error{Code: code, Message: message}
	e.HTTPStatus, e.Retryable = defaults(code)
	return e
}

func defaults(code Code) (status int, retryable bool) {
	switch code {
	case CodeRateLimited:
		return 429, true
	case CodeAuthError:
		return 502, false
	case CodeServerError:
		return 502, true
	case CodeClientError:
		return 400, false
	case CodeCapabilityUnsupported:
		return 400, false
	case CodeUnknownModel, CodeUnknownProvider:
		return 400, false
	case CodeCancelled:
		return 0, false
	case CodeExhausted:
		return 503, false
	default:
		return 500, false
	}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// As extracts a *Error from err, if any.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// ClassOf returns the Code carried by err, or CodeServerError if err is
// an unclassified error that escaped a driver (spec: "any exception that
// escapes the driver without classification is treated as server_error").
func ClassOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeServerError
}
