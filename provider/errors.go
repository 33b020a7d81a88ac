package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind string

const (
	// KindUnavailable covers network failures, timeouts and 5xx responses.
	KindUnavailable ErrorKind = "provider_unavailable"
	// KindRateLimited covers 429 and quota responses. RetryAfter may carry a hint.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidInput covers oversized or malformed requests. Never retried.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindAuth covers 401/403 responses. Never retried, skips to the next provider.
	KindAuth ErrorKind = "auth_failed"
)

// Error is the shared failure type returned by embedding and completion adapters.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (HTTP %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same provider may be retried after backoff.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// NewError builds a provider error with a plain message.
func NewError(name string, kind ErrorKind, status int, msg string) *Error {
	return &Error{Provider: name, Kind: kind, StatusCode: status, Err: errors.New(msg)}
}

// WrapError builds a provider error around an underlying cause.
func WrapError(name string, kind ErrorKind, err error) *Error {
	return &Error{Provider: name, Kind: kind, Err: err}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable provider failure.
func IsRetryable(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Retryable()
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == KindRateLimited
}

// IsInvalidInput reports whether err is an input validation failure.
func IsInvalidInput(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == KindInvalidInput
}
