// Package apierr defines the error taxonomy for the data-access layer.
//
// Every failure that crosses a component boundary is classified into a Kind
// so callers (and the retry loop) can branch on classification instead of
// matching error strings or exception types. Infrastructure failures inside
// the cache or the usage ledger never surface through this package; only
// validation, quota, and upstream-call outcomes do.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a terminal request outcome.
type Kind string

const (
	// KindValidation is bad caller input. Never retried, never recorded as
	// API usage.
	KindValidation Kind = "validation"

	// KindQuotaExceeded is a rate-limiter denial. No network call was made.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindAuth is a 401/403 from the provider. Terminal.
	KindAuth Kind = "auth"

	// KindNotFound is a 404 or empty body. Terminal, but not a failure:
	// it means the property has no data, not that the call broke.
	KindNotFound Kind = "not_found"

	// KindRateLimited is an upstream 429. Retryable, honoring Retry-After.
	KindRateLimited Kind = "rate_limited"

	// KindServer is an upstream 5xx. Retryable.
	KindServer Kind = "server"

	// KindTimeout is a network timeout or an exceeded caller deadline.
	KindTimeout Kind = "timeout"

	// KindConnection is a refused or reset connection. Retryable with a
	// larger base delay.
	KindConnection Kind = "connection"

	// KindUnclassified is any other upstream status. Terminal.
	KindUnclassified Kind = "unclassified"
)

// Retryable reports whether a failure of this kind may be attempted again.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServer, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// Error is the structured error returned to the dashboard boundary.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is a hint for quota and upstream-429 errors: when capacity
	// is expected to be available again. Zero when unknown.
	RetryAfter time.Duration

	// Attempts is how many upstream attempts were made before giving up.
	// Zero for errors raised before any network call.
	Attempts int

	// Err is the underlying cause, when one exists.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on another *Error by kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New builds an Error with a kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind from any error. Unknown errors map to
// KindUnclassified; nil maps to the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnclassified
}
