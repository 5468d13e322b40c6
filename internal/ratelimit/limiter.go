// Package ratelimit implements sliding-window admission control keyed by
// (subject, resource).
//
// Two backends share one contract: an in-memory window for single-instance
// deployments and a Redis-backed window for fleets that must share one
// counter. The choice is made explicitly in configuration; neither backend
// falls back to the other at runtime.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check. The denied request was NOT
// added to the window; only admitted requests consume capacity.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"reset_at"`
	// RetryAfter is how long until at least one slot frees up. Zero when
	// the request was allowed.
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter is the admission-control contract.
type Limiter interface {
	// Allow checks and, when capacity exists, consumes one slot for the
	// (subject, resource) pair. The check and the consume are atomic: two
	// racing callers never both take the last slot.
	Allow(ctx context.Context, subjectID, resource string) (Decision, error)

	// Close releases backend resources.
	Close() error
}

// LimitResolver supplies the per-window limit for a (subject, resource) pair.
type LimitResolver interface {
	WindowLimit(ctx context.Context, subjectID, resource string) int
}

// StaticLimit is a LimitResolver returning the same limit for every pair.
type StaticLimit int

func (s StaticLimit) WindowLimit(ctx context.Context, subjectID, resource string) int {
	return int(s)
}
