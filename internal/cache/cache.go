// Package cache implements the category-TTL cache for provider responses.
//
// Entries are partitioned into categories; each category carries its own
// lifetime and its own hit/miss statistics. Two backends exist: a volatile
// in-process store and a durable SQLite-backed store, composed into a tiered
// store that promotes durable hits into memory.
//
// The cache is an availability layer, not a source of truth: backend failures
// degrade to misses on read and are logged and dropped on write. A caller can
// always fall through to the upstream provider.
package cache

import (
	"context"
	"time"
)

// Entry is one cache entry. TTL is consulted on Set only: zero means "use the
// category default". ExpiresAt is populated on reads.
type Entry struct {
	Key       string
	Category  string
	SubjectID string
	Payload   []byte
	TTL       time.Duration
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats is a point-in-time snapshot of one category's counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// TTLPolicy maps a category to its entry lifetime.
type TTLPolicy func(category string) time.Duration

// StaticTTLPolicy builds a TTLPolicy from a fixed table with a fallback.
func StaticTTLPolicy(seconds map[string]int, defaultSeconds int) TTLPolicy {
	table := make(map[string]time.Duration, len(seconds))
	for category, s := range seconds {
		table[category] = time.Duration(s) * time.Second
	}
	fallback := time.Duration(defaultSeconds) * time.Second
	return func(category string) time.Duration {
		if ttl, ok := table[category]; ok && ttl > 0 {
			return ttl
		}
		return fallback
	}
}

// Store is the cache contract shared by all backends.
type Store interface {
	// Get returns the entry for a key, or (nil, nil) on a miss. Expired
	// entries are treated as misses and dropped.
	Get(ctx context.Context, key, category string) (*Entry, error)

	// Set stores an entry. A zero TTL uses the category default.
	Set(ctx context.Context, e *Entry) error

	// Invalidate removes one entry. Missing keys are not an error.
	Invalidate(ctx context.Context, key string) error

	// InvalidatePrefix removes every entry whose key starts with prefix and
	// reports how many were removed.
	InvalidatePrefix(ctx context.Context, prefix string) (int64, error)

	// InvalidateSubject removes every entry scoped to a subject.
	InvalidateSubject(ctx context.Context, subjectID string) (int64, error)

	// Stats returns the category's counters. An unknown category returns
	// zeroes.
	Stats(category string) Stats

	// Close releases backend resources (janitor goroutines, pools).
	Close() error
}
