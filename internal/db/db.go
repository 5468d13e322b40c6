// Package db provides the SQLite persistence layer for the portal data
// services: the durable cache tier, the API usage ledger, and quota plans.
package db

import (
	"context"
	"time"
)

// CacheRecord is one durable cache entry.
type CacheRecord struct {
	CacheKey  string    `json:"cache_key"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	SubjectID string    `json:"subject_id,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

// UsageRecord is one append-only entry in the API usage ledger. Exactly one
// record is written per logical request, whatever its outcome.
type UsageRecord struct {
	ID             int64     `json:"id"`
	CorrelationID  string    `json:"correlation_id"`
	SubjectID      string    `json:"subject_id"`
	Endpoint       string    `json:"endpoint"`
	Descriptor     string    `json:"descriptor,omitempty"`
	Success        bool      `json:"success"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageQuery filters ledger reads.
type UsageQuery struct {
	SubjectID string
	Endpoint  string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// UsageSummaryRecord is the aggregate view of a subject's ledger over a
// period, computed in SQL.
type UsageSummaryRecord struct {
	SubjectID      string           `json:"subject_id"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	TotalCalls     int64            `json:"total_calls"`
	SuccessCalls   int64            `json:"success_calls"`
	FailedCalls    int64            `json:"failed_calls"`
	SuccessRate    float64          `json:"success_rate"`
	AvgResponseMs  float64          `json:"avg_response_ms"`
	ByEndpoint     map[string]int64 `json:"by_endpoint"`
	ByErrorKind    map[string]int64 `json:"by_error_kind"`
	HourlyPattern  [24]int64        `json:"hourly_pattern"`
	DailyBreakdown map[string]int64 `json:"daily_breakdown"`
}

// QuotaPlanRecord maps a subject to its call allowances. MonthlyLimit bounds
// the bill; WindowLimit bounds burst rate per sliding window. Zero means the
// default applies.
type QuotaPlanRecord struct {
	SubjectID    string    `json:"subject_id"`
	MonthlyLimit int64     `json:"monthly_limit"`
	WindowLimit  int64     `json:"window_limit"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CacheStore persists the durable cache tier.
type CacheStore interface {
	// UpsertCacheEntry inserts or replaces an entry by key.
	UpsertCacheEntry(ctx context.Context, rec *CacheRecord) error

	// GetCacheEntry returns the entry for a key, or (nil, nil) when absent.
	// Expiry is not checked here; callers decide what stale means.
	GetCacheEntry(ctx context.Context, key string) (*CacheRecord, error)

	// DeleteCacheEntry removes one entry. Missing keys are not an error.
	DeleteCacheEntry(ctx context.Context, key string) error

	// DeleteCacheByPrefix removes every entry whose key starts with prefix.
	DeleteCacheByPrefix(ctx context.Context, prefix string) (int64, error)

	// DeleteCacheBySubject removes every entry scoped to a subject.
	DeleteCacheBySubject(ctx context.Context, subjectID string) (int64, error)

	// DeleteExpiredCache removes entries whose expires_at is before now.
	DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error)
}

// UsageStore persists and aggregates the API usage ledger.
type UsageStore interface {
	// AppendUsage appends one ledger entry. The record's ID is set on return.
	AppendUsage(ctx context.Context, rec *UsageRecord) error

	// QueryUsage returns matching ledger entries, newest first.
	QueryUsage(ctx context.Context, q UsageQuery) ([]*UsageRecord, error)

	// UsageSummary aggregates a subject's ledger between from and to.
	UsageSummary(ctx context.Context, subjectID string, from, to time.Time) (*UsageSummaryRecord, error)

	// CountUsageSince counts a subject's ledger entries at or after since.
	CountUsageSince(ctx context.Context, subjectID string, since time.Time) (int64, error)
}

// QuotaStore persists per-subject quota plans.
type QuotaStore interface {
	// UpsertQuotaPlan sets a subject's monthly allowance.
	UpsertQuotaPlan(ctx context.Context, rec *QuotaPlanRecord) error

	// GetQuotaPlan returns the plan for a subject, or (nil, nil) when the
	// subject has no explicit plan and the default applies.
	GetQuotaPlan(ctx context.Context, subjectID string) (*QuotaPlanRecord, error)

	// ListQuotaPlans returns all explicit plans.
	ListQuotaPlans(ctx context.Context) ([]*QuotaPlanRecord, error)
}

// Store is the complete persistence interface.
type Store interface {
	CacheStore
	UsageStore
	QuotaStore

	Ping(ctx context.Context) error
	Close() error
}
