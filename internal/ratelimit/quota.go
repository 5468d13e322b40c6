package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/db"
)

// MonthlyQuota enforces per-subject monthly call allowances. The sliding
// window governs burst rate; this governs the bill. Plans live in the
// quota_plan table; consumption is counted from the usage ledger.
//
// Plan lookups are cached briefly so the hot path does not hit SQLite on
// every request. Store errors fail open with a warning.
type MonthlyQuota struct {
	plans        db.QuotaStore
	usage        db.UsageStore
	defaultLimit int64
	cacheFor     time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedPlan
}

type cachedPlan struct {
	limit     int64
	fetchedAt time.Time
}

// QuotaDecision reports a monthly allowance check.
type QuotaDecision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// NewMonthlyQuota builds the monthly quota checker. defaultLimit 0 means
// subjects without an explicit plan are unlimited.
func NewMonthlyQuota(plans db.QuotaStore, usage db.UsageStore, defaultLimit int64, logger *zap.Logger) *MonthlyQuota {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonthlyQuota{
		plans:        plans,
		usage:        usage,
		defaultLimit: defaultLimit,
		cacheFor:     time.Minute,
		logger:       logger,
		cache:        make(map[string]cachedPlan),
	}
}

// Check reports whether the subject has monthly allowance left. It does not
// consume anything; the ledger write after the call is what consumes.
func (q *MonthlyQuota) Check(ctx context.Context, subjectID string) (QuotaDecision, error) {
	limit := q.limitFor(ctx, subjectID)
	monthStart := startOfMonth(time.Now().UTC())
	decision := QuotaDecision{Allowed: true, Limit: limit, ResetAt: monthStart.AddDate(0, 1, 0)}

	if limit <= 0 {
		return decision, nil
	}

	used, err := q.usage.CountUsageSince(ctx, subjectID, monthStart)
	if err != nil {
		q.logger.Warn("monthly quota count failed, failing open",
			zap.String("subject_id", subjectID), zap.Error(err))
		return decision, nil
	}

	decision.Used = used
	decision.Remaining = limit - used
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	decision.Allowed = used < limit
	return decision, nil
}

func (q *MonthlyQuota) limitFor(ctx context.Context, subjectID string) int64 {
	now := time.Now()

	q.mu.Lock()
	if c, ok := q.cache[subjectID]; ok && now.Sub(c.fetchedAt) < q.cacheFor {
		q.mu.Unlock()
		return c.limit
	}
	q.mu.Unlock()

	limit := q.defaultLimit
	plan, err := q.plans.GetQuotaPlan(ctx, subjectID)
	if err != nil {
		q.logger.Warn("quota plan lookup failed, using default",
			zap.String("subject_id", subjectID), zap.Error(err))
	} else if plan != nil {
		limit = plan.MonthlyLimit
	}

	q.mu.Lock()
	q.cache[subjectID] = cachedPlan{limit: limit, fetchedAt: now}
	q.mu.Unlock()
	return limit
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
