package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/db"
)

// PlanLimits resolves per-window limits from the quota_plan table, falling
// back to a default for subjects without an explicit plan (or with a plan
// that only sets a monthly allowance). Lookups are cached briefly so the
// admission path does not hit SQLite on every request; lookup failures fail
// open to the default.
type PlanLimits struct {
	plans        db.QuotaStore
	defaultLimit int
	cacheFor     time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedWindowLimit
}

type cachedWindowLimit struct {
	limit     int
	fetchedAt time.Time
}

// NewPlanLimits builds the quota_plan-backed LimitResolver.
func NewPlanLimits(plans db.QuotaStore, defaultLimit int, logger *zap.Logger) *PlanLimits {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanLimits{
		plans:        plans,
		defaultLimit: defaultLimit,
		cacheFor:     time.Minute,
		logger:       logger,
		cache:        make(map[string]cachedWindowLimit),
	}
}

func (p *PlanLimits) WindowLimit(ctx context.Context, subjectID, resource string) int {
	now := time.Now()

	p.mu.Lock()
	if c, ok := p.cache[subjectID]; ok && now.Sub(c.fetchedAt) < p.cacheFor {
		p.mu.Unlock()
		return c.limit
	}
	p.mu.Unlock()

	limit := p.defaultLimit
	plan, err := p.plans.GetQuotaPlan(ctx, subjectID)
	if err != nil {
		p.logger.Warn("window limit lookup failed, using default",
			zap.String("subject_id", subjectID), zap.Error(err))
	} else if plan != nil && plan.WindowLimit > 0 {
		limit = int(plan.WindowLimit)
	}

	p.mu.Lock()
	p.cache[subjectID] = cachedWindowLimit{limit: limit, fetchedAt: now}
	p.mu.Unlock()
	return limit
}
