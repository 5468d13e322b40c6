package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Tiered composes the volatile and durable tiers. Reads check memory first,
// then SQLite; a durable hit is promoted into memory with its remaining TTL
// so a restarted instance warms itself from disk. Writes go to both tiers.
type Tiered struct {
	volatile Store
	durable  Store
	logger   *zap.Logger
}

// NewTiered builds the two-tier store.
func NewTiered(volatile, durable Store, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{volatile: volatile, durable: durable, logger: logger}
}

func (t *Tiered) Get(ctx context.Context, key, category string) (*Entry, error) {
	if entry, err := t.volatile.Get(ctx, key, category); err == nil && entry != nil {
		return entry, nil
	}

	entry, err := t.durable.Get(ctx, key, category)
	if err != nil || entry == nil {
		return nil, nil
	}

	// promote with the remaining lifetime, not a fresh one
	remaining := time.Until(entry.ExpiresAt)
	if remaining > 0 {
		promoted := *entry
		promoted.TTL = remaining
		if err := t.volatile.Set(ctx, &promoted); err != nil {
			t.logger.Warn("cache promotion failed", zap.Error(err))
		}
	}
	return entry, nil
}

func (t *Tiered) Set(ctx context.Context, e *Entry) error {
	if err := t.volatile.Set(ctx, e); err != nil {
		t.logger.Warn("volatile cache write failed", zap.Error(err))
	}
	if err := t.durable.Set(ctx, e); err != nil {
		t.logger.Warn("durable cache write failed", zap.Error(err))
	}
	// cache writes never fail the request
	return nil
}

func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	return errors.Join(
		t.volatile.Invalidate(ctx, key),
		t.durable.Invalidate(ctx, key),
	)
}

func (t *Tiered) InvalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	nv, errV := t.volatile.InvalidatePrefix(ctx, prefix)
	nd, errD := t.durable.InvalidatePrefix(ctx, prefix)
	return nv + nd, errors.Join(errV, errD)
}

func (t *Tiered) InvalidateSubject(ctx context.Context, subjectID string) (int64, error) {
	nv, errV := t.volatile.InvalidateSubject(ctx, subjectID)
	nd, errD := t.durable.InvalidateSubject(ctx, subjectID)
	return nv + nd, errors.Join(errV, errD)
}

// Stats reports the volatile tier's counters; the memory tier fields the
// first look at every read, so its hit rate is the one dashboards care about.
func (t *Tiered) Stats(category string) Stats {
	return t.volatile.Stats(category)
}

// DurableStats reports the durable tier's counters.
func (t *Tiered) DurableStats(category string) Stats {
	return t.durable.Stats(category)
}

func (t *Tiered) Close() error {
	return errors.Join(t.volatile.Close(), t.durable.Close())
}
