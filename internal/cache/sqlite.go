package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/db"
	"github.com/vipcre/portal/internal/metrics"
)

// SQLiteStore is the durable cache tier, backed by the cache_data table.
// Read failures degrade to misses; write failures are logged and dropped.
type SQLiteStore struct {
	store  db.CacheStore
	ttl    TTLPolicy
	logger *zap.Logger

	statsMu sync.Mutex
	stats   map[string]*counters
}

// NewSQLiteStore builds the durable tier over an opened db.CacheStore.
func NewSQLiteStore(store db.CacheStore, ttl TTLPolicy, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		store:  store,
		ttl:    ttl,
		logger: logger,
		stats:  make(map[string]*counters),
	}
}

func (s *SQLiteStore) Get(ctx context.Context, key, category string) (*Entry, error) {
	rec, err := s.store.GetCacheEntry(ctx, key)
	if err != nil {
		// degrade to a miss; the caller can still reach the provider
		s.logger.Warn("durable cache read failed, treating as miss",
			zap.String("category", category), zap.Error(err))
		metrics.CacheBackendErrors.WithLabelValues("sqlite", "get").Inc()
		s.recordMiss(category)
		return nil, nil
	}
	if rec == nil {
		s.recordMiss(category)
		return nil, nil
	}
	if time.Now().After(rec.ExpiresAt) {
		if err := s.store.DeleteCacheEntry(ctx, key); err != nil {
			s.logger.Warn("expired cache entry delete failed", zap.Error(err))
			metrics.CacheBackendErrors.WithLabelValues("sqlite", "invalidate").Inc()
		}
		s.recordMiss(category)
		return nil, nil
	}

	s.recordHit(category)
	return &Entry{
		Key:       rec.CacheKey,
		Category:  category,
		SubjectID: rec.SubjectID,
		Payload:   []byte(rec.Payload),
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *SQLiteStore) Set(ctx context.Context, e *Entry) error {
	ttl := e.TTL
	if ttl <= 0 {
		ttl = s.ttl(e.Category)
	}
	now := time.Now().UTC()

	err := s.store.UpsertCacheEntry(ctx, &db.CacheRecord{
		CacheKey:  e.Key,
		Payload:   string(e.Payload),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		SubjectID: e.SubjectID,
	})
	if err != nil {
		s.logger.Warn("durable cache write failed, dropping entry",
			zap.String("category", e.Category), zap.Error(err))
		metrics.CacheBackendErrors.WithLabelValues("sqlite", "set").Inc()
	}
	return nil
}

func (s *SQLiteStore) Invalidate(ctx context.Context, key string) error {
	return s.store.DeleteCacheEntry(ctx, key)
}

func (s *SQLiteStore) InvalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	return s.store.DeleteCacheByPrefix(ctx, prefix)
}

func (s *SQLiteStore) InvalidateSubject(ctx context.Context, subjectID string) (int64, error) {
	return s.store.DeleteCacheBySubject(ctx, subjectID)
}

func (s *SQLiteStore) Stats(category string) Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	c, ok := s.stats[category]
	if !ok {
		return Stats{}
	}
	st := Stats{Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

func (s *SQLiteStore) Close() error { return nil }

// SweepExpired removes entries past their expiry and reports how many.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := s.store.DeleteExpiredCache(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("sqlite").Add(float64(removed))
	}
	return removed, nil
}

func (s *SQLiteStore) recordHit(category string) {
	s.statsMu.Lock()
	c, ok := s.stats[category]
	if !ok {
		c = &counters{}
		s.stats[category] = c
	}
	c.hits++
	s.statsMu.Unlock()
	metrics.CacheHits.WithLabelValues(category, "sqlite").Inc()
}

func (s *SQLiteStore) recordMiss(category string) {
	s.statsMu.Lock()
	c, ok := s.stats[category]
	if !ok {
		c = &counters{}
		s.stats[category] = c
	}
	c.misses++
	s.statsMu.Unlock()
	metrics.CacheMisses.WithLabelValues(category, "sqlite").Inc()
}
