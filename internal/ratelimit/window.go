package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/vipcre/portal/internal/metrics"
)

// windowShards bounds lock contention: unrelated (subject, resource) pairs
// land on different shards and never serialize behind one mutex.
const windowShards = 64

// window tracks the admitted timestamps for one (subject, resource) pair.
type window struct {
	times    []time.Time
	lastSeen time.Time
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// SlidingWindow is the in-memory Limiter. The pair table is split across
// shards, each with its own mutex; an admission check only holds the lock of
// the shard its key hashes to.
type SlidingWindow struct {
	shards [windowShards]windowShard

	size     time.Duration
	resolver LimitResolver

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSlidingWindow builds the in-memory limiter. idleEvict controls how long
// an untouched pair's window survives before the janitor drops it; 0 disables
// the janitor.
func NewSlidingWindow(size time.Duration, resolver LimitResolver, idleEvict time.Duration) *SlidingWindow {
	s := &SlidingWindow{
		size:     size,
		resolver: resolver,
		stopCh:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*window)
	}
	if idleEvict > 0 {
		go s.janitor(idleEvict)
	}
	return s
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % windowShards
}

func (s *SlidingWindow) Allow(ctx context.Context, subjectID, resource string) (Decision, error) {
	limit := s.resolver.WindowLimit(ctx, subjectID, resource)
	now := time.Now()
	key := subjectID + "\x00" + resource
	shard := &s.shards[shardIndex(key)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok {
		w = &window{}
		shard.windows[key] = w
		metrics.RateLimitActiveWindows.Inc()
	}
	w.lastSeen = now

	// prune timestamps that slid out of the window
	cutoff := now.Add(-s.size)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= limit {
		oldest := w.times[0]
		resetAt := oldest.Add(s.size)
		metrics.RateLimitDecisions.WithLabelValues(resource, "denied").Inc()
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: time.Until(resetAt),
		}, nil
	}

	w.times = append(w.times, now)
	metrics.RateLimitDecisions.WithLabelValues(resource, "allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.times),
		ResetAt:   now.Add(s.size),
	}, nil
}

func (s *SlidingWindow) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// ActivePairs reports how many (subject, resource) windows are tracked.
func (s *SlidingWindow) ActivePairs() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		total += len(s.shards[i].windows)
		s.shards[i].mu.Unlock()
	}
	return total
}

func (s *SlidingWindow) janitor(idleEvict time.Duration) {
	ticker := time.NewTicker(idleEvict)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle(idleEvict)
		case <-s.stopCh:
			return
		}
	}
}

func (s *SlidingWindow) evictIdle(idleEvict time.Duration) {
	cutoff := time.Now().Add(-idleEvict)
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for key, w := range shard.windows {
			if w.lastSeen.Before(cutoff) {
				delete(shard.windows, key)
				metrics.RateLimitActiveWindows.Dec()
			}
		}
		shard.mu.Unlock()
	}
}
