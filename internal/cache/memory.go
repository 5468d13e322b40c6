package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/vipcre/portal/internal/metrics"
)

// memoryShards spreads keys over independent maps so readers and writers of
// unrelated keys never contend on one lock.
const memoryShards = 32

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// MemoryStore is the volatile in-process cache tier, sharded by key hash.
type MemoryStore struct {
	shards [memoryShards]memoryShard
	ttl    TTLPolicy

	statsMu sync.Mutex
	stats   map[string]*counters

	stopOnce sync.Once
	stopCh   chan struct{}
}

type counters struct {
	hits   uint64
	misses uint64
}

// NewMemoryStore builds the volatile tier. janitorInterval controls the
// background expiry sweep; 0 disables it and expiry happens lazily on reads.
func NewMemoryStore(ttl TTLPolicy, janitorInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		ttl:    ttl,
		stats:  make(map[string]*counters),
		stopCh: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*Entry)
	}
	if janitorInterval > 0 {
		go m.janitor(janitorInterval)
	}
	return m
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%memoryShards]
}

func (m *MemoryStore) Get(ctx context.Context, key, category string) (*Entry, error) {
	now := time.Now()
	shard := m.shard(key)

	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()

	if !ok {
		m.recordMiss(category)
		return nil, nil
	}
	if now.After(entry.ExpiresAt) {
		shard.mu.Lock()
		// re-check under the write lock; a Set may have raced us
		if cur, ok := shard.entries[key]; ok && now.After(cur.ExpiresAt) {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		m.recordMiss(category)
		return nil, nil
	}

	m.recordHit(category)
	copied := *entry
	return &copied, nil
}

func (m *MemoryStore) Set(ctx context.Context, e *Entry) error {
	ttl := e.TTL
	if ttl <= 0 {
		ttl = m.ttl(e.Category)
	}
	now := time.Now()

	stored := *e
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(ttl)
	stored.Payload = append([]byte(nil), e.Payload...)

	shard := m.shard(e.Key)
	shard.mu.Lock()
	shard.entries[e.Key] = &stored
	shard.mu.Unlock()
	return nil
}

func (m *MemoryStore) Invalidate(ctx context.Context, key string) error {
	shard := m.shard(key)
	shard.mu.Lock()
	delete(shard.entries, key)
	shard.mu.Unlock()
	return nil
}

func (m *MemoryStore) InvalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	var removed int64
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key := range shard.entries {
			if strings.HasPrefix(key, prefix) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

func (m *MemoryStore) InvalidateSubject(ctx context.Context, subjectID string) (int64, error) {
	var removed int64
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.SubjectID == subjectID {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

func (m *MemoryStore) Stats(category string) Stats {
	m.statsMu.Lock()
	c, ok := m.stats[category]
	var hits, misses uint64
	if ok {
		hits, misses = c.hits, c.misses
	}
	m.statsMu.Unlock()

	entries := 0
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.RLock()
		for _, e := range shard.entries {
			if e.Category == category {
				entries++
			}
		}
		shard.mu.RUnlock()
	}

	s := Stats{Hits: hits, Misses: misses, Entries: entries}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

// Sweep removes all expired entries and reports how many were dropped.
func (m *MemoryStore) Sweep() int64 {
	now := time.Now()
	var removed int64

	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if now.After(entry.ExpiresAt) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("memory").Add(float64(removed))
	}
	return removed
}

func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryStore) recordHit(category string) {
	m.statsMu.Lock()
	m.bucket(category).hits++
	m.statsMu.Unlock()
	metrics.CacheHits.WithLabelValues(category, "memory").Inc()
}

func (m *MemoryStore) recordMiss(category string) {
	m.statsMu.Lock()
	m.bucket(category).misses++
	m.statsMu.Unlock()
	metrics.CacheMisses.WithLabelValues(category, "memory").Inc()
}

// bucket returns the category's counters, creating them on first use.
// Caller must hold statsMu.
func (m *MemoryStore) bucket(category string) *counters {
	c, ok := m.stats[category]
	if !ok {
		c = &counters{}
		m.stats[category] = c
	}
	return c
}
