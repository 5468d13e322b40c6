package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/db"
)

func testTTL() TTLPolicy {
	return StaticTTLPolicy(map[string]int{
		"property_data": 7200,
		"api_usage":     300,
	}, 3600)
}

func TestKeyNormalization(t *testing.T) {
	a := Key("user-1", "123 Main St", "Austin", "TX")
	b := Key("user-1", "123  MAIN st", "austin", "tx")
	if a != b {
		t.Errorf("normalized keys differ: %s vs %s", a, b)
	}

	c := Key("user-2", "123 Main St", "Austin", "TX")
	if a == c {
		t.Error("different subjects must not share keys")
	}

	d := Key("user-1", "123 Main St", "Austin")
	if a == d {
		t.Error("different parts must not share keys")
	}

	if Key("", "x") != Key("  ", "x") {
		t.Error("blank subject should normalize to the shared scope")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	key := Key("user-1", "addr")
	err := m.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: []byte(`{"a":1}`)})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := m.Get(ctx, key, "property_data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected hit")
	}
	if string(got.Payload) != `{"a":1}` {
		t.Errorf("payload = %s", got.Payload)
	}
	if got.ExpiresAt.IsZero() {
		t.Error("expected populated expiry")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	key := Key("", "short-lived")
	if err := m.Set(ctx, &Entry{Key: key, Category: "property_data", Payload: []byte("x"), TTL: 10 * time.Millisecond}); err != nil {
		t.Fatalf("set: %v", err)
	}

	if got, _ := m.Get(ctx, key, "property_data"); got == nil {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if got, _ := m.Get(ctx, key, "property_data"); got != nil {
		t.Error("expected miss after expiry")
	}

	// a fresh Set after expiry behaves like a new entry
	if err := m.Set(ctx, &Entry{Key: key, Category: "property_data", Payload: []byte("y")}); err != nil {
		t.Fatalf("re-set: %v", err)
	}
	got, _ := m.Get(ctx, key, "property_data")
	if got == nil || string(got.Payload) != "y" {
		t.Errorf("expected refreshed entry, got %+v", got)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	key := Key("", "k")
	_ = m.Set(ctx, &Entry{Key: key, Category: "property_data", Payload: []byte("x")})

	m.Get(ctx, key, "property_data")     // hit
	m.Get(ctx, key, "property_data")     // hit
	m.Get(ctx, "missing", "property_data") // miss

	s := m.Stats("property_data")
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", s.Hits, s.Misses)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("hit rate = %v, want ~0.667", s.HitRate)
	}
	if s.Entries != 1 {
		t.Errorf("entries = %d, want 1", s.Entries)
	}

	// other categories are untouched
	if other := m.Stats("api_usage"); other.Hits != 0 || other.Misses != 0 {
		t.Errorf("api_usage stats leaked: %+v", other)
	}
}

func TestMemoryStoreInvalidateSubject(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	k1 := Key("user-1", "a")
	k2 := Key("user-1", "b")
	k3 := Key("user-2", "a")
	_ = m.Set(ctx, &Entry{Key: k1, Category: "property_data", SubjectID: "user-1", Payload: []byte("1")})
	_ = m.Set(ctx, &Entry{Key: k2, Category: "property_data", SubjectID: "user-1", Payload: []byte("2")})
	_ = m.Set(ctx, &Entry{Key: k3, Category: "property_data", SubjectID: "user-2", Payload: []byte("3")})

	n, err := m.InvalidateSubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("invalidate subject: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}

	if got, _ := m.Get(ctx, k3, "property_data"); got == nil {
		t.Error("user-2 entry should survive")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	_ = m.Set(ctx, &Entry{Key: "stale", Category: "property_data", Payload: []byte("x"), TTL: time.Millisecond})
	_ = m.Set(ctx, &Entry{Key: "fresh", Category: "property_data", Payload: []byte("y"), TTL: time.Hour})

	time.Sleep(5 * time.Millisecond)

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("swept = %d, want 1", removed)
	}
}

func TestMemoryStoreConcurrentPopulation(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	key := Key("user-1", "contested")
	payload := []byte(`{"v":"stable"}`)

	// many goroutines miss, fetch, and Set the same key while others read;
	// whoever wins, the surviving entry must be intact
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, _ := m.Get(ctx, key, "property_data"); got != nil {
				if string(got.Payload) != string(payload) {
					t.Errorf("read a torn entry: %q", got.Payload)
				}
				return
			}
			_ = m.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: payload})
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, key, "property_data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || string(got.Payload) != string(payload) {
		t.Fatalf("entry after concurrent population: %+v", got)
	}
}

func TestMemoryStoreConcurrentDistinctKeys(t *testing.T) {
	m := NewMemoryStore(testTTL(), 0)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := Key("user-1", "addr", strconv.Itoa(n))
			_ = m.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: []byte(strconv.Itoa(n))})
			got, _ := m.Get(ctx, key, "property_data")
			if got == nil || string(got.Payload) != strconv.Itoa(n) {
				t.Errorf("key %d: got %+v", n, got)
			}
		}(i)
	}
	wg.Wait()

	if s := m.Stats("property_data"); s.Entries != 64 {
		t.Errorf("entries = %d, want 64", s.Entries)
	}
}

func newDurable(t *testing.T) (*SQLiteStore, db.Store) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewSQLiteStore(store, testTTL(), zap.NewNop()), store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, _ := newDurable(t)
	ctx := context.Background()

	key := Key("user-1", "addr")
	if err := s.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: []byte(`{"b":2}`)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, key, "property_data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || string(got.Payload) != `{"b":2}` {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.SubjectID != "user-1" {
		t.Errorf("subject = %q", got.SubjectID)
	}
}

func TestSQLiteStoreExpiredIsMiss(t *testing.T) {
	s, raw := newDurable(t)
	ctx := context.Background()

	// write an already-expired row straight through the db layer
	err := raw.UpsertCacheEntry(ctx, &db.CacheRecord{
		CacheKey:  "expired",
		Payload:   "{}",
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.Get(ctx, "expired", "property_data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected miss for expired entry")
	}

	// the lazy delete removed the row
	rec, err := raw.GetCacheEntry(ctx, "expired")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if rec != nil {
		t.Error("expired row should have been dropped")
	}
}

func newTiered(t *testing.T) (*Tiered, *MemoryStore, *SQLiteStore) {
	t.Helper()
	mem := NewMemoryStore(testTTL(), 0)
	t.Cleanup(func() { _ = mem.Close() })
	durable, _ := newDurable(t)
	return NewTiered(mem, durable, zap.NewNop()), mem, durable
}

func TestTieredPromotion(t *testing.T) {
	tiered, mem, durable := newTiered(t)
	ctx := context.Background()

	key := Key("user-1", "addr")
	// seed only the durable tier, as if the process had restarted
	if err := durable.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: []byte("v")}); err != nil {
		t.Fatalf("seed durable: %v", err)
	}

	got, err := tiered.Get(ctx, key, "property_data")
	if err != nil {
		t.Fatalf("tiered get: %v", err)
	}
	if got == nil {
		t.Fatal("expected durable hit")
	}

	// the entry is now in the volatile tier
	promoted, _ := mem.Get(ctx, key, "property_data")
	if promoted == nil {
		t.Fatal("expected promotion into memory")
	}
	if promoted.ExpiresAt.After(got.ExpiresAt.Add(time.Second)) {
		t.Error("promotion must keep the remaining TTL, not grant a fresh one")
	}
}

func TestTieredWriteThrough(t *testing.T) {
	tiered, mem, durable := newTiered(t)
	ctx := context.Background()

	key := Key("user-1", "addr")
	if err := tiered.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: []byte("v")}); err != nil {
		t.Fatalf("set: %v", err)
	}

	if got, _ := mem.Get(ctx, key, "property_data"); got == nil {
		t.Error("volatile tier missing entry")
	}
	if got, _ := durable.Get(ctx, key, "property_data"); got == nil {
		t.Error("durable tier missing entry")
	}
}

func TestTieredConcurrentPopulation(t *testing.T) {
	tiered, _, _ := newTiered(t)
	ctx := context.Background()

	key := Key("user-1", "contested")
	payload := []byte(`{"v":"stable"}`)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, _ := tiered.Get(ctx, key, "property_data"); got != nil {
				if string(got.Payload) != string(payload) {
					t.Errorf("read a torn entry: %q", got.Payload)
				}
				return
			}
			_ = tiered.Set(ctx, &Entry{Key: key, Category: "property_data", SubjectID: "user-1", Payload: payload})
		}()
	}
	wg.Wait()

	got, err := tiered.Get(ctx, key, "property_data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || string(got.Payload) != string(payload) {
		t.Fatalf("entry after concurrent population: %+v", got)
	}
}

func TestTieredInvalidateSubjectSpansTiers(t *testing.T) {
	tiered, mem, durable := newTiered(t)
	ctx := context.Background()

	k1 := Key("user-1", "a")
	k2 := Key("user-2", "a")
	_ = tiered.Set(ctx, &Entry{Key: k1, Category: "property_data", SubjectID: "user-1", Payload: []byte("1")})
	_ = tiered.Set(ctx, &Entry{Key: k2, Category: "property_data", SubjectID: "user-2", Payload: []byte("2")})

	if _, err := tiered.InvalidateSubject(ctx, "user-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if got, _ := mem.Get(ctx, k1, "property_data"); got != nil {
		t.Error("volatile entry for user-1 should be gone")
	}
	if got, _ := durable.Get(ctx, k1, "property_data"); got != nil {
		t.Error("durable entry for user-1 should be gone")
	}
	if got, _ := tiered.Get(ctx, k2, "property_data"); got == nil {
		t.Error("user-2 entry should survive")
	}
}
