package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.db")

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Re-opening must not attempt to re-apply migrations.
	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if err := s2.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestCacheEntryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &CacheRecord{
		CacheKey:  "abc123",
		Payload:   `{"price": 450000}`,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		SubjectID: "user-1",
	}
	if err := s.UpsertCacheEntry(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetCacheEntry(ctx, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry, got nil")
	}
	if got.Payload != rec.Payload {
		t.Errorf("payload = %q, want %q", got.Payload, rec.Payload)
	}
	if got.SubjectID != "user-1" {
		t.Errorf("subject = %q, want user-1", got.SubjectID)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, rec.ExpiresAt)
	}

	// Upsert replaces in place.
	rec.Payload = `{"price": 460000}`
	if err := s.UpsertCacheEntry(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = s.GetCacheEntry(ctx, "abc123")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.Payload != `{"price": 460000}` {
		t.Errorf("payload after upsert = %q", got.Payload)
	}
}

func TestGetCacheEntryMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetCacheEntry(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %+v", got)
	}
}

func TestDeleteCacheBySubject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, e := range []struct{ key, subject string }{
		{"k1", "user-1"},
		{"k2", "user-1"},
		{"k3", "user-2"},
	} {
		err := s.UpsertCacheEntry(ctx, &CacheRecord{
			CacheKey: e.key, Payload: "{}", ExpiresAt: now.Add(time.Hour), CreatedAt: now, SubjectID: e.subject,
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", e.key, err)
		}
	}

	n, err := s.DeleteCacheBySubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("delete by subject: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	// user-2's entry survives
	got, err := s.GetCacheEntry(ctx, "k3")
	if err != nil || got == nil {
		t.Fatalf("k3 should survive: got=%v err=%v", got, err)
	}
}

func TestDeleteCacheByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"prop:1", "prop:2", "rent:1", "prop_x"} {
		err := s.UpsertCacheEntry(ctx, &CacheRecord{
			CacheKey: key, Payload: "{}", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}

	n, err := s.DeleteCacheByPrefix(ctx, "prop:")
	if err != nil {
		t.Fatalf("delete by prefix: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	// underscore in the stored key must not act as a wildcard
	got, err := s.GetCacheEntry(ctx, "prop_x")
	if err != nil || got == nil {
		t.Fatalf("prop_x should survive: got=%v err=%v", got, err)
	}
}

func TestDeleteExpiredCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []struct {
		key     string
		expires time.Time
	}{
		{"fresh", now.Add(time.Hour)},
		{"stale1", now.Add(-time.Minute)},
		{"stale2", now.Add(-time.Hour)},
	}
	for _, e := range entries {
		err := s.UpsertCacheEntry(ctx, &CacheRecord{
			CacheKey: e.key, Payload: "{}", ExpiresAt: e.expires, CreatedAt: now.Add(-2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", e.key, err)
		}
	}

	n, err := s.DeleteExpiredCache(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	got, err := s.GetCacheEntry(ctx, "fresh")
	if err != nil || got == nil {
		t.Fatalf("fresh should survive: got=%v err=%v", got, err)
	}
}

func TestAppendAndQueryUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &UsageRecord{
		CorrelationID:  "corr-1",
		SubjectID:      "user-1",
		Endpoint:       "/properties",
		Descriptor:     "123 Main St",
		Success:        true,
		ResponseTimeMs: 340,
		CreatedAt:      now,
	}
	if err := s.AppendUsage(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected ID to be assigned")
	}

	if err := s.AppendUsage(ctx, &UsageRecord{
		SubjectID: "user-1", Endpoint: "/avm/rent/long-term",
		Success: false, ErrorKind: "server", ResponseTimeMs: 5200, CreatedAt: now,
	}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := s.AppendUsage(ctx, &UsageRecord{
		SubjectID: "user-2", Endpoint: "/properties",
		Success: true, ResponseTimeMs: 100, CreatedAt: now,
	}); err != nil {
		t.Fatalf("append 3: %v", err)
	}

	got, err := s.QueryUsage(ctx, UsageQuery{SubjectID: "user-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	got, err = s.QueryUsage(ctx, UsageQuery{SubjectID: "user-1", Endpoint: "/properties"})
	if err != nil {
		t.Fatalf("query by endpoint: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if !got[0].Success || got[0].ResponseTimeMs != 340 || got[0].CorrelationID != "corr-1" {
		t.Errorf("unexpected record: %+v", got[0])
	}
}

func TestUsageSummaryAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	records := []struct {
		endpoint string
		success  bool
		kind     string
		ms       int64
		at       time.Time
	}{
		{"/properties", true, "", 100, base},
		{"/properties", true, "", 300, base.Add(30 * time.Minute)},
		{"/properties", false, "timeout", 15000, base.Add(3 * time.Hour)},
		{"/avm/rent/long-term", true, "", 200, base.Add(24 * time.Hour)},
	}
	for i, r := range records {
		err := s.AppendUsage(ctx, &UsageRecord{
			SubjectID: "user-1", Endpoint: r.endpoint, Success: r.success,
			ErrorKind: r.kind, ResponseTimeMs: r.ms, CreatedAt: r.at,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// another subject's traffic must not leak into the summary
	if err := s.AppendUsage(ctx, &UsageRecord{
		SubjectID: "user-2", Endpoint: "/properties", Success: true, ResponseTimeMs: 50, CreatedAt: base,
	}); err != nil {
		t.Fatalf("append other subject: %v", err)
	}

	sum, err := s.UsageSummary(ctx, "user-1", base.Add(-time.Hour), base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if sum.TotalCalls != 4 {
		t.Errorf("total = %d, want 4", sum.TotalCalls)
	}
	if sum.SuccessCalls != 3 || sum.FailedCalls != 1 {
		t.Errorf("success/failed = %d/%d, want 3/1", sum.SuccessCalls, sum.FailedCalls)
	}
	if sum.SuccessRate != 0.75 {
		t.Errorf("success rate = %v, want 0.75", sum.SuccessRate)
	}
	if sum.ByEndpoint["/properties"] != 3 {
		t.Errorf("by endpoint /properties = %d, want 3", sum.ByEndpoint["/properties"])
	}
	if sum.ByErrorKind["timeout"] != 1 {
		t.Errorf("by error kind timeout = %d, want 1", sum.ByErrorKind["timeout"])
	}
	if sum.HourlyPattern[14] != 3 {
		t.Errorf("hour 14 = %d, want 3", sum.HourlyPattern[14])
	}
	if sum.HourlyPattern[17] != 1 {
		t.Errorf("hour 17 = %d, want 1", sum.HourlyPattern[17])
	}
	if sum.DailyBreakdown["2026-08-10"] != 3 {
		t.Errorf("day 2026-08-10 = %d, want 3", sum.DailyBreakdown["2026-08-10"])
	}
	if sum.DailyBreakdown["2026-08-11"] != 1 {
		t.Errorf("day 2026-08-11 = %d, want 1", sum.DailyBreakdown["2026-08-11"])
	}

	wantAvg := float64(100+300+15000+200) / 4
	if sum.AvgResponseMs != wantAvg {
		t.Errorf("avg response = %v, want %v", sum.AvgResponseMs, wantAvg)
	}
}

func TestCountUsageSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{time.Minute, time.Hour, 48 * time.Hour} {
		if err := s.AppendUsage(ctx, &UsageRecord{
			SubjectID: "user-1", Endpoint: "/properties", Success: true, CreatedAt: now.Add(-age),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count, err := s.CountUsageSince(ctx, "user-1", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestQuotaPlanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetQuotaPlan(ctx, "user-1")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing plan, got %+v", got)
	}

	if err := s.UpsertQuotaPlan(ctx, &QuotaPlanRecord{SubjectID: "user-1", MonthlyLimit: 1000}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertQuotaPlan(ctx, &QuotaPlanRecord{SubjectID: "user-1", MonthlyLimit: 2000, WindowLimit: 30}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	got, err = s.GetQuotaPlan(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.MonthlyLimit != 2000 {
		t.Errorf("plan = %+v, want monthly_limit 2000", got)
	}
	if got != nil && got.WindowLimit != 30 {
		t.Errorf("window_limit = %d, want 30", got.WindowLimit)
	}

	plans, err := s.ListQuotaPlans(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 1 {
		t.Errorf("len = %d, want 1", len(plans))
	}
}
