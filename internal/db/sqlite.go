package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// schema defines the tables for the portal persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cache_data (
    cache_key   TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,
    expires_at  DATETIME NOT NULL,
    created_at  DATETIME NOT NULL,
    subject_id  TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_cache_data_expires_at ON cache_data(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_data_subject    ON cache_data(subject_id);

CREATE TABLE IF NOT EXISTS api_usage (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id    TEXT NOT NULL DEFAULT '',
    subject_id        TEXT NOT NULL,
    endpoint          TEXT NOT NULL,
    descriptor        TEXT NOT NULL DEFAULT '',
    success           INTEGER NOT NULL DEFAULT 0,
    response_time_ms  INTEGER NOT NULL DEFAULT 0,
    error_kind        TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_usage_subject_date ON api_usage(subject_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_api_usage_endpoint     ON api_usage(endpoint);
CREATE INDEX IF NOT EXISTS idx_api_usage_created_at   ON api_usage(created_at DESC);
`,
	},
	// Migration 2: per-subject quota plans.
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS quota_plan (
    subject_id    TEXT PRIMARY KEY,
    monthly_limit INTEGER NOT NULL,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	// Migration 3: per-window burst limits on quota plans.
	{
		version: 3,
		sql: `
ALTER TABLE quota_plan ADD COLUMN window_limit INTEGER NOT NULL DEFAULT 0;
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Cache entries ───────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertCacheEntry(ctx context.Context, rec *CacheRecord) error {
	metadata := rec.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO cache_data(cache_key, payload, expires_at, created_at, subject_id, metadata)
        VALUES(?,?,?,?,?,?)
        ON CONFLICT(cache_key) DO UPDATE SET
            payload    = excluded.payload,
            expires_at = excluded.expires_at,
            created_at = excluded.created_at,
            subject_id = excluded.subject_id,
            metadata   = excluded.metadata
    `,
		rec.CacheKey, rec.Payload, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC(),
		rec.SubjectID, metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetCacheEntry(ctx context.Context, key string) (*CacheRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cache_key,payload,expires_at,created_at,subject_id,metadata FROM cache_data WHERE cache_key=?`, key)

	rec := &CacheRecord{}
	var expiresAt, createdAt string
	err := row.Scan(&rec.CacheKey, &rec.Payload, &expiresAt, &createdAt, &rec.SubjectID, &rec.Metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ExpiresAt, _ = parseTime(expiresAt)
	rec.CreatedAt, _ = parseTime(createdAt)
	return rec, nil
}

func (s *sqliteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_data WHERE cache_key=?`, key)
	return err
}

func (s *sqliteStore) DeleteCacheByPrefix(ctx context.Context, prefix string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_data WHERE cache_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *sqliteStore) DeleteCacheBySubject(ctx context.Context, subjectID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_data WHERE subject_id=?`, subjectID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *sqliteStore) DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_data WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ─── Usage ledger ────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendUsage(ctx context.Context, rec *UsageRecord) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO api_usage(correlation_id, subject_id, endpoint, descriptor, success, response_time_ms, error_kind, created_at)
        VALUES(?,?,?,?,?,?,?,?)
    `,
		rec.CorrelationID, rec.SubjectID, rec.Endpoint, rec.Descriptor,
		boolToInt(rec.Success), rec.ResponseTimeMs, rec.ErrorKind, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	rec.ID = id
	return nil
}

func (s *sqliteStore) QueryUsage(ctx context.Context, q UsageQuery) ([]*UsageRecord, error) {
	query := `SELECT id,correlation_id,subject_id,endpoint,descriptor,success,response_time_ms,error_kind,created_at FROM api_usage WHERE 1=1`
	args := []any{}

	if q.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, q.SubjectID)
	}
	if q.Endpoint != "" {
		query += ` AND endpoint = ?`
		args = append(args, q.Endpoint)
	}
	if !q.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*UsageRecord
	for rows.Next() {
		rec := &UsageRecord{}
		var success int
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.SubjectID, &rec.Endpoint,
			&rec.Descriptor, &success, &rec.ResponseTimeMs, &rec.ErrorKind, &ts); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.CreatedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) UsageSummary(ctx context.Context, subjectID string, from, to time.Time) (*UsageSummaryRecord, error) {
	summary := &UsageSummaryRecord{
		SubjectID:      subjectID,
		From:           from.UTC(),
		To:             to.UTC(),
		ByEndpoint:     map[string]int64{},
		ByErrorKind:    map[string]int64{},
		DailyBreakdown: map[string]int64{},
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(success), 0),
               COALESCE(AVG(response_time_ms), 0)
        FROM api_usage
        WHERE subject_id = ? AND created_at >= ? AND created_at <= ?
    `, subjectID, from.UTC(), to.UTC())
	if err := row.Scan(&summary.TotalCalls, &summary.SuccessCalls, &summary.AvgResponseMs); err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	summary.FailedCalls = summary.TotalCalls - summary.SuccessCalls
	if summary.TotalCalls > 0 {
		summary.SuccessRate = float64(summary.SuccessCalls) / float64(summary.TotalCalls)
	}

	// per-endpoint
	eRows, err := s.db.QueryContext(ctx, `
        SELECT endpoint, COUNT(*) FROM api_usage
        WHERE subject_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY endpoint
    `, subjectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("usage by endpoint: %w", err)
	}
	defer eRows.Close()
	for eRows.Next() {
		var endpoint string
		var count int64
		if err := eRows.Scan(&endpoint, &count); err != nil {
			return nil, err
		}
		summary.ByEndpoint[endpoint] = count
	}
	if err := eRows.Err(); err != nil {
		return nil, err
	}

	// per-error-kind, failures only
	kRows, err := s.db.QueryContext(ctx, `
        SELECT error_kind, COUNT(*) FROM api_usage
        WHERE subject_id = ? AND created_at >= ? AND created_at <= ? AND success = 0
        GROUP BY error_kind
    `, subjectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("usage by error kind: %w", err)
	}
	defer kRows.Close()
	for kRows.Next() {
		var kind string
		var count int64
		if err := kRows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		summary.ByErrorKind[kind] = count
	}
	if err := kRows.Err(); err != nil {
		return nil, err
	}

	// hourly pattern (UTC hour of day)
	hRows, err := s.db.QueryContext(ctx, `
        SELECT CAST(strftime('%H', created_at) AS INTEGER), COUNT(*) FROM api_usage
        WHERE subject_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY 1
    `, subjectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("usage by hour: %w", err)
	}
	defer hRows.Close()
	for hRows.Next() {
		var hour int
		var count int64
		if err := hRows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		if hour >= 0 && hour < 24 {
			summary.HourlyPattern[hour] = count
		}
	}
	if err := hRows.Err(); err != nil {
		return nil, err
	}

	// daily breakdown (YYYY-MM-DD)
	dRows, err := s.db.QueryContext(ctx, `
        SELECT date(created_at), COUNT(*) FROM api_usage
        WHERE subject_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY 1 ORDER BY 1 ASC
    `, subjectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("usage by day: %w", err)
	}
	defer dRows.Close()
	for dRows.Next() {
		var day string
		var count int64
		if err := dRows.Scan(&day, &count); err != nil {
			return nil, err
		}
		summary.DailyBreakdown[day] = count
	}
	return summary, dRows.Err()
}

func (s *sqliteStore) CountUsageSince(ctx context.Context, subjectID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_usage WHERE subject_id = ? AND created_at >= ?`,
		subjectID, since.UTC(),
	).Scan(&count)
	return count, err
}

// ─── Quota plans ─────────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertQuotaPlan(ctx context.Context, rec *QuotaPlanRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO quota_plan(subject_id, monthly_limit, window_limit, updated_at)
        VALUES(?,?,?,?)
        ON CONFLICT(subject_id) DO UPDATE SET
            monthly_limit = excluded.monthly_limit,
            window_limit  = excluded.window_limit,
            updated_at    = excluded.updated_at
    `,
		rec.SubjectID, rec.MonthlyLimit, rec.WindowLimit, rec.UpdatedAt.UTC(),
	)
	return err
}

func (s *sqliteStore) GetQuotaPlan(ctx context.Context, subjectID string) (*QuotaPlanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subject_id,monthly_limit,window_limit,updated_at FROM quota_plan WHERE subject_id=?`, subjectID)

	rec := &QuotaPlanRecord{}
	var ts string
	err := row.Scan(&rec.SubjectID, &rec.MonthlyLimit, &rec.WindowLimit, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt, _ = parseTime(ts)
	return rec, nil
}

func (s *sqliteStore) ListQuotaPlans(ctx context.Context) ([]*QuotaPlanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id,monthly_limit,window_limit,updated_at FROM quota_plan ORDER BY subject_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*QuotaPlanRecord
	for rows.Next() {
		rec := &QuotaPlanRecord{}
		var ts string
		if err := rows.Scan(&rec.SubjectID, &rec.MonthlyLimit, &rec.WindowLimit, &ts); err != nil {
			return nil, err
		}
		rec.UpdatedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE metacharacters so a prefix matches literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
