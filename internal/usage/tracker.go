// Package usage maintains the append-only ledger of provider-call attempts
// and serves windowed analytics over it.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/db"
	"github.com/vipcre/portal/internal/metrics"
)

// Record describes one logical request's terminal outcome.
type Record struct {
	CorrelationID  string
	SubjectID      string
	Endpoint       string
	Descriptor     string
	Success        bool
	ResponseTimeMs int64
	ErrorKind      string
}

// Summary is the aggregate view handed to dashboards.
type Summary = db.UsageSummaryRecord

// Tracker appends to and aggregates the api_usage ledger.
type Tracker struct {
	store  db.UsageStore
	logger *zap.Logger
}

// NewTracker builds a ledger tracker.
func NewTracker(store db.UsageStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger}
}

// Track appends one ledger entry. Ledger failures are logged and dropped:
// bookkeeping must never break the request that produced it.
func (t *Tracker) Track(ctx context.Context, rec Record) {
	if rec.CorrelationID == "" {
		rec.CorrelationID = uuid.NewString()
	}

	outcome := "failure"
	if rec.Success {
		outcome = "success"
	}
	metrics.UsageRecordsTotal.WithLabelValues(rec.Endpoint, outcome).Inc()

	err := t.store.AppendUsage(ctx, &db.UsageRecord{
		CorrelationID:  rec.CorrelationID,
		SubjectID:      rec.SubjectID,
		Endpoint:       rec.Endpoint,
		Descriptor:     rec.Descriptor,
		Success:        rec.Success,
		ResponseTimeMs: rec.ResponseTimeMs,
		ErrorKind:      rec.ErrorKind,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		metrics.UsageWriteFailures.Inc()
		t.logger.Error("usage ledger write failed, record dropped",
			zap.String("correlation_id", rec.CorrelationID),
			zap.String("subject_id", rec.SubjectID),
			zap.String("endpoint", rec.Endpoint),
			zap.Error(err))
	}
}

// Summarize aggregates a subject's ledger over the trailing periodDays.
func (t *Tracker) Summarize(ctx context.Context, subjectID string, periodDays int) (*Summary, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -periodDays)
	return t.store.UsageSummary(ctx, subjectID, from, to)
}

// Recent returns a subject's newest ledger entries.
func (t *Tracker) Recent(ctx context.Context, subjectID string, limit int) ([]*db.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return t.store.QueryUsage(ctx, db.UsageQuery{SubjectID: subjectID, Limit: limit})
}
