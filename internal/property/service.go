// Package property is the orchestration layer between the dashboard and the
// RentCast provider. Every fetch walks the same pipeline: validate, consult
// the cache, consult the rate limiter and monthly quota, call the provider
// with retries, cache the success, and append exactly one usage record per
// logical request.
package property

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/apierr"
	"github.com/vipcre/portal/internal/cache"
	"github.com/vipcre/portal/internal/config"
	"github.com/vipcre/portal/internal/logging"
	"github.com/vipcre/portal/internal/provider/rentcast"
	"github.com/vipcre/portal/internal/ratelimit"
	"github.com/vipcre/portal/internal/usage"
)

// Provider is the slice of the RentCast client the service depends on.
type Provider interface {
	PropertyRecords(ctx context.Context, address, city, state, zip string) ([]rentcast.Property, int, error)
	RentEstimateFor(ctx context.Context, address, propertyType string, bedrooms, bathrooms float64, squareFootage int) (*rentcast.RentEstimate, int, error)
	ValueEstimateFor(ctx context.Context, address string) (*rentcast.ValueEstimate, int, error)
}

// Service wires cache, rate limiting, quota, provider, and the usage ledger
// into the dashboard-facing operations.
type Service struct {
	cache    cache.Store
	limiter  ratelimit.Limiter
	quota    *ratelimit.MonthlyQuota
	tracker  *usage.Tracker
	client   Provider
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService builds the orchestrator. quota may be nil when monthly
// allowances are not enforced.
func NewService(store cache.Store, limiter ratelimit.Limiter, quota *ratelimit.MonthlyQuota, tracker *usage.Tracker, client Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:    store,
		limiter:  limiter,
		quota:    quota,
		tracker:  tracker,
		client:   client,
		validate: validator.New(),
		logger:   logger,
	}
}

// FetchPropertyData returns the property records for an address, enriched
// with a condition assessment and, where sale data allows, investment
// figures. A provider miss is Found=false, not an error.
func (s *Service) FetchPropertyData(ctx context.Context, subjectID string, req SearchRequest) (*SearchResult, error) {
	req.normalize()
	if err := s.validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}

	key := cache.Key(subjectID, "properties", req.Address, req.City, req.State, req.ZipCode)
	if entry := s.cacheGet(ctx, key, config.CategoryPropertyData); entry != nil {
		var records []rentcast.Property
		if err := json.Unmarshal(entry.Payload, &records); err == nil {
			return &SearchResult{Found: len(records) > 0, Properties: records, FromCache: true}, nil
		}
		s.dropCorrupt(ctx, key)
	}

	call := s.begin(ctx, subjectID, rentcast.EndpointProperties, req.Address)
	if err := call.admit(ctx); err != nil {
		return nil, err
	}

	records, _, err := s.client.PropertyRecords(ctx, req.Address, req.City, req.State, req.ZipCode)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			call.finish(ctx, true, string(apierr.KindNotFound))
			return &SearchResult{Found: false, Properties: []rentcast.Property{}}, nil
		}
		call.finish(ctx, false, string(apierr.KindOf(err)))
		return nil, err
	}

	for i := range records {
		if enriched := rentcast.Enrich(&records[i], records[i].LastSalePrice, 0); enriched != nil {
			records[i] = *enriched
		}
	}

	s.cacheSet(ctx, key, config.CategoryPropertyData, subjectID, records)
	call.finish(ctx, true, "")
	return &SearchResult{Found: len(records) > 0, Properties: records}, nil
}

// FetchRentEstimate returns the long-term rent estimate for an address. When
// the request carries a purchase price the result also includes investment
// metrics and a market score derived from the estimated rent.
func (s *Service) FetchRentEstimate(ctx context.Context, subjectID string, req RentEstimateRequest) (*RentEstimateResult, error) {
	req.normalize()
	if err := s.validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}

	key := cache.Key(subjectID, "rent-estimate", req.Address, req.PropertyType)
	if entry := s.cacheGet(ctx, key, config.CategoryMarketData); entry != nil {
		var est rentcast.RentEstimate
		if err := json.Unmarshal(entry.Payload, &est); err == nil {
			return s.rentResult(&est, req, true), nil
		}
		s.dropCorrupt(ctx, key)
	}

	call := s.begin(ctx, subjectID, rentcast.EndpointRentEstimate, req.Address)
	if err := call.admit(ctx); err != nil {
		return nil, err
	}

	est, _, err := s.client.RentEstimateFor(ctx, req.Address, req.PropertyType, req.Bedrooms, req.Bathrooms, req.SquareFootage)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			call.finish(ctx, true, string(apierr.KindNotFound))
			return &RentEstimateResult{Found: false}, nil
		}
		call.finish(ctx, false, string(apierr.KindOf(err)))
		return nil, err
	}

	s.cacheSet(ctx, key, config.CategoryMarketData, subjectID, est)
	call.finish(ctx, true, "")
	return s.rentResult(est, req, false), nil
}

func (s *Service) rentResult(est *rentcast.RentEstimate, req RentEstimateRequest, fromCache bool) *RentEstimateResult {
	result := &RentEstimateResult{Found: est.Rent > 0, Estimate: est, FromCache: fromCache}
	if req.PurchasePrice > 0 && est.Rent > 0 {
		if m, err := rentcast.ComputeInvestmentMetrics(req.PurchasePrice, est.Rent); err == nil {
			result.Investment = m
		}
		result.MarketScore = rentcast.MarketScore(req.PurchasePrice, est.Rent, req.YearBuilt, req.SquareFootage, time.Now().Year())
	}
	return result
}

// FetchComparables returns the sale value estimate with comparable sales.
func (s *Service) FetchComparables(ctx context.Context, subjectID string, req ComparablesRequest) (*ComparablesResult, error) {
	req.normalize()
	if err := s.validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}

	key := cache.Key(subjectID, "comparables", req.Address)
	if entry := s.cacheGet(ctx, key, config.CategoryMarketData); entry != nil {
		var est rentcast.ValueEstimate
		if err := json.Unmarshal(entry.Payload, &est); err == nil {
			return &ComparablesResult{Found: est.Price > 0, Estimate: &est, FromCache: true}, nil
		}
		s.dropCorrupt(ctx, key)
	}

	call := s.begin(ctx, subjectID, rentcast.EndpointValue, req.Address)
	if err := call.admit(ctx); err != nil {
		return nil, err
	}

	est, _, err := s.client.ValueEstimateFor(ctx, req.Address)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			call.finish(ctx, true, string(apierr.KindNotFound))
			return &ComparablesResult{Found: false}, nil
		}
		call.finish(ctx, false, string(apierr.KindOf(err)))
		return nil, err
	}

	s.cacheSet(ctx, key, config.CategoryMarketData, subjectID, est)
	call.finish(ctx, true, "")
	return &ComparablesResult{Found: est.Price > 0, Estimate: est}, nil
}

// UsageSummary aggregates the subject's ledger over the trailing period.
func (s *Service) UsageSummary(ctx context.Context, subjectID string, periodDays int) (*usage.Summary, error) {
	return s.tracker.Summarize(ctx, subjectID, periodDays)
}

// InvalidateSubjectCache drops every cached entry scoped to the subject,
// across all tiers, and reports how many entries were removed.
func (s *Service) InvalidateSubjectCache(ctx context.Context, subjectID string) (int64, error) {
	return s.cache.InvalidateSubject(ctx, subjectID)
}

// CacheStats exposes the per-category cache counters.
func (s *Service) CacheStats(category string) cache.Stats {
	return s.cache.Stats(category)
}

// call tracks one logical provider request from first gate to terminal
// outcome. finish writes the single usage record; the elapsed time spans
// every attempt and backoff sleep in between.
type providerCall struct {
	svc           *Service
	subjectID     string
	endpoint      string
	descriptor    string
	correlationID string
	start         time.Time
}

// descriptorMaxLen bounds what a ledger row stores of the query; the ledger
// is for analytics, not for replaying requests.
const descriptorMaxLen = 200

func (s *Service) begin(ctx context.Context, subjectID, endpoint, descriptor string) *providerCall {
	correlationID := logging.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}
	if len(descriptor) > descriptorMaxLen {
		descriptor = descriptor[:descriptorMaxLen]
	}
	return &providerCall{
		svc:           s,
		subjectID:     subjectID,
		endpoint:      endpoint,
		descriptor:    descriptor,
		correlationID: correlationID,
		start:         time.Now(),
	}
}

// admit runs the sliding-window and monthly-quota gates. A denial is recorded
// as usage before returning; no network call is made.
func (c *providerCall) admit(ctx context.Context) error {
	decision, err := c.svc.limiter.Allow(ctx, c.subjectID, c.endpoint)
	if err != nil {
		// limiter backends fail open internally; an error here means the
		// backend is gone, and availability wins
		c.svc.logger.Warn("rate limiter unavailable, admitting",
			zap.String("subject_id", c.subjectID), zap.Error(err))
	} else if !decision.Allowed {
		c.finish(ctx, false, string(apierr.KindRateLimited))
		e := apierr.New(apierr.KindQuotaExceeded, "request rate limit exceeded for this resource")
		e.RetryAfter = decision.RetryAfter
		return e
	}

	if c.svc.quota != nil {
		qd, err := c.svc.quota.Check(ctx, c.subjectID)
		if err == nil && !qd.Allowed {
			c.finish(ctx, false, string(apierr.KindQuotaExceeded))
			e := apierr.Newf(apierr.KindQuotaExceeded, "monthly allowance of %d calls exhausted", qd.Limit)
			e.RetryAfter = time.Until(qd.ResetAt)
			return e
		}
	}
	return nil
}

func (c *providerCall) finish(ctx context.Context, success bool, errorKind string) {
	c.svc.tracker.Track(ctx, usage.Record{
		CorrelationID:  c.correlationID,
		SubjectID:      c.subjectID,
		Endpoint:       c.endpoint,
		Descriptor:     c.descriptor,
		Success:        success,
		ResponseTimeMs: time.Since(c.start).Milliseconds(),
		ErrorKind:      errorKind,
	})
}

func (s *Service) cacheGet(ctx context.Context, key, category string) *cache.Entry {
	entry, err := s.cache.Get(ctx, key, category)
	if err != nil || entry == nil {
		return nil
	}
	return entry
}

func (s *Service) cacheSet(ctx context.Context, key, category, subjectID string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("response not cacheable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, &cache.Entry{
		Key:       key,
		Category:  category,
		SubjectID: subjectID,
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) dropCorrupt(ctx context.Context, key string) {
	s.logger.Warn("dropping undecodable cache entry", zap.String("key", key))
	_ = s.cache.Invalidate(ctx, key)
}
