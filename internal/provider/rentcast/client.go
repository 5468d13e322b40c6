package rentcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vipcre/portal/internal/apierr"
	"github.com/vipcre/portal/internal/metrics"
)

// Endpoint paths, also used as the endpoint label in the usage ledger.
const (
	EndpointProperties   = "/properties"
	EndpointRentEstimate = "/avm/rent/long-term"
	EndpointValue        = "/avm/value"
)

// Config holds the client knobs.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RequestsPerSecond caps outbound calls across all subjects; 0 means
	// uncapped.
	RequestsPerSecond float64
}

// Client talks to the RentCast API with retries and an outbound rate cap.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	throttle   *rate.Limiter
	backoff    BackoffPolicy
	maxRetries int
	logger     *zap.Logger
}

// New builds a client. The http.Client timeout bounds each individual
// attempt; the caller's context bounds the whole retrying call.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if b := int(cfg.RequestsPerSecond); b > 1 {
			burst = b
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   rate.NewLimiter(limit, burst),
		backoff:    BackoffPolicy{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// PropertyRecords looks up property records for an address.
func (c *Client) PropertyRecords(ctx context.Context, address, city, state, zip string) ([]Property, int, error) {
	query := url.Values{}
	query.Set("address", address)
	if city != "" {
		query.Set("city", city)
	}
	if state != "" {
		query.Set("state", state)
	}
	if zip != "" {
		query.Set("zipCode", zip)
	}

	body, attempts, err := c.do(ctx, EndpointProperties, query)
	if err != nil {
		return nil, attempts, err
	}

	var records []Property
	if err := json.Unmarshal(body, &records); err != nil {
		// single-object responses happen for exact-address lookups
		var one Property
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, attempts, apierr.Wrap(apierr.KindUnclassified, "decode property records", err)
		}
		records = []Property{one}
	}
	for i := range records {
		records[i].Raw = body
	}
	return records, attempts, nil
}

// RentEstimateFor fetches the long-term rent estimate for an address.
func (c *Client) RentEstimateFor(ctx context.Context, address string, propertyType string, bedrooms, bathrooms float64, squareFootage int) (*RentEstimate, int, error) {
	query := url.Values{}
	query.Set("address", address)
	if propertyType != "" {
		query.Set("propertyType", propertyType)
	}
	if bedrooms > 0 {
		query.Set("bedrooms", strconv.FormatFloat(bedrooms, 'f', -1, 64))
	}
	if bathrooms > 0 {
		query.Set("bathrooms", strconv.FormatFloat(bathrooms, 'f', -1, 64))
	}
	if squareFootage > 0 {
		query.Set("squareFootage", strconv.Itoa(squareFootage))
	}

	body, attempts, err := c.do(ctx, EndpointRentEstimate, query)
	if err != nil {
		return nil, attempts, err
	}

	est := &RentEstimate{}
	if err := json.Unmarshal(body, est); err != nil {
		return nil, attempts, apierr.Wrap(apierr.KindUnclassified, "decode rent estimate", err)
	}
	return est, attempts, nil
}

// ValueEstimateFor fetches the sale value estimate with comparable sales.
func (c *Client) ValueEstimateFor(ctx context.Context, address string) (*ValueEstimate, int, error) {
	query := url.Values{}
	query.Set("address", address)

	body, attempts, err := c.do(ctx, EndpointValue, query)
	if err != nil {
		return nil, attempts, err
	}

	est := &ValueEstimate{}
	if err := json.Unmarshal(body, est); err != nil {
		return nil, attempts, apierr.Wrap(apierr.KindUnclassified, "decode value estimate", err)
	}
	return est, attempts, nil
}

// do runs one logical GET with classification and bounded retries. The
// returned attempt count includes the final one, successful or not.
func (c *Client) do(ctx context.Context, endpoint string, query url.Values) ([]byte, int, error) {
	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts++

		if err := c.throttle.Wait(ctx); err != nil {
			e := apierr.Wrap(apierr.KindTimeout, "deadline hit while throttled", err)
			e.Attempts = attempts - 1
			return nil, attempts - 1, e
		}

		start := time.Now()
		body, status, retryAfter, err := c.attempt(ctx, endpoint, query)
		metrics.ProviderRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		var kind apierr.Kind
		if err != nil {
			kind = ClassifyError(err)
			metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		} else {
			kind = ClassifyStatus(status)
			metrics.ProviderRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			if kind == "" {
				// a 2xx with a blank body means the provider has nothing
				// for this query; same outcome as a 404
				if len(bytes.TrimSpace(body)) == 0 {
					e := apierr.New(apierr.KindNotFound, "no data for this property")
					e.Attempts = attempts
					return nil, attempts, e
				}
				return body, attempts, nil
			}
		}

		if !kind.Retryable() || attempt >= c.maxRetries {
			e := c.terminalError(kind, endpoint, status, err)
			e.Attempts = attempts
			e.RetryAfter = retryAfter
			return nil, attempts, e
		}

		metrics.ProviderRetries.WithLabelValues(endpoint, string(kind)).Inc()
		c.logger.Warn("provider call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.String("kind", string(kind)),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if !c.sleep(ctx, attempt, kind, retryAfter) {
			e := apierr.New(apierr.KindTimeout, "deadline hit before next retry")
			e.Attempts = attempts
			return nil, attempts, e
		}
	}
}

// attempt performs one HTTP round trip.
func (c *Client) attempt(ctx context.Context, endpoint string, query url.Values) (body []byte, status int, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, resp.StatusCode, retryAfter, readErr
	}
	return body, resp.StatusCode, retryAfter, nil
}

// sleep waits out the backoff delay. It returns false without sleeping when
// the delay cannot fit before the caller's deadline; waiting would only burn
// the remaining budget on a retry that can never be sent.
func (c *Client) sleep(ctx context.Context, attempt int, kind apierr.Kind, retryAfter time.Duration) bool {
	delay := c.backoff.Delay(attempt, kind, retryAfter)

	if deadline, ok := ctx.Deadline(); ok {
		if time.Now().Add(delay).After(deadline) {
			return false
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) terminalError(kind apierr.Kind, endpoint string, status int, cause error) *apierr.Error {
	switch kind {
	case apierr.KindAuth:
		return apierr.New(kind, "provider rejected the API key")
	case apierr.KindNotFound:
		return apierr.New(kind, "no data for this property")
	case apierr.KindRateLimited:
		return apierr.New(kind, "provider rate limit exhausted")
	case apierr.KindServer:
		return apierr.Newf(kind, "provider error %d on %s", status, endpoint)
	case apierr.KindTimeout:
		return apierr.Wrap(kind, fmt.Sprintf("provider call to %s timed out", endpoint), cause)
	case apierr.KindConnection:
		return apierr.Wrap(kind, fmt.Sprintf("could not reach provider for %s", endpoint), cause)
	default:
		return apierr.Newf(apierr.KindUnclassified, "unexpected provider status %d on %s", status, endpoint)
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
