package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/apierr"
)

// wooFeed reads a customer's orders from the WooCommerce REST API using
// consumer-key basic auth. Read-only; the portal never mutates store data.
type wooFeed struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	logger         *zap.Logger
}

// NewWooCommerceFeed builds the order feed for a WooCommerce store.
func NewWooCommerceFeed(baseURL, consumerKey, consumerSecret string, timeout time.Duration, logger *zap.Logger) OrderFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &wooFeed{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

type wooOrder struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	DateCreated string `json:"date_created_gmt"`
	LineItems   []struct {
		Name string `json:"name"`
	} `json:"line_items"`
}

func (f *wooFeed) Orders(ctx context.Context, subjectID string) ([]Order, error) {
	customerID := strings.TrimPrefix(subjectID, "wp-")

	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("per_page", "25")
	query.Set("orderby", "date")

	endpoint := f.baseURL + "/wp-json/wc/v3/orders?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(f.consumerKey, f.consumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConnection, "commerce feed unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apierr.New(apierr.KindAuth, "commerce feed rejected the credentials")
	case resp.StatusCode >= 400:
		return nil, apierr.Newf(apierr.KindServer, "commerce feed returned %d", resp.StatusCode)
	}

	var raw []wooOrder
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		order := Order{
			ID:       o.ID,
			Status:   o.Status,
			Total:    o.Total,
			Currency: o.Currency,
		}
		if t, err := time.Parse("2006-01-02T15:04:05", o.DateCreated); err == nil {
			order.CreatedAt = t.UTC()
		}
		for _, item := range o.LineItems {
			order.Items = append(order.Items, item.Name)
		}
		orders = append(orders, order)
	}
	return orders, nil
}
