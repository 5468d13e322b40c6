package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/apierr"
	"github.com/vipcre/portal/internal/identity"
	"github.com/vipcre/portal/internal/logging"
	"github.com/vipcre/portal/internal/metrics"
	"github.com/vipcre/portal/internal/property"
)

// dashboardRoles are the WordPress roles allowed through the portal. Anyone
// else on the site sees the marketing pages, not the data.
var dashboardRoles = []string{"administrator", "subscriber"}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
}

// authenticated resolves the bearer token to a principal, enforces the role
// gate, and stashes the principal plus a correlation ID before dispatching.
func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, *identity.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)

		principal, err := s.roles.Resolve(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !principal.HasAnyRole(dashboardRoles...) {
			s.writeError(w, apierr.New(apierr.KindAuth, "account has no dashboard access"))
			return
		}

		ctx, _ := logging.EnsureCorrelationID(r.Context())
		next(w, r.WithContext(ctx), principal)
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// WebSocket clients cannot set headers from the browser
	return r.URL.Query().Get("token")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePropertySearch(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req property.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apierr.New(apierr.KindValidation, "request body is not valid JSON"))
		return
	}

	result, err := s.service.FetchPropertyData(r.Context(), p.SubjectID, req)
	s.observe("property_search", start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRentEstimate(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req property.RentEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apierr.New(apierr.KindValidation, "request body is not valid JSON"))
		return
	}

	result, err := s.service.FetchRentEstimate(r.Context(), p.SubjectID, req)
	s.observe("rent_estimate", start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleComparables(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req property.ComparablesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apierr.New(apierr.KindValidation, "request body is not valid JSON"))
		return
	}

	result, err := s.service.FetchComparables(r.Context(), p.SubjectID, req)
	s.observe("comparables", start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	days := s.cfg.SummaryDays
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 365 {
			s.writeError(w, apierr.New(apierr.KindValidation, "days must be between 1 and 365"))
			return
		}
		days = parsed
	}

	summary, err := s.service.UsageSummary(r.Context(), p.SubjectID, days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	removed, err := s.service.InvalidateSubjectCache(r.Context(), p.SubjectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("subject cache invalidated",
		zap.String("subject_id", p.SubjectID), zap.Int64("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orders, err := s.orders.Orders(r.Context(), p.SubjectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

func (s *Server) observe(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(apierr.KindOf(err))
	}
	metrics.RequestsTotal.WithLabelValues(operation, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: string(apierr.KindOf(err))}

	var e *apierr.Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		resp.RetryAfter = int64(e.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfter, 10))
	}

	writeJSON(w, statusFor(apierr.KindOf(err)), resp)
}

func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindAuth:
		return http.StatusUnauthorized
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindQuotaExceeded, apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindTimeout:
		return http.StatusGatewayTimeout
	case apierr.KindConnection, apierr.KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
