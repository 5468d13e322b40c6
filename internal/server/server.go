// Package server exposes the portal's data services over HTTP: property
// search and estimates, usage analytics, cache administration, the commerce
// order feed, and a WebSocket stream of live usage summaries.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/identity"
	"github.com/vipcre/portal/internal/middleware"
	"github.com/vipcre/portal/internal/property"
)

// Config holds the server knobs.
type Config struct {
	Port           int
	AllowedOrigins []string
	// RequestsPerMinute caps each client IP across all routes; 0 disables
	// the middleware.
	RequestsPerMinute int
	// StreamInterval is how often the usage WebSocket pushes a summary.
	StreamInterval time.Duration
	// SummaryDays is the default analytics window.
	SummaryDays int
}

// Server is the HTTP front of the portal.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	service *property.Service
	roles   identity.RoleProvider
	orders  identity.OrderFeed

	httpServer *http.Server
	ipLimiter  *middleware.RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// New builds the server. roles and orders fall back to their no-op defaults
// when nil so the portal runs standalone.
func New(cfg Config, service *property.Service, roles identity.RoleProvider, orders identity.OrderFeed, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if roles == nil {
		roles = &identity.StaticProvider{}
	}
	if orders == nil {
		orders = identity.NoOrders{}
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 10 * time.Second
	}
	if cfg.SummaryDays <= 0 {
		cfg.SummaryDays = 30
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger,
		service: service,
		roles:   roles,
		orders:  orders,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins serving. It returns once the listener goroutine is running.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	var handler http.Handler = mux
	if s.cfg.RequestsPerMinute > 0 {
		s.ipLimiter = middleware.NewRateLimiter(s.cfg.RequestsPerMinute)
		handler = s.ipLimiter.Middleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down http server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}

	s.cancel()
	if s.ipLimiter != nil {
		s.ipLimiter.Stop()
	}
	s.wg.Wait()
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/properties/search", s.authenticated(s.handlePropertySearch))
	mux.HandleFunc("/api/v1/properties/rent-estimate", s.authenticated(s.handleRentEstimate))
	mux.HandleFunc("/api/v1/properties/comparables", s.authenticated(s.handleComparables))
	mux.HandleFunc("/api/v1/usage/summary", s.authenticated(s.handleUsageSummary))
	mux.HandleFunc("/api/v1/cache/invalidate", s.authenticated(s.handleCacheInvalidate))
	mux.HandleFunc("/api/v1/orders", s.authenticated(s.handleOrders))
	mux.HandleFunc("/ws/usage", s.authenticated(s.handleUsageStream))
}
