package main

// Package main is the entry point for the portal data-layer server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store and run migrations
//   - Assemble the cache tiers, rate limiter, usage tracker, and provider client
//   - Wire the identity collaborators (WordPress roles, WooCommerce orders)
//   - Serve the HTTP API, Prometheus metrics, and the usage WebSocket stream
//   - Implement graceful shutdown with context cancellation
//
// Port Configuration:
//   - portal server: 8081
//   - the WordPress site fronting it runs elsewhere

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/cache"
	"github.com/vipcre/portal/internal/config"
	"github.com/vipcre/portal/internal/db"
	"github.com/vipcre/portal/internal/identity"
	"github.com/vipcre/portal/internal/logging"
	"github.com/vipcre/portal/internal/property"
	"github.com/vipcre/portal/internal/provider/rentcast"
	"github.com/vipcre/portal/internal/ratelimit"
	"github.com/vipcre/portal/internal/server"
	"github.com/vipcre/portal/internal/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	configPath := os.Getenv("PORTAL_CONFIG")
	var mgr config.Manager
	var err error
	if configPath != "" {
		mgr, err = config.NewManager(configPath)
	} else {
		mgr, err = config.NewManagerWithDefaults()
	}
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(&logging.Config{
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Level:      cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ttl := cache.StaticTTLPolicy(cfg.Cache.TTLSeconds, cfg.Cache.DefaultTTLSeconds)
	memoryTier := cache.NewMemoryStore(ttl, time.Duration(cfg.Cache.JanitorIntervalSeconds)*time.Second)
	durableTier := cache.NewSQLiteStore(store, ttl, logger)
	tiered := cache.NewTiered(memoryTier, durableTier, logger)
	defer tiered.Close()

	limiter, err := buildLimiter(cfg, store, logger)
	if err != nil {
		return err
	}
	defer limiter.Close()

	tracker := usage.NewTracker(store, logger)
	quota := ratelimit.NewMonthlyQuota(store, store, 0, logger)

	client := rentcast.New(rentcast.Config{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		Timeout:           time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		MaxRetries:        cfg.Provider.MaxRetries,
		BaseDelay:         time.Duration(cfg.Provider.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Provider.MaxDelayMs) * time.Millisecond,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	}, logger)

	service := property.NewService(tiered, limiter, quota, tracker, client, logger)

	var roles identity.RoleProvider
	if cfg.Identity.WordPressBaseURL != "" {
		roles = identity.NewWordPressProvider(cfg.Identity.WordPressBaseURL, 10*time.Second, logger)
	}
	var orders identity.OrderFeed
	if cfg.Identity.WooCommerceBaseURL != "" {
		orders = identity.NewWooCommerceFeed(cfg.Identity.WooCommerceBaseURL,
			cfg.Identity.ConsumerKey, cfg.Identity.ConsumerSecret, 10*time.Second, logger)
	}

	srv := server.New(server.Config{
		Port:              cfg.Server.Port,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.RateLimit.DefaultLimit,
		StreamInterval:    time.Duration(cfg.Usage.StreamIntervalSec) * time.Second,
		SummaryDays:       cfg.Usage.SummaryDays,
	}, service, roles, orders, logger)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("portal server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("ratelimit_backend", cfg.RateLimit.Backend),
		zap.String("sqlite_path", cfg.Database.SQLitePath))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLimiter selects the sliding-window backend named in configuration.
// Per-subject window limits come from quota_plan, with the configured
// default as the fallback.
func buildLimiter(cfg *config.Config, store db.Store, logger *zap.Logger) (ratelimit.Limiter, error) {
	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	resolver := ratelimit.NewPlanLimits(store, cfg.RateLimit.DefaultLimit, logger)

	switch cfg.RateLimit.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.RateLimit.Redis.Addr, err)
		}
		return ratelimit.NewRedisLimiter(client, window, resolver, logger), nil
	default:
		idle := time.Duration(cfg.RateLimit.IdleEvictSeconds) * time.Second
		return ratelimit.NewSlidingWindow(window, resolver, idle), nil
	}
}
