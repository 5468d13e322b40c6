package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	// Database
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Cache
	if c.Cache.DefaultTTLSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.default_ttl_seconds",
			Message: fmt.Sprintf("default_ttl_seconds must be at least 1, got %d", c.Cache.DefaultTTLSeconds),
		})
	}
	for category, seconds := range c.Cache.TTLSeconds {
		if seconds < 1 {
			errs = append(errs, &ValidationError{
				Field:   "cache.ttl_seconds." + category,
				Message: fmt.Sprintf("ttl must be at least 1 second, got %d", seconds),
			})
		}
	}
	if c.Cache.JanitorIntervalSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.janitor_interval_seconds",
			Message: fmt.Sprintf("janitor_interval_seconds cannot be negative, got %d", c.Cache.JanitorIntervalSeconds),
		})
	}

	// Rate limit
	validBackends := map[string]bool{
		"memory": true,
		"redis":  true,
	}
	if !validBackends[c.RateLimit.Backend] {
		errs = append(errs, &ValidationError{
			Field:   "ratelimit.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: memory, redis", c.RateLimit.Backend),
		})
	}
	if c.RateLimit.WindowSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "ratelimit.window_seconds",
			Message: fmt.Sprintf("window_seconds must be at least 1, got %d", c.RateLimit.WindowSeconds),
		})
	}
	if c.RateLimit.DefaultLimit < 1 {
		errs = append(errs, &ValidationError{
			Field:   "ratelimit.default_limit",
			Message: fmt.Sprintf("default_limit must be at least 1, got %d", c.RateLimit.DefaultLimit),
		})
	}
	if c.RateLimit.Backend == "redis" {
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, &ValidationError{
				Field:   "ratelimit.redis.addr",
				Message: "redis addr is required when backend is redis",
			})
		} else if _, _, err := net.SplitHostPort(c.RateLimit.Redis.Addr); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "ratelimit.redis.addr",
				Message: fmt.Sprintf("invalid address format (expected host:port): %v", err),
			})
		}
	}

	// Provider
	if c.Provider.BaseURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "provider.base_url",
			Message: "base_url is required",
		})
	} else if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "provider.base_url",
			Message: fmt.Sprintf("invalid base URL: %s", c.Provider.BaseURL),
		})
	}
	if c.Provider.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "provider.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Provider.TimeoutSeconds),
		})
	}
	if c.Provider.MaxRetries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "provider.max_retries",
			Message: fmt.Sprintf("max_retries cannot be negative, got %d", c.Provider.MaxRetries),
		})
	}
	if c.Provider.BaseDelayMs < 1 {
		errs = append(errs, &ValidationError{
			Field:   "provider.base_delay_ms",
			Message: fmt.Sprintf("base_delay_ms must be at least 1, got %d", c.Provider.BaseDelayMs),
		})
	}
	if c.Provider.MaxDelayMs < c.Provider.BaseDelayMs {
		errs = append(errs, &ValidationError{
			Field:   "provider.max_delay_ms",
			Message: fmt.Sprintf("max_delay_ms (%d) must be >= base_delay_ms (%d)", c.Provider.MaxDelayMs, c.Provider.BaseDelayMs),
		})
	}
	if c.Provider.RequestsPerSecond < 0 {
		errs = append(errs, &ValidationError{
			Field:   "provider.requests_per_second",
			Message: fmt.Sprintf("requests_per_second cannot be negative, got %g", c.Provider.RequestsPerSecond),
		})
	}

	// Usage
	if c.Usage.SummaryDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "usage.summary_days",
			Message: fmt.Sprintf("summary_days must be at least 1, got %d", c.Usage.SummaryDays),
		})
	}
	if c.Usage.StreamIntervalSec < 1 {
		errs = append(errs, &ValidationError{
			Field:   "usage.stream_interval_sec",
			Message: fmt.Sprintf("stream_interval_sec must be at least 1, got %d", c.Usage.StreamIntervalSec),
		})
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB),
		})
	}

	return errs
}

// TTLFor returns the configured TTL for a cache category in seconds, falling
// back to the default when the category has no entry.
func (c *Config) TTLFor(category string) int {
	if seconds, ok := c.Cache.TTLSeconds[category]; ok && seconds > 0 {
		return seconds
	}
	return c.Cache.DefaultTTLSeconds
}
