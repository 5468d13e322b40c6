// Package config provides configuration management for the portal data layer.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading via file watch
//   - Manage sensitive data (provider API keys, commerce credentials)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (PORTAL_* prefix)
//   2. YAML config file (default: /etc/portal/config.yaml)
//   3. Built-in defaults
package config

import "context"

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins is the list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Cache configuration
	Cache struct {
		// TTLSeconds maps cache category name to entry lifetime in seconds.
		// Unknown categories fall back to DefaultTTLSeconds.
		TTLSeconds        map[string]int
		DefaultTTLSeconds int
		// JanitorIntervalSeconds controls how often expired entries are swept
		// from the volatile backend. 0 disables the sweep.
		JanitorIntervalSeconds int
	}

	// RateLimit configuration
	RateLimit struct {
		// Backend selects the sliding-window implementation: "memory" for a
		// single instance, "redis" when several instances must share one
		// window. The choice is explicit; there is no automatic fallback.
		Backend       string
		WindowSeconds int
		DefaultLimit  int
		// IdleEvictSeconds is how long an untouched window survives before
		// the janitor drops it (memory backend only).
		IdleEvictSeconds int
		Redis            struct {
			Addr     string
			Password string
			DB       int
		}
	}

	// Provider configuration (RentCast)
	Provider struct {
		BaseURL        string
		APIKey         string
		TimeoutSeconds int
		MaxRetries     int
		BaseDelayMs    int
		MaxDelayMs     int
		// RequestsPerSecond caps outbound calls to the provider across all
		// subjects. 0 disables the cap.
		RequestsPerSecond float64
	}

	// Identity configuration (WordPress roles, WooCommerce orders)
	Identity struct {
		WordPressBaseURL   string
		WooCommerceBaseURL string
		ConsumerKey        string
		ConsumerSecret     string
	}

	// Usage configuration
	Usage struct {
		SummaryDays       int
		StreamIntervalSec int
	}

	// Logging configuration
	Logging struct {
		Level      string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a new configuration manager.
func NewManager(configPath string) (Manager, error) {
	mgr := &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewManagerWithDefaults creates a config manager with the default config path.
func NewManagerWithDefaults() (Manager, error) {
	return NewManager("/etc/portal/config.yaml")
}
