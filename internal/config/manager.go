package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("PORTAL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults + env vars are enough to run.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Cache defaults
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("cache.default_ttl_seconds", defaults.Cache.DefaultTTLSeconds)
	m.viper.SetDefault("cache.janitor_interval_seconds", defaults.Cache.JanitorIntervalSeconds)

	// Rate limit defaults
	m.viper.SetDefault("ratelimit.backend", defaults.RateLimit.Backend)
	m.viper.SetDefault("ratelimit.window_seconds", defaults.RateLimit.WindowSeconds)
	m.viper.SetDefault("ratelimit.default_limit", defaults.RateLimit.DefaultLimit)
	m.viper.SetDefault("ratelimit.idle_evict_seconds", defaults.RateLimit.IdleEvictSeconds)
	m.viper.SetDefault("ratelimit.redis.addr", defaults.RateLimit.Redis.Addr)
	m.viper.SetDefault("ratelimit.redis.password", defaults.RateLimit.Redis.Password)
	m.viper.SetDefault("ratelimit.redis.db", defaults.RateLimit.Redis.DB)

	// Provider defaults
	m.viper.SetDefault("provider.base_url", defaults.Provider.BaseURL)
	m.viper.SetDefault("provider.api_key", defaults.Provider.APIKey)
	m.viper.SetDefault("provider.timeout_seconds", defaults.Provider.TimeoutSeconds)
	m.viper.SetDefault("provider.max_retries", defaults.Provider.MaxRetries)
	m.viper.SetDefault("provider.base_delay_ms", defaults.Provider.BaseDelayMs)
	m.viper.SetDefault("provider.max_delay_ms", defaults.Provider.MaxDelayMs)
	m.viper.SetDefault("provider.requests_per_second", defaults.Provider.RequestsPerSecond)

	// Identity defaults
	m.viper.SetDefault("identity.wordpress_base_url", defaults.Identity.WordPressBaseURL)
	m.viper.SetDefault("identity.woocommerce_base_url", defaults.Identity.WooCommerceBaseURL)
	m.viper.SetDefault("identity.consumer_key", defaults.Identity.ConsumerKey)
	m.viper.SetDefault("identity.consumer_secret", defaults.Identity.ConsumerSecret)

	// Usage defaults
	m.viper.SetDefault("usage.summary_days", defaults.Usage.SummaryDays)
	m.viper.SetDefault("usage.stream_interval_sec", defaults.Usage.StreamIntervalSec)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Cache
	cfg.Cache.TTLSeconds = map[string]int{}
	for category := range m.viper.GetStringMap("cache.ttl_seconds") {
		cfg.Cache.TTLSeconds[category] = m.viper.GetInt("cache.ttl_seconds." + category)
	}
	cfg.Cache.DefaultTTLSeconds = m.viper.GetInt("cache.default_ttl_seconds")
	cfg.Cache.JanitorIntervalSeconds = m.viper.GetInt("cache.janitor_interval_seconds")

	// Rate limit
	cfg.RateLimit.Backend = m.viper.GetString("ratelimit.backend")
	cfg.RateLimit.WindowSeconds = m.viper.GetInt("ratelimit.window_seconds")
	cfg.RateLimit.DefaultLimit = m.viper.GetInt("ratelimit.default_limit")
	cfg.RateLimit.IdleEvictSeconds = m.viper.GetInt("ratelimit.idle_evict_seconds")
	cfg.RateLimit.Redis.Addr = m.viper.GetString("ratelimit.redis.addr")
	cfg.RateLimit.Redis.Password = m.viper.GetString("ratelimit.redis.password")
	cfg.RateLimit.Redis.DB = m.viper.GetInt("ratelimit.redis.db")

	// Provider
	cfg.Provider.BaseURL = m.viper.GetString("provider.base_url")
	cfg.Provider.APIKey = m.viper.GetString("provider.api_key")
	cfg.Provider.TimeoutSeconds = m.viper.GetInt("provider.timeout_seconds")
	cfg.Provider.MaxRetries = m.viper.GetInt("provider.max_retries")
	cfg.Provider.BaseDelayMs = m.viper.GetInt("provider.base_delay_ms")
	cfg.Provider.MaxDelayMs = m.viper.GetInt("provider.max_delay_ms")
	cfg.Provider.RequestsPerSecond = m.viper.GetFloat64("provider.requests_per_second")

	// Identity
	cfg.Identity.WordPressBaseURL = m.viper.GetString("identity.wordpress_base_url")
	cfg.Identity.WooCommerceBaseURL = m.viper.GetString("identity.woocommerce_base_url")
	cfg.Identity.ConsumerKey = m.viper.GetString("identity.consumer_key")
	cfg.Identity.ConsumerSecret = m.viper.GetString("identity.consumer_secret")

	// Usage
	cfg.Usage.SummaryDays = m.viper.GetInt("usage.summary_days")
	cfg.Usage.StreamIntervalSec = m.viper.GetInt("usage.stream_interval_sec")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperManager) applyEnvOverrides() {
	if apiKey := os.Getenv("RENTCAST_API_KEY"); apiKey != "" {
		m.config.Provider.APIKey = apiKey
	}

	if secret := os.Getenv("WOOCOMMERCE_CONSUMER_SECRET"); secret != "" {
		m.config.Identity.ConsumerSecret = secret
	}

	if key := os.Getenv("WOOCOMMERCE_CONSUMER_KEY"); key != "" {
		m.config.Identity.ConsumerKey = key
	}

	if pw := os.Getenv("PORTAL_REDIS_PASSWORD"); pw != "" {
		m.config.RateLimit.Redis.Password = pw
	}
}
