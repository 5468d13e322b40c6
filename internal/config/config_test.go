package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)

	// Test database defaults
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	// Test cache defaults
	assert.Equal(t, 7200, cfg.Cache.TTLSeconds[CategoryPropertyData])
	assert.Equal(t, 1800, cfg.Cache.TTLSeconds[CategoryUserData])
	assert.Equal(t, 300, cfg.Cache.TTLSeconds[CategoryAPIUsage])
	assert.Equal(t, 14400, cfg.Cache.TTLSeconds[CategoryMarketData])
	assert.Equal(t, 3600, cfg.Cache.DefaultTTLSeconds)

	// Test rate limit defaults
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 60, cfg.RateLimit.DefaultLimit)

	// Test provider defaults
	assert.Equal(t, "https://api.rentcast.io/v1", cfg.Provider.BaseURL)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, 1000, cfg.Provider.BaseDelayMs)
	assert.Equal(t, 60000, cfg.Provider.MaxDelayMs)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "invalid port - too low",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Database.SQLitePath = ""
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name: "invalid rate limit backend",
			modifyFn: func(cfg *Config) {
				cfg.RateLimit.Backend = "memcached"
			},
			wantError: true,
			errorMsg:  "invalid backend",
		},
		{
			name: "redis backend requires addr",
			modifyFn: func(cfg *Config) {
				cfg.RateLimit.Backend = "redis"
				cfg.RateLimit.Redis.Addr = ""
			},
			wantError: true,
			errorMsg:  "redis addr is required",
		},
		{
			name: "redis addr must be host:port",
			modifyFn: func(cfg *Config) {
				cfg.RateLimit.Backend = "redis"
				cfg.RateLimit.Redis.Addr = "not-an-address"
			},
			wantError: true,
			errorMsg:  "invalid address format",
		},
		{
			name: "zero window",
			modifyFn: func(cfg *Config) {
				cfg.RateLimit.WindowSeconds = 0
			},
			wantError: true,
			errorMsg:  "window_seconds must be at least 1",
		},
		{
			name: "zero default limit",
			modifyFn: func(cfg *Config) {
				cfg.RateLimit.DefaultLimit = 0
			},
			wantError: true,
			errorMsg:  "default_limit must be at least 1",
		},
		{
			name: "invalid provider base URL",
			modifyFn: func(cfg *Config) {
				cfg.Provider.BaseURL = "not a url"
			},
			wantError: true,
			errorMsg:  "invalid base URL",
		},
		{
			name: "max delay below base delay",
			modifyFn: func(cfg *Config) {
				cfg.Provider.BaseDelayMs = 5000
				cfg.Provider.MaxDelayMs = 1000
			},
			wantError: true,
			errorMsg:  "must be >= base_delay_ms",
		},
		{
			name: "negative retries",
			modifyFn: func(cfg *Config) {
				cfg.Provider.MaxRetries = -1
			},
			wantError: true,
			errorMsg:  "max_retries cannot be negative",
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "verbose"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name: "cache ttl below one second",
			modifyFn: func(cfg *Config) {
				cfg.Cache.TTLSeconds[CategoryPropertyData] = 0
			},
			wantError: true,
			errorMsg:  "ttl must be at least 1 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			if tt.wantError {
				require.NotEmpty(t, errs)
				found := false
				for _, err := range errs {
					if strings.Contains(err.Error(), tt.errorMsg) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected an error containing %q, got %v", tt.errorMsg, errs)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestTTLFor(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 7200, cfg.TTLFor(CategoryPropertyData))
	assert.Equal(t, 300, cfg.TTLFor(CategoryAPIUsage))
	assert.Equal(t, cfg.Cache.DefaultTTLSeconds, cfg.TTLFor("something_unknown"))
}

func TestManagerLoadsDefaults(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 60, cfg.RateLimit.DefaultLimit)
}

func TestManagerLoadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
ratelimit:
  backend: redis
  default_limit: 120
  redis:
    addr: "localhost:6380"
cache:
  ttl_seconds:
    property_data: 600
provider:
  api_key: "file-key"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	mgr, err := NewManager(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 120, cfg.RateLimit.DefaultLimit)
	assert.Equal(t, "localhost:6380", cfg.RateLimit.Redis.Addr)
	assert.Equal(t, 600, cfg.Cache.TTLSeconds["property_data"])
	assert.Equal(t, "file-key", cfg.Provider.APIKey)
	// untouched keys keep defaults
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("RENTCAST_API_KEY", "env-key")

	mgr, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	assert.Equal(t, "env-key", mgr.Get(ctx).Provider.APIKey)
}
