package config

// Cache category names. Categories partition the cache so each class of data
// carries its own lifetime and its own hit/miss statistics.
const (
	CategoryConfig       = "config"
	CategoryPropertyData = "property_data"
	CategoryUserData     = "user_data"
	CategoryAPIUsage     = "api_usage"
	CategoryMarketData   = "market_data"
)

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/portal/portal.db"

	// Cache defaults. Market data moves slowest, usage counters fastest.
	cfg.Cache.TTLSeconds = map[string]int{
		CategoryConfig:       3600,
		CategoryPropertyData: 7200,
		CategoryUserData:     1800,
		CategoryAPIUsage:     300,
		CategoryMarketData:   14400,
	}
	cfg.Cache.DefaultTTLSeconds = 3600
	cfg.Cache.JanitorIntervalSeconds = 300

	// Rate limit defaults: 60 requests per rolling 60 seconds per subject.
	cfg.RateLimit.Backend = "memory"
	cfg.RateLimit.WindowSeconds = 60
	cfg.RateLimit.DefaultLimit = 60
	cfg.RateLimit.IdleEvictSeconds = 600
	cfg.RateLimit.Redis.Addr = "localhost:6379"
	cfg.RateLimit.Redis.DB = 0

	// Provider defaults
	cfg.Provider.BaseURL = "https://api.rentcast.io/v1"
	cfg.Provider.TimeoutSeconds = 15
	cfg.Provider.MaxRetries = 3
	cfg.Provider.BaseDelayMs = 1000
	cfg.Provider.MaxDelayMs = 60000
	cfg.Provider.RequestsPerSecond = 5

	// Usage defaults
	cfg.Usage.SummaryDays = 30
	cfg.Usage.StreamIntervalSec = 10

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.FilePath = "/var/log/portal/portal.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
