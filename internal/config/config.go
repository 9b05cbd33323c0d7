package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	InstanceID  string
	HTTPPort    string
	LogLevel    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBFile            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	Search    SearchConfig
	Lookup    LookupConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig

	Tracing     TracingConfig
	Metrics     MetricsConfig
	MetricsPush MetricsPushConfig
}

// SearchConfig controls the metering coordinator's request policy.
type SearchConfig struct {
	// PublicMode serves unauthenticated searches for free under
	// PublicAccountID, gated by the rate limiter instead of the ledger.
	PublicMode      bool
	PublicAccountID string
	MinTermLength   int
}

// LookupConfig points at the external account-lookup API.
type LookupConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RateLimitConfig bounds anonymous request volume per network identity.
type RateLimitConfig struct {
	Limit         int
	Window        time.Duration
	Backend       string
	SweepInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig tunes the result cache maintenance sweep. A zero SweepMaxAge
// disables automatic eviction entirely; operators can still evict manually.
type CacheConfig struct {
	SweepMaxAge time.Duration
}

type WebhookConfig struct {
	PaymentSecret string
}

// SchedulerConfig tunes the maintenance loop. Lock TTL only matters when
// Redis is configured; single-instance deployments run lock-free.
type SchedulerConfig struct {
	Enabled            bool
	RunInterval        time.Duration
	LockTTL            time.Duration
	IntegrityBatchSize int
	IntegrityLookback  time.Duration
}

type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	OTLPProtocol string
}

type MetricsConfig struct {
	Enabled      bool
	OTLPEndpoint string
	OTLPProtocol string
}

// MetricsPushConfig ships the process registry to a central collector for
// deployments that cannot be scraped.
type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "bloxscout"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		InstanceID:  getenv("INSTANCE_ID", ""),
		HTTPPort:    getenv("HTTP_PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "bloxscout"),
		DBUser:            getenv("DATABASE_USER", "bloxscout"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBFile:            getenv("DATABASE_FILE", "bloxscout.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 10*time.Minute),

		Search: SearchConfig{
			PublicMode:      getenvBool("SEARCH_PUBLIC_MODE", false),
			PublicAccountID: getenv("SEARCH_PUBLIC_ACCOUNT_ID", "public"),
			MinTermLength:   getenvInt("SEARCH_MIN_TERM_LENGTH", 3),
		},
		Lookup: LookupConfig{
			BaseURL: getenv("LOOKUP_BASE_URL", "https://users.roblox.com"),
			Timeout: getenvDuration("LOOKUP_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Limit:         getenvInt("RATE_LIMIT_LIMIT", 25),
			Window:        getenvDuration("RATE_LIMIT_WINDOW", time.Hour),
			Backend:       strings.ToLower(getenv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
			SweepInterval: getenvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		},
		// Redis is opt-in. Without an addr the limiter and scheduler lock
		// run in their single-instance modes.
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			SweepMaxAge: getenvDuration("CACHE_SWEEP_MAX_AGE", 0),
		},
		Webhook: WebhookConfig{
			PaymentSecret: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:        getenvDuration("SCHEDULER_RUN_INTERVAL", 5*time.Minute),
			LockTTL:            getenvDuration("SCHEDULER_LOCK_TTL", 4*time.Minute),
			IntegrityBatchSize: getenvInt("SCHEDULER_INTEGRITY_BATCH_SIZE", 100),
			IntegrityLookback:  getenvDuration("SCHEDULER_INTEGRITY_LOOKBACK", 24*time.Hour),
		},
		Tracing: TracingConfig{
			Enabled:      getenvBool("TRACING_ENABLED", false),
			OTLPEndpoint: getenv("OTLP_TRACES_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol: getenv("OTLP_TRACES_PROTOCOL", "grpc"),
		},
		Metrics: MetricsConfig{
			Enabled:      getenvBool("METRICS_ENABLED", false),
			OTLPEndpoint: getenv("OTLP_METRICS_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol: getenv("OTLP_METRICS_PROTOCOL", "grpc"),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", 15*time.Second),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
