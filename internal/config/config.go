package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Campaign sources.
const (
	CampaignSourcePostgres = "postgres"
	CampaignSourceHTTP     = "http"
)

// Telemetry sinks.
const (
	TelemetrySinkHTTP       = "http"
	TelemetrySinkClickHouse = "clickhouse"
	TelemetrySinkKafka      = "kafka"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	DebugTrace   bool

	RedisAddr     string
	PostgresDSN   string
	ClickHouseDSN string
	KafkaBrokers  []string
	KafkaTopic    string
	GeoIPDB       string

	TokenSecret     string
	TokenTTL        time.Duration
	TrackingBaseURL string

	// Outbound ads-management / ingestion backend
	BackendURL              string
	BackendTimeout          time.Duration
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration

	CampaignSource string
	TelemetrySink  string
	ReloadInterval time.Duration

	// Decisioning
	DecisionCacheTTL     time.Duration
	DecisionCacheBackend string
	ContextTimeout       time.Duration

	// Telemetry pipeline
	TelemetryFlushInterval time.Duration
	TelemetryBatchSize     int
	TelemetrySendTimeout   time.Duration

	// Ad policy
	MaxAdDuration           time.Duration
	SkipAfter               time.Duration
	GlobalFrequencyCap      int
	AdvertiserFrequencyCap  int
	CampaignFrequencyCap    int
	BlockedKeywords         []string
	MaxPerPlacement         int
	MaxPreRoll              int
	MaxMidRoll              int
	MaxPostRoll             int
	MinMidRollVideoDuration time.Duration
	MidRollSpacing          time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Per-IP rate limiting on the telemetry ingestion endpoints
	RateLimitEnabled  bool
	RateLimitCapacity int
	RateLimitRefill   float64

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "videoadserve")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)

	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.KafkaBrokers = envList("KAFKA_BROKERS", []string{"localhost:9092"})
	cfg.KafkaTopic = getenv("KAFKA_TOPIC", "ad-interactions")
	cfg.GeoIPDB = getenv("GEOIP_DB", "internal/geoip/testdata/GeoLite2-City.mmdb")

	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 2*time.Hour)
	cfg.TrackingBaseURL = strings.TrimRight(getenv("TRACKING_BASE_URL", ""), "/")

	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	cfg.BackendTimeout = envDuration("BACKEND_TIMEOUT", 3*time.Second)
	cfg.BreakerFailureThreshold = uint32(envInt("BREAKER_FAILURE_THRESHOLD", 5))
	cfg.BreakerOpenTimeout = envDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second)

	cfg.CampaignSource = strings.ToLower(getenv("CAMPAIGN_SOURCE", CampaignSourcePostgres))
	cfg.TelemetrySink = strings.ToLower(getenv("TELEMETRY_SINK", TelemetrySinkHTTP))
	// default to 30 seconds between automatic reloads
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)

	cfg.DecisionCacheTTL = envDuration("DECISION_CACHE_TTL", 5*time.Minute)
	cfg.DecisionCacheBackend = strings.ToLower(getenv("DECISION_CACHE_BACKEND", "memory"))
	cfg.ContextTimeout = envDuration("CONTEXT_TIMEOUT", 2*time.Second)

	cfg.TelemetryFlushInterval = envDuration("TELEMETRY_FLUSH_INTERVAL", 10*time.Second)
	cfg.TelemetryBatchSize = envInt("TELEMETRY_BATCH_SIZE", 20)
	cfg.TelemetrySendTimeout = envDuration("TELEMETRY_SEND_TIMEOUT", 5*time.Second)

	cfg.MaxAdDuration = envDuration("MAX_AD_DURATION", 60*time.Second)
	cfg.SkipAfter = envDuration("SKIP_AFTER", 5*time.Second)
	cfg.GlobalFrequencyCap = envInt("FREQ_CAP_GLOBAL", 20)
	cfg.AdvertiserFrequencyCap = envInt("FREQ_CAP_ADVERTISER", 6)
	cfg.CampaignFrequencyCap = envInt("FREQ_CAP_CAMPAIGN", 3)
	cfg.BlockedKeywords = envList("BLOCKED_KEYWORDS", []string{"gambling", "violence", "adult"})

	// Placement limits. The per-kind values fall back to MAX_PER_PLACEMENT.
	cfg.MaxPerPlacement = envInt("MAX_PER_PLACEMENT", 2)
	cfg.MaxPreRoll = envInt("MAX_PREROLL", cfg.MaxPerPlacement)
	cfg.MaxMidRoll = envInt("MAX_MIDROLL", cfg.MaxPerPlacement)
	cfg.MaxPostRoll = envInt("MAX_POSTROLL", cfg.MaxPerPlacement)
	cfg.MinMidRollVideoDuration = envDuration("MIN_MIDROLL_VIDEO_DURATION", 8*time.Minute)
	cfg.MidRollSpacing = envDuration("MIDROLL_SPACING", 4*time.Minute)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 50)
	cfg.RateLimitRefill = envFloat("RATE_LIMIT_REFILL", 20)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0) // Default to 100% sampling for dev

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envList parses a comma-separated environment variable, dropping empty
// entries. When unset or empty after trimming, def is returned.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
