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
	NodeID      int64
	WorkerID    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool
	DBRLSEnabled      bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers   []string
	KafkaCostTopic string

	OpsHTTPAddr string

	Outbox OutboxConfig
	Ledger LedgerConfig
}

// OutboxConfig tunes the dispatch and retention loop.
type OutboxConfig struct {
	RunInterval      time.Duration
	BatchSize        int
	DispatchLease    time.Duration
	RetryBackoff     time.Duration
	Workers          int
	QueueSize        int
	Retention        time.Duration
	SweepBatchSize   int
	MaxAttempts      int
	EnabledJobs      []string
	JobTimeout       time.Duration
	SweepLockTTL     time.Duration
	HandlerTimeout   time.Duration
	RelayCostEntries bool
}

// LedgerConfig carries ledger and cost engine defaults.
type LedgerConfig struct {
	DefaultCurrency   string
	DefaultCostCenter string
	RateCardPath      string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "workledger"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		NodeID:       getenvInt64("NODE_ID", 1),
		WorkerID:     strings.TrimSpace(getenv("WORKER_ID", "")),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "workledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		DBRLSEnabled:      getenvBool("DATABASE_RLS_ENABLED", false),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		KafkaBrokers:   parseList(getenv("KAFKA_BROKERS", "")),
		KafkaCostTopic: getenv("KAFKA_COST_TOPIC", "cost.entry_posted"),

		OpsHTTPAddr: getenv("OPS_HTTP_ADDR", ":9090"),

		Outbox: OutboxConfig{
			RunInterval:      getenvDuration("OUTBOX_RUN_INTERVAL", 5*time.Second),
			BatchSize:        int(getenvInt64("OUTBOX_BATCH_SIZE", 100)),
			DispatchLease:    getenvDuration("OUTBOX_DISPATCH_LEASE", 5*time.Minute),
			RetryBackoff:     getenvDuration("OUTBOX_RETRY_BACKOFF", 10*time.Second),
			Workers:          int(getenvInt64("OUTBOX_WORKERS", 4)),
			QueueSize:        int(getenvInt64("OUTBOX_QUEUE_SIZE", 256)),
			Retention:        getenvDuration("OUTBOX_RETENTION", 30*24*time.Hour),
			SweepBatchSize:   int(getenvInt64("OUTBOX_SWEEP_BATCH_SIZE", 500)),
			MaxAttempts:      int(getenvInt64("OUTBOX_MAX_ATTEMPTS", 5)),
			EnabledJobs:      parseList(getenv("OUTBOX_ENABLED_JOBS", "")),
			JobTimeout:       getenvDuration("OUTBOX_JOB_TIMEOUT", 30*time.Second),
			SweepLockTTL:     getenvDuration("OUTBOX_SWEEP_LOCK_TTL", 5*time.Minute),
			HandlerTimeout:   getenvDuration("OUTBOX_HANDLER_TIMEOUT", 30*time.Second),
			RelayCostEntries: getenvBool("OUTBOX_RELAY_COST_ENTRIES", true),
		},
		Ledger: LedgerConfig{
			DefaultCurrency:   strings.ToUpper(getenv("LEDGER_DEFAULT_CURRENCY", "USD")),
			DefaultCostCenter: strings.TrimSpace(getenv("LEDGER_DEFAULT_COST_CENTER", "")),
			RateCardPath:      strings.TrimSpace(getenv("RATE_CARD_PATH", "")),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
