// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, including the webhook
// configuration record named in spec §6.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Persistence
	DatabaseURL  string // optional; file-snapshot stores are used when unset
	SnapshotDir  string // directory for the five JSON snapshot files
	EventLogPath string // append-only event log file

	// Webhook configuration record (spec §6), read from fixed WEBHOOK_*
	// environment variables. Other variables are ignored; nothing in this
	// package rejects an unrecognized option.
	MaxRetries                int
	InitialDelayMs            int
	MaxDelayMs                int
	BackoffMultiplier         float64
	RequestTimeoutMs          int
	MaxLogEntries             int
	QueueCheckpointIntervalMs int
	DeliveryFanOut            int
	WorkerTickMs              int

	// Security
	AdminSecret   string
	WebhookSecret string

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration

	// Payout executor (internal/executor) selection for tip/escrow
	// settlement. "chain" dials an EVM-compatible RPC endpoint; "stripe"
	// calls the Stripe Connect transfers API; anything else falls back to
	// a no-op executor useful for local development and tests.
	PayoutExecutor     string
	ChainRPCURL        string
	ChainPrivateKeyHex string
	ChainID            int64
	StableContract     string
	StripeSecretKey    string

	// ReconcileInterval is how often the nightly tip-settlement batch runs.
	ReconcileInterval time.Duration

	// Observability
	OTLPEndpoint string
}

// Defaults, matching spec §6 exactly.
const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultMaxRetries                = 5
	DefaultInitialDelayMs            = 1000
	DefaultMaxDelayMs                = 3_600_000
	DefaultBackoffMultiplier         = 2.0
	DefaultRequestTimeoutMs          = 10_000
	DefaultMaxLogEntries             = 10_000
	DefaultQueueCheckpointIntervalMs = 5_000
	DefaultDeliveryFanOut            = 5
	DefaultWorkerTickMs              = 1_000

	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second

	DefaultSnapshotDir  = "./data"
	DefaultEventLogPath = "./data/events.log"
)

// Load reads configuration from environment variables. It loads a .env file
// if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SnapshotDir:  getEnv("SNAPSHOT_DIR", DefaultSnapshotDir),
		EventLogPath: getEnv("EVENT_LOG_PATH", DefaultEventLogPath),

		MaxRetries:                int(getEnvInt64("WEBHOOK_MAX_RETRIES", int64(DefaultMaxRetries))),
		InitialDelayMs:            int(getEnvInt64("WEBHOOK_INITIAL_DELAY_MS", int64(DefaultInitialDelayMs))),
		MaxDelayMs:                int(getEnvInt64("WEBHOOK_MAX_DELAY_MS", int64(DefaultMaxDelayMs))),
		BackoffMultiplier:         getEnvFloat("WEBHOOK_BACKOFF_MULTIPLIER", DefaultBackoffMultiplier),
		RequestTimeoutMs:          int(getEnvInt64("WEBHOOK_REQUEST_TIMEOUT_MS", int64(DefaultRequestTimeoutMs))),
		MaxLogEntries:             int(getEnvInt64("WEBHOOK_MAX_LOG_ENTRIES", int64(DefaultMaxLogEntries))),
		QueueCheckpointIntervalMs: int(getEnvInt64("WEBHOOK_QUEUE_CHECKPOINT_INTERVAL_MS", int64(DefaultQueueCheckpointIntervalMs))),
		DeliveryFanOut:            int(getEnvInt64("WEBHOOK_DELIVERY_FAN_OUT", int64(DefaultDeliveryFanOut))),
		WorkerTickMs:              int(getEnvInt64("WEBHOOK_WORKER_TICK_MS", int64(DefaultWorkerTickMs))),

		AdminSecret:   os.Getenv("ADMIN_SECRET"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),

		PayoutExecutor:     getEnv("PAYOUT_EXECUTOR", "noop"),
		ChainRPCURL:        os.Getenv("CHAIN_RPC_URL"),
		ChainPrivateKeyHex: os.Getenv("CHAIN_PRIVATE_KEY"),
		ChainID:            getEnvInt64("CHAIN_ID", 8453),
		StableContract:     os.Getenv("CHAIN_STABLE_CONTRACT"),
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 24*time.Hour),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are sane.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.InitialDelayMs < 1 {
		return fmt.Errorf("WEBHOOK_INITIAL_DELAY_MS must be positive, got %d", c.InitialDelayMs)
	}
	if c.MaxDelayMs < c.InitialDelayMs {
		return fmt.Errorf("WEBHOOK_MAX_DELAY_MS (%d) must be >= WEBHOOK_INITIAL_DELAY_MS (%d)", c.MaxDelayMs, c.InitialDelayMs)
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("WEBHOOK_BACKOFF_MULTIPLIER must be > 1, got %v", c.BackoffMultiplier)
	}
	if c.DeliveryFanOut < 1 {
		return fmt.Errorf("WEBHOOK_DELIVERY_FAN_OUT must be at least 1, got %d", c.DeliveryFanOut)
	}

	if c.HTTPWriteTimeout > 0 && c.RequestTimeout > 0 && c.HTTPWriteTimeout < c.RequestTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= REQUEST_TIMEOUT (%v)", c.HTTPWriteTimeout, c.RequestTimeout)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		slog.Warn("ADMIN_SECRET not set — admin endpoints accept any authenticated request")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
