// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// StoreDriver selects the persistence backend: memory or postgres.
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	// DatabaseURL is the Postgres DSN; required when StoreDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file. Optional: without it
	// the server only verifies tokens issued elsewhere.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogFile enables rotated file output in addition to stderr.
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	MaxCheckInDuration time.Duration `mapstructure:"MAX_CHECKIN_DURATION"`

	SchedulerShards       int           `mapstructure:"SCHEDULER_SHARDS"`
	SchedulerPollInterval time.Duration `mapstructure:"SCHEDULER_POLL_INTERVAL"`
	SchedulerRetryMax     time.Duration `mapstructure:"SCHEDULER_RETRY_MAX"`
	// SchedulerRetryInitial is the first backoff after a transient escalation failure.
	SchedulerRetryInitial time.Duration `mapstructure:"SCHEDULER_RETRY_INITIAL"`
	// SchedulerRetryErrorAfter is the failed attempt from which retries are logged at error level.
	SchedulerRetryErrorAfter int `mapstructure:"SCHEDULER_RETRY_ERROR_AFTER"`

	// SweepSchedule is a cron spec for the reconciliation sweep.
	SweepSchedule    string        `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatch       int           `mapstructure:"SWEEP_BATCH"`
	FanoutStaleAfter time.Duration `mapstructure:"FANOUT_STALE_AFTER"`

	FanoutWorkers              int           `mapstructure:"FANOUT_WORKERS"`
	FanoutQueueSize            int           `mapstructure:"FANOUT_QUEUE_SIZE"`
	FanoutEnqueueTimeout       time.Duration `mapstructure:"FANOUT_ENQUEUE_TIMEOUT"`
	FanoutRecipientConcurrency int           `mapstructure:"FANOUT_RECIPIENT_CONCURRENCY"`
	FanoutMaxAttempts          int           `mapstructure:"FANOUT_MAX_ATTEMPTS"`
	FanoutChannelTimeout       time.Duration `mapstructure:"FANOUT_CHANNEL_TIMEOUT"`
	FanoutDeliveryLease        time.Duration `mapstructure:"FANOUT_DELIVERY_LEASE"`
	// FanoutInitialBackoff and FanoutMaxBackoff bound the delay between sends on one channel.
	FanoutInitialBackoff time.Duration `mapstructure:"FANOUT_INITIAL_BACKOFF"`
	FanoutMaxBackoff     time.Duration `mapstructure:"FANOUT_MAX_BACKOFF"`
	// FanoutPolicyFile is an optional Rego module replacing the built-in channel policy.
	FanoutPolicyFile string `mapstructure:"FANOUT_POLICY_FILE"`

	// ResponseDedupWindow folds identical responses within the window; zero or less means forever.
	ResponseDedupWindow time.Duration `mapstructure:"RESPONSE_DEDUP_WINDOW"`

	// ProfileServiceURL is the identity/social-graph service. When empty ProfileStaticFile is used.
	ProfileServiceURL string        `mapstructure:"PROFILE_SERVICE_URL"`
	ProfileStaticFile string        `mapstructure:"PROFILE_STATIC_FILE"`
	ProfileCacheSize  int           `mapstructure:"PROFILE_CACHE_SIZE"`
	ProfileCacheTTL   time.Duration `mapstructure:"PROFILE_CACHE_TTL"`

	PushGatewayURL string `mapstructure:"PUSH_GATEWAY_URL"`
	PushAPIKey     string `mapstructure:"PUSH_API_KEY"`

	// SMSLocalAPIKey is the API key for SMS Local. SMS is disabled when empty.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// SMTPHost enables the email channel when set.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// RedisURL backs idempotency keys when set; otherwise an in-process cache is used.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RateLimit is a ulule/limiter formatted rate per user, e.g. "60-M".
	RateLimit      string        `mapstructure:"RATE_LIMIT"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. State-change events are
	// published to Kafka when it is set.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for state-change events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the events worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the events worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint enables OTel export of traces, metrics and logs.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "safecircle-auth")
	v.SetDefault("JWT_AUDIENCE", "safecircle-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
	v.SetDefault("MAX_CHECKIN_DURATION", "24h")
	v.SetDefault("SCHEDULER_SHARDS", 4)
	v.SetDefault("SCHEDULER_POLL_INTERVAL", "30s")
	v.SetDefault("SCHEDULER_RETRY_MAX", "1m")
	v.SetDefault("SCHEDULER_RETRY_INITIAL", "1s")
	v.SetDefault("SCHEDULER_RETRY_ERROR_AFTER", 5)
	v.SetDefault("SWEEP_SCHEDULE", "@every 1m")
	v.SetDefault("SWEEP_BATCH", 100)
	v.SetDefault("FANOUT_STALE_AFTER", "5m")
	v.SetDefault("FANOUT_WORKERS", 8)
	v.SetDefault("FANOUT_QUEUE_SIZE", 1024)
	v.SetDefault("FANOUT_ENQUEUE_TIMEOUT", "2s")
	v.SetDefault("FANOUT_RECIPIENT_CONCURRENCY", 8)
	v.SetDefault("FANOUT_MAX_ATTEMPTS", 4)
	v.SetDefault("FANOUT_CHANNEL_TIMEOUT", "10s")
	v.SetDefault("FANOUT_DELIVERY_LEASE", "2m")
	v.SetDefault("FANOUT_INITIAL_BACKOFF", "500ms")
	v.SetDefault("FANOUT_MAX_BACKOFF", "30s")
	v.SetDefault("FANOUT_POLICY_FILE", "")
	v.SetDefault("RESPONSE_DEDUP_WINDOW", "10m")
	v.SetDefault("PROFILE_SERVICE_URL", "")
	v.SetDefault("PROFILE_STATIC_FILE", "")
	v.SetDefault("PROFILE_CACHE_SIZE", 10000)
	v.SetDefault("PROFILE_CACHE_TTL", "5m")
	v.SetDefault("PUSH_GATEWAY_URL", "")
	v.SetDefault("PUSH_API_KEY", "")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RATE_LIMIT", "60-M")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "safecircle-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "safecircle-events-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "safecircle")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.StoreDriver {
	case StoreMemory:
		if c.Env == "production" {
			return errors.New("config: STORE_DRIVER=memory is not allowed when APP_ENV=production")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	positive := []struct {
		name string
		ok   bool
	}{
		{"MAX_CHECKIN_DURATION", c.MaxCheckInDuration > 0},
		{"SCHEDULER_SHARDS", c.SchedulerShards > 0},
		{"SCHEDULER_POLL_INTERVAL", c.SchedulerPollInterval > 0},
		{"SCHEDULER_RETRY_MAX", c.SchedulerRetryMax > 0},
		{"SCHEDULER_RETRY_INITIAL", c.SchedulerRetryInitial > 0},
		{"SCHEDULER_RETRY_ERROR_AFTER", c.SchedulerRetryErrorAfter > 0},
		{"SWEEP_BATCH", c.SweepBatch > 0},
		{"FANOUT_STALE_AFTER", c.FanoutStaleAfter > 0},
		{"FANOUT_WORKERS", c.FanoutWorkers > 0},
		{"FANOUT_QUEUE_SIZE", c.FanoutQueueSize > 0},
		{"FANOUT_ENQUEUE_TIMEOUT", c.FanoutEnqueueTimeout > 0},
		{"FANOUT_RECIPIENT_CONCURRENCY", c.FanoutRecipientConcurrency > 0},
		{"FANOUT_MAX_ATTEMPTS", c.FanoutMaxAttempts > 0},
		{"FANOUT_CHANNEL_TIMEOUT", c.FanoutChannelTimeout > 0},
		{"FANOUT_DELIVERY_LEASE", c.FanoutDeliveryLease > 0},
		{"FANOUT_INITIAL_BACKOFF", c.FanoutInitialBackoff > 0},
		{"FANOUT_MAX_BACKOFF", c.FanoutMaxBackoff > 0},
		{"IDEMPOTENCY_TTL", c.IdempotencyTTL > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("config: %s must be positive", p.name)
		}
	}
	if c.SchedulerRetryInitial > c.SchedulerRetryMax {
		return errors.New("config: SCHEDULER_RETRY_INITIAL must not exceed SCHEDULER_RETRY_MAX")
	}
	if c.FanoutInitialBackoff > c.FanoutMaxBackoff {
		return errors.New("config: FANOUT_INITIAL_BACKOFF must not exceed FANOUT_MAX_BACKOFF")
	}
	if c.PushGatewayURL != "" && c.PushAPIKey == "" {
		return errors.New("config: PUSH_API_KEY must be set when PUSH_GATEWAY_URL is set")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return errors.New("config: SMTP_FROM must be set when SMTP_HOST is set")
	}
	return nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event stream is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
