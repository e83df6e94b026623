package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration.
type Config struct {
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database    DatabaseConfig
	Queue       QueueConfig
	LLMDefaults LLMDefaultsConfig
	Storage     StorageConfig
	Auth        AuthConfig
	Tracing     TracingConfig

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"extractqueue"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"extractqueue"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// QueueConfig holds the Queue Store / Worker Loop tunables named in §4-§5
// of the specification.
type QueueConfig struct {
	// PollInterval is the worker loop's sleep-poll period before each lease_next call.
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	// DefaultMaxAttempts is used when a caller doesn't override max_attempts on create_job.
	DefaultMaxAttempts int `env:"QUEUE_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	// BaseRetryDelay and MaxRetryDelay feed the fail_job backoff formula:
	// min(MaxRetryDelay, BaseRetryDelay * attempt^2).
	BaseRetryDelay time.Duration `env:"QUEUE_BASE_RETRY_DELAY" envDefault:"5s"`
	MaxRetryDelay  time.Duration `env:"QUEUE_MAX_RETRY_DELAY" envDefault:"60s"`
	// DrainTimeout bounds how long the worker loop waits for in-flight
	// pipelines to finish on shutdown before declaring itself Stopped anyway.
	DrainTimeout time.Duration `env:"QUEUE_DRAIN_TIMEOUT" envDefault:"30s"`
	// StaleSweepInterval is the period of the periodic reset_stale_batches cron.
	StaleSweepInterval time.Duration `env:"QUEUE_STALE_SWEEP_INTERVAL" envDefault:"5m"`
	// MetricsRetention is the age past which the scheduler prunes terminal
	// queue_jobs rows (processing_metrics rows are not pruned).
	MetricsRetention time.Duration `env:"QUEUE_METRICS_RETENTION" envDefault:"720h"`
	// SchedulerEnabled controls whether the cron-based reconciliation sweep
	// (stale-batch reset, completed-job pruning) runs at all.
	SchedulerEnabled bool `env:"QUEUE_SCHEDULER_ENABLED" envDefault:"true"`
}

// LLMDefaultsConfig holds fallback values for projects that don't override them.
type LLMDefaultsConfig struct {
	Timeout    time.Duration `env:"LLM_DEFAULT_TIMEOUT" envDefault:"120s"`
	Model      string        `env:"LLM_DEFAULT_MODEL" envDefault:"gpt-4o"`
	MaxRetries int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"LLM_BASE_RETRY_DELAY" envDefault:"1s"`
	MaxDelay   time.Duration `env:"LLM_MAX_RETRY_DELAY" envDefault:"30s"`
}

// StorageConfig holds object store (S3/MinIO) connection settings.
type StorageConfig struct {
	Endpoint        string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretAccessKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	BucketImages    string `env:"STORAGE_BUCKET_IMAGES" envDefault:"extraction-images"`
	UseSSL          bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
	Region          string `env:"STORAGE_REGION" envDefault:"us-east-1"`
}

// IsConfigured reports whether storage credentials are present.
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// AuthConfig holds caller-identity verification settings for the Queue API.
type AuthConfig struct {
	// JWTSigningKey verifies bearer JWTs presented by HTTP adapters.
	JWTSigningKey string `env:"AUTH_JWT_SIGNING_KEY" envDefault:""`
	// APITokenPrefix identifies caller-issued API tokens (hashed at rest).
	APITokenPrefix string `env:"AUTH_API_TOKEN_PREFIX" envDefault:"eq_"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled        bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"extractqueue"`
	SampleFraction float64 `env:"TRACING_SAMPLE_FRACTION" envDefault:"1.0"`
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
	)

	return cfg, nil
}
