package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync" validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database related settings. An empty URL
// selects the in-memory operation log, which does not survive restarts.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// SyncConfig controls the synchronization engine: the remote endpoint,
// worker pool size, rate limiting and the retry schedule.
type SyncConfig struct {
	RemoteURL        string          `mapstructure:"remote_url" validate:"required,url"`
	ConcurrencyLimit int             `mapstructure:"concurrency_limit" validate:"required,gt=0"`
	CallTimeout      time.Duration   `mapstructure:"call_timeout" validate:"required,gt=0"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
	Retry            RetryConfig     `mapstructure:"retry" validate:"required"`
}

// RateLimitConfig shapes the token bucket applied to outbound remote calls.
type RateLimitConfig struct {
	Capacity        float64 `mapstructure:"capacity" validate:"required,gt=0"`
	RefillPerSecond float64 `mapstructure:"refill_per_second" validate:"required,gt=0"`
}

// RetryConfig shapes the backoff schedule for failed remote calls.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"required,gt=0"`
	BaseDelay     time.Duration `mapstructure:"base_delay" validate:"required,gt=0"`
	MaxDelay      time.Duration `mapstructure:"max_delay" validate:"required,gt=0"`
	BackoffFactor float64       `mapstructure:"backoff_factor" validate:"required,gt=1"`
}
