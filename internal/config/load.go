package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return loadWithFile("")
}

// loadWithFile is the testable core of Load. An empty path means "look for
// config.yaml in the working directory"; a non-empty path names an explicit
// config file.
func loadWithFile(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("sync.concurrency_limit", 3)
	v.SetDefault("sync.call_timeout", "10s")
	v.SetDefault("sync.rate_limit.capacity", 5)
	v.SetDefault("sync.rate_limit.refill_per_second", 2)
	v.SetDefault("sync.retry.max_attempts", 5)
	v.SetDefault("sync.retry.base_delay", "500ms")
	v.SetDefault("sync.retry.max_delay", "30s")
	v.SetDefault("sync.retry.backoff_factor", 2.0)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from the
		// environment. Anything else is a real problem.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("DRIFTQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so bind
	// the nested keys explicitly.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"database.url",
		"sync.remote_url",
		"sync.concurrency_limit",
		"sync.call_timeout",
		"sync.rate_limit.capacity",
		"sync.rate_limit.refill_per_second",
		"sync.retry.max_attempts",
		"sync.retry.base_delay",
		"sync.retry.max_delay",
		"sync.retry.backoff_factor",
	} {
		envVar := "DRIFTQ_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("binding environment variable %s: %w", envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.Sync.Retry.MaxDelay < cfg.Sync.Retry.BaseDelay {
		return nil, fmt.Errorf("configuration validation failed: sync.retry.max_delay must be >= sync.retry.base_delay")
	}

	return &cfg, nil
}
