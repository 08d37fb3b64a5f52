// Package config loads runtime settings from VARKEEP_* environment
// variables. CLI flags override the loaded values.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/varkeep/internal/cache"
	"github.com/roach88/varkeep/internal/persist"
)

// Config holds every tunable of a running engine.
type Config struct {
	DBPath      string `env:"VARKEEP_DB" envDefault:"varkeep.db"`
	Driver      string `env:"VARKEEP_DRIVER" envDefault:"sqlite3"`
	Definitions string `env:"VARKEEP_DEFS" envDefault:"variables"`

	OperationTimeout time.Duration `env:"VARKEEP_OPERATION_TIMEOUT" envDefault:"5s"`

	FlushInterval    time.Duration `env:"VARKEEP_FLUSH_INTERVAL" envDefault:"30s"`
	BatchSize        int           `env:"VARKEEP_BATCH_SIZE" envDefault:"100"`
	RetryCount       int           `env:"VARKEEP_RETRY_COUNT" envDefault:"3"`
	Workers          int           `env:"VARKEEP_FLUSH_WORKERS" envDefault:"2"`
	StatementTimeout time.Duration `env:"VARKEEP_STATEMENT_TIMEOUT" envDefault:"10s"`

	CacheSize int           `env:"VARKEEP_CACHE_SIZE" envDefault:"10000"`
	CacheTTL  time.Duration `env:"VARKEEP_CACHE_TTL" envDefault:"5s"`

	LogLevel    string `env:"VARKEEP_LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"VARKEEP_METRICS_ADDR"`

	OTelEndpoint string `env:"VARKEEP_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"VARKEEP_OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %s", c.OperationTimeout)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", c.FlushInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.RetryCount <= 0 {
		return fmt.Errorf("retry count must be positive, got %d", c.RetryCount)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Persist returns the pipeline settings.
func (c Config) Persist() persist.Config {
	return persist.Config{
		Interval:         c.FlushInterval,
		BatchSize:        c.BatchSize,
		RetryCount:       c.RetryCount,
		Workers:          c.Workers,
		StatementTimeout: c.StatementTimeout,
	}
}

// Cache returns the cache settings. Both tiers share size and TTL.
func (c Config) Cache() cache.Config {
	return cache.Config{
		ExpressionSize: c.CacheSize,
		ExpressionTTL:  c.CacheTTL,
		ResultSize:     c.CacheSize,
		ResultTTL:      c.CacheTTL,
	}
}
