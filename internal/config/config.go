// Package config loads the outpost binary's settings from the environment,
// optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/queue"
)

// Store kinds accepted in OUTPOST_STORE.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config is the process configuration. Every field maps to an OUTPOST_
// environment variable.
type Config struct {
	Store string `env:"STORE" envDefault:"postgres"`
	DSN   string `env:"DSN"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	Worker   Worker
	Schedule Schedule
	Webhook  Webhook
}

// Worker holds queue and pool settings.
type Worker struct {
	Concurrency        int           `env:"CONCURRENCY" envDefault:"4"`
	BatchSize          int           `env:"BATCH_SIZE" envDefault:"10"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	ClaimRate          float64       `env:"CLAIM_RATE"`
	HandlerTimeout     time.Duration `env:"HANDLER_TIMEOUT"`
	VisibilityTimeout  time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"5m"`
	ProcessedRetention time.Duration `env:"PROCESSED_RETENTION"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Retry policy for failed items. Strategy is one of constant, linear,
	// exponential or exponential_jitter.
	BackoffStrategy string        `env:"BACKOFF_STRATEGY" envDefault:"exponential"`
	BackoffInitial  time.Duration `env:"BACKOFF_INITIAL" envDefault:"2s"`
	BackoffMax      time.Duration `env:"BACKOFF_MAX" envDefault:"5m"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"8"`
}

// Schedule holds scheduler settings.
type Schedule struct {
	TickInterval time.Duration `env:"SCHEDULE_TICK" envDefault:"15s"`
	BatchSize    int           `env:"SCHEDULE_BATCH_SIZE" envDefault:"25"`
	LockTTL      time.Duration `env:"SCHEDULE_LOCK_TTL" envDefault:"5m"`
	BackoffMax   time.Duration `env:"SCHEDULE_BACKOFF_MAX" envDefault:"24h"`
}

// Webhook holds outbound delivery settings.
type Webhook struct {
	Timeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	Parallelism int           `env:"WEBHOOK_PARALLELISM" envDefault:"8"`

	// Per target host. Zero disables the cap or the rate limit.
	HostConcurrency int     `env:"WEBHOOK_HOST_CONCURRENCY"`
	HostRate        float64 `env:"WEBHOOK_HOST_RATE"`
	HostBurst       int     `env:"WEBHOOK_HOST_BURST"`
}

// Load reads the given .env files, when present, and parses the
// environment. Variables already set in the environment win over files.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "OUTPOST_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values env parsing cannot.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreSQLite, StoreRedis:
		if c.DSN == "" {
			return fmt.Errorf("OUTPOST_DSN is required for store %q", c.Store)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown OUTPOST_STORE %q", c.Store)
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("OUTPOST_CONCURRENCY must be at least 1")
	}
	if c.Worker.BatchSize < 1 {
		return errors.New("OUTPOST_BATCH_SIZE must be at least 1")
	}
	if c.Webhook.HostConcurrency < 0 || c.Webhook.HostRate < 0 {
		return errors.New("webhook host limits must not be negative")
	}
	if c.Worker.MaxAttempts < 1 {
		return errors.New("OUTPOST_MAX_ATTEMPTS must be at least 1")
	}
	if c.Worker.BackoffInitial < 0 || c.Worker.BackoffMax < 0 || c.Schedule.BackoffMax < 0 {
		return errors.New("backoff durations must not be negative")
	}
	if _, err := c.ItemPolicy(); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ItemPolicy builds the queue item retry policy from the OUTPOST_BACKOFF_*
// and OUTPOST_MAX_ATTEMPTS settings.
func (c *Config) ItemPolicy() (backoff.ItemPolicy, error) {
	strategy, err := backoff.Parse(c.Worker.BackoffStrategy, c.Worker.BackoffInitial, c.Worker.BackoffMax)
	if err != nil {
		return backoff.ItemPolicy{}, fmt.Errorf("invalid OUTPOST_BACKOFF_STRATEGY: %w", err)
	}
	return backoff.ItemPolicy{Strategy: strategy, MaxAttempts: c.Worker.MaxAttempts}, nil
}

// HostLimits returns the per-host webhook throttle, or false when neither
// a concurrency cap nor a rate is configured.
func (c *Config) HostLimits() (queue.LimitConfig, bool) {
	w := c.Webhook
	if w.HostConcurrency == 0 && w.HostRate == 0 {
		return queue.LimitConfig{}, false
	}
	return queue.LimitConfig{
		MaxConcurrency: w.HostConcurrency,
		RateLimit:      w.HostRate,
		RateBurst:      w.HostBurst,
	}, true
}

// SchedulePolicy builds the schedule retry policy.
func (c *Config) SchedulePolicy() backoff.SchedulePolicy {
	return backoff.SchedulePolicy{Max: c.Schedule.BackoffMax}
}

// Engine maps the process settings onto an engine configuration.
func (c *Config) Engine() outpost.Config {
	cfg := outpost.DefaultConfig()
	cfg.Concurrency = c.Worker.Concurrency
	cfg.BatchSize = c.Worker.BatchSize
	cfg.PollInterval = c.Worker.PollInterval
	cfg.ClaimRate = c.Worker.ClaimRate
	cfg.HandlerTimeout = c.Worker.HandlerTimeout
	cfg.VisibilityTimeout = c.Worker.VisibilityTimeout
	cfg.ProcessedRetention = c.Worker.ProcessedRetention
	cfg.ShutdownTimeout = c.Worker.ShutdownTimeout
	cfg.ScheduleTickInterval = c.Schedule.TickInterval
	cfg.ScheduleBatchSize = c.Schedule.BatchSize
	cfg.ScheduleLockTTL = c.Schedule.LockTTL
	cfg.WebhookTimeout = c.Webhook.Timeout
	cfg.WebhookParallelism = c.Webhook.Parallelism
	return cfg
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid OUTPOST_LOG_LEVEL %q", s)
	}
	return l, nil
}
