// Package config defines the flowdeck configuration model and loader.
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the full flowdeck configuration.
type Config struct {
	// Log controls the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Store selects and tunes the persistence layer.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Runner tunes background run supervision.
	Runner RunnerConfig `yaml:"runner" env:"RUNNER"`

	// Scheduler tunes the schedule-trigger poll loop.
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// DeadLetter tunes the failed-run ledger.
	DeadLetter DeadLetterConfig `yaml:"dead_letter" env:"DEAD_LETTER"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry controls the OTel SDK.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths (stdout, stderr, or files)
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with the calling site
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver: memory, sqlite, redis, twotier
	Driver string `yaml:"driver" env:"DRIVER"`
	// SQLite database path (":memory:" for in-process)
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// Redis connection
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Two-tier reconcile interval (twotier driver only)
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
}

// RedisConfig is the Redis connection configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RunnerConfig tunes background run supervision.
type RunnerConfig struct {
	// Max concurrent supervised runs
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
	// Fallback run timeout when the workflow budget has none
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// Heartbeat stall window
	HeartbeatWindow time.Duration `yaml:"heartbeat_window" env:"HEARTBEAT_WINDOW"`
}

// SchedulerConfig tunes the schedule-trigger poll loop.
type SchedulerConfig struct {
	// Enabled turns the poll loop on
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// PollInterval between due-workflow scans
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// Users to scan for due schedules
	Users []string `yaml:"users" env:"USERS"`
}

// DeadLetterConfig tunes the failed-run ledger.
type DeadLetterConfig struct {
	// Per-user entry cap; oldest evicted beyond it
	Cap int `yaml:"cap" env:"CAP"`
	// Age before a pending entry escalates
	EscalationAge time.Duration `yaml:"escalation_age" env:"ESCALATION_AGE"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Listen address for /metrics
	Addr string `yaml:"addr" env:"ADDR"`
	// Metric namespace prefix
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig controls the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns a config that runs entirely in-process: memory
// store, metrics on, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Store: StoreConfig{
			Driver:            "memory",
			SQLitePath:        "flowdeck.db",
			Redis:             RedisConfig{Addr: "localhost:6379", KeyPrefix: "flowdeck:"},
			ReconcileInterval: 30 * time.Second,
		},
		Runner: RunnerConfig{
			MaxConcurrentRuns: 8,
			DefaultTimeout:    2 * time.Minute,
			HeartbeatWindow:   4 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      false,
			PollInterval: 15 * time.Second,
		},
		DeadLetter: DeadLetterConfig{
			Cap:           50,
			EscalationAge: 15 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9091",
			Namespace: "flowdeck",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "flowdeck",
			SampleRate:   1.0,
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "memory", "sqlite", "redis", "twotier":
	default:
		errs = append(errs, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	if (c.Store.Driver == "redis" || c.Store.Driver == "twotier") && c.Store.Redis.Addr == "" {
		errs = append(errs, "redis addr required for redis-backed store")
	}
	if c.Runner.MaxConcurrentRuns <= 0 {
		errs = append(errs, "runner max_concurrent_runs must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.PollInterval <= 0 {
		errs = append(errs, "scheduler poll_interval must be positive")
	}
	if c.Telemetry.Enabled && (c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1) {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BuildLogger constructs a zap logger from the log config.
func (c LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Level, err)
	}

	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = !c.EnableCaller
	if len(c.OutputPaths) > 0 {
		zc.OutputPaths = c.OutputPaths
	}
	return zc.Build()
}
