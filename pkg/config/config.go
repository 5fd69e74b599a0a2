// Package config loads hub settings with deterministic layering: built-in
// defaults, then an optional YAML file (CONFIG_FILE), then environment
// variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig = errors.New("config: invalid")
	ErrBadFile       = errors.New("config: unreadable file")
)

type Config struct {
	WSHost string `yaml:"ws_host"`
	WSPort int    `yaml:"ws_port"`

	TickPeriodMS       int `yaml:"tick_period_ms"`
	ControlTickDivisor int `yaml:"control_tick_divisor"`

	BufferMax             int `yaml:"buffer_max"`
	PerSubscriberQueueMax int `yaml:"per_subscriber_queue_max"`
	MaxConnections        int `yaml:"max_connections"`
	MaxFrameBytes         int `yaml:"max_frame_bytes"`

	ShutdownGraceMS int `yaml:"shutdown_grace_ms"`
	DrainTimeoutMS  int `yaml:"drain_timeout_ms"`

	LogLevel string `yaml:"log_level"`

	// Optional event archive. Empty driver disables archiving.
	ArchiveDriver string `yaml:"archive_driver"` // "sqlite3" or "postgres"
	ArchiveDSN    string `yaml:"archive_dsn"`
}

func Default() Config {
	return Config{
		WSHost:                "0.0.0.0",
		WSPort:                8000,
		TickPeriodMS:          100,
		ControlTickDivisor:    10,
		BufferMax:             5000,
		PerSubscriberQueueMax: 256,
		MaxConnections:        1024,
		MaxFrameBytes:         65536,
		ShutdownGraceMS:       5000,
		DrainTimeoutMS:        2000,
		LogLevel:              "info",
	}
}

// Load resolves the effective config: defaults, CONFIG_FILE overlay when the
// variable is set, then env var overrides, then validation.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFile, err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadFile, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.WSHost = getenv("WS_HOST", c.WSHost)
	c.WSPort = getenvInt("WS_PORT", c.WSPort)
	c.TickPeriodMS = getenvInt("TICK_PERIOD_MS", c.TickPeriodMS)
	c.ControlTickDivisor = getenvInt("CONTROL_TICK_DIVISOR", c.ControlTickDivisor)
	c.BufferMax = getenvInt("BUFFER_MAX", c.BufferMax)
	c.PerSubscriberQueueMax = getenvInt("PER_SUBSCRIBER_QUEUE_MAX", c.PerSubscriberQueueMax)
	c.MaxConnections = getenvInt("MAX_CONNECTIONS", c.MaxConnections)
	c.MaxFrameBytes = getenvInt("MAX_FRAME_BYTES", c.MaxFrameBytes)
	c.ShutdownGraceMS = getenvInt("SHUTDOWN_GRACE_MS", c.ShutdownGraceMS)
	c.DrainTimeoutMS = getenvInt("DRAIN_TIMEOUT_MS", c.DrainTimeoutMS)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.ArchiveDriver = getenv("ARCHIVE_DRIVER", c.ArchiveDriver)
	c.ArchiveDSN = getenv("ARCHIVE_DSN", c.ArchiveDSN)
}

func (c Config) Validate() error {
	bad := func(field, why string) error {
		return fmt.Errorf("%w: %s %s", ErrInvalidConfig, field, why)
	}
	if c.WSPort < 1 || c.WSPort > 65535 {
		return bad("ws_port", "must be 1..65535")
	}
	if c.TickPeriodMS < 1 {
		return bad("tick_period_ms", "must be positive")
	}
	if c.ControlTickDivisor < 1 {
		return bad("control_tick_divisor", "must be positive")
	}
	if c.BufferMax < 1 {
		return bad("buffer_max", "must be positive")
	}
	if c.PerSubscriberQueueMax < 1 {
		return bad("per_subscriber_queue_max", "must be positive")
	}
	if c.MaxConnections < 1 {
		return bad("max_connections", "must be positive")
	}
	if c.MaxFrameBytes < 1024 {
		return bad("max_frame_bytes", "must be at least 1024")
	}
	if c.ShutdownGraceMS < 0 {
		return bad("shutdown_grace_ms", "must be non-negative")
	}
	if c.DrainTimeoutMS < 0 {
		return bad("drain_timeout_ms", "must be non-negative")
	}
	switch c.ArchiveDriver {
	case "", "sqlite3", "postgres":
	default:
		return bad("archive_driver", `must be "", "sqlite3", or "postgres"`)
	}
	if c.ArchiveDriver != "" && strings.TrimSpace(c.ArchiveDSN) == "" {
		return bad("archive_dsn", "required when archive_driver is set")
	}
	return nil
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.WSHost, c.WSPort)
}

func (c Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMS) * time.Millisecond
}

func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMS) * time.Millisecond
}

func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
