// Package config loads the tunable knobs that spec.md's CLI flags don't
// name: queue sizes, timeouts, reconnect delay, logging, and the optional
// health/metrics listeners. CLI flags for the addresses spec.md does name
// (tcp-listen-address, cloudflare-listen-address, cloudflare-server-address,
// forward-address) always take precedence over file values.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for wstunnel. Both the front and
// the back read the same file format; each role only consults its own
// section.
type Config struct {
	Front      FrontConfig      `yaml:"front"`
	Back       BackConfig       `yaml:"back"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// FrontConfig holds front-role tunables beyond the required listen
// addresses (those come from CLI flags, see cmd/wstunnel).
type FrontConfig struct {
	// DataQueueSize bounds each direction of a session's ConnectionPipe.
	// spec.md fixes this at 32; kept configurable only for testing.
	DataQueueSize int `yaml:"data_queue_size"`
	// CommandQueueSize bounds the /control command queue. spec.md fixes
	// this at 10.
	CommandQueueSize int `yaml:"command_queue_size"`
	// PendingTTL bounds how long a TCP connection may wait unclaimed in
	// PendingRendezvous before the front drops it (spec §9 open question).
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// AcceptRateLimit, if > 0, caps TCP accepts per minute per source IP
	// (ambient resilience, not tunnel authentication).
	AcceptRateLimit int `yaml:"accept_rate_limit_per_minute"`
}

// BackConfig holds back-role tunables beyond the required addresses.
type BackConfig struct {
	// ReconnectDelay is how long the back waits before retrying a dropped
	// or failed /control connection. spec.md fixes this at 5s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// DialTimeout bounds both the /connect WebSocket dial and the origin
	// TCP dial on each new-connection request.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// PingInterval and PongTimeout are parsed from the file and given
	// defaults, but no code reads them: the control channel sends no
	// WebSocket pings, and a dead intermediary is detected only when the
	// read loop fails.
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

// LoggingConfig mirrors the teacher's logging knobs.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig controls the front's optional /health endpoint.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
}

// MonitoringConfig controls the front's optional Prometheus endpoint.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config whose values equal spec.md's literals
// wherever spec.md specifies one, and sensible operational defaults
// elsewhere.
func DefaultConfig() *Config {
	return &Config{
		Front: FrontConfig{
			DataQueueSize:    32,
			CommandQueueSize: 10,
			PendingTTL:       30 * time.Second,
			AcceptRateLimit:  0,
		},
		Back: BackConfig{
			ReconnectDelay: 5 * time.Second,
			DialTimeout:    10 * time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       false,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads an optional YAML config file over DefaultConfig and applies
// WSTUNNEL_-prefixed environment variable overrides. path == "" skips the
// file and returns defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors. Required-address
// validation (tcp-listen-address etc.) is the CLI layer's responsibility
// since those values come from flags, not this file.
func (c *Config) Validate() error {
	if c.Front.DataQueueSize <= 0 {
		return fmt.Errorf("front.data_queue_size must be positive")
	}
	if c.Front.CommandQueueSize <= 0 {
		return fmt.Errorf("front.command_queue_size must be positive")
	}
	if c.Front.PendingTTL <= 0 {
		return fmt.Errorf("front.pending_ttl must be positive")
	}
	if c.Back.ReconnectDelay <= 0 {
		return fmt.Errorf("back.reconnect_delay must be positive")
	}
	if c.Back.DialTimeout <= 0 {
		return fmt.Errorf("back.dial_timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
	}

	return nil
}

// applyEnvOverrides applies WSTUNNEL_ prefixed environment variables.
// Convention: WSTUNNEL_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"WSTUNNEL_FRONT_PENDING_TTL":           func(v string) { cfg.Front.PendingTTL = parseDuration(v, cfg.Front.PendingTTL) },
		"WSTUNNEL_FRONT_ACCEPT_RATE_LIMIT":     func(v string) { cfg.Front.AcceptRateLimit = parseInt(v, cfg.Front.AcceptRateLimit) },
		"WSTUNNEL_BACK_RECONNECT_DELAY":        func(v string) { cfg.Back.ReconnectDelay = parseDuration(v, cfg.Back.ReconnectDelay) },
		"WSTUNNEL_BACK_DIAL_TIMEOUT":           func(v string) { cfg.Back.DialTimeout = parseDuration(v, cfg.Back.DialTimeout) },
		"WSTUNNEL_LOGGING_LEVEL":               func(v string) { cfg.Logging.Level = v },
		"WSTUNNEL_LOGGING_FORMAT":              func(v string) { cfg.Logging.Format = v },
		"WSTUNNEL_LOGGING_FILE":                func(v string) { cfg.Logging.File = v },
		"WSTUNNEL_HEALTH_ENABLED":              func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"WSTUNNEL_HEALTH_LISTEN_ADDRESS":       func(v string) { cfg.Health.ListenAddress = v },
		"WSTUNNEL_MONITORING_METRICS_ENABLED":  func(v string) { cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled) },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
