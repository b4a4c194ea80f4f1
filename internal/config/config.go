// Package config loads the ingestion core's startup configuration:
// defaults, then an optional YAML file, then environment overrides.
// Adapted from the teacher's pkg/config/config.go (same three-layer
// load order, same envdecode/godotenv/yaml.v3 stack).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cleanfleet/telemetry-core/internal/logging"
)

// ServerConfig controls the webhook ingress HTTP listener (spec.md §4.F, §6).
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig is one tenant database's connection parameters.
type DatabaseConfig struct {
	Tenant          string `yaml:"tenant"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// PollerConfig controls the fixed-interval fetch scheduler (spec.md §4.E, §5).
type PollerConfig struct {
	Interval             time.Duration `yaml:"interval" env:"POLLER_INTERVAL"`
	PoolSize             int           `yaml:"pool_size" env:"POLLER_POOL_SIZE"`
	BackpressureMultiple int           `yaml:"backpressure_multiple" env:"POLLER_BACKPRESSURE_MULTIPLE"`
}

// UnmarshalYAML reads Interval as a human duration string ("5m") parsed
// by time.ParseDuration, so config.yaml documents can write durations the
// readable way instead of counting nanoseconds. A bare integer without a
// unit is rejected.
func (c *PollerConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Interval             string `yaml:"interval"`
		PoolSize             int    `yaml:"pool_size"`
		BackpressureMultiple int    `yaml:"backpressure_multiple"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.PoolSize != 0 {
		c.PoolSize = raw.PoolSize
	}
	if raw.BackpressureMultiple != 0 {
		c.BackpressureMultiple = raw.BackpressureMultiple
	}
	if raw.Interval != "" {
		d, err := parseDurationField("poller.interval", raw.Interval)
		if err != nil {
			return err
		}
		c.Interval = d
	}
	return nil
}

// NotificationConfig controls the outbound notification sink (spec.md §6).
type NotificationConfig struct {
	Host           string        `yaml:"host" env:"NOTIFICATION_HOST"`
	Timeout        time.Duration `yaml:"timeout" env:"NOTIFICATION_TIMEOUT"`
	SuppressWindow time.Duration `yaml:"suppress_window" env:"NOTIFICATION_SUPPRESS_WINDOW"`
}

// UnmarshalYAML mirrors PollerConfig's: Timeout and SuppressWindow are
// written as human duration strings in config.yaml.
func (c *NotificationConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Host           string `yaml:"host"`
		Timeout        string `yaml:"timeout"`
		SuppressWindow string `yaml:"suppress_window"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Host = raw.Host
	if raw.Timeout != "" {
		d, err := parseDurationField("notification.timeout", raw.Timeout)
		if err != nil {
			return err
		}
		c.Timeout = d
	}
	if raw.SuppressWindow != "" {
		d, err := parseDurationField("notification.suppress_window", raw.SuppressWindow)
		if err != nil {
			return err
		}
		c.SuppressWindow = d
	}
	return nil
}

func parseDurationField(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

// RedisConfig is optional; when Addr is empty the poller's backpressure
// counter runs in-process only (single replica).
type RedisConfig struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
}

// PathsConfig points at the declarative configuration documents (spec.md §6).
type PathsConfig struct {
	DatabaseRouting string `yaml:"database_routing" env:"CONFIG_DATABASE_ROUTING"`
	Credentials     string `yaml:"credentials" env:"CONFIG_CREDENTIALS"`
	AdaptersDir     string `yaml:"adapters_dir" env:"CONFIG_ADAPTERS_DIR"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server         ServerConfig       `yaml:"server"`
	Databases      []DatabaseConfig   `yaml:"databases"`
	Poller         PollerConfig       `yaml:"poller"`
	Notification   NotificationConfig `yaml:"notification"`
	Redis          RedisConfig        `yaml:"redis"`
	Paths          PathsConfig        `yaml:"paths"`
	Logging        logging.Config     `yaml:"logging"`
	WebhookSecrets map[string]string  `yaml:"webhook_secrets"` // vendor id -> webhook verification secret; absent/empty skips verification (spec.md §4.F step 1)
}

// New returns a Config populated with the ingestion core's defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Poller: PollerConfig{
			Interval:             5 * time.Minute,
			PoolSize:             8,
			BackpressureMultiple: 4,
		},
		Notification: NotificationConfig{
			Timeout:        10 * time.Second,
			SuppressWindow: 10 * time.Minute,
		},
		Paths: PathsConfig{
			DatabaseRouting: "configs/database_routing.yaml",
			Credentials:     "configs/credentials.yaml",
			AdaptersDir:     "configs/adapters",
		},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads configuration in the order: defaults -> YAML file (CONFIG_FILE
// env var, else configs/config.yaml) -> environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate enforces the configuration invariants that must hold before any
// worker starts: at least one database, a positive poll interval, and no
// serial double-booked across tenants (checked later once the routing
// document is loaded by pkg/routing). Anything that fails here is a fatal
// startup error (spec.md §7's "Configuration" row).
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("config: at least one database must be configured")
	}
	seen := make(map[string]bool, len(c.Databases))
	for _, db := range c.Databases {
		if db.Tenant == "" {
			return fmt.Errorf("config: database entry missing tenant id")
		}
		if seen[db.Tenant] {
			return fmt.Errorf("config: duplicate database entry for tenant %q", db.Tenant)
		}
		seen[db.Tenant] = true
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("config: poller interval must be positive")
	}
	return nil
}
