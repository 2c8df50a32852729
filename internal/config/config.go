// Package config holds the broker's process-wide configuration and user
// directory data model: the mutable record the admin surface reads and
// writes at runtime, loadable from a YAML file at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete process-wide configuration record described in
// spec §3 ("Configuration"), plus the ambient logging/metrics/admin-store
// sections a full service needs.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Limits  LimitsConfig  `yaml:"limits"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Admin   AdminConfig   `yaml:"admin"`
}

// ServerConfig contains the MQTT listener's binding settings.
type ServerConfig struct {
	Host string `yaml:"host"` // network interface to bind to
	Port int    `yaml:"port"` // MQTT port, 1883 by default
}

// AuthConfig controls anonymous access. The username/password directory
// itself lives in Users, not here, so it can be mutated independently by
// the admin surface without touching the rest of the config record.
type AuthConfig struct {
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// LimitsConfig bounds connection and keep-alive behavior.
type LimitsConfig struct {
	MaxConnections       int `yaml:"max_connections"`
	MaxKeepAliveSeconds  int `yaml:"max_keepalive_seconds"`
}

// LoggingConfig holds logging settings. Validate checks Level; nothing in
// the broker or cmd/server applies these fields to the log.Logger in use.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// AdminConfig controls the bbolt-backed snapshot of admin state (users and
// the last-applied config) used so operator edits survive a restart. This
// is unrelated to session/retained-message persistence, which are explicit
// non-goals for the protocol itself.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Users is the username -> plaintext password directory (spec §3, §9:
// comparison is plaintext by design in the baseline).
type Users map[string]string

// Load reads and parses a YAML configuration file, applying defaults to any
// field left unset and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills in any zero-valued field with the broker's defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1883
	}
	if c.Limits.MaxConnections == 0 {
		c.Limits.MaxConnections = 100
	}
	if c.Limits.MaxKeepAliveSeconds == 0 {
		c.Limits.MaxKeepAliveSeconds = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Admin.Path == "" {
		c.Admin.Path = "./data/admin.db"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Limits.MaxConnections < 1 {
		return fmt.Errorf("invalid max_connections: %d (must be >= 1)", c.Limits.MaxConnections)
	}
	if c.Limits.MaxKeepAliveSeconds < 1 {
		return fmt.Errorf("invalid max_keepalive_seconds: %d (must be >= 1)", c.Limits.MaxKeepAliveSeconds)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port cannot be the same as the MQTT server port")
		}
	}
	return nil
}
