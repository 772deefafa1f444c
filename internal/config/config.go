// Package config loads the stracekit YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/stracekit/internal/export"
	"github.com/ethpandaops/stracekit/internal/fcstat"
	"github.com/ethpandaops/stracekit/internal/sink"
	"github.com/ethpandaops/stracekit/internal/source"
	"github.com/ethpandaops/stracekit/internal/strace"
	"github.com/ethpandaops/stracekit/internal/zonecheck"
)

// Config is the top-level configuration for stracekit.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Input configures how trace input is opened.
	Input source.Config `yaml:"input"`

	// Combine configures the reassembler.
	Combine strace.Config `yaml:"combine"`

	// Sinks configures optional export of reassembled lines.
	Sinks sink.Config `yaml:"sinks"`

	// ZoneCheck configures the zonecheck command.
	ZoneCheck zonecheck.Config `yaml:"zonecheck"`

	// FCStat configures the fcstat command.
	FCStat fcstat.Config `yaml:"fcstat"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}

	cfg.ApplyDefaults()

	return cfg
}

// LoadConfig reads and parses a YAML configuration file. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields of every section.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.Input.ApplyDefaults()
	c.Combine.ApplyDefaults()
	c.Sinks.HTTP.ApplyDefaults()
	c.Sinks.ClickHouse.ApplyDefaults()
	c.ZoneCheck.ApplyDefaults()
	c.FCStat.ApplyDefaults()

	if c.Health.Addr == "" {
		c.Health.Addr = ":9090"
	}
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}

	if err := c.Combine.Validate(); err != nil {
		return err
	}

	if err := c.Sinks.Validate(); err != nil {
		return err
	}

	if err := c.ZoneCheck.Validate(); err != nil {
		return err
	}

	return c.FCStat.Validate()
}
