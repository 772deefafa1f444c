package fcstat

import (
	"errors"
	"time"
)

// DefaultRoot is where the kernel exposes fibre channel hosts.
const DefaultRoot = "/sys/class/fc_host"

// Config configures the FC statistics poller.
type Config struct {
	// Root is the fc_host class directory. Defaults to
	// /sys/class/fc_host.
	Root string `yaml:"root"`

	// Interval between reports. Defaults to 1s.
	Interval time.Duration `yaml:"interval"`

	// Count bounds the number of reports. 0 reports until stopped.
	Count int `yaml:"count"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = DefaultRoot
	}

	if c.Interval <= 0 {
		c.Interval = time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return errors.New("fcstat.interval must not be negative")
	}

	if c.Count < 0 {
		return errors.New("fcstat.count must not be negative")
	}

	return nil
}
