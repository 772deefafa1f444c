package zonecheck

import (
	"errors"
	"time"
)

// Config configures the zone transfer checker.
type Config struct {
	// DigPath is the dig binary to run. Defaults to "dig".
	DigPath string `yaml:"dig_path"`

	// Timeout is passed to dig as +time. Defaults to 1s.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of extra attempts made when a master
	// cannot be reached.
	Retries int `yaml:"retries"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.DigPath == "" {
		c.DigPath = "dig"
	}

	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Retries < 0 {
		return errors.New("zonecheck.retries must not be negative")
	}

	if c.Timeout < 0 {
		return errors.New("zonecheck.timeout must not be negative")
	}

	return nil
}

// timeoutSeconds renders the timeout for dig's +time option, which
// takes whole seconds and treats 0 as 1.
func (c *Config) timeoutSeconds() int {
	secs := int(c.Timeout / time.Second)
	if secs < 1 {
		secs = 1
	}

	return secs
}
