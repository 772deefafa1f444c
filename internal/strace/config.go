package strace

import (
	"errors"
	"time"
)

// DefaultMaxLineBytes bounds a single trace line. strace -s with large
// string limits can print very long lines.
const DefaultMaxLineBytes = 16 * 1024 * 1024

// Config configures the reassembler.
type Config struct {
	// MaxLineBytes is the longest accepted input line.
	// Defaults to 16MiB.
	MaxLineBytes int `yaml:"max_line_bytes"`

	// FlushEveryLine flushes stdout after each emitted line. When
	// unset it is enabled for stdin and disabled for files.
	FlushEveryLine *bool `yaml:"flush_every_line"`

	// StatsInterval is how often outcome counters are reported to
	// the log and metrics. Zero reports only at end of stream.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxLineBytes < 0 {
		return errors.New("combine.max_line_bytes must not be negative")
	}

	if c.StatsInterval < 0 {
		return errors.New("combine.stats_interval must not be negative")
	}

	return nil
}

// ShouldFlushEveryLine resolves FlushEveryLine for the given input.
func (c *Config) ShouldFlushEveryLine(fromStdin bool) bool {
	if c.FlushEveryLine == nil {
		return fromStdin
	}

	return *c.FlushEveryLine
}
