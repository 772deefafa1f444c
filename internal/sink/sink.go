// Package sink forwards reassembled trace lines to external stores in
// addition to standard output.
package sink

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/ethpandaops/stracekit/internal/export"
	httpexport "github.com/ethpandaops/stracekit/internal/export/http"
)

// Config holds configuration for all sinks.
type Config struct {
	// HTTP configures NDJSON export (e.g., to Vector).
	HTTP httpexport.Config `yaml:"http"`

	// ClickHouse configures row inserts into ClickHouse.
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	// Host is stamped on every record. Defaults to the hostname.
	Host string `yaml:"host"`
}

// Validate checks every enabled sink.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("sinks.http: %w", err)
	}

	if c.ClickHouse.Enabled {
		if err := c.ClickHouse.Validate(); err != nil {
			return fmt.Errorf("sinks.clickhouse: %w", err)
		}
	}

	return nil
}

// Sink consumes records produced by the reassembler.
type Sink interface {
	// Name returns the sink's name for logging and metrics.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop flushes buffered records and shuts the sink down.
	Stop() error
	// HandleRecord queues one record. It must not block.
	HandleRecord(rec Record)
}

// Set fans records out to every configured sink.
type Set struct {
	log   logrus.FieldLogger
	sinks []Sink
}

// New builds the enabled sinks. An empty Set is valid and discards
// records.
func New(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) (*Set, error) {
	s := &Set{
		log:   log.WithField("component", "sinks"),
		sinks: make([]Sink, 0, 2),
	}

	if cfg.HTTP.Enabled {
		h, err := NewHTTPSink(log, cfg.HTTP, health)
		if err != nil {
			return nil, fmt.Errorf("creating http sink: %w", err)
		}

		s.sinks = append(s.sinks, h)
	}

	if cfg.ClickHouse.Enabled {
		s.sinks = append(s.sinks, NewClickHouseSink(log, cfg.ClickHouse, health))
	}

	return s, nil
}

// NewSet wraps already constructed sinks.
func NewSet(log logrus.FieldLogger, sinks ...Sink) *Set {
	return &Set{
		log:   log.WithField("component", "sinks"),
		sinks: sinks,
	}
}

// Len returns the number of sinks.
func (s *Set) Len() int {
	return len(s.sinks)
}

// Start starts every sink, stopping those already started if one fails.
func (s *Set) Start(ctx context.Context) error {
	for i, snk := range s.sinks {
		if err := snk.Start(ctx); err != nil {
			for _, started := range s.sinks[:i] {
				err = multierr.Append(err, started.Stop())
			}

			return fmt.Errorf("starting sink %s: %w", snk.Name(), err)
		}

		s.log.WithField("sink", snk.Name()).Info("Sink started")
	}

	return nil
}

// HandleRecord passes rec to every sink.
func (s *Set) HandleRecord(rec Record) {
	for _, snk := range s.sinks {
		snk.HandleRecord(rec)
	}
}

// Stop stops every sink and returns the combined errors.
func (s *Set) Stop() error {
	var err error

	for _, snk := range s.sinks {
		if stopErr := snk.Stop(); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stopping sink %s: %w", snk.Name(), stopErr))
		}
	}

	return err
}
