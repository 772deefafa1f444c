// Package fcstat reports per-interval fibre channel HBA statistics
// read from sysfs.
package fcstat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	headerFormat = "%-10s  %-10s  %-10s  %-10s  %-14s  %-10s  %-10s\n"
	rowFormat    = "%-10s  %-10d  %-10d  %-10d  %-14d  %-10d  %-10d\n"
)

// HealthRecorder receives per-host statistic deltas.
type HealthRecorder interface {
	RecordFCHostDelta(host, stat string, delta uint64)
	RecordFCHostReadError(host string)
	SetFCHostsTracked(n int)
}

// Poller samples FC host counters and prints the deltas.
type Poller struct {
	log      logrus.FieldLogger
	cfg      Config
	metrics  HealthRecorder
	hosts    []string
	baseline map[string]Sample
}

// NewPoller creates a Poller. metrics may be nil.
func NewPoller(log logrus.FieldLogger, cfg Config, metrics HealthRecorder) *Poller {
	cfg.ApplyDefaults()

	return &Poller{
		log:     log.WithField("component", "fcstat"),
		cfg:     cfg,
		metrics: metrics,
	}
}

// Hosts returns the hosts found by Baseline.
func (p *Poller) Hosts() []string {
	return p.hosts
}

// Baseline discovers hosts, verifies their statistics and records
// the starting counter values.
func (p *Poller) Baseline(ctx context.Context) error {
	hosts, err := DiscoverHosts(ctx, p.log, p.cfg.Root)
	if err != nil {
		return err
	}

	if len(hosts) == 0 {
		return fmt.Errorf("no fibre channel hosts found under %s", p.cfg.Root)
	}

	for _, host := range hosts {
		if err := VerifyHost(p.cfg.Root, host); err != nil {
			return err
		}
	}

	p.hosts = hosts
	p.baseline = make(map[string]Sample, len(hosts))

	for _, host := range hosts {
		p.baseline[host] = p.sample(host, Sample{})
	}

	if p.metrics != nil {
		p.metrics.SetFCHostsTracked(len(hosts))
	}

	p.log.WithField("hosts", hosts).Info("Polling FC host statistics")

	return nil
}

// Report writes one header, a delta row per host and a blank line,
// then advances the baseline.
func (p *Poller) Report(w io.Writer) error {
	if p.baseline == nil {
		return errors.New("fcstat: Report called before Baseline")
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, headerFormat,
		"HBA", "RX Frames", "TX Frames", "Errors", "Invalid CRC", "MB/In", "MB/Out")

	for _, host := range p.hosts {
		prev := p.baseline[host]
		cur := p.sample(host, prev)
		d := Delta(prev, cur)

		fmt.Fprintf(&buf, rowFormat, host, d[0], d[1], d[2], d[3], d[4], d[5])

		if p.metrics != nil {
			for i, stat := range Statistics {
				p.metrics.RecordFCHostDelta(host, stat, d[i])
			}
		}

		p.baseline[host] = cur
	}

	buf.WriteByte('\n')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

// Run baselines, then reports every interval until ctx is done or
// Count reports have been written.
func (p *Poller) Run(ctx context.Context, w io.Writer) error {
	if err := p.Baseline(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	reports := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Report(w); err != nil {
				return err
			}

			reports++

			if p.cfg.Count > 0 && reports >= p.cfg.Count {
				return nil
			}
		}
	}
}

// sample reads every statistic for host. A counter that cannot be
// read keeps its previous value so it reports a zero delta.
func (p *Poller) sample(host string, prev Sample) Sample {
	cur := prev
	dir := statisticsDir(p.cfg.Root, host)

	for i, stat := range Statistics {
		v, err := ReadCounter(filepath.Join(dir, stat))
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"host": host,
				"stat": stat,
			}).Warn("Failed to read FC host statistic")

			if p.metrics != nil {
				p.metrics.RecordFCHostReadError(host)
			}

			continue
		}

		cur[i] = v
	}

	return cur
}
