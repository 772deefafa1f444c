// Package combine runs the reassembler over a trace source, writing
// merged lines to an output stream and forwarding them to sinks.
package combine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/ethpandaops/stracekit/internal/config"
	"github.com/ethpandaops/stracekit/internal/export"
	"github.com/ethpandaops/stracekit/internal/sink"
	"github.com/ethpandaops/stracekit/internal/source"
	"github.com/ethpandaops/stracekit/internal/strace"
)

// Runner wires a source, the reassembler, sinks and metrics together
// for one stream.
type Runner struct {
	log    logrus.FieldLogger
	cfg    *config.Config
	health *export.HealthMetrics
	sinks  *sink.Set
	host   string

	totals map[strace.Outcome]uint64
}

// New creates a Runner with the sinks enabled in cfg.
func New(log logrus.FieldLogger, cfg *config.Config) (*Runner, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	sinks, err := sink.New(log, cfg.Sinks, health)
	if err != nil {
		return nil, fmt.Errorf("creating sinks: %w", err)
	}

	return NewWithSinks(log, cfg, health, sinks), nil
}

// NewWithSinks creates a Runner around already constructed sinks.
func NewWithSinks(
	log logrus.FieldLogger,
	cfg *config.Config,
	health *export.HealthMetrics,
	sinks *sink.Set,
) *Runner {
	host := cfg.Sinks.Host
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}

	return &Runner{
		log:    log.WithField("component", "combine"),
		cfg:    cfg,
		health: health,
		sinks:  sinks,
		host:   host,
		totals: make(map[strace.Outcome]uint64, len(strace.Outcomes())),
	}
}

// Health returns the metrics the runner reports to.
func (r *Runner) Health() *export.HealthMetrics {
	return r.health
}

// Run reassembles the trace at path, or standard input when path is
// empty or "-", writing the result to w.
func (r *Runner) Run(ctx context.Context, path string, w io.Writer) (err error) {
	if err := r.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	defer func() {
		err = multierr.Append(err, r.health.Stop())
	}()

	src, err := source.Open(r.log, r.cfg.Input, path)
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, src.Close())
	}()

	return r.Combine(ctx, src, w)
}

// Combine reassembles src into w. Cancelling ctx stops processing at
// the next line boundary and is not an error.
func (r *Runner) Combine(ctx context.Context, src *source.Source, w io.Writer) (err error) {
	if err := r.sinks.Start(ctx); err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, r.sinks.Stop())
	}()

	reassembler := strace.New(r.log, r.cfg.Combine)
	stamper := sink.NewStamper(uuid.NewString(), r.host, src.Name)

	log := r.log.WithFields(logrus.Fields{
		"source": src.Name,
		"run_id": stamper.RunID,
	})

	log.WithField("sinks", r.sinks.Len()).Debug("Reassembling trace")

	reportCtx, stopReporting := context.WithCancel(ctx)

	var wg sync.WaitGroup

	if interval := r.cfg.Combine.StatsInterval; interval > 0 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			r.reportLoop(reportCtx, log, reassembler, interval)
		}()
	}

	defer func() {
		stopReporting()
		wg.Wait()
		r.reportStats(reassembler)

		log.WithFields(r.totalFields()).Info("Reassembly finished")
	}()

	out := bufio.NewWriterSize(w, 64*1024)
	flushEach := r.cfg.Combine.ShouldFlushEveryLine(src.Stdin)

	for line, procErr := range reassembler.Process(ctx, src) {
		if procErr != nil {
			if errors.Is(procErr, context.Canceled) ||
				errors.Is(procErr, context.DeadlineExceeded) {
				log.Info("Reassembly interrupted")

				break
			}

			r.health.ReadErrors.Inc()

			return multierr.Append(procErr, out.Flush())
		}

		if err := writeLine(out, line.Text, flushEach); err != nil {
			return err
		}

		r.sinks.HandleRecord(stamper.Stamp(line))
	}

	if err := out.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return nil
}

func writeLine(out *bufio.Writer, text string, flush bool) error {
	if _, err := out.WriteString(text); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if err := out.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if flush {
		if err := out.Flush(); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}

	return nil
}

func (r *Runner) reportLoop(
	ctx context.Context,
	log logrus.FieldLogger,
	reassembler *strace.Reassembler,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reportStats(reassembler)

			log.WithFields(r.totalFields()).
				WithField("pending", reassembler.Pending()).
				Debug("Reassembly progress")
		}
	}
}

// reportStats moves the reassembler's counters into the totals and
// the Prometheus metrics.
func (r *Runner) reportStats(reassembler *strace.Reassembler) {
	for outcome, n := range reassembler.Stats().Snapshot() {
		r.totals[outcome] += n
		r.health.LinesByOutcome.WithLabelValues(outcome.String()).Add(float64(n))
	}

	r.health.PendingFragments.Set(float64(reassembler.Pending()))
}

// Totals returns the accumulated outcome counts of the last run.
func (r *Runner) Totals() map[strace.Outcome]uint64 {
	out := make(map[strace.Outcome]uint64, len(r.totals))
	for k, v := range r.totals {
		out[k] = v
	}

	return out
}

func (r *Runner) totalFields() logrus.Fields {
	fields := make(logrus.Fields, len(r.totals))
	for outcome, n := range r.totals {
		fields[outcome.String()] = n
	}

	return fields
}
