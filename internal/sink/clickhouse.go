package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stracekit/internal/export"
)

const clickhouseSinkName = "clickhouse"

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	Enabled bool `yaml:"enabled"`

	export.ClickHouseConfig `yaml:",inline"`

	// QueueSize bounds records waiting to be batched. Records are
	// dropped when it is full. Defaults to 65536.
	QueueSize int `yaml:"queue_size"`
}

// rowWriter inserts a batch of records.
type rowWriter interface {
	Start(ctx context.Context) error
	WriteRows(ctx context.Context, rows []Record) error
	Stop() error
}

type clickhouseRows struct {
	w *export.ClickHouseWriter
}

func (c *clickhouseRows) Start(ctx context.Context) error {
	return c.w.Start(ctx)
}

func (c *clickhouseRows) Stop() error {
	return c.w.Stop()
}

func (c *clickhouseRows) WriteRows(ctx context.Context, rows []Record) error {
	cfg := c.w.Config()

	batch, err := c.w.Conn().PrepareBatch(
		ctx,
		fmt.Sprintf(
			"INSERT INTO %s (run_id, host, source, seq, timestamp, outcome, pid, call, line)",
			cfg.QualifiedTable(),
		),
	)
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.RunID,
			row.Host,
			row.Source,
			row.Seq,
			row.Timestamp,
			row.Outcome,
			row.PID,
			row.Call,
			row.Line,
		); err != nil {
			_ = batch.Abort()

			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch of %d rows: %w", len(rows), err)
	}

	return nil
}

// ClickHouseSink buffers records and inserts them in batches, on size
// or on FlushInterval, whichever comes first.
type ClickHouseSink struct {
	log    logrus.FieldLogger
	cfg    ClickHouseConfig
	rows   rowWriter
	health *export.HealthMetrics

	mu     sync.Mutex
	batch  []Record
	cancel context.CancelFunc
	done   chan struct{}
	recCh  chan Record
}

var _ Sink = (*ClickHouseSink)(nil)

// NewClickHouseSink creates a ClickHouse sink.
func NewClickHouseSink(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *export.HealthMetrics,
) *ClickHouseSink {
	writer := export.NewClickHouseWriter(log, cfg.ClickHouseConfig)

	return newClickHouseSink(log, cfg, health, &clickhouseRows{w: writer})
}

func newClickHouseSink(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *export.HealthMetrics,
	rows rowWriter,
) *ClickHouseSink {
	cfg.ClickHouseConfig.ApplyDefaults()

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 65536
	}

	return &ClickHouseSink{
		log:    log.WithField("sink", clickhouseSinkName),
		cfg:    cfg,
		rows:   rows,
		health: health,
		batch:  make([]Record, 0, cfg.BatchSize),
		done:   make(chan struct{}),
		recCh:  make(chan Record, cfg.QueueSize),
	}
}

func (s *ClickHouseSink) Name() string { return clickhouseSinkName }

func (s *ClickHouseSink) Start(ctx context.Context) error {
	if err := s.rows.Start(ctx); err != nil {
		return err
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues(clickhouseSinkName).Set(1)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	go s.runLoop(ctx)

	return nil
}

func (s *ClickHouseSink) HandleRecord(rec Record) {
	select {
	case s.recCh <- rec:
		if s.health != nil {
			s.health.SinkRecordsProcessed.WithLabelValues(clickhouseSinkName).Inc()
		}
	default:
		s.log.Warn("ClickHouse sink queue full, dropping record")

		if s.health != nil {
			s.health.SinkRecordsDropped.WithLabelValues(clickhouseSinkName).Inc()
		}
	}
}

// Stop drains queued records, performs a final flush and closes the
// connection.
func (s *ClickHouseSink) Stop() error {
	if s.cancel == nil {
		return s.rows.Stop()
	}

	s.cancel()
	<-s.done

	s.mu.Lock()
	remaining := s.batch
	s.batch = nil
	s.mu.Unlock()

drain:
	for {
		select {
		case rec := <-s.recCh:
			remaining = append(remaining, rec)
		default:
			break drain
		}
	}

	if len(remaining) > 0 {
		if err := s.flush(context.Background(), remaining); err != nil {
			s.log.WithError(err).Error("Final flush failed")
		}
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues(clickhouseSinkName).Set(0)
	}

	return s.rows.Stop()
}

func (s *ClickHouseSink) runLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.recCh:
			s.add(ctx, rec)
		case <-ticker.C:
			s.tickFlush(ctx)
		}
	}
}

func (s *ClickHouseSink) add(ctx context.Context, rec Record) {
	s.mu.Lock()
	s.batch = append(s.batch, rec)

	var toFlush []Record

	if len(s.batch) >= s.cfg.BatchSize {
		toFlush = s.batch
		s.batch = make([]Record, 0, s.cfg.BatchSize)
	}

	s.mu.Unlock()

	if toFlush != nil {
		if err := s.flush(ctx, toFlush); err != nil {
			s.log.WithError(err).Error("Batch flush failed")
		}
	}
}

func (s *ClickHouseSink) tickFlush(ctx context.Context) {
	s.mu.Lock()

	if len(s.batch) == 0 {
		s.mu.Unlock()

		return
	}

	toFlush := s.batch
	s.batch = make([]Record, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	if err := s.flush(ctx, toFlush); err != nil {
		s.log.WithError(err).Error("Periodic flush failed")
	}
}

func (s *ClickHouseSink) flush(ctx context.Context, rows []Record) error {
	start := time.Now()

	if err := s.rows.WriteRows(ctx, rows); err != nil {
		if s.health != nil {
			s.health.ExportBatchErrors.WithLabelValues(clickhouseSinkName, "write").Inc()
		}

		return err
	}

	if s.health != nil {
		s.health.SinkFlushDuration.WithLabelValues(clickhouseSinkName).
			Observe(time.Since(start).Seconds())
		s.health.SinkBatchSize.WithLabelValues(clickhouseSinkName).
			Observe(float64(len(rows)))
	}

	s.log.WithField("rows", len(rows)).Debug("Flushed trace lines")

	return nil
}
