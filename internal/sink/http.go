package sink

import (
	"context"
	"fmt"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stracekit/internal/export"
	httpexport "github.com/ethpandaops/stracekit/internal/export/http"
)

const httpSinkName = "http"

// HTTPSink batches records and POSTs them as NDJSON.
type HTTPSink struct {
	log    logrus.FieldLogger
	health *export.HealthMetrics
	proc   *processor.BatchItemProcessor[Record]
	ctx    context.Context
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates an HTTP sink from cfg.
func NewHTTPSink(
	log logrus.FieldLogger,
	cfg httpexport.Config,
	health *export.HealthMetrics,
) (*HTTPSink, error) {
	proc, err := httpexport.NewProcessor[Record](log, cfg, "strace_lines_http")
	if err != nil {
		return nil, fmt.Errorf("creating HTTP processor: %w", err)
	}

	return &HTTPSink{
		log:    log.WithField("sink", httpSinkName),
		health: health,
		proc:   proc,
		ctx:    context.Background(),
	}, nil
}

func (s *HTTPSink) Name() string { return httpSinkName }

func (s *HTTPSink) Start(ctx context.Context) error {
	s.ctx = ctx
	s.proc.Start(ctx)

	s.log.Info("HTTP export started")

	return nil
}

func (s *HTTPSink) HandleRecord(rec Record) {
	if err := s.proc.Write(s.ctx, []*Record{&rec}); err != nil {
		s.log.WithError(err).Debug("HTTP export failed (queue may be full)")

		if s.health != nil {
			s.health.SinkRecordsDropped.WithLabelValues(httpSinkName).Inc()
		}

		return
	}

	if s.health != nil {
		s.health.SinkRecordsProcessed.WithLabelValues(httpSinkName).Inc()
	}
}

func (s *HTTPSink) Stop() error {
	if err := s.proc.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down HTTP processor: %w", err)
	}

	return nil
}
