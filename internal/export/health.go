package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "stracekit"

// HealthConfig configures the Prometheus metrics server.
type HealthConfig struct {
	// Enabled starts the metrics server. Off by default since
	// stracekit is usually run as a one-shot filter.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics holds every Prometheus metric stracekit exposes and
// optionally serves them.
type HealthMetrics struct {
	log      logrus.FieldLogger
	enabled  bool
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Reassembler
	LinesByOutcome   *prometheus.CounterVec // outcome
	PendingFragments prometheus.Gauge
	ReadErrors       prometheus.Counter

	// Sinks
	SinkRecordsProcessed *prometheus.CounterVec   // sink
	SinkRecordsDropped   *prometheus.CounterVec   // sink
	SinkFlushDuration    *prometheus.HistogramVec // sink
	SinkBatchSize        *prometheus.HistogramVec // sink
	ExportBatchErrors    *prometheus.CounterVec   // sink, error_type
	ClickHouseConnected  *prometheus.GaugeVec     // sink

	// FC host poller
	FCHostsTracked  prometheus.Gauge
	FCHostCounters  *prometheus.CounterVec // host, stat
	FCHostReadError *prometheus.CounterVec // host

	// Zone checker
	ZoneChecks *prometheus.CounterVec // result

	running atomic.Bool
}

// NewHealthMetrics creates the metric set. Start serves it when the
// config enables the server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		enabled:  cfg.Enabled,
		addr:     cfg.Addr,
		registry: reg,

		LinesByOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_total",
				Help:      "Trace lines handled by the reassembler, by outcome.",
			},
			[]string{"outcome"},
		),
		PendingFragments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_fragments",
			Help:      "Unfinished calls waiting for their resumed line.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Fatal errors reading trace input.",
		}),

		SinkRecordsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_records_processed_total",
				Help:      "Records accepted by a sink.",
			},
			[]string{"sink"},
		),
		SinkRecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_records_dropped_total",
				Help:      "Records dropped because a sink queue was full.",
			},
			[]string{"sink"},
		),
		SinkFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_flush_duration_seconds",
				Help:      "Time to flush a batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"sink"},
		),
		SinkBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_batch_size",
				Help:      "Rows per batch flush by sink.",
				Buckets:   []float64{10, 100, 500, 1000, 5000, 10000, 50000},
			},
			[]string{"sink"},
		),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batch_errors_total",
				Help:      "Export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),

		FCHostsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fc_hosts_tracked",
			Help:      "Fibre channel hosts being polled.",
		}),
		FCHostCounters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fc_host_statistic_total",
				Help:      "Accumulated fibre channel host statistic deltas.",
			},
			[]string{"host", "stat"},
		),
		FCHostReadError: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fc_host_read_errors_total",
				Help:      "Failures reading fibre channel statistics files.",
			},
			[]string{"host"},
		),

		ZoneChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "zone_checks_total",
				Help:      "Zone transfer checks by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		h.LinesByOutcome,
		h.PendingFragments,
		h.ReadErrors,
	)

	reg.MustRegister(
		h.SinkRecordsProcessed,
		h.SinkRecordsDropped,
		h.SinkFlushDuration,
		h.SinkBatchSize,
		h.ExportBatchErrors,
		h.ClickHouseConnected,
	)

	reg.MustRegister(
		h.FCHostsTracked,
		h.FCHostCounters,
		h.FCHostReadError,
		h.ZoneChecks,
	)

	return h
}

// Start begins serving /metrics, /healthz and pprof. It is a no-op
// when the server is disabled.
func (h *HealthMetrics) Start(_ context.Context) error {
	if !h.enabled {
		return nil
	}

	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// RecordZoneCheck counts one zone transfer check by result.
func (h *HealthMetrics) RecordZoneCheck(result string) {
	h.ZoneChecks.WithLabelValues(result).Inc()
}

// RecordFCHostDelta adds a counter delta for an FC host statistic.
func (h *HealthMetrics) RecordFCHostDelta(host, stat string, delta uint64) {
	h.FCHostCounters.WithLabelValues(host, stat).Add(float64(delta))
}

// RecordFCHostReadError counts a failed statistics read.
func (h *HealthMetrics) RecordFCHostReadError(host string) {
	h.FCHostReadError.WithLabelValues(host).Inc()
}

// SetFCHostsTracked sets the number of polled FC hosts.
func (h *HealthMetrics) SetFCHostsTracked(n int) {
	h.FCHostsTracked.Set(float64(n))
}

// Registry returns the registry backing the metrics.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
