// Package metrics implements the candle engine's Prometheus metrics surface
// (C8): monotonic counters plus a latency summary exposing p50/p95/p99/p99.9
// and a tracked max.
//
// Grounded on the teacher's internal/metrics/prometheus_metrics.go — same
// CounterVec/start-stop-server shape — but using an instance registry
// (prometheus.NewRegistry) rather than the default global one, so multiple
// Metrics instances (as created in tests) never collide on MustRegister.
package metrics

import (
	"context"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics exposes spec.md §4.6's minimum set: events_processed,
// candles_completed, late_events_dropped, invalid_events,
// pipeline_events_dropped, storage_write_errors (all counters) and
// process_latency (a summary with p50/p95/p99/p99.9 plus a separately
// tracked max, since prometheus.Summary's Objectives don't include max).
type Metrics struct {
	registry *prometheus.Registry
	log      *zap.Logger

	EventsProcessed          prometheus.Counter
	EventsProcessedByOutcome *prometheus.CounterVec
	CandlesCompleted         *prometheus.CounterVec
	LateEventsDropped        *prometheus.CounterVec
	InvalidEvents            prometheus.Counter
	PipelineEventsDropped    prometheus.Counter
	StorageWriteErrors       *prometheus.CounterVec
	ProcessLatencySeconds    prometheus.Summary

	maxLatencyNanos int64 // atomic

	server *http.Server
}

// New builds a Metrics instance registered against a private registry.
func New(log *zap.Logger) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		log:      log,

		EventsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "candlecore_events_processed_total",
				Help: "Total number of valid events processed, incremented exactly once per event.",
			},
		),
		EventsProcessedByOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecore_events_processed_by_outcome_total",
				Help: "Per-interval classification breakdown of processed events; each event contributes one increment per interval, so this sums to 5x events_processed_total.",
			},
			[]string{"interval", "classification"},
		),
		CandlesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecore_candles_completed_total",
				Help: "Total number of candles frozen on rotation or flush, whether or not the store write succeeded.",
			},
			[]string{"interval"},
		),
		LateEventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecore_late_events_dropped_total",
				Help: "Total number of events classified LateBeyond and discarded.",
			},
			[]string{"interval"},
		),
		InvalidEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "candlecore_invalid_events_total",
				Help: "Total number of events rejected by validity checks.",
			},
		),
		PipelineEventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "candlecore_pipeline_events_dropped_total",
				Help: "Total number of events dropped on PipelineOverflow (ring slot claim failure).",
			},
		),
		StorageWriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecore_storage_write_errors_total",
				Help: "Total number of persistence failures on rotation or late-update.",
			},
			[]string{"interval"},
		),
		ProcessLatencySeconds: prometheus.NewSummary(
			prometheus.SummaryOpts{
				Name: "candlecore_process_latency_seconds",
				Help: "End-to-end per-event fold latency across all five intervals, in seconds.",
				Objectives: map[float64]float64{
					0.5:   0.01,
					0.95:  0.005,
					0.99:  0.001,
					0.999: 0.0005,
				},
				MaxAge: 10 * time.Minute,
			},
		),
	}

	reg.MustRegister(
		m.EventsProcessed,
		m.EventsProcessedByOutcome,
		m.CandlesCompleted,
		m.LateEventsDropped,
		m.InvalidEvents,
		m.PipelineEventsDropped,
		m.StorageWriteErrors,
		m.ProcessLatencySeconds,
	)

	return m
}

// ObserveLatency records one end-to-end process() duration (the full
// five-interval fan-out for one event) and updates the tracked max.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.ProcessLatencySeconds.Observe(d.Seconds())

	n := d.Nanoseconds()
	for {
		cur := atomic.LoadInt64(&m.maxLatencyNanos)
		if n <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&m.maxLatencyNanos, cur, n) {
			return
		}
	}
}

// MaxLatency returns the largest process() duration observed so far.
func (m *Metrics) MaxLatency() time.Duration {
	return time.Duration(atomic.LoadInt64(&m.maxLatencyNanos))
}

// MaxLatencySeconds is a float64 convenience accessor, matching the
// granularity of the rest of the surface's seconds-based fields.
func (m *Metrics) MaxLatencySeconds() float64 {
	return math.Max(0, m.MaxLatency().Seconds())
}

// Start serves /metrics and /health on the given port, mirroring the
// teacher's PrometheusMetrics.Start shape.
func (m *Metrics) Start(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{Addr: ":" + port, Handler: mux}

	m.log.Info("starting metrics server", zap.String("port", port))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the metrics HTTP server down within a bounded deadline.
func (m *Metrics) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.log.Info("stopping metrics server")
	return m.server.Shutdown(ctx)
}
