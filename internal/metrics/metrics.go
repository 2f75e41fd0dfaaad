// Package metrics exposes logship pipeline counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/logship/pkg/log"
)

const namespace = "logship"

// Metrics holds the agent's Prometheus collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	LinesPublished   prometheus.Counter
	BatchesPublished prometheus.Counter
	PublishErrors    prometheus.Counter
	RecordsIndexed   prometheus.Counter
	IndexErrors      prometheus.Counter
	ParseErrors      prometheus.Counter
	ActiveTailers    prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry
// (the default registry would add Go runtime metrics).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_published_total",
			Help:      "Log lines handed to the message queue.",
		}),
		BatchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_published_total",
			Help:      "Line batches handed to the message queue.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Batches the message queue rejected.",
		}),
		RecordsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_indexed_total",
			Help:      "Enriched records stored in the search index.",
		}),
		IndexErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_errors_total",
			Help:      "Failed search index requests.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Queued lines dropped because they did not parse.",
		}),
		ActiveTailers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tailers",
			Help:      "File tailers with a running read loop.",
		}),
	}
	m.registry.MustRegister(
		m.LinesPublished,
		m.BatchesPublished,
		m.PublishErrors,
		m.RecordsIndexed,
		m.IndexErrors,
		m.ParseErrors,
		m.ActiveTailers,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePublish records the outcome of one batch publish.
func (m *Metrics) ObservePublish(lines int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.BatchesPublished.Inc()
	m.LinesPublished.Add(float64(lines))
}

// ObserveIndex records the outcome of one index request.
func (m *Metrics) ObserveIndex(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.IndexErrors.Inc()
		return
	}
	m.RecordsIndexed.Inc()
}

// ObserveParseError counts a dropped line.
func (m *Metrics) ObserveParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// TailerStarted increments the active tailer gauge.
func (m *Metrics) TailerStarted() {
	if m == nil {
		return
	}
	m.ActiveTailers.Inc()
}

// TailerStopped decrements the active tailer gauge.
func (m *Metrics) TailerStopped() {
	if m == nil {
		return
	}
	m.ActiveTailers.Dec()
}

// Serve exposes /metrics on addr until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", log.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
