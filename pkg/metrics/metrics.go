// Package metrics exposes Prometheus instrumentation for the live session
// coordinator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "karaoke"

// Poll outcomes.
const (
	PollUnchanged = "unchanged"
	PollStarted   = "started"
	PollEnded     = "ended"
	PollAnomaly   = "anomaly"
	PollError     = "error"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	pollTicks       *prometheus.CounterVec
	activeSession   prometheus.Gauge
	connections     *prometheus.GaugeVec
	broadcasts      *prometheus.CounterVec
	rateLimited     prometheus.Counter
	reorderDuration prometheus.Histogram
	storageErrors   *prometheus.CounterVec
	lipOperations   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pollTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_ticks_total",
				Help:      "Session poller ticks by outcome",
			},
			[]string{"outcome"},
		),
		activeSession: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_session_id",
				Help:      "ID of the active session, 0 when none",
			},
		),
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Current real-time connections by role",
			},
			[]string{"role"},
		),
		broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_total",
				Help:      "Events delivered to connections by event type",
			},
			[]string{"event"},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Guest requests rejected by the rate limiter",
			},
		),
		reorderDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reorder_duration_seconds",
				Help:      "Duration of queue moves including persistence",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		storageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Storage failures by operation",
			},
			[]string{"operation"},
		),
		lipOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lip_operations_total",
				Help:      "Queue operations by kind and result",
			},
			[]string{"operation", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PollTick counts one poller tick.
func (m *Metrics) PollTick(outcome string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(outcome).Inc()
}

// SetActiveSession records the active session id, 0 for none.
func (m *Metrics) SetActiveSession(id int64) {
	if m == nil {
		return
	}
	m.activeSession.Set(float64(id))
}

// SetConnections replaces the per-role connection gauges.
func (m *Metrics) SetConnections(counts map[string]int) {
	if m == nil {
		return
	}
	for role, n := range counts {
		m.connections.WithLabelValues(role).Set(float64(n))
	}
}

// Broadcast counts deliveries of one event.
func (m *Metrics) Broadcast(event string, delivered int) {
	if m == nil || delivered <= 0 {
		return
	}
	m.broadcasts.WithLabelValues(event).Add(float64(delivered))
}

// RateLimited counts a rejected guest request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// ObserveReorder records how long a move took.
func (m *Metrics) ObserveReorder(d time.Duration) {
	if m == nil {
		return
	}
	m.reorderDuration.Observe(d.Seconds())
}

// StorageError counts a failed storage call.
func (m *Metrics) StorageError(operation string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(operation).Inc()
}

// LipOperation counts a queue operation. status is "ok" or an error code.
func (m *Metrics) LipOperation(operation, status string) {
	if m == nil {
		return
	}
	m.lipOperations.WithLabelValues(operation, status).Inc()
}
