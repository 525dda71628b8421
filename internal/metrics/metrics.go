// Package metrics exposes Prometheus instrumentation for chat streams.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "research_gateway"

// Metrics groups the stream collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry       *prometheus.Registry
	streamsStarted prometheus.Counter
	outcomes       *prometheus.CounterVec
	events         *prometheus.CounterVec
	duration       prometheus.Histogram
	active         prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_started_total",
			Help:      "Chat streams accepted for execution.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "Chat streams by terminal outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Wire events written to clients by event type.",
		}, []string{"event"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall-clock duration of chat streams.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Chat streams currently running.",
		}),
	}
	m.registry.MustRegister(m.streamsStarted, m.outcomes, m.events, m.duration, m.active)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.streamsStarted.Inc()
	m.active.Inc()
}

func (m *Metrics) StreamFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) EventEmitted(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}
