// Package metrics holds the Prometheus instruments of the simulator.
//
// Constructors take a *Registry; a nil registry yields nil metrics and every
// recording method is a no-op on a nil receiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hvac"

// Registry wraps a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Hub instruments subscriber fan-out.
type Hub struct {
	subscribers prometheus.Gauge
	sent        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	joins       prometheus.Counter
}

// NewHub registers hub metrics on r.
func NewHub(r *Registry) *Hub {
	if r == nil {
		return nil
	}
	m := &Hub{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub",
			Name: "subscribers", Help: "Currently registered subscribers",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub",
			Name: "messages_sent_total", Help: "Messages delivered to subscribers",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub",
			Name: "delivery_failures_total", Help: "Failed deliveries, each followed by removal",
		}, []string{"type"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub",
			Name: "joins_total", Help: "Subscribers that joined",
		}),
	}
	r.reg.MustRegister(m.subscribers, m.sent, m.failures, m.joins)
	return m
}

func (m *Hub) SetSubscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}

func (m *Hub) Sent(kind string) {
	if m != nil {
		m.sent.WithLabelValues(kind).Inc()
	}
}

func (m *Hub) Failed(kind string) {
	if m != nil {
		m.failures.WithLabelValues(kind).Inc()
	}
}

func (m *Hub) Joined() {
	if m != nil {
		m.joins.Inc()
	}
}

// Sim instruments the orchestrator loops.
type Sim struct {
	readings    *prometheus.CounterVec
	predictions *prometheus.CounterVec
	discovery   *prometheus.CounterVec
	tickErrors  *prometheus.CounterVec
	pending     prometheus.Gauge
	tickSeconds *prometheus.HistogramVec
}

// NewSim registers orchestrator metrics on r.
func NewSim(r *Registry) *Sim {
	if r == nil {
		return nil
	}
	m := &Sim{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim",
			Name: "readings_total", Help: "Readings generated and persisted",
		}, []string{"zone"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim",
			Name: "predictions_total", Help: "Predictions computed",
		}, []string{"zone", "trend"}),
		discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim",
			Name: "discovery_events_total", Help: "Discovery events applied or dropped",
		}, []string{"kind", "outcome"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim",
			Name: "tick_errors_total", Help: "Faults absorbed by a loop",
		}, []string{"loop"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sim",
			Name: "pending_transitions", Help: "Deferred syncing-to-online transitions in flight",
		}),
		tickSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sim",
			Name: "tick_duration_seconds", Help: "Duration of one loop body",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"loop"}),
	}
	r.reg.MustRegister(m.readings, m.predictions, m.discovery, m.tickErrors, m.pending, m.tickSeconds)
	return m
}

func (m *Sim) Reading(zone string) {
	if m != nil {
		m.readings.WithLabelValues(zone).Inc()
	}
}

func (m *Sim) Prediction(zone, trend string) {
	if m != nil {
		m.predictions.WithLabelValues(zone, trend).Inc()
	}
}

func (m *Sim) Discovery(kind, outcome string) {
	if m != nil {
		m.discovery.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Sim) TickError(loop string) {
	if m != nil {
		m.tickErrors.WithLabelValues(loop).Inc()
	}
}

func (m *Sim) SetPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Sim) ObserveTick(loop string, seconds float64) {
	if m != nil {
		m.tickSeconds.WithLabelValues(loop).Observe(seconds)
	}
}
