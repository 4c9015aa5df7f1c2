// Package metrics exposes Prometheus instrumentation for the ingestion and
// fan-out pipeline.
//
// All recording methods are safe to call on a nil *Metrics, so components can
// be constructed without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hardhat"

// Metrics holds every collector and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	payloads        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
	dropped         prometheus.Counter
	phoneTimeouts   prometheus.Counter
	persistFailures prometheus.Counter
	mirrorDropped   prometheus.Counter
}

// New creates collectors on a fresh registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "payloads_total",
			Help:      "Accepted inbound updates by path (helmet, location, heartbeat, register).",
		}, []string{"path"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Rejected inbound updates by reason.",
		}, []string{"reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts derived from helmet telemetry by type.",
		}, []string{"type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Current real-time subscribers by group kind.",
		}, []string{"group"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Subscribers dropped because their send queue was full.",
		}),
		phoneTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phone_timeouts_total",
			Help:      "Phone links marked disconnected by the liveness sweep.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_persist_failures_total",
			Help:      "Registration writes that failed to persist.",
		}),
		mirrorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_dropped_total",
			Help:      "State updates not mirrored because the queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.payloads,
		m.rejected,
		m.alerts,
		m.subscribers,
		m.dropped,
		m.phoneTimeouts,
		m.persistFailures,
		m.mirrorDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncPayload counts an accepted update on path.
func (m *Metrics) IncPayload(path string) {
	if m == nil {
		return
	}
	m.payloads.WithLabelValues(path).Inc()
}

// IncRejected counts a rejected update.
func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// IncAlert counts a derived alert.
func (m *Metrics) IncAlert(alertType string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType).Inc()
}

// SetSubscribers records the member count of a group kind.
func (m *Metrics) SetSubscribers(group string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(group).Set(float64(n))
}

// IncDropped counts a dropped subscriber.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// IncPhoneTimeout counts a liveness demotion.
func (m *Metrics) IncPhoneTimeout() {
	if m == nil {
		return
	}
	m.phoneTimeouts.Inc()
}

// IncPersistFailure counts a failed registry write.
func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// IncMirrorDropped counts an update the mirror could not queue.
func (m *Metrics) IncMirrorDropped() {
	if m == nil {
		return
	}
	m.mirrorDropped.Inc()
}
