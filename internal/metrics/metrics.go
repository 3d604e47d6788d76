// Package metrics registers the Prometheus collectors exposed on /metrics.
//
//	stockpulse_tasks_total{outcome}
//	stockpulse_tasks_active
//	stockpulse_events_published_total{kind}
//	stockpulse_events_dropped_total
//	stockpulse_cache_requests_total{result}
//	stockpulse_fetch_attempts_total{kind,provider,outcome}
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockpulse"

type Metrics struct {
	tasks         *prometheus.CounterVec
	active        prometheus.Gauge
	eventsSent    *prometheus.CounterVec
	eventsDropped prometheus.Counter
	cacheRequests *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	handler       http.Handler
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Analysis tasks by terminal outcome",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Analysis tasks currently holding a worker slot",
		}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to the hub by kind",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded by the drop-oldest overflow policy",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result (hit, miss, shared)",
		}, []string{"result"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Fetch chain attempts by kind, provider and outcome",
		}, []string{"kind", "provider", "outcome"}),
	}
	reg.MustRegister(m.tasks, m.active, m.eventsSent, m.eventsDropped, m.cacheRequests, m.fetchAttempts)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) TaskStopped() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) TaskFinished(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}

// TaskRejected counts submissions that never got a worker slot.
func (m *Metrics) TaskRejected(reason string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) FetchAttempt(kind, provider, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(kind, provider, outcome).Inc()
}
