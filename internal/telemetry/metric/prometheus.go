// Package metric provides Prometheus metrics for AnnoMesh.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "annomesh"

// Registry holds all application metrics.
type Registry struct {
	// Session metrics
	SessionsActive  Gauge
	SessionsOpened  Counter
	SessionsEvicted Counter
	Participants    Gauge

	// Operation metrics
	OpsApplied      CounterVec // labels: source, type
	OpsRejected     CounterVec // labels: code
	OpsDuplicate    Counter
	BenignConflicts Counter
	PresenceUpdates Counter

	// Broadcast metrics
	BroadcastFailures Counter
	BacklogDropped    Counter
	Resyncs           Counter

	// Transport metrics
	Connections   Gauge
	RelayMessages CounterVec // labels: direction

	// Request metrics
	RequestsTotal   CounterVec   // labels: method, path, status
	RequestDuration HistogramVec // labels: method, path

	// Archive metrics
	ArchiveWrites  CounterVec // labels: kind, result
	ArchiveDropped Counter

	prom *prometheus.Registry
}

// Counter is a cumulative metric that only increases.
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec is a Counter with labels.
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// Histogram samples observations and counts them in buckets.
type Histogram interface {
	Observe(float64)
}

// HistogramVec is a Histogram with labels.
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

// NewRegistry creates all metrics and registers them, together with the Go
// runtime and process collectors, in a fresh Prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	counterVec := func(name, help string, labels ...string) CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
		reg.MustRegister(c)
		return promCounterVec{c}
	}

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	reg.MustRegister(requestDuration)

	return &Registry{
		SessionsActive:  gauge("sessions_active", "Sessions currently held in memory."),
		SessionsOpened:  counter("sessions_opened_total", "Sessions created."),
		SessionsEvicted: counter("sessions_evicted_total", "Sessions closed after the idle timeout."),
		Participants:    gauge("participants", "Connected participants across all sessions."),

		OpsApplied:      counterVec("ops_applied_total", "Operations applied to a store.", "source", "type"),
		OpsRejected:     counterVec("ops_rejected_total", "Operations rejected before broadcast.", "code"),
		OpsDuplicate:    counter("ops_duplicate_total", "Remote operations dropped as duplicates."),
		BenignConflicts: counter("ops_benign_conflicts_total", "Remote operations absorbed as benign races."),
		PresenceUpdates: counter("presence_updates_total", "Presence updates recorded."),

		BroadcastFailures: counter("broadcast_failures_total", "Broadcasts that failed and were queued."),
		BacklogDropped:    counter("backlog_dropped_total", "Queued broadcasts dropped on overflow."),
		Resyncs:           counter("resyncs_total", "Resyncs forced after backlog overflow."),

		Connections:   gauge("ws_connections", "Open WebSocket connections."),
		RelayMessages: counterVec("relay_messages_total", "Messages crossing the node relay.", "direction"),

		RequestsTotal:   counterVec("http_requests_total", "HTTP requests served.", "method", "path", "status"),
		RequestDuration: promHistogramVec{requestDuration},

		ArchiveWrites:  counterVec("archive_writes_total", "Archive writes by kind and result.", "kind", "result"),
		ArchiveDropped: counter("archive_dropped_total", "Archive writes dropped because the queue was full."),

		prom: reg,
	}
}

// Prometheus returns the underlying registry, or nil for Discard registries.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// MustRegister registers additional collectors. It is a no-op for Discard
// registries.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	if r.prom != nil {
		r.prom.MustRegister(cs...)
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r.prom == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{Registry: r.prom})
}

type promCounterVec struct{ *prometheus.CounterVec }

func (v promCounterVec) WithLabelValues(lvs ...string) Counter {
	return v.CounterVec.WithLabelValues(lvs...)
}

type promHistogramVec struct{ *prometheus.HistogramVec }

func (v promHistogramVec) WithLabelValues(lvs ...string) Histogram {
	return v.HistogramVec.WithLabelValues(lvs...)
}
