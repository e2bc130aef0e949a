package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// SessionSource lists the sessions held in memory.
type SessionSource interface {
	List() []domain.SessionSummary
}

// Collector reports per-session state at scrape time.
type Collector struct {
	source SessionSource

	annotations  *prometheus.Desc
	participants *prometheus.Desc
	seq          *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source SessionSource) *Collector {
	labels := []string{"session", "state"}
	return &Collector{
		source: source,
		annotations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "annotations"),
			"Live annotations in a session.", labels, nil),
		participants: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "participants"),
			"Connected participants in a session.", labels, nil),
		seq: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "seq"),
			"Sequence counter of a session.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.annotations
	ch <- c.participants
	ch <- c.seq
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.List() {
		ch <- prometheus.MustNewConstMetric(c.annotations, prometheus.GaugeValue, float64(s.Annotations), s.ID, s.State)
		ch <- prometheus.MustNewConstMetric(c.participants, prometheus.GaugeValue, float64(s.Participants), s.ID, s.State)
		ch <- prometheus.MustNewConstMetric(c.seq, prometheus.CounterValue, float64(s.Seq), s.ID, s.State)
	}
}
