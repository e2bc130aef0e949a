// Package metric provides Prometheus metrics for AnnoMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: registry construction and HTTP handler
//   - collector.go: scrape-time collector for live session state
//
// Components depend on the small Counter/Gauge/Histogram interfaces so they
// can be tested without a Prometheus registry; Discard returns a registry
// whose metrics do nothing.
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
