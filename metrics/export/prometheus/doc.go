// Package prometheus exposes engine counters, latency histograms and store
// health through a prometheus.Collector.
//
// Names are prefixed sessionguard_. [NewExporter] registers the collector on
// a private registry; the global default registry is never touched, and
// callers mount [Exporter.Handler] themselves.
package prometheus
