// Package otel publishes engine metrics through an OpenTelemetry meter.
//
// [NewExporter] creates one observable counter per engine counter, one
// observable gauge per histogram bucket and two store health gauges, all
// fed from a single snapshot per collection. Callers own the
// MeterProvider.
package otel
