// Package otel publishes courierAuth engine metrics through an
// OpenTelemetry meter.
//
// [New] registers an Int64ObservableCounter for each engine counter and an
// Int64ObservableGauge for each latency bucket. One callback reads
// [courierAuth.Engine.MetricsSnapshot] per collection cycle. The caller owns
// the MeterProvider.
package otel
