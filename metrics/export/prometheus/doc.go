// Package prometheus renders courierAuth engine metrics in the Prometheus
// text exposition format.
//
// Counters are named courierauth_*_total and the validation latency
// histogram is courierauth_validate_latency_seconds. Nothing is registered
// globally; mount [Exporter.Handler] on the scrape path.
package prometheus
