// Package otel registers docauth engine counters on a caller-supplied OTel
// Meter. A single callback reads Engine.MetricsSnapshot per collection.
package otel
