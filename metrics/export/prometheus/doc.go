// Package prometheus exposes docauth engine counters through a
// client_golang [Collector].
//
// Counters are named docauth_*_total and the Validate latency histogram is
// docauth_validate_latency_seconds. [Handler] serves a private registry; the
// package never touches prometheus.DefaultRegisterer.
package prometheus
