// Package rate provides the Redis-backed fixed-window counters behind the
// failed-login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - "ll:" counts failed logins per identity
//   - "lli:" counts failed logins per client IP
//
// # What this package must NOT do
//
//   - Decide what counts as a failure (the Engine does).
//   - Be imported outside the docauth module.
package rate
