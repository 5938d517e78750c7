// Package stores provides the short-lived ledgers behind OTP verification:
// the per-email OTP challenge ledger and the single-use verification-token
// ledger. Each ledger has an in-process implementation (sharded maps, one
// mutex per shard) and a Redis implementation for multi-instance deployments.
//
// # Design
//
// Ledgers hold hashes only. OTP challenges are keyed by normalized email and
// carry an HMAC of the code; verification records are keyed by the SHA-256 of
// the token. Every read-modify-write on a key is atomic: a shard mutex in
// memory, a Lua script in Redis. Expired records are dropped when touched.
// Redis keys live slightly longer than the logical expiry so that an expired
// record is still reported as [ErrExpired] rather than [ErrNotFound].
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// challenge records. It does NOT generate codes or tokens, send
// notifications, or make authentication decisions; the root Engine does.
//
// # What this package must NOT do
//
//   - Import docauth or any sibling internal package.
//   - Log or expose plaintext codes or tokens.
//   - Use non-constant-time comparisons for code hashes.
package stores
