// Package internal contains helpers that are private to docauth: OTP and
// verification token generation and the keyed hashes the ledgers store.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - rate: Redis-backed fixed-window counters for the login throttle
//   - stores: OTP and verification-token ledgers (memory and Redis)
//
// # What this package must NOT do
//
//   - Export types that appear in the public docauth API.
//   - Return or log raw codes alongside their hashes.
package internal
