// Package middleware adapts docauth session validation to net/http.
//
// # Guards
//
//   - [Guard] validates the bearer token and optionally restricts roles.
//   - [RequireAdmin] is Guard restricted to the admin role.
//   - [ClientIP] records the caller address for the login throttle and audit.
//
// Each guard reads the Authorization header, calls Validate, and injects the
// validated claims into the request context.
//
// # What this package must NOT do
//
//   - Parse or create session tokens directly (delegates to the engine).
//   - Make authorization decisions beyond pass/reject from Validate.
package middleware
