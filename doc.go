// Package docauth is the credential-verification and session-lifecycle core
// of the document service: email OTP challenges, single-use verification
// tokens, password credentials, and session tokens that are revoked by
// bumping a per-credential session version.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Flow
//
//	RequestOTP -> VerifyOTP -> verification token -> Register / ResetPassword
//	Login -> session token -> Validate on every protected request
//	Logout / ForceLogout / password change / deactivation -> version bump
//
// # Architecture boundaries
//
// docauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] and [Notifier] contracts and value types. Ledgers,
// the login throttle and audit dispatch live under internal/ and are never
// exported.
//
// # What this package must NOT do
//
//   - Return, log or audit raw OTP codes, verification tokens or password hashes.
//   - Depend on a particular database; persistence goes through [CredentialStore].
//   - Import any sub-package that re-imports docauth (no import cycles).
package docauth
