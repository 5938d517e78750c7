package docauth

import (
	"errors"

	"github.com/MrEthical07/docauth/internal/rate"
	"github.com/MrEthical07/docauth/internal/stores"
)

// Error kinds surfaced to the request layer. Every kind is a distinct sentinel so
// callers can branch with errors.Is and pick a status code and message.
var (
	// ErrRateLimited is returned when an OTP is requested inside the resend
	// cooldown or when login failures exceed the configured budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned when no live OTP challenge, verification token or
	// credential exists for the given key.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when a challenge or verification token outlived its
	// validity window. The record is removed before the error is returned.
	ErrExpired = errors.New("expired")
	// ErrTooManyAttempts is returned when a challenge already used its attempt
	// budget. The challenge is removed before the error is returned.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrInvalidCode is returned on an OTP mismatch while attempts remain.
	ErrInvalidCode = errors.New("invalid code")
	// ErrMismatch is returned when a verification token is bound to another email.
	ErrMismatch = errors.New("verification token email mismatch")
	// ErrUnauthenticated covers missing, malformed, badly signed or expired
	// session tokens, and tokens whose identity no longer exists.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionRevoked is returned when a session token carries a stale
	// session version.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrForbidden is returned when role or admin allow-list checks fail.
	ErrForbidden = errors.New("forbidden")
	// ErrDeliveryFailed is returned when the notifier could not dispatch an OTP.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrConflict is returned when an identity is already registered.
	ErrConflict = errors.New("identity already exists")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrPasswordPolicy     = errors.New("password policy violation")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrEngineNotReady     = errors.New("engine not initialized")

	// ErrUnavailable marks internal failures (store down, signing failure).
	// These are the only errors logged with full context.
	ErrUnavailable = errors.New("auth backend unavailable")
)

var publicErrors = []error{
	ErrRateLimited,
	ErrNotFound,
	ErrExpired,
	ErrTooManyAttempts,
	ErrInvalidCode,
	ErrMismatch,
	ErrUnauthenticated,
	ErrSessionRevoked,
	ErrForbidden,
	ErrDeliveryFailed,
	ErrConflict,
	ErrInvalidCredentials,
	ErrAccountDisabled,
	ErrPasswordPolicy,
	ErrInvalidEmail,
	ErrInvalidIdentity,
	ErrEngineNotReady,
}

// ErrorKind returns the message of the caller-facing sentinel err wraps, or
// "internal" for anything else. Safe to put in audit records and responses.
func ErrorKind(err error) string {
	for _, kind := range publicErrors {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal"
}

func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, stores.ErrExpired):
		return ErrExpired
	case errors.Is(err, stores.ErrTooManyAttempts):
		return ErrTooManyAttempts
	case errors.Is(err, stores.ErrInvalidCode):
		return ErrInvalidCode
	case errors.Is(err, stores.ErrMismatch):
		return ErrMismatch
	case errors.Is(err, stores.ErrRateLimited):
		return ErrRateLimited
	default:
		return err
	}
}

func mapLimiterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	default:
		return err
	}
}

// isKnown reports whether err is already one of the caller-facing kinds.
func isKnown(err error) bool {
	return ErrorKind(err) != "internal"
}
