package stores

import (
	"context"
	"time"
)

// OTPPolicy is the ledger-side half of the OTP configuration.
type OTPPolicy struct {
	TTL         time.Duration
	MaxAttempts int
	Cooldown    time.Duration
}

// OTPRecord is a live challenge.
type OTPRecord struct {
	CodeHash  [32]byte
	ExpiresAt time.Time
	Attempts  int
	IssuedAt  time.Time
}

// OTPLedger records at most one live challenge per email.
//
// Issue fails with ErrRateLimited when the previous issuance for the email is
// younger than the cooldown; the cooldown is tracked independently of the
// challenge, so consuming or exhausting a challenge does not reset it.
// Otherwise it replaces any previous challenge.
//
// Verify returns ErrNotFound, ErrExpired (record removed), ErrTooManyAttempts
// (record removed) or ErrInvalidCode (attempt counted, record kept). A nil
// error means the code matched and the record was removed, so a code verifies
// at most once.
//
// Discard removes the challenge and its cooldown marker.
type OTPLedger interface {
	Issue(ctx context.Context, email string, codeHash [32]byte, now time.Time) error
	Verify(ctx context.Context, email string, codeHash [32]byte, now time.Time) error
	Discard(ctx context.Context, email string) error
}
