package stores

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("ledger record not found")
	ErrExpired          = errors.New("ledger record expired")
	ErrTooManyAttempts  = errors.New("ledger attempts exhausted")
	ErrInvalidCode      = errors.New("ledger code mismatch")
	ErrMismatch         = errors.New("ledger email mismatch")
	ErrRateLimited      = errors.New("ledger cooldown active")
	ErrRedisUnavailable = errors.New("ledger redis unavailable")
)

// expiryGrace is added to Redis key TTLs past the logical expiry.
const expiryGrace = time.Minute
