package stores

import (
	"context"
	"crypto/subtle"
	"time"
)

type otpEntry struct {
	record     *OTPRecord
	lastIssued time.Time
}

// MemoryOTPLedger is the in-process [OTPLedger].
type MemoryOTPLedger struct {
	policy  OTPPolicy
	entries *shardedMap[*otpEntry]
}

// NewMemoryOTPLedger returns an empty ledger enforcing policy.
func NewMemoryOTPLedger(policy OTPPolicy) *MemoryOTPLedger {
	return &MemoryOTPLedger{
		policy:  policy,
		entries: newShardedMap[*otpEntry](),
	}
}

func (l *MemoryOTPLedger) Issue(_ context.Context, email string, codeHash [32]byte, now time.Time) error {
	dead := func(e *otpEntry) bool { return l.spent(e, now) }

	s := l.entries.shardFor(email)
	s.mu.Lock()
	if e, ok := s.entries[email]; ok && l.coolingDown(e, now) {
		s.mu.Unlock()
		return ErrRateLimited
	}
	s.sweepLocked(dead)
	s.entries[email] = &otpEntry{
		record: &OTPRecord{
			CodeHash:  codeHash,
			ExpiresAt: now.Add(l.policy.TTL),
			IssuedAt:  now,
		},
		lastIssued: now,
	}
	s.mu.Unlock()

	l.entries.sweepNext(s, dead)
	return nil
}

func (l *MemoryOTPLedger) Verify(_ context.Context, email string, codeHash [32]byte, now time.Time) error {
	s := l.entries.shardFor(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[email]
	if !ok {
		return ErrNotFound
	}
	if e.record == nil {
		l.dropLocked(s.entries, email, e, now)
		return ErrNotFound
	}

	rec := e.record
	if now.After(rec.ExpiresAt) {
		l.dropLocked(s.entries, email, e, now)
		return ErrExpired
	}
	if rec.Attempts >= l.policy.MaxAttempts {
		l.dropLocked(s.entries, email, e, now)
		return ErrTooManyAttempts
	}

	rec.Attempts++
	if subtle.ConstantTimeCompare(rec.CodeHash[:], codeHash[:]) != 1 {
		return ErrInvalidCode
	}

	l.dropLocked(s.entries, email, e, now)
	return nil
}

func (l *MemoryOTPLedger) Discard(_ context.Context, email string) error {
	s := l.entries.shardFor(email)
	s.mu.Lock()
	delete(s.entries, email)
	s.mu.Unlock()
	return nil
}

// Len reports how many emails hold an entry. Expired entries count until a
// later Issue sweeps them.
func (l *MemoryOTPLedger) Len() int {
	return l.entries.len()
}

func (l *MemoryOTPLedger) coolingDown(e *otpEntry, now time.Time) bool {
	return l.policy.Cooldown > 0 && now.Sub(e.lastIssued) < l.policy.Cooldown
}

// spent reports whether e holds neither a live challenge nor a running
// cooldown.
func (l *MemoryOTPLedger) spent(e *otpEntry, now time.Time) bool {
	if l.coolingDown(e, now) {
		return false
	}
	return e.record == nil || now.After(e.record.ExpiresAt)
}

// dropLocked clears the challenge, keeping the entry only while its cooldown
// marker is still meaningful.
func (l *MemoryOTPLedger) dropLocked(entries map[string]*otpEntry, email string, e *otpEntry, now time.Time) {
	e.record = nil
	if !l.coolingDown(e, now) {
		delete(entries, email)
	}
}
