package stores

import (
	"context"
	"time"
)

// VerificationRecord binds a verification token hash to the email it proves.
type VerificationRecord struct {
	Email     string
	ExpiresAt time.Time
}

// VerificationLedger stores single-use proof-of-verification tokens by hash.
//
// Consume returns ErrNotFound, ErrExpired (record removed) or ErrMismatch when
// the token was minted for another email (record kept, so the rightful owner
// can still use it). A nil error means the record was removed; a token is
// consumed at most once.
type VerificationLedger interface {
	Issue(ctx context.Context, tokenHash [32]byte, email string, now time.Time) error
	Consume(ctx context.Context, tokenHash [32]byte, email string, now time.Time) error
}

// MemoryVerificationLedger is the in-process [VerificationLedger].
type MemoryVerificationLedger struct {
	ttl     time.Duration
	entries *shardedMap[VerificationRecord]
}

// NewMemoryVerificationLedger returns an empty ledger whose tokens live for ttl.
func NewMemoryVerificationLedger(ttl time.Duration) *MemoryVerificationLedger {
	return &MemoryVerificationLedger{
		ttl:     ttl,
		entries: newShardedMap[VerificationRecord](),
	}
}

func (l *MemoryVerificationLedger) Issue(_ context.Context, tokenHash [32]byte, email string, now time.Time) error {
	dead := func(rec VerificationRecord) bool { return now.After(rec.ExpiresAt) }

	key := string(tokenHash[:])
	s := l.entries.shardFor(key)
	s.mu.Lock()
	s.sweepLocked(dead)
	s.entries[key] = VerificationRecord{Email: email, ExpiresAt: now.Add(l.ttl)}
	s.mu.Unlock()

	l.entries.sweepNext(s, dead)
	return nil
}

func (l *MemoryVerificationLedger) Consume(_ context.Context, tokenHash [32]byte, email string, now time.Time) error {
	key := string(tokenHash[:])
	s := l.entries.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	if now.After(rec.ExpiresAt) {
		delete(s.entries, key)
		return ErrExpired
	}
	if rec.Email != email {
		return ErrMismatch
	}

	delete(s.entries, key)
	return nil
}

// Len reports the number of stored tokens. Expired tokens count until a later
// Issue sweeps them.
func (l *MemoryVerificationLedger) Len() int {
	return l.entries.len()
}
