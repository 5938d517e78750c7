package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testPolicy = OTPPolicy{
	TTL:         10 * time.Minute,
	MaxAttempts: 4,
	Cooldown:    60 * time.Second,
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func codeHash(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

type otpLedgerFactory struct {
	name string
	new  func(t *testing.T, policy OTPPolicy) OTPLedger
}

func otpLedgers() []otpLedgerFactory {
	return []otpLedgerFactory{
		{
			name: "memory",
			new: func(t *testing.T, policy OTPPolicy) OTPLedger {
				return NewMemoryOTPLedger(policy)
			},
		},
		{
			name: "redis",
			new: func(t *testing.T, policy OTPPolicy) OTPLedger {
				return NewRedisOTPLedger(newTestRedis(t), "test", policy)
			},
		},
	}
}

func TestOTPLedgerCooldown(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("first issue: %v", err)
			}
			if err := l.Issue(ctx, "a@x.io", codeHash("654321"), t0.Add(30*time.Second)); !errors.Is(err, ErrRateLimited) {
				t.Fatalf("expected ErrRateLimited inside cooldown, got %v", err)
			}
			if err := l.Issue(ctx, "b@x.io", codeHash("111111"), t0.Add(30*time.Second)); err != nil {
				t.Fatalf("cooldown must be per email: %v", err)
			}

			// The rejected issuance must not have replaced the first code.
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(40*time.Second)); err != nil {
				t.Fatalf("original code should still verify: %v", err)
			}

			if err := l.Issue(ctx, "a@x.io", codeHash("222222"), t0.Add(61*time.Second)); err != nil {
				t.Fatalf("issue after cooldown: %v", err)
			}
		})
	}
}

func TestOTPLedgerCooldownSurvivesConsumption(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(time.Second)); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := l.Issue(ctx, "a@x.io", codeHash("654321"), t0.Add(2*time.Second)); !errors.Is(err, ErrRateLimited) {
				t.Fatalf("expected cooldown to outlive the consumed challenge, got %v", err)
			}
		})
	}
}

func TestOTPLedgerVerifiesOnce(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(time.Minute)); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(time.Minute)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on replay, got %v", err)
			}
		})
	}
}

func TestOTPLedgerUnknownEmail(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			l := f.new(t, testPolicy)
			if err := l.Verify(context.Background(), "nobody@x.io", codeHash("123456"), t0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestOTPLedgerExhaustion(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			for i := 0; i < testPolicy.MaxAttempts; i++ {
				if err := l.Verify(ctx, "a@x.io", codeHash("000000"), t0.Add(time.Second)); !errors.Is(err, ErrInvalidCode) {
					t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
				}
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(time.Second)); !errors.Is(err, ErrTooManyAttempts) {
				t.Fatalf("expected ErrTooManyAttempts even for the right code, got %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(time.Second)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("exhausted challenge should be gone, got %v", err)
			}
		})
	}
}

func TestOTPLedgerExpiry(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(testPolicy.TTL+time.Second)); !errors.Is(err, ErrExpired) {
				t.Fatalf("expected ErrExpired, got %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(testPolicy.TTL+time.Second)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expired challenge should be removed, got %v", err)
			}
		})
	}
}

func TestOTPLedgerReissueReplacesChallenge(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("111111"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("000000"), t0.Add(time.Second)); !errors.Is(err, ErrInvalidCode) {
				t.Fatalf("expected ErrInvalidCode, got %v", err)
			}

			later := t0.Add(2 * time.Minute)
			if err := l.Issue(ctx, "a@x.io", codeHash("222222"), later); err != nil {
				t.Fatalf("reissue: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("111111"), later); !errors.Is(err, ErrInvalidCode) {
				t.Fatalf("old code must not verify after reissue, got %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("222222"), later); err != nil {
				t.Fatalf("new code should verify: %v", err)
			}
		})
	}
}

func TestOTPLedgerDiscardClearsCooldown(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, testPolicy)

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Discard(ctx, "a@x.io"); err != nil {
				t.Fatalf("discard: %v", err)
			}
			if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after discard, got %v", err)
			}
			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0.Add(time.Second)); err != nil {
				t.Fatalf("issue after discard should not be throttled: %v", err)
			}
		})
	}
}

func TestOTPLedgerConcurrentCorrectCodeVerifiesOnce(t *testing.T) {
	for _, f := range otpLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, OTPPolicy{TTL: time.Minute, MaxAttempts: 64, Cooldown: 0})

			if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
				t.Fatalf("issue: %v", err)
			}

			const workers = 16
			var (
				wg      sync.WaitGroup
				success atomic.Int32
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0); err == nil {
						success.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := success.Load(); got != 1 {
				t.Fatalf("expected exactly one successful verification, got %d", got)
			}
		})
	}
}

func TestMemoryOTPLedgerDropsSpentEntries(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryOTPLedger(testPolicy)

	if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("cooldown marker should be kept, len=%d", l.Len())
	}

	if err := l.Verify(ctx, "a@x.io", codeHash("123456"), t0.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("entry should be swept once cooldown elapsed, len=%d", l.Len())
	}
}

func TestMemoryLedgersReclaimAbandonedEntries(t *testing.T) {
	ctx := context.Background()
	otp := NewMemoryOTPLedger(testPolicy)
	tokens := NewMemoryVerificationLedger(30 * time.Minute)

	for i := 0; i < 1000; i++ {
		email := fmt.Sprintf("user%d@x.io", i)
		if err := otp.Issue(ctx, email, codeHash("123456"), t0); err != nil {
			t.Fatalf("issue otp %d: %v", i, err)
		}
		if err := tokens.Issue(ctx, codeHash(email), email, t0); err != nil {
			t.Fatalf("issue token %d: %v", i, err)
		}
	}
	if otp.Len() != 1000 || tokens.Len() != 1000 {
		t.Fatalf("expected 1000 entries each, got otp=%d tokens=%d", otp.Len(), tokens.Len())
	}

	// One write per shard is enough to visit every shard once.
	later := t0.Add(24 * time.Hour)
	for i := 0; i < shardCount; i++ {
		email := fmt.Sprintf("late%d@x.io", i)
		if err := otp.Issue(ctx, email, codeHash("654321"), later); err != nil {
			t.Fatalf("late issue otp %d: %v", i, err)
		}
		if err := tokens.Issue(ctx, codeHash(email), email, later); err != nil {
			t.Fatalf("late issue token %d: %v", i, err)
		}
	}

	if got := otp.Len(); got != shardCount {
		t.Fatalf("expected only the %d live otp entries, got %d", shardCount, got)
	}
	if got := tokens.Len(); got != shardCount {
		t.Fatalf("expected only the %d live tokens, got %d", shardCount, got)
	}
}

func TestMemoryOTPLedgerSweepKeepsCooldown(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryOTPLedger(OTPPolicy{TTL: 10 * time.Second, MaxAttempts: 4, Cooldown: time.Minute})

	if err := l.Issue(ctx, "a@x.io", codeHash("123456"), t0); err != nil {
		t.Fatalf("issue: %v", err)
	}
	// Challenge expired but cooldown still running: sweeps must keep the marker.
	for i := 0; i < shardCount; i++ {
		if err := l.Issue(ctx, fmt.Sprintf("other%d@x.io", i), codeHash("111111"), t0.Add(30*time.Second)); err != nil {
			t.Fatalf("issue other %d: %v", i, err)
		}
	}
	if err := l.Issue(ctx, "a@x.io", codeHash("654321"), t0.Add(30*time.Second)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

type verificationLedgerFactory struct {
	name string
	new  func(t *testing.T, ttl time.Duration) VerificationLedger
}

func verificationLedgers() []verificationLedgerFactory {
	return []verificationLedgerFactory{
		{
			name: "memory",
			new: func(t *testing.T, ttl time.Duration) VerificationLedger {
				return NewMemoryVerificationLedger(ttl)
			},
		},
		{
			name: "redis",
			new: func(t *testing.T, ttl time.Duration) VerificationLedger {
				return NewRedisVerificationLedger(newTestRedis(t), "test", ttl)
			},
		},
	}
}

func TestVerificationLedgerConsumeOnce(t *testing.T) {
	for _, f := range verificationLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, 30*time.Minute)
			h := codeHash("token-1")

			if err := l.Issue(ctx, h, "a@x.io", t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Consume(ctx, h, "a@x.io", t0.Add(time.Minute)); err != nil {
				t.Fatalf("consume: %v", err)
			}
			if err := l.Consume(ctx, h, "a@x.io", t0.Add(time.Minute)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second consume, got %v", err)
			}
		})
	}
}

func TestVerificationLedgerMismatchKeepsToken(t *testing.T) {
	for _, f := range verificationLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, 30*time.Minute)
			h := codeHash("token-2")

			if err := l.Issue(ctx, h, "a@x.io", t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Consume(ctx, h, "b@x.io", t0); !errors.Is(err, ErrMismatch) {
				t.Fatalf("expected ErrMismatch, got %v", err)
			}
			if err := l.Consume(ctx, h, "a@x.io", t0); err != nil {
				t.Fatalf("owner should still be able to consume: %v", err)
			}
		})
	}
}

func TestVerificationLedgerExpiry(t *testing.T) {
	for _, f := range verificationLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, 30*time.Minute)
			h := codeHash("token-3")

			if err := l.Issue(ctx, h, "a@x.io", t0); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := l.Consume(ctx, h, "a@x.io", t0.Add(31*time.Minute)); !errors.Is(err, ErrExpired) {
				t.Fatalf("expected ErrExpired, got %v", err)
			}
			if err := l.Consume(ctx, h, "a@x.io", t0.Add(31*time.Minute)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expired token should be deleted, got %v", err)
			}
		})
	}
}

func TestVerificationLedgerConcurrentConsume(t *testing.T) {
	for _, f := range verificationLedgers() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			l := f.new(t, 30*time.Minute)
			h := codeHash("token-4")

			if err := l.Issue(ctx, h, "a@x.io", t0); err != nil {
				t.Fatalf("issue: %v", err)
			}

			var (
				wg      sync.WaitGroup
				success atomic.Int32
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.Consume(ctx, h, "a@x.io", t0); err == nil {
						success.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := success.Load(); got != 1 {
				t.Fatalf("expected exactly one consume, got %d", got)
			}
		})
	}
}

func TestRedisLedgerUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	otp := NewRedisOTPLedger(rdb, "test", testPolicy)
	if err := otp.Issue(context.Background(), "a@x.io", codeHash("1"), t0); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}

	vt := NewRedisVerificationLedger(rdb, "test", time.Minute)
	if err := vt.Consume(context.Background(), codeHash("1"), "a@x.io", t0); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
