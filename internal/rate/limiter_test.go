package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
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
	return New(rdb, cfg), mr
}

func TestLimiterBlocksAfterBudget(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t, Config{MaxFailures: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "a@x.io", ""); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.RecordFailure(ctx, "a@x.io", ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := l.CheckLogin(ctx, "a@x.io", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "b@x.io", ""); err != nil {
		t.Fatalf("other identities are unaffected: %v", err)
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, Config{MaxFailures: 1, Window: time.Minute})

	if err := l.RecordFailure(ctx, "a@x.io", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.CheckLogin(ctx, "a@x.io", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(61 * time.Second)
	if err := l.CheckLogin(ctx, "a@x.io", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestLimiterResetKeepsIPCounter(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t, Config{MaxFailures: 2, Window: time.Minute, EnableIPThrottle: true})

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "a@x.io", "10.0.0.1"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.Reset(ctx, "a@x.io"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	n, err := l.Failures(ctx, "a@x.io")
	if err != nil || n != 0 {
		t.Fatalf("expected identity counter cleared, got %d err=%v", n, err)
	}
	if err := l.CheckLogin(ctx, "c@x.io", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP to stay throttled, got %v", err)
	}
}
