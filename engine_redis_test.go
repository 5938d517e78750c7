package docauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/docauth"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisBackedRegistrationFlow(t *testing.T) {
	h, mr := newRedisHarness(t)
	ctx := context.Background()

	if err := h.engine.RequestOTP(ctx, userEmail); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.engine.RequestOTP(ctx, userEmail); !errors.Is(err, docauth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	code := h.outbox.lastCode(t, userEmail)
	for _, key := range mr.Keys() {
		if v, err := mr.Get(key); err == nil && v == code {
			t.Fatalf("raw code stored under %s", key)
		}
	}

	token, err := h.engine.VerifyOTP(ctx, userEmail, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	session, err := h.engine.Register(ctx, docauth.RegisterInput{Email: userEmail, Password: userPassword, VerificationToken: token})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.engine.Validate(ctx, session.Token, docauth.RoleUser); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := h.engine.ResetPassword(ctx, userEmail, userPassword, token); !errors.Is(err, docauth.ErrNotFound) {
		t.Fatalf("expected spent token rejected, got %v", err)
	}
}

func TestRedisLoginThrottle(t *testing.T) {
	h, _ := newRedisHarness(t, func(cfg *docauth.Config) {
		cfg.Login.MaxFailures = 3
		cfg.Login.Window = time.Minute
	})
	ctx := docauth.WithClientIP(context.Background(), "203.0.113.7")

	h.register(t, userEmail, userPassword)

	for i := 0; i < 3; i++ {
		if _, err := h.engine.Login(ctx, userEmail, "wrong password!!"); !errors.Is(err, docauth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := h.engine.Login(ctx, userEmail, userPassword); !errors.Is(err, docauth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after budget, got %v", err)
	}

	if got := h.engine.MetricsSnapshot().Counters[docauth.MetricLoginRateLimited]; got != 1 {
		t.Fatalf("expected one rate limited login, got %d", got)
	}
}

func TestRedisThrottledLoginAuditsFailureCount(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.OTP.HashKey = []byte("fedcba9876543210fedcba9876543210")
	cfg.Login.MaxFailures = 2
	cfg.Login.Window = time.Minute
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64

	sink := docauth.NewChannelSink(64)
	h := newHarness(t, func(b *docauth.Builder) {
		b.WithConfig(cfg).WithRedis(client).WithAuditSink(sink)
	})
	ctx := context.Background()

	h.register(t, userEmail, userPassword)
	for i := 0; i < 2; i++ {
		_, _ = h.engine.Login(ctx, userEmail, "wrong password!!")
	}
	if _, err := h.engine.Login(ctx, userEmail, userPassword); !errors.Is(err, docauth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	h.engine.Close()

	var throttled *docauth.AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == docauth.AuditLogin && ev.Error == docauth.ErrorKind(docauth.ErrRateLimited) {
				throttled = &ev
			}
			continue
		default:
		}
		break
	}
	if throttled == nil {
		t.Fatal("no audit event for the throttled login")
	}
	if got := throttled.Metadata["failures"]; got != "2" {
		t.Fatalf("expected failures=2 in audit metadata, got %q", got)
	}
}

func TestRedisLoginThrottleResetByPasswordReset(t *testing.T) {
	h, _ := newRedisHarness(t, func(cfg *docauth.Config) {
		cfg.Login.MaxFailures = 2
	})
	ctx := context.Background()

	h.register(t, userEmail, userPassword)
	for i := 0; i < 2; i++ {
		_, _ = h.engine.Login(ctx, userEmail, "wrong password!!")
	}
	if _, err := h.engine.Login(ctx, userEmail, userPassword); !errors.Is(err, docauth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	token := h.verifiedToken(t, userEmail)
	if err := h.engine.ResetPassword(ctx, userEmail, userPassword, token); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := h.engine.Login(ctx, userEmail, userPassword); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestRedisUnavailableIsInternal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.OTP.HashKey = []byte("fedcba9876543210fedcba9876543210")
	h := newHarness(t, func(b *docauth.Builder) {
		b.WithConfig(cfg).WithRedis(client)
	})

	mr.Close()
	err := h.engine.RequestOTP(context.Background(), userEmail)
	if !errors.Is(err, docauth.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if h.outbox.count() != 0 {
		t.Fatal("no message may be sent when the ledger failed")
	}
}

func TestBuildRequiresHashKeyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := docauth.New().
		WithConfig(testConfig()).
		WithCredentialStore(newHarness(t).store).
		WithNotifier(&outbox{}).
		WithRedis(client).
		Build()
	if err == nil {
		t.Fatal("expected build to fail without a shared OTP hash key")
	}
}
