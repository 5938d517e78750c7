package docauth_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/docauth"
	"github.com/MrEthical07/docauth/credstore/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

const (
	adminEmail   = "root@docs.io"
	userEmail    = "reader@docs.io"
	userPassword = "correct horse battery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type message struct {
	to      string
	subject string
	body    string
}

// outbox is a Notifier that records messages and can be told to fail.
type outbox struct {
	mu   sync.Mutex
	msgs []message
	fail error
}

func (o *outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.msgs = append(o.msgs, message{to: to, subject: subject, body: body})
	return nil
}

func (o *outbox) setFail(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

var codePattern = regexp.MustCompile(`\b(\d{6,10})\b`)

func (o *outbox) lastCode(t *testing.T, to string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].to != to {
			continue
		}
		m := codePattern.FindStringSubmatch(o.msgs[i].body)
		if m == nil {
			t.Fatalf("no code in message body %q", o.msgs[i].body)
		}
		return m[1]
	}
	t.Fatalf("no message sent to %s", to)
	return ""
}

type harness struct {
	engine *docauth.Engine
	store  *memory.Store
	clock  *fakeClock
	outbox *outbox
}

func testConfig() docauth.Config {
	cfg := docauth.DefaultConfig()
	cfg.Session.PrivateKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Admin.AllowedIdentities = []string{adminEmail}
	return cfg
}

func newHarness(t *testing.T, configure ...func(*docauth.Builder)) *harness {
	t.Helper()

	h := &harness{
		clock:  newFakeClock(),
		outbox: &outbox{},
	}
	h.store = memory.New().WithClock(h.clock.Now)

	b := docauth.New().
		WithConfig(testConfig()).
		WithCredentialStore(h.store).
		WithNotifier(h.outbox).
		WithClock(h.clock)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// newRedisHarness shares ledgers and the login throttle through miniredis.
// The miniredis clock is not advanced; TTL decisions come from the fake clock.
func newRedisHarness(t *testing.T, configure ...func(*docauth.Config)) (*harness, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.OTP.HashKey = []byte("fedcba9876543210fedcba9876543210")
	for _, fn := range configure {
		fn(&cfg)
	}

	h := newHarness(t, func(b *docauth.Builder) {
		b.WithConfig(cfg).WithRedis(client)
	})
	return h, mr
}

func (h *harness) verifiedToken(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	if err := h.engine.RequestOTP(ctx, email); err != nil {
		t.Fatalf("request otp: %v", err)
	}
	token, err := h.engine.VerifyOTP(ctx, email, h.outbox.lastCode(t, email))
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	// Clear the resend cooldown for tests that request again.
	h.clock.Advance(time.Minute + time.Second)
	return token
}

func (h *harness) register(t *testing.T, email, password string) *docauth.Session {
	t.Helper()

	token := h.verifiedToken(t, email)
	session, err := h.engine.Register(context.Background(), docauth.RegisterInput{
		Email:             email,
		Password:          password,
		VerificationToken: token,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return session
}
