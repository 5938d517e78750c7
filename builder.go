package docauth

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/MrEthical07/docauth/internal"
	"github.com/MrEthical07/docauth/internal/audit"
	"github.com/MrEthical07/docauth/internal/rate"
	"github.com/MrEthical07/docauth/internal/stores"
	"github.com/MrEthical07/docauth/jwt"
	"github.com/MrEthical07/docauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     CredentialStore
	notifier  Notifier
	clock     Clock
	random    io.Reader
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Start from [DefaultConfig].
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis moves both ledgers and the login throttle to Redis. Required when
// more than one instance serves the same users.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets where credentials live. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithNotifier sets how OTP codes are delivered. Required.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithClock overrides the time source used for every TTL and cooldown.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithRandom overrides the source of OTP codes and verification tokens.
// It must be cryptographically secure outside tests.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination; Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}
	if b.redis != nil && len(cfg.OTP.HashKey) == 0 {
		return nil, errors.New("OTP HashKey must be configured when ledgers are shared through redis")
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock{}
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(cfg.OTP.HashKey) == 0 {
		key, err := internal.NewHashKey(random)
		if err != nil {
			return nil, err
		}
		cfg.OTP.HashKey = key
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		notifier: b.notifier,
		clock:    clock,
		random:   random,
		logger:   logger.Named("docauth"),
		metrics:  NewMetrics(cfg.Metrics),
		admins:   make(map[string]struct{}, len(cfg.Admin.AllowedIdentities)),
	}

	for _, id := range cfg.Admin.AllowedIdentities {
		normalized, err := NormalizeIdentity(id)
		if err != nil {
			return nil, err
		}
		engine.admins[normalized] = struct{}{}
	}

	// -------- LEDGERS --------
	policy := stores.OTPPolicy{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Cooldown:    cfg.OTP.Cooldown,
	}
	if b.redis != nil {
		engine.otpLedger = stores.NewRedisOTPLedger(b.redis, cfg.Redis.Prefix, policy)
		engine.tokenLedger = stores.NewRedisVerificationLedger(b.redis, cfg.Redis.Prefix, cfg.Verification.TTL)
		if cfg.Login.MaxFailures > 0 {
			engine.loginLimiter = rate.New(b.redis, rate.Config{
				Prefix:           cfg.Redis.Prefix,
				EnableIPThrottle: cfg.Login.ThrottleByIP,
				MaxFailures:      cfg.Login.MaxFailures,
				Window:           cfg.Login.Window,
			})
		}
	} else {
		engine.otpLedger = stores.NewMemoryOTPLedger(policy)
		engine.tokenLedger = stores.NewMemoryVerificationLedger(cfg.Verification.TTL)
	}

	// -------- AUDIT --------
	auditSink := b.auditSink
	if auditSink == nil && cfg.Audit.Enabled {
		auditSink = audit.NewZapSink(logger)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		OnDrop:      func() { engine.metrics.Inc(MetricAuditDropped) },
		OnSinkPanic: engine.auditSinkPanicked,
	}, auditSink)

	// -------- PASSWORD --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	// -------- SESSION TOKENS --------
	verifyKeys := make(map[string][]byte, len(cfg.Session.VerifyKeys))
	for kid, key := range cfg.Session.VerifyKeys {
		verifyKeys[kid] = cloneBytes(key)
	}
	if len(verifyKeys) == 0 {
		verifyKeys = nil
	}
	jm, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		KeyID:         cfg.Session.KeyID,
		VerifyKeys:    verifyKeys,
		Now:           clock.Now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
