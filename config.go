package docauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the complete engine configuration. Build a starting point with
// [DefaultConfig], override fields, and hand it to [Builder.WithConfig].
// The engine clones it on Build; later mutations have no effect.
type Config struct {
	OTP          OTPConfig
	Verification VerificationConfig
	Session      SessionConfig
	Password     PasswordConfig
	Login        LoginConfig
	Admin        AdminConfig
	Redis        RedisConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls challenge issuance and verification.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	// HashKey keys the HMAC applied to codes before they reach a ledger. It must
	// be shared by every instance when the Redis ledgers are in use; when empty a
	// random per-process key is generated at Build.
	HashKey []byte
	Subject string
}

// VerificationConfig controls the proof-of-verification tokens minted after a
// successful OTP check.
type VerificationConfig struct {
	TTL time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures session token signing.
type SessionConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is written to the kid header. VerifyKeys lets tokens signed with a
	// previous key keep validating during a rotation grace period.
	KeyID      string
	VerifyKeys map[string][]byte
}

// PasswordConfig holds argon2id parameters and the password policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// LoginConfig configures the failed-login throttle. The throttle is only
// active when the engine was built with a Redis client.
type LoginConfig struct {
	MaxFailures  int
	Window       time.Duration
	ThrottleByIP bool
}

// AdminConfig is the allow-list gate for the admin role. A token claiming
// RoleAdmin is rejected unless its identity is listed here, whatever the
// signature says.
type AdminConfig struct {
	AllowedIdentities []string
}

// RedisConfig sets key prefixes for the Redis-backed ledgers.
type RedisConfig struct {
	Prefix string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. Signing keys and the admin
// allow-list are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 4,
			Cooldown:    60 * time.Second,
			Subject:     "Your verification code",
		},
		Verification: VerificationConfig{
			TTL: 30 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Login: LoginConfig{
			MaxFailures: 10,
			Window:      15 * time.Minute,
		},
		Redis: RedisConfig{
			Prefix: "docauth",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.OTP.HashKey = cloneBytes(cfg.OTP.HashKey)
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	if cfg.Session.VerifyKeys != nil {
		out.Session.VerifyKeys = make(map[string][]byte, len(cfg.Session.VerifyKeys))
		for kid, key := range cfg.Session.VerifyKeys {
			out.Session.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.Admin.AllowedIdentities = append([]string(nil), cfg.Admin.AllowedIdentities...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.Cooldown < 0 {
		return errors.New("OTP Cooldown must be >= 0")
	}
	if len(c.OTP.HashKey) > 0 && len(c.OTP.HashKey) < 16 {
		return errors.New("OTP HashKey must be at least 16 bytes")
	}

	// Verification
	if c.Verification.TTL <= c.OTP.TTL {
		return errors.New("Verification TTL must be longer than OTP TTL")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Session.PublicKey) == 0 && len(c.Session.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	default:
		return errors.New("unsupported Session signing method")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Login
	if c.Login.MaxFailures < 0 {
		return errors.New("Login MaxFailures must be >= 0")
	}
	if c.Login.MaxFailures > 0 && c.Login.Window <= 0 {
		return errors.New("Login Window must be > 0 when MaxFailures is set")
	}

	// Admin
	for _, id := range c.Admin.AllowedIdentities {
		if strings.TrimSpace(id) == "" {
			return errors.New("Admin AllowedIdentities contains an empty identity")
		}
		if _, err := NormalizeIdentity(id); err != nil {
			return fmt.Errorf("Admin AllowedIdentities: %q: %w", id, err)
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis Prefix must not be empty")
	}

	return nil
}
