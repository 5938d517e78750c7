package docauth

import (
	"testing"
	"time"
)

func TestLint_DefaultConfigHasNoHighFindings(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Errorf("default config should not fail AsError(LintHigh): %v", err)
	}
}

func TestLint_CooldownDisabledIsHigh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OTP.Cooldown = 0
	ws := cfg.Lint()

	high := ws.BySeverity(LintHigh)
	if !containsCode(high.Codes(), "otp_cooldown_disabled") {
		t.Fatalf("expected otp_cooldown_disabled at HIGH, got %v", ws.Codes())
	}
	if err := ws.AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to fail")
	}
}

func TestLint_Findings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"large leeway", func(c *Config) { c.Session.Leeway = 90 * time.Second }, "leeway_large"},
		{"long session", func(c *Config) { c.Session.TTL = 30 * 24 * time.Hour }, "session_ttl_long"},
		{"hs256", func(c *Config) { c.Session.SigningMethod = "hs256" }, "signing_hs256"},
		{"argon2 memory", func(c *Config) { c.Password.Memory = 16 * 1024 }, "argon2_memory_low"},
		{"audit off", func(c *Config) { c.Audit.Enabled = false }, "audit_disabled"},
		{"no admins", func(c *Config) { c.Admin.AllowedIdentities = nil }, "admin_allowlist_empty"},
		{"throttle off", func(c *Config) { c.Login.MaxFailures = 0 }, "login_throttle_disabled"},
		{"many attempts", func(c *Config) { c.OTP.MaxAttempts = 20 }, "otp_attempts_high"},
		{"long otp", func(c *Config) { c.OTP.TTL = time.Hour; c.Verification.TTL = 2 * time.Hour }, "otp_ttl_long"},
		{"long verification", func(c *Config) { c.Verification.TTL = 3 * time.Hour }, "verification_ttl_long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if !containsCode(cfg.Lint().Codes(), tt.code) {
				t.Errorf("expected %s warning", tt.code)
			}
		})
	}
}

func TestLint_NoWarningForGoodArgon2(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password.Memory = 64 * 1024
	if containsCode(cfg.Lint().Codes(), "argon2_memory_low") {
		t.Error("should not warn when memory == 64 MiB")
	}
}

func TestLint_BySeverityFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OTP.Cooldown = 0
	cfg.Audit.Enabled = false

	for _, w := range cfg.Lint().BySeverity(LintWarn) {
		if w.Severity < LintWarn {
			t.Errorf("BySeverity(LintWarn) returned %s warning %s", w.Severity, w.Code)
		}
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
