package docauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is one advisory finding about a valid but questionable Config.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings returned by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, len(r))
	for i, w := range r {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds the warnings at or above min into one error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	matched := r.BySeverity(min)
	if len(matched) == 0 {
		return nil
	}

	parts := make([]string, len(matched))
	for i, w := range matched {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return errors.New("config lint: " + strings.Join(parts, "; "))
}

// Lint reports settings that pass Validate but weaken the deployment.
// It never fails; callers decide which severity blocks startup.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	// -------- OTP --------
	if c.OTP.Cooldown == 0 {
		add("otp_cooldown_disabled", LintHigh, "OTP resend cooldown is disabled; codes can be requested in a loop")
	}
	if c.OTP.MaxAttempts > 10 {
		add("otp_attempts_high", LintWarn, "OTP max attempts %d makes guessing a %d digit code easier", c.OTP.MaxAttempts, c.OTP.Digits)
	}
	if c.OTP.TTL > 30*time.Minute {
		add("otp_ttl_long", LintWarn, "OTP TTL %v exceeds 30m", c.OTP.TTL)
	}
	if c.Verification.TTL > 2*time.Hour {
		add("verification_ttl_long", LintWarn, "verification token TTL %v exceeds 2h", c.Verification.TTL)
	}

	// -------- SESSION --------
	if c.Session.SigningMethod == "hs256" {
		add("signing_hs256", LintInfo, "HS256 shares the signing secret with every verifier; prefer ed25519")
	}
	if c.Session.TTL > 7*24*time.Hour {
		add("session_ttl_long", LintWarn, "session TTL %v exceeds 7 days", c.Session.TTL)
	}
	if c.Session.Leeway > time.Minute {
		add("leeway_large", LintWarn, "clock leeway %v exceeds 1m", c.Session.Leeway)
	}

	// -------- PASSWORD / LOGIN --------
	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "argon2 memory %d KiB is below 64 MiB", c.Password.Memory)
	}
	if c.Login.MaxFailures == 0 {
		add("login_throttle_disabled", LintWarn, "login failure throttle is disabled")
	}

	// -------- ADMIN / AUDIT --------
	if len(c.Admin.AllowedIdentities) == 0 {
		add("admin_allowlist_empty", LintInfo, "no admin identities are allow-listed; admin routes are unreachable")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are disabled")
	}

	return ws
}
