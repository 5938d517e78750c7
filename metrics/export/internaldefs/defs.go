package internaldefs

import (
	"github.com/MrEthical07/docauth"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   docauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   docauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: docauth.MetricOTPIssued, Name: "docauth_otp_issued_total", Help: "OTP challenges issued."},
	{ID: docauth.MetricOTPRateLimited, Name: "docauth_otp_rate_limited_total", Help: "OTP requests rejected by the resend cooldown."},
	{ID: docauth.MetricOTPDeliveryFailed, Name: "docauth_otp_delivery_failed_total", Help: "OTP challenges discarded after a notifier failure."},
	{ID: docauth.MetricOTPVerifySuccess, Name: "docauth_otp_verify_success_total", Help: "Successful OTP verifications."},
	{ID: docauth.MetricOTPVerifyFailure, Name: "docauth_otp_verify_failure_total", Help: "Failed OTP verifications."},
	{ID: docauth.MetricOTPAttemptsExceeded, Name: "docauth_otp_attempts_exceeded_total", Help: "OTP challenges invalidated by the attempt cap."},
	{ID: docauth.MetricOTPExpired, Name: "docauth_otp_expired_total", Help: "OTP verifications against an expired challenge."},
	{ID: docauth.MetricVerificationTokenIssued, Name: "docauth_verification_token_issued_total", Help: "Verification tokens minted."},
	{ID: docauth.MetricVerificationTokenConsumed, Name: "docauth_verification_token_consumed_total", Help: "Verification tokens consumed."},
	{ID: docauth.MetricVerificationTokenRejected, Name: "docauth_verification_token_rejected_total", Help: "Verification tokens rejected as unknown, expired or mismatched."},
	{ID: docauth.MetricRegisterSuccess, Name: "docauth_register_success_total", Help: "Accounts registered."},
	{ID: docauth.MetricRegisterConflict, Name: "docauth_register_conflict_total", Help: "Registrations rejected as duplicate."},
	{ID: docauth.MetricPasswordResetSuccess, Name: "docauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: docauth.MetricPasswordRehashed, Name: "docauth_password_rehashed_total", Help: "Password hashes upgraded at login."},
	{ID: docauth.MetricLoginSuccess, Name: "docauth_login_success_total", Help: "Successful logins."},
	{ID: docauth.MetricLoginFailure, Name: "docauth_login_failure_total", Help: "Failed logins."},
	{ID: docauth.MetricLoginRateLimited, Name: "docauth_login_rate_limited_total", Help: "Logins rejected by the failure throttle."},
	{ID: docauth.MetricLogout, Name: "docauth_logout_total", Help: "Self-service logouts."},
	{ID: docauth.MetricForceLogout, Name: "docauth_force_logout_total", Help: "Administrative forced logouts."},
	{ID: docauth.MetricValidateSuccess, Name: "docauth_validate_success_total", Help: "Session tokens accepted."},
	{ID: docauth.MetricValidateUnauthenticated, Name: "docauth_validate_unauthenticated_total", Help: "Session tokens rejected as missing or invalid."},
	{ID: docauth.MetricValidateRevoked, Name: "docauth_validate_revoked_total", Help: "Session tokens rejected by a stale session version."},
	{ID: docauth.MetricValidateForbidden, Name: "docauth_validate_forbidden_total", Help: "Authenticated requests denied by role or account state."},
	{ID: docauth.MetricAccountDisabled, Name: "docauth_account_disabled_total", Help: "Accounts disabled."},
	{ID: docauth.MetricAccountEnabled, Name: "docauth_account_enabled_total", Help: "Accounts re-enabled."},
	{ID: docauth.MetricAccountDeleted, Name: "docauth_account_deleted_total", Help: "Accounts deleted."},
	{ID: docauth.MetricAdminPasswordSet, Name: "docauth_admin_password_set_total", Help: "Passwords set by an administrator."},
	{ID: docauth.MetricAdminProvisioned, Name: "docauth_admin_provisioned_total", Help: "Admin accounts provisioned."},
}

var HistogramDefs = []HistogramDef{
	{ID: docauth.MetricValidateLatency, Name: "docauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

// AuditDroppedName is read from Engine.AuditDropped rather than the snapshot.
const (
	AuditDroppedName = "docauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped under dispatcher backpressure."
)

// HistogramBounds are the upper bounds in seconds of the first seven
// buckets; the eighth is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
