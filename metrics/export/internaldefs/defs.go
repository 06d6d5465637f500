package internaldefs

import (
	courierAuth "github.com/MrEthical07/courierAuth"
)

// AuditDroppedName is the counter exported for audit events dropped under
// dispatcher backpressure.
const AuditDroppedName = "courierauth_audit_dropped_total"

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   courierAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   courierAuth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: courierAuth.MetricSignInSuccess, Name: "courierauth_sign_in_success_total", Help: "Sessions established by any sign-in method."},
	{ID: courierAuth.MetricSignInFailure, Name: "courierauth_sign_in_failure_total", Help: "Rejected primary credential checks."},
	{ID: courierAuth.MetricSignInRateLimited, Name: "courierauth_sign_in_rate_limited_total", Help: "Sign-in attempts refused by the rate limiter."},
	{ID: courierAuth.MetricMFARequired, Name: "courierauth_mfa_required_total", Help: "Sign-ins that issued a pending second-factor ticket."},
	{ID: courierAuth.MetricMFASuccess, Name: "courierauth_mfa_success_total", Help: "Confirmed second-factor tickets."},
	{ID: courierAuth.MetricMFAFailure, Name: "courierauth_mfa_failure_total", Help: "Failed second-factor confirmations."},
	{ID: courierAuth.MetricMFAReplay, Name: "courierauth_mfa_replay_total", Help: "Second-factor tickets presented after being consumed."},
	{ID: courierAuth.MetricMFAAttemptsExceeded, Name: "courierauth_mfa_attempts_exceeded_total", Help: "Tickets destroyed after too many failed codes."},
	{ID: courierAuth.MetricBackupCodeUsed, Name: "courierauth_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: courierAuth.MetricBackupCodeFailed, Name: "courierauth_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: courierAuth.MetricBackupCodeRegenerated, Name: "courierauth_backup_code_regenerated_total", Help: "Backup code set replacements."},
	{ID: courierAuth.MetricTOTPEnabled, Name: "courierauth_totp_enabled_total", Help: "Completed TOTP enrollments."},
	{ID: courierAuth.MetricTOTPDisabled, Name: "courierauth_totp_disabled_total", Help: "Second factors turned off."},
	{ID: courierAuth.MetricRefreshSuccess, Name: "courierauth_refresh_success_total", Help: "Rotated refresh tokens."},
	{ID: courierAuth.MetricRefreshFailure, Name: "courierauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: courierAuth.MetricRefreshStale, Name: "courierauth_refresh_stale_total", Help: "Rotations that lost the compare-and-swap on the old session."},
	{ID: courierAuth.MetricRefreshRateLimited, Name: "courierauth_refresh_rate_limited_total", Help: "Refresh attempts refused by the rate limiter."},
	{ID: courierAuth.MetricDeviceRejected, Name: "courierauth_device_rejected_total", Help: "Tokens rejected by device binding."},
	{ID: courierAuth.MetricSessionCreated, Name: "courierauth_session_created_total", Help: "Sessions added to the index."},
	{ID: courierAuth.MetricSessionRevoked, Name: "courierauth_session_revoked_total", Help: "Single-session sign-outs."},
	{ID: courierAuth.MetricSessionsRevokedOthers, Name: "courierauth_sessions_revoked_others_total", Help: "Revoke-all-other-sessions operations."},
	{ID: courierAuth.MetricSecurityReset, Name: "courierauth_security_reset_total", Help: "Completed security resets."},
	{ID: courierAuth.MetricDurableDrift, Name: "courierauth_durable_drift_total", Help: "Durable session writes abandoned after retries."},
	{ID: courierAuth.MetricSnapshotMiss, Name: "courierauth_snapshot_miss_total", Help: "Principal snapshot reloads from the durable store."},
	{ID: courierAuth.MetricPasskeyRegistered, Name: "courierauth_passkey_registered_total", Help: "Registered passkeys."},
	{ID: courierAuth.MetricPasskeyLoginSuccess, Name: "courierauth_passkey_login_success_total", Help: "Successful passkey sign-ins."},
	{ID: courierAuth.MetricPasskeyLoginFailure, Name: "courierauth_passkey_login_failure_total", Help: "Failed passkey sign-ins."},
	{ID: courierAuth.MetricPasskeyReplay, Name: "courierauth_passkey_replay_total", Help: "Assertions whose signature counter did not advance."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: courierAuth.MetricValidateLatency, Name: "courierauth_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: courierAuth.MetricRefreshLatency, Name: "courierauth_refresh_latency_seconds", Help: "Refresh token rotation latency, including the session CAS."},
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds spelled for instrument names.
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

// NormalizeBuckets copies raw into the fixed bucket layout, dropping extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
