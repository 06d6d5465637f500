package courierAuth

import "errors"

var (
	// ErrUnauthorized is returned for any token, signature or membership
	// failure that requires full re-authentication.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned when the primary credential check fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalNotFound is returned when a principal lookup by ID misses.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrAccountUnverified is returned when an unverified principal signs in.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrSignInRateLimited is returned when sign-in attempts exceed the configured limit.
	ErrSignInRateLimited = errors.New("sign-in rate limited")
	// ErrRefreshRateLimited is returned when refresh attempts exceed the configured limit.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrForbidden is returned when an authenticated principal has the wrong role.
	ErrForbidden = errors.New("forbidden")
	// ErrRoleUnknown is returned for a role with no registered principal store.
	ErrRoleUnknown = errors.New("unknown role")

	ErrTokenInvalid          = errors.New("token invalid")
	ErrTokenIssue            = errors.New("token issue failed")
	ErrDeviceBindingRejected = errors.New("device binding rejected")
	ErrProtectMismatch       = errors.New("protect token does not match access token")

	// ErrSessionNotFound is returned when a revocation targets a session that
	// is not live in the ephemeral index.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStale is returned when a rotation loses the race on its old
	// access-token hash.
	ErrSessionStale = errors.New("session stale")
	// ErrResetInProgress is returned to a duplicate concurrent security reset.
	ErrResetInProgress = errors.New("security reset already in progress")
	// ErrRedisUnavailable wraps ephemeral store failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrDurableStore wraps durable principal store failures.
	ErrDurableStore = errors.New("durable store unavailable")

	ErrMFATicketInvalid     = errors.New("mfa ticket invalid")
	ErrMFATicketExpired     = errors.New("mfa ticket expired")
	ErrMFATicketReplay      = errors.New("mfa ticket already used")
	ErrMFAAttemptsExceeded  = errors.New("mfa attempts exceeded")
	ErrTOTPInvalid          = errors.New("totp code invalid")
	ErrTOTPMalformed        = errors.New("totp code malformed")
	ErrTOTPNotConfigured    = errors.New("second factor not enabled")
	ErrTOTPAlreadyEnabled   = errors.New("second factor already enabled")
	ErrTOTPEnrollmentAbsent = errors.New("no totp enrollment in progress")
	ErrBackupCodeInvalid    = errors.New("backup code invalid")
	ErrBackupCodeMalformed  = errors.New("backup code malformed")

	ErrPasskeyChallengeNotFound = errors.New("passkey challenge not found")
	ErrPasskeyVerification      = errors.New("passkey verification failed")
	ErrPasskeyNoneRegistered    = errors.New("no passkeys registered")
	ErrPasskeyReplay            = errors.New("passkey counter did not advance")
	ErrPasskeyNotFound          = errors.New("passkey not found")
	ErrPasskeyExists            = errors.New("passkey already registered")
	ErrPasskeyMalformed         = errors.New("passkey response malformed")

	ErrIdentityNotLinked     = errors.New("external identity not linked")
	ErrIdentityAlreadyLinked = errors.New("external identity already linked to another principal")

	// ErrSealFailure is returned when sealing or hashing secret material fails.
	ErrSealFailure = errors.New("secret sealing failed")
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or partially built engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// Kind is the transport-neutral class of an engine error.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindBadRequest
	KindConflict
	KindForbidden
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

var errorKinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidCredentials, KindUnauthorized},
	{ErrAccountUnverified, KindUnauthorized},
	{ErrTokenInvalid, KindUnauthorized},
	{ErrDeviceBindingRejected, KindUnauthorized},
	{ErrProtectMismatch, KindUnauthorized},
	{ErrSessionStale, KindUnauthorized},
	{ErrMFATicketInvalid, KindUnauthorized},
	{ErrMFATicketExpired, KindUnauthorized},
	{ErrMFATicketReplay, KindUnauthorized},
	{ErrMFAAttemptsExceeded, KindUnauthorized},
	{ErrTOTPInvalid, KindUnauthorized},
	{ErrBackupCodeInvalid, KindUnauthorized},
	{ErrPasskeyVerification, KindUnauthorized},
	{ErrPasskeyReplay, KindUnauthorized},
	{ErrIdentityNotLinked, KindUnauthorized},

	{ErrPrincipalNotFound, KindNotFound},
	{ErrSessionNotFound, KindNotFound},
	{ErrPasskeyChallengeNotFound, KindNotFound},
	{ErrPasskeyNotFound, KindNotFound},

	{ErrRoleUnknown, KindBadRequest},
	{ErrTOTPMalformed, KindBadRequest},
	{ErrTOTPNotConfigured, KindBadRequest},
	{ErrTOTPEnrollmentAbsent, KindBadRequest},
	{ErrBackupCodeMalformed, KindBadRequest},
	{ErrPasskeyNoneRegistered, KindBadRequest},
	{ErrPasskeyMalformed, KindBadRequest},

	{ErrResetInProgress, KindConflict},
	{ErrTOTPAlreadyEnabled, KindConflict},
	{ErrPasskeyExists, KindConflict},
	{ErrIdentityAlreadyLinked, KindConflict},

	{ErrForbidden, KindForbidden},

	{ErrSignInRateLimited, KindRateLimited},
	{ErrRefreshRateLimited, KindRateLimited},
}

// KindOf classifies err against the engine sentinels. Unknown errors are
// [KindInternal].
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}

// PublicMessage returns the message of the engine sentinel err matches,
// without whatever detail was wrapped around it. Unknown errors read
// "internal error".
func PublicMessage(err error) string {
	if err == nil {
		return "internal error"
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.err.Error()
		}
	}
	return "internal error"
}
