package courierAuth

import "github.com/MrEthical07/courierAuth/account"

// Principal and its embedded records are defined in package account and
// re-exported here so callers rarely import it directly.
type (
	Role              = account.Role
	Principal         = account.Principal
	SessionRecord     = account.SessionRecord
	SecondFactorState = account.SecondFactorState
	PasskeySummary    = account.PasskeySummary
	PasskeyCredential = account.PasskeyCredential
	LinkedIdentity    = account.LinkedIdentity
	PrincipalStore    = account.PrincipalStore
	PasskeyStore      = account.PasskeyStore
)

const (
	RoleUser  = account.RoleUser
	RoleAgent = account.RoleAgent
	RoleAdmin = account.RoleAdmin
)

// Identity is the subject a token triple is issued for.
type Identity struct {
	ID       string
	Role     Role
	Remember bool
}

// TokenTriple is the access/refresh/protect set issued per sign-in or refresh.
type TokenTriple struct {
	Access  string
	Refresh string
	Protect string
}

// SignInResult is returned by every session-establishing operation.
//
// When SecondFactorRequired is set, Tokens is empty and Ticket holds the
// sealed pending-MFA ticket the caller delivers in the pending cookie.
type SignInResult struct {
	Role                 Role
	Remember             bool
	SecondFactorRequired bool
	Ticket               string
	Tokens               TokenTriple
	Principal            *Principal
}

// SessionView is one durable session record annotated with its live status in
// the ephemeral index.
type SessionView struct {
	SessionRecord
	Live    bool
	Current bool
}

// TOTPEnrollment is returned when a second-factor enrollment starts. The
// secret stays pending until confirmed with a valid code.
type TOTPEnrollment struct {
	Secret string
	URL    string
}
