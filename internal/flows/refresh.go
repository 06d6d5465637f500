package flows

import (
	"context"

	"github.com/MrEthical07/courierAuth/jwt"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRole
	RefreshFailureBinding
	RefreshFailureRateLimited
	RefreshFailureIssue
	RefreshFailureStale
	RefreshFailureBackend
)

// IssuedTriple is a freshly signed token triple together with the keyed hash
// of its access token.
type IssuedTriple struct {
	Access     string
	Refresh    string
	Protect    string
	AccessHash string
}

// RefreshResult carries either the rotated triple or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	PrincipalID string
	Role        string
	Remember    bool
	OldHash     string
	Tokens      IssuedTriple
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, role, principalID string) error
}

// RefreshDeps captures refresh flow dependencies.
//
// Role, when set, is the role the token was presented for; a token of any
// other role fails before anything is rotated.
type RefreshDeps struct {
	Role            string
	ParseRefresh    func(string) (*jwt.LinkedClaims, error)
	BindingMismatch func(context.Context, jwt.Binding) bool
	Issue           func(ctx context.Context, principalID, role string, remember bool) (IssuedTriple, error)
	RotateEphemeral func(ctx context.Context, role, principalID, oldHash, newHash string) error
	IsStale         func(error) bool
	RateLimiter     RefreshRateLimiter
}

// RunRefresh rotates one refresh token into a new triple. The ephemeral
// compare-and-swap on the old linkage decides the winner among concurrent
// refreshes of the same token; the durable side is left to the caller.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	res := RefreshResult{
		PrincipalID: claims.PrincipalID,
		Role:        claims.Role,
		Remember:    claims.Remember,
		OldHash:     claims.Linkage,
	}

	if deps.Role != "" && claims.Role != deps.Role {
		res.Failure = RefreshFailureRole
		return res
	}

	if deps.BindingMismatch != nil && deps.BindingMismatch(ctx, claims.Binding) {
		res.Failure = RefreshFailureBinding
		return res
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, claims.Role, claims.PrincipalID); err != nil {
			res.Failure = RefreshFailureRateLimited
			res.Err = err
			return res
		}
	}

	triple, err := deps.Issue(ctx, claims.PrincipalID, claims.Role, claims.Remember)
	if err != nil {
		res.Failure = RefreshFailureIssue
		res.Err = err
		return res
	}

	if err := deps.RotateEphemeral(ctx, claims.Role, claims.PrincipalID, claims.Linkage, triple.AccessHash); err != nil {
		res.Err = err
		if deps.IsStale != nil && deps.IsStale(err) {
			res.Failure = RefreshFailureStale
		} else {
			res.Failure = RefreshFailureBackend
		}
		return res
	}

	res.Tokens = triple
	return res
}
