package courierAuth

import (
	"context"
	"fmt"

	"github.com/MrEthical07/courierAuth/internal"
	"github.com/MrEthical07/courierAuth/internal/flows"
	"github.com/MrEthical07/courierAuth/internal/sealer"
	"github.com/MrEthical07/courierAuth/jwt"
)

func (e *Engine) deviceSignature(ctx context.Context) internal.DeviceSignature {
	return internal.SignDevice(e.deviceHasher, clientIPFromContext(ctx), userAgentFromContext(ctx))
}

// hashToken is the keyed hash used as index member, durable record key and
// refresh/protect linkage.
func (e *Engine) hashToken(token string) string {
	return e.tokenHasher.Sum(token)
}

// RotateToken issues a fresh access/refresh/protect triple for id, bound to
// the client context installed with [WithClientIP] and [WithUserAgent]. Each
// call yields distinct tokens. It does not touch the session store.
func (e *Engine) RotateToken(ctx context.Context, id Identity) (TokenTriple, error) {
	if e == nil || e.tokens == nil {
		return TokenTriple{}, ErrEngineNotReady
	}
	issued, err := e.issue(ctx, id.ID, string(id.Role), id.Remember)
	if err != nil {
		return TokenTriple{}, err
	}
	return TokenTriple{Access: issued.Access, Refresh: issued.Refresh, Protect: issued.Protect}, nil
}

func (e *Engine) issue(ctx context.Context, principalID, role string, remember bool) (flows.IssuedTriple, error) {
	sig := e.deviceSignature(ctx)
	binding := jwt.Binding{IPHash: sig.IPHash, DeviceHash: sig.DeviceHash, BrowserHash: sig.BrowserHash}

	access, err := e.tokens.CreateAccess(principalID, role, binding)
	if err != nil {
		return flows.IssuedTriple{}, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	link := e.hashToken(access)
	refresh, err := e.tokens.CreateLinked(jwt.TypeRefresh, principalID, role, remember, link, binding)
	if err != nil {
		return flows.IssuedTriple{}, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	protect, err := e.tokens.CreateLinked(jwt.TypeProtect, principalID, role, remember, link, binding)
	if err != nil {
		return flows.IssuedTriple{}, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	return flows.IssuedTriple{Access: access, Refresh: refresh, Protect: protect, AccessHash: link}, nil
}

// CheckTokenSignature recomputes the device signature of the current request
// and compares it with the one embedded in a token. It returns true when the
// token must be rejected: any device or browser difference, an IP difference
// when DeviceBinding.EnforceIP is set, or an empty embedded hash.
func (e *Engine) CheckTokenSignature(ctx context.Context, embedded jwt.Binding) bool {
	stored := internal.DeviceSignature{
		IPHash:      embedded.IPHash,
		DeviceHash:  embedded.DeviceHash,
		BrowserHash: embedded.BrowserHash,
	}
	return internal.SignatureMismatch(stored, e.deviceSignature(ctx), e.config.DeviceBinding.EnforceIP)
}

// ValidateToken decodes and verifies an access token: signature, expiry,
// token type, issuer and audience. Membership in the session index is
// checked separately by [Engine.CheckSession].
func (e *Engine) ValidateToken(ctx context.Context, access string) (*jwt.AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	claims, err := e.tokens.ParseAccess(access)
	e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if _, ok := e.principals[Role(claims.Role)]; !ok {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyProtect is the double-submit check for state-changing requests: the
// protect token must be valid and linked to exactly this access token.
func (e *Engine) VerifyProtect(ctx context.Context, access, protect string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if access == "" || protect == "" {
		return ErrProtectMismatch
	}
	claims, err := e.tokens.ParseLinked(jwt.TypeProtect, protect)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtectMismatch, err)
	}
	if !sealer.Equal(claims.Linkage, e.hashToken(access)) {
		return ErrProtectMismatch
	}
	return nil
}

// CheckSession is the request-time authority check: the access token hash
// must be a live member of the principal's index. It returns the cached
// principal snapshot. A miss and a stale token are indistinguishable to the
// caller.
func (e *Engine) CheckSession(ctx context.Context, claims *jwt.AccessClaims, access string) (*Principal, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	role := Role(claims.Role)
	live, err := e.sessions.IsActive(ctx, string(role), claims.PrincipalID, e.hashToken(access))
	if err != nil {
		return nil, redisError(err)
	}
	if !live {
		return nil, ErrUnauthorized
	}
	p, err := e.PrincipalSnapshot(ctx, role, claims.PrincipalID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return p, nil
}
