package courierAuth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/backupcode"
	"github.com/MrEthical07/courierAuth/internal/audit"
	"github.com/MrEthical07/courierAuth/internal/flows"
	"github.com/MrEthical07/courierAuth/internal/rate"
	"github.com/MrEthical07/courierAuth/internal/sealer"
	"github.com/MrEthical07/courierAuth/internal/stores"
	"github.com/MrEthical07/courierAuth/jwt"
	"github.com/google/uuid"
)

const (
	methodPassword   = "password"
	methodIdentity   = "identity"
	methodTOTP       = "totp"
	methodBackupCode = "backup_code"
	methodPasskey    = "passkey"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignIn runs the primary credential check for role. Without a second factor
// the session is established immediately; otherwise the result carries
// SecondFactorRequired and a sealed pending ticket, and no tokens.
func (e *Engine) SignIn(ctx context.Context, role Role, email, password string, remember bool) (*SignInResult, error) {
	store, err := e.principalStore(role)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.CheckSignIn(ctx, string(role), email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricSignInRateLimited)
			e.emitAudit(ctx, audit.SignInRateLimited, false, role, "", ErrSignInRateLimited, nil)
			return nil, ErrSignInRateLimited
		}
		return nil, redisError(err)
	}

	fail := func(principalID string, cause error) (*SignInResult, error) {
		if err := e.limiter.RecordSignInFailure(ctx, string(role), email, ip); err != nil {
			e.logger.Warn("recording sign-in failure", "role", string(role), "error", err)
		}
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, audit.SignInFailure, false, role, principalID, cause, nil)
		return nil, cause
	}

	p, err := store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrPrincipalNotFound) {
			return fail("", ErrInvalidCredentials)
		}
		return nil, durableError(err)
	}
	if p.PasswordHash == "" {
		return fail(p.ID, ErrInvalidCredentials)
	}
	ok, err := e.passwords.Verify(password, p.PasswordHash)
	if err != nil || !ok {
		return fail(p.ID, ErrInvalidCredentials)
	}
	if !p.Verified {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, audit.SignInFailure, false, role, p.ID, ErrAccountUnverified, nil)
		return nil, ErrAccountUnverified
	}
	if err := e.limiter.ResetSignIn(ctx, string(role), email); err != nil {
		e.logger.Warn("resetting sign-in attempts", "role", string(role), "error", err)
	}

	if e.config.Password.UpgradeOnSignIn {
		e.upgradePasswordHash(ctx, p, password)
	}

	return e.completePrimary(ctx, p, remember, methodPassword)
}

// upgradePasswordHash rehashes legacy or weaker hashes with the current
// parameters. Failure leaves the old hash in place.
func (e *Engine) upgradePasswordHash(ctx context.Context, p *Principal, password string) {
	needs, err := e.passwords.NeedsUpgrade(p.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.passwords.Hash(password)
	if err != nil {
		return
	}
	old := p.PasswordHash
	updated, err := e.updateDurable(ctx, p.Role, p.ID, func(q *Principal) error {
		if q.PasswordHash != old {
			return nil
		}
		q.PasswordHash = upgraded
		return nil
	})
	if err != nil {
		e.logger.Warn("password hash upgrade failed", "role", string(p.Role), "principal_id", p.ID, "error", err)
		return
	}
	*p = *updated
}

// SignInWithIdentity is the external-identity (OAuth) primary check. The
// principal found by email must already carry the provider/subject link.
func (e *Engine) SignInWithIdentity(ctx context.Context, role Role, email, provider, subject string, remember bool) (*SignInResult, error) {
	store, err := e.principalStore(role)
	if err != nil {
		return nil, err
	}
	if provider == "" || subject == "" {
		return nil, ErrIdentityNotLinked
	}
	p, err := store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, account.ErrPrincipalNotFound) {
			e.emitAudit(ctx, audit.SignInFailure, false, role, "", ErrIdentityNotLinked, nil)
			return nil, ErrIdentityNotLinked
		}
		return nil, durableError(err)
	}
	if !p.HasLinkedIdentity(provider, subject) {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, audit.SignInFailure, false, role, p.ID, ErrIdentityNotLinked, nil)
		return nil, ErrIdentityNotLinked
	}
	if !p.Verified {
		return nil, ErrAccountUnverified
	}
	return e.completePrimary(ctx, p, remember, methodIdentity)
}

// LinkIdentity records an external identity on the principal. A provider can
// be linked to one subject only.
func (e *Engine) LinkIdentity(ctx context.Context, role Role, id, provider, subject string) error {
	if provider == "" || subject == "" {
		return ErrIdentityNotLinked
	}
	now := e.now().UTC()
	_, err := e.updateDurable(ctx, role, id, func(p *Principal) error {
		for _, l := range p.LinkedIdentities {
			if l.Provider == provider && l.Subject != subject {
				return ErrIdentityAlreadyLinked
			}
		}
		p.LinkIdentity(provider, subject, now)
		return nil
	})
	if err != nil {
		return err
	}
	e.invalidateSnapshot(ctx, role, id)
	e.emitAudit(ctx, audit.IdentityLinked, true, role, id, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return nil
}

func (e *Engine) completePrimary(ctx context.Context, p *Principal, remember bool, method string) (*SignInResult, error) {
	if !p.SecondFactor.Enabled {
		return e.establish(ctx, p, remember, method)
	}
	ticket, err := e.issueTicket(ctx, p, remember)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, audit.MFARequired, true, p.Role, p.ID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return &SignInResult{
		Role:                 p.Role,
		Remember:             remember,
		SecondFactorRequired: true,
		Ticket:               ticket,
	}, nil
}

// establish issues a token triple and registers its session.
func (e *Engine) establish(ctx context.Context, p *Principal, remember bool, method string) (*SignInResult, error) {
	issued, err := e.issue(ctx, p.ID, string(p.Role), remember)
	if err != nil {
		return nil, err
	}
	if err := e.StoreSession(ctx, p, issued.Access); err != nil {
		return nil, err
	}
	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, audit.SignInSuccess, true, p.Role, p.ID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return &SignInResult{
		Role:      p.Role,
		Remember:  remember,
		Tokens:    TokenTriple{Access: issued.Access, Refresh: issued.Refresh, Protect: issued.Protect},
		Principal: p.Snapshot(),
	}, nil
}

// ticketProof binds a ticket to the credential state it was issued against.
// A password change or a second-factor reset in between changes the proof.
func (e *Engine) ticketProof(p *Principal) string {
	return e.proofHasher.Sum(
		string(p.Role),
		p.ID,
		p.PasswordHash,
		strconv.FormatBool(p.SecondFactor.Enabled),
		p.SecondFactor.Secret,
	)
}

func (e *Engine) issueTicket(ctx context.Context, p *Principal, remember bool) (string, error) {
	ttl := PendingTicketTTL
	expiresAt := e.now().Add(ttl).Unix()
	claims := flows.TicketClaims{
		TicketID:    uuid.NewString(),
		PrincipalID: p.ID,
		Role:        string(p.Role),
		Remember:    remember,
		Proof:       e.ticketProof(p),
		ExpiresAt:   expiresAt,
	}
	if err := e.tickets.Save(ctx, claims.TicketID, &stores.Ticket{
		PrincipalID: p.ID,
		Role:        string(p.Role),
		ExpiresAt:   expiresAt,
	}, ttl); err != nil {
		return "", redisError(err)
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encoding mfa ticket: %w", err)
	}
	sealed, err := e.ticketSealer.SealString(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	return sealed, nil
}

func (e *Engine) openTicket(ticket string) (*flows.TicketClaims, error) {
	if ticket == "" {
		return nil, ErrMFATicketInvalid
	}
	raw, err := e.ticketSealer.OpenString(ticket)
	if err != nil {
		return nil, ErrMFATicketInvalid
	}
	var claims flows.TicketClaims
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		return nil, ErrMFATicketInvalid
	}
	if claims.TicketID == "" || claims.PrincipalID == "" || claims.Role == "" {
		return nil, ErrMFATicketInvalid
	}
	if _, ok := e.principals[Role(claims.Role)]; !ok {
		return nil, ErrMFATicketInvalid
	}
	return &claims, nil
}

// VerifyTOTP completes a pending sign-in of role with a TOTP code. A ticket
// issued for another role is rejected without consuming it.
func (e *Engine) VerifyTOTP(ctx context.Context, role Role, ticket, code string) (*SignInResult, error) {
	return e.confirmSecondFactor(ctx, role, ticket, code, methodTOTP, e.verifyTOTPFactor)
}

// VerifyBackupCode completes a pending sign-in with a backup code. The code
// is consumed in the same durable transaction that verifies it.
func (e *Engine) VerifyBackupCode(ctx context.Context, role Role, ticket, code string) (*SignInResult, error) {
	return e.confirmSecondFactor(ctx, role, ticket, code, methodBackupCode, e.consumeBackupCode)
}

func (e *Engine) confirmSecondFactor(
	ctx context.Context,
	role Role,
	ticket, code, method string,
	verify func(context.Context, *Principal, string) (*Principal, error),
) (*SignInResult, error) {
	if e == nil || e.tickets == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunSecondFactor(ctx, ticket, code, flows.SecondFactorDeps{
		Role:        string(role),
		Now:         e.now,
		OpenTicket:  e.openTicket,
		Records:     e.tickets,
		MaxAttempts: e.config.Ticket.MaxAttempts,
		LoadPrincipal: func(ctx context.Context, role, id string) (*Principal, error) {
			return e.loadPrincipal(ctx, Role(role), id)
		},
		ProofMatches: func(p *Principal, proof string) bool {
			return p.SecondFactor.Enabled && proofEqual(e.ticketProof(p), proof)
		},
		Verify:      verify,
		IsMalformed: isMalformedFactor,
		IsBackend:   isBackendFailure,
	})

	var principalID string
	if res.Claims != nil && Role(res.Claims.Role) == role {
		principalID = res.Claims.PrincipalID
	}

	var err error
	switch res.Failure {
	case flows.SecondFactorFailureNone:
		e.metricInc(MetricMFASuccess)
		if method == methodBackupCode {
			e.metricInc(MetricBackupCodeUsed)
		}
		e.emitAudit(ctx, audit.MFASuccess, true, role, principalID, nil, func() map[string]string {
			return map[string]string{"method": method}
		})
		return e.establish(ctx, res.Principal, res.Claims.Remember, method)
	case flows.SecondFactorFailureTicketInvalid,
		flows.SecondFactorFailurePrincipal,
		flows.SecondFactorFailureProofStale:
		err = ErrMFATicketInvalid
	case flows.SecondFactorFailureTicketExpired:
		err = ErrMFATicketExpired
	case flows.SecondFactorFailureTicketMissing:
		err = ErrMFATicketInvalid
		if errors.Is(res.Err, stores.ErrTicketExpired) {
			err = ErrMFATicketExpired
		}
	case flows.SecondFactorFailureMalformed, flows.SecondFactorFailureFactor:
		err = res.Err
		if method == methodBackupCode && res.Failure == flows.SecondFactorFailureFactor {
			e.metricInc(MetricBackupCodeFailed)
		}
	case flows.SecondFactorFailureAttemptsExceeded:
		e.metricInc(MetricMFAAttemptsExceeded)
		e.emitAudit(ctx, audit.MFAAttemptsExceeded, false, role, principalID, ErrMFAAttemptsExceeded, nil)
		return nil, ErrMFAAttemptsExceeded
	case flows.SecondFactorFailureReplay:
		e.metricInc(MetricMFAReplay)
		err = ErrMFATicketReplay
	default:
		err = res.Err
		if !isBackendFailure(err) {
			err = redisError(err)
		}
	}

	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, audit.MFAFailure, false, role, principalID, err, func() map[string]string {
		return map[string]string{"method": method}
	})
	return nil, err
}

func proofEqual(a, b string) bool {
	return a != "" && b != "" && sealer.Equal(a, b)
}

func isMalformedFactor(err error) bool {
	return errors.Is(err, ErrTOTPMalformed) || errors.Is(err, ErrBackupCodeMalformed)
}

func isBackendFailure(err error) bool {
	return errors.Is(err, ErrRedisUnavailable) ||
		errors.Is(err, ErrDurableStore) ||
		errors.Is(err, ErrSealFailure) ||
		errors.Is(err, stores.ErrTicketBackend) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) verifyTOTPFactor(ctx context.Context, p *Principal, code string) (*Principal, error) {
	if !p.SecondFactor.Enabled || p.SecondFactor.Secret == "" {
		return nil, ErrTOTPNotConfigured
	}
	if err := e.checkTOTPCode(ctx, p, p.SecondFactor.Secret, code); err != nil {
		return nil, err
	}
	return p, nil
}

// checkTOTPCode verifies code against a sealed secret and, when replay
// protection is on, claims the matched time step for the principal.
func (e *Engine) checkTOTPCode(ctx context.Context, p *Principal, sealedSecret, code string) error {
	normalized, ok := normalizeTOTPCode(code)
	if !ok {
		return ErrTOTPMalformed
	}
	secret, err := e.secretSealer.OpenString(sealedSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	step, ok, err := e.totp.Match(secret, normalized, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	if !ok {
		return ErrTOTPInvalid
	}
	if e.config.TOTP.EnforceReplayProtection {
		fresh, err := e.totp.MarkUsed(ctx, p.Role, p.ID, step)
		if err != nil {
			return err
		}
		if !fresh {
			return ErrTOTPInvalid
		}
	}
	return nil
}

// consumeBackupCode verifies and removes one backup code in a single durable
// update, so two concurrent submissions of the same code cannot both succeed.
func (e *Engine) consumeBackupCode(ctx context.Context, p *Principal, code string) (*Principal, error) {
	if !p.SecondFactor.Enabled {
		return nil, ErrTOTPNotConfigured
	}
	remaining := 0
	updated, err := e.updateDurable(ctx, p.Role, p.ID, func(q *Principal) error {
		left, err := e.backupCodes.Verify(code, q.SecondFactor.BackupCodes)
		if err != nil {
			return backupCodeError(err)
		}
		q.SecondFactor.BackupCodes = left
		remaining = len(left)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, audit.BackupCodeUsed, true, p.Role, p.ID, nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(remaining)}
	})
	return updated, nil
}

func backupCodeError(err error) error {
	switch {
	case errors.Is(err, backupcode.ErrMalformed):
		return ErrBackupCodeMalformed
	case errors.Is(err, backupcode.ErrNoMatch):
		return ErrBackupCodeInvalid
	default:
		return fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
}

// Refresh rotates a refresh token of role into a new triple. Of several
// concurrent refreshes of the same token exactly one succeeds.
//
// An undecodable token, a token of another role, a device binding mismatch
// and a lost rotation all return [ErrUnauthorized]; only the audit event and
// metrics tell them apart.
func (e *Engine) Refresh(ctx context.Context, role Role, refreshToken string) (*SignInResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	deps := flows.RefreshDeps{
		Role: string(role),
		ParseRefresh: func(tok string) (*jwt.LinkedClaims, error) {
			claims, err := e.tokens.ParseLinked(jwt.TypeRefresh, tok)
			if err != nil {
				return nil, err
			}
			if _, ok := e.principals[Role(claims.Role)]; !ok {
				return nil, ErrRoleUnknown
			}
			return claims, nil
		},
		Issue:           e.issue,
		RotateEphemeral: e.rotateEphemeral,
		IsStale: func(err error) bool {
			return errors.Is(err, ErrSessionStale)
		},
		RateLimiter: e.limiter,
	}
	if e.config.DeviceBinding.Enabled {
		deps.BindingMismatch = e.CheckTokenSignature
	}

	start := e.now()
	res := flows.RunRefresh(ctx, refreshToken, deps)
	e.metrics.Observe(MetricRefreshLatency, e.now().Sub(start))
	principalID := res.PrincipalID
	if res.Failure == flows.RefreshFailureRole {
		principalID = ""
	}

	// cause is what the audit trail records; err is what the caller sees.
	var cause, err error
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.syncRotation(ctx, role, res.PrincipalID, res.OldHash, res.Tokens.AccessHash)
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, audit.RefreshSuccess, true, role, res.PrincipalID, nil, nil)
		return &SignInResult{
			Role:     role,
			Remember: res.Remember,
			Tokens: TokenTriple{
				Access:  res.Tokens.Access,
				Refresh: res.Tokens.Refresh,
				Protect: res.Tokens.Protect,
			},
		}, nil
	case flows.RefreshFailureDecode:
		cause, err = ErrUnauthorized, ErrUnauthorized
		e.logger.Debug("refresh token rejected", "role", string(role), "error", res.Err)
	case flows.RefreshFailureRole:
		cause, err = ErrUnauthorized, ErrUnauthorized
	case flows.RefreshFailureBinding:
		e.metricInc(MetricDeviceRejected)
		cause, err = ErrDeviceBindingRejected, ErrUnauthorized
	case flows.RefreshFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			err = ErrRefreshRateLimited
		} else {
			err = redisError(res.Err)
		}
	case flows.RefreshFailureIssue:
		err = res.Err
	case flows.RefreshFailureStale:
		e.metricInc(MetricRefreshStale)
		cause, err = ErrSessionStale, ErrUnauthorized
	default:
		err = res.Err
	}
	if cause == nil {
		cause = err
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, audit.RefreshRejected, false, role, principalID, cause, nil)
	return nil, err
}
