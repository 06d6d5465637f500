package courierAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/internal/audit"
	"github.com/MrEthical07/courierAuth/passkey"
	"github.com/go-webauthn/webauthn/protocol"
)

func passkeyError(err error) error {
	switch {
	case errors.Is(err, passkey.ErrChallengeNotFound):
		return ErrPasskeyChallengeNotFound
	case errors.Is(err, passkey.ErrBackend):
		return redisError(err)
	case errors.Is(err, passkey.ErrNoneRegistered):
		return ErrPasskeyNoneRegistered
	case errors.Is(err, passkey.ErrReplay):
		return ErrPasskeyReplay
	case errors.Is(err, passkey.ErrMalformedResponse):
		return fmt.Errorf("%w: %v", ErrPasskeyMalformed, err)
	case errors.Is(err, passkey.ErrVerification),
		errors.Is(err, passkey.ErrOriginMismatch),
		errors.Is(err, passkey.ErrUnknownCredential):
		return fmt.Errorf("%w: %v", ErrPasskeyVerification, err)
	case errors.Is(err, passkey.ErrAlreadyRegistered),
		errors.Is(err, account.ErrPasskeyExists):
		return ErrPasskeyExists
	case errors.Is(err, account.ErrPasskeyNotFound):
		return ErrPasskeyNotFound
	default:
		return durableError(err)
	}
}

func (e *Engine) passkeysReady() error {
	if e == nil || e.passkeys == nil {
		return ErrEngineNotReady
	}
	return nil
}

// BeginPasskeyRegistration starts a registration ceremony for a signed-in
// principal. Credentials already registered are excluded.
func (e *Engine) BeginPasskeyRegistration(ctx context.Context, role Role, id string) (*protocol.CredentialCreation, error) {
	if err := e.passkeysReady(); err != nil {
		return nil, err
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	creation, err := e.passkeys.BeginRegistration(ctx, p)
	if err != nil {
		return nil, passkeyError(err)
	}
	return creation, nil
}

// FinishPasskeyRegistration verifies the attestation response against the
// stored challenge, persists the credential and refreshes the principal's
// passkey summary.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, role Role, id string, response []byte, origin, label string) (*PasskeyCredential, error) {
	if err := e.passkeysReady(); err != nil {
		return nil, err
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	cred, err := e.passkeys.FinishRegistration(ctx, p, response, origin, label)
	if err != nil {
		err = passkeyError(err)
		e.emitAudit(ctx, audit.PasskeyRegistered, false, role, id, err, nil)
		return nil, err
	}

	e.syncPasskeySummary(ctx, p, false)
	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, audit.PasskeyRegistered, true, role, id, nil, func() map[string]string {
		return map[string]string{"device_type": cred.DeviceType}
	})
	return cred, nil
}

// syncPasskeySummary recounts the principal's credentials into its summary.
func (e *Engine) syncPasskeySummary(ctx context.Context, p *Principal, used bool) {
	creds, err := e.passkeys.List(ctx, p)
	if err != nil {
		e.logger.Warn("listing passkeys for summary", "role", string(p.Role), "principal_id", p.ID, "error", err)
		return
	}
	now := e.now().UTC()
	e.syncDurable(ctx, "passkey_summary", p.Role, p.ID, func(q *Principal) error {
		q.Passkeys.Count = len(creds)
		q.Passkeys.HasPasskeys = len(creds) > 0
		if used {
			q.Passkeys.LastUsed = now
		}
		return nil
	})
	e.invalidateSnapshot(ctx, p.Role, p.ID)
}

func (e *Engine) findForPasskeyLogin(ctx context.Context, role Role, email string) (*Principal, error) {
	store, err := e.principalStore(role)
	if err != nil {
		return nil, err
	}
	p, err := store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, account.ErrPrincipalNotFound) {
			return nil, nil
		}
		return nil, durableError(err)
	}
	return p, nil
}

// BeginPasskeyLogin starts an assertion ceremony for the principal with email.
// An unknown email and a principal without passkeys are reported the same
// way.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, role Role, email string) (*protocol.CredentialAssertion, error) {
	if err := e.passkeysReady(); err != nil {
		return nil, err
	}
	p, err := e.findForPasskeyLogin(ctx, role, email)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPasskeyNoneRegistered
	}
	assertion, err := e.passkeys.BeginLogin(ctx, p)
	if err != nil {
		return nil, passkeyError(err)
	}
	return assertion, nil
}

// FinishPasskeyLogin verifies the assertion, advances the credential's
// signature counter and establishes a session. A passkey is a complete
// sign-in and does not go through the TOTP step.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, role Role, email string, response []byte, remember bool) (*SignInResult, error) {
	if err := e.passkeysReady(); err != nil {
		return nil, err
	}
	p, err := e.findForPasskeyLogin(ctx, role, email)
	if err != nil {
		return nil, err
	}
	if p == nil {
		e.metricInc(MetricPasskeyLoginFailure)
		return nil, ErrPasskeyChallengeNotFound
	}
	if !p.Verified {
		e.metricInc(MetricPasskeyLoginFailure)
		return nil, ErrAccountUnverified
	}

	if _, err := e.passkeys.FinishLogin(ctx, p, response); err != nil {
		err = passkeyError(err)
		if errors.Is(err, ErrPasskeyReplay) {
			e.metricInc(MetricPasskeyReplay)
			e.emitAudit(ctx, audit.PasskeyReplay, false, role, p.ID, err, nil)
		} else {
			e.emitAudit(ctx, audit.PasskeyLogin, false, role, p.ID, err, nil)
		}
		e.metricInc(MetricPasskeyLoginFailure)
		return nil, err
	}

	e.syncPasskeySummary(ctx, p, true)
	e.metricInc(MetricPasskeyLoginSuccess)
	e.emitAudit(ctx, audit.PasskeyLogin, true, role, p.ID, nil, nil)
	return e.establish(ctx, p, remember, methodPasskey)
}

// ListPasskeys returns the principal's registered credentials.
func (e *Engine) ListPasskeys(ctx context.Context, role Role, id string) ([]PasskeyCredential, error) {
	if err := e.passkeysReady(); err != nil {
		return nil, err
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	creds, err := e.passkeys.List(ctx, p)
	if err != nil {
		return nil, durableError(err)
	}
	return creds, nil
}

// RemovePasskey deletes one credential owned by the principal and returns
// how many remain.
func (e *Engine) RemovePasskey(ctx context.Context, role Role, id, credentialID string) (int, error) {
	if err := e.passkeysReady(); err != nil {
		return 0, err
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return 0, err
	}
	remaining, err := e.passkeys.Remove(ctx, p, credentialID)
	if err != nil {
		return 0, passkeyError(err)
	}
	e.syncDurable(ctx, "passkey_summary", role, id, func(q *Principal) error {
		q.Passkeys.Count = remaining
		q.Passkeys.HasPasskeys = remaining > 0
		return nil
	})
	e.invalidateSnapshot(ctx, role, id)
	e.emitAudit(ctx, audit.PasskeyRemoved, true, role, id, nil, nil)
	return remaining, nil
}
