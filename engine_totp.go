package courierAuth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/MrEthical07/courierAuth/internal/audit"
)

// BeginTOTPEnrollment generates a new TOTP secret and stores it sealed as the
// principal's pending secret. Starting again replaces any earlier pending
// secret.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, role Role, id string) (*TOTPEnrollment, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	if p.SecondFactor.Enabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	key, err := e.totp.Generate(p.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	sealed, err := e.secretSealer.SealString(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	if _, err := e.updateDurable(ctx, role, id, func(p *Principal) error {
		if p.SecondFactor.Enabled {
			return ErrTOTPAlreadyEnabled
		}
		p.SecondFactor.PendingSecret = sealed
		return nil
	}); err != nil {
		return nil, err
	}

	return &TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTOTPEnrollment enables the second factor once code matches the
// pending secret. It returns a fresh set of backup codes, shown only here.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, role Role, id, code string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	if p.SecondFactor.Enabled {
		return nil, ErrTOTPAlreadyEnabled
	}
	pending := p.SecondFactor.PendingSecret
	if pending == "" {
		return nil, ErrTOTPEnrollmentAbsent
	}
	if err := e.checkTOTPCode(ctx, p, pending, code); err != nil {
		return nil, err
	}

	plain, sealed, err := e.backupCodes.Generate(e.config.BackupCodes.Count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	if _, err := e.updateDurable(ctx, role, id, func(p *Principal) error {
		if p.SecondFactor.Enabled {
			return ErrTOTPAlreadyEnabled
		}
		if p.SecondFactor.PendingSecret != pending {
			return ErrTOTPEnrollmentAbsent
		}
		p.SecondFactor = SecondFactorState{
			Enabled:     true,
			Secret:      pending,
			BackupCodes: sealed,
		}
		return nil
	}); err != nil {
		return nil, err
	}

	e.invalidateSnapshot(ctx, role, id)
	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, audit.TOTPEnabled, true, role, id, nil, nil)
	return plain, nil
}

// DisableSecondFactor turns the second factor off after a valid TOTP code and
// drops the secret and every backup code. Pending tickets issued while it
// was on no longer confirm.
func (e *Engine) DisableSecondFactor(ctx context.Context, role Role, id, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return err
	}
	if !p.SecondFactor.Enabled {
		return ErrTOTPNotConfigured
	}
	if err := e.checkTOTPCode(ctx, p, p.SecondFactor.Secret, code); err != nil {
		e.emitAudit(ctx, audit.TOTPDisabled, false, role, id, err, nil)
		return err
	}
	if _, err := e.updateDurable(ctx, role, id, func(p *Principal) error {
		p.SecondFactor = SecondFactorState{}
		return nil
	}); err != nil {
		return err
	}

	e.invalidateSnapshot(ctx, role, id)
	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, audit.TOTPDisabled, true, role, id, nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the whole backup code set after a valid
// TOTP code.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, role Role, id, code string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	if !p.SecondFactor.Enabled {
		return nil, ErrTOTPNotConfigured
	}
	if err := e.checkTOTPCode(ctx, p, p.SecondFactor.Secret, code); err != nil {
		return nil, err
	}

	plain, sealed, err := e.backupCodes.Generate(e.config.BackupCodes.Count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailure, err)
	}
	if _, err := e.updateDurable(ctx, role, id, func(p *Principal) error {
		if !p.SecondFactor.Enabled {
			return ErrTOTPNotConfigured
		}
		p.SecondFactor.BackupCodes = sealed
		return nil
	}); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, audit.BackupCodesGenerated, true, role, id, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(plain))}
	})
	return plain, nil
}
