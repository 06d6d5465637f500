package courierAuth

import (
	"time"

	"github.com/MrEthical07/courierAuth/cookie"
)

// SecurityReport summarizes the effective security posture of an engine.
type SecurityReport struct {
	Roles                []Role
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ProtectTTL           time.Duration
	Argon2               PasswordConfigReport
	TicketTTL            time.Duration
	TicketMaxAttempts    int
	TOTPReplayProtection bool
	BackupCodeCount      int
	DeviceBindingEnabled bool
	DeviceBindingIP      bool
	PasskeysEnabled      bool
	SignInThrottleActive bool
	RefreshThrottle      bool
	SecureCookies        bool
	AuditEnabled         bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		Roles:            e.Roles(),
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		ProtectTTL:       e.config.JWT.ProtectTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		TicketTTL:            PendingTicketTTL,
		TicketMaxAttempts:    e.config.Ticket.MaxAttempts,
		TOTPReplayProtection: e.config.TOTP.EnforceReplayProtection,
		BackupCodeCount:      e.config.BackupCodes.Count,
		DeviceBindingEnabled: e.config.DeviceBinding.Enabled,
		DeviceBindingIP:      e.config.DeviceBinding.Enabled && e.config.DeviceBinding.EnforceIP,
		PasskeysEnabled:      e.passkeys != nil,
		SignInThrottleActive: e.config.RateLimit.MaxSignInAttempts > 0 && e.config.RateLimit.SignInCooldown > 0,
		RefreshThrottle:      e.config.RateLimit.EnableRefreshThrottle,
		SecureCookies:        e.cookies.Cookie(cookie.KindAccess, "", "", false).Secure,
		AuditEnabled:         e.audit != nil,
	}
}
