package courierAuth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/courierAuth/internal/audit"
)

// Audit types are defined in internal/audit and re-exported for sinks.
type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
)

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink writing events through logger.
func NewSlogSink(logger *slog.Logger) SlogSink {
	return SlogSink{Logger: logger}
}

// AuditErrorCode is the stable error label carried in audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUnverified         AuditErrorCode = "account_unverified"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrBindingRejected    AuditErrorCode = "device_binding_rejected"
	auditErrSessionStale       AuditErrorCode = "session_stale"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrTicketExpired      AuditErrorCode = "mfa_ticket_expired"
	auditErrTicketInvalid      AuditErrorCode = "mfa_ticket_invalid"
	auditErrMFAReplay          AuditErrorCode = "mfa_replay"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrTOTPInvalid        AuditErrorCode = "totp_invalid"
	auditErrBackupCodeInvalid  AuditErrorCode = "backup_code_invalid"
	auditErrMalformed          AuditErrorCode = "malformed"
	auditErrPasskeyFailed      AuditErrorCode = "passkey_verification_failed"
	auditErrPasskeyReplay      AuditErrorCode = "passkey_replay"
	auditErrChallengeMissing   AuditErrorCode = "challenge_missing"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	role Role,
	principalID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		Role:        string(role),
		PrincipalID: principalID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountUnverified):
		return auditErrUnverified
	case errors.Is(err, ErrSignInRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDeviceBindingRejected):
		return auditErrBindingRejected
	case errors.Is(err, ErrSessionStale):
		return auditErrSessionStale
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrMFATicketExpired):
		return auditErrTicketExpired
	case errors.Is(err, ErrMFATicketInvalid):
		return auditErrTicketInvalid
	case errors.Is(err, ErrMFATicketReplay):
		return auditErrMFAReplay
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrBackupCodeInvalid):
		return auditErrBackupCodeInvalid
	case errors.Is(err, ErrTOTPMalformed),
		errors.Is(err, ErrBackupCodeMalformed),
		errors.Is(err, ErrPasskeyMalformed):
		return auditErrMalformed
	case errors.Is(err, ErrPasskeyVerification):
		return auditErrPasskeyFailed
	case errors.Is(err, ErrPasskeyReplay):
		return auditErrPasskeyReplay
	case errors.Is(err, ErrPasskeyChallengeNotFound):
		return auditErrChallengeMissing
	case errors.Is(err, ErrRedisUnavailable),
		errors.Is(err, ErrDurableStore):
		return auditErrUnavailable
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenInvalid):
		return auditErrUnauthorized
	default:
		return auditErrInternal
	}
}

// auditDurationMS formats d for event metadata.
func auditDurationMS(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
