package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	SignInSuccess         = "sign_in_success"
	SignInFailure         = "sign_in_failure"
	SignInRateLimited     = "sign_in_rate_limited"
	MFARequired           = "mfa_required"
	MFASuccess            = "mfa_success"
	MFAFailure            = "mfa_failure"
	MFAAttemptsExceeded   = "mfa_attempts_exceeded"
	BackupCodeUsed        = "backup_code_used"
	BackupCodesGenerated  = "backup_codes_generated"
	TOTPEnabled           = "totp_enabled"
	TOTPDisabled          = "totp_disabled"
	RefreshSuccess        = "refresh_success"
	RefreshRejected       = "refresh_rejected"
	SessionRevoked        = "session_revoked"
	SessionsRevokedOthers = "sessions_revoked_others"
	SecurityReset         = "security_reset"
	PasskeyRegistered     = "passkey_registered"
	PasskeyRemoved        = "passkey_removed"
	PasskeyLogin          = "passkey_login"
	PasskeyReplay         = "passkey_replay"
	IdentityLinked        = "identity_linked"
	DurableDrift          = "session_durable_drift"
)

// Event is one security-relevant occurrence.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	Role        string            `json:"role,omitempty"`
	PrincipalID string            `json:"principal_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// SlogSink records events through a structured logger at info level, or warn
// for failures.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, event Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("event", event.EventType),
		slog.String("role", event.Role),
		slog.String("principal_id", event.PrincipalID),
		slog.Bool("success", event.Success),
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(ctx, level, "audit", attrs...)
}
