package courierAuth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/courierAuth/backupcode"
	"github.com/MrEthical07/courierAuth/internal/audit"
	"github.com/MrEthical07/courierAuth/internal/rate"
	"github.com/MrEthical07/courierAuth/internal/sealer"
	"github.com/MrEthical07/courierAuth/internal/stores"
	"github.com/MrEthical07/courierAuth/jwt"
	"github.com/MrEthical07/courierAuth/passkey"
	"github.com/MrEthical07/courierAuth/password"
	"github.com/MrEthical07/courierAuth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals      map[Role]PrincipalStore
	passkeyStore    PasskeyStore
	passkeyProvider passkey.Provider
	passkeyParser   passkey.Parser

	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config:     defaultConfig(),
		principals: make(map[Role]PrincipalStore),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the ephemeral store. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalStore registers the durable store serving role. Every role the
// engine accepts must be registered.
func (b *Builder) WithPrincipalStore(role Role, store PrincipalStore) *Builder {
	b.principals[role] = store
	return b
}

// WithPasskeyStore enables the passkey ceremonies.
func (b *Builder) WithPasskeyStore(store PasskeyStore) *Builder {
	b.passkeyStore = store
	return b
}

// WithPasskeyProvider overrides the relying party built from Config.Passkey.
func (b *Builder) WithPasskeyProvider(p passkey.Provider) *Builder {
	b.passkeyProvider = p
	return b
}

func (b *Builder) WithPasskeyParser(p passkey.Parser) *Builder {
	b.passkeyParser = p
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if len(b.principals) == 0 {
		return nil, errors.New("at least one principal store must be registered")
	}
	for role, store := range b.principals {
		if role == "" || store == nil {
			return nil, errors.New("principal store registrations need a role and a store")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		redis:        b.redis,
		principals:   make(map[Role]PrincipalStore, len(b.principals)),
		passkeyStore: b.passkeyStore,
		cookies:      cfg.CookiePolicy(),
		now:          time.Now,
	}
	for role, store := range b.principals {
		engine.principals[role] = store
	}

	// -------- KEYS --------
	var err error
	if engine.tokenHasher, err = sealer.NewHasher(cfg.MasterKey, "token-linkage"); err != nil {
		return nil, err
	}
	if engine.deviceHasher, err = sealer.NewHasher(cfg.MasterKey, "device-binding"); err != nil {
		return nil, err
	}
	if engine.proofHasher, err = sealer.NewHasher(cfg.MasterKey, "ticket-proof"); err != nil {
		return nil, err
	}
	if engine.ticketSealer, err = sealer.New(cfg.MasterKey, "mfa-ticket"); err != nil {
		return nil, err
	}
	if engine.secretSealer, err = sealer.New(cfg.MasterKey, "totp-secret"); err != nil {
		return nil, err
	}
	codeSealer, err := sealer.New(cfg.MasterKey, "backup-code")
	if err != nil {
		return nil, err
	}
	engine.backupCodes = backupcode.NewVault(codeSealer, cfg.BackupCodes.Length)

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		ProtectTTL:    cfg.JWT.ProtectTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		KeyID:         cfg.JWT.KeyID,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	// -------- EPHEMERAL STORES --------
	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.tickets = stores.NewTicketStore(b.redis, cfg.Ticket.RedisPrefix)
	engine.limiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:        cfg.RateLimit.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.RateLimit.EnableRefreshThrottle,
		MaxSignInAttempts:       cfg.RateLimit.MaxSignInAttempts,
		SignInCooldown:          cfg.RateLimit.SignInCooldown,
		MaxRefreshAttempts:      cfg.RateLimit.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.RateLimit.RefreshCooldown,
	})
	engine.totp = newTOTPManager(cfg.TOTP, b.redis)

	// -------- PASSWORDS --------
	ph, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwords = ph

	// -------- PASSKEYS --------
	if b.passkeyStore != nil {
		provider := b.passkeyProvider
		if provider == nil {
			rp, err := passkey.NewProvider(cfg.Passkey)
			if err != nil {
				return nil, fmt.Errorf("passkey relying party: %w", err)
			}
			provider = rp
		}
		engine.passkeys = passkey.NewCeremonies(
			cfg.Passkey,
			provider,
			b.passkeyParser,
			passkey.NewChallengeStore(b.redis, ""),
			b.passkeyStore,
		)
	}

	// -------- OBSERVABILITY --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.SlogSink{Logger: logger}
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
		OnDrop: func(event audit.Event, dropped uint64) {
			// Logged at 1, 2, 4, 8... drops so a stalled sink cannot flood the log.
			if dropped&(dropped-1) == 0 {
				logger.Warn("audit event dropped", "event", event.EventType, "dropped_total", dropped)
			}
		},
	}, sink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return engine, nil
}
