package courierAuth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/MrEthical07/courierAuth/cookie"
	"github.com/MrEthical07/courierAuth/internal/sealer"
	"github.com/MrEthical07/courierAuth/passkey"
	"github.com/caarlos0/env/v11"
)

// Config defines every tunable of the engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	// MasterKey seeds every derived subkey (token hashing, ticket sealing,
	// TOTP secret and backup-code encryption). At least 32 bytes.
	MasterKey     Base64Bytes         `env:"MASTER_KEY"`
	JWT           JWTConfig           `envPrefix:"JWT_"`
	Session       SessionConfig       `envPrefix:"SESSION_"`
	Durable       DurableConfig       `envPrefix:"DURABLE_"`
	DeviceBinding DeviceBindingConfig `envPrefix:"DEVICE_BINDING_"`
	Ticket        TicketConfig        `envPrefix:"MFA_TICKET_"`
	TOTP          TOTPConfig          `envPrefix:"TOTP_"`
	BackupCodes   BackupCodeConfig    `envPrefix:"BACKUP_CODES_"`
	Passkey       passkey.Config      `envPrefix:"PASSKEY_"`
	Password      PasswordConfig      `envPrefix:"PASSWORD_"`
	RateLimit     RateLimitConfig     `envPrefix:"RATE_LIMIT_"`
	Cookie        CookieConfig        `envPrefix:"COOKIE_"`
	Audit         AuditConfig         `envPrefix:"AUDIT_"`
	Metrics       MetricsConfig       `envPrefix:"METRICS_"`
}

// Base64Bytes is key material configured as standard base64 text.
type Base64Bytes []byte

// UnmarshalText decodes standard (padded) base64.
func (b *Base64Bytes) UnmarshalText(text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("decoding base64 key material: %w", err)
	}
	*b = raw
	return nil
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls the token triple.
type JWTConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"`
	ProtectTTL    time.Duration `env:"PROTECT_TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "ed25519" (default) or "hs256"
	PrivateKey    Base64Bytes   `env:"PRIVATE_KEY"`
	PublicKey     Base64Bytes   `env:"PUBLIC_KEY"`
	KeyID         string        `env:"KEY_ID"`
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	Leeway        time.Duration `env:"LEEWAY"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the ephemeral index and the durable session ledger.
type SessionConfig struct {
	RedisPrefix       string        `env:"REDIS_PREFIX"`
	MaxDurableRecords int           `env:"MAX_DURABLE_RECORDS"`
	ResetLockTTL      time.Duration `env:"RESET_LOCK_TTL"`
}

// DurableConfig bounds the retry of durable session writes that follow a
// successful ephemeral write.
type DurableConfig struct {
	MaxRetries      uint          `env:"MAX_RETRIES"`
	InitialInterval time.Duration `env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `env:"MAX_INTERVAL"`
}

// DeviceBindingConfig controls the token binding check applied on refresh.
type DeviceBindingConfig struct {
	Enabled   bool `env:"ENABLED"`
	EnforceIP bool `env:"ENFORCE_IP"`
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// PendingTicketTTL is the fixed lifetime of a pending second-factor ticket
// and of the cookie that carries it.
const PendingTicketTTL = 5 * time.Minute

// TicketConfig controls the pending second-factor ticket.
type TicketConfig struct {
	MaxAttempts int    `env:"MAX_ATTEMPTS"`
	RedisPrefix string `env:"REDIS_PREFIX"`
}

// TOTPConfig controls TOTP enrollment and verification.
type TOTPConfig struct {
	Issuer string `env:"ISSUER"`
	Period uint   `env:"PERIOD"`
	Skew   uint   `env:"SKEW"`
	// EnforceReplayProtection rejects a second use of the same code within
	// its validity window.
	EnforceReplayProtection bool   `env:"ENFORCE_REPLAY_PROTECTION"`
	RedisPrefix             string `env:"REDIS_PREFIX"`
}

// BackupCodeConfig sizes generated backup-code sets.
type BackupCodeConfig struct {
	Count  int `env:"COUNT"`
	Length int `env:"LENGTH"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig sets Argon2id parameters for new hashes.
type PasswordConfig struct {
	Memory          uint32 `env:"MEMORY"`
	Time            uint32 `env:"TIME"`
	Parallelism     uint8  `env:"PARALLELISM"`
	SaltLength      uint32 `env:"SALT_LENGTH"`
	KeyLength       uint32 `env:"KEY_LENGTH"`
	UpgradeOnSignIn bool   `env:"UPGRADE_ON_SIGN_IN"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls sign-in and refresh throttling.
type RateLimitConfig struct {
	EnableIPThrottle      bool          `env:"ENABLE_IP_THROTTLE"`
	EnableRefreshThrottle bool          `env:"ENABLE_REFRESH_THROTTLE"`
	MaxSignInAttempts     int           `env:"MAX_SIGN_IN_ATTEMPTS"`
	SignInCooldown        time.Duration `env:"SIGN_IN_COOLDOWN"`
	MaxRefreshAttempts    int           `env:"MAX_REFRESH_ATTEMPTS"`
	RefreshCooldown       time.Duration `env:"REFRESH_COOLDOWN"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the transport policy of issued cookies.
type CookieConfig struct {
	Domain   string `env:"DOMAIN"`
	Path     string `env:"PATH"`
	Prefix   string `env:"PREFIX"`
	Insecure bool   `env:"INSECURE"`
	SameSite string `env:"SAME_SITE"` // "none" (default), "lax" or "strict"
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled     bool          `env:"ENABLED"`
	BufferSize  int           `env:"BUFFER_SIZE"`
	DropIfFull  bool          `env:"DROP_IF_FULL"`
	SinkTimeout time.Duration `env:"SINK_TIMEOUT"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the platform defaults. MasterKey and the JWT keys
// are left empty and must be provided.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    72 * time.Hour,
			ProtectTTL:    72 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "courierauth",
		},
		Session: SessionConfig{
			RedisPrefix:       "cs",
			MaxDurableRecords: 50,
			ResetLockTTL:      30 * time.Second,
		},
		Durable: DurableConfig{
			MaxRetries:      3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
		},
		DeviceBinding: DeviceBindingConfig{
			Enabled:   true,
			EnforceIP: false,
		},
		Ticket: TicketConfig{
			MaxAttempts: 5,
			RedisPrefix: "cmt",
		},
		TOTP: TOTPConfig{
			Issuer:                  "Courier",
			Period:                  30,
			Skew:                    1,
			EnforceReplayProtection: true,
			RedisPrefix:             "ctu",
		},
		BackupCodes: BackupCodeConfig{
			Count:  16,
			Length: 12,
		},
		Passkey: passkey.Config{
			RPDisplayName: "Courier",
			RPID:          "localhost",
		},
		Password: PasswordConfig{
			Memory:          65536,
			Time:            3,
			Parallelism:     2,
			SaltLength:      16,
			KeyLength:       32,
			UpgradeOnSignIn: true,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:      true,
			EnableRefreshThrottle: true,
			MaxSignInAttempts:     5,
			SignInCooldown:        15 * time.Minute,
			MaxRefreshAttempts:    20,
			RefreshCooldown:       time.Minute,
		},
		Cookie: CookieConfig{
			Path:     "/",
			SameSite: "none",
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// LoadConfigFromEnv overlays environment variables named prefix+FIELD on the
// defaults, e.g. COURIER_JWT_ACCESS_TTL=15m or COURIER_MASTER_KEY=<base64>.
// The result is not validated; Build does that.
func LoadConfigFromEnv(prefix string) (Config, error) {
	cfg := defaultConfig()
	err := env.ParseWithOptions(&cfg, env.Options{
		Prefix: prefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(Base64Bytes(nil)): func(v string) (interface{}, error) {
				var b Base64Bytes
				if err := b.UnmarshalText([]byte(v)); err != nil {
					return nil, err
				}
				return b, nil
			},
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("loading config from env: %w", err)
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.MasterKey = cloneBytes(cfg.MasterKey)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Passkey.RPOrigins = append([]string(nil), cfg.Passkey.RPOrigins...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// CookiePolicy derives the transport policy from the cookie and JWT sections.
func (c *Config) CookiePolicy() cookie.Policy {
	p := cookie.DefaultPolicy(c.Cookie.Domain)
	p.Path = c.Cookie.Path
	p.Prefix = c.Cookie.Prefix
	p.Secure = !c.Cookie.Insecure
	p.SameSite = parseSameSite(c.Cookie.SameSite)
	p.AccessTTL = c.JWT.AccessTTL
	p.RefreshTTL = c.JWT.RefreshTTL
	p.ProtectTTL = c.JWT.ProtectTTL
	p.PendingTTL = PendingTicketTTL
	return p
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteNoneMode
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if len(c.MasterKey) < sealer.MinMasterLength {
		return errors.New("MasterKey must be at least 32 bytes")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.ProtectTTL <= 0 {
		return errors.New("JWT TTLs must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.MaxDurableRecords <= 0 {
		return errors.New("Session MaxDurableRecords must be > 0")
	}
	if c.Session.ResetLockTTL <= 0 {
		return errors.New("Session ResetLockTTL must be > 0")
	}
	if c.Durable.InitialInterval <= 0 {
		return errors.New("Durable InitialInterval must be > 0")
	}
	if c.Durable.MaxInterval < c.Durable.InitialInterval {
		return errors.New("Durable MaxInterval must be >= InitialInterval")
	}

	// Second factor
	if c.Ticket.MaxAttempts <= 0 {
		return errors.New("Ticket MaxAttempts must be > 0")
	}
	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 32 {
		return errors.New("BackupCodes Count must be in [1, 32]")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length > 24 || c.BackupCodes.Length%4 != 0 {
		return errors.New("BackupCodes Length must be a multiple of 4 in [8, 24]")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Rate limits
	if c.RateLimit.MaxSignInAttempts <= 0 || c.RateLimit.SignInCooldown <= 0 {
		return errors.New("RateLimit sign-in attempts and cooldown must be > 0")
	}
	if c.RateLimit.EnableRefreshThrottle && (c.RateLimit.MaxRefreshAttempts <= 0 || c.RateLimit.RefreshCooldown <= 0) {
		return errors.New("RateLimit refresh attempts and cooldown must be > 0 when refresh throttle is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}
