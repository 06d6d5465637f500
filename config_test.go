package courierAuth

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test config valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "short master key",
			mutate: func(c *Config) {
				c.MasterKey = []byte("too-short")
			},
		},
		{
			name: "refresh shorter than access",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = time.Minute
				c.JWT.AccessTTL = time.Hour
			},
		},
		{
			name: "hs256 short key",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("short")
			},
		},
		{
			name: "ed25519 without keys",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
			},
		},
		{
			name: "unknown signing method",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
		},
		{
			name: "blank session prefix",
			mutate: func(c *Config) {
				c.Session.RedisPrefix = "  "
			},
		},
		{
			name: "durable max below initial",
			mutate: func(c *Config) {
				c.Durable.InitialInterval = time.Second
				c.Durable.MaxInterval = time.Millisecond
			},
		},
		{
			name: "ticket attempts zero",
			mutate: func(c *Config) {
				c.Ticket.MaxAttempts = 0
			},
		},
		{
			name: "totp skew too wide",
			mutate: func(c *Config) {
				c.TOTP.Skew = 3
			},
		},
		{
			name: "backup code length not grouped",
			mutate: func(c *Config) {
				c.BackupCodes.Length = 10
			},
		},
		{
			name: "backup code count above limit",
			mutate: func(c *Config) {
				c.BackupCodes.Count = 33
			},
		},
		{
			name: "argon2 memory too low",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
		},
		{
			name: "refresh throttle without budget",
			mutate: func(c *Config) {
				c.RateLimit.MaxRefreshAttempts = 0
			},
		},
		{
			name: "refresh throttle off ignores budget",
			mutate: func(c *Config) {
				c.RateLimit.EnableRefreshThrottle = false
				c.RateLimit.MaxRefreshAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.BufferSize = 0
			},
		},
		{
			name: "negative audit sink timeout",
			mutate: func(c *Config) {
				c.Audit.SinkTimeout = -time.Second
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected defaults without key material to be rejected")
	}
	if cfg.Ticket.MaxAttempts != 5 {
		t.Fatalf("unexpected ticket defaults: %+v", cfg.Ticket)
	}
	if cfg.JWT.AccessTTL != 30*time.Minute || cfg.JWT.RefreshTTL != 72*time.Hour {
		t.Fatalf("unexpected token lifetimes: %+v", cfg.JWT)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	master := []byte("courier-env-master-key-0123456789abcdefgh")
	t.Setenv("COURIER_MASTER_KEY", base64.StdEncoding.EncodeToString(master))
	t.Setenv("COURIER_JWT_ACCESS_TTL", "15m")
	t.Setenv("COURIER_JWT_SIGNING_METHOD", "hs256")
	t.Setenv("COURIER_JWT_PRIVATE_KEY", base64.StdEncoding.EncodeToString([]byte("courier-env-hs256-key-0123456789abcdef")))
	t.Setenv("COURIER_MFA_TICKET_MAX_ATTEMPTS", "3")
	t.Setenv("COURIER_PASSKEY_RP_ID", "courier.example")
	t.Setenv("COURIER_PASSKEY_RP_ORIGINS", "https://courier.example,https://ops.courier.example")
	t.Setenv("COURIER_COOKIE_SAME_SITE", "strict")

	cfg, err := LoadConfigFromEnv("COURIER_")
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if string(cfg.MasterKey) != string(master) {
		t.Fatal("expected master key decoded from base64")
	}
	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("expected access ttl 15m, got %v", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != 72*time.Hour {
		t.Fatalf("expected unset refresh ttl to keep its default, got %v", cfg.JWT.RefreshTTL)
	}
	if cfg.Ticket.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Ticket.MaxAttempts)
	}
	if cfg.Passkey.RPID != "courier.example" || len(cfg.Passkey.RPOrigins) != 2 {
		t.Fatalf("unexpected passkey config: %+v", cfg.Passkey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected env config to validate, got %v", err)
	}
	if got := cfg.CookiePolicy().SameSite; got != http.SameSiteStrictMode {
		t.Fatalf("expected strict same-site, got %v", got)
	}
}

func TestLoadConfigFromEnvRejectsBadKey(t *testing.T) {
	t.Setenv("COURIER_MASTER_KEY", "%%% not base64 %%%")
	if _, err := LoadConfigFromEnv("COURIER_"); err == nil {
		t.Fatal("expected malformed base64 to be rejected")
	}
}

func TestCookiePolicyFollowsTokenLifetimes(t *testing.T) {
	cfg := testConfig()
	cfg.Cookie.Insecure = true
	cfg.Cookie.Prefix = "__Host-"
	p := cfg.CookiePolicy()
	if p.Secure {
		t.Fatal("expected insecure cookies when configured")
	}
	if p.AccessTTL != cfg.JWT.AccessTTL || p.RefreshTTL != cfg.JWT.RefreshTTL || p.PendingTTL != PendingTicketTTL {
		t.Fatalf("cookie lifetimes drifted from token lifetimes: %+v", p)
	}
	if p.SameSite != http.SameSiteNoneMode {
		t.Fatalf("expected default same-site none, got %v", p.SameSite)
	}
}
