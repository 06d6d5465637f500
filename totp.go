package courierAuth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const totpDigits = 6

type totpManager struct {
	config TOTPConfig
	redis  redis.UniversalClient
}

func newTOTPManager(cfg TOTPConfig, redisClient redis.UniversalClient) *totpManager {
	return &totpManager{
		config: cfg,
		redis:  redisClient,
	}
}

func (m *totpManager) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Generate creates a fresh secret for accountName.
func (m *totpManager) Generate(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      m.config.Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp secret: %w", err)
	}
	return key, nil
}

// normalizeTOTPCode strips spaces and reports whether the rest is a
// well-formed six-digit code.
func normalizeTOTPCode(code string) (string, bool) {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != totpDigits {
		return "", false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return code, true
}

// Match returns the time step code belongs to within the skew window, or
// ok=false when no step matches.
func (m *totpManager) Match(secret, code string, now time.Time) (step int64, ok bool, err error) {
	period := int64(m.config.Period)
	base := now.Unix() / period
	skew := int64(m.config.Skew)
	for s := base - skew; s <= base+skew; s++ {
		if s < 0 {
			continue
		}
		generated, err := totp.GenerateCodeCustom(secret, time.Unix(s*period, 0), m.opts())
		if err != nil {
			return 0, false, fmt.Errorf("generating totp code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 {
			return s, true, nil
		}
	}
	return 0, false, nil
}

func (m *totpManager) usedKey(role Role, principalID string, step int64) string {
	return m.config.RedisPrefix + ":" + string(role) + ":" + principalID + ":" + strconv.FormatInt(step, 10)
}

// MarkUsed records step as consumed for the principal. It reports false when
// the step was already used.
func (m *totpManager) MarkUsed(ctx context.Context, role Role, principalID string, step int64) (bool, error) {
	window := time.Duration(2*m.config.Skew+1) * time.Duration(m.config.Period) * time.Second
	ok, err := m.redis.SetNX(ctx, m.usedKey(role, principalID, step), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}
