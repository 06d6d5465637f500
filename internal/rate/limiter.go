package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxSignInAttempts       int
	SignInCooldown          time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// Limiter enforces per-account and per-IP limits for sign-in and a
// per-principal limit for refresh.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func signInAccountKey(role, email string) string { return "rsi:" + role + ":" + email }
func signInIPKey(role, ip string) string         { return "rsp:" + role + ":" + ip }
func refreshKey(role, id string) string          { return "rrf:" + role + ":" + id }

// CheckSignIn returns ErrRateLimited once either counter is over budget.
// It does not count the attempt itself.
func (l *Limiter) CheckSignIn(ctx context.Context, role, email, ip string) error {
	if err := l.checkCounter(ctx, signInAccountKey(role, email), l.config.MaxSignInAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, signInIPKey(role, ip), l.config.MaxSignInAttempts); err != nil {
			return err
		}
	}
	return nil
}

// RecordSignInFailure counts one failed attempt.
func (l *Limiter) RecordSignInFailure(ctx context.Context, role, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, signInAccountKey(role, email), l.config.SignInCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSignInAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, signInIPKey(role, ip), l.config.SignInCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxSignInAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetSignIn clears the account counter after a successful sign-in. The IP
// counter is left to expire so one good account cannot unlock a sprayed IP.
func (l *Limiter) ResetSignIn(ctx context.Context, role, email string) error {
	if err := l.redis.Del(ctx, signInAccountKey(role, email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SignInAttempts returns the current failure count for an account.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) SignInAttempts(ctx context.Context, role, email string) (int, error) {
	count, err := l.redis.Get(ctx, signInAccountKey(role, email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// CheckRefresh counts one refresh and fails once the window budget is spent.
func (l *Limiter) CheckRefresh(ctx context.Context, role, principalID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(role, principalID), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL is set only on the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
