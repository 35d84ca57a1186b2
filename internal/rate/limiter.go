package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero maximum disables
// that throttle.
type Config struct {
	EnableIPThrottle bool

	MaxLoginAttempts int
	LoginWindow      time.Duration

	MaxResetRequests int
	ResetWindow      time.Duration

	MaxRegistrations   int
	RegistrationWindow time.Duration

	MaxResends   int
	ResendWindow time.Duration
}

// Limiter enforces per-identifier and per-IP budgets using Redis counters.
// A nil client yields a no-op limiter.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin checks whether the username+IP pair still has login budget
// without consuming any. Returns ErrRateLimited when exhausted.
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	if l.disabled() || l.config.MaxLoginAttempts <= 0 {
		return nil
	}

	if err := l.checkCounter(ctx, loginUserKey(username), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}
	return nil
}

// IncrementLogin records a failed login attempt for the username+IP pair.
func (l *Limiter) IncrementLogin(ctx context.Context, username, ip string) error {
	if l.disabled() || l.config.MaxLoginAttempts <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, loginUserKey(username), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears the failed-login counters for the username+IP pair.
// Called after successful login or password reset.
func (l *Limiter) ResetLogin(ctx context.Context, username, ip string) error {
	if l.disabled() || l.config.MaxLoginAttempts <= 0 {
		return nil
	}

	keys := []string{loginUserKey(username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AllowReset consumes one password-reset request for the email+IP pair.
// Both counters must stay within budget.
func (l *Limiter) AllowReset(ctx context.Context, email, ip string) error {
	if l.disabled() || l.config.MaxResetRequests <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, resetKey(email), l.config.ResetWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxResetRequests) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, resetKey(ip), l.config.ResetWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxResetRequests) {
			return ErrRateLimited
		}
	}
	return nil
}

// AllowRegister consumes one registration attempt for the IP.
func (l *Limiter) AllowRegister(ctx context.Context, ip string) error {
	if l.disabled() || l.config.MaxRegistrations <= 0 || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, registerKey(ip), l.config.RegistrationWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRegistrations) {
		return ErrRateLimited
	}
	return nil
}

// AllowResend consumes one verification-email resend for the identity.
func (l *Limiter) AllowResend(ctx context.Context, identityID string) error {
	if l.disabled() || l.config.MaxResends <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, resendKey(identityID), l.config.ResendWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxResends) {
		return ErrRateLimited
	}
	return nil
}

// LoginAttempts returns the current attempt counter for a username.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, username string) (int, error) {
	if l.disabled() {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, loginUserKey(username)).Int64()
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

func (l *Limiter) disabled() bool {
	return l == nil || l.redis == nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginUserKey(username string) string { return "rl:login:u:" + username }
func loginIPKey(ip string) string         { return "rl:login:ip:" + ip }
func resetKey(scope string) string        { return "rl:reset:" + scope }
func registerKey(ip string) string        { return "rl:reg:" + ip }
func resendKey(id string) string          { return "rl:resend:" + id }
