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
	Prefix           string
	EnableIPThrottle bool
	MaxFailures      int
	Window           time.Duration
}

// Limiter counts failed logins per identity and, optionally, per client IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "docauth"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited when the identity or IP has exhausted its
// failure budget for the current window. It does not count an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, identity, ip string) error {
	if err := l.checkCounter(ctx, l.identityKey(identity)); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

// RecordFailure counts one failed login for the identity+IP pair.
func (l *Limiter) RecordFailure(ctx context.Context, identity, ip string) error {
	if _, err := l.incrementWithTTL(ctx, l.identityKey(identity)); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.incrementWithTTL(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

// Reset clears the identity counter after a successful login or a password
// reset. The IP counter is left alone so one good account cannot launder an
// attacker's address.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := l.redis.Del(ctx, l.identityKey(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the current failure count for an identity.
// Missing keys return zero.
func (l *Limiter) Failures(ctx context.Context, identity string) (int, error) {
	count, err := l.redis.Get(ctx, l.identityKey(identity)).Int64()
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

func (l *Limiter) identityKey(identity string) string {
	return l.config.Prefix + ":ll:" + identity
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":lli:" + ip
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxFailures) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
