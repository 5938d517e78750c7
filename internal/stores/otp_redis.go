package stores

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// issueOTPLua enforces the cooldown and replaces the challenge in one step.
// KEYS[1] = challenge key
// KEYS[2] = cooldown marker key
// ARGV[1] = code hash (32 bytes)
// ARGV[2] = now (unix ms)
// ARGV[3] = expires at (unix ms)
// ARGV[4] = cooldown (ms)
// ARGV[5] = challenge key TTL (ms)
var issueOTPLua = redis.NewScript(`
local now = tonumber(ARGV[2])
local cooldown = tonumber(ARGV[4])
if cooldown > 0 then
  local last = redis.call('GET', KEYS[2])
  if last and now - tonumber(last) < cooldown then
    return {err='rate_limited'}
  end
  redis.call('SET', KEYS[2], ARGV[2], 'PX', cooldown)
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'h', ARGV[1], 'exp', ARGV[3], 'att', '0', 'iat', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 'ok'
`)

// reserveOTPLua runs the expiry and exhaustion checks, counts the attempt and
// hands the stored hash back for a constant-time comparison in Go.
// KEYS[1] = challenge key
// ARGV[1] = now (unix ms)
// ARGV[2] = max attempts
//
// Returns {hash, issuedAt} or an error string: "not_found", "expired",
// "attempts_exceeded".
var reserveOTPLua = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'h', 'exp', 'att', 'iat')
if not rec[1] then
  return {err='not_found'}
end
if tonumber(ARGV[1]) > tonumber(rec[2]) then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end
if tonumber(rec[3]) >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return {err='attempts_exceeded'}
end
redis.call('HINCRBY', KEYS[1], 'att', 1)
return {rec[1], rec[4]}
`)

// claimOTPLua deletes the challenge only if it is still the one that was
// reserved. Of two concurrent correct submissions exactly one gets 1.
// KEYS[1] = challenge key
// ARGV[1] = code hash
// ARGV[2] = issued at (unix ms)
var claimOTPLua = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'h', 'iat')
if rec[1] == ARGV[1] and rec[2] == ARGV[2] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// RedisOTPLedger is the shared [OTPLedger] for multi-instance deployments.
type RedisOTPLedger struct {
	redis  redis.UniversalClient
	prefix string
	policy OTPPolicy
}

// NewRedisOTPLedger stores challenges under prefix in redisClient.
func NewRedisOTPLedger(redisClient redis.UniversalClient, prefix string, policy OTPPolicy) *RedisOTPLedger {
	if prefix == "" {
		prefix = "docauth"
	}
	return &RedisOTPLedger{
		redis:  redisClient,
		prefix: prefix,
		policy: policy,
	}
}

// Both keys share a hash tag so the scripts stay valid on a cluster.
func (l *RedisOTPLedger) keys(email string) (challenge, cooldown string) {
	tag := "{" + email + "}"
	return l.prefix + ":otp:" + tag, l.prefix + ":otpcd:" + tag
}

func (l *RedisOTPLedger) Issue(ctx context.Context, email string, codeHash [32]byte, now time.Time) error {
	challengeKey, cooldownKey := l.keys(email)
	expiresAt := now.Add(l.policy.TTL)

	err := issueOTPLua.Run(ctx, l.redis,
		[]string{challengeKey, cooldownKey},
		string(codeHash[:]),
		now.UnixMilli(),
		expiresAt.UnixMilli(),
		l.policy.Cooldown.Milliseconds(),
		(l.policy.TTL + expiryGrace).Milliseconds(),
	).Err()
	if err != nil {
		return mapScriptError(err)
	}
	return nil
}

func (l *RedisOTPLedger) Verify(ctx context.Context, email string, codeHash [32]byte, now time.Time) error {
	challengeKey, _ := l.keys(email)

	result, err := reserveOTPLua.Run(ctx, l.redis,
		[]string{challengeKey},
		now.UnixMilli(),
		l.policy.MaxAttempts,
	).Slice()
	if err != nil {
		return mapScriptError(err)
	}
	if len(result) != 2 {
		return fmt.Errorf("%w: unexpected lua result length %d", ErrRedisUnavailable, len(result))
	}

	stored, ok1 := result[0].(string)
	issuedAt, ok2 := result[1].(string)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: unexpected lua result type", ErrRedisUnavailable)
	}

	if subtle.ConstantTimeCompare([]byte(stored), codeHash[:]) != 1 {
		return ErrInvalidCode
	}

	claimed, err := claimOTPLua.Run(ctx, l.redis,
		[]string{challengeKey},
		stored,
		issuedAt,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if claimed != 1 {
		return ErrNotFound
	}
	return nil
}

func (l *RedisOTPLedger) Discard(ctx context.Context, email string) error {
	challengeKey, cooldownKey := l.keys(email)
	if err := l.redis.Del(ctx, challengeKey, cooldownKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func mapScriptError(err error) error {
	switch strings.TrimPrefix(err.Error(), "ERR ") {
	case "not_found":
		return ErrNotFound
	case "expired":
		return ErrExpired
	case "attempts_exceeded":
		return ErrTooManyAttempts
	case "mismatch":
		return ErrMismatch
	case "rate_limited":
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
}
