package stores

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeVerificationLua atomically validates and deletes a verification record.
// KEYS[1] = record key
// ARGV[1] = expected email
// ARGV[2] = now (unix ms)
var consumeVerificationLua = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'email', 'exp')
if not rec[1] then
  return {err='not_found'}
end
if tonumber(ARGV[2]) > tonumber(rec[2]) then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end
if rec[1] ~= ARGV[1] then
  return {err='mismatch'}
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisVerificationLedger is the shared [VerificationLedger].
type RedisVerificationLedger struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisVerificationLedger stores token records under prefix in redisClient.
func NewRedisVerificationLedger(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *RedisVerificationLedger {
	if prefix == "" {
		prefix = "docauth"
	}
	return &RedisVerificationLedger{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (l *RedisVerificationLedger) key(tokenHash [32]byte) string {
	return l.prefix + ":vt:" + hex.EncodeToString(tokenHash[:])
}

func (l *RedisVerificationLedger) Issue(ctx context.Context, tokenHash [32]byte, email string, now time.Time) error {
	key := l.key(tokenHash)
	expiresAt := now.Add(l.ttl)

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "email", email, "exp", expiresAt.UnixMilli())
		pipe.PExpire(ctx, key, l.ttl+expiryGrace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *RedisVerificationLedger) Consume(ctx context.Context, tokenHash [32]byte, email string, now time.Time) error {
	err := consumeVerificationLua.Run(ctx, l.redis,
		[]string{l.key(tokenHash)},
		email,
		now.UnixMilli(),
	).Err()
	if err != nil {
		return mapScriptError(err)
	}
	return nil
}
