package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLimiter shares a fixed window across processes through redis INCR
// with an expiry set on the window's first request. Redis failures fail
// open: an unavailable limiter must not take the pipeline down with it.
type RedisLimiter struct {
	rdb       *redis.Client
	keyPrefix string
	limit     int
	window    time.Duration
	log       *zap.Logger
}

func NewRedisLimiter(rdb *redis.Client, keyPrefix string, limit int, window time.Duration, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, keyPrefix: keyPrefix, limit: limit, window: window, log: log}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.keyPrefix + ":" + key

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		l.log.Warn("rate limiter unavailable, failing open", zap.Error(err))
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: time.Now().Add(l.window)}, nil
	}
	if count == 1 {
		l.rdb.Expire(ctx, redisKey, l.window)
	}

	ttl, err := l.rdb.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	resetAt := time.Now().Add(ttl)

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
