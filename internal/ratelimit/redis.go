package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, counts what is left and records the
// call only when it is allowed. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter keeps the window in a sorted set per key so every server and
// worker instance shares one view.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.now().UnixMilli(),
		l.window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("evaluating rate limit for %s: %w", key, err)
	}
	return res == 1, nil
}
