// Package ratelimit throttles reservation writes per caller with a token
// bucket kept in Redis, so every server process shares the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills in whole intervals and returns {allowed, tokens, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// Config sizes the bucket.
type Config struct {
	// Capacity is the burst size and the number of writes allowed per Period.
	Capacity int
	// Period is the time to refill an empty bucket.
	Period time.Duration
	Prefix string
}

// Normalize fills defaults: 60 writes per minute under the "rl" prefix.
func (c Config) Normalize() Config {
	if c.Capacity < 1 {
		c.Capacity = 60
	}
	if c.Period <= 0 {
		c.Period = time.Minute
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "rl"
	}
	return c
}

// refillInterval is the time between single-token refills.
func (c Config) refillInterval() time.Duration {
	interval := c.Period / time.Duration(c.Capacity)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// ttl keeps idle buckets long enough to refill completely.
func (c Config) ttl() time.Duration {
	ttl := 2 * c.Period
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	RetryAfter time.Duration
}

// RedisLimiter is a token bucket evaluated atomically by a Lua script.
type RedisLimiter struct {
	client redis.Scripter
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter returns a limiter backed by client.
func NewRedisLimiter(client redis.Scripter, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg.Normalize(), now: time.Now}
}

// Limit returns the bucket capacity.
func (l *RedisLimiter) Limit() int {
	return l.cfg.Capacity
}

// Allow takes one token from the bucket identified by key. Errors mean the
// limiter could not decide; callers are expected to let the request through.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil || l.client == nil {
		return Decision{}, fmt.Errorf("RedisLimiter is nil")
	}

	args := []any{
		l.now().UnixMilli(),
		l.cfg.Capacity,
		1,
		l.cfg.refillInterval().Milliseconds(),
		int64(l.cfg.ttl() / time.Second),
	}
	raw, err := tokenBucket.Run(ctx, l.client, []string{l.key(key)}, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket result %#v", raw)
	}
	return Decision{
		Allowed:    asInt64(values[0]) == 1,
		Limit:      l.cfg.Capacity,
		Remaining:  asInt64(values[1]),
		RetryAfter: time.Duration(asInt64(values[2])) * time.Millisecond,
	}, nil
}

func (l *RedisLimiter) key(key string) string {
	return l.cfg.Prefix + ":" + key
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
