// Package ratelimit provides a Redis-backed sliding-window limiter that
// gates the chat endpoint per session id, independent of and prior to the
// per-conversation mutex the Agent Loop holds for the duration of a turn.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ba-agent-core/internal/config"
)

// Result reports the outcome of one Allow check.
type Result struct {
	Allowed    bool
	Count      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the sliding-window rate limiter gating chat turns.
type Limiter struct {
	client      *redis.Client
	script      *redis.Script
	keyPrefix   string
	maxRequests int
	window      time.Duration
}

// New builds a Limiter from config. A disabled config returns a Limiter
// whose Allow always succeeds without touching Redis, so callers do not
// need to special-case the disabled path.
func New(cfg config.RateLimitConfig) *Limiter {
	if !cfg.Enabled {
		return &Limiter{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return &Limiter{
		client:      client,
		script:      redis.NewScript(slidingWindowScript),
		keyPrefix:   "ba-agent:ratelimit:",
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
	}
}

// Allow checks and, if permitted, records one request against key (a
// session id or client IP). A nil/disabled Limiter always allows.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if l.client == nil {
		return Result{Allowed: true}, nil
	}

	fullKey := l.keyPrefix + key
	now := time.Now().UnixMilli()

	res, err := l.script.Run(ctx, l.client, []string{fullKey}, l.maxRequests, l.window.Milliseconds(), now).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script result shape")
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	remaining, _ := values[2].(int64)

	return Result{
		Allowed:   allowed == 1,
		Count:     int(count),
		Remaining: int(remaining),
	}, nil
}

// Close releases the underlying Redis connection.
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// slidingWindowScript is a trimmed form of the sliding-window check: it
// tracks one sorted set per key, evicting entries older than the window on
// every call.
const slidingWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local current = redis.call('ZCARD', key)

local allowed = 0
if current < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random())
    redis.call('EXPIRE', key, math.ceil(window / 1000))
    current = current + 1
    allowed = 1
end

local remaining = math.max(0, limit - current)
return {allowed, current, remaining}
`
