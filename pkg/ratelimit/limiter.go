package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy for a single endpoint.
type Rule struct {
	Limit  int
	Burst  int
	Window time.Duration
}

// Result captures the outcome of a rate limiting decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter implements a Redis-backed token bucket rate limiter. With a nil
// client every decision is allowed, so throttled endpoints keep working when
// Redis is not configured.
type Limiter struct {
	client redis.Cmdable
	script *redis.Script
	now    func() time.Time
}

const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "timestamp")
local tokens = tonumber(data[1])
local timestamp = tonumber(data[2])

if tokens == nil then
    tokens = capacity
    timestamp = now
else
    if timestamp == nil then
        timestamp = now
    end
    local delta = now - timestamp
    if delta > 0 then
        tokens = math.min(capacity, tokens + (delta * refillRate))
        timestamp = now
    end
end

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "timestamp", now)
redis.call("PEXPIRE", key, ttl)

local retryAfter = 0
if allowed == 0 then
    retryAfter = math.ceil((1 - tokens) / refillRate)
end

return {allowed, tokens, retryAfter}
`

// NewLimiter creates a new Limiter instance.
func NewLimiter(client redis.Cmdable) *Limiter {
	return &Limiter{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		now:    time.Now,
	}
}

// Allow consumes one token for the given key under the given rule.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	if l == nil || l.client == nil {
		return Result{Allowed: true, Remaining: rule.Limit}, nil
	}

	window := rule.Window
	if window <= 0 {
		window = time.Minute
	}
	capacity := rule.Limit + rule.Burst
	if capacity <= 0 {
		capacity = 1
	}
	refillRate := float64(rule.Limit) / window.Seconds()
	if refillRate <= 0 {
		refillRate = 1.0 / window.Seconds()
	}
	ttl := window * 2

	res, err := l.script.Run(ctx, l.client,
		[]string{fmt.Sprintf("rate-limit:%s", key)},
		float64(l.now().UnixNano())/1e9,
		refillRate,
		capacity,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		// Redis being down never blocks traffic.
		return Result{Allowed: true, Remaining: rule.Limit}, nil
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Result{Allowed: true, Remaining: rule.Limit}, nil
	}

	allowed, _ := values[0].(int64)
	tokens := toFloat(values[1])
	retryAfter, _ := values[2].(int64)

	return Result{
		Allowed:    allowed == 1,
		Remaining:  int(math.Max(0, math.Floor(tokens))),
		RetryAfter: time.Duration(retryAfter) * time.Second,
	}, nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case string:
		var f float64
		_, _ = fmt.Sscanf(n, "%f", &f)
		return f
	default:
		return 0
	}
}
