package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBucket is a token bucket limiter shared through Redis.
//
// Buckets are hashes {tokens, last_refill}. Refill and consume run as one
// Lua script, so relay instances sharing the database draw from the same
// /api/auth bucket for a client without double-spending its tokens.
type RedisBucket struct {
	client redis.Scripter
	config Config
}

// NewRedisBucket creates a limiter over an existing Redis client.
func NewRedisBucket(client redis.Scripter, config Config) (*RedisBucket, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "ratelimit").
		Str("backend", "redis").
		Int("capacity", config.Capacity).
		Float64("refill_rate", config.RefillRate).
		Str("key_prefix", config.KeyPrefix).
		Dur("ttl", config.TTL).
		Msg("Token bucket rate limiter initialized")

	return &RedisBucket{client: client, config: config}, nil
}

// Allow refills the identifier's bucket and consumes one token if available.
func (rb *RedisBucket) Allow(ctx context.Context, identifier string) (Result, error) {
	key := rb.config.KeyPrefix + identifier

	ttl := int(rb.config.TTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	raw, err := tokenBucketScript.Run(
		ctx,
		rb.client,
		[]string{key},
		rb.config.Capacity,
		rb.config.RefillRate,
		time.Now().UnixMilli(),
		ttl,
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("token bucket check failed: %w", err)
	}

	// {allowed, tokens_remaining}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("unexpected lua script result: %v", raw)
	}
	allowed, ok1 := values[0].(int64)
	remaining, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("unexpected lua script result: %v", raw)
	}

	result := Result{Allowed: allowed == 1, Remaining: int(remaining)}
	if !result.Allowed {
		result.RetryAfter = retryAfter(rb.config.RefillRate)
	}

	log.Debug().
		Str("component", "ratelimit").
		Str("identifier", identifier).
		Bool("allowed", result.Allowed).
		Int("remaining", result.Remaining).
		Msg("Rate limit check completed")

	return result, nil
}

// tokenBucketScript refills KEYS[1] for the elapsed time and consumes one
// token. ARGV: capacity, refill rate per second, now in ms, ttl seconds.
var tokenBucketScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local last_refill = tonumber(redis.call('HGET', KEYS[1], 'last_refill'))

local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

if tokens == nil then
    tokens = capacity
    last_refill = now
end

local elapsed_sec = math.max(0, now - last_refill) / 1000.0
tokens = math.min(capacity, tokens + elapsed_sec * refill_rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)

return {allowed, math.floor(tokens)}
`)
