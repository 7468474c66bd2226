// Package ratelimit throttles the credential endpoints per client.
//
// Two token bucket implementations share one Limiter interface: an
// in-process bucket map for single-instance deployments and a Redis
// bucket, refilled and consumed atomically by a Lua script, for
// deployments that run several relays over the same Redis.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Limiter decides whether one more request from identifier is allowed.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (Result, error)
}

// Config describes a token bucket.
type Config struct {
	// Capacity is the burst size
	Capacity int

	// RefillRate is tokens added per second
	RefillRate float64

	// KeyPrefix namespaces bucket keys
	KeyPrefix string

	// TTL drops idle buckets
	TTL time.Duration
}

// PerMinute returns a bucket config allowing limit requests per minute
// with a burst of limit.
func PerMinute(limit int) Config {
	return Config{
		Capacity:   limit,
		RefillRate: RefillRate(limit, time.Minute),
		KeyPrefix:  "ratelimit:auth:",
		TTL:        2 * time.Minute,
	}
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int

	// RetryAfter is zero when Allowed
	RetryAfter time.Duration
}

// RefillRate converts limit per window into tokens per second.
//
//	RefillRate(100, time.Minute) // 1.6667
func RefillRate(limit int, window time.Duration) float64 {
	return float64(limit) / window.Seconds()
}

func retryAfter(rate float64) time.Duration {
	if rate <= 0 {
		return time.Minute
	}
	return time.Duration(1.0 / rate * float64(time.Second))
}

// FormatSeconds renders d for the Retry-After header, rounding up.
func FormatSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}

// Middleware rejects requests with 429 and {error: message} once the
// client IP has exhausted its bucket. Limiter failures let the request
// through.
func Middleware(l Limiter, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Error().
				Err(err).
				Str("component", "ratelimit").
				Str("client_ip", c.ClientIP()).
				Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			log.Warn().
				Str("component", "ratelimit").
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Dur("retry_after", result.RetryAfter).
				Msg("Rate limit exceeded")

			c.Header("Retry-After", FormatSeconds(result.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
			return
		}

		c.Next()
	}
}

func (c Config) validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("rate limit capacity must be at least 1")
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("rate limit refill rate must be positive")
	}
	return nil
}
