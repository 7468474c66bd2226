package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// MemoryBucket is a token bucket limiter held in process memory.
type MemoryBucket struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewMemoryBucket creates an in-process limiter. now may be nil.
func NewMemoryBucket(config Config, now func() time.Time) (*MemoryBucket, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}

	log.Info().
		Str("component", "ratelimit").
		Str("backend", "memory").
		Int("capacity", config.Capacity).
		Float64("refill_rate", config.RefillRate).
		Msg("Token bucket rate limiter initialized")

	return &MemoryBucket{
		config:    config,
		now:       now,
		buckets:   make(map[string]*bucket),
		lastSweep: now(),
	}, nil
}

// Allow refills the identifier's bucket and consumes one token if available.
func (m *MemoryBucket) Allow(_ context.Context, identifier string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	b, ok := m.buckets[identifier]
	if !ok {
		b = &bucket{tokens: float64(m.config.Capacity), lastRefill: now}
		m.buckets[identifier] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(m.config.Capacity), b.tokens+elapsed*m.config.RefillRate)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter(m.config.RefillRate),
		}, nil
	}

	b.tokens--
	return Result{Allowed: true, Remaining: int(b.tokens)}, nil
}

// Reset forgets the identifier's bucket.
func (m *MemoryBucket) Reset(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, identifier)
	return nil
}

// sweep drops buckets idle for longer than the TTL. Callers hold mu.
func (m *MemoryBucket) sweep(now time.Time) {
	if m.config.TTL <= 0 || now.Sub(m.lastSweep) < m.config.TTL {
		return
	}
	for id, b := range m.buckets {
		if now.Sub(b.lastRefill) > m.config.TTL {
			delete(m.buckets, id)
		}
	}
	m.lastSweep = now
}

func (m *MemoryBucket) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
