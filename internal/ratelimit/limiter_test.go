package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestMemoryBucket_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mb, err := NewMemoryBucket(Config{Capacity: 3, RefillRate: 1, TTL: time.Minute}, clock.now)
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := mb.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed (burst)", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := mb.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	// other clients have their own bucket
	res, err = mb.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	clock.advance(time.Second)
	res, err = mb.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "one token refills per second")

	require.NoError(t, mb.Reset(ctx, "10.0.0.1"))
	res, err = mb.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryBucket_RefillCapsAtCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	mb, err := NewMemoryBucket(Config{Capacity: 2, RefillRate: 10}, clock.now)
	require.NoError(t, err)

	ctx := context.Background()
	mb.Allow(ctx, "a")
	clock.advance(time.Hour)

	res, err := mb.Allow(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)
}

func TestMemoryBucket_SweepsIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	mb, err := NewMemoryBucket(Config{Capacity: 1, RefillRate: 1, TTL: time.Minute}, clock.now)
	require.NoError(t, err)

	ctx := context.Background()
	mb.Allow(ctx, "a")
	mb.Allow(ctx, "b")
	assert.Equal(t, 2, mb.len())

	clock.advance(2 * time.Minute)
	mb.Allow(ctx, "c")
	assert.Equal(t, 1, mb.len())
}

func TestConfigValidation(t *testing.T) {
	_, err := NewMemoryBucket(Config{Capacity: 0, RefillRate: 1}, nil)
	assert.Error(t, err)

	_, err = NewMemoryBucket(Config{Capacity: 1, RefillRate: 0}, nil)
	assert.Error(t, err)
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(30)
	assert.Equal(t, 30, cfg.Capacity)
	assert.InDelta(t, 0.5, cfg.RefillRate, 1e-9)
	assert.Equal(t, "ratelimit:auth:", cfg.KeyPrefix)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "2", FormatSeconds(1500*time.Millisecond))
	assert.Equal(t, "1", FormatSeconds(time.Second))
	assert.Equal(t, "0", FormatSeconds(0))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mb, err := NewMemoryBucket(Config{Capacity: 2, RefillRate: 0.01}, nil)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/login", Middleware(mb, "Terlalu banyak percobaan"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call().Code)
	w := call()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = call()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "100", w.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Terlalu banyak percobaan", body["error"])
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Result, error) {
	return Result{}, assert.AnError
}

func TestMiddleware_FailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/login", Middleware(failingLimiter{}, "nope"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// TestRedisBucket_Allow runs against a local Redis and skips without one.
func TestRedisBucket_Allow(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	cfg := Config{Capacity: 3, RefillRate: 0.01, KeyPrefix: "test:ratelimit:", TTL: time.Minute}
	client.Del(ctx, cfg.KeyPrefix+"client-1")
	defer client.Del(context.Background(), cfg.KeyPrefix+"client-1")

	rb, err := NewRedisBucket(client, cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := rb.Allow(ctx, "client-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res, err := rb.Allow(ctx, "client-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
