package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore persists objects as Redis strings.
//
// Every key is stored under KeyPrefix so several relays (or unrelated
// applications) can share one Redis database.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	retries int
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	// URL is the Redis connection string
	// Format: redis://[:password@]host[:port][/db]
	URL string

	// KeyPrefix is prepended to every object key
	KeyPrefix string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// UpdateRetries bounds the WATCH/MULTI retry loop in Update
	UpdateRetries int
}

// DefaultRedisConfig returns defaults suitable for the relay.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:           "redis://localhost:6379/0",
		KeyPrefix:     "relay:",
		PoolSize:      20,
		MinIdleConns:  2,
		MaxRetries:    3,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		UpdateRetries: 25,
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	log.Info().
		Str("component", "store").
		Str("backend", "redis").
		Str("url", maskRedisURL(cfg.URL)).
		Int("pool_size", cfg.PoolSize).
		Msg("Connecting to Redis object store")

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	opt.MinIdleConns = cfg.MinIdleConns
	opt.MaxRetries = cfg.MaxRetries
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().
		Str("component", "store").
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Str("key_prefix", cfg.KeyPrefix).
		Msg("Redis object store ready")

	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.UpdateRetries), nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string, updateRetries int) *RedisStore {
	if updateRetries <= 0 {
		updateRetries = 10
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		retries: updateRetries,
	}
}

// Get retrieves the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return val, nil
}

// Put stores value under key without expiry.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

// List scans for keys matching prefix and fetches their values with MGET.
//
// Keys deleted between SCAN and MGET are skipped.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]Object, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(keys))
	for start := 0; start < len(keys); start += 200 {
		end := start + 200
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis MGET failed: %w", err)
		}

		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			objects = append(objects, Object{
				Key:   strings.TrimPrefix(batch[i], s.prefix),
				Value: []byte(str),
			})
		}
	}

	return objects, nil
}

// ListKeys returns every key under prefix using SCAN only.
func (s *RedisStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for i, key := range keys {
		keys[i] = strings.TrimPrefix(key, s.prefix)
	}
	return keys, nil
}

// scan returns the full Redis keys under prefix.
func (s *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.prefix+prefix) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN failed: %w", err)
	}
	return keys, nil
}

// Update performs an optimistic WATCH/MULTI transaction on key, retrying
// when another client modifies the key between read and write.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	fullKey := s.prefix + key

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, txf, fullKey)
		if err == nil || errors.Is(err, ErrSkipWrite) {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().
				Str("component", "store").
				Str("key", key).
				Int("attempt", attempt+1).
				Msg("Optimistic update lost race, retrying")
			continue
		}
		return err
	}

	return fmt.Errorf("%w: %s", ErrConflict, key)
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Stats returns Redis connection pool statistics.
func (s *RedisStore) Stats() *redis.PoolStats {
	return s.client.PoolStats()
}

// Client returns the underlying client for components that share the
// connection pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	log.Info().
		Str("component", "store").
		Str("backend", "redis").
		Msg("Closing Redis object store")

	return s.client.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// maskRedisURL hides the password in a Redis URL for logging.
//
// Example: redis://:secret@localhost:6379 -> redis://:***@localhost:6379
func maskRedisURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
