// Package config provides application configuration management.
//
// Configuration is loaded from environment variables using the envconfig package.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/cors"
	"github.com/saidutt46/switchboard-relay/internal/events"
	"github.com/saidutt46/switchboard-relay/internal/proxy"
	"github.com/saidutt46/switchboard-relay/internal/quota"
	"github.com/saidutt46/switchboard-relay/internal/ratelimit"
	"github.com/saidutt46/switchboard-relay/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Server
	ServerHost string `envconfig:"RELAY_HOST" default:"0.0.0.0"`
	ServerPort int    `envconfig:"RELAY_PORT" default:"8080"`

	// AdminToken guards /api/admin; empty disables admin access
	AdminToken string        `envconfig:"ADMIN_TOKEN"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	Store StoreConfig

	// Relay
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`
	QuotaMode       string        `envconfig:"QUOTA_MODE" default:"soft"` // soft or strict
	LogRetention    int           `envconfig:"LOG_RETENTION" default:"500"`
	LegacyRoutes    bool          `envconfig:"LEGACY_ROUTES" default:"false"`
	// MaxReplayBody caps the request body buffered for 307/308 redirects
	MaxReplayBody int64 `envconfig:"MAX_REPLAY_BODY" default:"10485760"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// AuthRateLimit is register/login attempts per minute per client IP; 0 disables
	AuthRateLimit int `envconfig:"AUTH_RATE_LIMIT" default:"20"`

	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is honored
	// when resolving the client IP. Empty means the socket peer is the client.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	// Kafka log sink, disabled when KafkaBrokers is empty
	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"relay-logs"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"` // json or console

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	Backend string `envconfig:"STORE_BACKEND" default:"memory"` // memory, redis or postgres

	RedisURL       string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"relay:"`
	RedisPoolSize  int    `envconfig:"REDIS_POOL_SIZE" default:"20"`

	PostgresDSN     string        `envconfig:"POSTGRES_DSN"`
	PostgresTable   string        `envconfig:"POSTGRES_TABLE" default:"relay_objects"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info().
		Str("component", "config").
		Str("environment", cfg.Environment).
		Str("server_host", cfg.ServerHost).
		Int("server_port", cfg.ServerPort).
		Str("store_backend", cfg.Store.Backend).
		Str("quota_mode", cfg.QuotaMode).
		Bool("legacy_routes", cfg.LegacyRoutes).
		Bool("kafka_enabled", cfg.KafkaEnabled()).
		Int("auth_rate_limit", cfg.AuthRateLimit).
		Strs("trusted_proxies", cfg.TrustedProxies).
		Str("log_level", cfg.LogLevel).
		Str("log_format", cfg.LogFormat).
		Msg("Configuration loaded successfully")

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validEnvironments := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvironments[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, production, or test)", c.Environment)
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.ServerPort)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if _, err := quota.ParseMode(c.QuotaMode); err != nil {
		return err
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.LogRetention < 0 {
		return fmt.Errorf("log retention cannot be negative")
	}
	if c.AuthRateLimit < 0 {
		return fmt.Errorf("auth rate limit cannot be negative")
	}
	if c.MaxReplayBody < 0 {
		return fmt.Errorf("max replay body cannot be negative")
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("invalid trusted proxy: %q (must be an IP or CIDR)", p)
		}
	}

	if c.AdminToken == "" && c.IsProduction() {
		return fmt.Errorf("ADMIN_TOKEN is required in production")
	}

	return c.Store.validate()
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}

func (s *StoreConfig) validate() error {
	switch s.Backend {
	case store.BackendMemory:
		return nil

	case store.BackendRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
		return nil

	case store.BackendPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
		if s.MaxOpenConns < 1 {
			return fmt.Errorf("max_open_conns must be at least 1")
		}
		if s.MaxIdleConns < 1 {
			return fmt.Errorf("max_idle_conns must be at least 1")
		}
		if s.MaxIdleConns > s.MaxOpenConns {
			return fmt.Errorf("max_idle_conns (%d) cannot be greater than max_open_conns (%d)",
				s.MaxIdleConns, s.MaxOpenConns)
		}
		return nil
	}

	return fmt.Errorf("invalid store backend: %s (must be memory, redis, or postgres)", s.Backend)
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ServerAddress returns the server address in host:port format.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// KafkaEnabled reports whether log entries are also published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBrokers != ""
}

// StoreOptions returns the options for store.Open.
func (c *Config) StoreOptions() store.Options {
	redisCfg := store.DefaultRedisConfig()
	redisCfg.URL = c.Store.RedisURL
	redisCfg.KeyPrefix = c.Store.RedisKeyPrefix
	redisCfg.PoolSize = c.Store.RedisPoolSize

	pgCfg := store.DefaultPostgresConfig()
	pgCfg.DSN = c.Store.PostgresDSN
	pgCfg.Table = c.Store.PostgresTable
	pgCfg.MaxOpenConns = c.Store.MaxOpenConns
	pgCfg.MaxIdleConns = c.Store.MaxIdleConns
	pgCfg.ConnMaxLifetime = c.Store.ConnMaxLifetime
	pgCfg.ConnMaxIdleTime = c.Store.ConnMaxIdleTime
	pgCfg.ConnectTimeout = c.Store.ConnectTimeout

	return store.Options{
		Backend:  c.Store.Backend,
		Redis:    redisCfg,
		Postgres: pgCfg,
	}
}

// TransportConfig returns the upstream client settings.
func (c *Config) TransportConfig() proxy.TransportConfig {
	cfg := proxy.DefaultTransportConfig()
	cfg.RequestTimeout = c.UpstreamTimeout
	return cfg
}

// CORSConfig returns the CORS policy with the configured origins.
func (c *Config) CORSConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if len(c.CORSAllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.CORSAllowedOrigins
	}
	return cfg
}

// AuthRateLimitConfig returns the credential endpoint throttle and whether
// it is enabled.
func (c *Config) AuthRateLimitConfig() (ratelimit.Config, bool) {
	if c.AuthRateLimit == 0 {
		return ratelimit.Config{}, false
	}
	cfg := ratelimit.PerMinute(c.AuthRateLimit)
	cfg.KeyPrefix = c.Store.RedisKeyPrefix + cfg.KeyPrefix
	return cfg, true
}

// KafkaConfig returns the log sink settings.
func (c *Config) KafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaTopic,
		WriteTimeout: 10 * time.Second,
	}
}
