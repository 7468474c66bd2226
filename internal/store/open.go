package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Redis    RedisConfig
	Postgres PostgresConfig
}

// Open creates the store named by opts.Backend.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		log.Warn().
			Str("component", "store").
			Str("backend", BackendMemory).
			Msg("Using in-memory object store: data is NOT durable and will be lost on restart")
		return NewMemoryStore(), nil

	case BackendRedis:
		return NewRedisStore(opts.Redis)

	case BackendPostgres:
		return NewPostgresStore(opts.Postgres)

	default:
		return nil, fmt.Errorf("unknown store backend: %q", opts.Backend)
	}
}
