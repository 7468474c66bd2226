package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PostgresStore persists objects in a single key-value table.
type PostgresStore struct {
	pool  *sql.DB
	table string
}

// PostgresConfig holds PostgreSQL connection and pool configuration.
type PostgresConfig struct {
	DSN string

	// Table is created on start when missing
	Table string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns pool defaults for the relay.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Table:           "relay_objects",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens the connection pool, verifies connectivity and
// ensures the object table exists.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	log.Info().
		Str("component", "store").
		Str("backend", "postgres").
		Msg("Connecting to PostgreSQL object store...")

	if cfg.Table == "" {
		cfg.Table = "relay_objects"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	pool, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &PostgresStore{
		pool:  pool,
		table: pq.QuoteIdentifier(cfg.Table),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("component", "store").
		Str("table", cfg.Table).
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Dur("conn_max_lifetime", cfg.ConnMaxLifetime).
		Msg("PostgreSQL object store ready")

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := s.pool.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create object table: %w", err)
	}
	return nil
}

// Get retrieves the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRowContext(ctx,
		`SELECT value FROM `+s.table+` WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return value, nil
}

// Put upserts value under key.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.ExecContext(ctx, s.upsertQuery(), key, value)
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List returns every object whose key starts with prefix.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]Object, error) {
	rows, err := s.pool.QueryContext(ctx,
		`SELECT key, value FROM `+s.table+` WHERE key LIKE $1 ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	objects := make([]Object, 0)
	for rows.Next() {
		var obj Object
		if err := rows.Scan(&obj.Key, &obj.Value); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		objects = append(objects, obj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating objects: %w", err)
	}

	return objects, nil
}

// ListKeys returns every key starting with prefix.
func (s *PostgresStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.QueryContext(ctx,
		`SELECT key FROM `+s.table+` WHERE key LIKE $1 ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

// Update reads and rewrites key inside one transaction.
//
// A transaction-scoped advisory lock on the key covers the case where the
// row does not exist yet and FOR UPDATE has nothing to lock.
func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock key: %w", err)
	}

	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM `+s.table+` WHERE key = $1 FOR UPDATE`, key,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		current = nil
	} else if err != nil {
		return fmt.Errorf("failed to read object for update: %w", err)
	}

	next, err := fn(current, exists)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.upsertQuery(), key, next); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics.
func (s *PostgresStore) Stats() sql.DBStats {
	return s.pool.Stats()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	log.Info().
		Str("component", "store").
		Str("backend", "postgres").
		Msg("Closing PostgreSQL object store...")

	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("failed to close database pool: %w", err)
	}
	return nil
}

func (s *PostgresStore) upsertQuery() string {
	return `INSERT INTO ` + s.table + ` (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
}

// escapeLike escapes LIKE metacharacters so prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
