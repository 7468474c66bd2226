// Package store provides the object store adapter that every repository
// in the relay persists through.
//
// The contract is a flat key-value namespace with four operations:
//   - Get: read one object by key
//   - Put: create or overwrite one object
//   - Delete: remove one object (absent keys are not an error)
//   - List: return every object whose key starts with a prefix
//
// Keys follow the layout <kind>/<id>.json. List order is unspecified;
// callers sort what they need.
//
// Backends:
//   - MemoryStore: process-local map, NOT durable (data is lost on restart)
//   - RedisStore: go-redis backed, durable when Redis persistence is enabled
//   - PostgresStore: lib/pq backed key-value table
//
// A store handle is created once at startup and passed explicitly to each
// repository. There is no package-level default store.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ErrConflict is returned by Update when a concurrent writer kept winning
// the optimistic transaction and the retry budget ran out.
var ErrConflict = errors.New("object update conflict")

// Object is a single stored record returned by List.
type Object struct {
	Key   string
	Value []byte
}

// Store is the object store contract shared by every backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Ping(ctx context.Context) error
	Close() error
}

// UpdateFunc receives the current value of a key (nil and exists=false
// when absent) and returns the value to write. Returning ErrSkipWrite
// leaves the stored value untouched and makes Update return nil.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// ErrSkipWrite tells Update to commit nothing.
var ErrSkipWrite = errors.New("skip write")

// Updater is implemented by backends that can perform an atomic
// read-modify-write on a single key.
//
// Atomicity scope differs per backend:
//   - MemoryStore: per-key lock table, valid for a single process only
//   - RedisStore: WATCH/MULTI optimistic transaction
//   - PostgresStore: SELECT ... FOR UPDATE inside a transaction
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Update performs fn against key, atomically when s implements Updater.
//
// For stores without Updater it falls back to Get followed by Put, which
// is subject to lost updates under concurrency.
func Update(ctx context.Context, s Store, key string, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, key, fn)
	}

	current, err := s.Get(ctx, key)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
		current = nil
	} else if err != nil {
		return err
	}

	next, err := fn(current, exists)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Put(ctx, key, next)
}

// KeyLister is implemented by backends that can list keys without
// fetching their values.
type KeyLister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// ListKeys returns every key under prefix, without values when s
// implements KeyLister.
func ListKeys(ctx context.Context, s Store, prefix string) ([]string, error) {
	if kl, ok := s.(KeyLister); ok {
		return kl.ListKeys(ctx, prefix)
	}

	objects, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
	}
	return keys, nil
}

// Durable reports whether data written to s survives a process restart.
func Durable(s Store) bool {
	_, inMemory := s.(*MemoryStore)
	return !inMemory
}
