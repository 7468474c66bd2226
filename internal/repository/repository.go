// Package repository implements typed persistence for every relay entity
// on top of the object store.
//
// Each entity kind has its own repository bound to a key prefix:
//
//	users/<username>.json
//	services/<id>.json
//	keys/<key>.json
//	sessions/<token>.json
//	usage/<serviceId>___<username>.json
//	logs/<unix-nanos>_<rand8>.json
//	routes/<id>.json, token/<id>.json
//
// Absent records surface as ErrNotFound. There are no cascading deletes:
// removing a service leaves its keys and usage counters in place.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repositories bundles one repository per entity kind over a shared store.
type Repositories struct {
	Users    *UserRepository
	Services *ServiceRepository
	Keys     *ApiKeyRepository
	Sessions *SessionRepository
	Usage    *UsageRepository
	Logs     *LogRepository
	Routes   *RouteRepository
}

// Options tunes repository behavior.
type Options struct {
	// LogRetention caps the number of stored log entries; 0 keeps all
	LogRetention int

	// Now overrides the clock, for tests
	Now func() time.Time
}

// New builds every repository over s.
func New(s store.Store, opts Options) *Repositories {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Repositories{
		Users:    &UserRepository{store: s, now: now},
		Services: &ServiceRepository{store: s},
		Keys:     &ApiKeyRepository{store: s},
		Sessions: &SessionRepository{store: s},
		Usage:    &UsageRepository{store: s},
		Logs:     &LogRepository{store: s, retention: opts.LogRetention, now: now},
		Routes:   &RouteRepository{store: s},
	}
}

// objectKey joins a kind prefix and id into a store key.
func objectKey(prefix, id string) string {
	return prefix + id + ".json"
}

// objectID strips the kind prefix and .json suffix from a store key.
func objectID(prefix, key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
}

func getJSON(ctx context.Context, s store.Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func putJSON(ctx context.Context, s store.Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func deleteKey(ctx context.Context, s store.Store, key string) error {
	if err := s.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// listJSON decodes every object under prefix. Records that fail to decode
// are logged and skipped so one corrupt object cannot break a listing.
func listJSON[T any](ctx context.Context, s store.Store, prefix string) ([]*T, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	items := make([]*T, 0, len(objects))
	for _, obj := range objects {
		var item T
		if err := json.Unmarshal(obj.Value, &item); err != nil {
			log.Warn().
				Err(err).
				Str("component", "repository").
				Str("key", obj.Key).
				Msg("Skipping undecodable record")
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}
