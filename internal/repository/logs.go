package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const (
	logsPrefix = "logs/"

	DefaultLogLimit     = 50
	MaxLogLimit         = 200
	DefaultLogRetention = 500
)

// ClampLogLimit bounds a requested page size to [1, MaxLogLimit]. Zero
// selects DefaultLogLimit.
func ClampLogLimit(limit int) int {
	if limit == 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		return MaxLogLimit
	}
	if limit < 1 {
		return 1
	}
	return limit
}

// LogSink receives every log entry after it is stored.
type LogSink interface {
	Publish(ctx context.Context, entry LogEntry) error
}

// LogRepository persists relay failure logs under
// logs/<unix-nanos>_<rand8>.json so that key order is time order.
type LogRepository struct {
	store     store.Store
	retention int
	now       func() time.Time

	mu    sync.RWMutex
	sinks []LogSink
}

// AddSink registers a sink that is notified of every new entry.
func (r *LogRepository) AddSink(sink LogSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Add stores entry, assigning its id and timestamp when unset, and prunes
// the oldest entries beyond the retention cap.
func (r *LogRepository) Add(ctx context.Context, entry LogEntry) (*LogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	entry.ID = fmt.Sprintf("%020d_%s", entry.Timestamp.UnixNano(), hexUUID()[:8])

	if err := putJSON(ctx, r.store, objectKey(logsPrefix, entry.ID), entry); err != nil {
		return nil, err
	}

	if r.retention > 0 {
		if err := r.prune(ctx); err != nil {
			log.Warn().
				Err(err).
				Str("component", "repository").
				Msg("Failed to prune log entries")
		}
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Publish(ctx, entry); err != nil {
			log.Warn().
				Err(err).
				Str("component", "repository").
				Str("log_id", entry.ID).
				Msg("Log sink publish failed")
		}
	}

	return &entry, nil
}

// List returns up to limit entries, newest first. limit is clamped with
// ClampLogLimit.
func (r *LogRepository) List(ctx context.Context, limit int) ([]*LogEntry, error) {
	entries, err := listJSON[LogEntry](ctx, r.store, logsPrefix)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID > entries[j].ID
	})

	if limit = ClampLogLimit(limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// DeleteAll removes every log entry and returns how many were removed.
func (r *LogRepository) DeleteAll(ctx context.Context) (int, error) {
	keys, err := store.ListKeys(ctx, r.store, logsPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list logs: %w", err)
	}

	for i, key := range keys {
		if err := deleteKey(ctx, r.store, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// prune deletes the oldest entries beyond the retention cap. It reads keys
// only; values are never fetched.
func (r *LogRepository) prune(ctx context.Context) error {
	keys, err := store.ListKeys(ctx, r.store, logsPrefix)
	if err != nil {
		return err
	}
	if len(keys) <= r.retention {
		return nil
	}
	sort.Strings(keys)

	for _, key := range keys[:len(keys)-r.retention] {
		if err := deleteKey(ctx, r.store, key); err != nil {
			return err
		}
	}
	return nil
}
