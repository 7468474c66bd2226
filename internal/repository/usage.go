package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const (
	usagePrefix    = "usage/"
	usageSeparator = "___"
)

// ErrInvalidUsageKey is returned when a usage key component is empty or
// contains the separator.
var ErrInvalidUsageKey = errors.New("invalid usage key")

// UsageKey identifies the counter for one (service, user) pair.
type UsageKey struct {
	ServiceID string
	Username  string
}

// Encode returns the store key for k.
func (k UsageKey) Encode() (string, error) {
	if k.ServiceID == "" || k.Username == "" ||
		strings.Contains(k.ServiceID, usageSeparator) ||
		strings.Contains(k.Username, usageSeparator) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidUsageKey, k.ServiceID, k.Username)
	}
	return objectKey(usagePrefix, k.ServiceID+usageSeparator+k.Username), nil
}

// ParseUsageKey decodes a store key produced by Encode.
func ParseUsageKey(key string) (UsageKey, error) {
	if !strings.HasPrefix(key, usagePrefix) || !strings.HasSuffix(key, ".json") {
		return UsageKey{}, fmt.Errorf("%w: %s", ErrInvalidUsageKey, key)
	}
	parts := strings.Split(objectID(usagePrefix, key), usageSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return UsageKey{}, fmt.Errorf("%w: %s", ErrInvalidUsageKey, key)
	}
	return UsageKey{ServiceID: parts[0], Username: parts[1]}, nil
}

// UsageRepository persists usage counters.
//
// Increment, Reserve and Release are atomic when the store implements
// store.Updater.
type UsageRepository struct {
	store store.Store
}

// Get returns the counter for k. A missing counter is returned as zero.
func (r *UsageRepository) Get(ctx context.Context, k UsageKey) (*UsageCounter, error) {
	key, err := k.Encode()
	if err != nil {
		return nil, err
	}

	var counter UsageCounter
	err = getJSON(ctx, r.store, key, &counter)
	if errors.Is(err, ErrNotFound) {
		return &UsageCounter{ServiceID: k.ServiceID, Username: k.Username}, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// Increment adds one to the counter and stamps lastRequest.
func (r *UsageRepository) Increment(ctx context.Context, k UsageKey, now time.Time) (*UsageCounter, error) {
	var result UsageCounter
	err := r.update(ctx, k, func(c *UsageCounter) error {
		c.Count++
		c.LastRequest = now.UTC()
		result = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Reserve increments the counter only while it is below limit. It reports
// whether the slot was granted along with the resulting counter.
func (r *UsageRepository) Reserve(ctx context.Context, k UsageKey, limit int64, now time.Time) (*UsageCounter, bool, error) {
	var result UsageCounter
	granted := false
	err := r.update(ctx, k, func(c *UsageCounter) error {
		result = *c
		granted = false
		if c.Count >= limit {
			return store.ErrSkipWrite
		}
		c.Count++
		c.LastRequest = now.UTC()
		result = *c
		granted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, granted, nil
}

// Release returns a slot taken by Reserve. The counter never drops below 0.
func (r *UsageRepository) Release(ctx context.Context, k UsageKey) error {
	return r.update(ctx, k, func(c *UsageCounter) error {
		if c.Count <= 0 {
			return store.ErrSkipWrite
		}
		c.Count--
		return nil
	})
}

// Reset deletes the counter so usage restarts at zero.
func (r *UsageRepository) Reset(ctx context.Context, k UsageKey) error {
	key, err := k.Encode()
	if err != nil {
		return err
	}
	return deleteKey(ctx, r.store, key)
}

// List returns every counter ordered by service id then username.
// Objects whose key cannot be decoded are skipped.
func (r *UsageRepository) List(ctx context.Context) ([]*UsageCounter, error) {
	objects, err := r.store.List(ctx, usagePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}

	counters := make([]*UsageCounter, 0, len(objects))
	for _, obj := range objects {
		k, err := ParseUsageKey(obj.Key)
		if err != nil {
			log.Warn().
				Str("component", "repository").
				Str("key", obj.Key).
				Msg("Skipping usage object with undecodable key")
			continue
		}

		var counter UsageCounter
		if err := json.Unmarshal(obj.Value, &counter); err != nil {
			log.Warn().
				Err(err).
				Str("component", "repository").
				Str("key", obj.Key).
				Msg("Skipping undecodable usage counter")
			continue
		}
		counter.ServiceID = k.ServiceID
		counter.Username = k.Username
		counters = append(counters, &counter)
	}

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].ServiceID != counters[j].ServiceID {
			return counters[i].ServiceID < counters[j].ServiceID
		}
		return counters[i].Username < counters[j].Username
	})
	return counters, nil
}

func (r *UsageRepository) update(ctx context.Context, k UsageKey, mutate func(*UsageCounter) error) error {
	key, err := k.Encode()
	if err != nil {
		return err
	}

	err = store.Update(ctx, r.store, key, func(current []byte, exists bool) ([]byte, error) {
		counter := UsageCounter{ServiceID: k.ServiceID, Username: k.Username}
		if exists {
			if err := json.Unmarshal(current, &counter); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}
		if err := mutate(&counter); err != nil {
			return nil, err
		}
		return json.Marshal(counter)
	})
	if err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	return nil
}
