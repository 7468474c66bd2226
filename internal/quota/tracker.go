// Package quota enforces the lifetime request limit of each
// (service, user) pair.
//
// Two modes are supported:
//   - soft: Check before dispatch, Record after a 2xx response. Concurrent
//     requests can overshoot the limit by up to concurrency-1.
//   - strict: Reserve a slot atomically before dispatch and Release it when
//     the upstream call fails or answers non-2xx. Atomicity is only as strong
//     as the store's Update (single process for the memory backend).
//
// A limit of 0 means unlimited; usage is still counted on success.
package quota

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// Mode selects how quota is enforced.
type Mode string

const (
	ModeSoft   Mode = "soft"
	ModeStrict Mode = "strict"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSoft, "":
		return ModeSoft, nil
	case ModeStrict:
		return ModeStrict, nil
	}
	return "", fmt.Errorf("invalid quota mode: %s (must be soft or strict)", s)
}

// Decision is the outcome of admitting one request.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64

	key      repository.UsageKey
	reserved bool
}

// SetHeaders writes X-RateLimit-Limit and X-RateLimit-Remaining for
// limited services.
func (d Decision) SetHeaders(h http.Header) {
	if d.Limit <= 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
}

// Tracker admits requests and books their outcome.
type Tracker struct {
	usage *repository.UsageRepository
	mode  Mode
	now   func() time.Time
}

// NewTracker creates a tracker over the usage repository.
func NewTracker(usage *repository.UsageRepository, mode Mode, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if mode == "" {
		mode = ModeSoft
	}

	log.Info().
		Str("component", "quota").
		Str("mode", string(mode)).
		Msg("Quota tracker initialized")

	return &Tracker{usage: usage, mode: mode, now: now}
}

// Mode returns the enforcement mode.
func (t *Tracker) Mode() Mode {
	return t.mode
}

// Check reads the counter and allows iff count < limit. A limit of 0
// allows without reading.
func (t *Tracker) Check(ctx context.Context, serviceID, username string, limit int64) (Decision, error) {
	key := repository.UsageKey{ServiceID: serviceID, Username: username}
	if limit <= 0 {
		return Decision{Allowed: true, key: key}, nil
	}

	counter, err := t.usage.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read usage: %w", err)
	}

	return Decision{
		Allowed:   counter.Count < limit,
		Limit:     limit,
		Remaining: remaining(limit, counter.Count),
		key:       key,
	}, nil
}

// Record counts one successful request.
func (t *Tracker) Record(ctx context.Context, serviceID, username string) (*repository.UsageCounter, error) {
	key := repository.UsageKey{ServiceID: serviceID, Username: username}
	counter, err := t.usage.Increment(ctx, key, t.now())
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	return counter, nil
}

// Acquire admits a request according to the tracker mode.
func (t *Tracker) Acquire(ctx context.Context, serviceID, username string, limit int64) (Decision, error) {
	if t.mode != ModeStrict || limit <= 0 {
		return t.Check(ctx, serviceID, username, limit)
	}

	key := repository.UsageKey{ServiceID: serviceID, Username: username}
	counter, granted, err := t.usage.Reserve(ctx, key, limit, t.now())
	if err != nil {
		return Decision{}, fmt.Errorf("failed to reserve usage: %w", err)
	}

	return Decision{
		Allowed:   granted,
		Limit:     limit,
		Remaining: remaining(limit, counter.Count),
		key:       key,
		reserved:  granted,
	}, nil
}

// Settle books the outcome of an admitted request and returns the
// decision with Remaining updated. success means a 2xx upstream response.
func (t *Tracker) Settle(ctx context.Context, d Decision, success bool) (Decision, error) {
	if d.reserved {
		if success {
			return d, nil
		}
		if err := t.usage.Release(ctx, d.key); err != nil {
			return d, fmt.Errorf("failed to release usage: %w", err)
		}
		d.Remaining++
		return d, nil
	}

	if !success {
		return d, nil
	}

	counter, err := t.Record(ctx, d.key.ServiceID, d.key.Username)
	if err != nil {
		return d, err
	}
	d.Remaining = remaining(d.Limit, counter.Count)
	return d, nil
}

func remaining(limit, count int64) int64 {
	if limit <= 0 {
		return 0
	}
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}
