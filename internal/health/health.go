// Package health provides the liveness and readiness handlers of the relay.
//
// Both handlers ping the object store. /health reports store details and
// uptime; /ready answers 200 only while the store is reachable.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

// Handler provides HTTP handlers for health checks.
type Handler struct {
	store   store.Store
	backend string
	version string
	started time.Time
}

// NewHandler creates a health handler for the given store.
func NewHandler(s store.Store, backend, version string) *Handler {
	if backend == "" {
		backend = store.BackendMemory
	}
	return &Handler{
		store:   s,
		backend: backend,
		version: version,
		started: time.Now(),
	}
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status  string                 `json:"status"` // "healthy" or "unhealthy"
	Version string                 `json:"version,omitempty"`
	Uptime  string                 `json:"uptime,omitempty"`
	Store   map[string]interface{} `json:"store"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status  string `json:"status"` // "pass" or "fail"
	Message string `json:"message,omitempty"`
}

// Health handles /health. Returns 503 when the store is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	details := h.storeDetails(ctx)

	status := "healthy"
	code := http.StatusOK
	check := CheckResult{Status: "pass", Message: "operational"}
	if details["status"] != "healthy" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		check = CheckResult{Status: "fail", Message: fmt.Sprint(details["error"])}
	}

	log.Debug().
		Str("component", "health").
		Str("status", status).
		Str("remote_addr", r.RemoteAddr).
		Msg("Health check requested")

	writeJSON(w, code, HealthResponse{
		Status:  status,
		Version: h.version,
		Uptime:  formatDuration(time.Since(h.started)),
		Store:   details,
		Checks:  map[string]CheckResult{"store": check},
	})
}

// Ready handles /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("component", "health").
			Str("backend", h.backend).
			Msg("Readiness check failed: store not reachable")

		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// storeDetails pings the store and adds backend pool statistics.
func (h *Handler) storeDetails(ctx context.Context) map[string]interface{} {
	details := map[string]interface{}{
		"backend": h.backend,
		"durable": store.Durable(h.store),
	}

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		details["status"] = "unhealthy"
		details["error"] = err.Error()
		return details
	}
	details["status"] = "healthy"
	details["response_time_ms"] = time.Since(start).Milliseconds()

	switch s := h.store.(type) {
	case *store.MemoryStore:
		details["objects"] = s.Len()
	case *store.RedisStore:
		stats := s.Stats()
		details["total_conns"] = stats.TotalConns
		details["idle_conns"] = stats.IdleConns
		details["hits"] = stats.Hits
		details["misses"] = stats.Misses
	case *store.PostgresStore:
		stats := s.Stats()
		details["open_connections"] = stats.OpenConnections
		details["in_use"] = stats.InUse
		details["idle"] = stats.Idle
		details["wait_count"] = stats.WaitCount
	}
	return details
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "health").Msg("Failed to encode health response")
	}
}

// formatDuration formats a duration as e.g. "1d 2h 3m 4s".
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
