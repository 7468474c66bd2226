package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

// downStore fails every ping.
type downStore struct {
	*store.MemoryStore
}

func (downStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		store      store.Store
		wantCode   int
		wantStatus string
	}{
		{"memory store", store.NewMemoryStore(), http.StatusOK, "healthy"},
		{"unreachable store", downStore{store.NewMemoryStore()}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.store, "", "test")
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}

			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Store["backend"] != store.BackendMemory {
				t.Errorf("backend = %v", resp.Store["backend"])
			}
			if resp.Version != "test" {
				t.Errorf("version = %q", resp.Version)
			}
		})
	}
}

func TestHealth_MemoryIsNotDurable(t *testing.T) {
	h := NewHandler(store.NewMemoryStore(), store.BackendMemory, "")
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.Store["durable"] != false {
		t.Errorf("durable = %v, want false", resp.Store["durable"])
	}
	if _, ok := resp.Store["objects"]; !ok {
		t.Error("memory store should report its object count")
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name     string
		store    store.Store
		wantCode int
	}{
		{"reachable", store.NewMemoryStore(), http.StatusOK},
		{"unreachable", downStore{store.NewMemoryStore()}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.store, store.BackendMemory, "")
			w := httptest.NewRecorder()
			h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{3*time.Hour + 4*time.Minute, "3h 4m 0s"},
		{49 * time.Hour, "2d 1h 0m 0s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
