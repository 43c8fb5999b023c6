// Package handlers contains the HTTP endpoints served next to the limiter:
// liveness and readiness probes and the admin API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthResponse represents the response for the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents the response for the ready endpoint.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc probes one dependency. A nil error means it is usable.
type CheckFunc func(ctx context.Context) error

// checkTimeout bounds each readiness probe.
const checkTimeout = 2 * time.Second

// HealthHandler serves /health and /ready.
type HealthHandler struct {
	ready  bool
	checks map[string]CheckFunc
	now    func() time.Time
	mu     sync.RWMutex
}

// NewHealthHandler creates a HealthHandler that reports ready until told otherwise.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		ready:  true,
		checks: make(map[string]CheckFunc),
		now:    time.Now,
	}
}

// Health reports that the process is up. It never touches dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every registered check and answers 503 if any fails or the
// handler was marked not ready during shutdown.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	allReady := h.ready
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	sort.Strings(names)
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := checks[name](ctx)
		cancel()

		if err != nil {
			results[name] = "fail: " + err.Error()
			allReady = false
			continue
		}
		results[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not ready", http.StatusServiceUnavailable
	}

	resp := ReadyResponse{
		Status:    status,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if len(results) > 0 {
		resp.Checks = results
	}
	writeJSON(w, code, resp)
}

// SetReady sets the ready state.
func (h *HealthHandler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current ready state.
func (h *HealthHandler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// AddCheck registers a dependency probe under name, replacing any existing one.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
