// Package health reports whether the report job's dependencies are reachable.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker is a dependency that can be probed.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DefaultTimeout bounds a readiness probe.
const DefaultTimeout = 5 * time.Second

// Response is the JSON body of both probes.
type Response struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Handlers serves liveness and readiness probes.
type Handlers struct {
	checkers map[string]Checker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandlers returns probe handlers over the named checkers. Nil
// checkers are skipped.
func NewHandlers(checkers map[string]Checker, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		checkers: make(map[string]Checker, len(checkers)),
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for name, c := range checkers {
		if c != nil {
			h.checkers[name] = c
		}
	}
	return h
}

// Health handles GET /health. It succeeds whenever the process can respond.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.write(w, http.StatusOK, Response{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready and returns 503 when any checker fails.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checkers[name].HealthCheck(ctx); err != nil {
			checks[name] = "error"
			healthy = false
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	h.write(w, code, Response{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) write(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", "error", err)
	}
}
