package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe so a hung backend cannot
// stall the endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthHandler serves the health-check endpoint. Each named check probes one
// backing dependency (Postgres, Redis); dev mode runs with none.
type HealthHandler struct {
	checks map[string]func(context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: make(map[string]func(context.Context) error), logger: logger}
}

// AddCheck registers a named dependency probe.
func (h *HealthHandler) AddCheck(name string, probe func(context.Context) error) {
	h.checks[name] = probe
}

// HealthCheck reports overall liveness plus the state of every registered
// dependency probe. Any failing probe degrades the response to 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"
	deps := make(map[string]string, len(h.checks))

	for name, probe := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: health probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "unreachable"
			overall = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	writeJSON(w, status, body)
}
