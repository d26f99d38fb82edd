package handlers

import (
	"context"
	"net/http"
	"os/exec"
	"time"

	"rendergate/internal/httpkit"
)

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "rendergate-worker",
		"version": "0.1.0",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if checkMap, ok := check.(map[string]any); ok {
				if checkMap["status"] != "ok" {
					health["status"] = "degraded"
					log.Warn("health check degraded", "checks", checks)
					break
				}
			}
		}
	}

	httpkit.WriteJSON(w, 200, health)
}

// deepHealthCheck probes the worker's dependencies: the render engine
// binary, the audit store when configured, and slot availability.
func (h *Handler) deepHealthCheck(ctx context.Context) map[string]any {
	checks := make(map[string]any)

	checks["engine"] = h.checkEngine()
	checks["audit"] = h.checkAudit(ctx)
	checks["slots"] = map[string]any{
		"status":   "ok",
		"capacity": h.slots.Capacity(),
		"free":     h.slots.Free(),
	}

	return checks
}

func (h *Handler) checkEngine() map[string]any {
	result := map[string]any{
		"status": "ok",
		"path":   h.enginePath,
	}
	if _, err := exec.LookPath(h.enginePath); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	return result
}

func (h *Handler) checkAudit(ctx context.Context) map[string]any {
	if h.pool == nil {
		// Log-only audit is a supported configuration.
		return map[string]any{"status": "ok", "mode": "log-only"}
	}

	start := time.Now()
	result := map[string]any{
		"status": "ok",
		"mode":   "postgres",
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.pool.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	} else {
		stats := h.pool.Stat()
		result["total_conns"] = stats.TotalConns()
		result["idle_conns"] = stats.IdleConns()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
