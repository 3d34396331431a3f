package handler

import (
	"net/http"

	"github.com/sage-edu/rag-core/internal/stats"
)

// HealthDeps bundles the collaborators the health handlers need.
type HealthDeps struct {
	Reporter *stats.Reporter
}

// Health handles GET /health/.
func Health(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// Ready handles GET /health/ready.
func Ready(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Reporter.Readiness(r.Context()) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

// Live handles GET /health/live.
func Live(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
	}
}
