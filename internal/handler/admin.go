package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sage-edu/rag-core/internal/cache"
	"github.com/sage-edu/rag-core/internal/middleware"
	"github.com/sage-edu/rag-core/internal/stats"
)

// IntegrityChecker is the subset of the Vector Index Adapter admin handlers
// need for database status.
type IntegrityChecker interface {
	ReadOnly() bool
}

// AdminDeps bundles the collaborators the admin handlers need.
type AdminDeps struct {
	Reporter *stats.Reporter
	Cache    *cache.LRU
	Store    IntegrityChecker
	Registry *prometheus.Registry
}

// Stats handles GET /admin/stats.
func Stats(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Reporter.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"total_queries":         snap.TotalQueries,
			"cache_hits":            snap.CacheHits,
			"cache_hit_rate":        snap.CacheHitRate,
			"avg_processing_time":   snap.AvgProcessingTimeS,
			"cache_size":            deps.Cache.Size(),
		})
	}
}

// DatabaseStatus handles GET /admin/database/status.
func DatabaseStatus(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"read_only": deps.Store.ReadOnly(),
		})
	}
}

// DetailedHealth handles GET /admin/health/detailed: the per-class
// collection counts, tolerating per-collection failure, per spec.md §4.10.
func DetailedHealth(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := deps.Reporter.CollectionCounts(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"ready":       deps.Reporter.Readiness(r.Context()),
			"alive":       deps.Reporter.Liveness(),
			"collections": counts,
			"database":    map[string]any{"read_only": deps.Store.ReadOnly()},
		})
	}
}

// Metrics handles GET /admin/metrics.
func Metrics(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.MetricsHandler(deps.Registry).ServeHTTP(w, r)
	}
}

// ClearCache handles POST /admin/cache/clear.
func ClearCache(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evicted := deps.Cache.Clear()
		writeJSON(w, http.StatusOK, map[string]any{"evicted": evicted})
	}
}
