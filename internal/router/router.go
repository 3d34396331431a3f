// Package router wires the HTTP surface together: one chi mux under
// /api/v1, the adapted middleware stack, and the handler package's routes.
//
// Grounded on the teacher's internal/router/router.go for the mux
// construction and middleware ordering; the route set itself is this
// repo's own (spec.md §6).
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sage-edu/rag-core/internal/handler"
	"github.com/sage-edu/rag-core/internal/middleware"
)

// Dependencies bundles every collaborator the router needs to construct
// handlers.
type Dependencies struct {
	Chat  handler.ChatDeps
	Search handler.SearchDeps
	Health handler.HealthDeps
	Admin handler.AdminDeps

	Metrics            *middleware.Metrics
	Registry           *prometheus.Registry
	RateLimiter        *middleware.RateLimiter
	InternalAuthSecret string
	FrontendURL        string
	RequestTimeout     time.Duration
}

const adminRequestTimeout = 10 * time.Second

// New builds the chi mux for the HTTP surface.
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Monitoring(deps.Metrics))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(deps.FrontendURL))

	// RateLimit is installed after TrustedIdentity in each group so that it
	// keys on the user ID; without an identity it falls back to RemoteAddr.
	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/chat", func(chatRouter chi.Router) {
			chatRouter.Use(middleware.TrustedIdentity(deps.InternalAuthSecret))
			chatRouter.Use(middleware.RateLimit(deps.RateLimiter))
			// /ask/stream is deliberately excluded from middleware.Timeout:
			// http.TimeoutHandler's ResponseWriter does not implement
			// http.Flusher, which would break every SSE response (the
			// handler's flusher type-assertion would fail on every call).
			chatRouter.With(middleware.Timeout(deps.RequestTimeout)).Post("/ask", handler.Ask(deps.Chat))
			chatRouter.Post("/ask/stream", handler.AskStream(deps.Chat))
		})

		api.Route("/search", func(searchRouter chi.Router) {
			searchRouter.Use(middleware.TrustedIdentity(deps.InternalAuthSecret))
			searchRouter.Use(middleware.RateLimit(deps.RateLimiter))
			searchRouter.Use(middleware.Timeout(deps.RequestTimeout))
			searchRouter.Post("/documents", handler.SearchDocuments(deps.Search))
			searchRouter.Get("/topics", handler.SearchTopics(deps.Search))
			searchRouter.Get("/class/{n}/overview", handler.ClassOverview(deps.Search))
			searchRouter.Post("/bulk", handler.BulkSearch(deps.Search))
		})

		api.Route("/health", func(healthRouter chi.Router) {
			healthRouter.Use(middleware.RateLimit(deps.RateLimiter))
			healthRouter.Use(middleware.Timeout(deps.RequestTimeout))
			healthRouter.Get("/", handler.Health(deps.Health))
			healthRouter.Get("/ready", handler.Ready(deps.Health))
			healthRouter.Get("/live", handler.Live(deps.Health))
		})

		api.Route("/admin", func(adminRouter chi.Router) {
			adminRouter.Use(middleware.TrustedIdentity(deps.InternalAuthSecret))
			adminRouter.Use(middleware.RateLimit(deps.RateLimiter))
			adminRouter.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleRootAdmin))
			adminRouter.Use(middleware.Timeout(adminRequestTimeout))
			adminRouter.Get("/stats", handler.Stats(deps.Admin))
			adminRouter.Get("/database/status", handler.DatabaseStatus(deps.Admin))
			adminRouter.Get("/health/detailed", handler.DetailedHealth(deps.Admin))
			adminRouter.Get("/metrics", handler.Metrics(deps.Admin))
			adminRouter.Post("/cache/clear", handler.ClearCache(deps.Admin))
		})
	})

	return r
}
