package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sage-edu/rag-core/internal/cache"
	"github.com/sage-edu/rag-core/internal/handler"
	"github.com/sage-edu/rag-core/internal/middleware"
	"github.com/sage-edu/rag-core/internal/stats"
)

type fakeCollectionCounter struct{}

func (fakeCollectionCounter) Count(ctx context.Context, classNum int) (int, error) { return 1, nil }

type fakeModelHandle struct{}

func (fakeModelHandle) Loaded() bool { return true }

type fakeIntegrityChecker struct{}

func (fakeIntegrityChecker) ReadOnly() bool { return false }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 1000, Window: time.Minute})

	reporter := stats.NewReporter(&stats.Counter{}, fakeCollectionCounter{}, fakeModelHandle{}, 12)

	deps := Dependencies{
		Health: handler.HealthDeps{Reporter: reporter},
		Admin: handler.AdminDeps{
			Reporter: reporter,
			Cache:    cache.New(10),
			Store:    fakeIntegrityChecker{},
			Registry: reg,
		},
		Metrics:            metrics,
		Registry:           reg,
		RateLimiter:        rl,
		InternalAuthSecret: "",
		FrontendURL:        "http://localhost:3000",
		RequestTimeout:     5 * time.Second,
	}
	return New(deps)
}

func TestHealthLiveRespondsOKWithoutAuth(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestAdminRouteRequiresIdentity(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestAdminRouteRejectsWrongRole(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set(middleware.HeaderUserID, "student-1")
	req.Header.Set(middleware.HeaderUserRole, middleware.RoleStudent)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rec.Code)
	}
}

func TestAdminRouteAllowsAdminRole(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set(middleware.HeaderUserID, "admin-1")
	req.Header.Set(middleware.HeaderUserRole, middleware.RoleAdmin)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}
