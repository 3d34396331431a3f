// Command server is the composition root: it wires the Vector Index
// Adapter, Model Adapter, Response Cache, service layer, and both the HTTP
// and RPC surfaces together, then serves until an interrupt or terminate
// signal arrives.
//
// Grounded on the teacher's cmd/server/main.go for the overall shape
// (signal channel, http.Server.Shutdown with a timeout) extended with the
// actual dependency composition the teacher's stub omits, matching how
// internal/router.Dependencies and internal/rpcapi.Server expect to be
// filled in.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sage-edu/rag-core/internal/cache"
	"github.com/sage-edu/rag-core/internal/config"
	"github.com/sage-edu/rag-core/internal/handler"
	"github.com/sage-edu/rag-core/internal/middleware"
	"github.com/sage-edu/rag-core/internal/modeladapter"
	"github.com/sage-edu/rag-core/internal/router"
	"github.com/sage-edu/rag-core/internal/rpcapi"
	"github.com/sage-edu/rag-core/internal/service"
	"github.com/sage-edu/rag-core/internal/stats"
	"github.com/sage-edu/rag-core/internal/vectorstore"
)

const numClasses = 12

func main() {
	if err := run(); err != nil {
		slog.Error("fatal startup error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}

	pool, err := vectorstore.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/server: vector store unavailable: %w", err)
	}
	defer pool.Close()

	embedder := modeladapter.NewEmbedClient(cfg.EmbeddingEndpoint, cfg.EmbeddingDimensions)
	store := vectorstore.New(pool, embedder)

	// Per-class collections are opened once at startup and held for
	// process lifetime, per spec.md §3; a missing class is created empty.
	for classNum := 1; classNum <= numClasses; classNum++ {
		if err := store.OpenOrCreate(ctx, classNum); err != nil {
			return fmt.Errorf("cmd/server: opening class %d: %w", classNum, err)
		}
	}
	if status, err := store.IntegrityCheck(ctx); err != nil {
		return fmt.Errorf("cmd/server: vector store integrity check failed: %w", err)
	} else if status.Corrupt {
		slog.Warn("vector store degraded to read-only after recovery attempt")
	}

	modelAdapter := modeladapter.New(cfg.ModelEndpoint)
	if err := modelAdapter.HealthCheck(ctx); err != nil {
		// Non-fatal: the model may still come up later. Readiness will
		// report not-ready until it does.
		slog.Warn("model server not reachable at startup", "endpoint", cfg.ModelEndpoint, "err", err)
		modelAdapter.MarkUnloaded()
	}

	assembler := service.NewPromptAssembler(cfg.ModelContextWindow)
	retriever := service.NewRetriever(store)
	generator := service.NewGenerator(modelAdapter, assembler)
	streamer := service.NewStreamer(retriever, generator, assembler)

	var responseCache *cache.LRU
	if cfg.EnableCaching {
		responseCache = cache.New(cfg.MaxCacheSize)
	} else {
		responseCache = cache.NewDisabled()
	}
	counters := &service.Counters{}
	coordinator := service.NewCoordinator(retriever, generator, assembler, responseCache, counters, cfg.MaxRetrievalResults)
	reporter := stats.NewReporter(counters, store, modelAdapter, numClasses)

	registry := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(registry)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: 120,
		Window:      time.Minute,
	})
	defer rateLimiter.Stop()

	httpHandler := router.New(router.Dependencies{
		Chat:   handler.ChatDeps{Coordinator: coordinator, Streamer: streamer},
		Search: handler.SearchDeps{Retriever: retriever, Store: store},
		Health: handler.HealthDeps{Reporter: reporter},
		Admin: handler.AdminDeps{
			Reporter: reporter,
			Cache:    responseCache,
			Store:    store,
			Registry: registry,
		},
		Metrics:            metrics,
		Registry:           registry,
		RateLimiter:        rateLimiter,
		InternalAuthSecret: cfg.InternalAuthSecret,
		FrontendURL:        cfg.FrontendURL,
		RequestTimeout:     30 * time.Second,
	})

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler: httpHandler,
	}

	rpcapi.RegisterCodec()
	grpcServer := grpc.NewServer()
	rpcapi.RegisterServer(grpcServer, &rpcapi.Server{
		Coordinator: coordinator,
		Retriever:   retriever,
		Reporter:    reporter,
	})
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	errCh := make(chan error, 2)

	go func() {
		slog.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	grpcAddr := net.JoinHostPort(cfg.GRPCHost, strconv.Itoa(cfg.GRPCPort))
	grpcListener, grpcDisabled := listenWithReclaim(grpcAddr)
	if grpcListener != nil {
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		go func() {
			slog.Info("grpc server listening", "addr", grpcAddr)
			if err := grpcServer.Serve(grpcListener); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	} else if grpcDisabled {
		slog.Warn("grpc port unavailable after reclaim attempt; RPC surface disabled for this process lifetime", "addr", grpcAddr)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
	}

	// gRPC graceful-stop: 5s, per spec.md §5.
	gracefulDone := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(gracefulDone)
	}()
	select {
	case <-gracefulDone:
	case <-time.After(5 * time.Second):
		grpcServer.Stop()
	}

	return nil
}

// listenWithReclaim binds addr, attempting exactly one reclaim on failure:
// identify and terminate the process holding the port, wait, then retry
// once, per spec.md §5's "Startup contention on transport port". This is
// best-effort operational behavior, not a correctness requirement; on
// persistent failure it returns (nil, true) meaning "disabled, do not
// retry further".
func listenWithReclaim(addr string) (net.Listener, bool) {
	lis, err := net.Listen("tcp", addr)
	if err == nil {
		return lis, false
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		slog.Warn("grpc listen failed", "addr", addr, "err", err)
		return nil, true
	}

	slog.Warn("grpc port in use, attempting one reclaim", "addr", addr)
	if err := reclaimPort(addr); err != nil {
		slog.Warn("grpc port reclaim failed", "addr", addr, "err", err)
		return nil, true
	}

	time.Sleep(2 * time.Second)

	lis, err = net.Listen("tcp", addr)
	if err != nil {
		slog.Warn("grpc port still unavailable after reclaim attempt", "addr", addr, "err", err)
		return nil, true
	}
	return lis, false
}

// reclaimPort identifies and terminates the process currently bound to
// addr's port, using lsof where available. Linux/macOS only; on platforms
// without lsof this simply fails, which listenWithReclaim treats as a
// normal (non-fatal) disable-RPC outcome.
func reclaimPort(addr string) error {
	if runtime.GOOS == "windows" {
		return fmt.Errorf("port reclaim not supported on windows")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	out, err := exec.Command("lsof", "-t", "-i", ":"+port).Output()
	if err != nil {
		return fmt.Errorf("lsof: %w", err)
	}
	pid := string(out)
	if pid == "" {
		return fmt.Errorf("no holder found for port %s", port)
	}
	return exec.Command("kill", "-TERM", trimNewline(pid)).Run()
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
