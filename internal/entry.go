// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sm-moshi/aimemory-sub003/internal/api"
	"github.com/sm-moshi/aimemory-sub003/internal/bankservice"
	"github.com/sm-moshi/aimemory-sub003/internal/cache"
	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/index"
	"github.com/sm-moshi/aimemory-sub003/internal/mcpserver"
	"github.com/sm-moshi/aimemory-sub003/internal/resource"
	"github.com/sm-moshi/aimemory-sub003/internal/schema"
	"github.com/sm-moshi/aimemory-sub003/internal/sse"
	"github.com/sm-moshi/aimemory-sub003/internal/streaming"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("bank_path", cfg.Bank.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure bank directory exists.
	if err := os.MkdirAll(cfg.Bank.Path, 0o755); err != nil {
		return fmt.Errorf("create bank dir: %w", err)
	}

	// Build the storage and indexing stack.
	ops := fileops.New(cfg.Bank.Path, logger)
	reader := streaming.New(ops, logger,
		streaming.WithThreshold(cfg.Streaming.Threshold),
		streaming.WithChunkSize(cfg.Streaming.ChunkSize),
		streaming.WithTimeout(cfg.Streaming.Timeout))
	contentCache := cache.New(cfg.Cache.MaxEntries)
	validator := schema.New(cfg.Bank.SchemaDir)

	idx := index.NewManager(ops, reader, validator, logger, index.Config{
		IndexRelPath: cfg.Index.RelPath,
		Patterns:     cfg.Bank.Patterns,
		AutoRebuild:  cfg.Index.AutoRebuild,
		Debounce:     cfg.Index.Debounce,
		MaxAge:       cfg.Index.MaxAge,
	})
	defer idx.Close()

	svc := bankservice.NewService(ops, reader, contentCache, idx, logger)
	if err := svc.InitializeStorage(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Resource lifecycle manager sweeps idle tracked resources and reclaims
	// everything on shutdown.
	resources := resource.New(cfg.Resources.IdleTimeout, cfg.Resources.SweepInterval, logger)
	defer func() {
		if err := resources.Shutdown(); err != nil {
			logger.Error("resource shutdown error", slog.String("error", err.Error()))
		}
	}()

	if app.mcpMode {
		return runMCP(ctx, cfg, svc, idx, logger)
	}

	// SSE broker, fed by index events.
	broker := sse.NewBroker(2 * time.Second)
	idx.Subscribe(broker.Listener())
	resources.Register("sse-broker", func() error {
		broker.Close()
		return nil
	})

	// Build API router.
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Liveness endpoint (unauthenticated); readiness lives at /api/health.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher when auto rebuild is on.
	if cfg.Index.AutoRebuild {
		g.Go(func() error {
			if err := idx.Watch(gCtx); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// runMCP serves the Model Context Protocol on stdin/stdout, with the file
// watcher keeping the index current in the background.
func runMCP(ctx context.Context, cfg *Config, svc *bankservice.Service, idx *index.Manager, logger *slog.Logger) error {
	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Index.AutoRebuild {
		g.Go(func() error {
			if err := idx.Watch(gCtx); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting MCP server on stdio")
		if err := mcpserver.New(svc).ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
