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

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/pageservice"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
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

	// Initialize structured JSON logger. In MCP mode stdout belongs to the
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
		slog.String("notebook_path", cfg.Notebook.Path),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure notebook directory exists.
	if err := os.MkdirAll(cfg.Notebook.Path, 0o755); err != nil {
		return fmt.Errorf("create notebook dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Notebook.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Open the index cache. Schema drift and corruption recover transparently.
	ix, err := index.Open(cfg.Cache.Path, store, index.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer ix.Close()

	// Initial reconcile, pull-driven: one work unit per loop step so startup
	// stays responsive to shutdown.
	if err := initialUpdate(ctx, ix, logger); err != nil {
		return err
	}

	if app.mcpMode {
		return runMCP(ctx, store, ix, logger)
	}

	// SSE broker, fed by index commits and watcher page events.
	broker := sse.NewBroker(cfg.Cache.ChangedThrottle)
	defer broker.Close()
	ix.OnChanged(broker.PublishIndexChanged)

	// Build API service and router.
	svc := pageservice.NewService(store, ix)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		up, err := ix.IsUpToDate()
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		if up {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		} else {
			_, _ = w.Write([]byte(`{"status":"ok","index":"catching-up"}`))
		}
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		err := index.Watch(gCtx, ix, store, cfg.Notebook.Path, logger, func(kind, path string) {
			if index.IsPageFile(path) {
				broker.PublishPageEvent(kind, index.PageNameFromPath(path))
			}
		})
		if err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

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

// initialUpdate reconciles the cache against the notebook at startup. The
// pull-based run is paced one work unit at a time and abandoned cleanly on
// shutdown, leaving the cache exactly as it was.
func initialUpdate(ctx context.Context, ix *index.Index, logger *slog.Logger) error {
	run, err := ix.CheckAndUpdateIter(nil)
	if err != nil {
		return fmt.Errorf("initial check: %w", err)
	}
	defer run.Close()

	units := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("initial check abandoned", slog.Int("units", units))
			return ctx.Err()
		default:
		}
		more, err := run.Step()
		if err != nil {
			return fmt.Errorf("initial check: %w", err)
		}
		if !more {
			logger.Info("initial check finished",
				slog.Int("units", units), slog.Int("flagged", run.Flagged()))
			return nil
		}
		units++
	}
}

// runMCP serves the MCP protocol on stdio, with the watcher keeping the index
// fresh in the background.
func runMCP(ctx context.Context, store storage.Provider, ix *index.Index, logger *slog.Logger) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := index.Watch(gCtx, ix, store, store.Root(), logger, nil)
		if err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting MCP server on stdio")
		srv := mcpserver.New(store, ix)
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
