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

	"github.com/starford/snippets/internal/api"
	"github.com/starford/snippets/internal/index"
	"github.com/starford/snippets/internal/jobs"
	"github.com/starford/snippets/internal/mcpserver"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/sse"
	"github.com/starford/snippets/internal/telemetry"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("notes_root", cfg.Notes.Root),
		slog.String("agent_dir", cfg.Workspace.AgentDir),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("gateway_url", cfg.Agent.GatewayURL),
		slog.Bool("hooks_token_set", cfg.Agent.HooksToken != ""),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(sse.Config{Logger: logger})
	defer broker.Close()

	c, err := build(cfg, broker, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.prepare(ctx, logger); err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}

	var authToken string
	if cfg.Auth.AuthEnabled() {
		authToken = cfg.Auth.Token
	}
	tracker, err := jobs.New(jobs.Options{
		Config: jobs.Config{
			Path:          cfg.Workspace.JobsFile(),
			Cooldown:      cfg.Jobs.Cooldown,
			Timeout:       cfg.Jobs.Timeout,
			StaleAfter:    cfg.Jobs.StaleAfter,
			SweepInterval: cfg.Jobs.SweepInterval,
			PublicURL:     cfg.Agent.PublicURL,
			AuthToken:     authToken,
		},
		Notes:      c.store,
		Dispatcher: c.agent,
		Edges:      c.graph,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init job tracker: %w", err)
	}
	defer tracker.Close()

	if err := c.newService(cfg, tracker, logger); err != nil {
		return err
	}

	apiRouter := api.NewRouter(api.Deps{
		Service:     c.service,
		Jobs:        tracker,
		Events:      broker,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
	})
	mcpSrv := mcpserver.New(c.service, tracker)

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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Mount("/api", apiRouter)
	r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Handle("/mcp", mcpSrv.HTTPHandler())

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		targets := index.Targets{
			AgentDir:    cfg.Workspace.AgentDir,
			MemoryFile:  cfg.Workspace.MemoryFile,
			MissionFile: cfg.Workspace.MissionFile,
		}
		if err := index.Watch(gCtx, c.db, c.fs, targets, logger, watchEvents(broker)); err != nil {
			logger.Warn("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Reap stalled agent jobs.
	g.Go(func() error {
		return tracker.Run(gCtx)
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
		defer signal.Stop(quit)

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

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the agent tools over stdin/stdout. Agent action callbacks
// stay with the HTTP server that owns the job table, so complete_action is
// not offered here.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	c, err := build(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.prepare(ctx, logger); err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	if err := c.newService(cfg, nil, logger); err != nil {
		return err
	}

	logger.Info("MCP server starting on stdio", slog.String("notes_root", cfg.Notes.Root))
	return mcpserver.New(c.service, nil).ServeStdio()
}

// watchEvents maps watcher events onto broker messages.
func watchEvents(b *sse.Broker) index.EventCallback {
	return func(ev index.Event) {
		switch ev.Source {
		case index.SourceNotes:
			b.PublishNoteFile(ev.Kind, ev.Path)
		case index.SourceAgent:
			b.PublishAgentChange()
		case index.SourceMemory:
			b.Notify(models.EventMemoryUpdated)
		case index.SourceMission:
			b.Notify(models.EventMissionUpdated)
		}
	}
}
