package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/docstore"
	"github.com/starford/snippets/internal/graph"
	"github.com/starford/snippets/internal/index"
	"github.com/starford/snippets/internal/noteservice"
	"github.com/starford/snippets/internal/pending"
	"github.com/starford/snippets/internal/sse"
	"github.com/starford/snippets/internal/storage"
)

// components is everything both the HTTP server and the stdio MCP server
// run on top of.
type components struct {
	fs      *storage.FS
	db      *index.DB
	queue   pending.Queue
	graph   *graph.Store
	store   *docstore.Store
	agent   *agent.Client
	service *noteservice.Service
	closers []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// build opens the workspace. notifier receives store and graph change
// events and may be nil.
func build(cfg *Config, notifier docstore.Notifier, logger *slog.Logger) (*components, error) {
	for _, dir := range []string{cfg.Notes.Root, cfg.Workspace.AgentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	c := &components{}
	var err error
	if c.fs, err = storage.NewFS(cfg.Notes.Root); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if c.db, err = index.Open(cfg.Index.Path); err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	c.closers = append(c.closers, c.db)

	if c.queue, err = pending.Open(cfg.Queue.Pending(cfg.Workspace.PendingDir())); err != nil {
		c.Close()
		return nil, fmt.Errorf("init pending queue: %w", err)
	}
	if closer, ok := c.queue.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	var graphNotifier graph.Notifier
	if notifier != nil {
		graphNotifier = notifier
	}
	c.graph = graph.New(cfg.Workspace.ConnectionsFile(), graphNotifier, logger)

	c.store, err = docstore.New(docstore.Options{
		Storage:       c.fs,
		Queue:         c.queue,
		Index:         c.db,
		Edges:         c.graph,
		Notifier:      notifier,
		IconsPath:     cfg.Workspace.IconsFile(),
		DefaultFolder: cfg.Notes.DefaultFolder,
		Logger:        logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init document store: %w", err)
	}

	c.agent = agent.New(agent.Config{
		GatewayURL: cfg.Agent.GatewayURL,
		HooksToken: cfg.Agent.HooksToken,
		Model:      cfg.Agent.Model,
		Timeout:    cfg.Agent.RequestTimeout,
	}, logger)

	return c, nil
}

// prepare brings the tree into shape before anything is served.
func (c *components) prepare(ctx context.Context, logger *slog.Logger) error {
	if err := c.store.EnsureFolders(ctx); err != nil {
		return err
	}
	if n, err := c.store.AdoptRootNotes(ctx); err != nil {
		logger.Warn("adopting root notes failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("root notes moved to default folder", slog.Int("count", n))
	}
	if _, err := c.store.MigrateFolderIcons(ctx); err != nil {
		logger.Warn("folder icon migration failed", slog.String("error", err.Error()))
	}
	if err := index.Sync(c.db, c.fs, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return nil
}

func (c *components) newService(cfg *Config, jobs noteservice.JobCounter, logger *slog.Logger) error {
	svc, err := noteservice.New(noteservice.Options{
		Store:       c.store,
		Agent:       c.agent,
		Jobs:        jobs,
		Graph:       c.graph,
		MemoryFile:  cfg.Workspace.MemoryFile,
		MissionFile: cfg.Workspace.MissionFile,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init note service: %w", err)
	}
	c.service = svc
	return nil
}
