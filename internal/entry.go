// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/starford/xhsdl/internal/events"
	"github.com/starford/xhsdl/internal/extractor"
	"github.com/starford/xhsdl/internal/fetch"
	"github.com/starford/xhsdl/internal/ledger"
	"github.com/starford/xhsdl/internal/mcpserver"
	"github.com/starford/xhsdl/internal/naming"
	"github.com/starford/xhsdl/internal/pipeline"
	"github.com/starford/xhsdl/internal/prefs"
	"github.com/starford/xhsdl/internal/retriever"
	"github.com/starford/xhsdl/internal/state"
	"github.com/starford/xhsdl/internal/storage"
)

const defaultVersion = "dev"

// App holds the wired components shared by every command.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Pipeline *pipeline.Orchestrator
	Ledger   *ledger.DB
	Prefs    *prefs.Store
	Library  *storage.FS

	version string
}

// New wires the application from the given options. Callers must Close
// the returned App.
func New(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logOutput == nil {
		app.logOutput = os.Stderr
	}
	if app.version == "" {
		app.version = defaultVersion
	}

	cfg := app.config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Structured JSON logs go to stderr; stdout carries command output
	// and the MCP stdio protocol.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("library_path", cfg.Library.Path),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("prefs_path", cfg.Prefs.Path),
		slog.Int("workers", cfg.Download.Workers),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	library, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return nil, fmt.Errorf("init library: %w", err)
	}

	workDir := cfg.Download.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "xhsdl")
	}
	client := fetch.New(cfg.HTTP.FetchConfig())
	ret, err := retriever.New(client, workDir, cfg.Download.Timeout)
	if err != nil {
		return nil, fmt.Errorf("init retriever: %w", err)
	}

	if dir := filepath.Dir(cfg.Ledger.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	store, err := prefs.Open(cfg.Prefs.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init prefs: %w", err)
	}

	orch, err := pipeline.New(pipeline.Deps{
		Fetcher:   client,
		Extractor: extractor.Extractor{Evaluator: state.Evaluator{Timeout: cfg.State.EvalTimeout}},
		Retriever: ret,
		Library:   library,
		Fallback:  library.Fallback(),
		Ledger:    db,
		Prefs:     store.Current,
		Events:    events.NewBroker(),
		Logger:    logger,
		Workers:   cfg.Download.Workers,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Pipeline: orch,
		Ledger:   db,
		Prefs:    store,
		Library:  library,
		version:  app.version,
	}, nil
}

// Close releases the broker and the ledger.
func (a *App) Close() error {
	a.Pipeline.Events().Close()
	return a.Ledger.Close()
}

// Download runs the full pipeline on text, writing every event line to w
// as it happens.
func (a *App) Download(ctx context.Context, text string, w io.Writer) (pipeline.Result, error) {
	broker := a.Pipeline.Events()
	ch := broker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			fmt.Fprintln(w, e.Line())
		}
	}()

	res, err := a.Pipeline.Run(ctx, text)
	broker.Unsubscribe(ch)
	<-done
	return res, err
}

// ServeMCP serves the MCP tools over stdio and hot-reloads naming
// preferences until stdin closes or ctx is cancelled.
func (a *App) ServeMCP(ctx context.Context) error {
	srv := mcpserver.New(a.Pipeline, a.Ledger, a.version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		a.Logger.Info("Starting MCP stdio server", slog.String("version", a.version))
		if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.Prefs.Watch(gCtx, a.Logger, func(p naming.Preferences) {
			a.Logger.Info("naming preferences reloaded",
				slog.Bool("enabled", p.Enabled),
				slog.String("template", p.Template))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Warn("preferences watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	a.Logger.Info("MCP server stopped")
	return nil
}

// Run wires the application and serves MCP until shutdown.
func Run(ctx context.Context, opts ...Option) error {
	app, err := New(opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.ServeMCP(ctx)
}
