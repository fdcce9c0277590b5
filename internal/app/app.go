// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package app assembles and runs the Arbor daemon.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/arborhq/arbor/internal/api"
	"github.com/arborhq/arbor/internal/attach"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/events"
	"github.com/arborhq/arbor/internal/terminal"
	"github.com/arborhq/arbor/internal/workspace"
	"github.com/arborhq/arbor/internal/worktree"
)

// App is the main application container.
type App struct {
	configPath string
	version    string
	config     *config.Config

	eventBus         *events.MemoryBus
	snapshotStore    *terminal.SnapshotStore
	terminalManager  terminal.Manager
	workspaceManager *workspace.Manager
	worktreeWatcher  *worktree.Watcher
	apiServer        *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance. ConfigPath may be empty, in which case
// built-in defaults are used.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	var cfg *config.Config
	if opts.ConfigPath != "" {
		loader := config.NewLoader()
		loaded, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	app.config = cfg

	app.eventBus = events.NewMemoryBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.Duration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Initialize wires up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", cfg.StateDir, err)
	}

	// Snapshot store for cold restore after a daemon restart
	store, err := terminal.OpenSnapshotStore(ctx, filepath.Join(cfg.StateDir, "snapshots.db"))
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	app.snapshotStore = store

	app.terminalManager = terminal.NewManager(terminal.Config{
		Shell:            cfg.Terminal.Shell,
		ScrollbackBytes:  cfg.Terminal.ScrollbackBytes,
		SettleDelay:      config.Duration(cfg.Terminal.SettleDelay, 500*time.Millisecond),
		CwdPollInterval:  config.Duration(cfg.Terminal.CwdPollInterval, 2*time.Second),
		SnapshotInterval: config.Duration(cfg.Terminal.SnapshotInterval, 30*time.Second),
	}, app.eventBus, store)

	wsManager, err := workspace.NewManager(
		workspace.NewStore(filepath.Join(cfg.StateDir, "workspaces")),
		app.eventBus,
		app.terminalManager,
	)
	if err != nil {
		return fmt.Errorf("load workspaces: %w", err)
	}
	app.workspaceManager = wsManager

	// Worktree discovery is optional: without a repo dir (or a .git to
	// watch) the rest of the daemon still works.
	if cfg.Worktree.RepoDir != "" {
		watcher, err := worktree.NewWatcher(
			cfg.Worktree.RepoDir,
			&worktree.RealGitExecutor{},
			app.eventBus,
			config.Duration(cfg.Worktree.WatchDebounce, 500*time.Millisecond),
		)
		if err != nil {
			log.Printf("Warning: worktree discovery disabled: %v", err)
		} else {
			app.worktreeWatcher = watcher
			log.Printf("Watching %s, %d worktrees known", cfg.Worktree.RepoDir, len(watcher.Known()))
		}
	}

	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		},
		api.Dependencies{
			TerminalManager:  app.terminalManager,
			WorkspaceManager: app.workspaceManager,
			WorktreeWatcher:  app.worktreeWatcher,
			EventBus:         app.eventBus,
			AttachConfig: attach.Config{
				SettleWindow: config.Duration(cfg.Attach.SettleWindow, 150*time.Millisecond),
				GracePeriod:  config.Duration(cfg.Attach.GracePeriod, 100*time.Millisecond),
			},
		},
	)

	return nil
}

// Start starts the API server in the background.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting API server on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
			app.Stop()
		}
	}()
	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components. Terminal sessions are
// checkpointed before their processes go down, so the next daemon start can
// cold-restore their screens.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests first
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.worktreeWatcher != nil {
		app.worktreeWatcher.Close()
	}

	if app.workspaceManager != nil {
		app.workspaceManager.Close()
	}

	if app.terminalManager != nil {
		if err := app.terminalManager.Close(); err != nil {
			log.Printf("Error closing terminal manager: %v", err)
		}
	}

	if app.snapshotStore != nil {
		if err := app.snapshotStore.Close(); err != nil {
			log.Printf("Error closing snapshot store: %v", err)
		}
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
