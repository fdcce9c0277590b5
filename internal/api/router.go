// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package api wires the HTTP router for the Arbor server.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/internal/api/handlers"
	"github.com/arborhq/arbor/internal/api/middleware"
	"github.com/arborhq/arbor/internal/attach"
	"github.com/arborhq/arbor/internal/events"
	"github.com/arborhq/arbor/internal/terminal"
	"github.com/arborhq/arbor/internal/workspace"
	"github.com/arborhq/arbor/internal/worktree"
)

// ServerConfig holds the API server configuration.
type ServerConfig struct {
	Host string
	Port int
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	TerminalManager  terminal.Manager
	WorkspaceManager *workspace.Manager
	WorktreeWatcher  *worktree.Watcher // may be nil when no repo is configured
	EventBus         events.Bus
	AttachConfig     attach.Config
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(deps Dependencies) *mux.Router {
	return newRouter(deps, handlers.NewTerminalHandler(deps.TerminalManager, deps.EventBus, deps.AttachConfig))
}

func newRouter(deps Dependencies, terminalHandler *handlers.TerminalHandler) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	workspaceHandler := handlers.NewWorkspaceHandler(deps.WorkspaceManager)
	eventHandler := handlers.NewEventHandler(deps.EventBus)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Terminals
	api.HandleFunc("/terminals", terminalHandler.List).Methods("GET")
	api.HandleFunc("/terminals/ws", terminalHandler.WebSocket).Methods("GET")
	api.HandleFunc("/terminals/{id}/attach", terminalHandler.Attach).Methods("POST")
	api.HandleFunc("/terminals/{id}/input", terminalHandler.Input).Methods("POST")
	api.HandleFunc("/terminals/{id}/resize", terminalHandler.Resize).Methods("POST")
	api.HandleFunc("/terminals/{id}/history", terminalHandler.History).Methods("GET")
	api.HandleFunc("/terminals/{id}", terminalHandler.Kill).Methods("DELETE")

	// Workspaces and their worktree/tab hierarchy
	api.HandleFunc("/workspaces", workspaceHandler.List).Methods("GET")
	api.HandleFunc("/workspaces", workspaceHandler.Create).Methods("POST")
	api.HandleFunc("/workspaces/{ws}", workspaceHandler.Get).Methods("GET")
	api.HandleFunc("/workspaces/{ws}/selection", workspaceHandler.SetSelection).Methods("PUT")
	api.HandleFunc("/workspaces/{ws}/worktrees", workspaceHandler.AddWorktree).Methods("POST")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}", workspaceHandler.RemoveWorktree).Methods("DELETE")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}/tabs", workspaceHandler.CreateTab).Methods("POST")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}/tabs/reorder", workspaceHandler.ReorderTabs).Methods("PUT")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}/tabs/{tab}/split", workspaceHandler.SplitTab).Methods("POST")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}/tabs/{tab}/move", workspaceHandler.MoveTab).Methods("POST")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}/tabs/{tab}/layout", workspaceHandler.UpdateLayout).Methods("PUT")
	api.HandleFunc("/workspaces/{ws}/worktrees/{wt}/tabs/{tab}", workspaceHandler.DeleteTab).Methods("DELETE")

	// Repository worktree discovery
	if deps.WorktreeWatcher != nil {
		worktreeHandler := handlers.NewWorktreeHandler(deps.WorktreeWatcher)
		api.HandleFunc("/worktrees", worktreeHandler.List).Methods("GET")
		api.HandleFunc("/worktrees/resync", worktreeHandler.Resync).Methods("POST")
	}

	// Events
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	return r
}

// Server represents the API server.
type Server struct {
	router          *mux.Router
	cfg             ServerConfig
	server          *http.Server
	terminalHandler *handlers.TerminalHandler
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	terminalHandler := handlers.NewTerminalHandler(deps.TerminalManager, deps.EventBus, deps.AttachConfig)
	return &Server{
		router:          newRouter(deps, terminalHandler),
		cfg:             cfg,
		terminalHandler: terminalHandler,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server, closing terminal WebSockets
// first so in-flight connections don't hold the drain open.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.terminalHandler != nil {
		s.terminalHandler.Shutdown()
	}
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
