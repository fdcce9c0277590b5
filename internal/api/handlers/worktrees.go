// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/arborhq/arbor/internal/worktree"
)

// WorktreeHandler exposes the repository's discovered worktree set.
type WorktreeHandler struct {
	watcher *worktree.Watcher
}

// NewWorktreeHandler creates a new worktree handler.
func NewWorktreeHandler(watcher *worktree.Watcher) *WorktreeHandler {
	return &WorktreeHandler{watcher: watcher}
}

// List returns the worktrees known at the last sync.
func (h *WorktreeHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"worktrees": h.watcher.Known(),
	})
}

// Resync forces a fresh `git worktree list` and publishes the diff.
func (h *WorktreeHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.watcher.Resync(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrWorktreeError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"worktrees": h.watcher.Known(),
	})
}
