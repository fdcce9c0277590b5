// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/internal/layout"
	"github.com/arborhq/arbor/internal/workspace"
)

// WorkspaceHandler handles the workspace/worktree/tab hierarchy commands.
type WorkspaceHandler struct {
	mgr *workspace.Manager
}

// NewWorkspaceHandler creates a new workspace handler.
func NewWorkspaceHandler(mgr *workspace.Manager) *WorkspaceHandler {
	return &WorkspaceHandler{mgr: mgr}
}

// writeWorkspaceError maps hierarchy errors onto the response envelope.
func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrWorkspaceNotFound),
		errors.Is(err, workspace.ErrWorktreeNotFound),
		errors.Is(err, workspace.ErrTabNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, workspace.ErrNotAGroup),
		errors.Is(err, workspace.ErrInvalidMove),
		errors.Is(err, layout.ErrNilChild),
		errors.Is(err, layout.ErrDuplicateLeaf),
		errors.Is(err, layout.ErrBadPercentage),
		errors.Is(err, layout.ErrBadDirection):
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrWorkspaceError, err.Error())
	}
}

// List returns all workspaces.
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": h.mgr.List(),
	})
}

// Get returns one workspace document.
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, err := h.mgr.Get(mux.Vars(r)["ws"])
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

// Create registers a new workspace.
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "name is required")
		return
	}

	ws, err := h.mgr.CreateWorkspace(req.Name)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ws)
}

// SetSelection persists the active (worktree, tab) pair.
func (h *WorkspaceHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorktreeID string `json:"worktreeId"`
		TabID      string `json:"tabId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.mgr.SetActiveSelection(r.Context(), mux.Vars(r)["ws"], req.WorktreeID, req.TabID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddWorktree attaches a worktree record to a workspace.
func (h *WorkspaceHandler) AddWorktree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Path   string `json:"path"`
		Branch string `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "path is required")
		return
	}

	wt, err := h.mgr.AddWorktree(r.Context(), mux.Vars(r)["ws"], workspace.Worktree{
		Name:   req.Name,
		Path:   req.Path,
		Branch: req.Branch,
	})
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, wt)
}

// RemoveWorktree detaches a worktree, killing the sessions of its tabs.
func (h *WorkspaceHandler) RemoveWorktree(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.mgr.RemoveWorktree(r.Context(), vars["ws"], vars["wt"]); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// CreateTab creates a new top-level tab in a worktree.
func (h *WorkspaceHandler) CreateTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		CWD     string `json:"cwd"`
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	typ := workspace.TabType(req.Type)
	if typ == "" {
		typ = workspace.TabTerminal
	}

	vars := mux.Vars(r)
	tab, err := h.mgr.CreateTab(r.Context(), vars["ws"], vars["wt"], req.Name, typ, workspace.CreateTabOptions{
		CWD:     req.CWD,
		Command: req.Command,
	})
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tab)
}

// SplitTab splits an existing tab, creating the new pane's tab.
func (h *WorkspaceHandler) SplitTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		CWD     string `json:"cwd"`
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	vars := mux.Vars(r)
	tab, err := h.mgr.SplitTab(r.Context(), vars["ws"], vars["wt"], vars["tab"], req.Name, workspace.CreateTabOptions{
		CWD:     req.CWD,
		Command: req.Command,
	})
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tab)
}

// MoveTab re-parents a tab.
func (h *WorkspaceHandler) MoveTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetParentID string `json:"targetParentId"`
		TargetIndex    int    `json:"targetIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	vars := mux.Vars(r)
	if err := h.mgr.MoveTab(r.Context(), vars["ws"], vars["wt"], vars["tab"], req.TargetParentID, req.TargetIndex); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

// UpdateLayout persists a group tab's layout tree.
func (h *WorkspaceHandler) UpdateLayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tree *layout.Node `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Tree == nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "tree is required")
		return
	}

	vars := mux.Vars(r)
	if err := h.mgr.UpdateLayoutTree(r.Context(), vars["ws"], vars["wt"], vars["tab"], req.Tree); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReorderTabs rewrites the order of one container's tabs.
func (h *WorkspaceHandler) ReorderTabs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentTabID string   `json:"parentTabId"`
		TabIDs      []string `json:"tabIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	vars := mux.Vars(r)
	if err := h.mgr.ReorderTabs(r.Context(), vars["ws"], vars["wt"], req.ParentTabID, req.TabIDs); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteTab closes a tab, cascading into its terminal sessions.
func (h *WorkspaceHandler) DeleteTab(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.mgr.DeleteTab(r.Context(), vars["ws"], vars["wt"], vars["tab"]); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
