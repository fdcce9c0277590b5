// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// WorkspaceClient provides access to the workspace/worktree/tab hierarchy.
//
// Access this client through [Client.Workspaces]:
//
//	workspaces, err := client.Workspaces.List(ctx)
type WorkspaceClient struct {
	c *Client
}

// CreateTabOptions are the optional parameters for creating or splitting a
// tab.
type CreateTabOptions struct {
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	CWD     string `json:"cwd,omitempty"`
	Command string `json:"command,omitempty"`
}

// List returns all workspaces.
func (w *WorkspaceClient) List(ctx context.Context) ([]Workspace, error) {
	data, err := w.c.get(ctx, "/api/v1/workspaces")
	if err != nil {
		return nil, err
	}

	var result struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse workspaces: %w", err)
	}
	return result.Workspaces, nil
}

// Get returns one workspace document.
func (w *WorkspaceClient) Get(ctx context.Context, id string) (*Workspace, error) {
	data, err := w.c.get(ctx, "/api/v1/workspaces/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to parse workspace: %w", err)
	}
	return &ws, nil
}

// Create registers a new workspace.
func (w *WorkspaceClient) Create(ctx context.Context, name string) (*Workspace, error) {
	data, err := w.c.postJSON(ctx, "/api/v1/workspaces", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to parse workspace: %w", err)
	}
	return &ws, nil
}

// SetSelection persists the active (worktree, tab) pair.
func (w *WorkspaceClient) SetSelection(ctx context.Context, workspaceID, worktreeID, tabID string) error {
	_, err := w.c.putJSON(ctx, "/api/v1/workspaces/"+url.PathEscape(workspaceID)+"/selection", map[string]string{
		"worktreeId": worktreeID,
		"tabId":      tabID,
	})
	return err
}

// AddWorktree attaches a worktree record to a workspace.
func (w *WorkspaceClient) AddWorktree(ctx context.Context, workspaceID string, wt Worktree) (*Worktree, error) {
	data, err := w.c.postJSON(ctx, "/api/v1/workspaces/"+url.PathEscape(workspaceID)+"/worktrees", map[string]string{
		"name":   wt.Name,
		"path":   wt.Path,
		"branch": wt.Branch,
	})
	if err != nil {
		return nil, err
	}

	var created Worktree
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("failed to parse worktree: %w", err)
	}
	return &created, nil
}

// RemoveWorktree detaches a worktree, killing the sessions of its tabs.
func (w *WorkspaceClient) RemoveWorktree(ctx context.Context, workspaceID, worktreeID string) error {
	_, err := w.c.delete(ctx, "/api/v1/workspaces/"+url.PathEscape(workspaceID)+"/worktrees/"+url.PathEscape(worktreeID))
	return err
}

// CreateTab creates a new top-level tab in a worktree.
func (w *WorkspaceClient) CreateTab(ctx context.Context, workspaceID, worktreeID string, opts CreateTabOptions) (*Tab, error) {
	path := fmt.Sprintf("/api/v1/workspaces/%s/worktrees/%s/tabs",
		url.PathEscape(workspaceID), url.PathEscape(worktreeID))
	data, err := w.c.postJSON(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	var tab Tab
	if err := json.Unmarshal(data, &tab); err != nil {
		return nil, fmt.Errorf("failed to parse tab: %w", err)
	}
	return &tab, nil
}

// SplitTab splits an existing tab into two panes, returning the new pane's
// tab.
func (w *WorkspaceClient) SplitTab(ctx context.Context, workspaceID, worktreeID, tabID string, opts CreateTabOptions) (*Tab, error) {
	path := fmt.Sprintf("/api/v1/workspaces/%s/worktrees/%s/tabs/%s/split",
		url.PathEscape(workspaceID), url.PathEscape(worktreeID), url.PathEscape(tabID))
	data, err := w.c.postJSON(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	var tab Tab
	if err := json.Unmarshal(data, &tab); err != nil {
		return nil, fmt.Errorf("failed to parse tab: %w", err)
	}
	return &tab, nil
}

// MoveTab re-parents a tab into the group tab targetParentID at
// targetIndex.
func (w *WorkspaceClient) MoveTab(ctx context.Context, workspaceID, worktreeID, tabID, targetParentID string, targetIndex int) error {
	path := fmt.Sprintf("/api/v1/workspaces/%s/worktrees/%s/tabs/%s/move",
		url.PathEscape(workspaceID), url.PathEscape(worktreeID), url.PathEscape(tabID))
	_, err := w.c.postJSON(ctx, path, map[string]interface{}{
		"targetParentId": targetParentID,
		"targetIndex":    targetIndex,
	})
	return err
}

// UpdateLayout replaces a group tab's layout tree. The tree uses the wire
// form described on [Tab].
func (w *WorkspaceClient) UpdateLayout(ctx context.Context, workspaceID, worktreeID, tabID string, tree json.RawMessage) error {
	path := fmt.Sprintf("/api/v1/workspaces/%s/worktrees/%s/tabs/%s/layout",
		url.PathEscape(workspaceID), url.PathEscape(worktreeID), url.PathEscape(tabID))
	_, err := w.c.putJSON(ctx, path, map[string]json.RawMessage{"tree": tree})
	return err
}

// ReorderTabs rewrites the order of one container's tabs. An empty
// parentTabID reorders the worktree's top-level tabs.
func (w *WorkspaceClient) ReorderTabs(ctx context.Context, workspaceID, worktreeID, parentTabID string, tabIDs []string) error {
	path := fmt.Sprintf("/api/v1/workspaces/%s/worktrees/%s/tabs/reorder",
		url.PathEscape(workspaceID), url.PathEscape(worktreeID))
	_, err := w.c.putJSON(ctx, path, map[string]interface{}{
		"parentTabId": parentTabID,
		"tabIds":      tabIDs,
	})
	return err
}

// DeleteTab closes a tab, cascading into its terminal sessions.
func (w *WorkspaceClient) DeleteTab(ctx context.Context, workspaceID, worktreeID, tabID string) error {
	path := fmt.Sprintf("/api/v1/workspaces/%s/worktrees/%s/tabs/%s",
		url.PathEscape(workspaceID), url.PathEscape(worktreeID), url.PathEscape(tabID))
	_, err := w.c.delete(ctx, path)
	return err
}
