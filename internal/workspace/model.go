// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace owns the workspace -> worktree -> tab hierarchy and the
// pane layout trees attached to group tabs. All mutation goes through the
// Manager, which persists each workspace as one JSON document and keeps the
// tab list and the layout trees consistent with each other.
package workspace

import (
	"errors"

	"github.com/arborhq/arbor/internal/layout"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrWorktreeNotFound  = errors.New("worktree not found")
	ErrTabNotFound       = errors.New("tab not found")
	ErrNotAGroup         = errors.New("tab is not a group")
	ErrInvalidMove       = errors.New("invalid tab move")
)

// TabType distinguishes what a tab renders.
type TabType string

const (
	TabTerminal TabType = "terminal"
	TabGroup    TabType = "group"
	TabBrowser  TabType = "browser"
)

// Tab is one entry in a worktree's tab strip. A terminal tab owns the
// terminal session with the same id. A group tab owns its children
// exclusively, plus a layout tree over their ids.
type Tab struct {
	ID       string       `json:"id"`
	Type     TabType      `json:"type"`
	Name     string       `json:"name"`
	CWD      string       `json:"cwd,omitempty"`
	Command  string       `json:"command,omitempty"`
	Children []*Tab       `json:"children,omitempty"`
	Layout   *layout.Node `json:"layout,omitempty"`
}

// IsGroup reports whether the tab holds child tabs behind a layout tree.
func (t *Tab) IsGroup() bool {
	return t.Type == TabGroup
}

// Worktree is one git worktree with its ordered top-level tabs.
type Worktree struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Tabs   []*Tab `json:"tabs"`
}

// Workspace is the root of the hierarchy. The active selection is persisted
// so a reload lands the user where they left off.
type Workspace struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Worktrees        []*Worktree `json:"worktrees"`
	ActiveWorktreeID string      `json:"activeWorktreeId,omitempty"`
	ActiveTabID      string      `json:"activeTabId,omitempty"`
}

// findWorktree returns the worktree with the given id, or nil.
func (w *Workspace) findWorktree(id string) *Worktree {
	for _, wt := range w.Worktrees {
		if wt.ID == id {
			return wt
		}
	}
	return nil
}

// findTab searches the worktree's tabs recursively. It returns the tab, its
// parent group (nil for top-level tabs), and the tab's index within its
// container.
func (wt *Worktree) findTab(id string) (tab *Tab, parent *Tab, index int) {
	return findTabIn(wt.Tabs, nil, id)
}

func findTabIn(tabs []*Tab, parent *Tab, id string) (*Tab, *Tab, int) {
	for i, t := range tabs {
		if t.ID == id {
			return t, parent, i
		}
		if len(t.Children) > 0 {
			if found, p, idx := findTabIn(t.Children, t, id); found != nil {
				return found, p, idx
			}
		}
	}
	return nil, nil, -1
}

// containsTab reports whether id is the tab itself or any descendant.
func containsTab(t *Tab, id string) bool {
	if t.ID == id {
		return true
	}
	for _, c := range t.Children {
		if containsTab(c, id) {
			return true
		}
	}
	return false
}

// terminalIDs collects the ids of the tab and all descendants that own a
// terminal session.
func terminalIDs(t *Tab, out []string) []string {
	if t.Type == TabTerminal {
		out = append(out, t.ID)
	}
	for _, c := range t.Children {
		out = terminalIDs(c, out)
	}
	return out
}

// removeAt deletes the element at index i preserving order.
func removeAt(tabs []*Tab, i int) []*Tab {
	return append(tabs[:i], tabs[i+1:]...)
}

// insertAt inserts tab at index i, clamping i into range.
func insertAt(tabs []*Tab, i int, tab *Tab) []*Tab {
	if i < 0 || i > len(tabs) {
		i = len(tabs)
	}
	tabs = append(tabs, nil)
	copy(tabs[i+1:], tabs[i:])
	tabs[i] = tab
	return tabs
}
