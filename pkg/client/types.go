// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"time"
)

// Session describes one PTY session owned by the daemon.
type Session struct {
	// ID is the stable session identifier, normally the owning tab's id.
	ID string `json:"id"`

	// CWD is the session's current working directory, tracked live.
	CWD string `json:"cwd"`

	// Cols and Rows are the current PTY dimensions.
	Cols int `json:"cols"`
	Rows int `json:"rows"`

	// State is "running" or "exited".
	State string `json:"state"`

	// ExitCode is meaningful only once State is "exited".
	ExitCode int `json:"exitCode"`

	// PID is the shell process id.
	PID int `json:"pid"`
}

// AttachResult is the response to an attach call: either a brand-new
// session, a live reattachment with scrollback, or a cold-restore snapshot
// left over from a previous daemon run.
type AttachResult struct {
	ID            string    `json:"id"`
	IsNew         bool      `json:"isNew"`
	WasRecovered  bool      `json:"wasRecovered"`
	IsColdRestore bool      `json:"isColdRestore,omitempty"`
	Scrollback    string    `json:"scrollback"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
	State         string    `json:"state"`
}

// Snapshot is the persisted display state used for cold restore.
type Snapshot struct {
	ID           string    `json:"id"`
	Screen       string    `json:"screen"`
	CWD          string    `json:"cwd"`
	Cols         int       `json:"cols"`
	Rows         int       `json:"rows"`
	AltScreen    bool      `json:"altScreen"`
	PID          int       `json:"pid"`
	ProcessAlive bool      `json:"processAlive"`
	SavedAt      time.Time `json:"savedAt"`
}

// AttachOptions are the optional parameters of an attach. They only apply
// when the attach spawns a brand-new session.
type AttachOptions struct {
	CWD             string   `json:"cwd,omitempty"`
	Command         string   `json:"command,omitempty"`
	Cols            int      `json:"cols,omitempty"`
	Rows            int      `json:"rows,omitempty"`
	InitialCommands []string `json:"initialCommands,omitempty"`
}

// Workspace is the top-level container: a named set of worktrees, each with
// its own tabs, plus the persisted active selection.
type Workspace struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Worktrees        []Worktree `json:"worktrees"`
	ActiveWorktreeID string     `json:"activeWorktreeId,omitempty"`
	ActiveTabID      string     `json:"activeTabId,omitempty"`
}

// Worktree is one checkout within a workspace.
type Worktree struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Tabs   []Tab  `json:"tabs"`
}

// Tab is a terminal, a browser pane, or a group of tabs split into panes.
//
// For group tabs, Layout is the binary split tree: a leaf serializes as a
// bare tab-id string, an interior node as an object with direction, percent
// and two children. The client leaves it as raw JSON; interpreting the tree
// is the view's job.
type Tab struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	CWD      string          `json:"cwd,omitempty"`
	Command  string          `json:"command,omitempty"`
	Children []Tab           `json:"children,omitempty"`
	Layout   json.RawMessage `json:"layout,omitempty"`
}

// WorktreeInfo describes a git worktree discovered in the repository, as
// reported by git itself rather than recorded in a workspace.
type WorktreeInfo struct {
	Path     string `json:"path"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
	IsBare   bool   `json:"isBare,omitempty"`
	Detached bool   `json:"detached,omitempty"`
}

// Event is one entry in the daemon's event log.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Workspace string                 `json:"workspace,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
