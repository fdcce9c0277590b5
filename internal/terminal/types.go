// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package terminal owns the long-lived PTY sessions behind every terminal
// tab. Sessions are keyed by a stable id (the owning tab's id), live
// independently of any attached view, and survive view unmounts. A session
// is destroyed only by explicit removal, never by a viewer going away.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by the manager.
var (
	ErrSessionNotFound = errors.New("terminal session not found")
	ErrSessionExited   = errors.New("terminal session has exited")
)

// SpawnError reports a failed process spawn. It is returned to the caller
// as a structured result; a spawn failure never takes down the manager.
type SpawnError struct {
	ID  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn terminal %s: %v", e.ID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// State is the lifecycle state of a session.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
)

// Config holds terminal manager configuration.
type Config struct {
	Shell            string        // Default shell for new sessions
	ScrollbackBytes  int           // Per-session scrollback cap
	SettleDelay      time.Duration // Delay before typing initial commands into a fresh shell
	CwdPollInterval  time.Duration // How often to poll a session's working directory
	SnapshotInterval time.Duration // How often to checkpoint sessions for cold restore
}

// AttachOptions are the optional parameters of CreateOrAttach. They only
// apply when a brand-new session is spawned; reattachment ignores them so
// reconnecting never replays side effects.
type AttachOptions struct {
	CWD             string
	Command         string // Program to run instead of the default shell
	Cols            int
	Rows            int
	InitialCommands []string
}

// AttachResult is the response to a CreateOrAttach call.
type AttachResult struct {
	ID            string    `json:"id"`
	IsNew         bool      `json:"isNew"`
	WasRecovered  bool      `json:"wasRecovered"`
	IsColdRestore bool      `json:"isColdRestore,omitempty"`
	Scrollback    string    `json:"scrollback"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
	State         State     `json:"state"`
}

// Snapshot is the persisted display state of a session, used to reconstruct
// a best-effort terminal view after the daemon itself restarted. The screen
// bytes include escape sequences; interpreting them is the view's job.
type Snapshot struct {
	ID           string    `json:"id"`
	Screen       string    `json:"screen"`
	CWD          string    `json:"cwd"`
	Cols         int       `json:"cols"`
	Rows         int       `json:"rows"`
	AltScreen    bool      `json:"altScreen"`
	PID          int       `json:"pid"`
	ProcessAlive bool      `json:"processAlive"` // Recorded pid still running (orphan from a previous daemon)
	SavedAt      time.Time `json:"savedAt"`
}

// SessionInfo is the externally visible description of a session.
type SessionInfo struct {
	ID       string `json:"id"`
	CWD      string `json:"cwd"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
	State    State  `json:"state"`
	ExitCode int    `json:"exitCode"`
	PID      int    `json:"pid"`
}

// Manager is the PTY session manager contract the rest of the system
// depends on.
type Manager interface {
	// CreateOrAttach returns the live session for id, a cold-restore
	// snapshot if the daemon restarted, or spawns a brand-new session.
	// Concurrent calls for the same id are idempotent.
	CreateOrAttach(ctx context.Context, id string, opts AttachOptions) (AttachResult, error)
	// Write sends input to a session. Fire-and-forget; a write against a
	// dead or unknown id is logged and dropped.
	Write(id string, data []byte) error
	// Resize changes a session's size. Fire-and-forget like Write.
	Resize(id string, cols, rows int) error
	// GetHistory returns the buffered scrollback for a session that may
	// have no attached viewer.
	GetHistory(id string) (string, error)
	// Kill explicitly removes a session and its persisted snapshot.
	Kill(id string) error
	// Get returns session info.
	Get(id string) (SessionInfo, bool)
	// List returns all sessions.
	List() []SessionInfo
	// Close shuts down the manager, checkpointing every live session.
	Close() error
}
