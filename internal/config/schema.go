// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the arbor daemon.
package config

import (
	"time"
)

// Config is the root configuration structure for Arbor.
type Config struct {
	Version  string         `json:"version"`
	Server   ServerConfig   `json:"server"`
	StateDir string         `json:"state_dir"` // Workspace documents and the snapshot database live here
	Terminal TerminalConfig `json:"terminal"`
	Attach   AttachConfig   `json:"attach"`
	Events   EventsConfig   `json:"events"`
	Worktree WorktreeConfig `json:"worktree"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// TerminalConfig configures PTY sessions.
type TerminalConfig struct {
	Shell            string `json:"shell"`             // Empty falls back to $SHELL, then /bin/sh
	ScrollbackBytes  int    `json:"scrollback_bytes"`  // Per-session scrollback ring size
	SettleDelay      string `json:"settle_delay"`      // Wait before typing initial commands (e.g. "500ms")
	CwdPollInterval  string `json:"cwd_poll_interval"` // How often /proc/<pid>/cwd is checked
	SnapshotInterval string `json:"snapshot_interval"` // Cold-restore checkpoint cadence
}

// AttachConfig configures the view-side resize coordination.
type AttachConfig struct {
	SettleWindow string `json:"settle_window"` // Debounce for rapid container-size changes
	GracePeriod  string `json:"grace_period"`  // Wait after a resize before rendering queued output
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig bounds the retained event history.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WorktreeConfig configures git worktree discovery.
type WorktreeConfig struct {
	RepoDir       string `json:"repo_dir"`       // Repository for worktree discovery (defaults to the config file dir)
	WatchDebounce string `json:"watch_debounce"` // Coalescing window for .git filesystem events
}

// Duration parses a duration string, returning fallback on empty or
// malformed values. Config durations are advisory, not load-fatal.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
