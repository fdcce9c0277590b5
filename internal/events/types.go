// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process event bus for Arbor. The terminal
// manager publishes output/exit/cwd events here, the workspace manager
// publishes hierarchy changes, and the API layer fans events out to
// connected views over WebSocket.
package events

import (
	"context"
	"time"
)

// Event is an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Workspace string                 `json:"workspace,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// Handler processes received events.
type Handler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// Filter selects events from history.
type Filter struct {
	Types     []string  // Event type patterns (supports wildcards)
	Workspace string    // Filter by workspace
	Since     time.Time // Events after this time
	Until     time.Time // Events before this time
	Limit     int       // Maximum events to return
}

// Bus is the pub/sub interface the rest of the system depends on.
type Bus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler Handler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with a buffered channel.
	SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter Filter) ([]Event, error)

	// Close shuts down the bus gracefully.
	Close() error
}

// Event types published by the core components.
const (
	// Terminal session events
	EventTerminalOutput     = "terminal.output"
	EventTerminalExited     = "terminal.exited"
	EventTerminalCwdChanged = "terminal.cwdChanged"

	// Tab hierarchy events
	EventTabCreated = "tab.created"
	EventTabMoved   = "tab.moved"
	EventTabDeleted = "tab.deleted"
	EventTabLayout  = "tab.layoutChanged"

	// Workspace events
	EventWorkspaceSelection = "workspace.selectionChanged"

	// Worktree discovery events
	EventWorktreeAdded   = "worktree.added"
	EventWorktreeRemoved = "worktree.removed"
)
