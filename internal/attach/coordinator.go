// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package attach implements the view-side coordination for one terminal:
// the reattachment handshake and the resize/write ordering rules. Each
// coordinator is an explicit state machine
//
//	Detached -> Attaching -> Live <-> Resizing
//
// with Exited and ColdRestored as additional reachable states. While a
// resize is settling, incoming output is queued instead of rendered so the
// remote process never repaints against stale dimensions; the queue is
// flushed in arrival order as a single write once the new size has had a
// grace period to take effect.
package attach

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arborhq/arbor/internal/terminal"
)

// State is the coordinator's connection state.
type State string

const (
	StateDetached     State = "detached"
	StateAttaching    State = "attaching"
	StateLive         State = "live"
	StateResizing     State = "resizing"
	StateExited       State = "exited"
	StateColdRestored State = "coldRestored"
)

// Backend is the subset of the session manager a view talks to.
type Backend interface {
	CreateOrAttach(ctx context.Context, id string, opts terminal.AttachOptions) (terminal.AttachResult, error)
	Write(id string, data []byte) error
	Resize(id string, cols, rows int) error
}

// Config tunes the resize windows.
type Config struct {
	SettleWindow time.Duration // Debounce for rapid container-size changes
	GracePeriod  time.Duration // Wait after sending resize before rendering queued output
}

const (
	defaultSettleWindow = 150 * time.Millisecond
	defaultGracePeriod  = 100 * time.Millisecond
)

// Coordinator serializes writes and resizes for one terminal view. It is a
// single-threaded cooperative state machine: every entry point and timer
// callback takes the mutex, so transitions are totally ordered.
type Coordinator struct {
	mu      sync.Mutex
	id      string
	backend Backend
	render  func(string)
	cfg     Config

	state          State
	writeQueue     []string
	isInitialSetup bool
	lastSentCols   int
	lastSentRows   int
	pendingCols    int
	pendingRows    int

	debouncer  *Debouncer
	graceTimer *time.Timer
}

// NewCoordinator creates a coordinator for one terminal id. render receives
// every chunk of output that should reach the screen, in order.
func NewCoordinator(id string, backend Backend, render func(string), cfg Config) *Coordinator {
	if cfg.SettleWindow <= 0 {
		cfg.SettleWindow = defaultSettleWindow
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &Coordinator{
		id:        id,
		backend:   backend,
		render:    render,
		cfg:       cfg,
		state:     StateDetached,
		debouncer: NewDebouncer(cfg.SettleWindow),
	}
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attach performs the create-or-attach handshake and renders the replayed
// scrollback (or cold-restore screen). The next container fit after Attach
// is treated as the view's own auto-fit and does not reach the backend.
func (c *Coordinator) Attach(ctx context.Context, opts terminal.AttachOptions) (terminal.AttachResult, error) {
	c.mu.Lock()
	if c.state == StateAttaching {
		c.mu.Unlock()
		return terminal.AttachResult{}, fmt.Errorf("terminal %s: attach already in progress", c.id)
	}
	c.state = StateAttaching
	c.mu.Unlock()

	result, err := c.backend.CreateOrAttach(ctx, c.id, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDetached
		return terminal.AttachResult{}, err
	}

	if result.Scrollback != "" {
		c.render(result.Scrollback)
	}

	c.isInitialSetup = true
	c.lastSentCols = 0
	c.lastSentRows = 0
	switch {
	case result.IsColdRestore:
		c.state = StateColdRestored
	case result.State == terminal.StateExited:
		c.state = StateExited
	default:
		c.state = StateLive
	}
	return result, nil
}

// Write sends user input straight through. Input is never queued; only
// output rendering is deferred during a resize.
func (c *Coordinator) Write(data string) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateLive && state != StateResizing {
		log.Printf("Terminal %s: dropping input in state %s", c.id, state)
		return
	}
	if err := c.backend.Write(c.id, []byte(data)); err != nil {
		log.Printf("Terminal %s: write failed: %v", c.id, err)
	}
}

// HandleOutput receives one output chunk from the event stream. While a
// resize is settling the chunk is queued; otherwise it renders immediately.
func (c *Coordinator) HandleOutput(data string) {
	c.mu.Lock()
	if c.state == StateResizing {
		c.writeQueue = append(c.writeQueue, data)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.render(data)
}

// SetContainerSize reports a new container fit. Rapid changes are coalesced
// in the settle window; the view's initial auto-fit right after attach is
// swallowed so reattaching never forces a spurious prompt repaint.
func (c *Coordinator) SetContainerSize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}

	c.mu.Lock()
	if c.state != StateLive && c.state != StateResizing {
		c.mu.Unlock()
		return
	}

	if c.isInitialSetup {
		// First real fit after history replay: record it, send nothing.
		c.isInitialSetup = false
		c.lastSentCols = cols
		c.lastSentRows = rows
		c.mu.Unlock()
		return
	}

	c.state = StateResizing
	c.pendingCols = cols
	c.pendingRows = rows
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()

	c.debouncer.Debounce(c.id, c.settleElapsed)
}

// settleElapsed runs when the size has been stable for the settle window.
func (c *Coordinator) settleElapsed() {
	c.mu.Lock()
	if c.state != StateResizing {
		c.mu.Unlock()
		return
	}
	cols, rows := c.pendingCols, c.pendingRows
	changed := cols != c.lastSentCols || rows != c.lastSentRows
	if changed {
		c.lastSentCols = cols
		c.lastSentRows = rows
	}
	c.mu.Unlock()

	if changed {
		if err := c.backend.Resize(c.id, cols, rows); err != nil {
			log.Printf("Terminal %s: resize failed: %v", c.id, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateResizing {
		return
	}
	if !changed {
		// Nothing was sent, so there is nothing to wait for.
		c.finishResizeLocked()
		return
	}
	c.graceTimer = time.AfterFunc(c.cfg.GracePeriod, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateResizing {
			c.finishResizeLocked()
		}
	})
}

// finishResizeLocked flushes the queue as one concatenated write in arrival
// order and returns to Live. Caller holds the mutex.
func (c *Coordinator) finishResizeLocked() {
	c.state = StateLive
	c.graceTimer = nil
	if len(c.writeQueue) == 0 {
		return
	}
	var flushed string
	for _, chunk := range c.writeQueue {
		flushed += chunk
	}
	c.writeQueue = nil
	c.render(flushed)
}

// HandleExit reacts to the terminal's own process death. Queued output is
// flushed so the final lines (e.g. "exit") are not lost.
func (c *Coordinator) HandleExit(exitCode int) {
	c.debouncer.Cancel(c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if len(c.writeQueue) > 0 {
		var flushed string
		for _, chunk := range c.writeQueue {
			flushed += chunk
		}
		c.writeQueue = nil
		c.render(flushed)
	}
	c.state = StateExited
}

// HandleDisconnect reacts to losing the backend event stream. The terminal
// is detached, not closed: a later Attach picks the session back up.
func (c *Coordinator) HandleDisconnect() {
	c.debouncer.Cancel(c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.writeQueue = nil
	c.state = StateDetached
}

// Close tears down timers. The backend session is left running.
func (c *Coordinator) Close() {
	c.debouncer.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.state = StateDetached
}
