// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arborhq/arbor/internal/events"
)

const defaultResyncDebounce = 500 * time.Millisecond

// Watcher keeps the known worktree set of one repository in sync with what
// git reports. Filesystem events on the repo's .git directory (worktree
// admin dirs appear and disappear there) trigger a debounced resync; the
// diff is published as worktree.added / worktree.removed events.
type Watcher struct {
	mu       sync.Mutex
	repoDir  string
	git      GitExecutor
	bus      events.Bus
	debounce time.Duration
	known    map[string]Info

	fsWatcher   *fsnotify.Watcher
	resyncTimer *time.Timer
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// NewWatcher creates a watcher for one repository and runs the initial sync
// so Known reflects the current worktree set. debounce <= 0 uses a default.
func NewWatcher(repoDir string, git GitExecutor, bus events.Bus, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultResyncDebounce
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		repoDir:   repoDir,
		git:       git,
		bus:       bus,
		debounce:  debounce,
		known:     make(map[string]Info),
		fsWatcher: fsWatcher,
		closeCh:   make(chan struct{}),
	}

	// .git itself catches the worktrees/ dir appearing; worktrees/ catches
	// individual admin dirs. Either may not exist yet; that's fine.
	gitDir := filepath.Join(repoDir, ".git")
	if err := fsWatcher.Add(gitDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", gitDir, err)
	}
	if err := fsWatcher.Add(filepath.Join(gitDir, "worktrees")); err != nil {
		log.Printf("Worktree watcher: %s has no worktrees dir yet", repoDir)
	}

	if err := w.Resync(context.Background()); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Known returns the current worktree set, sorted by git's own ordering at
// the last sync.
func (w *Watcher) Known() []Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Info, 0, len(w.known))
	for _, info := range w.known {
		out = append(out, info)
	}
	return out
}

// Resync lists worktrees and publishes the diff against the known set.
func (w *Watcher) Resync(ctx context.Context) error {
	current, err := w.git.WorktreeList(ctx, w.repoDir)
	if err != nil {
		return fmt.Errorf("resync worktrees: %w", err)
	}

	w.mu.Lock()
	var added, removed []Info
	seen := make(map[string]bool, len(current))
	for _, info := range current {
		seen[info.Path] = true
		if _, ok := w.known[info.Path]; !ok {
			w.known[info.Path] = info
			added = append(added, info)
		}
	}
	for path, info := range w.known {
		if !seen[path] {
			delete(w.known, path)
			removed = append(removed, info)
		}
	}
	w.mu.Unlock()

	for _, info := range added {
		w.publish(ctx, events.EventWorktreeAdded, info)
	}
	for _, info := range removed {
		w.publish(ctx, events.EventWorktreeRemoved, info)
	}
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.resyncTimer != nil {
		w.resyncTimer.Stop()
	}
	close(w.closeCh)
	w.mu.Unlock()

	w.fsWatcher.Close()
	w.wg.Wait()
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("Worktree watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	// The worktrees dir may have just appeared; start watching inside it.
	if event.Has(fsnotify.Create) && filepath.Base(event.Name) == "worktrees" {
		if err := w.fsWatcher.Add(event.Name); err != nil {
			log.Printf("Worktree watcher: watch %s: %v", event.Name, err)
		}
	}

	w.scheduleResync()
}

// scheduleResync coalesces a burst of filesystem events into one resync.
func (w *Watcher) scheduleResync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.resyncTimer != nil {
		w.resyncTimer.Stop()
	}
	w.resyncTimer = time.AfterFunc(w.debounce, func() {
		if err := w.Resync(context.Background()); err != nil {
			log.Printf("Worktree watcher: %v", err)
		}
	})
}

func (w *Watcher) publish(ctx context.Context, eventType string, info Info) {
	err := w.bus.Publish(ctx, events.Event{
		Type: eventType,
		Payload: map[string]interface{}{
			"path":   info.Path,
			"name":   info.Name(),
			"branch": info.Branch,
		},
	})
	if err != nil && !errors.Is(err, events.ErrBusClosed) {
		log.Printf("Worktree watcher: publish %s: %v", eventType, err)
	}
}
