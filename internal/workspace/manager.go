// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/events"
	"github.com/arborhq/arbor/internal/layout"
	"github.com/arborhq/arbor/internal/terminal"
)

// SessionKiller is the slice of the terminal manager the hierarchy needs:
// tab deletion cascades into killing the owned session.
type SessionKiller interface {
	Kill(id string) error
}

// CreateTabOptions carries the optional fields of tab.create.
type CreateTabOptions struct {
	CWD     string
	Command string
}

// Manager owns every workspace document. One mutex covers all hierarchy
// mutation; operations are short and purely structural, so contention is
// not a concern at this scale.
type Manager struct {
	mu         sync.Mutex
	store      *Store
	bus        events.Bus
	killer     SessionKiller
	workspaces map[string]*Workspace

	exitSub events.SubscriptionID
}

// NewManager loads all persisted workspaces and subscribes to terminal exit
// events so a shell exiting on its own closes its tab like a user would.
// Persisted selections pointing at tabs that no longer exist are cleared.
func NewManager(store *Store, bus events.Bus, killer SessionKiller) (*Manager, error) {
	loaded, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load workspaces: %w", err)
	}

	m := &Manager{
		store:      store,
		bus:        bus,
		killer:     killer,
		workspaces: make(map[string]*Workspace),
	}
	for _, ws := range loaded {
		m.validateSelection(ws)
		m.workspaces[ws.ID] = ws
	}

	// Async so the cascade (which may block in Kill waiting for the reader
	// goroutine) never runs inside the terminal manager's publish path.
	sub, err := bus.SubscribeAsync(events.EventTerminalExited, m.handleTerminalExit, 16)
	if err != nil {
		return nil, fmt.Errorf("subscribe to exit events: %w", err)
	}
	m.exitSub = sub
	return m, nil
}

// Close drops the exit subscription. Workspace state is already on disk.
func (m *Manager) Close() {
	if err := m.bus.Unsubscribe(m.exitSub); err != nil {
		log.Printf("Workspace manager: unsubscribe failed: %v", err)
	}
}

// validateSelection nulls a persisted selection whose tab is gone.
func (m *Manager) validateSelection(ws *Workspace) {
	if ws.ActiveWorktreeID == "" && ws.ActiveTabID == "" {
		return
	}
	wt := ws.findWorktree(ws.ActiveWorktreeID)
	if wt == nil {
		ws.ActiveWorktreeID = ""
		ws.ActiveTabID = ""
		return
	}
	if ws.ActiveTabID != "" {
		if tab, _, _ := wt.findTab(ws.ActiveTabID); tab == nil {
			ws.ActiveTabID = ""
		}
	}
}

// CreateWorkspace registers and persists a new workspace.
func (m *Manager) CreateWorkspace(name string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws := &Workspace{ID: uuid.NewString(), Name: name}
	if err := m.store.Save(ws); err != nil {
		return nil, err
	}
	m.workspaces[ws.ID] = ws
	return ws, nil
}

// Get returns a deep-copied snapshot of one workspace.
func (m *Manager) Get(id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[id]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return cloneWorkspace(ws), nil
}

// List returns snapshots of every workspace.
func (m *Manager) List() []*Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, cloneWorkspace(ws))
	}
	return out
}

// AddWorktree attaches a worktree record to a workspace.
func (m *Manager) AddWorktree(ctx context.Context, workspaceID string, wt Worktree) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	if wt.ID == "" {
		wt.ID = uuid.NewString()
	}
	if ws.findWorktree(wt.ID) != nil {
		return nil, fmt.Errorf("worktree %s already registered", wt.ID)
	}
	record := wt
	ws.Worktrees = append(ws.Worktrees, &record)
	if err := m.store.Save(ws); err != nil {
		return nil, err
	}
	m.publish(ctx, events.EventWorktreeAdded, workspaceID, map[string]interface{}{
		"id": record.ID, "path": record.Path, "branch": record.Branch,
	})
	copied := record
	return &copied, nil
}

// RemoveWorktree detaches a worktree and cascades into its tabs' sessions.
func (m *Manager) RemoveWorktree(ctx context.Context, workspaceID, worktreeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return ErrWorkspaceNotFound
	}
	for i, wt := range ws.Worktrees {
		if wt.ID != worktreeID {
			continue
		}
		for _, tab := range wt.Tabs {
			m.killSessions(tab)
		}
		ws.Worktrees = append(ws.Worktrees[:i], ws.Worktrees[i+1:]...)
		if ws.ActiveWorktreeID == worktreeID {
			ws.ActiveWorktreeID = ""
			ws.ActiveTabID = ""
		}
		if err := m.store.Save(ws); err != nil {
			return err
		}
		m.publish(ctx, events.EventWorktreeRemoved, workspaceID, map[string]interface{}{"id": worktreeID})
		return nil
	}
	return ErrWorktreeNotFound
}

// CreateTab appends a new top-level tab to a worktree. The terminal session
// itself is spawned lazily on the first attach, not here.
func (m *Manager) CreateTab(ctx context.Context, workspaceID, worktreeID, name string, typ TabType, opts CreateTabOptions) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, wt, err := m.findWorktreeLocked(workspaceID, worktreeID)
	if err != nil {
		return nil, err
	}

	tab := &Tab{
		ID:      uuid.NewString(),
		Type:    typ,
		Name:    name,
		CWD:     opts.CWD,
		Command: opts.Command,
	}
	wt.Tabs = append(wt.Tabs, tab)
	if err := m.store.Save(ws); err != nil {
		return nil, err
	}
	m.publish(ctx, events.EventTabCreated, workspaceID, map[string]interface{}{
		"id": tab.ID, "worktreeId": worktreeID, "name": name, "type": string(typ),
	})
	return cloneTab(tab), nil
}

// SplitTab turns a leaf tab into half of a split. If the tab already sits
// inside a group, the new tab joins that group's tree; otherwise a group tab
// is synthesized in place, adopting the original and the new tab as its two
// children behind a 50/50 row split.
func (m *Manager) SplitTab(ctx context.Context, workspaceID, worktreeID, tabID, newName string, opts CreateTabOptions) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, wt, err := m.findWorktreeLocked(workspaceID, worktreeID)
	if err != nil {
		return nil, err
	}
	tab, parent, index := wt.findTab(tabID)
	if tab == nil {
		return nil, ErrTabNotFound
	}
	if tab.IsGroup() {
		return nil, fmt.Errorf("split %s: %w: cannot split a group tab", tabID, ErrInvalidMove)
	}

	newTab := &Tab{
		ID:      uuid.NewString(),
		Type:    TabTerminal,
		Name:    newName,
		CWD:     opts.CWD,
		Command: opts.Command,
	}

	if parent != nil {
		parent.Children = append(parent.Children, newTab)
		parent.Layout = layout.Insert(parent.Layout, newTab.ID)
	} else {
		group := &Tab{
			ID:       uuid.NewString(),
			Type:     TabGroup,
			Name:     tab.Name,
			Children: []*Tab{tab, newTab},
			Layout:   layout.BuildDefault([]string{tab.ID, newTab.ID}),
		}
		wt.Tabs[index] = group
	}

	if err := m.store.Save(ws); err != nil {
		return nil, err
	}
	m.publish(ctx, events.EventTabCreated, workspaceID, map[string]interface{}{
		"id": newTab.ID, "worktreeId": worktreeID, "name": newName, "type": string(TabTerminal), "splitFrom": tabID,
	})
	return cloneTab(newTab), nil
}

// MoveTab re-parents a tab, then updates the target tree, then the source
// tree, in that order. A source group left with a single child dissolves:
// the survivor is promoted into the group's former position.
func (m *Manager) MoveTab(ctx context.Context, workspaceID, worktreeID, tabID string, targetParentID string, targetIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, wt, err := m.findWorktreeLocked(workspaceID, worktreeID)
	if err != nil {
		return err
	}
	tab, sourceParent, sourceIndex := wt.findTab(tabID)
	if tab == nil {
		return ErrTabNotFound
	}

	var targetParent *Tab
	if targetParentID != "" {
		targetParent, _, _ = wt.findTab(targetParentID)
		if targetParent == nil {
			return fmt.Errorf("move %s: target parent: %w", tabID, ErrTabNotFound)
		}
		if !targetParent.IsGroup() {
			return fmt.Errorf("move %s into %s: %w", tabID, targetParentID, ErrNotAGroup)
		}
		if containsTab(tab, targetParentID) {
			return fmt.Errorf("move %s into its own descendant %s: %w", tabID, targetParentID, ErrInvalidMove)
		}
	}
	if sourceParent == targetParent && targetParent != nil {
		return nil
	}

	// Phase 1: ownership moves first so the tab is never parentless.
	if sourceParent != nil {
		sourceParent.Children = removeAt(sourceParent.Children, sourceIndex)
	} else {
		wt.Tabs = removeAt(wt.Tabs, sourceIndex)
	}
	if targetParent != nil {
		targetParent.Children = insertAt(targetParent.Children, targetIndex, tab)
	} else {
		wt.Tabs = insertAt(wt.Tabs, targetIndex, tab)
	}

	// Phase 2: target tree gains the pane.
	if targetParent != nil {
		targetParent.Layout = layout.Insert(targetParent.Layout, tabID)
	}

	// Phase 3: source tree loses the pane; dissolve if one child remains.
	if sourceParent != nil {
		sourceParent.Layout = layout.Remove(sourceParent.Layout, tabID)
		m.dissolveIfSingleChild(wt, sourceParent)
	}

	if err := m.store.Save(ws); err != nil {
		return err
	}
	m.publish(ctx, events.EventTabMoved, workspaceID, map[string]interface{}{
		"id": tabID, "worktreeId": worktreeID, "targetParentId": targetParentID, "targetIndex": targetIndex,
	})
	return nil
}

// dissolveIfSingleChild promotes a group's sole remaining child into the
// group's own position. A group left empty vanishes outright.
func (m *Manager) dissolveIfSingleChild(wt *Worktree, group *Tab) {
	if len(group.Children) > 1 {
		return
	}
	_, groupParent, groupIndex := wt.findTab(group.ID)
	switch len(group.Children) {
	case 1:
		survivor := group.Children[0]
		if groupParent != nil {
			groupParent.Children[groupIndex] = survivor
			groupParent.Layout = layout.Remove(groupParent.Layout, group.ID)
			groupParent.Layout = layout.Insert(groupParent.Layout, survivor.ID)
		} else {
			wt.Tabs[groupIndex] = survivor
		}
	case 0:
		if groupParent != nil {
			groupParent.Children = removeAt(groupParent.Children, groupIndex)
			groupParent.Layout = layout.Remove(groupParent.Layout, group.ID)
		} else {
			wt.Tabs = removeAt(wt.Tabs, groupIndex)
		}
	}
}

// UpdateLayoutTree replaces a group's layout tree. Panes present in the old
// tree but absent from the new one were closed by a direct layout edit, so
// their tabs (and sessions) are deleted as part of the same operation.
func (m *Manager) UpdateLayoutTree(ctx context.Context, workspaceID, worktreeID, tabID string, tree *layout.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, wt, err := m.findWorktreeLocked(workspaceID, worktreeID)
	if err != nil {
		return err
	}
	group, _, _ := wt.findTab(tabID)
	if group == nil {
		return ErrTabNotFound
	}
	if !group.IsGroup() {
		return fmt.Errorf("update layout of %s: %w", tabID, ErrNotAGroup)
	}
	if err := layout.Validate(tree); err != nil {
		return fmt.Errorf("update layout of %s: %w", tabID, err)
	}

	childIDs := make(map[string]bool, len(group.Children))
	for _, c := range group.Children {
		childIDs[c.ID] = true
	}
	newLeaves := layout.Leaves(tree)
	for _, id := range newLeaves {
		if !childIDs[id] {
			return fmt.Errorf("update layout of %s: pane %s is not a child tab", tabID, id)
		}
	}

	kept := make(map[string]bool, len(newLeaves))
	for _, id := range newLeaves {
		kept[id] = true
	}
	var dropped []*Tab
	for _, c := range group.Children {
		if !kept[c.ID] {
			dropped = append(dropped, c)
		}
	}

	group.Layout = tree
	for _, c := range dropped {
		m.killSessions(c)
		if _, p, idx := wt.findTab(c.ID); p != nil {
			p.Children = removeAt(p.Children, idx)
		}
		m.publish(ctx, events.EventTabDeleted, workspaceID, map[string]interface{}{
			"id": c.ID, "worktreeId": worktreeID, "cause": "layoutEdit",
		})
	}

	if err := m.store.Save(ws); err != nil {
		return err
	}
	m.publish(ctx, events.EventTabLayout, workspaceID, map[string]interface{}{
		"id": tabID, "worktreeId": worktreeID,
	})
	return nil
}

// ReorderTabs rewrites the order of one container's tabs. The id set must
// match exactly; reorder never adds or removes tabs.
func (m *Manager) ReorderTabs(ctx context.Context, workspaceID, worktreeID, parentTabID string, tabIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, wt, err := m.findWorktreeLocked(workspaceID, worktreeID)
	if err != nil {
		return err
	}

	container := &wt.Tabs
	if parentTabID != "" {
		parent, _, _ := wt.findTab(parentTabID)
		if parent == nil {
			return fmt.Errorf("reorder under %s: %w", parentTabID, ErrTabNotFound)
		}
		if !parent.IsGroup() {
			return fmt.Errorf("reorder under %s: %w", parentTabID, ErrNotAGroup)
		}
		container = &parent.Children
	}

	current := *container
	if len(tabIDs) != len(current) {
		return fmt.Errorf("reorder: got %d ids, container has %d tabs", len(tabIDs), len(current))
	}
	byID := make(map[string]*Tab, len(current))
	for _, t := range current {
		byID[t.ID] = t
	}
	reordered := make([]*Tab, 0, len(tabIDs))
	for _, id := range tabIDs {
		t, ok := byID[id]
		if !ok {
			return fmt.Errorf("reorder: %s: %w", id, ErrTabNotFound)
		}
		delete(byID, id)
		reordered = append(reordered, t)
	}
	*container = reordered

	if err := m.store.Save(ws); err != nil {
		return err
	}
	m.publish(ctx, events.EventTabMoved, workspaceID, map[string]interface{}{
		"worktreeId": worktreeID, "parentTabId": parentTabID, "order": tabIDs,
	})
	return nil
}

// DeleteTab closes a tab: sessions die first, then the pane leaves its
// parent's tree, then selection moves to the adjacent sibling at
// min(closedIndex, siblingCount-1), or clears if none remain.
func (m *Manager) DeleteTab(ctx context.Context, workspaceID, worktreeID, tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTabLocked(ctx, workspaceID, worktreeID, tabID, "close")
}

func (m *Manager) deleteTabLocked(ctx context.Context, workspaceID, worktreeID, tabID, cause string) error {
	ws, wt, err := m.findWorktreeLocked(workspaceID, worktreeID)
	if err != nil {
		return err
	}
	tab, parent, index := wt.findTab(tabID)
	if tab == nil {
		return ErrTabNotFound
	}

	m.killSessions(tab)

	var siblings []*Tab
	if parent != nil {
		parent.Children = removeAt(parent.Children, index)
		parent.Layout = layout.Remove(parent.Layout, tabID)
		siblings = parent.Children
	} else {
		wt.Tabs = removeAt(wt.Tabs, index)
		siblings = wt.Tabs
	}

	if ws.ActiveTabID != "" && containsTab(tab, ws.ActiveTabID) {
		if len(siblings) > 0 {
			next := index
			if next > len(siblings)-1 {
				next = len(siblings) - 1
			}
			ws.ActiveTabID = siblings[next].ID
		} else if parent != nil {
			ws.ActiveTabID = parent.ID
		} else {
			ws.ActiveTabID = ""
		}
	}

	if err := m.store.Save(ws); err != nil {
		return err
	}
	m.publish(ctx, events.EventTabDeleted, workspaceID, map[string]interface{}{
		"id": tabID, "worktreeId": worktreeID, "cause": cause,
	})
	return nil
}

// SetActiveSelection records the active (worktree, tab) pair. The tab must
// exist; persisted selections are re-validated on load instead.
func (m *Manager) SetActiveSelection(ctx context.Context, workspaceID, worktreeID, tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return ErrWorkspaceNotFound
	}
	if worktreeID != "" {
		wt := ws.findWorktree(worktreeID)
		if wt == nil {
			return ErrWorktreeNotFound
		}
		if tabID != "" {
			if tab, _, _ := wt.findTab(tabID); tab == nil {
				return ErrTabNotFound
			}
		}
	}
	ws.ActiveWorktreeID = worktreeID
	ws.ActiveTabID = tabID
	if err := m.store.Save(ws); err != nil {
		return err
	}
	m.publish(ctx, events.EventWorkspaceSelection, workspaceID, map[string]interface{}{
		"worktreeId": worktreeID, "tabId": tabID,
	})
	return nil
}

// handleTerminalExit closes the owning tab when a shell exits on its own,
// running the exact cascade an explicit close runs.
func (m *Manager) handleTerminalExit(ctx context.Context, event events.Event) error {
	id, _ := event.Payload["id"].(string)
	if id == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.workspaces {
		for _, wt := range ws.Worktrees {
			if tab, _, _ := wt.findTab(id); tab != nil {
				if err := m.deleteTabLocked(ctx, ws.ID, wt.ID, id, "processExit"); err != nil {
					log.Printf("Workspace manager: close tab %s after exit: %v", id, err)
				}
				return nil
			}
		}
	}
	return nil
}

// killSessions kills the terminal sessions of a tab and all descendants.
// Unknown or already-dead sessions are fine.
func (m *Manager) killSessions(tab *Tab) {
	for _, id := range terminalIDs(tab, nil) {
		if err := m.killer.Kill(id); err != nil && !errors.Is(err, terminal.ErrSessionNotFound) {
			log.Printf("Workspace manager: kill session %s: %v", id, err)
		}
	}
}

func (m *Manager) findWorktreeLocked(workspaceID, worktreeID string) (*Workspace, *Worktree, error) {
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return nil, nil, ErrWorkspaceNotFound
	}
	wt := ws.findWorktree(worktreeID)
	if wt == nil {
		return nil, nil, ErrWorktreeNotFound
	}
	return ws, wt, nil
}

func (m *Manager) publish(ctx context.Context, eventType, workspaceID string, payload map[string]interface{}) {
	err := m.bus.Publish(ctx, events.Event{
		Type:      eventType,
		Workspace: workspaceID,
		Payload:   payload,
	})
	if err != nil && !errors.Is(err, events.ErrBusClosed) {
		log.Printf("Workspace manager: publish %s: %v", eventType, err)
	}
}

func cloneWorkspace(ws *Workspace) *Workspace {
	out := &Workspace{
		ID:               ws.ID,
		Name:             ws.Name,
		ActiveWorktreeID: ws.ActiveWorktreeID,
		ActiveTabID:      ws.ActiveTabID,
	}
	for _, wt := range ws.Worktrees {
		copied := &Worktree{ID: wt.ID, Name: wt.Name, Path: wt.Path, Branch: wt.Branch}
		for _, t := range wt.Tabs {
			copied.Tabs = append(copied.Tabs, cloneTab(t))
		}
		out.Worktrees = append(out.Worktrees, copied)
	}
	return out
}

func cloneTab(t *Tab) *Tab {
	out := &Tab{
		ID:      t.ID,
		Type:    t.Type,
		Name:    t.Name,
		CWD:     t.CWD,
		Command: t.Command,
		Layout:  t.Layout.Clone(),
	}
	for _, c := range t.Children {
		out.Children = append(out.Children, cloneTab(c))
	}
	return out
}
