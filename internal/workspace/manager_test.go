// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/events"
	"github.com/arborhq/arbor/internal/layout"
)

type fakeKiller struct {
	mu     sync.Mutex
	killed []string
}

func (k *fakeKiller) Kill(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, id)
	return nil
}

func (k *fakeKiller) killedIDs() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.killed...)
}

func newTestManager(t *testing.T) (*Manager, *Store, events.Bus, *fakeKiller) {
	t.Helper()
	store := NewStore(t.TempDir())
	bus := events.NewMemoryBus(events.MemoryBusConfig{})
	killer := &fakeKiller{}
	m, err := NewManager(store, bus, killer)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		bus.Close()
	})
	return m, store, bus, killer
}

// seedWorktree creates a workspace with one worktree and returns their ids.
func seedWorktree(t *testing.T, m *Manager) (workspaceID, worktreeID string) {
	t.Helper()
	ws, err := m.CreateWorkspace("main")
	require.NoError(t, err)
	wt, err := m.AddWorktree(context.Background(), ws.ID, Worktree{Name: "feature", Path: "/repo/feature", Branch: "feature"})
	require.NoError(t, err)
	return ws.ID, wt.ID
}

// seedGroup builds a 3-child group via split operations and returns the
// group and its children in order.
func seedGroup(t *testing.T, m *Manager, wsID, wtID string) (group *Tab, children []*Tab) {
	t.Helper()
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.SplitTab(ctx, wsID, wtID, a.ID, "b", CreateTabOptions{})
	require.NoError(t, err)
	c, err := m.SplitTab(ctx, wsID, wtID, a.ID, "c", CreateTabOptions{})
	require.NoError(t, err)

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	require.Len(t, wt.Tabs, 1)
	group = wt.Tabs[0]
	require.Equal(t, TabGroup, group.Type)
	require.Len(t, group.Children, 3)

	aTab, _, _ := wt.findTab(a.ID)
	bTab, _, _ := wt.findTab(b.ID)
	cTab, _, _ := wt.findTab(c.ID)
	return group, []*Tab{aTab, bTab, cTab}
}

func TestManager_CreateTabPersists(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)

	tab, err := m.CreateTab(context.Background(), wsID, wtID, "shell", TabTerminal, CreateTabOptions{CWD: "/repo"})
	require.NoError(t, err)
	assert.NotEmpty(t, tab.ID)

	// A fresh manager over the same store sees the tab.
	bus2 := events.NewMemoryBus(events.MemoryBusConfig{})
	defer bus2.Close()
	m2, err := NewManager(store, bus2, &fakeKiller{})
	require.NoError(t, err)
	defer m2.Close()

	ws, err := m2.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	require.Len(t, wt.Tabs, 1)
	assert.Equal(t, "shell", wt.Tabs[0].Name)
	assert.Equal(t, "/repo", wt.Tabs[0].CWD)
}

func TestManager_CreateTabUnknownWorktree(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, _ := seedWorktree(t, m)

	_, err := m.CreateTab(context.Background(), wsID, "ghost", "shell", TabTerminal, CreateTabOptions{})
	assert.ErrorIs(t, err, ErrWorktreeNotFound)

	_, err = m.CreateTab(context.Background(), "ghost", "ghost", "shell", TabTerminal, CreateTabOptions{})
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestManager_SplitTopLevelSynthesizesGroup(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.SplitTab(ctx, wsID, wtID, a.ID, "b", CreateTabOptions{})
	require.NoError(t, err)

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)

	// The group replaced the original tab at its position.
	require.Len(t, wt.Tabs, 1)
	group := wt.Tabs[0]
	assert.Equal(t, TabGroup, group.Type)
	require.Len(t, group.Children, 2)
	assert.Equal(t, a.ID, group.Children[0].ID)
	assert.Equal(t, b.ID, group.Children[1].ID)

	expected := layout.NewSplit(layout.Row, layout.NewLeaf(a.ID), layout.NewLeaf(b.ID), 50)
	assert.True(t, layout.Equal(expected, group.Layout))
}

func TestManager_SplitInsideGroupJoinsTree(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)

	group, children := seedGroup(t, m, wsID, wtID)
	assert.Equal(t, []string{children[0].ID, children[1].ID, children[2].ID}, layout.Leaves(group.Layout))
	require.NoError(t, layout.Validate(group.Layout))
}

func TestManager_SplitGroupRejected(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	group, _ := seedGroup(t, m, wsID, wtID)

	_, err := m.SplitTab(context.Background(), wsID, wtID, group.ID, "x", CreateTabOptions{})
	assert.ErrorIs(t, err, ErrInvalidMove)
}

func TestManager_MoveTabIntoGroup(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	group, _ := seedGroup(t, m, wsID, wtID)
	loose, err := m.CreateTab(ctx, wsID, wtID, "loose", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)

	require.NoError(t, m.MoveTab(ctx, wsID, wtID, loose.ID, group.ID, 1))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	require.Len(t, wt.Tabs, 1)

	got := wt.Tabs[0]
	require.Len(t, got.Children, 4)
	assert.Equal(t, loose.ID, got.Children[1].ID)
	assert.True(t, layout.Contains(got.Layout, loose.ID))
	require.NoError(t, layout.Validate(got.Layout))
}

func TestManager_MoveOutDissolvesTwoChildGroup(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.SplitTab(ctx, wsID, wtID, a.ID, "b", CreateTabOptions{})
	require.NoError(t, err)

	// Move a out to top level: b is the group's sole survivor, so the group
	// dissolves and b takes its former position.
	require.NoError(t, m.MoveTab(ctx, wsID, wtID, a.ID, "", 1))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	require.Len(t, wt.Tabs, 2)
	assert.Equal(t, b.ID, wt.Tabs[0].ID)
	assert.Equal(t, TabTerminal, wt.Tabs[0].Type)
	assert.Equal(t, a.ID, wt.Tabs[1].ID)
}

func TestManager_MoveRejectsDescendantTarget(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	group, _ := seedGroup(t, m, wsID, wtID)

	err := m.MoveTab(context.Background(), wsID, wtID, group.ID, group.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidMove)
}

func TestManager_MoveRejectsNonGroupTarget(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.CreateTab(ctx, wsID, wtID, "b", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)

	err = m.MoveTab(ctx, wsID, wtID, a.ID, b.ID, 0)
	assert.ErrorIs(t, err, ErrNotAGroup)
}

func TestManager_UpdateLayoutTreeCascadesDroppedPanes(t *testing.T) {
	m, _, _, killer := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	group, children := seedGroup(t, m, wsID, wtID)

	// New tree keeps a and b; c was closed by a direct layout edit.
	tree := layout.NewSplit(layout.Column, layout.NewLeaf(children[0].ID), layout.NewLeaf(children[1].ID), 30)
	require.NoError(t, m.UpdateLayoutTree(ctx, wsID, wtID, group.ID, tree))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	got := wt.Tabs[0]
	require.Len(t, got.Children, 2)
	assert.True(t, layout.Equal(tree, got.Layout))
	assert.Equal(t, []string{children[2].ID}, killer.killedIDs())
}

func TestManager_UpdateLayoutTreeRejectsForeignPane(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	group, children := seedGroup(t, m, wsID, wtID)

	tree := layout.NewSplit(layout.Row, layout.NewLeaf(children[0].ID), layout.NewLeaf("intruder"), 50)
	err := m.UpdateLayoutTree(context.Background(), wsID, wtID, group.ID, tree)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intruder")
}

func TestManager_UpdateLayoutTreeRejectsInvalidTree(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	group, children := seedGroup(t, m, wsID, wtID)

	bad := layout.NewSplit(layout.Row, layout.NewLeaf(children[0].ID), nil, 50)
	err := m.UpdateLayoutTree(context.Background(), wsID, wtID, group.ID, bad)
	assert.ErrorIs(t, err, layout.ErrNilChild)
}

func TestManager_ReorderTabs(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.CreateTab(ctx, wsID, wtID, "b", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	c, err := m.CreateTab(ctx, wsID, wtID, "c", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)

	require.NoError(t, m.ReorderTabs(ctx, wsID, wtID, "", []string{c.ID, a.ID, b.ID}))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, []string{wt.Tabs[0].ID, wt.Tabs[1].ID, wt.Tabs[2].ID})

	// Reorder never changes the id set
	err = m.ReorderTabs(ctx, wsID, wtID, "", []string{a.ID, b.ID})
	assert.Error(t, err)
}

func TestManager_DeleteFromThreeChildGroup(t *testing.T) {
	m, _, _, killer := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)

	group, children := seedGroup(t, m, wsID, wtID)
	require.NoError(t, m.DeleteTab(context.Background(), wsID, wtID, children[1].ID))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	got, _, _ := wt.findTab(group.ID)
	require.NotNil(t, got)
	assert.Len(t, got.Children, 2)
	assert.Len(t, layout.Leaves(got.Layout), 2)
	require.NoError(t, layout.Validate(got.Layout))
	assert.Equal(t, []string{children[1].ID}, killer.killedIDs())
}

func TestManager_DeleteFromTwoChildGroupLeavesSoleLeaf(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.SplitTab(ctx, wsID, wtID, a.ID, "b", CreateTabOptions{})
	require.NoError(t, err)

	require.NoError(t, m.DeleteTab(ctx, wsID, wtID, a.ID))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	wt := ws.findWorktree(wtID)
	require.Len(t, wt.Tabs, 1)
	group := wt.Tabs[0]
	require.Len(t, group.Children, 1)
	assert.True(t, layout.Equal(layout.NewLeaf(b.ID), group.Layout))
}

func TestManager_DeleteSelectsAdjacentSibling(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	a, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	b, err := m.CreateTab(ctx, wsID, wtID, "b", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)
	c, err := m.CreateTab(ctx, wsID, wtID, "c", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)

	// Deleting the active middle tab selects the tab now at its index.
	require.NoError(t, m.SetActiveSelection(ctx, wsID, wtID, b.ID))
	require.NoError(t, m.DeleteTab(ctx, wsID, wtID, b.ID))
	ws, err := m.Get(wsID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, ws.ActiveTabID)

	// Deleting the active last tab clamps to the new last sibling.
	require.NoError(t, m.DeleteTab(ctx, wsID, wtID, c.ID))
	ws, err = m.Get(wsID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, ws.ActiveTabID)

	// No siblings left: selection clears.
	require.NoError(t, m.DeleteTab(ctx, wsID, wtID, a.ID))
	ws, err = m.Get(wsID)
	require.NoError(t, err)
	assert.Empty(t, ws.ActiveTabID)
}

func TestManager_SetActiveSelectionValidates(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	tab, err := m.CreateTab(ctx, wsID, wtID, "a", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)

	require.NoError(t, m.SetActiveSelection(ctx, wsID, wtID, tab.ID))
	ws, err := m.Get(wsID)
	require.NoError(t, err)
	assert.Equal(t, wtID, ws.ActiveWorktreeID)
	assert.Equal(t, tab.ID, ws.ActiveTabID)

	assert.ErrorIs(t, m.SetActiveSelection(ctx, wsID, wtID, "ghost"), ErrTabNotFound)
	assert.ErrorIs(t, m.SetActiveSelection(ctx, wsID, "ghost", ""), ErrWorktreeNotFound)
}

func TestManager_StaleSelectionClearedOnLoad(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(&Workspace{
		ID:               "ws1",
		Name:             "main",
		Worktrees:        []*Worktree{{ID: "wt1", Name: "feature"}},
		ActiveWorktreeID: "wt1",
		ActiveTabID:      "deleted-elsewhere",
	}))

	bus := events.NewMemoryBus(events.MemoryBusConfig{})
	defer bus.Close()
	m, err := NewManager(store, bus, &fakeKiller{})
	require.NoError(t, err)
	defer m.Close()

	ws, err := m.Get("ws1")
	require.NoError(t, err)
	assert.Equal(t, "wt1", ws.ActiveWorktreeID)
	assert.Empty(t, ws.ActiveTabID)
}

func TestManager_TerminalExitClosesTab(t *testing.T) {
	m, _, bus, _ := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)
	ctx := context.Background()

	tab, err := m.CreateTab(ctx, wsID, wtID, "shell", TabTerminal, CreateTabOptions{})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, events.Event{
		Type:    events.EventTerminalExited,
		Payload: map[string]interface{}{"id": tab.ID, "exitCode": 0},
	}))

	require.Eventually(t, func() bool {
		ws, err := m.Get(wsID)
		if err != nil {
			return false
		}
		found, _, _ := ws.findWorktree(wtID).findTab(tab.ID)
		return found == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_RemoveWorktreeKillsSessions(t *testing.T) {
	m, _, _, killer := newTestManager(t)
	wsID, wtID := seedWorktree(t, m)

	_, children := seedGroup(t, m, wsID, wtID)
	require.NoError(t, m.RemoveWorktree(context.Background(), wsID, wtID))

	ws, err := m.Get(wsID)
	require.NoError(t, err)
	assert.Empty(t, ws.Worktrees)
	assert.ElementsMatch(t,
		[]string{children[0].ID, children[1].ID, children[2].ID},
		killer.killedIDs())
}
