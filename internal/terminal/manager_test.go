// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/events"
)

func newTestManager(t *testing.T, store *SnapshotStore) (*RealManager, events.Bus) {
	t.Helper()
	bus := events.NewMemoryBus(events.MemoryBusConfig{})
	mgr := NewManager(Config{
		Shell:           "/bin/sh",
		ScrollbackBytes: 64 * 1024,
		SettleDelay:     50 * time.Millisecond,
		CwdPollInterval: 100 * time.Millisecond,
	}, bus, store)
	t.Cleanup(func() {
		mgr.Close()
		bus.Close()
	})
	return mgr, bus
}

func TestManager_CreateOrAttach_New(t *testing.T) {
	mgr, _ := newTestManager(t, nil)

	result, err := mgr.CreateOrAttach(context.Background(), "t1", AttachOptions{
		Command: "/bin/cat",
		CWD:     t.TempDir(),
	})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.False(t, result.WasRecovered)
	assert.False(t, result.IsColdRestore)
	assert.Equal(t, StateRunning, result.State)

	info, ok := mgr.Get("t1")
	require.True(t, ok)
	assert.NotZero(t, info.PID)
}

func TestManager_CreateOrAttach_Idempotent(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	first, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	require.True(t, first.IsNew)

	firstInfo, ok := mgr.Get("t1")
	require.True(t, ok)

	second, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.True(t, second.WasRecovered)

	// Same process, never a duplicate spawn
	secondInfo, ok := mgr.Get("t1")
	require.True(t, ok)
	assert.Equal(t, firstInfo.PID, secondInfo.PID)
	assert.Len(t, mgr.List(), 1)
}

func TestManager_WriteAndHistory(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)

	require.NoError(t, mgr.Write("t1", []byte("hello\r")))

	assert.Eventually(t, func() bool {
		history, err := mgr.GetHistory("t1")
		return err == nil && strings.Contains(history, "hello")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_ReattachReturnsScrollback(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	require.NoError(t, mgr.Write("t1", []byte("echoed\r")))

	require.Eventually(t, func() bool {
		history, err := mgr.GetHistory("t1")
		return err == nil && strings.Contains(history, "echoed")
	}, 5*time.Second, 20*time.Millisecond)

	history, err := mgr.GetHistory("t1")
	require.NoError(t, err)

	result, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{})
	require.NoError(t, err)
	assert.True(t, result.WasRecovered)
	assert.Equal(t, history, result.Scrollback)
}

func TestManager_WriteUnknownIsDropped(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	assert.NoError(t, mgr.Write("ghost", []byte("ls\r")))
	assert.NoError(t, mgr.Resize("ghost", 80, 24))
}

func TestManager_GetHistoryUnknown(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	_, err := mgr.GetHistory("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_Resize(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat", Cols: 80, Rows: 24})
	require.NoError(t, err)

	require.NoError(t, mgr.Resize("t1", 132, 50))

	info, ok := mgr.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 132, info.Cols)
	assert.Equal(t, 50, info.Rows)
}

func TestManager_Kill(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)

	require.NoError(t, mgr.Kill("t1"))

	_, err = mgr.GetHistory("t1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// A new attach spawns a fresh session, not a recovery
	result, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
}

func TestManager_KillUnknown(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	err := mgr.Kill("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ExitEventOnNaturalDeath(t *testing.T) {
	mgr, bus := newTestManager(t, nil)

	exited := make(chan events.Event, 1)
	_, err := bus.Subscribe(events.EventTerminalExited, func(ctx context.Context, event events.Event) error {
		select {
		case exited <- event:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	_, err = mgr.CreateOrAttach(context.Background(), "t1", AttachOptions{Command: "/bin/true"})
	require.NoError(t, err)

	select {
	case event := <-exited:
		assert.Equal(t, "t1", event.Payload["id"])
		assert.Equal(t, 0, event.Payload["exitCode"])
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event received")
	}

	// The exited session stays addressable until explicitly removed
	_, err = mgr.GetHistory("t1")
	assert.NoError(t, err)

	result, err := mgr.CreateOrAttach(context.Background(), "t1", AttachOptions{})
	require.NoError(t, err)
	assert.True(t, result.WasRecovered)
	assert.Equal(t, StateExited, result.State)
}

func TestManager_NoExitEventOnKill(t *testing.T) {
	mgr, bus := newTestManager(t, nil)

	exited := make(chan events.Event, 1)
	_, err := bus.Subscribe(events.EventTerminalExited, func(ctx context.Context, event events.Event) error {
		select {
		case exited <- event:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	_, err = mgr.CreateOrAttach(context.Background(), "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	require.NoError(t, mgr.Kill("t1"))

	select {
	case <-exited:
		t.Fatal("explicit kill must not publish an exit event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestManager_SpawnFailure(t *testing.T) {
	mgr, _ := newTestManager(t, nil)

	_, err := mgr.CreateOrAttach(context.Background(), "t1", AttachOptions{
		Command: "/nonexistent/shell-binary",
	})
	require.Error(t, err)

	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "t1", spawnErr.ID)

	// The manager itself is still healthy
	result, err := mgr.CreateOrAttach(context.Background(), "t2", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
}

func TestManager_ColdRestore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	store1, err := OpenSnapshotStore(ctx, dbPath)
	require.NoError(t, err)
	bus1 := events.NewMemoryBus(events.MemoryBusConfig{})
	mgr1 := NewManager(Config{Shell: "/bin/sh", SettleDelay: 50 * time.Millisecond}, bus1, store1)

	_, err = mgr1.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	require.NoError(t, mgr1.Write("t1", []byte("before restart\r")))
	require.Eventually(t, func() bool {
		history, err := mgr1.GetHistory("t1")
		return err == nil && strings.Contains(history, "before restart")
	}, 5*time.Second, 20*time.Millisecond)

	// Daemon restart: close checkpoints every session
	require.NoError(t, mgr1.Close())
	bus1.Close()
	require.NoError(t, store1.Close())

	store2, err := OpenSnapshotStore(ctx, dbPath)
	require.NoError(t, err)
	bus2 := events.NewMemoryBus(events.MemoryBusConfig{})
	mgr2 := NewManager(Config{Shell: "/bin/sh"}, bus2, store2)
	t.Cleanup(func() {
		mgr2.Close()
		bus2.Close()
		store2.Close()
	})

	result, err := mgr2.CreateOrAttach(ctx, "t1", AttachOptions{})
	require.NoError(t, err)
	assert.False(t, result.IsNew)
	assert.False(t, result.WasRecovered)
	assert.True(t, result.IsColdRestore)
	require.NotNil(t, result.Snapshot)
	assert.Contains(t, result.Snapshot.Screen, "before restart")
	assert.Equal(t, result.Snapshot.Screen, result.Scrollback)

	// The snapshot is consumed: the next attach is a plain new session
	result, err = mgr2.CreateOrAttach(ctx, "t1", AttachOptions{Command: "/bin/cat"})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
}

func TestManager_InitialCommandsOnlyForNewSessions(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.CreateOrAttach(ctx, "t1", AttachOptions{
		Command:         "/bin/cat",
		InitialCommands: []string{"first command"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history, err := mgr.GetHistory("t1")
		return err == nil && strings.Contains(history, "first command")
	}, 5*time.Second, 20*time.Millisecond)

	before, err := mgr.GetHistory("t1")
	require.NoError(t, err)

	// Reattaching must not replay initial commands
	_, err = mgr.CreateOrAttach(ctx, "t1", AttachOptions{
		InitialCommands: []string{"replayed command"},
	})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	after, err := mgr.GetHistory("t1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotContains(t, after, "replayed")
}
