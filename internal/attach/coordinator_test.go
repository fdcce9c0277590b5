// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package attach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/terminal"
)

// fakeBackend records manager calls without any real PTY.
type fakeBackend struct {
	mu           sync.Mutex
	attachResult terminal.AttachResult
	attachErr    error
	attachCalls  int
	writes       []string
	resizes      [][2]int
	resizedAt    []time.Time
}

func (f *fakeBackend) CreateOrAttach(ctx context.Context, id string, opts terminal.AttachOptions) (terminal.AttachResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	return f.attachResult, f.attachErr
}

func (f *fakeBackend) Write(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeBackend) Resize(id string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	f.resizedAt = append(f.resizedAt, time.Now())
	return nil
}

func (f *fakeBackend) resizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resizes)
}

// renderLog collects rendered chunks in order.
type renderLog struct {
	mu     sync.Mutex
	chunks []string
	times  []time.Time
}

func (r *renderLog) render(data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, data)
	r.times = append(r.times, time.Now())
}

func (r *renderLog) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

func newTestCoordinator(t *testing.T, backend *fakeBackend) (*Coordinator, *renderLog) {
	t.Helper()
	rl := &renderLog{}
	c := NewCoordinator("t1", backend, rl.render, Config{
		SettleWindow: 40 * time.Millisecond,
		GracePeriod:  30 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c, rl
}

func attachLive(t *testing.T, c *Coordinator) {
	t.Helper()
	_, err := c.Attach(context.Background(), terminal.AttachOptions{})
	require.NoError(t, err)
	require.Equal(t, StateLive, c.State())
	// Initial auto-fit: recorded, never sent.
	c.SetContainerSize(80, 24)
}

func TestCoordinator_AttachRendersScrollback(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{
		ID: "t1", WasRecovered: true, Scrollback: "$ previous output\n", State: terminal.StateRunning,
	}}
	c, rl := newTestCoordinator(t, backend)

	result, err := c.Attach(context.Background(), terminal.AttachOptions{})
	require.NoError(t, err)
	assert.True(t, result.WasRecovered)
	assert.Equal(t, StateLive, c.State())
	assert.Equal(t, []string{"$ previous output\n"}, rl.rendered())
}

func TestCoordinator_AttachColdRestore(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{
		ID: "t1", IsColdRestore: true, Scrollback: "restored screen",
		Snapshot: &terminal.Snapshot{ID: "t1"}, State: terminal.StateExited,
	}}
	c, rl := newTestCoordinator(t, backend)

	_, err := c.Attach(context.Background(), terminal.AttachOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateColdRestored, c.State())
	assert.Equal(t, []string{"restored screen"}, rl.rendered())
}

func TestCoordinator_AttachFailureReturnsToDetached(t *testing.T) {
	backend := &fakeBackend{attachErr: errors.New("spawn failed")}
	c, _ := newTestCoordinator(t, backend)

	_, err := c.Attach(context.Background(), terminal.AttachOptions{})
	require.Error(t, err)
	assert.Equal(t, StateDetached, c.State())
}

func TestCoordinator_OutputRendersImmediatelyWhenLive(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, rl := newTestCoordinator(t, backend)
	attachLive(t, c)

	c.HandleOutput("hello")
	assert.Equal(t, []string{"hello"}, rl.rendered())
}

func TestCoordinator_InitialFitIsSuppressed(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", WasRecovered: true, State: terminal.StateRunning}}
	c, _ := newTestCoordinator(t, backend)

	_, err := c.Attach(context.Background(), terminal.AttachOptions{})
	require.NoError(t, err)

	// The view's own auto-fit after reattach must not reach the backend.
	c.SetContainerSize(120, 40)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, backend.resizeCount())
	assert.Equal(t, StateLive, c.State())
}

func TestCoordinator_ResizeQueuesAndFlushesInOrder(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, rl := newTestCoordinator(t, backend)
	attachLive(t, c)

	c.HandleOutput("before ")
	c.SetContainerSize(100, 30)
	require.Equal(t, StateResizing, c.State())

	// Output arriving during the settle window is queued, not rendered.
	c.HandleOutput("during1 ")
	c.HandleOutput("during2")
	assert.Equal(t, []string{"before "}, rl.rendered())

	require.Eventually(t, func() bool {
		return c.State() == StateLive
	}, 2*time.Second, 5*time.Millisecond)

	// Queued chunks flushed as one concatenated write, in arrival order.
	assert.Equal(t, []string{"before ", "during1 during2"}, rl.rendered())

	// Resize was sent before the flush.
	backend.mu.Lock()
	require.Len(t, backend.resizes, 1)
	assert.Equal(t, [2]int{100, 30}, backend.resizes[0])
	resizeTime := backend.resizedAt[0]
	backend.mu.Unlock()

	rl.mu.Lock()
	flushTime := rl.times[len(rl.times)-1]
	rl.mu.Unlock()
	assert.True(t, resizeTime.Before(flushTime), "resize must be sent before queued output is flushed")
}

func TestCoordinator_RapidResizesCoalesce(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, _ := newTestCoordinator(t, backend)
	attachLive(t, c)

	c.SetContainerSize(90, 25)
	c.SetContainerSize(95, 28)
	c.SetContainerSize(100, 30)

	require.Eventually(t, func() bool {
		return c.State() == StateLive
	}, 2*time.Second, 5*time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.resizes, 1)
	assert.Equal(t, [2]int{100, 30}, backend.resizes[0])
}

func TestCoordinator_IdenticalSizeNotResent(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, rl := newTestCoordinator(t, backend)
	attachLive(t, c) // records 80x24 as the initial fit

	c.SetContainerSize(80, 24)
	c.HandleOutput("queued")

	require.Eventually(t, func() bool {
		return c.State() == StateLive
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, backend.resizeCount())
	// Queued output still flushes once the window closes.
	assert.Equal(t, []string{"queued"}, rl.rendered())
}

func TestCoordinator_ExitFlushesQueue(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, rl := newTestCoordinator(t, backend)
	attachLive(t, c)

	c.SetContainerSize(100, 30)
	c.HandleOutput("final words")
	c.HandleExit(0)

	assert.Equal(t, StateExited, c.State())
	assert.Equal(t, []string{"final words"}, rl.rendered())

	// Input is dropped once exited.
	c.Write("ls\r")
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.writes)
}

func TestCoordinator_DisconnectDetaches(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, rl := newTestCoordinator(t, backend)
	attachLive(t, c)

	c.SetContainerSize(100, 30)
	c.HandleOutput("lost")
	c.HandleDisconnect()

	assert.Equal(t, StateDetached, c.State())
	// Detached is not closed: queued output is discarded, not rendered.
	assert.Empty(t, rl.rendered())

	// No stray timers fire later.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateDetached, c.State())
	assert.Zero(t, backend.resizeCount())
}

func TestCoordinator_WritePassesThrough(t *testing.T) {
	backend := &fakeBackend{attachResult: terminal.AttachResult{ID: "t1", IsNew: true, State: terminal.StateRunning}}
	c, _ := newTestCoordinator(t, backend)
	attachLive(t, c)

	c.Write("ls\r")

	// Input is not deferred during a resize.
	c.SetContainerSize(100, 30)
	c.Write("pwd\r")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []string{"ls\r", "pwd\r"}, backend.writes)
}
