// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/mitchellh/go-ps"

	"github.com/arborhq/arbor/internal/events"
)

const (
	defaultCols          = 80
	defaultRows          = 24
	defaultSettleDelay   = 500 * time.Millisecond
	defaultCwdPoll       = 2 * time.Second
	snapshotScreenBytes  = 32 * 1024
	readBufferSize       = 4096
)

// Alt-screen enter/leave sequences (DEC private mode 1049). Tracked so a
// cold-restore snapshot can tell the view which buffer was active.
var (
	altScreenEnter = []byte("\x1b[?1049h")
	altScreenLeave = []byte("\x1b[?1049l")
)

// Session is one backend-owned PTY process with its buffered output.
type Session struct {
	id         string
	mu         sync.Mutex
	cmd        *exec.Cmd
	ptmx       *os.File
	cwd        string
	cols, rows int
	scrollback *Ring
	state      State
	exitCode   int
	killed     atomic.Bool
	altScreen  atomic.Bool
	done       chan struct{}
	initTimer  *time.Timer
}

// Info returns a point-in-time description of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:       s.id,
		CWD:      s.cwd,
		Cols:     s.cols,
		Rows:     s.rows,
		State:    s.state,
		ExitCode: s.exitCode,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		info.PID = s.cmd.Process.Pid
	}
	return info
}

// RealManager implements the Manager interface. It is the sole owner and
// mutator of every session; all other components go through its methods.
type RealManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	cfg      Config
	bus      events.Bus
	store    *SnapshotStore
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewManager creates a PTY session manager. store may be nil, which
// disables cold restore.
func NewManager(cfg Config, bus events.Bus, store *SnapshotStore) *RealManager {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.CwdPollInterval <= 0 {
		cfg.CwdPollInterval = defaultCwdPoll
	}
	m := &RealManager{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		cfg:      cfg,
		bus:      bus,
		store:    store,
		stopCh:   make(chan struct{}),
	}
	if store != nil && cfg.SnapshotInterval > 0 {
		m.wg.Add(1)
		go m.snapshotLoop()
	}
	return m
}

// attachLock returns the per-id mutex that serializes concurrent
// CreateOrAttach calls for one terminal, so rapid workspace switching never
// races two spawns for the same id.
func (m *RealManager) attachLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// CreateOrAttach implements the create-or-attach handshake (reattach, cold
// restore, or fresh spawn).
func (m *RealManager) CreateOrAttach(ctx context.Context, id string, opts AttachOptions) (AttachResult, error) {
	if m.closed.Load() {
		return AttachResult{}, errors.New("terminal manager is closed")
	}

	lock := m.attachLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()

	// Live (or exited-but-addressable) session: reattach. No new process,
	// no initial-command replay.
	if ok {
		sess.mu.Lock()
		state := sess.state
		sess.mu.Unlock()
		return AttachResult{
			ID:           id,
			WasRecovered: true,
			Scrollback:   string(sess.scrollback.Bytes()),
			State:        state,
		}, nil
	}

	// No live session. A persisted snapshot means the daemon itself was
	// restarted: hand back the display state and let the caller decide
	// whether a fresh process is still wanted. The snapshot is consumed so
	// the next attach for this id spawns clean.
	if m.store != nil {
		snap, err := m.store.Get(ctx, id)
		switch {
		case err == nil:
			snap.ProcessAlive = processAlive(snap.PID)
			if err := m.store.Delete(ctx, id); err != nil {
				log.Printf("Terminal %s: failed to consume snapshot: %v", id, err)
			}
			return AttachResult{
				ID:            id,
				IsColdRestore: true,
				Scrollback:    snap.Screen,
				Snapshot:      &snap,
				State:         StateExited,
			}, nil
		case !errors.Is(err, ErrSnapshotNotFound):
			// Unreadable snapshot data is treated as a plain new session.
			log.Printf("Terminal %s: snapshot lookup failed: %v", id, err)
		}
	}

	return m.spawn(id, opts)
}

func (m *RealManager) spawn(id string, opts AttachOptions) (AttachResult, error) {
	shell := opts.Command
	if shell == "" {
		shell = m.cfg.Shell
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(shell)
	cmd.Dir = opts.CWD
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return AttachResult{}, &SpawnError{ID: id, Err: err}
	}

	sess := &Session{
		id:         id,
		cmd:        cmd,
		ptmx:       ptmx,
		cwd:        opts.CWD,
		cols:       cols,
		rows:       rows,
		scrollback: NewRing(m.cfg.ScrollbackBytes),
		state:      StateRunning,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.wg.Add(2)
	go m.readLoop(sess)
	go m.cwdLoop(sess)

	// Initial commands only for brand-new sessions, typed after a settle
	// delay so the shell prompt is up before input arrives.
	if len(opts.InitialCommands) > 0 {
		commands := append([]string(nil), opts.InitialCommands...)
		sess.initTimer = time.AfterFunc(m.cfg.SettleDelay, func() {
			for _, command := range commands {
				if err := m.Write(id, []byte(command+"\r")); err != nil {
					log.Printf("Terminal %s: initial command failed: %v", id, err)
					return
				}
			}
		})
	}

	log.Printf("Terminal %s: spawned %s (pid %d) in %q", id, shell, cmd.Process.Pid, opts.CWD)
	return AttachResult{ID: id, IsNew: true, State: StateRunning}, nil
}

// readLoop pumps PTY output into the scrollback ring and onto the bus.
func (m *RealManager) readLoop(sess *Session) {
	defer m.wg.Done()
	defer close(sess.done)

	buf := make([]byte, readBufferSize)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			m.trackAltScreen(sess, chunk)
			sess.scrollback.Write(chunk)
			m.publish(events.Event{
				Type: events.EventTerminalOutput,
				Payload: map[string]interface{}{
					"id":   sess.id,
					"data": string(chunk),
				},
			})
		}
		if err != nil {
			// Linux returns EIO from the master side once the child exits;
			// either way the process is done.
			break
		}
	}

	exitCode := -1
	if err := sess.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	} else {
		exitCode = 0
	}

	sess.mu.Lock()
	sess.state = StateExited
	sess.exitCode = exitCode
	sess.mu.Unlock()

	// Final checkpoint so the display state survives a later daemon restart.
	m.checkpoint(context.Background(), sess)

	if !sess.killed.Load() {
		log.Printf("Terminal %s: process exited with code %d", sess.id, exitCode)
		m.publish(events.Event{
			Type: events.EventTerminalExited,
			Payload: map[string]interface{}{
				"id":       sess.id,
				"exitCode": exitCode,
			},
		})
	}
}

// trackAltScreen records the most recent alternate-screen mode switch seen
// in the output stream.
func (m *RealManager) trackAltScreen(sess *Session, chunk []byte) {
	enter := bytes.LastIndex(chunk, altScreenEnter)
	leave := bytes.LastIndex(chunk, altScreenLeave)
	if enter < 0 && leave < 0 {
		return
	}
	sess.altScreen.Store(enter > leave)
}

// cwdLoop polls the process working directory and publishes changes.
func (m *RealManager) cwdLoop(sess *Session) {
	defer m.wg.Done()

	pid := 0
	if sess.cmd.Process != nil {
		pid = sess.cmd.Process.Pid
	}
	if pid == 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.CwdPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
			if err != nil {
				continue // Not fatal; /proc may be unavailable
			}
			sess.mu.Lock()
			changed := cwd != sess.cwd
			if changed {
				sess.cwd = cwd
			}
			sess.mu.Unlock()
			if changed {
				m.publish(events.Event{
					Type: events.EventTerminalCwdChanged,
					Payload: map[string]interface{}{
						"id":  sess.id,
						"cwd": cwd,
					},
				})
			}
		}
	}
}

// Write sends input to a session. A write against a dead or unknown id is
// logged and dropped, never fatal.
func (m *RealManager) Write(id string, data []byte) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		log.Printf("Terminal %s: dropping write, session not found", id)
		return nil
	}
	sess.mu.Lock()
	exited := sess.state == StateExited
	ptmx := sess.ptmx
	sess.mu.Unlock()
	if exited {
		log.Printf("Terminal %s: dropping write, session exited", id)
		return nil
	}
	if _, err := ptmx.Write(data); err != nil {
		log.Printf("Terminal %s: write failed: %v", id, err)
	}
	return nil
}

// Resize changes a session's PTY size. Fire-and-forget like Write.
func (m *RealManager) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		log.Printf("Terminal %s: dropping resize, session not found", id)
		return nil
	}
	sess.mu.Lock()
	exited := sess.state == StateExited
	ptmx := sess.ptmx
	if !exited {
		sess.cols = cols
		sess.rows = rows
	}
	sess.mu.Unlock()
	if exited {
		log.Printf("Terminal %s: dropping resize, session exited", id)
		return nil
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		log.Printf("Terminal %s: resize failed: %v", id, err)
	}
	return nil
}

// GetHistory returns the buffered scrollback for a session.
func (m *RealManager) GetHistory(id string) (string, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return string(sess.scrollback.Bytes()), nil
}

// Kill explicitly removes a session: the process is terminated, the exit
// event suppressed, and the persisted snapshot deleted. Used by tab
// deletion, never by view unmounts.
func (m *RealManager) Kill(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	delete(m.locks, id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(context.Background(), id); err != nil {
			log.Printf("Terminal %s: failed to delete snapshot: %v", id, err)
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess.killed.Store(true)
	if sess.initTimer != nil {
		sess.initTimer.Stop()
	}
	sess.ptmx.Close()
	if sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	<-sess.done
	log.Printf("Terminal %s: killed", id)
	return nil
}

// Get returns session info.
func (m *RealManager) Get(id string) (SessionInfo, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, false
	}
	return sess.Info(), true
}

// List returns all sessions.
func (m *RealManager) List() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// snapshotLoop periodically checkpoints running sessions.
func (m *RealManager) snapshotLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkpointAll(context.Background())
		}
	}
}

func (m *RealManager) checkpointAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		m.checkpoint(ctx, sess)
	}
}

func (m *RealManager) checkpoint(ctx context.Context, sess *Session) {
	if m.store == nil {
		return
	}
	sess.mu.Lock()
	snap := Snapshot{
		ID:        sess.id,
		Screen:    string(sess.scrollback.Tail(snapshotScreenBytes)),
		CWD:       sess.cwd,
		Cols:      sess.cols,
		Rows:      sess.rows,
		AltScreen: sess.altScreen.Load(),
	}
	if sess.cmd != nil && sess.cmd.Process != nil {
		snap.PID = sess.cmd.Process.Pid
	}
	sess.mu.Unlock()

	if err := m.store.Save(ctx, snap); err != nil {
		log.Printf("Terminal %s: checkpoint failed: %v", sess.id, err)
	}
}

// Close shuts down the manager: every live session is checkpointed for
// cold restore, then its process is terminated.
func (m *RealManager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.checkpointAll(context.Background())

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.killed.Store(true)
		if sess.initTimer != nil {
			sess.initTimer.Stop()
		}
		sess.ptmx.Close()
		if sess.cmd.Process != nil {
			sess.cmd.Process.Kill()
		}
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	return nil
}

// publish sends an event, tolerating a closed bus during shutdown.
func (m *RealManager) publish(event events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(context.Background(), event); err != nil && !errors.Is(err, events.ErrBusClosed) {
		log.Printf("Terminal: publish %s failed: %v", event.Type, err)
	}
}

// processAlive reports whether a pid from a snapshot still has a running
// process, meaning the previous daemon's shell was orphaned rather than
// torn down.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}
