// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/arborhq/arbor/internal/attach"
	"github.com/arborhq/arbor/internal/events"
	"github.com/arborhq/arbor/internal/terminal"
)

// terminalMessage is the JSON frame a view sends over the terminal socket.
type terminalMessage struct {
	Type string `json:"type"` // "input" or "resize"
	Data string `json:"data"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// attachRequest is the body of POST /terminals/{id}/attach.
type attachRequest struct {
	CWD             string   `json:"cwd"`
	Command         string   `json:"command"`
	Cols            int      `json:"cols"`
	Rows            int      `json:"rows"`
	InitialCommands []string `json:"initialCommands"`
}

// TerminalHandler handles terminal-related API requests.
type TerminalHandler struct {
	mgr       terminal.Manager
	bus       events.Bus
	attachCfg attach.Config

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{} // Active WebSocket connections
}

// NewTerminalHandler creates a new terminal handler.
func NewTerminalHandler(mgr terminal.Manager, bus events.Bus, attachCfg attach.Config) *TerminalHandler {
	return &TerminalHandler{
		mgr:       mgr,
		bus:       bus,
		attachCfg: attachCfg,
		conns:     make(map[*websocket.Conn]struct{}),
	}
}

func (h *TerminalHandler) trackConn(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *TerminalHandler) untrackConn(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Shutdown closes all active WebSocket connections to allow graceful server
// shutdown.
func (h *TerminalHandler) Shutdown() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	if len(conns) > 0 {
		log.Printf("Terminal handler: closing %d active WebSocket connections", len(conns))
	}
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// List returns all terminal sessions.
func (h *TerminalHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.mgr.List(),
	})
}

// Attach performs the create-or-attach handshake over plain HTTP.
func (h *TerminalHandler) Attach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req attachRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.mgr.CreateOrAttach(r.Context(), id, terminal.AttachOptions{
		CWD:             req.CWD,
		Command:         req.Command,
		Cols:            req.Cols,
		Rows:            req.Rows,
		InitialCommands: req.InitialCommands,
	})
	if err != nil {
		var spawnErr *terminal.SpawnError
		if errors.As(err, &spawnErr) {
			WriteError(w, http.StatusBadGateway, ErrTerminalError, spawnErr.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrTerminalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Input forwards input to a session. Fire-and-forget: the response is 202
// whether or not the session was still there.
func (h *TerminalHandler) Input(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.mgr.Write(id, []byte(req.Data))
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Resize resizes a session. Fire-and-forget like Input.
func (h *TerminalHandler) Resize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "cols and rows must be positive")
		return
	}

	h.mgr.Resize(id, req.Cols, req.Rows)
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// History returns the buffered scrollback for a session.
func (h *TerminalHandler) History(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	history, err := h.mgr.GetHistory(id)
	if err != nil {
		if errors.Is(err, terminal.ErrSessionNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrTerminalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "scrollback": history})
}

// Kill removes a session explicitly.
func (h *TerminalHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.mgr.Kill(id); err != nil {
		if errors.Is(err, terminal.ErrSessionNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrTerminalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "killed"})
}

// WebSocket streams one terminal: raw output frames out, JSON input/resize
// frames in. The handler is the attached view as far as the daemon is
// concerned: a per-connection attach.Coordinator enforces the handshake and
// the resize/write ordering, so output is never rendered against stale
// dimensions and a reattach never forces a spurious repaint.
func (h *TerminalHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Terminal WebSocket: upgrade failed: %v", err)
		return
	}
	h.trackConn(conn)
	defer func() {
		h.untrackConn(conn)
		conn.Close()
	}()

	// Keepalive with ping/pong
	const pongWait = 60 * time.Second
	const pingPeriod = (pongWait * 9) / 10
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// gorilla/websocket requires a single writer
	var writeMu sync.Mutex
	send := func(data string) {
		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := conn.WriteMessage(websocket.TextMessage, []byte(strings.ToValidUTF8(data, "")))
		writeMu.Unlock()
		if err != nil {
			conn.Close() // Unblocks the read loop below
		}
	}

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-pingTicker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Wait for the client's initial resize before attaching, so a brand-new
	// session spawns at the right size and history is never interpreted at a
	// stale width. A client that never sends one still attaches after the
	// timeout.
	var initialCols, initialRows int
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, initialMsg, err := conn.ReadMessage(); err == nil {
		var msg terminalMessage
		if err := json.Unmarshal(initialMsg, &msg); err == nil && msg.Type == "resize" {
			initialCols, initialRows = msg.Cols, msg.Rows
		}
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))

	coord := attach.NewCoordinator(id, h.mgr, send, h.attachCfg)
	defer coord.Close()

	if _, err := coord.Attach(r.Context(), terminal.AttachOptions{
		CWD:  r.URL.Query().Get("cwd"),
		Cols: initialCols,
		Rows: initialRows,
	}); err != nil {
		send("Error: " + err.Error() + "\r\n")
		return
	}
	// Record the fit the view attached with; reattachment to an existing
	// session must not resize it.
	coord.SetContainerSize(initialCols, initialRows)

	// Stream output and exit notifications for this terminal from the bus.
	subID, err := h.bus.SubscribeAsync("terminal.*", func(_ context.Context, event events.Event) error {
		if eventID, _ := event.Payload["id"].(string); eventID != id {
			return nil
		}
		switch event.Type {
		case events.EventTerminalOutput:
			data, _ := event.Payload["data"].(string)
			coord.HandleOutput(data)
		case events.EventTerminalExited:
			exitCode, _ := event.Payload["exitCode"].(int)
			coord.HandleExit(exitCode)
			writeMu.Lock()
			conn.WriteMessage(websocket.TextMessage, []byte("\r\n\x1b[33mSession ended\x1b[0m\r\n"))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			writeMu.Unlock()
		}
		return nil
	}, 256)
	if err != nil {
		send("Error: " + err.Error() + "\r\n")
		return
	}
	defer h.bus.Unsubscribe(subID)
	defer coord.HandleDisconnect()

	// Read loop: input and resize commands from the view.
	for {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Terminal WebSocket %s: unexpected close: %v", id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg terminalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Terminal WebSocket %s: bad frame: %v", id, err)
			continue
		}
		switch msg.Type {
		case "input":
			coord.Write(msg.Data)
		case "resize":
			coord.SetContainerSize(msg.Cols, msg.Rows)
		}
	}
}
