// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// TerminalClient provides access to the daemon's PTY sessions.
//
// Access this client through [Client.Terminals]:
//
//	result, err := client.Terminals.Attach(ctx, "tab-1", nil)
type TerminalClient struct {
	c *Client
}

// List returns all terminal sessions.
func (t *TerminalClient) List(ctx context.Context) ([]Session, error) {
	data, err := t.c.get(ctx, "/api/v1/terminals")
	if err != nil {
		return nil, err
	}

	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	return result.Sessions, nil
}

// Attach attaches to the session with the given id, creating it if it does
// not exist. opts may be nil; it only applies when a new session is spawned.
func (t *TerminalClient) Attach(ctx context.Context, id string, opts *AttachOptions) (*AttachResult, error) {
	var body interface{}
	if opts != nil {
		body = opts
	}
	data, err := t.c.postJSON(ctx, "/api/v1/terminals/"+url.PathEscape(id)+"/attach", body)
	if err != nil {
		return nil, err
	}

	var result AttachResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse attach result: %w", err)
	}
	return &result, nil
}

// Input sends keystrokes to a session. Fire-and-forget.
func (t *TerminalClient) Input(ctx context.Context, id, data string) error {
	_, err := t.c.postJSON(ctx, "/api/v1/terminals/"+url.PathEscape(id)+"/input", map[string]string{
		"data": data,
	})
	return err
}

// Resize changes a session's PTY size.
func (t *TerminalClient) Resize(ctx context.Context, id string, cols, rows int) error {
	_, err := t.c.postJSON(ctx, "/api/v1/terminals/"+url.PathEscape(id)+"/resize", map[string]int{
		"cols": cols,
		"rows": rows,
	})
	return err
}

// History returns the buffered scrollback for a session.
func (t *TerminalClient) History(ctx context.Context, id string) (string, error) {
	data, err := t.c.get(ctx, "/api/v1/terminals/"+url.PathEscape(id)+"/history")
	if err != nil {
		return "", err
	}

	var result struct {
		Scrollback string `json:"scrollback"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to parse history: %w", err)
	}
	return result.Scrollback, nil
}

// Kill removes a session and its persisted snapshot.
func (t *TerminalClient) Kill(ctx context.Context, id string) error {
	_, err := t.c.delete(ctx, "/api/v1/terminals/"+url.PathEscape(id))
	return err
}
