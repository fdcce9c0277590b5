// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// WorktreeClient provides access to the repository's discovered worktrees.
//
// These are the worktrees git reports for the configured repository,
// independent of any workspace document. Access this client through
// [Client.Worktrees].
type WorktreeClient struct {
	c *Client
}

// List returns the worktrees known at the daemon's last sync.
func (w *WorktreeClient) List(ctx context.Context) ([]WorktreeInfo, error) {
	data, err := w.c.get(ctx, "/api/v1/worktrees")
	if err != nil {
		return nil, err
	}
	return parseWorktrees(data)
}

// Resync forces a fresh `git worktree list` and returns the updated set.
func (w *WorktreeClient) Resync(ctx context.Context) ([]WorktreeInfo, error) {
	data, err := w.c.postJSON(ctx, "/api/v1/worktrees/resync", nil)
	if err != nil {
		return nil, err
	}
	return parseWorktrees(data)
}

func parseWorktrees(data json.RawMessage) ([]WorktreeInfo, error) {
	var result struct {
		Worktrees []WorktreeInfo `json:"worktrees"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse worktrees: %w", err)
	}
	return result.Worktrees, nil
}
