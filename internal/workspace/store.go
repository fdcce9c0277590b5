// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists one JSON document per workspace under a state directory.
// Writes are atomic (write tmp + rename) so a crash mid-save never leaves a
// truncated document. Last write wins; there is no merging.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load reads one workspace document. Returns ErrWorkspaceNotFound if no
// document exists for the id.
func (s *Store) Load(id string) (*Workspace, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("read workspace file: %w", err)
	}
	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse workspace file: %w", err)
	}
	return &ws, nil
}

// LoadAll reads every workspace document in the state directory. A missing
// directory is an empty result, not an error.
func (s *Store) LoadAll() ([]*Workspace, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace dir: %w", err)
	}
	var workspaces []*Workspace
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		ws, err := s.Load(id)
		if err != nil {
			return nil, fmt.Errorf("load workspace %s: %w", id, err)
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, nil
}

// Save writes the workspace document atomically.
func (s *Store) Save(ws *Workspace) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	tmpPath := s.path(ws.ID) + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp workspace file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(ws.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename workspace file: %w", err)
	}
	return nil
}

// Delete removes a workspace document. Deleting a missing document is not an
// error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete workspace file: %w", err)
	}
	return nil
}
