// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound is returned when no snapshot exists for an id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists session display state across daemon restarts.
// Single writer (the manager); WAL keeps readers cheap.
type SnapshotStore struct {
	db *sql.DB
}

// OpenSnapshotStore opens (and migrates) the snapshot database.
func OpenSnapshotStore(ctx context.Context, path string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshots (
	terminal_id TEXT PRIMARY KEY,
	screen BLOB NOT NULL,
	cwd TEXT NOT NULL,
	cols INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	alt_screen INTEGER NOT NULL DEFAULT 0,
	pid INTEGER NOT NULL DEFAULT 0,
	saved_at TEXT NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Save upserts a snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots(terminal_id, screen, cwd, cols, rows, alt_screen, pid, saved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(terminal_id) DO UPDATE SET
	screen=excluded.screen,
	cwd=excluded.cwd,
	cols=excluded.cols,
	rows=excluded.rows,
	alt_screen=excluded.alt_screen,
	pid=excluded.pid,
	saved_at=excluded.saved_at
`, snap.ID, []byte(snap.Screen), snap.CWD, snap.Cols, snap.Rows, boolToInt(snap.AltScreen), snap.PID, snap.SavedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Get returns the snapshot for a terminal id.
func (s *SnapshotStore) Get(ctx context.Context, id string) (Snapshot, error) {
	var (
		snap      Snapshot
		screen    []byte
		altScreen int
		savedAt   string
	)
	row := s.db.QueryRowContext(ctx, `
SELECT terminal_id, screen, cwd, cols, rows, alt_screen, pid, saved_at
FROM snapshots WHERE terminal_id = ?`, id)
	err := row.Scan(&snap.ID, &screen, &snap.CWD, &snap.Cols, &snap.Rows, &altScreen, &snap.PID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	snap.Screen = string(screen)
	snap.AltScreen = altScreen != 0
	if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
		snap.SavedAt = t
	}
	return snap, nil
}

// Delete removes the snapshot for a terminal id. Missing is not an error.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE terminal_id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// List returns all snapshot ids.
func (s *SnapshotStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT terminal_id FROM snapshots ORDER BY terminal_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
