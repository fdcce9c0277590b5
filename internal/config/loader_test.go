// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadHJSON(t *testing.T) {
	path := writeConfig(t, `{
  // comments are allowed in hjson
  version: "1"
  server: {
    port: 9000
    host: 0.0.0.0
  }
  terminal: {
    shell: /bin/zsh
    scrollback_bytes: 131072
  }
}`)

	cfg, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, 131072, cfg.Terminal.ScrollbackBytes)
}

func TestLoader_LoadMissing(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "/nonexistent/arbor.hjson")
	assert.Error(t, err)
}

func TestLoader_LoadInvalid(t *testing.T) {
	path := writeConfig(t, `{ server: { port: [[[`)
	_, err := NewLoader().Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_Defaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 4170, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.NotEmpty(t, cfg.StateDir)
	assert.Equal(t, 256*1024, cfg.Terminal.ScrollbackBytes)
	assert.Equal(t, "500ms", cfg.Terminal.SettleDelay)
	assert.Equal(t, "150ms", cfg.Attach.SettleWindow)
	assert.Equal(t, 10000, cfg.Events.History.MaxEvents)

	// Repo dir defaults to the config file's directory.
	assert.Equal(t, filepath.Dir(path), cfg.Worktree.RepoDir)
}

func TestLoader_DefaultsDoNotOverride(t *testing.T) {
	path := writeConfig(t, `{
  server: { port: 8080 }
  state_dir: /tmp/arbor-test
  worktree: {
    repo_dir: /repo
  }
}`)

	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/tmp/arbor-test", cfg.StateDir)
	assert.Equal(t, "/repo", cfg.Worktree.RepoDir)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback time.Duration
		want     time.Duration
	}{
		{"empty uses fallback", "", time.Second, time.Second},
		{"valid", "250ms", time.Second, 250 * time.Millisecond},
		{"malformed uses fallback", "soon", time.Second, time.Second},
		{"negative uses fallback", "-5s", time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Duration(tt.input, tt.fallback))
		})
	}
}

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	_, err = NewLoader().FindConfig()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "arbor.hjson"), []byte("{}"), 0644))
	path, err := NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "arbor.hjson", filepath.Base(path))
}
