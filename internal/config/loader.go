// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to an intermediate map, then go through JSON for type
	// safety against the schema struct.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if cfg.Worktree.RepoDir == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err == nil {
			cfg.Worktree.RepoDir = abs
		}
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file at all.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FindConfig searches for a config file in the current directory. It looks
// for arbor.hjson first, then arbor.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"arbor.hjson",
		"arbor.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for arbor.hjson, arbor.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4170
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// State dir defaults
	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = filepath.Join(home, ".arbor")
		} else {
			cfg.StateDir = ".arbor"
		}
	}

	// Terminal defaults
	if cfg.Terminal.ScrollbackBytes == 0 {
		cfg.Terminal.ScrollbackBytes = 256 * 1024
	}
	if cfg.Terminal.SettleDelay == "" {
		cfg.Terminal.SettleDelay = "500ms"
	}
	if cfg.Terminal.CwdPollInterval == "" {
		cfg.Terminal.CwdPollInterval = "2s"
	}
	if cfg.Terminal.SnapshotInterval == "" {
		cfg.Terminal.SnapshotInterval = "30s"
	}

	// Attach defaults
	if cfg.Attach.SettleWindow == "" {
		cfg.Attach.SettleWindow = "150ms"
	}
	if cfg.Attach.GracePeriod == "" {
		cfg.Attach.GracePeriod = "100ms"
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	// Worktree defaults
	if cfg.Worktree.WatchDebounce == "" {
		cfg.Worktree.WatchDebounce = "500ms"
	}
}
