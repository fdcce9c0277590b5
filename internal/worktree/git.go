// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package worktree discovers git worktrees for a repository and watches for
// worktrees added or removed outside the API (plain `git worktree add` in a
// shell), publishing the changes onto the event bus.
package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Info describes one git worktree.
type Info struct {
	Path     string `json:"path"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
	IsBare   bool   `json:"isBare,omitempty"`
	Detached bool   `json:"detached,omitempty"`
}

// Name is the short display name, the final path element.
func (i Info) Name() string {
	return filepath.Base(i.Path)
}

// GitExecutor lists worktrees. Tests substitute a mock.
type GitExecutor interface {
	WorktreeList(ctx context.Context, repoDir string) ([]Info, error)
}

// RealGitExecutor shells out to git.
type RealGitExecutor struct{}

// WorktreeList runs `git worktree list --porcelain`. The porcelain format is
// the only one that handles paths with spaces reliably.
func (e *RealGitExecutor) WorktreeList(ctx context.Context, repoDir string) ([]Info, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "worktree", "list", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}
	return ParsePorcelain(string(output)), nil
}

// ParsePorcelain parses `git worktree list --porcelain` output. Worktrees
// are separated by blank lines:
//
//	worktree /path/to/worktree
//	HEAD abc1234...
//	branch refs/heads/main
//
//	worktree /path/to/bare
//	bare
func ParsePorcelain(output string) []Info {
	var result []Info
	for _, block := range strings.Split(output, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		info := parseBlock(block)
		if info.Path != "" {
			result = append(result, info)
		}
	}
	return result
}

func parseBlock(block string) Info {
	var info Info
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			info.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			info.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			info.Branch = strings.TrimPrefix(ref, "refs/heads/")
		case line == "bare":
			info.IsBare = true
		case line == "detached":
			info.Detached = true
		}
	}
	return info
}
