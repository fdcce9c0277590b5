// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorcelain(t *testing.T) {
	output := `worktree /home/dev/project
HEAD abc1234567890abcdef1234567890abcdef123456
branch refs/heads/main

worktree /home/dev/project-feature
HEAD def4567890abcdef1234567890abcdef12345678
branch refs/heads/feature/new-thing

worktree /home/dev/detached-work
HEAD 1234567890abcdef1234567890abcdef12345678
detached
`
	result := ParsePorcelain(output)
	require.Len(t, result, 3)

	assert.Equal(t, "/home/dev/project", result[0].Path)
	assert.Equal(t, "main", result[0].Branch)
	assert.Equal(t, "abc1234567890abcdef1234567890abcdef123456", result[0].Commit)

	assert.Equal(t, "feature/new-thing", result[1].Branch)
	assert.Equal(t, "project-feature", result[1].Name())

	assert.True(t, result[2].Detached)
	assert.Empty(t, result[2].Branch)
}

func TestParsePorcelain_PathsWithSpaces(t *testing.T) {
	output := `worktree /home/dev/my project
HEAD abc1234567890abcdef1234567890abcdef123456
branch refs/heads/main
`
	result := ParsePorcelain(output)
	require.Len(t, result, 1)
	assert.Equal(t, "/home/dev/my project", result[0].Path)
}

func TestParsePorcelain_Bare(t *testing.T) {
	output := `worktree /home/dev/repo.git
bare
`
	result := ParsePorcelain(output)
	require.Len(t, result, 1)
	assert.True(t, result[0].IsBare)
}

func TestParsePorcelain_Empty(t *testing.T) {
	assert.Empty(t, ParsePorcelain(""))
	assert.Empty(t, ParsePorcelain("\n\n"))
}
