// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// MatchPattern checks whether an event type matches a subscription pattern.
// Patterns support a single wildcard segment:
//   - "terminal.*" matches "terminal.output", "terminal.exited", etc.
//   - "*.deleted" matches "tab.deleted", "worktree.deleted", etc.
//   - "*" matches everything
func MatchPattern(eventType, pattern string) bool {
	if pattern == "" || eventType == "" {
		return false
	}
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(eventType, prefix+".")
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(eventType, "."+suffix)
	}
	return false
}

// CompiledPattern is a validated pattern ready for matching.
type CompiledPattern struct {
	pattern string
}

// CompilePattern validates a pattern for use in a subscription.
func CompilePattern(pattern string) (CompiledPattern, error) {
	if pattern == "" {
		return CompiledPattern{}, errors.New("empty pattern")
	}
	return CompiledPattern{pattern: pattern}, nil
}

// Match reports whether the event type matches the compiled pattern.
func (p CompiledPattern) Match(eventType string) bool {
	return MatchPattern(eventType, p.pattern)
}
