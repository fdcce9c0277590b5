// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// Package layout implements the binary split tree that arranges the panes
// of a group tab. A tree node is either a leaf (a pane id) or a split with
// exactly two children. Leaves serialize as bare JSON strings and splits as
// {direction, first, second, splitPercentage}, which is the durable format
// stored inside workspace records.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Direction is the split orientation of an internal node.
type Direction string

const (
	Row    Direction = "row"
	Column Direction = "column"
)

// Errors returned by Validate.
var (
	ErrNilChild      = errors.New("split node has a nil child")
	ErrDuplicateLeaf = errors.New("duplicate pane id in tree")
	ErrBadPercentage = errors.New("split percentage out of range")
	ErrBadDirection  = errors.New("invalid split direction")
)

// Node is one node of a pane layout tree. A leaf has Leaf set and both
// children nil; a split has both children set and Leaf empty. A nil *Node
// is the empty tree.
type Node struct {
	Leaf            string
	Direction       Direction
	First           *Node
	Second          *Node
	SplitPercentage float64
}

// IsLeaf reports whether the node is a leaf pane.
func (n *Node) IsLeaf() bool {
	return n != nil && n.First == nil && n.Second == nil
}

// splitJSON is the wire form of an internal node.
type splitJSON struct {
	Direction       Direction `json:"direction"`
	First           *Node     `json:"first"`
	Second          *Node     `json:"second"`
	SplitPercentage float64   `json:"splitPercentage"`
}

// MarshalJSON encodes a leaf as a bare string and a split as an object.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.IsLeaf() {
		return json.Marshal(n.Leaf)
	}
	return json.Marshal(splitJSON{
		Direction:       n.Direction,
		First:           n.First,
		Second:          n.Second,
		SplitPercentage: n.SplitPercentage,
	})
}

// UnmarshalJSON accepts either a bare string (leaf) or a split object.
func (n *Node) UnmarshalJSON(data []byte) error {
	var leaf string
	if err := json.Unmarshal(data, &leaf); err == nil {
		*n = Node{Leaf: leaf}
		return nil
	}
	var s splitJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse layout node: %w", err)
	}
	*n = Node{
		Direction:       s.Direction,
		First:           s.First,
		Second:          s.Second,
		SplitPercentage: s.SplitPercentage,
	}
	return nil
}

// Leaf constructs a leaf node for a pane id.
func NewLeaf(id string) *Node {
	return &Node{Leaf: id}
}

// NewSplit constructs an internal node.
func NewSplit(dir Direction, first, second *Node, pct float64) *Node {
	return &Node{Direction: dir, First: first, Second: second, SplitPercentage: pct}
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return NewLeaf(n.Leaf)
	}
	return NewSplit(n.Direction, n.First.Clone(), n.Second.Clone(), n.SplitPercentage)
}

// Equal reports whether two trees have identical structure and leaves.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.IsLeaf() != b.IsLeaf() {
		return false
	}
	if a.IsLeaf() {
		return a.Leaf == b.Leaf
	}
	return a.Direction == b.Direction &&
		a.SplitPercentage == b.SplitPercentage &&
		Equal(a.First, b.First) &&
		Equal(a.Second, b.Second)
}

// Validate checks the structural invariants: every split has two children
// and a sane direction and percentage, and no pane id appears twice.
func Validate(tree *Node) error {
	seen := make(map[string]bool)
	return validate(tree, seen)
}

func validate(n *Node, seen map[string]bool) error {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		if seen[n.Leaf] {
			return fmt.Errorf("%w: %s", ErrDuplicateLeaf, n.Leaf)
		}
		seen[n.Leaf] = true
		return nil
	}
	if n.First == nil || n.Second == nil {
		return ErrNilChild
	}
	if n.Direction != Row && n.Direction != Column {
		return fmt.Errorf("%w: %q", ErrBadDirection, n.Direction)
	}
	if n.SplitPercentage <= 0 || n.SplitPercentage >= 100 {
		return fmt.Errorf("%w: %v", ErrBadPercentage, n.SplitPercentage)
	}
	if err := validate(n.First, seen); err != nil {
		return err
	}
	return validate(n.Second, seen)
}
