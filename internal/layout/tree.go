// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package layout

// All operations here are non-mutating: they return a new tree and leave
// the input untouched. Callers that persist layout changes through the API
// keep the old tree until the backend acknowledges, so shared subtrees must
// never be modified in place.

// BuildDefault builds the default arrangement for an ordered set of pane ids.
// One pane fills the tab; two panes split side by side; three or more put the
// first pane on the left and stack the rest in a column on the right. Trees
// loaded from persisted state are used as-is and never rebalanced to this
// shape.
func BuildDefault(ids []string) *Node {
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return NewLeaf(ids[0])
	case 2:
		return NewSplit(Row, NewLeaf(ids[0]), NewLeaf(ids[1]), 50)
	default:
		return NewSplit(Row, NewLeaf(ids[0]), buildColumn(ids[1:]), 50)
	}
}

func buildColumn(ids []string) *Node {
	if len(ids) == 1 {
		return NewLeaf(ids[0])
	}
	return NewSplit(Column, NewLeaf(ids[0]), buildColumn(ids[1:]), 50)
}

// Insert adds a pane to the tree. Inserting into an empty tree yields a
// bare leaf; inserting next to a leaf wraps it in a row split with the new
// pane on the right. In a split the new pane always descends into the second
// branch, so repeated inserts stack next to the most recently split pane.
// Inserting an id that is already present is a no-op and returns the
// original tree unchanged.
func Insert(tree *Node, id string) *Node {
	if tree == nil {
		return NewLeaf(id)
	}
	if Contains(tree, id) {
		return tree
	}
	return insert(tree, id)
}

func insert(n *Node, id string) *Node {
	if n.IsLeaf() {
		return NewSplit(Row, NewLeaf(n.Leaf), NewLeaf(id), 50)
	}
	return NewSplit(n.Direction, n.First, insert(n.Second, id), n.SplitPercentage)
}

// Remove deletes a pane from the tree. A split left with a single child
// collapses: the surviving branch replaces it entirely, so no degenerate
// one-child splits ever persist. Removing the last pane yields nil.
func Remove(tree *Node, id string) *Node {
	if tree == nil {
		return nil
	}
	if tree.IsLeaf() {
		if tree.Leaf == id {
			return nil
		}
		return tree
	}
	first := Remove(tree.First, id)
	second := Remove(tree.Second, id)
	switch {
	case first == nil && second == nil:
		return nil
	case first == nil:
		return second
	case second == nil:
		return first
	}
	if first == tree.First && second == tree.Second {
		return tree
	}
	return NewSplit(tree.Direction, first, second, tree.SplitPercentage)
}

// Contains reports whether the pane id appears anywhere in the tree.
func Contains(tree *Node, id string) bool {
	if tree == nil {
		return false
	}
	if tree.IsLeaf() {
		return tree.Leaf == id
	}
	return Contains(tree.First, id) || Contains(tree.Second, id)
}

// Leaves returns the pane ids in first-then-second order.
func Leaves(tree *Node) []string {
	var ids []string
	walk(tree, func(id string) { ids = append(ids, id) })
	return ids
}

func walk(n *Node, fn func(string)) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		fn(n.Leaf)
		return
	}
	walk(n.First, fn)
	walk(n.Second, fn)
}
