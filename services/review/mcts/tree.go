// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tree is the search tree: an arena of nodes keyed by id.
//
// Nodes are added only through AddChild and never deleted. Statistics are
// mutated only by Backpropagate.
//
// Thread Safety: Not safe for concurrent use. A Tree has exactly one owner
// (its Session) and phases run strictly one at a time.
type Tree struct {
	rootID string
	nodes  map[string]*Node
}

// NewTree creates a tree with a single root node.
//
// Inputs:
//   - rootID: Identifier for the root (see NewRootID).
//   - state: Initial problem summary stored on the root.
//
// Outputs:
//   - *Tree: The tree, never nil. The root starts with RootInitialVisits visits.
func NewTree(rootID, state string) *Tree {
	root := &Node{
		ID:       rootID,
		Children: []string{},
		Visits:   RootInitialVisits,
		State:    state,
	}
	return &Tree{
		rootID: rootID,
		nodes:  map[string]*Node{rootID: root},
	}
}

// NewTreeFromNodes builds a tree from existing node records.
//
// Description:
//
//	Normalizes the records (nil children become empty) and validates the
//	structural invariants. Used when a tree is ingested from storage or
//	from an external payload.
//
// Outputs:
//   - *Tree: The validated tree.
//   - error: ErrInvalidTree (wrapped) if an invariant does not hold.
func NewTreeFromNodes(rootID string, nodes []*Node) (*Tree, error) {
	t := &Tree{rootID: rootID, nodes: make(map[string]*Node, len(nodes))}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrInvalidTree)
		}
		if _, dup := t.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %s", ErrInvalidTree, n.ID)
		}
		c := n.clone()
		if c.Children == nil {
			c.Children = []string{}
		}
		t.nodes[c.ID] = c
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// RootID returns the root identifier.
func (t *Tree) RootID() string {
	return t.rootID
}

// Root returns the root node, or nil for an empty tree.
func (t *Tree) Root() *Node {
	if t == nil {
		return nil
	}
	return t.nodes[t.rootID]
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Node returns the node with the given id.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// AddChild appends a new unvisited child to parentID.
//
// Outputs:
//   - *Node: The new child with a fresh uuid.
//   - error: ErrNodeNotFound if the parent does not exist. No mutation occurs on error.
func (t *Tree) AddChild(parentID, state string) (*Node, error) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("add child to %s: %w", parentID, ErrNodeNotFound)
	}
	child := &Node{
		ID:       uuid.NewString(),
		Parent:   parentID,
		Children: []string{},
		State:    state,
	}
	t.nodes[child.ID] = child
	parent.Children = append(parent.Children, child.ID)
	return child, nil
}

// Children returns the resolvable children of id in order.
// Child ids that do not resolve are skipped.
func (t *Tree) Children(id string) []*Node {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, cid := range n.Children {
		if c, ok := t.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Depth returns the number of edges between id and the root.
func (t *Tree) Depth(id string) (int, error) {
	n, ok := t.nodes[id]
	if !ok {
		return 0, fmt.Errorf("depth of %s: %w", id, ErrNodeNotFound)
	}
	depth := 0
	for !n.IsRoot() {
		parent, ok := t.nodes[n.Parent]
		if !ok {
			return depth, fmt.Errorf("depth of %s: %w: %s", id, ErrParentNodeNotFound, n.Parent)
		}
		depth++
		if depth > len(t.nodes) {
			return depth, fmt.Errorf("depth of %s: %w: cycle", id, ErrInvalidTree)
		}
		n = parent
	}
	return depth, nil
}

// MaxDepth returns the depth of the deepest node reachable from the root.
func (t *Tree) MaxDepth() int {
	max := 0
	t.Walk(func(_ *Node, depth int) bool {
		if depth > max {
			max = depth
		}
		return true
	})
	return max
}

// Walk visits nodes reachable from the root breadth-first, in child order.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	root := t.Root()
	if root == nil {
		return
	}
	type item struct {
		node  *Node
		depth int
	}
	seen := map[string]bool{root.ID: true}
	queue := []item{{root, 0}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if !fn(it.node, it.depth) {
			return
		}
		for _, cid := range it.node.Children {
			c, ok := t.nodes[cid]
			if !ok || seen[cid] {
				continue
			}
			seen[cid] = true
			queue = append(queue, item{c, it.depth + 1})
		}
	}
}

// Nodes returns all nodes reachable from the root in breadth-first order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, t.Len())
	t.Walk(func(n *Node, _ int) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Validate checks the structural invariants: a single root, bidirectional
// parent/child links, and every node reachable from the root exactly once.
func (t *Tree) Validate() error {
	if t == nil || len(t.nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidTree)
	}
	root, ok := t.nodes[t.rootID]
	if !ok {
		return fmt.Errorf("%w: root %s missing", ErrInvalidTree, t.rootID)
	}
	if !root.IsRoot() {
		return fmt.Errorf("%w: root %s has parent %s", ErrInvalidTree, root.ID, root.Parent)
	}
	for id, n := range t.nodes {
		if n.ID != id {
			return fmt.Errorf("%w: node keyed %s has id %s", ErrInvalidTree, id, n.ID)
		}
		if id != t.rootID {
			if n.IsRoot() {
				return fmt.Errorf("%w: second root %s", ErrInvalidTree, id)
			}
			parent, ok := t.nodes[n.Parent]
			if !ok {
				return fmt.Errorf("%w: node %s: %w", ErrInvalidTree, id, ErrParentNodeNotFound)
			}
			if !containsID(parent.Children, id) {
				return fmt.Errorf("%w: parent %s does not list child %s", ErrInvalidTree, parent.ID, id)
			}
		}
		for _, cid := range n.Children {
			c, ok := t.nodes[cid]
			if !ok {
				return fmt.Errorf("%w: child %s of %s: %w", ErrInvalidTree, cid, id, ErrNodeNotFound)
			}
			if c.Parent != id {
				return fmt.Errorf("%w: child %s of %s names parent %q", ErrInvalidTree, cid, id, c.Parent)
			}
		}
		if n.Visits < 0 {
			return fmt.Errorf("%w: node %s has negative visits", ErrInvalidTree, id)
		}
	}
	if reached := len(t.Nodes()); reached != len(t.nodes) {
		return fmt.Errorf("%w: %d of %d nodes reachable from root", ErrInvalidTree, reached, len(t.nodes))
	}
	return nil
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{rootID: t.rootID, nodes: make(map[string]*Node, len(t.nodes))}
	for id, n := range t.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

// Format renders the tree with box-drawing branches, marking nodes on
// highlight with a star.
func (t *Tree) Format(highlight ...string) string {
	root := t.Root()
	if root == nil {
		return "Empty tree"
	}
	marked := make(map[string]bool, len(highlight))
	for _, id := range highlight {
		marked[id] = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Nodes: %d, Max Depth: %d\n\n", t.Len(), t.MaxDepth())
	t.formatNode(&sb, root, "", true, marked, map[string]bool{})
	return sb.String()
}

func (t *Tree) formatNode(sb *strings.Builder, n *Node, prefix string, isLast bool, marked, seen map[string]bool) {
	seen[n.ID] = true
	branch := "├── "
	if isLast {
		branch = "└── "
	}
	star := ""
	if marked[n.ID] {
		star = " ★"
	}
	fmt.Fprintf(sb, "%s%s[%s] %s (avg: %.2f, visits: %d)%s\n",
		prefix, branch, shortID(n.ID), truncate(oneLine(n.State), 60), n.AvgValue(), n.Visits, star)

	childPrefix := prefix + "│   "
	if isLast {
		childPrefix = prefix + "    "
	}
	children := t.Children(n.ID)
	for i, c := range children {
		if seen[c.ID] {
			continue
		}
		t.formatNode(sb, c, childPrefix, i == len(children)-1, marked, seen)
	}
}

type treeJSON struct {
	RootID string           `json:"rootId"`
	Nodes  map[string]*Node `json:"nodes"`
}

// MarshalJSON encodes the tree as {"rootId": ..., "nodes": {id: node}}.
// Map keys are sorted by encoding/json, so equal trees encode identically.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(treeJSON{RootID: t.rootID, Nodes: t.nodes})
}

// UnmarshalJSON decodes, normalizes and validates a tree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw treeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	nodes := make([]*Node, 0, len(raw.Nodes))
	for id, n := range raw.Nodes {
		if n == nil {
			continue
		}
		if n.ID == "" {
			n.ID = id
		}
		nodes = append(nodes, n)
	}
	decoded, err := NewTreeFromNodes(raw.RootID, nodes)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 && !strings.HasPrefix(id, "root-") {
		return id[:8]
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
