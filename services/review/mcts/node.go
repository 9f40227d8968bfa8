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
	"fmt"
	"time"
)

// RootInitialVisits is the visit count a freshly created root starts with.
//
// The first UCB1 computation on the root's children uses ln(parentVisits);
// starting the root at 1 keeps that term defined before any backpropagation.
const RootInitialVisits int64 = 1

// Node is a single reasoning state in the search tree.
//
// Value is cumulative, not an average. Use AvgValue when an average is needed.
//
// Thread Safety: Not safe for concurrent use. Nodes are owned by a Tree,
// which is owned by exactly one Session.
type Node struct {
	// ID is stable for the node's lifetime.
	ID string `json:"id"`

	// Parent is the parent id, empty for the root.
	Parent string `json:"parent,omitempty"`

	// Children lists child ids in expansion order.
	Children []string `json:"children"`

	Visits int64   `json:"visits"`
	Value  float64 `json:"value"`

	// State is the reasoning text this node represents.
	State string `json:"state"`

	// IsTerminal marks nodes that should not be expanded further.
	IsTerminal bool `json:"isTerminal"`
}

// IsRoot returns true if the node has no parent.
func (n *Node) IsRoot() bool {
	return n.Parent == ""
}

// IsLeaf returns true if the node has not been expanded.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// AvgValue returns value/visits, or 0 for an unvisited node.
func (n *Node) AvgValue() float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.Value / float64(n.Visits)
}

// clone returns a deep copy.
func (n *Node) clone() *Node {
	c := *n
	c.Children = append(make([]string, 0, len(n.Children)), n.Children...)
	return &c
}

// String returns a compact one-line description for logs.
func (n *Node) String() string {
	return fmt.Sprintf("Node[%s visits=%d value=%.3f children=%d]", n.ID, n.Visits, n.Value, len(n.Children))
}

// NewRootID returns a root identifier of the form root-<unix seconds>.
func NewRootID(now time.Time) string {
	return fmt.Sprintf("root-%d", now.Unix())
}
