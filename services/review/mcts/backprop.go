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

import "fmt"

// BackpropResult records what a backpropagation did and what comes next.
type BackpropResult struct {
	// Path lists updated node ids, scored node first, root last.
	Path []string `json:"path"`

	// NextIteration is currentIteration + 1.
	NextIteration int `json:"nextIteration"`

	// Complete is true when NextIteration has reached maxIterations.
	Complete bool `json:"complete"`
}

// Backpropagate adds one visit and the simulation value to the scored node
// and every ancestor up to the root.
//
// Description:
//
//	The scored node is resolved before anything is touched, so an unknown
//	id leaves the tree unmodified. A dangling parent mid-walk aborts with
//	ErrParentNodeNotFound; updates already applied are kept and the
//	returned Path holds the nodes that were updated. Nodes off the path are
//	never touched.
//
// Inputs:
//   - tree: The tree to update.
//   - result: The simulation result.
//   - sc: The search context; only CurrentIteration and MaxIterations are read.
//
// Outputs:
//   - BackpropResult: Updated path and the continuation decision.
//   - error: ErrNodeNotFound, ErrParentNodeNotFound or ErrInvalidTree (wrapped).
func Backpropagate(tree *Tree, result SimulationResult, sc SearchContext) (BackpropResult, error) {
	var out BackpropResult

	node, ok := tree.Node(result.NodeID)
	if !ok {
		return out, fmt.Errorf("backpropagate %s: %w", result.NodeID, ErrNodeNotFound)
	}

	limit := tree.Len()
	for {
		node.Visits++
		node.Value += result.Value
		out.Path = append(out.Path, node.ID)

		if node.IsRoot() {
			break
		}
		if len(out.Path) >= limit {
			return out, fmt.Errorf("backpropagate %s: %w: parent cycle at %s", result.NodeID, ErrInvalidTree, node.ID)
		}
		parent, ok := tree.Node(node.Parent)
		if !ok {
			return out, fmt.Errorf("backpropagate %s: %w: %s (parent of %s)",
				result.NodeID, ErrParentNodeNotFound, node.Parent, node.ID)
		}
		node = parent
	}

	out.NextIteration = sc.CurrentIteration + 1
	out.Complete = out.NextIteration >= sc.MaxIterations
	return out, nil
}
