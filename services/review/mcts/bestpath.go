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

// SelectionMode is the criterion used to pick the best child of the root.
type SelectionMode string

const (
	SelectByVisits     SelectionMode = "visits"
	SelectByValue      SelectionMode = "value"
	SelectByValueRatio SelectionMode = "value-ratio"
)

// ParseSelectionMode parses a mode name. Empty means SelectByVisits.
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch SelectionMode(s) {
	case "", SelectByVisits:
		return SelectByVisits, nil
	case SelectByValue:
		return SelectByValue, nil
	case SelectByValueRatio:
		return SelectByValueRatio, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSelectionMode, s)
	}
}

// score returns n's score under the mode.
func (m SelectionMode) score(n *Node) float64 {
	switch m {
	case SelectByValue:
		return n.Value
	case SelectByValueRatio:
		return n.AvgValue()
	default:
		return float64(n.Visits)
	}
}

// NodeStats are the statistics of the selected node.
type NodeStats struct {
	Visits   int64   `json:"visits"`
	Value    float64 `json:"value"`
	AvgValue float64 `json:"avgValue"`
}

// BestPath is the Terminator's output.
type BestPath struct {
	SelectedNodeID string        `json:"selectedNodeId"`
	State          string        `json:"state"`
	Reasoning      string        `json:"reasoning"`
	Explanation    string        `json:"explanation,omitempty"`
	Mode           SelectionMode `json:"mode"`
	Stats          NodeStats     `json:"stats"`
	ChildrenCount  int           `json:"childrenCount"`

	// Path follows the same criterion from the root down to a leaf,
	// root first. Path[1] is SelectedNodeID when the root has children.
	Path []string `json:"path"`
}

// NoChildrenExplanation is reported when the root was never expanded.
const NoChildrenExplanation = "no children explored"

// SelectBest picks the best child of the root under mode.
//
// Description:
//
//	Scores each direct child of the root and returns the strictly greatest
//	(first child wins ties). A root without children is returned itself
//	with ChildrenCount 0 and NoChildrenExplanation. Pure read.
//
// Outputs:
//   - BestPath: The selection and its summary.
//   - error: ErrEmptySearchSpace for an empty tree, ErrInvalidSelectionMode
//     for an unknown mode.
func SelectBest(tree *Tree, mode SelectionMode) (BestPath, error) {
	mode, err := ParseSelectionMode(string(mode))
	if err != nil {
		return BestPath{}, err
	}
	root := tree.Root()
	if root == nil {
		return BestPath{}, ErrEmptySearchSpace
	}

	children := tree.Children(root.ID)
	if len(children) == 0 {
		return BestPath{
			SelectedNodeID: root.ID,
			State:          root.State,
			Reasoning:      fmt.Sprintf("Selected root %s: %s.", root.ID, NoChildrenExplanation),
			Explanation:    NoChildrenExplanation,
			Mode:           mode,
			Stats:          statsOf(root),
			ChildrenCount:  0,
			Path:           []string{root.ID},
		}, nil
	}

	best := bestChild(children, mode)
	path := []string{root.ID}
	for n := best; n != nil; n = bestChild(tree.Children(n.ID), mode) {
		path = append(path, n.ID)
		if len(path) > tree.Len() {
			break
		}
	}

	return BestPath{
		SelectedNodeID: best.ID,
		State:          best.State,
		Reasoning: fmt.Sprintf(
			"Selected node %s by %s (score %.4f) among %d children: visits=%d, value=%.4f, avg=%.4f.",
			best.ID, mode, mode.score(best), len(children), best.Visits, best.Value, best.AvgValue()),
		Mode:          mode,
		Stats:         statsOf(best),
		ChildrenCount: len(children),
		Path:          path,
	}, nil
}

func bestChild(children []*Node, mode SelectionMode) *Node {
	if len(children) == 0 {
		return nil
	}
	best := children[0]
	bestScore := mode.score(best)
	for _, c := range children[1:] {
		if s := mode.score(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func statsOf(n *Node) NodeStats {
	return NodeStats{Visits: n.Visits, Value: n.Value, AvgValue: n.AvgValue()}
}
