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
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Selector descends the tree to the node that should be expanded next.
type Selector interface {
	// Select returns the target node. An empty startID means the root.
	Select(ctx context.Context, tree *Tree, startID string, sc SearchContext) (*Node, error)
}

// UCB1 computes value/visits + c*sqrt(ln(max(parentVisits,1)) / max(visits,1)).
func UCB1(value float64, visits, parentVisits int64, c float64) float64 {
	pv := math.Max(float64(parentVisits), 1)
	cv := math.Max(float64(visits), 1)
	exploitation := 0.0
	if visits > 0 {
		exploitation = value / float64(visits)
	}
	return exploitation + c*math.Sqrt(math.Log(pv)/cv)
}

// UCB1Selector is the default, deterministic selection strategy:
// unexplored children first, then the greatest UCB1 score.
//
// Thread Safety: Stateless; safe for concurrent use on different trees.
type UCB1Selector struct{}

// NewUCB1Selector returns the default selector.
func NewUCB1Selector() *UCB1Selector {
	return &UCB1Selector{}
}

// Select implements Selector.
//
// Description:
//
//	Starting at startID, returns the current node if it has no children or
//	maxDepth has been reached. Otherwise returns the first child with zero
//	visits, or recurses into the child with the strictly greatest UCB1 score
//	(first child wins ties).
//
// Outputs:
//   - *Node: The node to expand.
//   - error: ErrEmptySearchSpace for an empty tree, ErrNodeNotFound for an
//     unknown startID.
func (s *UCB1Selector) Select(_ context.Context, tree *Tree, startID string, sc SearchContext) (*Node, error) {
	if tree.Len() == 0 {
		return nil, ErrEmptySearchSpace
	}
	if startID == "" {
		startID = tree.RootID()
	}
	current, ok := tree.Node(startID)
	if !ok {
		return nil, fmt.Errorf("select from %s: %w", startID, ErrNodeNotFound)
	}

	for depth := 0; ; depth++ {
		if current.IsLeaf() || depth >= sc.MaxDepth {
			return current, nil
		}
		children := tree.Children(current.ID)
		if len(children) == 0 {
			return current, nil
		}
		next := pickChild(current, children, sc.ExplorationConstant)
		if next.Visits == 0 {
			return next, nil
		}
		current = next
	}
}

// pickChild returns the first unvisited child, or the UCB1 maximum.
func pickChild(parent *Node, children []*Node, c float64) *Node {
	for _, child := range children {
		if child.Visits == 0 {
			return child
		}
	}
	best := children[0]
	bestScore := UCB1(best.Value, best.Visits, parent.Visits, c)
	for _, child := range children[1:] {
		score := UCB1(child.Value, child.Visits, parent.Visits, c)
		if score > bestScore {
			best, bestScore = child, score
		}
	}
	return best
}

// OracleSelector delegates selection to the oracle and falls back to a
// local strategy when the oracle fails or names an unknown node.
type OracleSelector struct {
	oracle   NodeOracle
	fallback Selector
	logger   *slog.Logger
}

// NewOracleSelector creates an oracle-backed selector.
//
// Inputs:
//   - oracle: The node oracle. Must not be nil.
//   - fallback: Strategy used when the oracle fails (nil = UCB1Selector).
//   - logger: Logger (nil = slog.Default()).
func NewOracleSelector(oracle NodeOracle, fallback Selector, logger *slog.Logger) *OracleSelector {
	if fallback == nil {
		fallback = NewUCB1Selector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleSelector{oracle: oracle, fallback: fallback, logger: logger}
}

// Select implements Selector.
func (s *OracleSelector) Select(ctx context.Context, tree *Tree, startID string, sc SearchContext) (*Node, error) {
	if tree.Len() == 0 {
		return nil, ErrEmptySearchSpace
	}
	if startID == "" {
		startID = tree.RootID()
	}
	if _, ok := tree.Node(startID); !ok {
		return nil, fmt.Errorf("select from %s: %w", startID, ErrNodeNotFound)
	}

	id, err := s.oracle.SelectNode(ctx, tree, startID, sc)
	if err == nil {
		if n, ok := tree.Node(id); ok {
			return n, nil
		}
		err = fmt.Errorf("oracle selected %q: %w", id, ErrNodeNotFound)
	}
	s.logger.WarnContext(ctx, "oracle selection failed, using fallback",
		slog.String("start_id", startID),
		slog.String("error", err.Error()),
	)
	return s.fallback.Select(ctx, tree, startID, sc)
}
