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
	"strings"
)

// ExpansionResult describes the children an expansion added.
type ExpansionResult struct {
	ParentID  string   `json:"parentId"`
	ChildIDs  []string `json:"childIds"`
	Reasoning string   `json:"reasoning"`
}

// Expanded returns true if at least one child was added.
func (r ExpansionResult) Expanded() bool {
	return len(r.ChildIDs) > 0
}

// Expander grows the tree with oracle-proposed reasoning steps.
//
// Thread Safety: Safe to share; each call mutates only the tree it is given.
type Expander struct {
	oracle      ExpansionOracle
	maxChildren int
	logger      *slog.Logger
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithMaxChildren caps the children added per expansion (0 = no cap).
func WithMaxChildren(n int) ExpanderOption {
	return func(e *Expander) {
		e.maxChildren = n
	}
}

// WithExpanderLogger sets the logger.
func WithExpanderLogger(logger *slog.Logger) ExpanderOption {
	return func(e *Expander) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExpander creates an expander backed by oracle.
func NewExpander(oracle ExpansionOracle, opts ...ExpanderOption) *Expander {
	e := &Expander{oracle: oracle, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand asks the oracle for next steps from nodeID's state and adds one
// child per step.
//
// Description:
//
//	The node is resolved before the oracle is called, so an unknown node
//	costs nothing and mutates nothing. Blank steps are dropped. Zero
//	remaining steps is a no-op, not an error.
//
// Inputs:
//   - ctx: Context for the oracle call.
//   - tree: The tree to grow.
//   - nodeID: The selected node.
//
// Outputs:
//   - ExpansionResult: Ids of the new children, in step order.
//   - error: ErrNodeNotFound or ErrOracleFailure (wrapped).
func (e *Expander) Expand(ctx context.Context, tree *Tree, nodeID string) (ExpansionResult, error) {
	result := ExpansionResult{ParentID: nodeID}

	node, ok := tree.Node(nodeID)
	if !ok {
		return result, fmt.Errorf("expand %s: %w", nodeID, ErrNodeNotFound)
	}

	expansion, err := e.oracle.Expand(ctx, node.State)
	if err != nil {
		return result, fmt.Errorf("expand %s: %w: %w", nodeID, ErrOracleFailure, err)
	}
	result.Reasoning = expansion.Reasoning

	steps := make([]string, 0, len(expansion.Steps))
	for _, step := range expansion.Steps {
		if s := strings.TrimSpace(step); s != "" {
			steps = append(steps, s)
		}
	}
	if e.maxChildren > 0 && len(steps) > e.maxChildren {
		steps = steps[:e.maxChildren]
	}

	if len(steps) == 0 {
		e.logger.InfoContext(ctx, "expansion produced no steps",
			slog.String("node_id", nodeID),
		)
		return result, nil
	}

	for _, step := range steps {
		child, err := tree.AddChild(nodeID, step)
		if err != nil {
			// Unreachable: the parent was resolved above and nodes are never deleted.
			return result, err
		}
		result.ChildIDs = append(result.ChildIDs, child.ID)
	}

	e.logger.DebugContext(ctx, "node expanded",
		slog.String("node_id", nodeID),
		slog.Int("children", len(result.ChildIDs)),
	)
	return result, nil
}
