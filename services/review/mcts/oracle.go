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

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
)

// SimulationResult is the Evaluator's score for one candidate node.
// It is the only artifact passed to backpropagation.
type SimulationResult struct {
	NodeID      string  `json:"nodeId"`
	Value       float64 `json:"value"`
	Explanation string  `json:"explanation"`
}

// Candidate is an expanded node offered to the oracle for scoring.
type Candidate struct {
	NodeID string `json:"nodeId"`
	State  string `json:"state"`
}

// NodeOracle chooses the next node to expand.
type NodeOracle interface {
	SelectNode(ctx context.Context, tree *Tree, currentID string, sc SearchContext) (string, error)
}

// ExpansionOracle proposes next reasoning steps for a state.
type ExpansionOracle interface {
	Expand(ctx context.Context, state string) (datatypes.Expansion, error)
}

// EvaluationOracle scores candidate reasoning states against the parent state.
// The returned NodeID must name one of the candidates.
type EvaluationOracle interface {
	Evaluate(ctx context.Context, parentState string, candidates []Candidate) (SimulationResult, error)
}

// ChangesetOracle performs the first-pass review of a whole change set.
type ChangesetOracle interface {
	ScoreChangeset(ctx context.Context, changes datatypes.ChangeContext, requirements string) (datatypes.Assessment, error)
}

// Oracle is the full reasoning oracle contract.
type Oracle interface {
	NodeOracle
	ExpansionOracle
	EvaluationOracle
	ChangesetOracle
}

// ContextProvider collects the change context for a revision range.
type ContextProvider interface {
	Collect(ctx context.Context, req datatypes.ChangeRequest) (datatypes.ChangeContext, error)
}

// ReportSink receives the final outcome of a review.
type ReportSink interface {
	// Publish renders and persists the outcome, returning where it was written.
	Publish(ctx context.Context, outcome *Outcome) (string, error)
}

// Checkpointer persists a session between phases.
type Checkpointer interface {
	Save(ctx context.Context, s *Session) error
}

// Publisher broadcasts progress events.
type Publisher interface {
	Publish(reviewID, topic string, iteration int, data any)
}
