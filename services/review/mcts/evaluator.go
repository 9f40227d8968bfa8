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
	"math/rand"
	"strings"
)

// EvaluationStrategy names how candidates are scored.
type EvaluationStrategy string

const (
	// EvaluateOne scores a single candidate chosen by the picker.
	EvaluateOne EvaluationStrategy = "one"

	// EvaluateBestOf scores every candidate and reports the best.
	EvaluateBestOf EvaluationStrategy = "best-of"
)

// ParseEvaluationStrategy parses a strategy name. Empty means EvaluateOne.
func ParseEvaluationStrategy(s string) (EvaluationStrategy, error) {
	switch EvaluationStrategy(s) {
	case "", EvaluateOne:
		return EvaluateOne, nil
	case EvaluateBestOf:
		return EvaluateBestOf, nil
	default:
		return "", fmt.Errorf("unknown evaluation strategy %q", s)
	}
}

// CandidatePicker chooses which candidate EvaluateOne scores.
type CandidatePicker func(candidates []Candidate) int

// PickFirst always chooses the first candidate.
func PickFirst(_ []Candidate) int { return 0 }

// PickRandom chooses uniformly with the given source.
func PickRandom(rng *rand.Rand) CandidatePicker {
	return func(candidates []Candidate) int {
		return rng.Intn(len(candidates))
	}
}

// Evaluator runs the simulation phase. It never mutates the tree.
type Evaluator struct {
	oracle   EvaluationOracle
	strategy EvaluationStrategy
	pick     CandidatePicker
	logger   *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithStrategy selects the evaluation strategy.
func WithStrategy(s EvaluationStrategy) EvaluatorOption {
	return func(e *Evaluator) {
		e.strategy = s
	}
}

// WithCandidatePicker sets the picker used by EvaluateOne.
func WithCandidatePicker(p CandidatePicker) EvaluatorOption {
	return func(e *Evaluator) {
		if p != nil {
			e.pick = p
		}
	}
}

// WithEvaluatorLogger sets the logger.
func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator creates an evaluator. Defaults: EvaluateOne with PickFirst.
func NewEvaluator(oracle EvaluationOracle, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		oracle:   oracle,
		strategy: EvaluateOne,
		pick:     PickFirst,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the configured strategy.
func (e *Evaluator) Strategy() EvaluationStrategy {
	return e.strategy
}

// Evaluate scores the newly expanded children against the root's state.
//
// Inputs:
//   - ctx: Context for the oracle call(s).
//   - tree: The tree holding the candidates. Read only.
//   - expandedIDs: Ids produced by the expansion phase.
//
// Outputs:
//   - SimulationResult: The scored node, value clamped to [0,1].
//   - error: ErrNoCandidatesToEvaluate, ErrNodeNotFound,
//     ErrMissingEvaluationContext or ErrOracleFailure (wrapped).
func (e *Evaluator) Evaluate(ctx context.Context, tree *Tree, expandedIDs []string) (SimulationResult, error) {
	if len(expandedIDs) == 0 {
		return SimulationResult{}, ErrNoCandidatesToEvaluate
	}

	candidates := make([]Candidate, 0, len(expandedIDs))
	for _, id := range expandedIDs {
		n, ok := tree.Node(id)
		if !ok {
			return SimulationResult{}, fmt.Errorf("evaluate %s: %w", id, ErrNodeNotFound)
		}
		if strings.TrimSpace(n.State) == "" {
			e.logger.WarnContext(ctx, "expanded node has no state", slog.String("node_id", id))
			continue
		}
		candidates = append(candidates, Candidate{NodeID: id, State: n.State})
	}
	if len(candidates) == 0 {
		return SimulationResult{}, ErrNoCandidatesToEvaluate
	}

	root := tree.Root()
	if root == nil || strings.TrimSpace(root.State) == "" {
		return SimulationResult{}, ErrMissingEvaluationContext
	}

	switch e.strategy {
	case EvaluateBestOf:
		return e.evaluateBestOf(ctx, root.State, candidates)
	default:
		idx := e.pick(candidates)
		if idx < 0 || idx >= len(candidates) {
			idx = 0
		}
		return e.evaluateOne(ctx, root.State, candidates[idx])
	}
}

func (e *Evaluator) evaluateOne(ctx context.Context, parentState string, c Candidate) (SimulationResult, error) {
	res, err := e.oracle.Evaluate(ctx, parentState, []Candidate{c})
	if err != nil {
		return SimulationResult{}, fmt.Errorf("evaluate %s: %w: %w", c.NodeID, ErrOracleFailure, err)
	}
	return e.normalize(ctx, res, []Candidate{c})
}

// evaluateBestOf issues one oracle call per candidate, sequentially.
func (e *Evaluator) evaluateBestOf(ctx context.Context, parentState string, candidates []Candidate) (SimulationResult, error) {
	var best SimulationResult
	for i, c := range candidates {
		res, err := e.evaluateOne(ctx, parentState, c)
		if err != nil {
			return SimulationResult{}, err
		}
		if i == 0 || res.Value > best.Value {
			best = res
		}
	}
	return best, nil
}

func (e *Evaluator) normalize(ctx context.Context, res SimulationResult, candidates []Candidate) (SimulationResult, error) {
	if res.NodeID == "" {
		res.NodeID = candidates[0].NodeID
	}
	known := false
	for _, c := range candidates {
		if c.NodeID == res.NodeID {
			known = true
			break
		}
	}
	if !known {
		return SimulationResult{}, fmt.Errorf("%w: scored unknown candidate %q", ErrOracleFailure, res.NodeID)
	}
	if clamped := clamp01(res.Value); clamped != res.Value {
		e.logger.WarnContext(ctx, "simulation value out of range, clamped",
			slog.String("node_id", res.NodeID),
			slog.Float64("value", res.Value),
		)
		res.Value = clamped
	}
	return res, nil
}

func clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
