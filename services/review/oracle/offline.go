// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// perspectives are the review angles the offline oracle proposes.
var perspectives = []string{
	"Analyze code structure",
	"Review error handling",
	"Consider performance implications",
	"Check test coverage of the changed paths",
	"Examine API and package boundaries",
	"Assess concurrency safety",
	"Verify input validation",
}

// Offline is a deterministic, network-free mcts.Oracle. The same inputs
// always produce the same outputs, which makes it suitable for tests,
// demos and air-gapped runs.
//
// Thread Safety: Stateless; safe for concurrent use.
type Offline struct {
	selector *mcts.UCB1Selector
}

var _ mcts.Oracle = (*Offline)(nil)

// NewOffline creates an offline oracle.
func NewOffline() *Offline {
	return &Offline{selector: mcts.NewUCB1Selector()}
}

// hashUnit maps parts to a stable value in [0,1).
func hashUnit(parts ...string) float64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return float64(h.Sum64()%10000) / 10000
}

// ScoreChangeset scores the change set in [0.3, 0.8) and reports one
// issue per changed file, up to three.
func (o *Offline) ScoreChangeset(_ context.Context, changes datatypes.ChangeContext, requirements string) (datatypes.Assessment, error) {
	files := changes.FileList()
	score := 0.3 + 0.5*hashUnit(changes.Files, changes.Messages, requirements)

	issues := make([]datatypes.Issue, 0, 3)
	for i, f := range files {
		if i == 3 {
			break
		}
		issues = append(issues, datatypes.Issue{
			Claim:     fmt.Sprintf("Changes to %s need verification against the requirements", f),
			Grounds:   fmt.Sprintf("%s is part of the reviewed revision range", f),
			Warrant:   "Every changed file can affect whether the requirements are met",
			Backing:   "Change-based review practice",
			Qualifier: "Generated without a language model",
		})
	}

	return datatypes.Assessment{
		Score:   score,
		Issues:  issues,
		Summary: fmt.Sprintf("Offline review of %d changed files across %d commits (+%d/-%d lines).",
			len(files), len(changes.MessageList()), changes.Stats.LinesAdded, changes.Stats.LinesDeleted),
		IssueSummary: fmt.Sprintf("%d files flagged for follow-up.", len(issues)),
	}, nil
}

// Expand proposes two or three perspectives chosen by the state's hash.
func (o *Offline) Expand(_ context.Context, state string) (datatypes.Expansion, error) {
	n := 2 + int(hashUnit("count", state)*2)
	start := int(hashUnit("start", state) * float64(len(perspectives)))
	subject := firstWords(state, 8)

	steps := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := perspectives[(start+i)%len(perspectives)]
		steps = append(steps, fmt.Sprintf("%s: %s", p, subject))
	}
	return datatypes.Expansion{
		Reasoning: fmt.Sprintf("Explore %d review angles for the current reasoning.", n),
		Steps:     steps,
	}, nil
}

// Evaluate scores every candidate in [0.2, 0.9) and returns the best.
func (o *Offline) Evaluate(_ context.Context, parentState string, candidates []mcts.Candidate) (mcts.SimulationResult, error) {
	if len(candidates) == 0 {
		return mcts.SimulationResult{}, mcts.ErrNoCandidatesToEvaluate
	}
	var best mcts.SimulationResult
	for i, c := range candidates {
		v := 0.2 + 0.7*hashUnit(parentState, c.State)
		if i == 0 || v > best.Value {
			best = mcts.SimulationResult{
				NodeID:      c.NodeID,
				Value:       v,
				Explanation: fmt.Sprintf("Deterministic offline score for %q", firstWords(c.State, 6)),
			}
		}
	}
	return best, nil
}

// SelectNode applies UCB1.
func (o *Offline) SelectNode(ctx context.Context, tree *mcts.Tree, currentID string, sc mcts.SearchContext) (string, error) {
	n, err := o.selector.Select(ctx, tree, currentID, sc)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = append(words[:n:n], "...")
	}
	return strings.Join(words, " ")
}
