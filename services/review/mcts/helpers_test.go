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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
)

// childStats is (visits, value) for one root child.
type childStats struct {
	visits int64
	value  float64
}

// treeWithChildren builds a root with one child per entry in stats.
func treeWithChildren(t *testing.T, stats ...childStats) (*Tree, []string) {
	t.Helper()
	tree := NewTree("root-1", "root summary")
	ids := make([]string, 0, len(stats))
	var total int64
	for i, s := range stats {
		child, err := tree.AddChild(tree.RootID(), fmt.Sprintf("step %d", i))
		if err != nil {
			t.Fatalf("AddChild() error = %v", err)
		}
		child.Visits = s.visits
		child.Value = s.value
		total += s.visits
		ids = append(ids, child.ID)
	}
	if total > 0 {
		tree.Root().Visits = total
	}
	return tree, ids
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return string(data)
}

var errOracleDown = errors.New("oracle down")

// fakeOracle is a scriptable Oracle.
type fakeOracle struct {
	mu sync.Mutex

	assessment datatypes.Assessment
	scoreErr   error

	steps     []string
	reasoning string
	expandErr error

	// values are returned by successive Evaluate calls; the last repeats.
	values  []float64
	evalErr error
	evalID  string

	selectID  string
	selectErr error

	scoreCalls  int
	expandCalls int
	evalCalls   int
	selectCalls int
	lastParent  string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		assessment: datatypes.Assessment{
			Score:   0.4,
			Summary: "initial review summary",
			Issues:  []datatypes.Issue{{Claim: "missing tests"}},
		},
		steps:     []string{"check error handling", "check concurrency"},
		reasoning: "two directions",
		values:    []float64{0.6},
	}
}

func (f *fakeOracle) ScoreChangeset(_ context.Context, _ datatypes.ChangeContext, _ string) (datatypes.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoreCalls++
	return f.assessment, f.scoreErr
}

func (f *fakeOracle) Expand(_ context.Context, _ string) (datatypes.Expansion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expandCalls++
	if f.expandErr != nil {
		return datatypes.Expansion{}, f.expandErr
	}
	return datatypes.Expansion{Reasoning: f.reasoning, Steps: append([]string(nil), f.steps...)}, nil
}

func (f *fakeOracle) Evaluate(_ context.Context, parentState string, candidates []Candidate) (SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls++
	f.lastParent = parentState
	if f.evalErr != nil {
		return SimulationResult{}, f.evalErr
	}
	v := f.values[len(f.values)-1]
	if f.evalCalls <= len(f.values) {
		v = f.values[f.evalCalls-1]
	}
	id := f.evalID
	if id == "" && len(candidates) > 0 {
		id = candidates[0].NodeID
	}
	return SimulationResult{NodeID: id, Value: v, Explanation: "scored"}, nil
}

func (f *fakeOracle) SelectNode(_ context.Context, _ *Tree, currentID string, _ SearchContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls++
	if f.selectErr != nil {
		return "", f.selectErr
	}
	if f.selectID == "" {
		return currentID, nil
	}
	return f.selectID, nil
}

// fakeProvider returns a fixed change context.
type fakeProvider struct {
	changes datatypes.ChangeContext
	err     error
	calls   int
	last    datatypes.ChangeRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{changes: datatypes.ChangeContext{
		RepoDir:  "/repo",
		Files:    "main.go\nserver.go\n",
		Messages: "add server\n",
		Diff:     "diff --git a/main.go b/main.go\n",
	}}
}

func (p *fakeProvider) Collect(_ context.Context, req datatypes.ChangeRequest) (datatypes.ChangeContext, error) {
	p.calls++
	p.last = req
	return p.changes, p.err
}

// fakeSink records published outcomes.
type fakeSink struct {
	outcomes []*Outcome
	err      error
}

func (s *fakeSink) Publish(_ context.Context, o *Outcome) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.outcomes = append(s.outcomes, o)
	return "reports/review-" + o.ReviewID + ".md", nil
}

// memCheckpointer keeps JSON snapshots of every save.
type memCheckpointer struct {
	saves  []string
	phases []Phase
}

func (c *memCheckpointer) Save(_ context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.saves = append(c.saves, string(data))
	c.phases = append(c.phases, s.Phase)
	return nil
}

func (c *memCheckpointer) restore(t *testing.T, i int) *Session {
	t.Helper()
	var s Session
	if err := json.Unmarshal([]byte(c.saves[i]), &s); err != nil {
		t.Fatalf("restore checkpoint %d: %v", i, err)
	}
	return &s
}

func validRequest(maxIterations int) datatypes.ReviewRequest {
	return datatypes.ReviewRequest{
		Requirements:  "the server must validate all input",
		RepoDir:       "/repo",
		Branch:        "feature",
		MaxIterations: datatypes.IntPtr(maxIterations),
	}
}
