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
	"errors"
	"strings"
	"testing"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
)

type harness struct {
	oracle   *fakeOracle
	provider *fakeProvider
	sink     *fakeSink
	store    *memCheckpointer
	events   *events.Recorder
}

func newHarness() *harness {
	return &harness{
		oracle:   newFakeOracle(),
		provider: newFakeProvider(),
		sink:     &fakeSink{},
		store:    &memCheckpointer{},
		events:   events.NewRecorder(),
	}
}

func (h *harness) orchestrator(cfg SearchConfig, opts ...Option) *Orchestrator {
	base := []Option{
		WithContextProvider(h.provider),
		WithReportSink(h.sink),
		WithCheckpointer(h.store),
		WithPublisher(h.events),
		WithSearchConfig(cfg),
	}
	return NewOrchestrator(h.oracle, append(base, opts...)...)
}

func TestOrchestrator_Run_FullSearch(t *testing.T) {
	h := newHarness()
	orch := h.orchestrator(DefaultSearchConfig())

	out, err := orch.Run(context.Background(), validRequest(3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Failed || out.ShortCircuited {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Iterations() != 3 {
		t.Errorf("Iterations = %d, want 3", out.Iterations())
	}
	if out.PhaseFailures != 0 {
		t.Errorf("PhaseFailures = %d", out.PhaseFailures)
	}
	// Three expansions of two children each.
	if out.Tree.Len() != 7 {
		t.Errorf("tree nodes = %d, want 7", out.Tree.Len())
	}
	if out.Tree.Root().Visits != RootInitialVisits+3 {
		t.Errorf("root visits = %d, want %d", out.Tree.Root().Visits, RootInitialVisits+3)
	}
	if err := out.Tree.Validate(); err != nil {
		t.Errorf("tree invalid: %v", err)
	}
	if out.Best.ChildrenCount != 2 {
		t.Errorf("Best.ChildrenCount = %d, want 2", out.Best.ChildrenCount)
	}
	if out.Tree.Root().State != "initial review summary" {
		t.Errorf("root state = %q, want the assessment summary", out.Tree.Root().State)
	}
	if !out.Audit.Intact {
		t.Error("audit chain broken")
	}
	if out.Location == "" || len(h.sink.outcomes) != 1 {
		t.Errorf("report not published: location=%q outcomes=%d", out.Location, len(h.sink.outcomes))
	}
	if out.Changes == nil || out.Changes.Diff != "" {
		t.Error("outcome should carry the change context without the raw diff")
	}

	// Start, four phases per iteration, Finish.
	if len(h.store.saves) != 1+4*3+1 {
		t.Errorf("checkpoints = %d, want %d", len(h.store.saves), 1+4*3+1)
	}

	types := h.events.Types()
	if types[0] != events.TypeReviewRequested || types[len(types)-1] != events.TypeReviewCompleted {
		t.Errorf("event sequence = %v", types)
	}
	if n := h.events.Count(events.TypeIterationStarted); n != 3 {
		t.Errorf("iteration.started events = %d, want 3", n)
	}
	if n := h.events.Count(events.TypeIterationsCompleted); n != 1 {
		t.Errorf("iterations.completed events = %d, want 1", n)
	}
}

func TestOrchestrator_Run_PassesRevisionRange(t *testing.T) {
	h := newHarness()
	req := validRequest(0)
	req.Branch = ""
	req.ReviewStartCommit = "abc123"

	if _, err := h.orchestrator(DefaultSearchConfig()).Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if h.provider.last.StartCommit != "abc123" || h.provider.last.EndCommit != "HEAD" {
		t.Errorf("ChangeRequest = %+v", h.provider.last)
	}
}

func TestOrchestrator_ShortCircuit(t *testing.T) {
	tests := []struct {
		name          string
		score         float64
		maxIterations int
		wantShort     bool
	}{
		{"high score", 0.95, 5, true},
		{"zero iterations", 0.1, 0, true},
		{"score at threshold searches", 0.9, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.oracle.assessment.Score = tt.score

			out, err := h.orchestrator(DefaultSearchConfig()).Run(context.Background(), validRequest(tt.maxIterations))
			if err != nil {
				t.Fatal(err)
			}
			if out.ShortCircuited != tt.wantShort {
				t.Fatalf("ShortCircuited = %v, want %v", out.ShortCircuited, tt.wantShort)
			}
			if tt.wantShort {
				if h.oracle.expandCalls != 0 {
					t.Errorf("expand called %d times", h.oracle.expandCalls)
				}
				if out.Best.SelectedNodeID != out.Tree.RootID() || out.Best.Explanation != NoChildrenExplanation {
					t.Errorf("Best = %+v, want root fallback", out.Best)
				}
				if out.Iterations() != 0 {
					t.Errorf("Iterations = %d", out.Iterations())
				}
			} else if out.Iterations() != tt.maxIterations {
				t.Errorf("Iterations = %d, want %d", out.Iterations(), tt.maxIterations)
			}
		})
	}
}

func TestOrchestrator_StartFailuresBecomeReports(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness, req *datatypes.ReviewRequest)
		wantErr error
	}{
		{
			name:    "missing repo dir",
			setup:   func(_ *harness, req *datatypes.ReviewRequest) { req.RepoDir = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "blank requirements",
			setup:   func(_ *harness, req *datatypes.ReviewRequest) { req.Requirements = "   " },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "git unavailable",
			setup:   func(h *harness, _ *datatypes.ReviewRequest) { h.provider.err = errors.New("not a git repository") },
			wantErr: ErrContextUnavailable,
		},
		{
			name:    "oracle down",
			setup:   func(h *harness, _ *datatypes.ReviewRequest) { h.oracle.scoreErr = errOracleDown },
			wantErr: ErrOracleFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			req := validRequest(5)
			tt.setup(h, &req)

			out, err := h.orchestrator(DefaultSearchConfig()).Run(context.Background(), req)
			if err != nil {
				t.Fatalf("Run() error = %v, want failure report instead", err)
			}
			if !out.Failed {
				t.Fatal("outcome should be marked failed")
			}
			if !strings.Contains(out.Failure, tt.wantErr.Error()) {
				t.Errorf("Failure = %q, want it to mention %q", out.Failure, tt.wantErr)
			}
			if out.Tree.Len() != 1 || !out.Tree.Root().IsTerminal {
				t.Errorf("failure tree should be a single terminal node")
			}
			if !strings.HasPrefix(out.Best.State, "Review failed: ") {
				t.Errorf("Best.State = %q", out.Best.State)
			}
			if len(h.sink.outcomes) != 1 {
				t.Errorf("failure report not published")
			}
			if h.events.Count(events.TypeReviewError) != 1 {
				t.Errorf("review.error events = %d, want 1", h.events.Count(events.TypeReviewError))
			}
			if h.oracle.expandCalls != 0 {
				t.Error("search should not run after a start failure")
			}
		})
	}
}

func TestOrchestrator_PhaseFailuresStopEarly(t *testing.T) {
	h := newHarness()
	h.oracle.expandErr = errOracleDown
	cfg := DefaultSearchConfig()
	cfg.MaxConsecutiveFailures = 3

	out, err := h.orchestrator(cfg).Run(context.Background(), validRequest(10))
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed {
		t.Error("phase failures must not fail the review")
	}
	if out.PhaseFailures != 3 || out.Iterations() != 3 {
		t.Errorf("PhaseFailures=%d Iterations=%d, want 3/3", out.PhaseFailures, out.Iterations())
	}
	if out.StopReason != StopFailures || out.Label() != "stopped_on_failures" {
		t.Errorf("StopReason=%q Label=%q", out.StopReason, out.Label())
	}
	if len(h.sink.outcomes) != 1 || h.sink.outcomes[0].Label() != "stopped_on_failures" {
		t.Error("published outcome should carry the early stop label")
	}
	if out.Tree.Len() != 1 {
		t.Errorf("tree grew to %d nodes", out.Tree.Len())
	}
	if out.Audit.ActionCounts[AuditActionPhaseFailure] != 3 {
		t.Errorf("audit phase failures = %d", out.Audit.ActionCounts[AuditActionPhaseFailure])
	}
}

func TestOrchestrator_PhaseFailuresAdvanceCounter(t *testing.T) {
	h := newHarness()
	h.oracle.evalErr = errOracleDown
	cfg := DefaultSearchConfig()
	cfg.MaxConsecutiveFailures = 0

	out, err := h.orchestrator(cfg).Run(context.Background(), validRequest(4))
	if err != nil {
		t.Fatal(err)
	}
	if out.Iterations() != 4 || out.PhaseFailures != 4 {
		t.Errorf("Iterations=%d PhaseFailures=%d, want 4/4", out.Iterations(), out.PhaseFailures)
	}
	if h.oracle.expandCalls != 4 {
		t.Errorf("expand calls = %d, want one per iteration without retry", h.oracle.expandCalls)
	}
	if out.Tree.Root().Visits != RootInitialVisits {
		t.Error("failed simulations must not backpropagate")
	}
}

func TestOrchestrator_EmptyExpansionIsNoOp(t *testing.T) {
	for _, steps := range [][]string{nil, {" "}} {
		h := newHarness()
		h.oracle.steps = steps

		out, err := h.orchestrator(DefaultSearchConfig()).Run(context.Background(), validRequest(10))
		if err != nil {
			t.Fatal(err)
		}
		if out.Iterations() != 10 || out.StopReason == StopFailures {
			t.Errorf("steps=%q: Iterations=%d StopReason=%s, want all 10 iterations", steps, out.Iterations(), out.StopReason)
		}
		if out.PhaseFailures != 0 || out.Audit.ActionCounts[AuditActionPhaseFailure] != 0 {
			t.Errorf("steps=%q: PhaseFailures=%d, want none", steps, out.PhaseFailures)
		}
		if h.oracle.evalCalls != 0 {
			t.Errorf("steps=%q: evalCalls=%d, want no simulation", steps, h.oracle.evalCalls)
		}
		if n := h.events.Count(events.TypeNodeExpanded); n != 0 {
			t.Errorf("steps=%q: node.expanded events = %d, want 0", steps, n)
		}
		if n := h.events.Count(events.TypeIterationsCompleted); n != 1 {
			t.Errorf("steps=%q: iterations.completed events = %d, want 1", steps, n)
		}
		if out.Tree.Len() != 1 {
			t.Errorf("steps=%q: tree nodes = %d, want only the root", steps, out.Tree.Len())
		}
	}
}

func TestOrchestrator_StepAdvancesOnePhase(t *testing.T) {
	h := newHarness()
	orch := h.orchestrator(DefaultSearchConfig())
	ctx := context.Background()

	s := orch.Start(ctx, validRequest(1))
	want := []Phase{PhaseExpand, PhaseSimulate, PhaseBackpropagate, PhaseComplete}
	for i, phase := range want {
		if err := orch.Step(ctx, s); err != nil {
			t.Fatalf("Step %d error = %v", i, err)
		}
		if s.Phase != phase {
			t.Fatalf("after step %d phase = %s, want %s", i, s.Phase, phase)
		}
	}
	if err := orch.Step(ctx, s); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("Step on complete session = %v, want ErrSessionComplete", err)
	}
	if len(s.LastPath) != 2 {
		t.Errorf("LastPath = %v, want child and root", s.LastPath)
	}
}

func TestOrchestrator_ResumeFromCheckpoint(t *testing.T) {
	h := newHarness()
	orch := h.orchestrator(DefaultSearchConfig())
	ctx := context.Background()

	s := orch.Start(ctx, validRequest(3))
	for i := 0; i < 6; i++ {
		if err := orch.Step(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	restored := h.store.restore(t, len(h.store.saves)-1)
	if restored.Phase != PhaseSimulate || restored.Search.CurrentIteration != 1 {
		t.Fatalf("restored at %s/%d", restored.Phase, restored.Search.CurrentIteration)
	}

	fresh := newHarness()
	out, err := fresh.orchestrator(DefaultSearchConfig()).Resume(ctx, restored)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if out.Failed {
		t.Fatalf("resumed outcome failed: %s", out.Failure)
	}
	if out.Iterations() != 3 || out.Tree.Len() != 7 {
		t.Errorf("Iterations=%d nodes=%d, want 3/7", out.Iterations(), out.Tree.Len())
	}
	if out.ReviewID != s.ID {
		t.Errorf("ReviewID = %s, want %s", out.ReviewID, s.ID)
	}
	if !out.Audit.Intact {
		t.Error("audit chain broken across resume")
	}
}

func TestOrchestrator_ResumeInvalidSession(t *testing.T) {
	h := newHarness()
	s := &Session{ID: "broken", Phase: PhaseSelect}

	out, err := h.orchestrator(DefaultSearchConfig()).Resume(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Failed || !strings.Contains(out.Failure, ErrInvalidTree.Error()) {
		t.Errorf("Failed=%v Failure=%q", out.Failed, out.Failure)
	}
}

func TestOrchestrator_CancelledRunStillPublishes(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.orchestrator(DefaultSearchConfig()).Run(ctx, validRequest(5))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.StopReason != StopCancelled || out.Label() != "cancelled" {
		t.Errorf("StopReason=%q Label=%q", out.StopReason, out.Label())
	}
	if out.Iterations() != 0 {
		t.Errorf("Iterations = %d, want 0", out.Iterations())
	}
	if len(h.sink.outcomes) != 1 {
		t.Error("cancelled review should still publish")
	}
}

func TestOrchestrator_SinkErrorIsReturned(t *testing.T) {
	h := newHarness()
	h.sink.err = errors.New("bucket not found")

	out, err := h.orchestrator(DefaultSearchConfig()).Run(context.Background(), validRequest(1))
	if err == nil || !strings.Contains(err.Error(), "bucket not found") {
		t.Fatalf("Run() error = %v", err)
	}
	if out == nil {
		t.Fatal("outcome should be returned with the error")
	}
	if h.events.Count(events.TypeReviewError) != 1 || h.events.Count(events.TypeReviewCompleted) != 0 {
		t.Errorf("events = %v", h.events.Types())
	}
}

func TestOrchestrator_OracleSelector(t *testing.T) {
	h := newHarness()
	cfg := DefaultSearchConfig()
	cfg.Selector = SelectorOracle

	if _, err := h.orchestrator(cfg).Run(context.Background(), validRequest(2)); err != nil {
		t.Fatal(err)
	}
	if h.oracle.selectCalls != 2 {
		t.Errorf("SelectNode calls = %d, want 2", h.oracle.selectCalls)
	}
}

func TestSession_Snapshot(t *testing.T) {
	h := newHarness()
	orch := h.orchestrator(DefaultSearchConfig())
	s := orch.Start(context.Background(), validRequest(2))
	_ = orch.Step(context.Background(), s)

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := snap.Validate(); err != nil {
		t.Errorf("snapshot invalid: %v", err)
	}
	snap.Tree.Root().Visits = 42
	if s.Tree.Root().Visits == 42 {
		t.Error("snapshot shares the tree")
	}
}
