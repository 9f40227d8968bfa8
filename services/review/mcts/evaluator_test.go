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
	"math"
	"math/rand"
	"testing"
)

func TestParseEvaluationStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    EvaluationStrategy
		wantErr bool
	}{
		{"", EvaluateOne, false},
		{"one", EvaluateOne, false},
		{"best-of", EvaluateBestOf, false},
		{"all", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEvaluationStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseEvaluationStrategy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestEvaluator_EvaluateOne(t *testing.T) {
	oracle := newFakeOracle()
	oracle.values = []float64{0.7}
	tree, ids := treeWithChildren(t, childStats{}, childStats{})
	before := mustJSON(t, tree)

	res, err := NewEvaluator(oracle).Evaluate(context.Background(), tree, ids)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.NodeID != ids[0] || res.Value != 0.7 {
		t.Errorf("result = %+v, want first candidate scored 0.7", res)
	}
	if oracle.evalCalls != 1 {
		t.Errorf("oracle calls = %d, want 1", oracle.evalCalls)
	}
	if oracle.lastParent != "root summary" {
		t.Errorf("evaluation context = %q, want root state", oracle.lastParent)
	}
	if mustJSON(t, tree) != before {
		t.Error("Evaluate() mutated the tree")
	}
}

func TestEvaluator_RandomPickerIsSeeded(t *testing.T) {
	tree, ids := treeWithChildren(t, childStats{}, childStats{}, childStats{})

	pick := func() string {
		oracle := newFakeOracle()
		ev := NewEvaluator(oracle, WithCandidatePicker(PickRandom(rand.New(rand.NewSource(7)))))
		res, err := ev.Evaluate(context.Background(), tree, ids)
		if err != nil {
			t.Fatal(err)
		}
		return res.NodeID
	}
	if a, b := pick(), pick(); a != b {
		t.Errorf("same seed picked %s and %s", a, b)
	}
}

func TestEvaluator_BestOf(t *testing.T) {
	oracle := newFakeOracle()
	oracle.values = []float64{0.3, 0.8, 0.8}
	tree, ids := treeWithChildren(t, childStats{}, childStats{}, childStats{})

	res, err := NewEvaluator(oracle, WithStrategy(EvaluateBestOf)).Evaluate(context.Background(), tree, ids)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if oracle.evalCalls != 3 {
		t.Errorf("oracle calls = %d, want one per candidate", oracle.evalCalls)
	}
	if res.NodeID != ids[1] || res.Value != 0.8 {
		t.Errorf("result = %+v, want second candidate (first of the tied maxima)", res)
	}
}

func TestEvaluator_ClampsValue(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.7, 1},
		{-0.2, 0},
		{math.NaN(), 0},
		{0.5, 0.5},
	}
	for _, tt := range tests {
		oracle := newFakeOracle()
		oracle.values = []float64{tt.in}
		tree, ids := treeWithChildren(t, childStats{})

		res, err := NewEvaluator(oracle).Evaluate(context.Background(), tree, ids)
		if err != nil {
			t.Fatalf("Evaluate(%v) error = %v", tt.in, err)
		}
		if res.Value != tt.want {
			t.Errorf("value %v clamped to %v, want %v", tt.in, res.Value, tt.want)
		}
	}
}

func TestEvaluator_Errors(t *testing.T) {
	t.Run("no expanded ids", func(t *testing.T) {
		tree := NewTree("root-1", "s")
		_, err := NewEvaluator(newFakeOracle()).Evaluate(context.Background(), tree, nil)
		if !errors.Is(err, ErrNoCandidatesToEvaluate) {
			t.Errorf("error = %v, want ErrNoCandidatesToEvaluate", err)
		}
	})

	t.Run("only blank states", func(t *testing.T) {
		tree := NewTree("root-1", "s")
		c, _ := tree.AddChild("root-1", "   ")
		_, err := NewEvaluator(newFakeOracle()).Evaluate(context.Background(), tree, []string{c.ID})
		if !errors.Is(err, ErrNoCandidatesToEvaluate) {
			t.Errorf("error = %v, want ErrNoCandidatesToEvaluate", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		tree := NewTree("root-1", "s")
		_, err := NewEvaluator(newFakeOracle()).Evaluate(context.Background(), tree, []string{"ghost"})
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("error = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("root without state", func(t *testing.T) {
		tree := NewTree("root-1", "")
		c, _ := tree.AddChild("root-1", "step")
		_, err := NewEvaluator(newFakeOracle()).Evaluate(context.Background(), tree, []string{c.ID})
		if !errors.Is(err, ErrMissingEvaluationContext) {
			t.Errorf("error = %v, want ErrMissingEvaluationContext", err)
		}
	})

	t.Run("oracle error", func(t *testing.T) {
		oracle := newFakeOracle()
		oracle.evalErr = errOracleDown
		tree, ids := treeWithChildren(t, childStats{})
		_, err := NewEvaluator(oracle).Evaluate(context.Background(), tree, ids)
		if !errors.Is(err, ErrOracleFailure) {
			t.Errorf("error = %v, want ErrOracleFailure", err)
		}
	})

	t.Run("oracle names a non-candidate", func(t *testing.T) {
		oracle := newFakeOracle()
		tree, ids := treeWithChildren(t, childStats{}, childStats{})
		oracle.evalID = tree.RootID()
		_, err := NewEvaluator(oracle).Evaluate(context.Background(), tree, ids)
		if !errors.Is(err, ErrOracleFailure) {
			t.Errorf("error = %v, want ErrOracleFailure", err)
		}
	})
}

func TestEvaluator_SkipsBlankCandidates(t *testing.T) {
	tree := NewTree("root-1", "s")
	blank, _ := tree.AddChild("root-1", "")
	step, _ := tree.AddChild("root-1", "step")

	res, err := NewEvaluator(newFakeOracle()).Evaluate(context.Background(), tree, []string{blank.ID, step.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.NodeID != step.ID {
		t.Errorf("NodeID = %s, want the non-blank candidate", res.NodeID)
	}
}
