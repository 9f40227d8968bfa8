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
	"testing"
)

func TestExpander_AddsChildrenInOrder(t *testing.T) {
	oracle := newFakeOracle()
	oracle.steps = []string{"first", "second", "third"}
	tree := NewTree("root-1", "summary")

	res, err := NewExpander(oracle).Expand(context.Background(), tree, "root-1")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if !res.Expanded() || len(res.ChildIDs) != 3 {
		t.Fatalf("ChildIDs = %v, want 3", res.ChildIDs)
	}
	if res.Reasoning != oracle.reasoning {
		t.Errorf("Reasoning = %q", res.Reasoning)
	}

	children := tree.Children("root-1")
	for i, want := range []string{"first", "second", "third"} {
		if children[i].ID != res.ChildIDs[i] {
			t.Errorf("child %d id = %s, want %s", i, children[i].ID, res.ChildIDs[i])
		}
		if children[i].State != want {
			t.Errorf("child %d state = %q, want %q", i, children[i].State, want)
		}
		if children[i].Visits != 0 || children[i].Value != 0 || children[i].IsTerminal {
			t.Errorf("child %d not fresh: %+v", i, children[i])
		}
	}
	if err := tree.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestExpander_DropsBlankSteps(t *testing.T) {
	oracle := newFakeOracle()
	oracle.steps = []string{"  ", "real step", "", "\n"}
	tree := NewTree("root-1", "summary")

	res, err := NewExpander(oracle).Expand(context.Background(), tree, "root-1")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(res.ChildIDs) != 1 {
		t.Errorf("ChildIDs = %v, want 1", res.ChildIDs)
	}
}

func TestExpander_NoStepsIsNoOp(t *testing.T) {
	oracle := newFakeOracle()
	oracle.steps = nil
	tree := NewTree("root-1", "summary")
	before := mustJSON(t, tree)

	res, err := NewExpander(oracle).Expand(context.Background(), tree, "root-1")
	if err != nil {
		t.Fatalf("Expand() error = %v, want nil for empty expansion", err)
	}
	if res.Expanded() {
		t.Errorf("Expanded() = true for %v", res.ChildIDs)
	}
	if mustJSON(t, tree) != before {
		t.Error("tree changed on empty expansion")
	}
}

func TestExpander_MaxChildren(t *testing.T) {
	oracle := newFakeOracle()
	oracle.steps = []string{"a", "b", "c", "d"}
	tree := NewTree("root-1", "summary")

	res, err := NewExpander(oracle, WithMaxChildren(2)).Expand(context.Background(), tree, "root-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ChildIDs) != 2 || tree.Len() != 3 {
		t.Errorf("ChildIDs = %d, Len = %d; want 2 and 3", len(res.ChildIDs), tree.Len())
	}
}

func TestExpander_UnknownNode(t *testing.T) {
	oracle := newFakeOracle()
	tree := NewTree("root-1", "summary")
	before := mustJSON(t, tree)

	_, err := NewExpander(oracle).Expand(context.Background(), tree, "missing")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("error = %v, want ErrNodeNotFound", err)
	}
	if oracle.expandCalls != 0 {
		t.Errorf("oracle called %d times", oracle.expandCalls)
	}
	if mustJSON(t, tree) != before {
		t.Error("tree changed")
	}
}

func TestExpander_OracleFailure(t *testing.T) {
	oracle := newFakeOracle()
	oracle.expandErr = errOracleDown
	tree := NewTree("root-1", "summary")
	before := mustJSON(t, tree)

	_, err := NewExpander(oracle).Expand(context.Background(), tree, "root-1")
	if !errors.Is(err, ErrOracleFailure) {
		t.Errorf("error = %v, want ErrOracleFailure", err)
	}
	if !errors.Is(err, errOracleDown) {
		t.Errorf("error = %v, want cause preserved", err)
	}
	if mustJSON(t, tree) != before {
		t.Error("tree changed")
	}
}
