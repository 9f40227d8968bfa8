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
	"testing"
)

func searchContext(tree *Tree) SearchContext {
	return SearchContext{
		RootID:              tree.RootID(),
		MaxIterations:       10,
		ExplorationConstant: 1.414,
		MaxDepth:            10,
	}
}

func TestUCB1(t *testing.T) {
	got := UCB1(3, 4, 10, 1.414)
	want := 0.75 + 1.414*math.Sqrt(math.Log(10)/4)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("UCB1 = %f, want %f", got, want)
	}

	// Zero parent visits must not produce NaN or -Inf.
	if v := UCB1(1, 1, 0, 1.414); math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("UCB1 with zero parent visits = %f", v)
	}
	// Zero exploration constant is pure exploitation.
	if v := UCB1(3, 4, 10, 0); v != 0.75 {
		t.Errorf("UCB1 with c=0 = %f, want 0.75", v)
	}
}

func TestUCB1Selector_UnexploredChildFirst(t *testing.T) {
	tree, ids := treeWithChildren(t, childStats{0, 0}, childStats{5, 4}, childStats{3, 1})

	node, err := NewUCB1Selector().Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != ids[0] {
		t.Errorf("Select() = %s, want first unvisited child %s", node.ID, ids[0])
	}
}

func TestUCB1Selector_FirstUnvisitedWinsAmongSeveral(t *testing.T) {
	tree, ids := treeWithChildren(t, childStats{2, 2}, childStats{0, 0}, childStats{0, 0})

	node, err := NewUCB1Selector().Select(context.Background(), tree, tree.RootID(), searchContext(tree))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != ids[1] {
		t.Errorf("Select() = %s, want %s", node.ID, ids[1])
	}
}

func TestUCB1Selector_TieBreaksToFirstChild(t *testing.T) {
	tree, ids := treeWithChildren(t, childStats{4, 2}, childStats{4, 2}, childStats{4, 2})

	node, err := NewUCB1Selector().Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != ids[0] {
		t.Errorf("Select() = %s, want first child %s on tie", node.ID, ids[0])
	}
}

func TestUCB1Selector_DescendsToLeaf(t *testing.T) {
	tree, ids := treeWithChildren(t, childStats{2, 0.2}, childStats{2, 1.8})
	grandchild, err := tree.AddChild(ids[1], "deeper")
	if err != nil {
		t.Fatal(err)
	}

	node, err := NewUCB1Selector().Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != grandchild.ID {
		t.Errorf("Select() = %s, want unvisited grandchild under the better child", node.ID)
	}
}

func TestUCB1Selector_RespectsMaxDepth(t *testing.T) {
	tree, _ := treeWithChildren(t, childStats{0, 0})
	sc := searchContext(tree)
	sc.MaxDepth = 0

	node, err := NewUCB1Selector().Select(context.Background(), tree, "", sc)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != tree.RootID() {
		t.Errorf("Select() = %s, want root at depth limit", node.ID)
	}
}

func TestUCB1Selector_LeafRoot(t *testing.T) {
	tree := NewTree("root-1", "s")
	node, err := NewUCB1Selector().Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != "root-1" {
		t.Errorf("Select() = %s, want root", node.ID)
	}
}

func TestUCB1Selector_UnresolvableChildren(t *testing.T) {
	tree := NewTree("root-1", "s")
	tree.Root().Children = []string{"ghost"}

	node, err := NewUCB1Selector().Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if node.ID != "root-1" {
		t.Errorf("Select() = %s, want root when no child resolves", node.ID)
	}
}

func TestUCB1Selector_Errors(t *testing.T) {
	sel := NewUCB1Selector()

	var empty *Tree
	if _, err := sel.Select(context.Background(), empty, "", SearchContext{}); !errors.Is(err, ErrEmptySearchSpace) {
		t.Errorf("empty tree error = %v, want ErrEmptySearchSpace", err)
	}

	tree := NewTree("root-1", "s")
	if _, err := sel.Select(context.Background(), tree, "missing", searchContext(tree)); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("unknown start error = %v, want ErrNodeNotFound", err)
	}
}

func TestUCB1Selector_Idempotent(t *testing.T) {
	tree, _ := treeWithChildren(t, childStats{3, 2}, childStats{5, 1}, childStats{1, 0.9})
	before := mustJSON(t, tree)
	sel := NewUCB1Selector()

	first, err := sel.Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatal(err)
	}
	second, err := sel.Select(context.Background(), tree, "", searchContext(tree))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("Select() not deterministic: %s then %s", first.ID, second.ID)
	}
	if after := mustJSON(t, tree); after != before {
		t.Error("Select() mutated the tree")
	}
}

func TestOracleSelector(t *testing.T) {
	tree, ids := treeWithChildren(t, childStats{3, 2}, childStats{5, 1})

	t.Run("uses oracle choice", func(t *testing.T) {
		oracle := newFakeOracle()
		oracle.selectID = ids[1]
		node, err := NewOracleSelector(oracle, nil, nil).Select(context.Background(), tree, "", searchContext(tree))
		if err != nil {
			t.Fatal(err)
		}
		if node.ID != ids[1] {
			t.Errorf("Select() = %s, want %s", node.ID, ids[1])
		}
	})

	t.Run("falls back on oracle error", func(t *testing.T) {
		oracle := newFakeOracle()
		oracle.selectErr = errOracleDown
		want, _ := NewUCB1Selector().Select(context.Background(), tree, "", searchContext(tree))

		node, err := NewOracleSelector(oracle, nil, nil).Select(context.Background(), tree, "", searchContext(tree))
		if err != nil {
			t.Fatal(err)
		}
		if node.ID != want.ID {
			t.Errorf("Select() = %s, want UCB1 fallback %s", node.ID, want.ID)
		}
	})

	t.Run("falls back on unknown id", func(t *testing.T) {
		oracle := newFakeOracle()
		oracle.selectID = "hallucinated"
		node, err := NewOracleSelector(oracle, nil, nil).Select(context.Background(), tree, "", searchContext(tree))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := tree.Node(node.ID); !ok {
			t.Errorf("Select() returned unknown node %s", node.ID)
		}
	})

	t.Run("unknown start is an error", func(t *testing.T) {
		oracle := newFakeOracle()
		_, err := NewOracleSelector(oracle, nil, nil).Select(context.Background(), tree, "missing", searchContext(tree))
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("error = %v, want ErrNodeNotFound", err)
		}
		if oracle.selectCalls != 0 {
			t.Errorf("oracle called %d times for unknown start", oracle.selectCalls)
		}
	})
}
