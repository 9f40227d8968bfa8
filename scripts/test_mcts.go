//go:build ignore

// Script to exercise the full review search step by step with the
// offline oracle.
// Run with: go run scripts/test_mcts.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/oracle"
)

type fixedChanges struct{}

func (fixedChanges) Collect(_ context.Context, req datatypes.ChangeRequest) (datatypes.ChangeContext, error) {
	return datatypes.ChangeContext{
		RepoDir:  req.RepoDir,
		Files:    "api/handlers.go\napi/server.go",
		Messages: "validate submit payloads\nadd request ids",
		Diff:     "+if err := req.Validate(); err != nil {\n+\treturn err\n+}",
	}, nil
}

func banner(title string) {
	line := strings.Repeat("─", 66)
	fmt.Printf("\n┌%s┐\n│ %-64s │\n└%s┘\n", line, title, line)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	banner("Step 1: Wiring orchestrator (offline oracle)")
	recorder := events.NewRecorder()
	search := mcts.DefaultSearchConfig()
	search.MaxIterations = 6
	search.TracingEnabled = false
	o := mcts.NewOrchestrator(oracle.NewOffline(),
		mcts.WithSearchConfig(search),
		mcts.WithContextProvider(fixedChanges{}),
		mcts.WithPublisher(recorder),
	)
	fmt.Println("  ✓ orchestrator ready")

	banner("Step 2: Initial assessment")
	sess := o.Start(ctx, datatypes.ReviewRequest{
		Requirements: "All external input must be validated before use",
		RepoDir:      "/tmp/example",
	})
	if sess.Failed {
		log.Fatalf("start failed: %s", sess.Failure)
	}
	fmt.Printf("  ✓ session %s, score %.3f, phase %s\n", sess.ID, sess.Assessment.Score, sess.Phase)

	banner("Step 3: Stepping through phases")
	for {
		phase := sess.Phase
		err := o.Step(ctx, sess)
		if errors.Is(err, mcts.ErrSessionComplete) {
			break
		}
		if err != nil {
			log.Fatalf("step: %v", err)
		}
		fmt.Printf("  iter %d  %-14s → %-14s nodes=%d\n", sess.Search.CurrentIteration, phase, sess.Phase, sess.Tree.Len())
	}

	banner("Step 4: Search tree")
	fmt.Println(sess.Tree.Format())

	banner("Step 5: Best path per selection mode")
	for _, mode := range []mcts.SelectionMode{mcts.SelectByVisits, mcts.SelectByValue, mcts.SelectByValueRatio} {
		best, err := mcts.SelectBest(sess.Tree, mode)
		if err != nil {
			log.Fatalf("select best: %v", err)
		}
		fmt.Printf("  %-12s %s visits=%d avg=%.3f\n", mode, best.SelectedNodeID, best.Stats.Visits, best.Stats.AvgValue)
	}

	banner("Step 6: Audit and events")
	sum := sess.Audit.Summary()
	fmt.Printf("  audit entries=%d intact=%t\n", sum.TotalEntries, sum.Intact)
	for _, t := range events.AllTypes() {
		if n := recorder.Count(t); n > 0 {
			fmt.Printf("  %-34s %d\n", t, n)
		}
	}
}
