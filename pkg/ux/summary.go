// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// Outcome prints the end-of-review summary.
func (p *Printer) Outcome(o *mcts.Outcome) {
	if o == nil {
		p.Error("no outcome")
		return
	}

	p.Title("Review " + o.ReviewID)
	p.KeyValue("Repository", o.Request.RepoDir)
	p.KeyValue("Result", o.Label())
	p.KeyValue("Iterations", fmt.Sprintf("%d/%d", o.Iterations(), o.Search.MaxIterations))
	if o.Tree != nil {
		p.KeyValue("Tree nodes", fmt.Sprintf("%d", o.Tree.Len()))
	}
	if o.Assessment != nil {
		p.KeyValue("Initial score", fmt.Sprintf("%.3f", o.Assessment.Score))
	}
	if !o.FinishedAt.IsZero() && !o.StartedAt.IsZero() {
		p.KeyValue("Duration", o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond).String())
	}

	if o.Failed {
		p.Error(o.Failure)
	} else if o.Best.SelectedNodeID != "" {
		p.KeyValue("Selected", o.Best.SelectedNodeID)
		p.KeyValue("Score", fmt.Sprintf("%.3f (%d visits)", o.Best.Stats.AvgValue, o.Best.Stats.Visits))
		if o.Best.State != "" {
			p.Box("Selected reasoning", o.Best.State)
		}
	}
	if o.PhaseFailures > 0 {
		p.Warning(fmt.Sprintf("%d phase failure(s) during search", o.PhaseFailures))
	}

	if o.Location != "" {
		p.Success("Report written to " + o.Location)
	} else {
		p.Warning("Report was not published")
	}
}

// Progress returns an event handler that prints one line per finished
// iteration plus the terminal event.
func (p *Printer) Progress() events.Handler {
	return func(ev *events.Event) {
		switch data := ev.Data.(type) {
		case events.IterationStartedData:
			if p.level == LevelFull {
				p.Info(fmt.Sprintf("iteration %d/%d", ev.Iteration+1, data.MaxIterations))
			}
		case events.SimulationCompletedData:
			p.Info(fmt.Sprintf("%s %s scored %.3f", IconArrow, data.NodeID, data.Value))
		case events.IterationsCompletedData:
			msg := fmt.Sprintf("search finished after %d iteration(s), %d nodes", data.Iterations, data.TreeNodes)
			if data.StopReason != "" {
				msg += " (" + strings.ReplaceAll(data.StopReason, "_", " ") + ")"
			}
			p.Info(msg)
		case events.ReviewErrorData:
			p.Error(data.Message)
		}
	}
}
