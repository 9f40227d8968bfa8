// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/checkpoint"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

func newCheckpointsCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect stored review checkpoints",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List checkpoints, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), st, func(ctx context.Context, store checkpoint.Store) error {
					sums, err := store.List(ctx)
					if err != nil {
						return err
					}
					if len(sums) == 0 {
						st.printer.Info("no checkpoints")
						return nil
					}
					for _, sum := range sums {
						st.printer.Info(formatSummary(sum))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <review-id>",
			Short: "Show one checkpoint and its search tree",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), st, func(ctx context.Context, store checkpoint.Store) error {
					sess, err := store.Load(ctx, args[0])
					if err != nil {
						return err
					}
					showSession(st, sess)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <review-id>...",
			Short: "Delete checkpoints",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), st, func(ctx context.Context, store checkpoint.Store) error {
					for _, id := range args {
						if err := store.Delete(ctx, id); err != nil {
							return fmt.Errorf("delete %s: %w", id, err)
						}
						st.printer.Success("deleted " + id)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withStore(parent context.Context, st *cliState, fn func(context.Context, checkpoint.Store) error) error {
	if parent == nil {
		parent = context.Background()
	}
	s, err := newStack(parent, st.cfg, stackOptions{service: "review"})
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(parent))
	return fn(parent, s.store)
}

func formatSummary(sum checkpoint.Summary) string {
	state := string(sum.Phase)
	switch {
	case sum.Failed:
		state = "failed"
	case sum.Phase == mcts.PhaseComplete && sum.StopReason != "":
		state = "complete (" + sum.StopReason + ")"
	}
	return fmt.Sprintf("%s  %-28s iter %d/%d  nodes %-4d %s  %s",
		sum.ID, state, sum.Iteration, sum.MaxIterations, sum.TreeNodes,
		sum.UpdatedAt.Local().Format(time.DateTime), sum.RepoDir)
}

func showSession(st *cliState, sess *mcts.Session) {
	p := st.printer
	sum := checkpoint.Summarize(sess)
	p.Title("Checkpoint " + sess.ID)
	p.KeyValue("Repository", sum.RepoDir)
	p.KeyValue("Phase", string(sum.Phase))
	p.KeyValue("Iteration", fmt.Sprintf("%d/%d", sum.Iteration, sum.MaxIterations))
	p.KeyValue("Updated", sum.UpdatedAt.Local().Format(time.DateTime))
	if sum.StopReason != "" {
		p.KeyValue("Stop reason", sum.StopReason)
	}
	if sess.Failed {
		p.Error(sess.Failure)
	}
	if sum.Location != "" {
		p.KeyValue("Report", sum.Location)
	}
	if sess.Audit != nil {
		audit := sess.Audit.Summary()
		p.KeyValue("Audit", fmt.Sprintf("%d entries, intact=%t", audit.TotalEntries, audit.Intact))
	}
	if sess.Tree != nil {
		p.Box("Search tree", sess.Tree.Format(sess.Selected))
	}
}
