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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

var (
	errReviewFailed    = errors.New("review failed")
	errAlreadyComplete = errors.New("review is already complete")
)

// runFlags mirrors ReviewRequest on the command line.
type runFlags struct {
	requestFile      string
	requirements     string
	requirementsFile string
	prompt           string
	repoDir          string
	branch           string
	start            string
	end              string
	iterations       int
	exploration      float64
	depth            int
	selection        string
	outputURL        string
	offline          bool
	quiet            bool
}

func newRunCmd(st *cliState) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one review in the foreground",
		Example: `  review run --repo . --requirements "All input must be validated" --iterations 20
  review run --request review-request.yaml --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd)
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return runReview(cmd.Context(), st, f, func(ctx context.Context, _ *stack, o *mcts.Orchestrator) (*mcts.Outcome, error) {
				return o.Run(ctx, req)
			})
		},
	}

	bindRunFlags(cmd, f)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	fl := cmd.Flags()
	fl.StringVarP(&f.requestFile, "request", "f", "", "YAML or JSON review request; flags override its fields")
	fl.StringVarP(&f.requirements, "requirements", "r", "", "review objective")
	fl.StringVar(&f.requirementsFile, "requirements-file", "", "read the review objective from a file")
	fl.StringVar(&f.prompt, "prompt", "", "additional instructions for the reviewer")
	fl.StringVar(&f.repoDir, "repo", ".", "repository working tree")
	fl.StringVar(&f.branch, "branch", "", "branch under review, the default end revision")
	fl.StringVar(&f.start, "start", "", "start revision (default HEAD~14)")
	fl.StringVar(&f.end, "end", "", "end revision (default the branch, then HEAD)")
	fl.IntVarP(&f.iterations, "iterations", "n", 0, "search iterations (default from config)")
	fl.Float64Var(&f.exploration, "exploration", 0, "UCB1 exploration constant (default from config)")
	fl.IntVar(&f.depth, "depth", 0, "maximum tree depth (default from config)")
	fl.StringVar(&f.selection, "selection", "", "best-path criterion: visits, value or value-ratio")
	fl.StringVarP(&f.outputURL, "out", "o", "", "report location: path, file:// or gs:// URL")
	fl.BoolVar(&f.offline, "offline", false, "use the deterministic offline oracle")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "print only the summary")
}

// request assembles the review request from the request file and the
// flags that were set explicitly.
func (f *runFlags) request(cmd *cobra.Command) (datatypes.ReviewRequest, error) {
	var req datatypes.ReviewRequest
	if f.requestFile != "" {
		data, err := os.ReadFile(f.requestFile)
		if err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request %s: %w", f.requestFile, err)
		}
	}

	fl := cmd.Flags()
	set := func(name string) bool { return fl.Changed(name) }
	if f.requirementsFile != "" {
		data, err := os.ReadFile(f.requirementsFile)
		if err != nil {
			return req, fmt.Errorf("read requirements: %w", err)
		}
		req.Requirements = strings.TrimSpace(string(data))
	}
	if set("requirements") {
		req.Requirements = f.requirements
	}
	if set("prompt") {
		req.Prompt = f.prompt
	}
	if set("repo") || req.RepoDir == "" {
		req.RepoDir = f.repoDir
	}
	if set("branch") {
		req.Branch = f.branch
	}
	if set("start") {
		req.ReviewStartCommit = f.start
	}
	if set("end") {
		req.ReviewEndCommit = f.end
	}
	if set("iterations") {
		req.MaxIterations = datatypes.IntPtr(f.iterations)
	}
	if set("exploration") {
		req.ExplorationConstant = &f.exploration
	}
	if set("depth") {
		req.MaxDepth = datatypes.IntPtr(f.depth)
	}
	if set("selection") {
		req.SelectionMode = f.selection
	}
	if set("out") {
		req.OutputURL = f.outputURL
	}
	return req, nil
}

func newResumeCmd(st *cliState) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "resume <review-id>",
		Short: "Continue an interrupted review from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return runReview(cmd.Context(), st, f, func(ctx context.Context, s *stack, o *mcts.Orchestrator) (*mcts.Outcome, error) {
				sess, err := s.store.Load(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
				}
				if sess.Complete() {
					return nil, fmt.Errorf("%s: %w", id, errAlreadyComplete)
				}
				st.printer.Info(fmt.Sprintf("resuming %s at iteration %d (%s)", sess.ID, sess.Search.CurrentIteration, sess.Phase))
				return o.Resume(ctx, sess)
			})
		},
	}
	cmd.Flags().BoolVar(&f.offline, "offline", false, "use the deterministic offline oracle")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "print only the summary")
	return cmd
}

// reviewFunc drives one review on a prepared orchestrator.
type reviewFunc func(ctx context.Context, s *stack, o *mcts.Orchestrator) (*mcts.Outcome, error)

// runReview executes fn in the foreground. Interrupts cancel the search,
// which still publishes a report for what was explored.
func runReview(parent context.Context, st *cliState, f *runFlags, fn reviewFunc) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, st.cfg, stackOptions{service: "review", offline: f.offline, withOracle: true, localReports: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("shutdown", "error", err.Error())
		}
	}()

	emitter := events.NewEmitter(events.WithLogger(s.logger))
	if !f.quiet {
		emitter.Subscribe("", st.printer.Progress())
	}

	out, err := fn(ctx, s, s.orchestrator(st.cfg.Search, mcts.WithPublisher(emitter)))
	if out != nil {
		st.printer.Outcome(out)
	}
	if err != nil {
		return err
	}
	if out != nil && out.Failed {
		return errReviewFailed
	}
	return nil
}
