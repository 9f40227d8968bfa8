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
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/telemetry"
)

// Orchestrator drives a review: initial assessment, the
// select/expand/simulate/backpropagate loop, best-path selection and
// publication.
//
// Thread Safety: An Orchestrator may run many sessions concurrently; each
// Session must be driven by one goroutine at a time.
type Orchestrator struct {
	oracle       Oracle
	provider     ContextProvider
	selector     Selector
	expander     *Expander
	evaluator    *Evaluator
	sink         ReportSink
	checkpointer Checkpointer
	publisher    Publisher
	tracer       *Tracer
	metrics      *telemetry.Metrics
	logger       *slog.Logger
	config       SearchConfig
	now          func() time.Time
	newID        func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithContextProvider sets the change-context provider.
func WithContextProvider(p ContextProvider) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithReportSink sets where outcomes are published.
func WithReportSink(s ReportSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithCheckpointer persists the session after every phase.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpointer = c }
}

// WithPublisher sets the progress event publisher.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithSearchConfig sets the search configuration.
func WithSearchConfig(c SearchConfig) Option {
	return func(o *Orchestrator) { o.config = c }
}

// WithSelector overrides the selector built from the configuration.
func WithSelector(s Selector) Option {
	return func(o *Orchestrator) { o.selector = s }
}

// WithEvaluator overrides the evaluator built from the configuration.
func WithEvaluator(e *Evaluator) Option {
	return func(o *Orchestrator) { o.evaluator = e }
}

// WithTracer sets the span tracer.
func WithTracer(t *Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the review id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator creates an orchestrator around oracle.
//
// Inputs:
//   - oracle: The reasoning oracle. Must not be nil.
//   - opts: Collaborators and configuration.
//
// Outputs:
//   - *Orchestrator: Ready to run reviews. Components not supplied by
//     options are built from the SearchConfig.
func NewOrchestrator(oracle Oracle, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		oracle: oracle,
		logger: slog.Default(),
		config: DefaultSearchConfig(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.selector == nil {
		ucb := NewUCB1Selector()
		if o.config.Selector == SelectorOracle {
			o.selector = NewOracleSelector(oracle, ucb, o.logger)
		} else {
			o.selector = ucb
		}
	}
	if o.expander == nil {
		o.expander = NewExpander(oracle,
			WithMaxChildren(o.config.MaxChildren),
			WithExpanderLogger(o.logger),
		)
	}
	if o.evaluator == nil {
		strategy, err := ParseEvaluationStrategy(o.config.Evaluator)
		if err != nil {
			strategy = EvaluateOne
		}
		evalOpts := []EvaluatorOption{WithStrategy(strategy), WithEvaluatorLogger(o.logger)}
		if o.config.RandomSeed != 0 {
			evalOpts = append(evalOpts, WithCandidatePicker(PickRandom(rand.New(rand.NewSource(o.config.RandomSeed)))))
		}
		o.evaluator = NewEvaluator(oracle, evalOpts...)
	}
	if o.tracer == nil {
		o.tracer = NewTracer(o.logger, o.config.TracingEnabled)
	}
	return o
}

// Config returns the search configuration in use.
func (o *Orchestrator) Config() SearchConfig {
	return o.config
}

// Run performs a complete review.
//
// Description:
//
//	Start, then Step until the session completes or ctx is cancelled,
//	then Finish. Search failures never surface as errors; they become a
//	failure report. Only a publication failure is returned.
//
// Outputs:
//   - *Outcome: The final outcome. Never nil.
//   - error: Non-nil only if the report sink failed.
func (o *Orchestrator) Run(ctx context.Context, req datatypes.ReviewRequest) (*Outcome, error) {
	ctx, span := o.tracer.StartRun(ctx, req.RepoDir)
	s := o.Start(ctx, req)
	out, err := o.drive(ctx, s)
	o.tracer.EndRun(span, s, err)
	return out, err
}

// Resume continues a checkpointed session to completion.
//
// A session that fails validation is converted into a failure report.
func (o *Orchestrator) Resume(ctx context.Context, s *Session) (*Outcome, error) {
	ctx, span := o.tracer.StartRun(ctx, s.Request.RepoDir)
	if s.Audit == nil {
		s.Audit = NewAuditLog()
	}
	if err := s.Validate(); err != nil {
		o.fail(ctx, s, err)
	} else {
		o.logger.InfoContext(ctx, "resuming review",
			slog.String("review_id", s.ID),
			slog.String("phase", string(s.Phase)),
			slog.Int("iteration", s.Search.CurrentIteration),
		)
	}
	out, err := o.drive(ctx, s)
	o.tracer.EndRun(span, s, err)
	return out, err
}

func (o *Orchestrator) drive(ctx context.Context, s *Session) (*Outcome, error) {
	for !s.Complete() {
		if ctx.Err() != nil {
			o.cancel(ctx, s)
			break
		}
		iterCtx, span := o.tracer.TraceIteration(ctx, s.Search.CurrentIteration)
		start := s.Search.CurrentIteration
		for !s.Complete() && s.Search.CurrentIteration == start {
			if err := o.Step(iterCtx, s); err != nil {
				break
			}
		}
		span.End()
	}
	return o.Finish(ctx, s)
}

func (o *Orchestrator) cancel(ctx context.Context, s *Session) {
	cause := "finished early"
	if err := context.Cause(ctx); err != nil {
		cause = err.Error()
	}
	o.log(ctx, s).WarnContext(ctx, "review cancelled, selecting best path from current tree",
		slog.String("phase", string(s.Phase)),
		slog.Int("iteration", s.Search.CurrentIteration),
		slog.String("cause", cause),
	)
	s.Phase = PhaseComplete
	s.StopReason = StopCancelled
	s.Selected, s.Expanded, s.Simulation = "", nil, nil
}

// Start validates the request, collects the change context, scores it
// and creates the session.
//
// Description:
//
//	The root gets RootInitialVisits and the assessment summary as its
//	state. When maxIterations is 0 or the initial score is strictly above
//	the short-circuit threshold the session is complete immediately.
//	Validation, context and oracle failures produce a complete session
//	holding a single terminal node describing the failure.
//
// Outputs:
//   - *Session: Never nil.
func (o *Orchestrator) Start(ctx context.Context, req datatypes.ReviewRequest) *Session {
	now := o.now()
	s := &Session{
		ID:        o.newID(),
		Request:   req,
		Audit:     NewAuditLog(),
		StartedAt: now,
		UpdatedAt: now,
	}
	o.publish(s, events.TypeReviewRequested, events.ReviewRequestedData{
		RepoDir:       req.RepoDir,
		Branch:        req.Branch,
		MaxIterations: datatypes.IntValue(req.MaxIterations),
	})

	if err := o.start(ctx, s); err != nil {
		o.fail(ctx, s, err)
	}
	o.checkpoint(ctx, s)
	return s
}

func (o *Orchestrator) start(ctx context.Context, s *Session) error {
	if err := s.Request.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.Request.ApplyDefaults(o.config.Defaults())
	req := &s.Request

	logger := o.log(ctx, s)
	logger.InfoContext(ctx, "analyzing review context",
		slog.String("requirements", truncate(oneLine(req.Requirements), 20)),
		slog.String("repo_dir", req.RepoDir),
		slog.String("branch", req.Branch),
		slog.Int("max_iterations", datatypes.IntValue(req.MaxIterations)),
	)

	if o.provider == nil {
		return fmt.Errorf("%w: no context provider configured", ErrContextUnavailable)
	}
	changes, err := o.provider.Collect(ctx, datatypes.ChangeRequest{
		RepoDir:     req.RepoDir,
		Branch:      req.Branch,
		StartCommit: req.ReviewStartCommit,
		EndCommit:   req.ReviewEndCommit,
	})
	if err != nil {
		if !errors.Is(err, ErrContextUnavailable) {
			err = fmt.Errorf("%w: %w", ErrContextUnavailable, err)
		}
		return err
	}
	logger.InfoContext(ctx, "loaded change context",
		slog.Int("files_changed", len(changes.FileList())),
		slog.Int("commit_messages", len(changes.MessageList())),
		slog.Bool("sampled", changes.Sampled),
	)
	kept := changes
	kept.Diff = ""
	s.Changes = &kept

	assessment, err := o.oracle.ScoreChangeset(ctx, changes, req.Objective())
	if err != nil {
		if !errors.Is(err, ErrOracleFailure) {
			err = fmt.Errorf("%w: %w", ErrOracleFailure, err)
		}
		return fmt.Errorf("score change set: %w", err)
	}
	s.Assessment = &assessment

	rootID := NewRootID(o.now())
	s.Tree = NewTree(rootID, rootState(assessment, changes))
	s.Search = SearchContext{
		RootID:              rootID,
		MaxIterations:       datatypes.IntValue(req.MaxIterations),
		ExplorationConstant: datatypes.FloatValue(req.ExplorationConstant),
		MaxDepth:            datatypes.IntValue(req.MaxDepth),
	}
	if err := s.Search.Validate(); err != nil {
		return err
	}
	s.Audit.Record(AuditActionRoot, 0, rootID, assessment.Score,
		fmt.Sprintf("initial assessment with %d issues", len(assessment.Issues)))

	if s.Search.MaxIterations == 0 || assessment.Score > o.config.ShortCircuitThreshold {
		s.Phase = PhaseComplete
		s.ShortCircuited = true
		s.StopReason = StopShortCircuit
		s.Audit.Record(AuditActionShortCircuit, 0, rootID, assessment.Score,
			fmt.Sprintf("max_iterations=%d threshold=%.2f", s.Search.MaxIterations, o.config.ShortCircuitThreshold))
		logger.InfoContext(ctx, "skipping search",
			slog.Float64("score", assessment.Score),
			slog.Int("max_iterations", s.Search.MaxIterations),
		)
		o.publishCompleted(s)
		return nil
	}

	s.Phase = PhaseSelect
	return nil
}

// rootState is the evaluation context every candidate is scored against.
func rootState(a datatypes.Assessment, changes datatypes.ChangeContext) string {
	if strings.TrimSpace(a.Summary) != "" {
		return a.Summary
	}
	if strings.TrimSpace(a.IssueSummary) != "" {
		return a.IssueSummary
	}
	return fmt.Sprintf("Initial review of %d changed files.", len(changes.FileList()))
}

// Step advances the session by exactly one phase.
//
// Description:
//
//	Phase errors are absorbed here: they are logged, counted and
//	audited, and the iteration is abandoned with its counter still
//	advancing. After MaxConsecutiveFailures abandoned iterations in a row
//	the search completes early. The session is checkpointed afterwards.
//
// Outputs:
//   - error: ErrSessionComplete for a finished session, or ctx.Err().
//     Never a phase error.
func (o *Orchestrator) Step(ctx context.Context, s *Session) error {
	if s.Complete() {
		return ErrSessionComplete
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	phase := s.Phase
	phaseCtx, span := o.tracer.TracePhase(ctx, phase, s.Search.CurrentIteration)

	var err error
	switch phase {
	case PhaseSelect:
		err = o.selectPhase(phaseCtx, s)
	case PhaseExpand:
		err = o.expandPhase(phaseCtx, s)
	case PhaseSimulate:
		err = o.simulatePhase(phaseCtx, s)
	case PhaseBackpropagate:
		err = o.backpropagatePhase(phaseCtx, s)
	default:
		err = fmt.Errorf("%w: unknown phase %q", ErrInvalidSearchContext, phase)
	}
	o.tracer.EndPhase(span, err, attribute.Int("review.tree_nodes", s.Tree.Len()))

	if err != nil {
		o.abandon(ctx, s, phase, err)
	}
	s.UpdatedAt = o.now()
	o.checkpoint(ctx, s)
	return nil
}

func (o *Orchestrator) selectPhase(ctx context.Context, s *Session) error {
	o.publish(s, events.TypeIterationStarted, events.IterationStartedData{
		MaxIterations: s.Search.MaxIterations,
		TreeNodes:     s.Tree.Len(),
	})

	node, err := o.selector.Select(ctx, s.Tree, "", s.Search)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	depth, _ := s.Tree.Depth(node.ID)

	s.Selected = node.ID
	s.Phase = PhaseExpand
	s.Audit.Record(AuditActionSelect, s.Search.CurrentIteration, node.ID, node.AvgValue(),
		fmt.Sprintf("depth=%d visits=%d", depth, node.Visits))
	o.publish(s, events.TypeNodeSelected, events.NodeSelectedData{
		NodeID: node.ID,
		Visits: node.Visits,
		Depth:  depth,
	})
	return nil
}

func (o *Orchestrator) expandPhase(ctx context.Context, s *Session) error {
	res, err := o.expander.Expand(ctx, s.Tree, s.Selected)
	if err != nil {
		return err
	}

	if !res.Expanded() {
		// No-op: nothing to simulate, and not a failure.
		s.Audit.Record(AuditActionExpand, s.Search.CurrentIteration, res.ParentID, 0, "no steps")
		o.advance(ctx, s)
		return nil
	}

	s.Expanded = res.ChildIDs
	s.Phase = PhaseSimulate
	s.Audit.Record(AuditActionExpand, s.Search.CurrentIteration, res.ParentID, 0,
		fmt.Sprintf("%d children: %s", len(res.ChildIDs), truncate(oneLine(res.Reasoning), 200)))
	o.publish(s, events.TypeNodeExpanded, events.NodeExpandedData{
		ParentID:  res.ParentID,
		ChildIDs:  res.ChildIDs,
		Reasoning: res.Reasoning,
	})
	return nil
}

func (o *Orchestrator) simulatePhase(ctx context.Context, s *Session) error {
	res, err := o.evaluator.Evaluate(ctx, s.Tree, s.Expanded)
	if err != nil {
		return err
	}

	s.Simulation = &res
	s.Phase = PhaseBackpropagate
	s.Audit.Record(AuditActionSimulate, s.Search.CurrentIteration, res.NodeID, res.Value,
		truncate(oneLine(res.Explanation), 200))
	o.publish(s, events.TypeSimulationCompleted, events.SimulationCompletedData{
		NodeID:      res.NodeID,
		Value:       res.Value,
		Explanation: res.Explanation,
	})
	return nil
}

func (o *Orchestrator) backpropagatePhase(ctx context.Context, s *Session) error {
	if s.Simulation == nil {
		return fmt.Errorf("backpropagate: %w: no simulation result", ErrInvalidSearchContext)
	}
	res, err := Backpropagate(s.Tree, *s.Simulation, s.Search)
	if err != nil {
		return err
	}

	s.LastPath = res.Path
	s.Audit.Record(AuditActionBackprop, s.Search.CurrentIteration, s.Simulation.NodeID, s.Simulation.Value,
		fmt.Sprintf("updated %d nodes", len(res.Path)))
	o.publish(s, events.TypeBackpropagationDone, events.BackpropagationData{
		Path:          res.Path,
		NextIteration: res.NextIteration,
		Complete:      res.Complete,
	})
	s.ConsecutiveFailures = 0
	o.advance(ctx, s)
	return nil
}

// abandon ends the current iteration after a phase error.
func (o *Orchestrator) abandon(ctx context.Context, s *Session, phase Phase, err error) {
	logger := o.log(ctx, s).With(
		slog.String("phase", string(phase)),
		slog.Int("iteration", s.Search.CurrentIteration),
		slog.String("error", err.Error()),
	)
	if isPrecondition(err) {
		logger.WarnContext(ctx, "iteration abandoned")
	} else {
		logger.ErrorContext(ctx, "iteration abandoned")
	}

	s.PhaseFailures++
	s.ConsecutiveFailures++
	o.metrics.RecordPhaseFailure(ctx, string(phase))
	s.Audit.Record(AuditActionPhaseFailure, s.Search.CurrentIteration, s.Selected, 0,
		fmt.Sprintf("%s: %v", phase, err))
	o.advance(ctx, s)
}

// advance closes the current iteration and moves the cursor.
func (o *Orchestrator) advance(ctx context.Context, s *Session) {
	s.Search.CurrentIteration++
	s.Selected, s.Expanded, s.Simulation = "", nil, nil
	o.metrics.RecordIteration(ctx)

	switch {
	case s.Search.Exhausted():
		s.Phase = PhaseComplete
	case o.config.MaxConsecutiveFailures > 0 && s.ConsecutiveFailures >= o.config.MaxConsecutiveFailures:
		s.Phase = PhaseComplete
		s.StopReason = StopFailures
		o.log(ctx, s).WarnContext(ctx, "stopping search after consecutive failures",
			slog.Int("failures", s.ConsecutiveFailures),
			slog.Int("iteration", s.Search.CurrentIteration),
		)
	default:
		s.Phase = PhaseSelect
		return
	}
	o.publishCompleted(s)
}

// fail replaces the session's tree with a single terminal node that
// describes err, so the failure flows through best-path selection and
// publication like any other result.
func (o *Orchestrator) fail(ctx context.Context, s *Session, err error) {
	o.log(ctx, s).ErrorContext(ctx, "review failed",
		slog.String("repo_dir", s.Request.RepoDir),
		slog.String("error", err.Error()),
	)

	rootID := NewRootID(o.now())
	tree := NewTree(rootID, "Review failed: "+err.Error())
	tree.Root().IsTerminal = true

	s.Tree = tree
	s.Search = SearchContext{RootID: rootID}
	s.Phase = PhaseComplete
	s.Failed = true
	s.Failure = err.Error()
	s.StopReason = StopFailed
	s.Selected, s.Expanded, s.Simulation = "", nil, nil
	s.Audit.Record(AuditActionFailure, 0, rootID, 0, err.Error())

	o.publish(s, events.TypeReviewError, events.ReviewErrorData{
		Message:      err.Error(),
		Timestamp:    o.now().UTC(),
		Repository:   s.Request.RepoDir,
		OutputURL:    s.Request.OutputURL,
		Requirements: s.Request.Requirements,
	})
}

// Finish selects the best path and publishes the outcome.
//
// Description:
//
//	A session that is not yet complete is treated as cancelled and its
//	current tree is used. Publication runs on a context detached from
//	ctx's cancellation so a cancelled review still produces a report.
//
// Outputs:
//   - *Outcome: The outcome. Never nil.
//   - error: Non-nil only if the report sink failed.
func (o *Orchestrator) Finish(ctx context.Context, s *Session) (*Outcome, error) {
	pubCtx := context.WithoutCancel(ctx)
	if !s.Complete() {
		o.cancel(ctx, s)
	}

	mode, err := ParseSelectionMode(s.Request.SelectionMode)
	if err != nil {
		mode = SelectByVisits
	}
	best, err := SelectBest(s.Tree, mode)
	if err != nil {
		o.fail(pubCtx, s, fmt.Errorf("select best path: %w", err))
		best, _ = SelectBest(s.Tree, SelectByVisits)
	}
	s.Audit.Record(AuditActionBestPath, s.Search.CurrentIteration, best.SelectedNodeID, best.Stats.AvgValue,
		fmt.Sprintf("mode=%s children=%d", best.Mode, best.ChildrenCount))

	out := &Outcome{
		ReviewID:       s.ID,
		Request:        s.Request,
		Best:           best,
		Tree:           s.Tree,
		Search:         s.Search,
		Changes:        s.Changes,
		Assessment:     s.Assessment,
		PhaseFailures:  s.PhaseFailures,
		ShortCircuited: s.ShortCircuited,
		StopReason:     s.StopReason,
		Failed:         s.Failed,
		Failure:        s.Failure,
		Audit:          s.Audit.Summary(),
		StartedAt:      s.StartedAt,
		FinishedAt:     o.now(),
	}
	o.metrics.RecordReview(pubCtx, out.Label(), s.Tree.Len(), out.FinishedAt.Sub(out.StartedAt))

	logger := o.log(ctx, s)
	logger.InfoContext(pubCtx, "review search finished",
		slog.String("selected_node_id", best.SelectedNodeID),
		slog.String("mode", string(best.Mode)),
		slog.Int("iterations", s.Search.CurrentIteration),
		slog.Int("tree_nodes", s.Tree.Len()),
		slog.Int("phase_failures", s.PhaseFailures),
		slog.String("outcome", out.Label()),
	)

	if o.sink != nil {
		loc, err := o.sink.Publish(pubCtx, out)
		if err != nil {
			logger.ErrorContext(pubCtx, "report publication failed", slog.String("error", err.Error()))
			o.publish(s, events.TypeReviewError, events.ReviewErrorData{
				Message:      "publish report: " + err.Error(),
				Timestamp:    o.now().UTC(),
				Repository:   s.Request.RepoDir,
				OutputURL:    s.Request.OutputURL,
				Requirements: s.Request.Requirements,
			})
			s.UpdatedAt = o.now()
			o.checkpoint(pubCtx, s)
			return out, fmt.Errorf("publish report: %w", err)
		}
		out.Location = loc
		s.Location = loc
	}

	o.publish(s, events.TypeReviewCompleted, events.ReviewCompletedData{
		SelectedNodeID: best.SelectedNodeID,
		Location:       out.Location,
		Failed:         s.Failed,
	})
	s.UpdatedAt = o.now()
	o.checkpoint(pubCtx, s)
	return out, nil
}

func (o *Orchestrator) publishCompleted(s *Session) {
	o.publish(s, events.TypeIterationsCompleted, events.IterationsCompletedData{
		Iterations:     s.Search.CurrentIteration,
		TreeNodes:      s.Tree.Len(),
		ShortCircuited: s.ShortCircuited,
		StopReason:     s.StopReason,
	})
}

func (o *Orchestrator) publish(s *Session, topic events.Type, data any) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(s.ID, string(topic), s.Search.CurrentIteration, data)
}

func (o *Orchestrator) checkpoint(ctx context.Context, s *Session) {
	if o.checkpointer == nil {
		return
	}
	if err := o.checkpointer.Save(ctx, s); err != nil {
		o.log(ctx, s).WarnContext(ctx, "checkpoint failed",
			slog.String("phase", string(s.Phase)),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) log(ctx context.Context, s *Session) *slog.Logger {
	return telemetry.LoggerWithTrace(ctx, o.logger).With(slog.String("review_id", s.ID))
}
