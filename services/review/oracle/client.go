// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/telemetry"
)

const tracerName = "review.oracle"

// Operation names used in logs, spans and metrics.
const (
	OpScore    = "score"
	OpExpand   = "expand"
	OpEvaluate = "evaluate"
	OpSelect   = "select"
)

// ChatCompleter is the subset of the OpenAI client the oracle needs.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is an mcts.Oracle backed by an OpenAI-compatible chat API.
//
// Description:
//
//	Every operation first asks the model configured for its role. When
//	that fails the fallback model is asked with a simpler prompt in JSON
//	mode. When both fail and StaticFallback is set, a canned response is
//	returned; otherwise the error wraps mcts.ErrOracleFailure. All calls
//	share one rate limiter and one circuit breaker and each is bounded by
//	Config.Timeout.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	chat    ChatCompleter
	config  Config
	limiter *rate.Limiter
	breaker *CircuitBreaker
	metrics *telemetry.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ mcts.Oracle = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records call counts and latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker replaces the circuit breaker, e.g. to share one between clients.
func WithBreaker(b *CircuitBreaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithLimiter replaces the rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// NewClient wraps chat.
//
// Inputs:
//   - chat: The chat completion backend. Must not be nil.
//   - cfg: Oracle configuration. Zero Timeout means DefaultConfig's.
//   - opts: Optional settings.
func NewClient(chat ChatCompleter, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		chat:    chat,
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewCircuitBreaker(cfg.Breaker),
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOpenAIClient creates a Client that talks to the OpenAI API, or to
// cfg.BaseURL when set.
//
// Outputs:
//   - *Client: Ready to use.
//   - error: ErrNoAPIKey if key is nil, or an enclave error.
func NewOpenAIClient(cfg Config, key *memguard.Enclave, opts ...Option) (*Client, error) {
	token, err := openKey(key)
	if err != nil {
		return nil, err
	}
	apiCfg := openai.DefaultConfig(token)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return NewClient(openai.NewClientWithConfig(apiCfg), cfg, opts...), nil
}

// BreakerStats exposes the circuit breaker state for health checks.
func (c *Client) BreakerStats() BreakerStats {
	return c.breaker.Stats()
}

// complete performs one chat completion for role.
func (c *Client) complete(ctx context.Context, role, system, prompt string, jsonMode bool) (string, error) {
	model := c.config.Models.For(role)

	var content string
	err := c.breaker.Execute(ctx, role, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: c.config.Temperature,
		}
		if jsonMode {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}

		resp, err := c.chat.CreateChatCompletion(callCtx, req)
		if err != nil {
			return fmt.Errorf("chat completion (%s): %w", model, err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return fmt.Errorf("chat completion (%s): %w", model, ErrEmptyResponse)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

// completeJSON performs a completion in JSON mode and decodes the result.
func (c *Client) completeJSON(ctx context.Context, role, system, prompt string, out any) error {
	content, err := c.complete(ctx, role, system, prompt, true)
	if err != nil {
		return err
	}
	return decodeJSON(content, out)
}

// withFallback runs primary, then fallback on failure, and records the
// call. Errors are joined so both causes are visible.
func (c *Client) withFallback(ctx context.Context, op string, primary, fallback func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "oracle."+op, trace.WithAttributes(attribute.String("oracle.operation", op)))
	defer span.End()
	start := time.Now()

	err := primary(ctx)
	if err != nil && ctx.Err() == nil && fallback != nil {
		c.logger.WarnContext(ctx, "oracle call failed, trying fallback model",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		span.AddEvent("fallback")
		if ferr := fallback(ctx); ferr != nil {
			err = errors.Join(err, ferr)
		} else {
			err = nil
		}
	}

	c.metrics.RecordOracleCall(ctx, op, err, time.Since(start))
	telemetry.RecordError(span, err)
	return err
}

// failure converts err into the oracle failure returned to the search,
// or reports that a static response should be used instead.
func (c *Client) failure(ctx context.Context, op string, err error) (useStatic bool, out error) {
	if c.config.StaticFallback && ctx.Err() == nil {
		c.logger.WarnContext(ctx, "oracle unavailable, using static response",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	return false, fmt.Errorf("%s: %w: %w", op, mcts.ErrOracleFailure, err)
}

// ScoreChangeset implements mcts.ChangesetOracle.
//
// Description:
//
//	Asks the analysis model for the system boundaries and strategy of the
//	change, then asks the review model for a Toulmin-structured
//	assessment given that analysis. The fallback skips the analysis and
//	the diff.
func (c *Client) ScoreChangeset(ctx context.Context, changes datatypes.ChangeContext, requirements string) (datatypes.Assessment, error) {
	var out datatypes.Assessment
	err := c.withFallback(ctx, OpScore,
		func(ctx context.Context) error {
			strategy, err := c.complete(ctx, RoleAnalysis, analysisInstructions, analysisPrompt(changes), false)
			if err != nil {
				return fmt.Errorf("system analysis: %w", err)
			}
			return c.completeJSON(ctx, RoleReview, reviewInstructions, reviewPrompt(changes, requirements, strategy), &out)
		},
		func(ctx context.Context) error {
			out = datatypes.Assessment{}
			return c.completeJSON(ctx, RoleFallback, fallbackInstructions, fallbackReviewPrompt(changes, requirements), &out)
		},
	)
	if err != nil {
		static, ferr := c.failure(ctx, OpScore, err)
		if !static {
			return datatypes.Assessment{}, ferr
		}
		return StaticAssessment(), nil
	}
	return normalizeAssessment(out), nil
}

// Expand implements mcts.ExpansionOracle.
func (c *Client) Expand(ctx context.Context, state string) (datatypes.Expansion, error) {
	var out datatypes.Expansion
	prompt := expandPrompt(state)
	err := c.withFallback(ctx, OpExpand,
		func(ctx context.Context) error {
			return c.completeJSON(ctx, RoleExpand, expandInstructions, prompt, &out)
		},
		func(ctx context.Context) error {
			out = datatypes.Expansion{}
			return c.completeJSON(ctx, RoleFallback, fallbackInstructions, prompt, &out)
		},
	)
	if err != nil {
		static, ferr := c.failure(ctx, OpExpand, err)
		if !static {
			return datatypes.Expansion{}, ferr
		}
		return StaticExpansion(), nil
	}
	return out, nil
}

type evaluation struct {
	NodeID      string   `json:"nodeId"`
	Value       *float64 `json:"value"`
	Explanation string   `json:"explanation"`
}

func (e evaluation) result(defaultID string) (mcts.SimulationResult, error) {
	if e.Value == nil {
		return mcts.SimulationResult{}, fmt.Errorf("%w: missing value", ErrMalformedResponse)
	}
	id := e.NodeID
	if id == "" {
		id = defaultID
	}
	return mcts.SimulationResult{NodeID: id, Value: *e.Value, Explanation: e.Explanation}, nil
}

// Evaluate implements mcts.EvaluationOracle.
//
// With one candidate the result is attributed to it. With several the
// model picks one; an empty id is left for the evaluator to fill. The
// fallback scores only the first candidate.
func (c *Client) Evaluate(ctx context.Context, parentState string, candidates []mcts.Candidate) (mcts.SimulationResult, error) {
	if len(candidates) == 0 {
		return mcts.SimulationResult{}, mcts.ErrNoCandidatesToEvaluate
	}
	defaultID := ""
	if len(candidates) == 1 {
		defaultID = candidates[0].NodeID
	}

	var res mcts.SimulationResult
	err := c.withFallback(ctx, OpEvaluate,
		func(ctx context.Context) error {
			var ev evaluation
			if err := c.completeJSON(ctx, RoleEvaluate, evaluateInstructions, evaluatePrompt(parentState, candidates), &ev); err != nil {
				return err
			}
			r, err := ev.result(defaultID)
			res = r
			return err
		},
		func(ctx context.Context) error {
			var ev evaluation
			if err := c.completeJSON(ctx, RoleFallback, fallbackInstructions, evaluatePrompt(parentState, candidates[:1]), &ev); err != nil {
				return err
			}
			ev.NodeID = candidates[0].NodeID
			r, err := ev.result(candidates[0].NodeID)
			res = r
			return err
		},
	)
	if err != nil {
		static, ferr := c.failure(ctx, OpEvaluate, err)
		if !static {
			return mcts.SimulationResult{}, ferr
		}
		return StaticEvaluation(candidates[0].NodeID), nil
	}
	return res, nil
}

// SelectNode implements mcts.NodeOracle. There is no static response:
// the OracleSelector falls back to UCB1 on error.
func (c *Client) SelectNode(ctx context.Context, tree *mcts.Tree, currentID string, sc mcts.SearchContext) (string, error) {
	if currentID == "" {
		currentID = tree.RootID()
	}
	nodes, err := json.Marshal(tree.Nodes())
	if err != nil {
		return "", fmt.Errorf("encode nodes: %w", err)
	}
	prompt := selectPrompt(nodes, currentID, sc)

	var out struct {
		SelectedNodeID string `json:"selected_node_id"`
	}
	check := func() error {
		if _, ok := tree.Node(out.SelectedNodeID); !ok {
			return fmt.Errorf("%w: selected node %q not in tree", ErrMalformedResponse, out.SelectedNodeID)
		}
		return nil
	}
	err = c.withFallback(ctx, OpSelect,
		func(ctx context.Context) error {
			if err := c.completeJSON(ctx, RoleSelect, selectInstructions, prompt, &out); err != nil {
				return err
			}
			return check()
		},
		func(ctx context.Context) error {
			if err := c.completeJSON(ctx, RoleFallback, fallbackInstructions, prompt, &out); err != nil {
				return err
			}
			return check()
		},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", OpSelect, mcts.ErrOracleFailure, err)
	}
	return out.SelectedNodeID, nil
}

func normalizeAssessment(a datatypes.Assessment) datatypes.Assessment {
	switch {
	case a.Score < 0:
		a.Score = 0
	case a.Score > 1:
		a.Score = 1
	}
	if a.Issues == nil {
		a.Issues = []datatypes.Issue{}
	}
	return a
}
