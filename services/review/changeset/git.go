// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"
	"golang.org/x/sync/errgroup"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// DefaultMaxDiffBytes is the diff size above which files are sampled.
const DefaultMaxDiffBytes = 1 << 20

// Config configures git context collection.
type Config struct {
	// MaxDiffBytes caps the diff handed to the oracle.
	MaxDiffBytes int `json:"max_diff_bytes" yaml:"max_diff_bytes"`

	// Timeout bounds each git command.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// SampleSeed makes file sampling reproducible (0 = time based).
	SampleSeed int64 `json:"sample_seed" yaml:"sample_seed"`
}

// DefaultConfig returns the default git configuration.
func DefaultConfig() Config {
	return Config{
		MaxDiffBytes: DefaultMaxDiffBytes,
		Timeout:      30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxDiffBytes <= 0 {
		return errors.New("git.max_diff_bytes must be positive")
	}
	if c.Timeout < 0 {
		return errors.New("git.timeout must not be negative")
	}
	return nil
}

// GitProvider collects the change context of a revision range from a
// local git working tree. It implements mcts.ContextProvider.
//
// Thread Safety: Safe for concurrent use.
type GitProvider struct {
	runner Runner
	config Config
	logger *slog.Logger
}

var _ mcts.ContextProvider = (*GitProvider)(nil)

// Option configures a GitProvider.
type Option func(*GitProvider)

// WithRunner replaces the git runner.
func WithRunner(r Runner) Option {
	return func(p *GitProvider) {
		if r != nil {
			p.runner = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *GitProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewGitProvider creates a provider. Zero config fields take defaults.
func NewGitProvider(cfg Config, opts ...Option) *GitProvider {
	if cfg.MaxDiffBytes <= 0 {
		cfg.MaxDiffBytes = DefaultMaxDiffBytes
	}
	p := &GitProvider{
		runner: ExecRunner{Timeout: cfg.Timeout},
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Collect implements mcts.ContextProvider.
//
// Description:
//
//	Runs `git diff --name-only`, `git log --pretty=format:%s` and
//	`git diff` for the range concurrently. Revisions that git could read
//	as options are rejected before any command runs. When the diff exceeds
//	MaxDiffBytes, changed files are visited in random order and their
//	individual diffs kept while the total fits; Files then lists only the
//	sampled files.
//
// Outputs:
//   - datatypes.ChangeContext: The collected context.
//   - error: Wraps mcts.ErrContextUnavailable on a missing directory or a
//     failed git command.
func (p *GitProvider) Collect(ctx context.Context, req datatypes.ChangeRequest) (datatypes.ChangeContext, error) {
	if strings.TrimSpace(req.RepoDir) == "" {
		return datatypes.ChangeContext{}, fmt.Errorf("%w: repo dir is required", mcts.ErrContextUnavailable)
	}
	dir, err := filepath.Abs(req.RepoDir)
	if err != nil {
		return datatypes.ChangeContext{}, fmt.Errorf("%w: %v", mcts.ErrContextUnavailable, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return datatypes.ChangeContext{}, fmt.Errorf("%w: repository directory not found: %s", mcts.ErrContextUnavailable, dir)
	}

	start, end := revisions(req)
	for _, rev := range []string{start, end} {
		if !datatypes.ValidRevision(rev) {
			return datatypes.ChangeContext{}, fmt.Errorf("%w: invalid revision %q", mcts.ErrContextUnavailable, rev)
		}
	}
	var files, messages, fullDiff []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		files, err = p.runner.Run(gctx, dir, "diff", "--name-only", "--end-of-options", start, end)
		return err
	})
	g.Go(func() (err error) {
		messages, err = p.runner.Run(gctx, dir, "log", "--pretty=format:%s", "--end-of-options", start+".."+end)
		return err
	})
	g.Go(func() (err error) {
		fullDiff, err = p.runner.Run(gctx, dir, "diff", "--end-of-options", start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return datatypes.ChangeContext{}, fmt.Errorf("%w: %w", mcts.ErrContextUnavailable, err)
	}

	out := datatypes.ChangeContext{
		RepoDir:  dir,
		Files:    string(files),
		Messages: string(messages),
		Diff:     string(fullDiff),
	}
	if len(fullDiff) > p.config.MaxDiffBytes {
		out = p.sample(ctx, dir, start, end, out)
	}
	out.Stats = Stats(out.Diff, p.logger)

	p.logger.DebugContext(ctx, "collected change context",
		slog.String("repo_dir", dir),
		slog.String("range", start+".."+end),
		slog.Int("diff_bytes", len(out.Diff)),
		slog.Bool("sampled", out.Sampled),
	)
	return out, nil
}

// revisions applies the default range: HEAD~14..HEAD, with the branch as
// the end revision when no end commit is given.
func revisions(req datatypes.ChangeRequest) (string, string) {
	start, end := req.StartCommit, req.EndCommit
	if start == "" {
		start = datatypes.DefaultStartCommit
	}
	if end == "" {
		end = req.Branch
	}
	if end == "" {
		end = datatypes.DefaultEndCommit
	}
	return start, end
}

func (p *GitProvider) sample(ctx context.Context, dir, start, end string, in datatypes.ChangeContext) datatypes.ChangeContext {
	seed := p.config.SampleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	remaining := in.FileList()
	var kept []string
	var sb strings.Builder
	for len(remaining) > 0 && sb.Len() < p.config.MaxDiffBytes {
		if ctx.Err() != nil {
			break
		}
		i := rng.Intn(len(remaining))
		file := remaining[i]
		remaining = append(remaining[:i], remaining[i+1:]...)

		fileDiff, err := p.runner.Run(ctx, dir, "diff", "--end-of-options", start, end, "--", file)
		if err != nil {
			p.logger.DebugContext(ctx, "skipping undiffable file", slog.String("file", file), slog.String("error", err.Error()))
			continue
		}
		if sb.Len()+len(fileDiff) <= p.config.MaxDiffBytes {
			sb.Write(fileDiff)
			kept = append(kept, file)
		}
	}

	p.logger.InfoContext(ctx, "diff too large, sampled files",
		slog.Int("full_bytes", len(in.Diff)),
		slog.Int("sampled_bytes", sb.Len()),
		slog.Int("files_kept", len(kept)),
		slog.Int("files_total", len(in.FileList())),
	)
	in.Files = strings.Join(kept, "\n")
	in.Diff = sb.String()
	in.Sampled = true
	return in
}

// Stats counts files and changed lines in a unified diff. An unparsable
// diff yields zero stats.
func Stats(unified string, logger *slog.Logger) datatypes.DiffStats {
	if strings.TrimSpace(unified) == "" {
		return datatypes.DiffStats{}
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(unified)).ReadAllFiles()
	if err != nil {
		if logger != nil {
			logger.Debug("diff stats unavailable", slog.String("error", err.Error()))
		}
		return datatypes.DiffStats{}
	}

	stats := datatypes.DiffStats{FilesChanged: len(fileDiffs)}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					stats.LinesAdded++
				case strings.HasPrefix(line, "-"):
					stats.LinesDeleted++
				}
			}
		}
	}
	return stats
}
