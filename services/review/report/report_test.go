// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

func searchedOutcome(t *testing.T) *mcts.Outcome {
	t.Helper()
	tree := mcts.NewTree("root-1", "The change adds retry handling")
	a, err := tree.AddChild("root-1", "Analyze code structure")
	require.NoError(t, err)
	b, err := tree.AddChild("root-1", "Review error handling | wrapping")
	require.NoError(t, err)
	c, err := tree.AddChild(b.ID, "Check retry budget")
	require.NoError(t, err)
	tree.Root().Visits, tree.Root().Value = 4, 2.0
	a.Visits, a.Value = 1, 0.3
	b.Visits, b.Value = 2, 1.6
	c.Visits, c.Value = 1, 0.9

	best, err := mcts.SelectBest(tree, mcts.SelectByVisits)
	require.NoError(t, err)

	audit := mcts.NewAuditLog()
	audit.Record(mcts.AuditActionRoot, 0, "root-1", 0.4, "initial")

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &mcts.Outcome{
		ReviewID: "rev-1",
		Request: datatypes.ReviewRequest{
			Requirements:      "Retries must be bounded",
			Prompt:            "Focus on the client",
			RepoDir:           "/src/app",
			ReviewStartCommit: "abc",
			ReviewEndCommit:   "def",
		},
		Best:   best,
		Tree:   tree,
		Search: mcts.SearchContext{RootID: "root-1", MaxIterations: 3, CurrentIteration: 3, ExplorationConstant: 1.414, MaxDepth: 10},
		Changes: &datatypes.ChangeContext{
			Files:   "client.go\nretry.go",
			Sampled: true,
			Stats:   datatypes.DiffStats{FilesChanged: 2, LinesAdded: 10, LinesDeleted: 4},
		},
		Assessment: &datatypes.Assessment{
			Score:   0.4,
			Summary: "Retries are unbounded.",
			Issues: []datatypes.Issue{{
				Claim: "Retry loop never ends", Grounds: "for {} in retry.go", Warrant: "Unbounded loops hang",
				Backing: "Client guidelines", Qualifier: "Likely",
			}},
		},
		Audit:      audit.Summary(),
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestRender_SearchedOutcome(t *testing.T) {
	o := searchedOutcome(t)
	out, err := Render(o)
	require.NoError(t, err)
	md := string(out)

	for _, want := range []string{
		"# Code Review Report",
		"`rev-1`",
		"`abc..def`",
		"| Outcome | searched |",
		"Retries must be bounded",
		"### Additional Instructions",
		"- Files changed: 2",
		"random sample of files",
		"- `retry.go`",
		"**Score:** 0.400",
		"#### 1. Retry loop never ends",
		"- **Qualifier:** Likely",
		"Selected by **visits** among 2 candidate(s)",
		"Review error handling",
		"Check retry budget",
		"- Iterations: 3 of 3",
		"- Duration: 1.5s",
		"- Chain intact: true",
		"Generated | 2026-03-01T12:00:01Z",
	} {
		assert.Contains(t, md, want)
	}
	assert.Contains(t, md, `handling \| wrapping`, "pipes are escaped in table cells")
	assert.NotContains(t, md, "Code Review Failed")
}

func TestRender_FailedOutcome(t *testing.T) {
	o := &mcts.Outcome{
		ReviewID: "rev-2",
		Request:  datatypes.ReviewRequest{Requirements: "Anything", RepoDir: "/missing"},
		Tree:     mcts.NewTree("root-2", "Analysis failed"),
		Failed:   true,
		Failure:  "context unavailable: repository directory not found",
	}
	out, err := Render(o)
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "# Code Review Failed")
	assert.Contains(t, md, "repository directory not found")
	assert.Contains(t, md, "`/missing`")
	assert.NotContains(t, md, "Node Statistics")
}

func TestRender_NilOutcome(t *testing.T) {
	_, err := Render(nil)
	assert.ErrorIs(t, err, ErrNilOutcome)
}

func TestRender_TruncatesNodeTable(t *testing.T) {
	tree := mcts.NewTree("root-1", "root")
	for i := 0; i < maxTableNodes+5; i++ {
		_, err := tree.AddChild("root-1", "step")
		require.NoError(t, err)
	}
	best, err := mcts.SelectBest(tree, mcts.SelectByVisits)
	require.NoError(t, err)

	out, err := Render(&mcts.Outcome{ReviewID: "r", Tree: tree, Best: best, Audit: mcts.NewAuditLog().Summary()})
	require.NoError(t, err)
	assert.Contains(t, string(out), "_6 more node(s) omitted._")
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, bucket, object, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+object] = data
	m.types[bucket+"/"+object] = contentType
	return nil
}

func TestRouter_Publish(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "nested", "custom.md")

	tests := []struct {
		name      string
		outputURL string
		wantLoc   string
		wantObj   string
	}{
		{"default path", "", filepath.Join(dir, "review-rev-1.md"), ""},
		{"plain path", custom, custom, ""},
		{"file url", "file://" + custom, custom, ""},
		{"gcs object", "gs://bucket/reviews/out.md", "gs://bucket/reviews/out.md", "bucket/reviews/out.md"},
		{"gcs prefix", "gs://bucket/reviews/", "gs://bucket/reviews/review-rev-1.md", "bucket/reviews/review-rev-1.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			r := NewRouter(NewFileSink(dir), WithGCS(NewGCSSinkWithStore(store)))
			o := searchedOutcome(t)
			o.Request.OutputURL = tt.outputURL

			loc, err := r.Publish(context.Background(), o)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLoc, loc)

			if tt.wantObj != "" {
				data, ok := store.objects[tt.wantObj]
				require.True(t, ok)
				assert.True(t, strings.HasPrefix(string(data), "# Code Review Report"))
				assert.Equal(t, markdownContentType, store.types[tt.wantObj])
				return
			}
			data, err := os.ReadFile(loc)
			require.NoError(t, err)
			assert.Contains(t, string(data), "Retries must be bounded")
		})
	}
}

func TestRouter_Errors(t *testing.T) {
	dir := t.TempDir()
	o := searchedOutcome(t)

	o.Request.OutputURL = "gs://bucket/x.md"
	_, err := NewRouter(NewFileSink(dir)).Publish(context.Background(), o)
	assert.ErrorIs(t, err, ErrSinkNotConfigured)

	o.Request.OutputURL = "s3://bucket/x.md"
	_, err = NewRouter(NewFileSink(dir)).Publish(context.Background(), o)
	assert.ErrorIs(t, err, ErrUnsupportedLocation)

	store := newMemStore()
	store.err = errors.New("permission denied")
	o.Request.OutputURL = "gs://bucket/x.md"
	_, err = NewRouter(NewFileSink(dir), WithGCS(NewGCSSinkWithStore(store))).Publish(context.Background(), o)
	assert.ErrorContains(t, err, "permission denied")

	o.Request.OutputURL = "gs:///x.md"
	_, err = NewRouter(NewFileSink(dir), WithGCS(NewGCSSinkWithStore(newMemStore()))).Publish(context.Background(), o)
	assert.ErrorIs(t, err, ErrUnsupportedLocation)
}

func TestRouter_FileSinkStaysInDirectory(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "reports")
	outside := filepath.Join(base, "outside.md")

	for _, target := range []string{
		"../outside.md",
		"../../etc/x",
		outside,
		"file://" + outside,
		dir,
	} {
		t.Run(target, func(t *testing.T) {
			o := searchedOutcome(t)
			o.Request.OutputURL = target

			_, err := NewRouter(NewFileSink(dir)).Publish(context.Background(), o)
			assert.ErrorIs(t, err, ErrUnsupportedLocation)
			assert.NoFileExists(t, outside)
		})
	}

	o := searchedOutcome(t)
	o.Request.OutputURL = "team/review.md"
	loc, err := NewRouter(NewFileSink(dir)).Publish(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "team", "review.md"), loc)
}

func TestRouter_AllowAnyPath(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(base, "elsewhere", "review.md")
	o := searchedOutcome(t)
	o.Request.OutputURL = outside

	loc, err := NewRouter(NewFileSink(filepath.Join(base, "reports"), AllowAnyPath())).Publish(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, outside, loc)
	assert.FileExists(t, outside)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Dir: "r", GCSCredentialsFile: filepath.Join(t.TempDir(), "missing.json")}.Validate())
}
