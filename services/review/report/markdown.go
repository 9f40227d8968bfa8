// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders review outcomes as Markdown and publishes them
// to the local filesystem or Google Cloud Storage.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// maxTableNodes bounds the node statistics table.
const maxTableNodes = 25

const reportTemplate = `# Code Review Report

| | |
|---|---|
| Review | ` + "`{{.ReviewID}}`" + ` |
| Repository | ` + "`{{.Repository}}`" + ` |
| Range | ` + "`{{.Range}}`" + ` |
| Generated | {{.Generated}} |
| Outcome | {{.Result}} |

## Requirements

{{.Requirements}}
{{- if .Prompt}}

### Additional Instructions

{{.Prompt}}
{{- end}}
{{- with .Changes}}

## Change Set

- Files changed: {{.Stats.FilesChanged}}
- Lines added: {{.Stats.LinesAdded}}
- Lines deleted: {{.Stats.LinesDeleted}}
{{- if .Sampled}}
- The diff exceeded the size limit; a random sample of files was reviewed.
{{- end}}
{{- if .FileList}}

{{range .FileList}}- ` + "`{{.}}`" + `
{{end}}
{{- end}}
{{- end}}
{{- with .Assessment}}

## Initial Assessment

**Score:** {{score .Score}}

{{.Summary}}
{{- if .IssueSummary}}

{{.IssueSummary}}
{{- end}}
{{- if .Issues}}

### Issues
{{range $i, $issue := .Issues}}
#### {{inc $i}}. {{$issue.Claim}}

- **Grounds:** {{$issue.Grounds}}
- **Warrant:** {{$issue.Warrant}}
- **Backing:** {{$issue.Backing}}
- **Qualifier:** {{$issue.Qualifier}}
{{end}}
{{- end}}
{{- end}}

## Selected Reasoning

Selected by **{{.Best.Mode}}** among {{.Best.ChildrenCount}} candidate(s): ` + "`{{.Best.SelectedNodeID}}`" + `
(visits {{.Best.Stats.Visits}}, average value {{score .Best.Stats.AvgValue}}).
{{- if .Best.Explanation}}

_{{.Best.Explanation}}_
{{- end}}

{{.Best.State}}

### Best Path
{{range .Path}}
{{.Depth}}. ` + "`{{.ID}}`" + ` (visits {{.Visits}}, avg {{score .Avg}}): {{.State}}
{{- end}}

## Node Statistics

| Node | Depth | Visits | Value | Avg | State |
|---|---|---|---|---|---|
{{range .Nodes}}| ` + "`{{.ID}}`" + ` | {{.Depth}} | {{.Visits}} | {{score .Value}} | {{score .Avg}} | {{.State}} |
{{end}}
{{- if .NodesOmitted}}
_{{.NodesOmitted}} more node(s) omitted._
{{end}}
## Search Statistics

- Iterations: {{.Search.CurrentIteration}} of {{.Search.MaxIterations}}
- Exploration constant: {{.Search.ExplorationConstant}}
- Max depth: {{.Search.MaxDepth}}
- Tree nodes: {{.TreeNodes}}
- Phase failures: {{.PhaseFailures}}
{{- if .StopReason}}
- Stop reason: {{.StopReason}}
{{- end}}
- Duration: {{.Duration}}

` + "```" + `
{{.Diagram}}` + "```" + `

## Audit

- Entries: {{.Audit.TotalEntries}}
- Chain intact: {{.Audit.Intact}}
- Head hash: ` + "`{{.Audit.Hash}}`" + `
`

const errorTemplate = `# Code Review Failed

| | |
|---|---|
| Review | ` + "`{{.ReviewID}}`" + ` |
| Repository | ` + "`{{.Repository}}`" + ` |
| Generated | {{.Generated}} |

## Error

{{.Failure}}

## Requirements

{{.Requirements}}

No reasoning search was performed. Check that the repository path and the
revision range exist and that the oracle is reachable, then resubmit.
`

var templates = template.Must(template.New("report").Funcs(template.FuncMap{
	"score": func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"inc":   func(i int) int { return i + 1 },
}).Parse(reportTemplate))

var errorTemplates = template.Must(template.New("error").Parse(errorTemplate))

type pathStep struct {
	Depth  int
	ID     string
	Visits int64
	Avg    float64
	State  string
}

type nodeRow struct {
	ID     string
	Depth  int
	Visits int64
	Value  float64
	Avg    float64
	State  string
}

type view struct {
	*mcts.Outcome

	Repository   string
	Range        string
	Generated    string
	Result       string
	Requirements string
	Prompt       string
	Path         []pathStep
	Nodes        []nodeRow
	NodesOmitted int
	TreeNodes    int
	Duration     string
	Diagram      string
}

// Render produces the Markdown report for an outcome. Failed outcomes get
// the shorter error report.
func Render(o *mcts.Outcome) ([]byte, error) {
	if o == nil {
		return nil, ErrNilOutcome
	}
	v := newView(o)

	tmpl := templates
	if o.Failed {
		tmpl = errorTemplates
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render report %s: %w", o.ReviewID, err)
	}
	return buf.Bytes(), nil
}

func newView(o *mcts.Outcome) view {
	v := view{
		Outcome:      o,
		Repository:   o.Request.RepoDir,
		Range:        revisionRange(o.Request),
		Generated:    generatedAt(o.FinishedAt),
		Result:       o.Label(),
		Requirements: strings.TrimSpace(o.Request.Requirements),
		Prompt:       strings.TrimSpace(o.Request.Prompt),
		Duration:     o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond).String(),
	}
	if o.Failed || o.Tree == nil {
		return v
	}

	v.TreeNodes = o.Tree.Len()
	v.Diagram = o.Tree.Format(o.Best.Path...)
	for i, id := range o.Best.Path {
		n, ok := o.Tree.Node(id)
		if !ok {
			break
		}
		v.Path = append(v.Path, pathStep{Depth: i, ID: id, Visits: n.Visits, Avg: n.AvgValue(), State: cell(n.State, 160)})
	}

	o.Tree.Walk(func(n *mcts.Node, depth int) bool {
		v.Nodes = append(v.Nodes, nodeRow{
			ID: n.ID, Depth: depth, Visits: n.Visits, Value: n.Value, Avg: n.AvgValue(), State: cell(n.State, 80),
		})
		return true
	})
	sort.SliceStable(v.Nodes, func(i, j int) bool { return v.Nodes[i].Visits > v.Nodes[j].Visits })
	if len(v.Nodes) > maxTableNodes {
		v.NodesOmitted = len(v.Nodes) - maxTableNodes
		v.Nodes = v.Nodes[:maxTableNodes]
	}
	return v
}

func revisionRange(r datatypes.ReviewRequest) string {
	start, end := r.ReviewStartCommit, r.ReviewEndCommit
	if start == "" {
		start = datatypes.DefaultStartCommit
	}
	if end == "" {
		end = datatypes.DefaultEndCommit
	}
	return start + ".." + end
}

func generatedAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// cell flattens text for a single Markdown table cell or list line.
func cell(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen-3]) + "..."
	}
	return s
}
