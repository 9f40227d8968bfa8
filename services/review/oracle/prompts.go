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
	"fmt"
	"strings"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// System instructions per role.
const (
	selectInstructions = `You are an expert in Monte Carlo Tree Search algorithms.
Your job is to select the optimal node for exploration based on the UCB1 algorithm.
Balance exploration and exploitation using node visits and values.
Respond with JSON only.`

	expandInstructions = `You are an expert software engineer who explores reasoning paths.
Given a partial reasoning state about code design, generate possible next steps
that would be valuable to explore further. Each step is a clear, focused statement
that moves the reasoning forward. Steps must be diverse, specific and insightful.
Respond with JSON only.`

	analysisInstructions = `You are an expert software architect who analyzes system boundaries.
Given code changes and commit messages, identify the strategy employed by the developer
and the boundaries of the system being modified. Focus on architecture patterns,
integration points and interfaces, modified components, dependencies between components,
and the overall strategy.`

	reviewInstructions = `You are an expert software reviewer who uses the Toulmin Model of Argumentation.
Evaluate code changes against the stated requirements. Express each issue as:
claim (assertion about quality, functionality or compliance), grounds (evidence from the code),
warrant (principle connecting grounds to claim), backing (support for the warrant)
and qualifier (conditions under which the claim may not hold).
Analyze structure, architecture, potential bugs, security concerns and alignment with the requirements.
Your response MUST be valid JSON with the requested structure.`

	evaluateInstructions = `You are an expert who evaluates reasoning paths in software development.
Given an initial reasoning state and a possible next step, assess how promising the path is.
Consider logical coherence, technical soundness, relevance to the original problem and insight.
Respond with JSON only.`

	fallbackInstructions = `You are a general-purpose software engineering assistant.
Follow instructions carefully. When asked for JSON, respond with valid, properly formatted JSON only.`
)

const assessmentShape = `{
  "score": 0.5,
  "issues": [
    {
      "claim": "Main assertion about an issue",
      "grounds": "Evidence supporting the claim",
      "warrant": "Reasoning connecting grounds to claim",
      "backing": "Support for the warrant",
      "qualifier": "Conditions or limits on the claim"
    }
  ],
  "summary": "Overall evaluation summary",
  "issueSummary": "Summary of identified issues"
}`

func writeSection(sb *strings.Builder, title, body string) {
	sb.WriteString(title)
	sb.WriteString(":\n")
	if strings.TrimSpace(body) == "" {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(strings.TrimRight(body, "\n"))
	}
	sb.WriteString("\n\n")
}

func analysisPrompt(changes datatypes.ChangeContext) string {
	var sb strings.Builder
	sb.WriteString("Analyze the system boundaries and strategic approach in these code changes.\n\n")
	writeSection(&sb, "Files Changed", changes.Files)
	writeSection(&sb, "Commit Messages", changes.Messages)
	writeSection(&sb, "Diff", changes.Diff)
	sb.WriteString("Describe the strategy employed by the developer, the system components being modified, ")
	sb.WriteString("and how they interact within the broader system.")
	return sb.String()
}

func reviewPrompt(changes datatypes.ChangeContext, requirements, strategy string) string {
	var sb strings.Builder
	sb.WriteString("Perform a thorough code review using the Toulmin Model of Argumentation.\n\n")
	writeSection(&sb, "Requirements", requirements)
	writeSection(&sb, "System Analysis", strategy)
	writeSection(&sb, "Files Changed", changes.Files)
	writeSection(&sb, "Commit Messages", changes.Messages)
	writeSection(&sb, "Diff", changes.Diff)
	sb.WriteString("Score how well the changes meet the requirements from 0.0 to 1.0.\n")
	sb.WriteString("Return a JSON object with this structure:\n")
	sb.WriteString(assessmentShape)
	return sb.String()
}

// fallbackReviewPrompt omits the diff and the system analysis.
func fallbackReviewPrompt(changes datatypes.ChangeContext, requirements string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate these code changes against the given requirements.\n\n")
	writeSection(&sb, "Requirements", requirements)
	writeSection(&sb, "Files Changed", changes.Files)
	writeSection(&sb, "Commit Messages", changes.Messages)
	sb.WriteString("Provide a JSON response with this structure:\n")
	sb.WriteString(assessmentShape)
	return sb.String()
}

func expandPrompt(state string) string {
	var sb strings.Builder
	sb.WriteString("I need to expand on a current reasoning state about code design.\n")
	sb.WriteString("Generate 2-3 distinct next steps that would be valuable to explore further.\n\n")
	writeSection(&sb, "Current reasoning state", state)
	sb.WriteString(`Return a JSON object with this structure:
{
  "reasoning": "explanation of your thought process",
  "steps": ["step 1", "step 2", "step 3"]
}`)
	return sb.String()
}

func evaluatePrompt(parentState string, candidates []mcts.Candidate) string {
	var sb strings.Builder
	sb.WriteString("Evaluate this reasoning path for solving a software development problem.\n")
	sb.WriteString("Rate the quality on a scale from 0.0 to 1.0 and explain your rating.\n\n")
	writeSection(&sb, "Initial reasoning", parentState)
	if len(candidates) == 1 {
		writeSection(&sb, "Next step in reasoning", candidates[0].State)
		sb.WriteString(`Return a JSON object with this structure:
{
  "value": 0.5,
  "explanation": "Why you assigned this score"
}`)
		return sb.String()
	}

	sb.WriteString("Candidate next steps:\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- [%s] %s\n", c.NodeID, oneLine(c.State))
	}
	sb.WriteString(`
Pick the most promising candidate and return a JSON object with this structure:
{
  "nodeId": "id of the candidate you scored",
  "value": 0.5,
  "explanation": "Why you assigned this score"
}`)
	return sb.String()
}

func selectPrompt(nodesJSON []byte, currentID string, sc mcts.SearchContext) string {
	var sb strings.Builder
	sb.WriteString("Help select the best node for exploration in a Monte Carlo Tree Search.\n\n")
	fmt.Fprintf(&sb, "Current state:\n- Root node: %s\n- Current node: %s\n- Iteration: %d/%d\n- Exploration constant: %g\n- Max depth: %d\n\n",
		sc.RootID, currentID, sc.CurrentIteration, sc.MaxIterations, sc.ExplorationConstant, sc.MaxDepth)
	writeSection(&sb, "Available nodes", string(nodesJSON))
	sb.WriteString(`Return a JSON object with this structure:
{"selected_node_id": "id of the node to expand"}`)
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
