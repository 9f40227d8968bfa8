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
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/datatypes"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/mcts"
)

// StaticAssessment is returned when no model could score the change set.
func StaticAssessment() datatypes.Assessment {
	return datatypes.Assessment{
		Score: 0.5,
		Issues: []datatypes.Issue{{
			Claim:     "Evaluation failed due to API error",
			Grounds:   "The error occurred during commit evaluation",
			Warrant:   "API errors indicate temporary service unavailability",
			Backing:   "Error logs show API failure",
			Qualifier: "This is a fallback response",
		}},
		Summary:      "Unable to complete evaluation due to service error",
		IssueSummary: "Fallback response generated due to API error",
	}
}

// StaticExpansion is returned when no model could expand a state.
func StaticExpansion() datatypes.Expansion {
	return datatypes.Expansion{
		Reasoning: "Fallback expansion due to API error",
		Steps:     []string{"Analyze code structure", "Review error handling", "Consider performance implications"},
	}
}

// StaticEvaluation is returned when no model could score a candidate.
func StaticEvaluation(nodeID string) mcts.SimulationResult {
	return mcts.SimulationResult{
		NodeID:      nodeID,
		Value:       0.5,
		Explanation: "Fallback evaluation due to service error",
	}
}
