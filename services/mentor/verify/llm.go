// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// Reasoning fallback
// =============================================================================

const verifierSystem = `You check one proposed math solution for a tutoring
pipeline. Judge only what is given: confirm the steps follow from one
another, that each named operation is applied correctly, that the result
respects the stated domain, and that no result is extraneous or missing.
Do not solve the problem from scratch and do not propose a different
answer. Report honestly; an unsupported solution must not pass.`

var verificationTool = llm.FunctionTool(
	"report_verification",
	"Report whether the proposed solution holds up under inspection.",
	llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"passed": {
				Type:        "boolean",
				Description: "Whether the solution survives inspection.",
			},
			"confidence": {
				Type:        "number",
				Description: "Confidence in the verdict, from 0 to 1.",
			},
			"issues": {
				Type:        "array",
				Items:       &llm.ToolParamDef{Type: "string"},
				Description: "Problems found. Empty when the solution passes.",
			},
			"checked_cases": {
				Type:        "array",
				Items:       &llm.ToolParamDef{Type: "string"},
				Description: "Aspects that were inspected.",
			},
		},
		Required: []string{"passed", "confidence"},
	},
)

// llmCheck asks the reasoning capability for a qualitative verdict. It is
// the last rung before a degraded report, and its confidence is capped by
// configuration below every deterministic pass.
func (v *Verifier) llmCheck(ctx context.Context, p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	if v.client == nil {
		return problem.VerificationReport{},
			unavailable(problem.MethodLLMCheck, "reasoning_unavailable", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, v.reasoning.Timeout())
	defer cancel()

	var verdict struct {
		Passed       bool     `json:"passed"`
		Confidence   float64  `json:"confidence"`
		Issues       []string `json:"issues"`
		CheckedCases []string `json:"checked_cases"`
	}
	if err := llm.StructuredCall(callCtx, v.client, verifierSystem,
		solutionDigest(p, sol), verificationTool, v.generationParams(),
		&verdict); err != nil {
		return problem.VerificationReport{},
			unavailable(problem.MethodLLMCheck, "reasoning_failed", err)
	}

	v.log.Debug("llm verification verdict",
		"passed", verdict.Passed,
		"confidence", verdict.Confidence,
		"issues", len(verdict.Issues),
	)

	return problem.VerificationReport{
		Passed:       verdict.Passed,
		Method:       problem.MethodLLMCheck,
		Confidence:   math.Max(0, math.Min(1, verdict.Confidence)),
		Issues:       verdict.Issues,
		CheckedCases: verdict.CheckedCases,
	}, nil
}

// solutionDigest renders the problem and its proposed solution for review.
func solutionDigest(p problem.ParsedProblem, sol problem.Solution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", p.Text)
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	fmt.Fprintf(&b, "Proposed result: %s\nSteps:\n", sol.Result)
	for i, st := range sol.Steps {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, st.Statement, st.Operation)
	}
	return b.String()
}
