// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// Reasoning phrasing
// =============================================================================

const phrasingSystem = `You phrase one-sentence justifications for solver
steps in a math tutoring pipeline. The computation is already done and
checked. For each listed step, explain why the named operation is a valid
move at that point. Do not redo calculations, do not alter any equation,
and do not introduce steps of your own. Plain text only, no markdown.`

var phrasingTool = llm.FunctionTool(
	"report_justifications",
	"Report one justification per listed step, in the same order.",
	llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"justifications": {
				Type:        "array",
				Items:       &llm.ToolParamDef{Type: "string"},
				Description: "One sentence per step, in input order.",
			},
		},
		Required: []string{"justifications"},
	},
)

// phraseSteps asks the reasoning capability to phrase the steps at the
// unknown indexes, in one batched call. Entries the response misses get
// generic prose; only a call that produced nothing at all is an error.
func (e *Explainer) phraseSteps(ctx context.Context, p problem.ParsedProblem,
	steps []problem.SolutionStep, unknown []int) error {

	if e.client == nil {
		return fmt.Errorf("reasoning capability not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.reasoning.Timeout())
	defer cancel()

	var phrased struct {
		Justifications []string `json:"justifications"`
	}
	if err := llm.StructuredCall(callCtx, e.client, phrasingSystem,
		stepsDigest(p, steps, unknown), phrasingTool, e.generationParams(),
		&phrased); err != nil {
		return err
	}

	for k, i := range unknown {
		j := ""
		if k < len(phrased.Justifications) {
			j = strings.TrimSpace(phrased.Justifications[k])
		}
		if j == "" {
			j = genericJustification(steps[i].Operation)
		}
		steps[i].Justification = j
	}
	return nil
}

// stepsDigest renders the steps awaiting prose for the phrasing call.
func stepsDigest(p problem.ParsedProblem, steps []problem.SolutionStep, unknown []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", p.Text)
	fmt.Fprintf(&b, "Steps needing a justification (%d):\n", len(unknown))
	for k, i := range unknown {
		fmt.Fprintf(&b, "%d. %s (operation: %s)\n", k+1, steps[i].Statement, steps[i].Operation)
	}
	return b.String()
}

func (e *Explainer) generationParams() llm.GenerationParams {
	return llm.GenerationParams{
		Temperature: llm.Float32Ptr(float32(e.reasoning.Temperature)),
		MaxTokens:   llm.IntPtr(e.reasoning.MaxTokens),
	}
}
