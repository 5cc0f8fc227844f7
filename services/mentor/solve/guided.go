// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// guided_antiderivative
// =============================================================================

const guidedAntiderivSystem = `You assist a math tutor with one integral.
Given an integrand and its variable, respond with an antiderivative written in
calculator syntax: operators + - * / ^, functions sqrt, abs, exp, log, sin,
cos, tan, asin, acos, atan, constants pi and e. Use exactly the variable you
were given and no other. Do not include the integration constant.`

var antiderivativeTool = llm.FunctionTool(
	"propose_antiderivative",
	"Report an antiderivative of the given integrand.",
	llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"antiderivative": {
				Type:        "string",
				Description: "The antiderivative in calculator syntax, without the +C term.",
			},
			"reasoning": {
				Type:        "string",
				Description: "One or two sentences naming the technique used.",
			},
		},
		Required: []string{"antiderivative"},
	},
)

// guidedAntiderivative asks the reasoning capability for a candidate
// antiderivative, then accepts it only after a finite-difference check
// confirms the candidate differentiates back to the integrand. A candidate
// that fails the check is a structured error, never a trusted answer.
func (s *Solver) guidedAntiderivative(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyGuidedAntideriv

	if s.client == nil {
		return problem.Solution{}, solverErr(strategy, "reasoning_unavailable", nil)
	}
	n, v, err := integrand(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.reasoning.Timeout())
	defer cancel()

	var verdict struct {
		Antiderivative string `json:"antiderivative"`
		Reasoning      string `json:"reasoning"`
	}
	user := withRecalledExamples(fmt.Sprintf("Integrand: %s\nVariable: %s", n.String(), v), p)
	if err := llm.StructuredCall(callCtx, s.client, guidedAntiderivSystem, user,
		antiderivativeTool, s.generationParams(), &verdict); err != nil {
		return problem.Solution{}, solverErr(strategy, "reasoning_failed", err)
	}

	F, err := expr.Parse(strings.ReplaceAll(verdict.Antiderivative, " ", ""))
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "malformed_llm_steps", err)
	}
	if err := checkAntiderivative(F, n, v); err != nil {
		return problem.Solution{}, solverErr(strategy, "unverified_antiderivative", err)
	}

	s.log.Debug("guided antiderivative accepted",
		"integrand", n.String(),
		"candidate", F.String(),
	)

	FText := F.String()
	steps := []problem.SolutionStep{
		step("integrate "+n.String()+" d"+v, "state_integrand"),
		step("F("+v+")="+FText, "propose_antiderivative"),
		step(fmt.Sprintf("d/d%s(%s)=%s at sampled points", v, FText, n.String()),
			"check_by_differentiation"),
		step("F("+v+")="+FText+"+C", "add_integration_constant"),
	}
	return problem.Solution{Steps: steps, Result: FText + "+C"}, nil
}

// withRecalledExamples appends worked examples recalled by the pipeline to
// the user prompt. The examples arrive through problem metadata so the
// solver stays decoupled from the memory layer.
func withRecalledExamples(user string, p problem.ParsedProblem) string {
	hints := p.Metadata["worked_examples"]
	if hints == "" {
		return user
	}
	return user + "\n\nSimilar solved problems:\n" + hints
}

// checkAntiderivative accepts F only when its central difference matches the
// integrand at enough sample points. Numeric agreement is the acceptance
// bar; symbolic equality is not required.
func checkAntiderivative(F, f expr.Node, v string) error {
	const h = 1e-6
	checked := 0
	for _, x := range []float64{-2, -1.5, -1, -0.5, 0.5, 1, 1.5, 2} {
		want, err := expr.Eval(f, map[string]float64{v: x})
		if err != nil {
			continue
		}
		fp, err1 := expr.Eval(F, map[string]float64{v: x + h})
		fm, err2 := expr.Eval(F, map[string]float64{v: x - h})
		if err1 != nil || err2 != nil {
			continue
		}
		got := (fp - fm) / (2 * h)
		if math.Abs(got-want) > 1e-4*(1+math.Abs(want)) {
			return fmt.Errorf("derivative mismatch at %s=%s: got %s, want %s",
				v, expr.FormatFloat(x), expr.FormatFloat(got), expr.FormatFloat(want))
		}
		checked++
	}
	if checked < 3 {
		return fmt.Errorf("too few valid sample points to confirm the candidate")
	}
	return nil
}

// =============================================================================
// guided_equation_extraction
// =============================================================================

const guidedExtractionSystem = `You assist a math tutor with one word problem.
Translate the problem into equations over single-letter variables, one
equation per unknown, written in calculator syntax: operators + - * / ^ and
an = sign, for example "a=2*b". Name the variable the question asks for.
Extract only what the problem states; do not solve it.`

var equationExtractionTool = llm.FunctionTool(
	"extract_equations",
	"Translate a word problem into equations over named variables.",
	llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"equations": {
				Type:        "array",
				Description: "The extracted equations, one string each, e.g. \"a+b=12\".",
				Items:       &llm.ToolParamDef{Type: "string"},
			},
			"target": {
				Type:        "string",
				Description: "The variable the question asks for.",
			},
			"reasoning": {
				Type:        "string",
				Description: "One or two sentences on how the quantities map to variables.",
			},
		},
		Required: []string{"equations"},
	},
)

// guidedEquationExtraction asks the reasoning capability to translate a
// narrative problem into equations, then solves the extracted system with
// the deterministic machinery. The model supplies only the translation; the
// arithmetic is never delegated.
func (s *Solver) guidedEquationExtraction(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyGuidedEquationExtr

	if s.client == nil {
		return problem.Solution{}, solverErr(strategy, "reasoning_unavailable", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.reasoning.Timeout())
	defer cancel()

	var verdict struct {
		Equations []string `json:"equations"`
		Target    string   `json:"target"`
		Reasoning string   `json:"reasoning"`
	}
	if err := llm.StructuredCall(callCtx, s.client, guidedExtractionSystem, withRecalledExamples(p.Text, p),
		equationExtractionTool, s.generationParams(), &verdict); err != nil {
		return problem.Solution{}, solverErr(strategy, "reasoning_failed", err)
	}
	if len(verdict.Equations) == 0 {
		return problem.Solution{}, solverErr(strategy, "malformed_llm_steps", nil)
	}

	// Canonicalize and validate every extracted equation before solving.
	canon := make([]string, 0, len(verdict.Equations))
	varSet := map[string]bool{}
	for _, raw := range verdict.Equations {
		compact := strings.ReplaceAll(raw, " ", "")
		lhs, rhs, err := expr.ParseEquation(compact)
		if err != nil {
			return problem.Solution{}, solverErr(strategy, "malformed_llm_steps", err)
		}
		canon = append(canon, equationText(lhs, rhs))
		for _, node := range []expr.Node{lhs, rhs} {
			if node == nil {
				continue
			}
			for _, vr := range expr.Variables(node) {
				varSet[vr] = true
			}
		}
	}
	vars := make([]string, 0, len(varSet))
	for vr := range varSet {
		vars = append(vars, vr)
	}
	sort.Strings(vars)

	s.log.Debug("guided extraction accepted",
		"equations", len(canon),
		"variables", strings.Join(vars, ","),
	)

	derived := p.Clone()
	derived.Equations = canon
	derived.Variables = vars
	if verdict.Target != "" {
		if derived.Metadata == nil {
			derived.Metadata = map[string]string{}
		}
		derived.Metadata["target_variable"] = verdict.Target
	}

	sol, err := s.solveEquationSet(ctx, derived, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	intro := step(strings.Join(canon, "; "), "extract_equations_via_reasoning")
	sol.Steps = append([]problem.SolutionStep{intro}, sol.Steps...)
	return sol, nil
}
