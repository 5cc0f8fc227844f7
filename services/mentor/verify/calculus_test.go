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
	"math"
	"strings"
	"testing"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

func derivativeProblem(fn string) problem.ParsedProblem {
	return problem.ParsedProblem{
		Text:      "differentiate " + fn,
		Category:  problem.CategoryDerivative,
		Equations: []string{fn},
	}
}

func integralProblem(integrand string, bounds *problem.BoundPair) problem.ParsedProblem {
	cat := problem.CategoryIntegralIndefinite
	if bounds != nil {
		cat = problem.CategoryIntegralDefinite
	}
	return problem.ParsedProblem{
		Text:      "integrate " + integrand,
		Category:  cat,
		Equations: []string{integrand},
		Bounds:    bounds,
	}
}

func calcSolution(strategy, op, result string) problem.Solution {
	return problem.Solution{
		Steps:        []problem.SolutionStep{{Statement: result, Operation: op}},
		Result:       result,
		StrategyUsed: strategy,
	}
}

func TestDerivativeByDifferences_Pass(t *testing.T) {
	p := derivativeProblem("x^3-2*x^2+x+3")
	sol := calcSolution(problem.StrategyPowerRuleDerivative, "state_derivative", "3*x^2-4*x+1")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("correct derivative should pass, issues: %v", rep.Issues)
	}
	if rep.Method != problem.MethodNumericReevaluation {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodNumericReevaluation)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
	if rep.Discrepancy == nil || *rep.Discrepancy > 1e-9 {
		t.Fatalf("discrepancy = %v, want central differences within 1e-9", rep.Discrepancy)
	}
	if len(rep.CheckedCases) != 1 || !strings.Contains(rep.CheckedCases[0], "at 8 sample points") {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
}

func TestDerivativeByDifferences_WrongDerivativeFails(t *testing.T) {
	p := derivativeProblem("x^3-2*x^2+x+3")
	sol := calcSolution(problem.StrategyPowerRuleDerivative, "state_derivative", "3*x^2-4*x")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Passed {
		t.Fatal("a derivative off by a constant must not pass")
	}
	if math.Abs(rep.Confidence-failConfidenceCeiling) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, failConfidenceCeiling)
	}
	if len(rep.Issues) != 1 || !strings.Contains(rep.Issues[0], "exceeds tolerance") {
		t.Fatalf("issues = %v", rep.Issues)
	}
	// The largest relative gap sits at x=1 where the true derivative is 0.
	if math.Abs(*rep.Discrepancy-0.5) > 1e-6 {
		t.Fatalf("discrepancy = %v, want about 0.5", *rep.Discrepancy)
	}
}

func TestDerivativeByDifferences_PartialDomain(t *testing.T) {
	p := derivativeProblem("log(x)")
	sol := calcSolution(problem.StrategyPowerRuleDerivative, "state_derivative", "1/x")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("1/x should verify on the positive half-line, issues: %v", rep.Issues)
	}
	if len(rep.CheckedCases) != 1 || !strings.Contains(rep.CheckedCases[0], "at 4 sample points") {
		t.Fatalf("checked cases = %v, want the negative samples skipped", rep.CheckedCases)
	}
	// Partial coverage discounts the base score below the deterministic
	// floor, so the floor is what comes back.
	if math.Abs(rep.Confidence-deterministicPassFloor) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, deterministicPassFloor)
	}
}

func TestDerivativeBySymbols_Pass(t *testing.T) {
	p := derivativeProblem("x^2+3*x")
	sol := calcSolution(problem.StrategyFiniteDiffProfile, "state_derivative", "2*x+3")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("fitted profile matching the rule-table derivative should pass, issues: %v", rep.Issues)
	}
	if rep.Method != problem.MethodNumericReevaluation {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodNumericReevaluation)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
}

func TestAntiderivByDifferences_Pass(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", nil)
	sol := calcSolution(problem.StrategyPowerRuleAntideriv, "add_integration_constant",
		"x^4/4-2*x^3/3+x^2/2+3*x+C")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("differentiating the candidate should recover the integrand, issues: %v", rep.Issues)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
}

func TestAntiderivBySymbols_Pass(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", nil)
	sol := calcSolution(problem.StrategyGuidedAntideriv, "add_integration_constant",
		"x^4/4-2*x^3/3+x^2/2+3*x+C")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("rule-table derivative of the candidate should recover the integrand, issues: %v", rep.Issues)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
}

func TestAntiderivByDifferences_WrongCandidateFails(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", nil)
	sol := calcSolution(problem.StrategyPowerRuleAntideriv, "add_integration_constant", "x^2+C")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Passed {
		t.Fatal("a wrong antiderivative must not pass")
	}
	if math.Abs(rep.Confidence-failConfidenceCeiling) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, failConfidenceCeiling)
	}
	if len(rep.Issues) != 1 || !strings.Contains(rep.Issues[0], "exceeds tolerance") {
		t.Fatalf("issues = %v", rep.Issues)
	}
}

func TestQuadrature_CubicAgrees(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", &problem.BoundPair{Lower: "2", Upper: "5"})
	sol := calcSolution(problem.StrategyAntiderivEval, "state_value", "93.75")
	sol.NumericValue = fptr(93.75)

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("93.75 should match the re-quadrature, issues: %v", rep.Issues)
	}
	if rep.Method != problem.MethodNumericReevaluation {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodNumericReevaluation)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
	if len(rep.CheckedCases) != 2 || !strings.Contains(rep.CheckedCases[0], "64 and 128 nodes") {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
	if rep.Discrepancy == nil || *rep.Discrepancy > 1e-9 {
		t.Fatalf("discrepancy = %v, want machine-level agreement", rep.Discrepancy)
	}
}

func TestQuadrature_WrongValueFails(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", &problem.BoundPair{Lower: "2", Upper: "5"})
	sol := calcSolution(problem.StrategyAntiderivEval, "state_value", "73.75")
	sol.NumericValue = fptr(73.75)

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Passed {
		t.Fatal("a value 20 off must not pass re-quadrature")
	}
	if math.Abs(rep.Confidence-failConfidenceCeiling) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, failConfidenceCeiling)
	}
	if len(rep.Issues) != 1 || !strings.Contains(rep.Issues[0], "integral disagreement") {
		t.Fatalf("issues = %v", rep.Issues)
	}
}

func TestQuadrature_ReversedBounds(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", &problem.BoundPair{Lower: "5", Upper: "2"})
	sol := calcSolution(problem.StrategySimpsonQuadrature, "state_value", "-93.75")
	sol.NumericValue = fptr(-93.75)

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("reversed bounds negate the integral, issues: %v", rep.Issues)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
}

func TestQuadrature_SymbolicBounds(t *testing.T) {
	p := integralProblem("sin(x)", &problem.BoundPair{Lower: "0", Upper: "pi"})
	sol := calcSolution(problem.StrategyAntiderivEval, "state_value", "2")
	sol.NumericValue = fptr(2)

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("the integral of sin over [0, pi] is 2, issues: %v", rep.Issues)
	}
	if math.Abs(rep.Confidence-basePassDeterministic) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, basePassDeterministic)
	}
}

func TestQuadrature_MissingNumericValueDegrades(t *testing.T) {
	p := integralProblem("x^3-2*x^2+x+3", &problem.BoundPair{Lower: "2", Upper: "5"})
	sol := calcSolution(problem.StrategyAntiderivEval, "state_value", "93.75")

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatal("a degraded report proceeds, it does not fail the solution")
	}
	if rep.Method != problem.MethodLLMCheck {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodLLMCheck)
	}
	if math.Abs(rep.Confidence-degradedConfidence) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, degradedConfidence)
	}
	if len(rep.Issues) != 2 || !strings.Contains(rep.Issues[0], "no_numeric_value") {
		t.Fatalf("issues = %v", rep.Issues)
	}
}
