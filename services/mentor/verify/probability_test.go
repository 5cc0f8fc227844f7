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

// stubChecker fakes the alternate-strategy solver behind the cross-check.
type stubChecker struct {
	solveFunc   func(ctx context.Context, p problem.ParsedProblem, strat problem.Strategy) (problem.Solution, error)
	calls       int
	sawStrategy string
}

func (s *stubChecker) Solve(ctx context.Context, p problem.ParsedProblem,
	strat problem.Strategy) (problem.Solution, error) {
	s.calls++
	s.sawStrategy = strat.Name
	return s.solveFunc(ctx, p, strat)
}

// valueChecker always re-solves to the given probability.
func valueChecker(v float64) *stubChecker {
	return &stubChecker{
		solveFunc: func(context.Context, problem.ParsedProblem, problem.Strategy) (problem.Solution, error) {
			return problem.Solution{NumericValue: fptr(v)}, nil
		},
	}
}

func probProblem(text string) problem.ParsedProblem {
	return problem.ParsedProblem{Text: text, Category: problem.CategoryProbability}
}

func probSolution(strategy, result string, value *float64) problem.Solution {
	return problem.Solution{
		Steps:        []problem.SolutionStep{{Statement: result, Operation: "divide_favorable_by_total"}},
		Result:       result,
		StrategyUsed: strategy,
		NumericValue: value,
	}
}

func TestProbability_RangePassWithoutChecker(t *testing.T) {
	p := probProblem("probability of exactly one head in three flips")
	sol := probSolution(problem.StrategyCombinatorialCount, "3/8", fptr(0.375))

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("an in-range probability should pass, issues: %v", rep.Issues)
	}
	if rep.Method != problem.MethodBoundsCheck {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodBoundsCheck)
	}
	if math.Abs(rep.Confidence-0.85) > 1e-12 {
		t.Fatalf("confidence = %v, want the configured range-check score", rep.Confidence)
	}
	if len(rep.CheckedCases) != 1 || rep.CheckedCases[0] != "value 0.375 within [0, 1]" {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
}

func TestProbability_OutOfRangeFails(t *testing.T) {
	p := probProblem("probability of exactly one head in three flips")
	sol := probSolution(problem.StrategyCombinatorialCount, "12/8", fptr(1.5))

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Passed {
		t.Fatal("a probability above 1 must not pass")
	}
	if rep.Method != problem.MethodBoundsCheck {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodBoundsCheck)
	}
	if math.Abs(rep.Confidence-failConfidenceCeiling) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, failConfidenceCeiling)
	}
	if len(rep.Issues) != 1 || rep.Issues[0] != "probability 1.5 outside [0, 1]" {
		t.Fatalf("issues = %v", rep.Issues)
	}
	if rep.Discrepancy == nil || *rep.Discrepancy != 0.5 {
		t.Fatalf("discrepancy = %v, want the overshoot 0.5", rep.Discrepancy)
	}
}

func TestProbability_CrossCheckAgreement(t *testing.T) {
	checker := valueChecker(0.372)
	p := probProblem("probability of exactly one head in three flips")
	sol := probSolution(problem.StrategyCombinatorialCount, "3/8", fptr(0.375))

	rep, err := testVerifierWith(checker, nil).Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("an agreeing cross-check should pass, issues: %v", rep.Issues)
	}
	if checker.calls != 1 || checker.sawStrategy != problem.StrategySeededMonteCarlo {
		t.Fatalf("cross-check ran %d times with %q, want one seeded_monte_carlo run",
			checker.calls, checker.sawStrategy)
	}
	want := CalibrateConfidence(0.85, AdjustmentCrossCheckAgreement)
	if math.Abs(rep.Confidence-want) > 1e-12 {
		t.Fatalf("confidence = %v, want %v after the agreement bonus", rep.Confidence, want)
	}
	if len(rep.CheckedCases) != 2 || !strings.Contains(rep.CheckedCases[1], "reproduces the value") {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
	if rep.Discrepancy == nil || math.Abs(*rep.Discrepancy-0.003) > 1e-12 {
		t.Fatalf("discrepancy = %v, want the 0.003 gap", rep.Discrepancy)
	}
}

func TestProbability_CrossCheckDisagreementFails(t *testing.T) {
	checker := valueChecker(0.6)
	p := probProblem("probability of exactly one head in three flips")
	sol := probSolution(problem.StrategyCombinatorialCount, "3/8", fptr(0.375))

	rep, err := testVerifierWith(checker, nil).Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Passed {
		t.Fatal("a disagreeing cross-check must fail the report")
	}
	if rep.Method != problem.MethodNumericReevaluation {
		t.Fatalf("method = %s, want %s", rep.Method, problem.MethodNumericReevaluation)
	}
	if math.Abs(rep.Confidence-failConfidenceCeiling) > 1e-12 {
		t.Fatalf("confidence = %v, want %v", rep.Confidence, failConfidenceCeiling)
	}
	if len(rep.Issues) != 1 || !strings.Contains(rep.Issues[0], "seeded_monte_carlo disagrees") {
		t.Fatalf("issues = %v", rep.Issues)
	}
	if rep.Discrepancy == nil || math.Abs(*rep.Discrepancy-0.225) > 1e-12 {
		t.Fatalf("discrepancy = %v, want 0.225", rep.Discrepancy)
	}
	// The range check that preceded the disagreement stays on record.
	if len(rep.CheckedCases) != 1 || rep.CheckedCases[0] != "value 0.375 within [0, 1]" {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
}

func TestProbability_MonteCarloCrossChecksCombinatorial(t *testing.T) {
	checker := valueChecker(1.0 / 6)
	p := probProblem("probability of rolling a six")
	sol := probSolution(problem.StrategySeededMonteCarlo, "0.1668", fptr(0.1668))

	rep, err := testVerifierWith(checker, nil).Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("the estimate sits within sampling tolerance, issues: %v", rep.Issues)
	}
	if checker.sawStrategy != problem.StrategyCombinatorialCount {
		t.Fatalf("cross-check strategy = %q, want the counting alternate for a sampled solution",
			checker.sawStrategy)
	}
}

func TestProbability_CrossCheckUnavailable(t *testing.T) {
	checker := &stubChecker{
		solveFunc: func(context.Context, problem.ParsedProblem, problem.Strategy) (problem.Solution, error) {
			return problem.Solution{}, &problem.SolverError{
				Strategy: problem.StrategySeededMonteCarlo,
				Reason:   "formula_mismatch",
			}
		},
	}
	p := probProblem("probability of exactly one head in three flips")
	sol := probSolution(problem.StrategyCombinatorialCount, "3/8", fptr(0.375))

	rep, err := testVerifierWith(checker, nil).Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("an unavailable cross-check leaves the range check standing, issues: %v", rep.Issues)
	}
	if math.Abs(rep.Confidence-0.85) > 1e-12 {
		t.Fatalf("confidence = %v, want the plain range-check score", rep.Confidence)
	}
	if len(rep.CheckedCases) != 2 ||
		rep.CheckedCases[1] != "cross-check with seeded_monte_carlo unavailable" {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
}

func TestProbability_SoftPassWithoutNumericValue(t *testing.T) {
	p := probProblem("probability of exactly one head in three flips")
	sol := probSolution(problem.StrategyCombinatorialCount, "3/8", nil)

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatal("a missing numeric value soft-passes rather than failing")
	}
	if math.Abs(rep.Confidence-0.75) > 1e-12 {
		t.Fatalf("confidence = %v, want the configured soft score", rep.Confidence)
	}
	if len(rep.Issues) != 1 || rep.Issues[0] != "result carries no numeric value to range-check" {
		t.Fatalf("issues = %v", rep.Issues)
	}
	if len(rep.CheckedCases) != 1 || rep.CheckedCases[0] != "soft acceptance without a range check" {
		t.Fatalf("checked cases = %v", rep.CheckedCases)
	}
}

func TestProbability_ShakyClassificationLowersConfidence(t *testing.T) {
	p := probProblem("probability of exactly one head in three flips")
	p.Confidence = 0.5
	sol := probSolution(problem.StrategyCombinatorialCount, "3/8", fptr(0.375))

	rep, err := testVerifier().Verify(context.Background(), p, sol)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.Passed {
		t.Fatalf("expected a pass, issues: %v", rep.Issues)
	}
	want := CalibrateConfidence(0.85, AdjustmentUnclearClassification)
	if math.Abs(rep.Confidence-want) > 1e-12 {
		t.Fatalf("confidence = %v, want %v under an unclear classification", rep.Confidence, want)
	}
}
