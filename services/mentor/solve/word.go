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
	"errors"
	"strings"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// equation_translation
// =============================================================================

// equationTranslation solves a word problem from equations the normalizer
// already extracted. The translation step is the normalizer's; this strategy
// records it and hands the equations to the algebra machinery.
func (s *Solver) equationTranslation(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyEquationTranslation

	if len(p.Equations) == 0 {
		return problem.Solution{}, solverErr(strategy, "no_equation", nil)
	}

	sol, err := s.solveEquationSet(ctx, p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	intro := step(strings.Join(p.Equations, "; "), "translate_to_equations")
	sol.Steps = append([]problem.SolutionStep{intro}, sol.Steps...)
	return sol, nil
}

// solveEquationSet dispatches a set of extracted equations to whichever
// algebra executor fits: elimination for systems, the degree-matched
// single-equation strategies otherwise, with the numeric scan as the
// fallback for anything non-polynomial. Failures are relabeled so the
// caller's strategy name survives the delegation.
func (s *Solver) solveEquationSet(ctx context.Context, p problem.ParsedProblem,
	strategy string) (problem.Solution, error) {

	if len(p.Equations) > 1 {
		sol, err := s.gaussianElimination(ctx, p)
		return relabel(sol, err, strategy)
	}

	lhs, rhs, err := primaryEquation(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	target := solveTarget(p, lhs, rhs)
	if target == "" {
		return problem.Solution{}, solverErr(strategy, "no_unknown", nil)
	}

	coeffs, err := expr.EquationCoefficients(lhs, rhs, target)
	if err != nil {
		// Non-polynomial in the target; the scan is the only deterministic
		// option left.
		sol, err := s.numericRootScan(ctx, p)
		return relabel(sol, err, strategy)
	}

	switch expr.Degree(coeffs, coeffEps) {
	case 1:
		sol, err := s.linearIsolation(ctx, p)
		return relabel(sol, err, strategy)
	case 2:
		sol, err := s.quadraticFormula(ctx, p)
		return relabel(sol, err, strategy)
	default:
		sol, err := s.factorRoots(ctx, p)
		if err == nil {
			return sol, nil
		}
		sol, err = s.numericRootScan(ctx, p)
		return relabel(sol, err, strategy)
	}
}

// relabel rewrites a delegated executor's failure under the caller's
// strategy name. Successful solutions pass through untouched.
func relabel(sol problem.Solution, err error, strategy string) (problem.Solution, error) {
	if err == nil {
		return sol, nil
	}
	var serr *problem.SolverError
	if errors.As(err, &serr) {
		return problem.Solution{}, solverErr(strategy, serr.Reason, serr.Cause)
	}
	return problem.Solution{}, solverErr(strategy, "inner_failure", err)
}
