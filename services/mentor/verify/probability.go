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

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Probability checks
// =============================================================================

// crossCheckTolerance bounds acceptable disagreement between the solver's
// probability and the alternate strategy's estimate. Monte Carlo sampling
// noise dominates the comparison.
const crossCheckTolerance = 0.01

// checkProbability range-checks the reported probability and, when a
// cross-checker is wired, re-solves the problem with an alternate strategy.
// A value outside [0, 1] fails outright; an alternate strategy that cannot
// handle the scenario leaves the report resting on the range check alone.
func (v *Verifier) checkProbability(ctx context.Context, p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	if sol.NumericValue == nil {
		return problem.VerificationReport{
			Passed:       true,
			Method:       problem.MethodBoundsCheck,
			Confidence:   v.cfg.ProbabilitySoft,
			Issues:       []string{"result carries no numeric value to range-check"},
			CheckedCases: []string{"soft acceptance without a range check"},
		}, nil
	}

	got := *sol.NumericValue
	if math.IsNaN(got) || got < 0 || got > 1 {
		rep := problem.VerificationReport{
			Passed:     false,
			Method:     problem.MethodBoundsCheck,
			Confidence: baseFailDeterministic,
			Issues: []string{fmt.Sprintf("probability %s outside [0, 1]",
				expr.FormatFloat(got))},
		}
		if !math.IsNaN(got) {
			over := -got
			if got > 1 {
				over = got - 1
			}
			rep.Discrepancy = &over
		}
		return rep, nil
	}

	rep := problem.VerificationReport{
		Passed:     true,
		Method:     problem.MethodBoundsCheck,
		Confidence: v.cfg.ProbabilityPass,
		CheckedCases: []string{fmt.Sprintf("value %s within [0, 1]",
			expr.FormatFloat(got))},
	}
	if v.checker == nil {
		return rep, nil
	}

	alt := problem.Strategy{Name: problem.StrategySeededMonteCarlo, Rank: 1}
	if sol.StrategyUsed == problem.StrategySeededMonteCarlo {
		alt = problem.Strategy{Name: problem.StrategyCombinatorialCount, Rank: 1}
	}
	altSol, err := v.checker.Solve(ctx, p, alt)
	if err != nil || altSol.NumericValue == nil {
		v.log.Debug("alternate-strategy cross-check unavailable",
			"strategy", alt.Name,
			"cause", err,
		)
		rep.CheckedCases = append(rep.CheckedCases,
			fmt.Sprintf("cross-check with %s unavailable", alt.Name))
		return rep, nil
	}

	diff := math.Abs(got - *altSol.NumericValue)
	if diff > crossCheckTolerance {
		return problem.VerificationReport{
			Passed:      false,
			Method:      problem.MethodNumericReevaluation,
			Confidence:  baseFailDeterministic,
			Discrepancy: &diff,
			Issues: []string{fmt.Sprintf("%s disagrees: %s against %s",
				alt.Name, expr.FormatFloat(*altSol.NumericValue), expr.FormatFloat(got))},
			CheckedCases: rep.CheckedCases,
		}, nil
	}

	rep.Discrepancy = &diff
	rep.Confidence = CalibrateConfidence(v.cfg.ProbabilityPass, AdjustmentCrossCheckAgreement)
	rep.CheckedCases = append(rep.CheckedCases,
		fmt.Sprintf("%s reproduces the value within %s",
			alt.Name, expr.FormatFloat(crossCheckTolerance)))
	return rep, nil
}
