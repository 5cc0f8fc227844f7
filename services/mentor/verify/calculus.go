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
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/integrate/quad"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Operand recovery
// =============================================================================

// derivativeTarget re-reads the expression under differentiation from the
// problem record. A "y=..." form differentiates the right-hand side.
func derivativeTarget(p problem.ParsedProblem) (expr.Node, string, error) {
	if len(p.Equations) == 0 {
		return nil, "", unavailable(problem.MethodNumericReevaluation, "no_expression", nil)
	}
	lhs, rhs, err := expr.ParseEquation(p.Equations[0])
	if err != nil {
		return nil, "", unavailable(problem.MethodNumericReevaluation, "unparseable_expression", err)
	}
	n := lhs
	if rhs != nil {
		if _, isVar := lhs.(expr.Var); !isVar {
			return nil, "", unavailable(problem.MethodNumericReevaluation, "not_a_function", nil)
		}
		n = rhs
	}
	if len(p.GivenValues) > 0 {
		n = expr.Substitute(n, p.GivenValues)
	}
	return n, operandVariable(p, n, "differentiation_variable"), nil
}

// integrandTarget re-reads the integrand from the problem record.
func integrandTarget(p problem.ParsedProblem) (expr.Node, string, error) {
	if len(p.Equations) == 0 {
		return nil, "", unavailable(problem.MethodNumericReevaluation, "no_expression", nil)
	}
	n, err := expr.Parse(p.Equations[0])
	if err != nil {
		return nil, "", unavailable(problem.MethodNumericReevaluation, "unparseable_expression", err)
	}
	if len(p.GivenValues) > 0 {
		n = expr.Substitute(n, p.GivenValues)
	}
	return n, operandVariable(p, n, "integration_variable"), nil
}

func operandVariable(p problem.ParsedProblem, n expr.Node, metaKey string) string {
	if v := p.Metadata[metaKey]; v != "" {
		return v
	}
	if vars := expr.Variables(n); len(vars) == 1 {
		return vars[0]
	}
	return "x"
}

// =============================================================================
// Sample comparison
// =============================================================================

// samplePoints are the abscissas where two formulations of the same
// function are compared. Zero is excluded; several integrands are singular
// there.
var samplePoints = []float64{-2, -1.5, -1, -0.5, 0.5, 1, 1.5, 2}

// minSamplePoints is the fewest valid comparisons that still support a
// verdict.
const minSamplePoints = 3

type sampleFunc func(x float64) (float64, error)

// nodeFunc evaluates an expression over one variable.
func nodeFunc(n expr.Node, v string) sampleFunc {
	return func(x float64) (float64, error) {
		return expr.Eval(n, map[string]float64{v: x})
	}
}

// diffQuotient measures the derivative of an expression by central
// difference with half width h.
func diffQuotient(n expr.Node, v string, h float64) sampleFunc {
	return func(x float64) (float64, error) {
		fp, err := expr.Eval(n, map[string]float64{v: x + h})
		if err != nil {
			return 0, err
		}
		fm, err := expr.Eval(n, map[string]float64{v: x - h})
		if err != nil {
			return 0, err
		}
		return (fp - fm) / (2 * h), nil
	}
}

// compareReport evaluates the solution-side function against the
// independently derived one at every sample point and builds the report.
// Points where either side is undefined are skipped; too few survivors make
// the check unavailable instead of a verdict.
func (v *Verifier) compareReport(method problem.VerificationMethod,
	got, want sampleFunc, label string) (problem.VerificationReport, error) {

	tol := v.cfg.QuadratureTolerance
	checked, skipped := 0, 0
	maxRel := 0.0
	worst := ""
	for _, x := range samplePoints {
		w, err := want(x)
		if err != nil {
			skipped++
			continue
		}
		g, err := got(x)
		if err != nil {
			skipped++
			continue
		}
		rel := math.Abs(g-w) / (1 + math.Max(math.Abs(g), math.Abs(w)))
		if rel > maxRel {
			maxRel = rel
			worst = fmt.Sprintf("at %s: %s against %s",
				expr.FormatFloat(x), expr.FormatFloat(g), expr.FormatFloat(w))
		}
		checked++
	}
	if checked < minSamplePoints {
		return problem.VerificationReport{}, unavailable(method, "too_few_sample_points", nil)
	}

	rep := problem.VerificationReport{
		Passed:      maxRel <= tol,
		Method:      method,
		Discrepancy: &maxRel,
		CheckedCases: []string{
			fmt.Sprintf("%s at %d sample points", label, checked),
		},
	}
	if !rep.Passed {
		rep.Confidence = baseFailDeterministic
		rep.Issues = []string{fmt.Sprintf("disagreement %s exceeds tolerance %s %s",
			expr.FormatFloat(maxRel), expr.FormatFloat(tol), worst)}
		return rep, nil
	}

	var adjs []ConfidenceAdjustment
	if maxRel > tol/10 {
		adjs = append(adjs, AdjustmentNearTolerance)
	}
	if skipped > 0 {
		adjs = append(adjs, AdjustmentPartialCoverage)
	}
	rep.Confidence = CalibrateConfidence(basePassDeterministic, adjs...)
	return rep, nil
}

// =============================================================================
// Derivative checks
// =============================================================================

// checkDerivativeByDifferences verifies a symbolically produced derivative
// by re-measuring the operand with central differences.
func (v *Verifier) checkDerivativeByDifferences(p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	f, vr, err := derivativeTarget(p)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	g, err := expr.Parse(strings.ReplaceAll(sol.Result, " ", ""))
	if err != nil {
		return problem.VerificationReport{}, unavailable(
			problem.MethodNumericReevaluation, "unparseable_result", err)
	}
	return v.compareReport(problem.MethodNumericReevaluation,
		nodeFunc(g, vr),
		diffQuotient(f, vr, v.cfg.FiniteDifferenceStep),
		fmt.Sprintf("central differences of %s against %s", f.String(), sol.Result))
}

// checkDerivativeBySymbols verifies a numerically fitted derivative against
// the rule-table derivative of the operand.
func (v *Verifier) checkDerivativeBySymbols(p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	f, vr, err := derivativeTarget(p)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	d, err := expr.Diff(f, vr)
	if err != nil {
		return problem.VerificationReport{}, unavailable(
			problem.MethodNumericReevaluation, "no_symbolic_derivative", err)
	}
	g, err := expr.Parse(strings.ReplaceAll(sol.Result, " ", ""))
	if err != nil {
		return problem.VerificationReport{}, unavailable(
			problem.MethodNumericReevaluation, "unparseable_result", err)
	}
	return v.compareReport(problem.MethodNumericReevaluation,
		nodeFunc(g, vr),
		nodeFunc(d, vr),
		fmt.Sprintf("symbolic derivative of %s against %s", f.String(), sol.Result))
}

// =============================================================================
// Antiderivative checks
// =============================================================================

// candidateAntiderivative parses the solution's antiderivative with the
// integration constant stripped.
func candidateAntiderivative(sol problem.Solution) (expr.Node, error) {
	text := strings.TrimSuffix(strings.ReplaceAll(sol.Result, " ", ""), "+C")
	F, err := expr.Parse(text)
	if err != nil {
		return nil, unavailable(problem.MethodNumericReevaluation, "unparseable_result", err)
	}
	return F, nil
}

// checkAntiderivByDifferences verifies a symbolically integrated result:
// central differences of the candidate must reproduce the integrand.
func (v *Verifier) checkAntiderivByDifferences(p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	f, vr, err := integrandTarget(p)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	F, err := candidateAntiderivative(sol)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	return v.compareReport(problem.MethodNumericReevaluation,
		diffQuotient(F, vr, v.cfg.FiniteDifferenceStep),
		nodeFunc(f, vr),
		fmt.Sprintf("central differences of %s against integrand %s", sol.Result, f.String()))
}

// checkAntiderivBySymbols verifies a difference-checked candidate the other
// way around: its rule-table derivative must reproduce the integrand.
func (v *Verifier) checkAntiderivBySymbols(p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	f, vr, err := integrandTarget(p)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	F, err := candidateAntiderivative(sol)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	dF, err := expr.Diff(F, vr)
	if err != nil {
		return problem.VerificationReport{}, unavailable(
			problem.MethodNumericReevaluation, "no_symbolic_derivative", err)
	}
	return v.compareReport(problem.MethodNumericReevaluation,
		nodeFunc(dF, vr),
		nodeFunc(f, vr),
		fmt.Sprintf("symbolic derivative of %s against integrand %s", sol.Result, f.String()))
}

// =============================================================================
// Integral re-quadrature
// =============================================================================

// checkQuadrature re-integrates on Gauss-Legendre grids at the configured
// node count and at double it, computed in parallel. The two grids share no
// discretization with the solver's method. Both must agree with each other
// before the solver's value is judged against the finer one.
func (v *Verifier) checkQuadrature(p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	const method = problem.MethodNumericReevaluation
	if sol.NumericValue == nil {
		return problem.VerificationReport{}, unavailable(method, "no_numeric_value", nil)
	}
	f, vr, err := integrandTarget(p)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	if p.Bounds == nil {
		return problem.VerificationReport{}, unavailable(method, "missing_bounds", nil)
	}
	lower, err := constantValue(p.Bounds.Lower)
	if err != nil {
		return problem.VerificationReport{}, unavailable(method, "unparseable_bounds", err)
	}
	upper, err := constantValue(p.Bounds.Upper)
	if err != nil {
		return problem.VerificationReport{}, unavailable(method, "unparseable_bounds", err)
	}

	tol := v.cfg.QuadratureTolerance
	got := *sol.NumericValue

	sign := 1.0
	if upper < lower {
		lower, upper = upper, lower
		sign = -1
	}
	if upper == lower {
		rel := math.Abs(got)
		rep := problem.VerificationReport{
			Passed:       rel <= tol,
			Method:       method,
			Discrepancy:  &rel,
			CheckedCases: []string{"degenerate interval integrates to zero"},
		}
		if rep.Passed {
			rep.Confidence = basePassDeterministic
		} else {
			rep.Confidence = baseFailDeterministic
			rep.Issues = []string{fmt.Sprintf(
				"integral over an empty interval should be 0, solver reported %s",
				expr.FormatFloat(got))}
		}
		return rep, nil
	}

	coarseNodes := v.cfg.QuadratureNodes
	fineNodes := 2 * coarseNodes
	var coarse, fine float64
	var g errgroup.Group
	g.Go(func() error {
		var err error
		coarse, err = gaussLegendre(f, vr, lower, upper, coarseNodes)
		return err
	})
	g.Go(func() error {
		var err error
		fine, err = gaussLegendre(f, vr, lower, upper, fineNodes)
		return err
	})
	if err := g.Wait(); err != nil {
		return problem.VerificationReport{}, unavailable(method, "quadrature_failed", err)
	}
	coarse *= sign
	fine *= sign

	scale := 1 + math.Abs(fine)
	if math.Abs(fine-coarse) > tol*scale {
		return problem.VerificationReport{}, unavailable(method, "quadrature_not_converged",
			fmt.Errorf("%d nodes give %s, %d nodes give %s",
				coarseNodes, expr.FormatFloat(coarse), fineNodes, expr.FormatFloat(fine)))
	}

	rel := math.Abs(got-fine) / scale
	rep := problem.VerificationReport{
		Passed:      rel <= tol,
		Method:      method,
		Discrepancy: &rel,
		CheckedCases: []string{
			fmt.Sprintf("gauss-legendre with %d and %d nodes agree on %s",
				coarseNodes, fineNodes, expr.FormatFloat(fine)),
			fmt.Sprintf("solver value %s against quadrature %s",
				expr.FormatFloat(got), expr.FormatFloat(fine)),
		},
	}
	if !rep.Passed {
		rep.Confidence = baseFailDeterministic
		rep.Issues = []string{fmt.Sprintf(
			"integral disagreement: solver %s, quadrature %s",
			expr.FormatFloat(got), expr.FormatFloat(fine))}
		return rep, nil
	}

	var adjs []ConfidenceAdjustment
	if rel > tol/10 {
		adjs = append(adjs, AdjustmentNearTolerance)
	}
	rep.Confidence = CalibrateConfidence(basePassDeterministic, adjs...)
	return rep, nil
}

// gaussLegendre integrates an expression over [lower, upper]. Evaluation
// errors inside the window surface as an error, not a NaN verdict.
func gaussLegendre(n expr.Node, v string, lower, upper float64, nodes int) (float64, error) {
	var evalErr error
	f := func(x float64) float64 {
		val, err := expr.Eval(n, map[string]float64{v: x})
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.NaN()
		}
		return val
	}
	got := quad.Fixed(f, lower, upper, nodes, quad.Legendre{}, 0)
	if evalErr != nil {
		return 0, evalErr
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		return 0, fmt.Errorf("quadrature produced %s", expr.FormatFloat(got))
	}
	return got, nil
}
