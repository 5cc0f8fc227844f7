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

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Operand extraction
// =============================================================================

// integrand returns the expression to integrate and its variable.
func integrand(p problem.ParsedProblem, strategy string) (expr.Node, string, error) {
	if len(p.Equations) == 0 {
		return nil, "", solverErr(strategy, "no_expression", nil)
	}
	n, err := expr.Parse(p.Equations[0])
	if err != nil {
		return nil, "", solverErr(strategy, "unparseable_expression", err)
	}
	if len(p.GivenValues) > 0 {
		n = expr.Substitute(n, p.GivenValues)
	}
	v := p.Metadata["integration_variable"]
	if v == "" {
		if vars := expr.Variables(n); len(vars) == 1 {
			v = vars[0]
		} else {
			v = "x"
		}
	}
	return n, v, nil
}

// derivativeOperand returns the expression to differentiate and its
// variable. A "y=..." form differentiates the right-hand side.
func derivativeOperand(p problem.ParsedProblem, strategy string) (expr.Node, string, error) {
	if len(p.Equations) == 0 {
		return nil, "", solverErr(strategy, "no_expression", nil)
	}
	lhs, rhs, err := expr.ParseEquation(p.Equations[0])
	if err != nil {
		return nil, "", solverErr(strategy, "unparseable_expression", err)
	}
	n := lhs
	if rhs != nil {
		if _, isVar := lhs.(expr.Var); !isVar {
			return nil, "", solverErr(strategy, "not_a_function", nil)
		}
		n = rhs
	}
	if len(p.GivenValues) > 0 {
		n = expr.Substitute(n, p.GivenValues)
	}
	v := p.Metadata["differentiation_variable"]
	if v == "" {
		if vars := expr.Variables(n); len(vars) == 1 {
			v = vars[0]
		} else {
			v = "x"
		}
	}
	return n, v, nil
}

// boundValue parses and evaluates a bound expression such as "2" or "pi/2".
func boundValue(raw, strategy string) (float64, error) {
	n, err := expr.Parse(raw)
	if err != nil {
		return 0, solverErr(strategy, "unparseable_bounds", err)
	}
	v, err := expr.Eval(n, nil)
	if err != nil {
		return 0, solverErr(strategy, "unparseable_bounds", err)
	}
	return v, nil
}

// =============================================================================
// power_rule_derivative
// =============================================================================

// powerRuleDerivative differentiates symbolically, term by term, through the
// expression engine's rule table.
func (s *Solver) powerRuleDerivative(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyPowerRuleDerivative

	n, v, err := derivativeOperand(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	d, err := expr.Diff(n, v)
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "no_derivative_rule", err)
	}

	fText, dText := n.String(), d.String()
	steps := []problem.SolutionStep{
		step("f("+v+")="+fText, "state_function"),
		step(fmt.Sprintf("d/d%s(%s)=%s", v, fText, dText), "apply_derivative_rules"),
		step("f'("+v+")="+dText, "state_derivative"),
	}
	return problem.Solution{Steps: steps, Result: dText}, nil
}

// =============================================================================
// finite_difference_profile
// =============================================================================

// fdStep is the central-difference half width for the derivative profile.
const fdStep = 1e-5

// finiteDifferenceProfile recovers a polynomial derivative numerically:
// central differences at integer sample points, a least-squares Vandermonde
// fit, then a residual check that the fit reproduces every sample. A
// derivative outside low-degree polynomial shape fails the residual check
// and reports a structured error instead of a bad fit.
func (s *Solver) finiteDifferenceProfile(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyFiniteDiffProfile

	n, v, err := derivativeOperand(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}

	const fitDegree = 5
	samples := []float64{-4, -3, -2, -1, 0, 1, 2, 3, 4}
	var pts, fds []float64
	for _, x := range samples {
		fp, err1 := expr.Eval(n, map[string]float64{v: x + fdStep})
		fm, err2 := expr.Eval(n, map[string]float64{v: x - fdStep})
		if err1 != nil || err2 != nil {
			continue
		}
		pts = append(pts, x)
		fds = append(fds, (fp-fm)/(2*fdStep))
	}
	if len(pts) < fitDegree+1 {
		return problem.Solution{}, solverErr(strategy, "domain_too_small", nil)
	}

	m, k := len(pts), fitDegree+1
	a := mat.NewDense(m, k, nil)
	for i, x := range pts {
		pw := 1.0
		for j := 0; j < k; j++ {
			a.Set(i, j, pw)
			pw *= x
		}
	}
	b := mat.NewVecDense(m, fds)
	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return problem.Solution{}, solverErr(strategy, "fit_failed", err)
	}

	scale := 1.0
	for _, fv := range fds {
		if math.Abs(fv) > scale {
			scale = math.Abs(fv)
		}
	}
	coeffs := make([]float64, k)
	for j := 0; j < k; j++ {
		coeffs[j] = snapCoeff(c.AtVec(j), scale)
	}
	for i, x := range pts {
		if math.Abs(polyEval(coeffs, x)-fds[i]) > 1e-4*scale {
			return problem.Solution{}, solverErr(strategy, "nonpolynomial_derivative", nil)
		}
	}

	dText := polyText(coeffs, v)
	steps := []problem.SolutionStep{
		step("f("+v+")="+n.String(), "state_function"),
		step(fmt.Sprintf("sample central differences at %d points with h=%s",
			len(pts), expr.FormatFloat(fdStep)),
			"sample_finite_differences"),
		step("f'("+v+")="+dText, "fit_derivative_profile"),
		step("f'("+v+")="+dText, "state_derivative"),
	}
	return problem.Solution{Steps: steps, Result: dText}, nil
}

// snapCoeff zeros fit noise and collapses near-integer coefficients.
func snapCoeff(c, scale float64) float64 {
	if math.Abs(c) < 1e-6*scale {
		return 0
	}
	r := math.Round(c)
	if math.Abs(c-r) < 1e-6*(1+math.Abs(c)) {
		return r
	}
	return c
}

// =============================================================================
// power_rule_antiderivative
// =============================================================================

// powerRuleAntiderivative produces the symbolic indefinite integral for
// integrands inside the closed-form subset.
func (s *Solver) powerRuleAntiderivative(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyPowerRuleAntideriv

	n, v, err := integrand(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	F, err := expr.Antiderivative(n, v)
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "no_closed_form", err)
	}

	fText, FText := n.String(), F.String()
	steps := []problem.SolutionStep{
		step("integrate "+fText+" d"+v, "state_integrand"),
		step("F("+v+")="+FText, "integrate_term_by_term"),
		step("F("+v+")="+FText+"+C", "add_integration_constant"),
	}
	return problem.Solution{Steps: steps, Result: FText + "+C"}, nil
}

// =============================================================================
// antiderivative_evaluation
// =============================================================================

// antiderivativeEvaluation computes a definite integral exactly: symbolic
// antiderivative, then evaluation at both bounds.
func (s *Solver) antiderivativeEvaluation(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyAntiderivEval

	n, v, err := integrand(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	if p.Bounds == nil {
		return problem.Solution{}, solverErr(strategy, "missing_bounds", nil)
	}
	lower, err := boundValue(p.Bounds.Lower, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	upper, err := boundValue(p.Bounds.Upper, strategy)
	if err != nil {
		return problem.Solution{}, err
	}

	F, err := expr.Antiderivative(n, v)
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "no_closed_form", err)
	}
	FU, err := expr.Eval(F, map[string]float64{v: upper})
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "domain_violation", err)
	}
	FL, err := expr.Eval(F, map[string]float64{v: lower})
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "domain_violation", err)
	}
	value := FU - FL

	steps := []problem.SolutionStep{
		step(fmt.Sprintf("integrate %s d%s from %s to %s",
			n.String(), v, p.Bounds.Lower, p.Bounds.Upper),
			"state_integrand"),
		step("F("+v+")="+F.String(), "integrate_term_by_term"),
		step(fmt.Sprintf("F(%s)-F(%s)=%s-%s",
			p.Bounds.Upper, p.Bounds.Lower,
			expr.FormatFloat(FU), expr.FormatFloat(FL)),
			"evaluate_at_bounds"),
		step(expr.FormatFloat(value), "state_value"),
	}
	return problem.Solution{
		Steps:        steps,
		Result:       expr.FormatFloat(value),
		NumericValue: numeric(value),
	}, nil
}

// =============================================================================
// simpson_quadrature
// =============================================================================

// simpsonQuadrature estimates a definite integral on an even uniform
// partition with the composite Simpson rule. The numeric last resort when
// no closed form exists.
func (s *Solver) simpsonQuadrature(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategySimpsonQuadrature

	n, v, err := integrand(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	if p.Bounds == nil {
		return problem.Solution{}, solverErr(strategy, "missing_bounds", nil)
	}
	lower, err := boundValue(p.Bounds.Lower, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	upper, err := boundValue(p.Bounds.Upper, strategy)
	if err != nil {
		return problem.Solution{}, err
	}

	sign := 1.0
	if upper < lower {
		lower, upper = upper, lower
		sign = -1
	}
	if upper == lower {
		return problem.Solution{
			Steps: []problem.SolutionStep{
				step(fmt.Sprintf("integrate %s d%s from %s to %s",
					n.String(), v, p.Bounds.Lower, p.Bounds.Upper),
					"state_integrand"),
				step("0", "state_value"),
			},
			Result:       "0",
			NumericValue: numeric(0),
		}, nil
	}

	panels := s.cfg.IntegrationSubdivisions
	if panels%2 == 1 {
		panels++
	}
	width := (upper - lower) / float64(panels)
	xs := make([]float64, panels+1)
	fs := make([]float64, panels+1)
	for i := 0; i <= panels; i++ {
		x := lower + float64(i)*width
		fv, err := expr.Eval(n, map[string]float64{v: x})
		if err != nil {
			return problem.Solution{}, solverErr(strategy, "domain_violation", err)
		}
		xs[i] = x
		fs[i] = fv
	}
	est := sign * integrate.Simpsons(xs, fs)

	steps := []problem.SolutionStep{
		step(fmt.Sprintf("integrate %s d%s from %s to %s",
			n.String(), v, p.Bounds.Lower, p.Bounds.Upper),
			"state_integrand"),
		step(fmt.Sprintf("partition [%s, %s] into %d panels",
			expr.FormatFloat(lower), expr.FormatFloat(upper), panels),
			"partition_interval"),
		step("composite simpson estimate="+expr.FormatFloat(est), "apply_simpson_rule"),
		step(expr.FormatFloat(est), "state_value"),
	}
	return problem.Solution{
		Steps:        steps,
		Result:       expr.FormatFloat(est),
		NumericValue: numeric(est),
	}, nil
}
