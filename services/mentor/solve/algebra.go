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

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// coeffEps is the magnitude below which a polynomial coefficient counts as
// zero.
const coeffEps = 1e-12

// =============================================================================
// Equation extraction
// =============================================================================

// primaryEquation parses the problem's first equation and substitutes any
// stated givens into both sides. rhs is nil for a bare expression.
func primaryEquation(p problem.ParsedProblem, strategy string) (lhs, rhs expr.Node, err error) {
	if len(p.Equations) == 0 {
		return nil, nil, solverErr(strategy, "no_equation", nil)
	}
	lhs, rhs, err = expr.ParseEquation(p.Equations[0])
	if err != nil {
		return nil, nil, solverErr(strategy, "unparseable_equation", err)
	}
	if len(p.GivenValues) > 0 {
		lhs = expr.Substitute(lhs, p.GivenValues)
		if rhs != nil {
			rhs = expr.Substitute(rhs, p.GivenValues)
		}
	}
	return lhs, rhs, nil
}

// solveTarget picks the variable to solve for: an explicit target from the
// normalizer wins, otherwise the single free variable left once givens are
// excluded. Empty means the choice is ambiguous.
func solveTarget(p problem.ParsedProblem, nodes ...expr.Node) string {
	if t := p.Metadata["target_variable"]; t != "" {
		return t
	}
	seen := map[string]bool{}
	var free []string
	for _, n := range nodes {
		if n == nil {
			continue
		}
		for _, v := range expr.Variables(n) {
			if _, bound := p.GivenValues[v]; bound || seen[v] {
				continue
			}
			seen[v] = true
			free = append(free, v)
		}
	}
	if len(free) == 1 {
		return free[0]
	}
	return ""
}

func equationText(lhs, rhs expr.Node) string {
	if rhs == nil {
		return lhs.String() + "=0"
	}
	return lhs.String() + "=" + rhs.String()
}

// =============================================================================
// Rendering
// =============================================================================

// polyText renders ascending-power coefficients in conventional descending
// form, e.g. [6, -5, 1] over x as "x^2-5*x+6".
func polyText(coeffs []float64, variable string) string {
	deg := expr.Degree(coeffs, coeffEps)
	var b strings.Builder
	wrote := false
	for pow := deg; pow >= 0; pow-- {
		c := 0.0
		if pow < len(coeffs) {
			c = coeffs[pow]
		}
		if math.Abs(c) <= coeffEps && (pow != 0 || wrote) {
			continue
		}
		sign := "+"
		if c < 0 {
			sign = "-"
		}
		mag := math.Abs(c)
		var term string
		switch {
		case pow == 0:
			term = expr.FormatFloat(mag)
		case mag == 1:
			term = varPow(variable, pow)
		default:
			term = expr.FormatFloat(mag) + "*" + varPow(variable, pow)
		}
		if wrote {
			b.WriteString(sign)
		} else if sign == "-" {
			b.WriteString("-")
		}
		b.WriteString(term)
		wrote = true
	}
	if !wrote {
		return "0"
	}
	return b.String()
}

func varPow(v string, pow int) string {
	if pow == 1 {
		return v
	}
	return fmt.Sprintf("%s^%d", v, pow)
}

// formatRoot renders a root as canonical text: "2", "1+2*i", "-i".
func formatRoot(r problem.Root) string {
	if r.Im == 0 {
		return expr.FormatFloat(r.Re)
	}
	imAbs := math.Abs(r.Im)
	imPart := expr.FormatFloat(imAbs) + "*i"
	if imAbs == 1 {
		imPart = "i"
	}
	sign := "+"
	if r.Im < 0 {
		sign = "-"
	}
	if r.Re == 0 {
		if sign == "-" {
			return "-" + imPart
		}
		return imPart
	}
	return expr.FormatFloat(r.Re) + sign + imPart
}

// rootsResult renders a root set as canonical result text: "x=2, x=3".
func rootsResult(target string, roots []problem.Root) string {
	parts := make([]string, 0, len(roots))
	for _, r := range roots {
		parts = append(parts, target+"="+formatRoot(r))
	}
	return strings.Join(parts, ", ")
}

// snapInt collapses float noise onto nearby integers so roots computed
// numerically render cleanly and compare stably.
func snapInt(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) < 1e-9*(1+math.Abs(v)) {
		if r == 0 {
			return 0
		}
		return r
	}
	return v
}

// =============================================================================
// linear_isolation
// =============================================================================

// linearIsolation solves a degree-1 equation by collecting terms on one side
// and dividing by the coefficient of the unknown.
func (s *Solver) linearIsolation(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyLinearIsolation

	lhs, rhs, err := primaryEquation(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	target := solveTarget(p, lhs, rhs)
	if target == "" {
		return problem.Solution{}, solverErr(strategy, "ambiguous_target", nil)
	}
	coeffs, err := expr.EquationCoefficients(lhs, rhs, target)
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "not_polynomial", err)
	}
	if expr.Degree(coeffs, coeffEps) != 1 {
		return problem.Solution{}, solverErr(strategy, "degree_mismatch", nil)
	}

	c1, c0 := coeffs[1], coeffs[0]
	root := snapInt(-c0 / c1)

	sol := problem.Solution{
		Steps: []problem.SolutionStep{
			step(equationText(lhs, rhs), "state_equation"),
			step(polyText(coeffs, target)+"=0", "collect_terms"),
			step(polyText([]float64{0, c1}, target)+"="+expr.FormatFloat(-c0), "isolate_variable"),
			step(target+"="+expr.FormatFloat(root), "divide_both_sides"),
		},
		Result:       target + "=" + expr.FormatFloat(root),
		NumericValue: numeric(root),
		Roots:        []problem.Root{{Re: root, Multiplicity: 1}},
	}
	return sol, nil
}

// =============================================================================
// quadratic_formula
// =============================================================================

// quadRoots returns the root set of a*x^2+b*x+c with multiplicity: real
// roots ascending, conjugate pairs with the positive imaginary part first.
func quadRoots(a, b, c float64) []problem.Root {
	disc := b*b - 4*a*c
	scale := math.Max(b*b, math.Abs(4*a*c))
	if scale == 0 {
		scale = 1
	}
	switch {
	case math.Abs(disc) <= 1e-12*scale:
		return []problem.Root{{Re: snapInt(-b / (2 * a)), Multiplicity: 2}}
	case disc > 0:
		sq := math.Sqrt(disc)
		r1 := (-b - sq) / (2 * a)
		r2 := (-b + sq) / (2 * a)
		if r1 > r2 {
			r1, r2 = r2, r1
		}
		return []problem.Root{
			{Re: snapInt(r1), Multiplicity: 1},
			{Re: snapInt(r2), Multiplicity: 1},
		}
	default:
		re := snapInt(-b / (2 * a))
		im := snapInt(math.Abs(math.Sqrt(-disc) / (2 * a)))
		return []problem.Root{
			{Re: re, Im: im, Multiplicity: 1},
			{Re: re, Im: -im, Multiplicity: 1},
		}
	}
}

// quadraticFormula solves a degree-2 equation through the discriminant.
// A repeated root is reported once with multiplicity 2; a negative
// discriminant yields the conjugate pair rather than a refusal.
func (s *Solver) quadraticFormula(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyQuadraticFormula

	lhs, rhs, err := primaryEquation(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	target := solveTarget(p, lhs, rhs)
	if target == "" {
		return problem.Solution{}, solverErr(strategy, "ambiguous_target", nil)
	}
	coeffs, err := expr.EquationCoefficients(lhs, rhs, target)
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "not_polynomial", err)
	}
	if expr.Degree(coeffs, coeffEps) != 2 {
		return problem.Solution{}, solverErr(strategy, "degree_mismatch", nil)
	}

	a, b, c := coeffs[2], coeffs[1], coeffs[0]
	disc := b*b - 4*a*c
	roots := quadRoots(a, b, c)

	steps := []problem.SolutionStep{
		step(equationText(lhs, rhs), "state_equation"),
		step(polyText(coeffs, target)+"=0", "collect_terms"),
		step(fmt.Sprintf("a=%s, b=%s, c=%s",
			expr.FormatFloat(a), expr.FormatFloat(b), expr.FormatFloat(c)),
			"identify_coefficients"),
		step(fmt.Sprintf("discriminant=(%s)^2-4*(%s)*(%s)=%s",
			expr.FormatFloat(b), expr.FormatFloat(a), expr.FormatFloat(c),
			expr.FormatFloat(disc)),
			"compute_discriminant"),
		step(fmt.Sprintf("%s=(%s+-sqrt(%s))/(%s)",
			target, expr.FormatFloat(-b), expr.FormatFloat(disc),
			expr.FormatFloat(2*a)),
			"apply_quadratic_formula"),
		step(rootsResult(target, roots), "extract_roots"),
	}

	sol := problem.Solution{
		Steps:  steps,
		Result: rootsResult(target, roots),
		Roots:  roots,
	}
	if len(roots) == 1 && roots[0].Im == 0 {
		sol.NumericValue = numeric(roots[0].Re)
	}
	return sol, nil
}

// =============================================================================
// factor_out_roots
// =============================================================================

// maxCandidateConstant bounds the constant term we will enumerate divisors
// for. Larger values mean the input is out of tutoring scope.
const maxCandidateConstant = 1_000_000

// factorRoots solves a degree >= 3 polynomial with integer coefficients by
// testing rational root candidates and synthetically deflating until a
// quadratic or linear factor remains.
func (s *Solver) factorRoots(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyFactorRoots

	lhs, rhs, err := primaryEquation(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	target := solveTarget(p, lhs, rhs)
	if target == "" {
		return problem.Solution{}, solverErr(strategy, "ambiguous_target", nil)
	}
	coeffs, err := expr.EquationCoefficients(lhs, rhs, target)
	if err != nil {
		return problem.Solution{}, solverErr(strategy, "not_polynomial", err)
	}
	deg := expr.Degree(coeffs, coeffEps)
	if deg < 3 {
		return problem.Solution{}, solverErr(strategy, "degree_mismatch", nil)
	}

	if _, ok := integerCoeffs(coeffs); !ok {
		return problem.Solution{}, solverErr(strategy, "non_integer_coefficients", nil)
	}

	steps := []problem.SolutionStep{
		step(equationText(lhs, rhs), "state_equation"),
		step(polyText(coeffs, target)+"=0", "collect_terms"),
	}

	cur := append([]float64(nil), coeffs[:deg+1]...)
	var roots []problem.Root

	// Zero constant terms factor the unknown itself out first.
	for len(cur) > 1 && math.Abs(cur[0]) <= coeffEps {
		addRoot(&roots, 0)
		cur = cur[1:]
		steps = append(steps, step(
			fmt.Sprintf("%s*(%s)=0", target, polyText(cur, target)),
			"factor_out_root"))
	}

	if len(cur)-1 > 2 {
		// Candidates come from the zero-stripped polynomial so the constant
		// term is nonzero.
		ints, _ := integerCoeffs(cur)
		constant, leading := ints[0], ints[len(ints)-1]
		if abs64(constant) > maxCandidateConstant || abs64(leading) > maxCandidateConstant {
			return problem.Solution{}, solverErr(strategy, "coefficients_too_large", nil)
		}
		candidates := rationalCandidates(constant, leading)
		steps = append(steps, step(
			"candidate roots: "+candidateText(candidates),
			"list_rational_candidates"))

		scale := polyScale(cur)
		for len(cur)-1 > 2 {
			r, found := firstRationalRoot(cur, candidates, scale)
			if !found {
				return problem.Solution{}, solverErr(strategy, "irreducible_over_rationals", nil)
			}
			for len(cur)-1 > 0 && math.Abs(polyEval(cur, r)) <= 1e-9*scale {
				cur = deflate(cur, r)
				addRoot(&roots, r)
				if len(cur)-1 <= 2 {
					break
				}
			}
			steps = append(steps, step(
				fmt.Sprintf("(%s)*(%s)=0", factorText(target, r), polyText(cur, target)),
				"factor_out_root"))
		}
	}

	// Finish the remaining quadratic or linear factor directly.
	switch expr.Degree(cur, coeffEps) {
	case 2:
		steps = append(steps, step(polyText(cur, target)+"=0", "apply_quadratic_formula"))
		for _, r := range quadRoots(cur[2], cur[1], cur[0]) {
			for i := 0; i < r.Multiplicity; i++ {
				addComplexRoot(&roots, r.Re, r.Im)
			}
		}
	case 1:
		r := snapInt(-cur[0] / cur[1])
		steps = append(steps, step(target+"="+expr.FormatFloat(r), "solve_linear_factor"))
		addRoot(&roots, r)
	}

	if len(roots) == 0 {
		return problem.Solution{}, solverErr(strategy, "irreducible_over_rationals", nil)
	}
	sortRoots(roots)
	steps = append(steps, step(rootsResult(target, roots), "extract_roots"))

	sol := problem.Solution{
		Steps:  steps,
		Result: rootsResult(target, roots),
		Roots:  roots,
	}
	if len(roots) == 1 && roots[0].Im == 0 {
		sol.NumericValue = numeric(roots[0].Re)
	}
	return sol, nil
}

// integerCoeffs rounds coefficients onto integers, reporting failure when
// any of them is not numerically integral.
func integerCoeffs(coeffs []float64) ([]int64, bool) {
	out := make([]int64, len(coeffs))
	for i, c := range coeffs {
		r := math.Round(c)
		if math.Abs(c-r) > 1e-9*(1+math.Abs(c)) {
			return nil, false
		}
		out[i] = int64(r)
	}
	return out, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func divisors(n int64) []int64 {
	n = abs64(n)
	if n == 0 {
		return []int64{1}
	}
	var out []int64
	for d := int64(1); d*d <= n; d++ {
		if n%d == 0 {
			out = append(out, d, n/d)
		}
	}
	return out
}

// rationalCandidates enumerates +-p/q for p dividing the constant term and q
// dividing the leading coefficient, sorted small magnitude first with the
// positive sign ahead of the negative.
func rationalCandidates(constant, leading int64) []float64 {
	seen := map[float64]bool{}
	var out []float64
	for _, p := range divisors(constant) {
		for _, q := range divisors(leading) {
			v := float64(p) / float64(q)
			for _, signed := range [2]float64{v, -v} {
				if !seen[signed] {
					seen[signed] = true
					out = append(out, signed)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i]), math.Abs(out[j])
		if ai != aj {
			return ai < aj
		}
		return out[i] > out[j]
	})
	return out
}

func candidateText(candidates []float64) string {
	// Positive magnitudes only; the sign pairing is implied by the listing.
	var parts []string
	seen := map[float64]bool{}
	for _, c := range candidates {
		m := math.Abs(c)
		if !seen[m] {
			seen[m] = true
			parts = append(parts, "+-"+expr.FormatFloat(m))
		}
	}
	return strings.Join(parts, ", ")
}

func firstRationalRoot(coeffs, candidates []float64, scale float64) (float64, bool) {
	for _, r := range candidates {
		if math.Abs(polyEval(coeffs, r)) <= 1e-9*scale {
			return r, true
		}
	}
	return 0, false
}

// polyEval evaluates ascending-power coefficients at x by Horner's method.
func polyEval(coeffs []float64, x float64) float64 {
	v := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		v = v*x + coeffs[i]
	}
	return v
}

func polyScale(coeffs []float64) float64 {
	s := 1.0
	for _, c := range coeffs {
		if math.Abs(c) > s {
			s = math.Abs(c)
		}
	}
	return s
}

// deflate divides the polynomial by (x - r) synthetically and returns the
// quotient in the same ascending layout. Callers check the remainder is
// numerically zero before trusting the result.
func deflate(coeffs []float64, r float64) []float64 {
	n := len(coeffs) - 1
	desc := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		desc[i] = coeffs[n-i]
	}
	q := make([]float64, n)
	q[0] = desc[0]
	for i := 1; i < n; i++ {
		q[i] = desc[i] + r*q[i-1]
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = q[n-1-i]
	}
	return out
}

func factorText(target string, r float64) string {
	if r < 0 {
		return target + "+" + expr.FormatFloat(-r)
	}
	return target + "-" + expr.FormatFloat(r)
}

// addRoot merges a real root into the set, bumping multiplicity when it
// coincides with one already found.
func addRoot(roots *[]problem.Root, r float64) {
	addComplexRoot(roots, r, 0)
}

func addComplexRoot(roots *[]problem.Root, re, im float64) {
	for i := range *roots {
		if rootsClose((*roots)[i].Re, re) && rootsClose((*roots)[i].Im, im) {
			(*roots)[i].Multiplicity++
			return
		}
	}
	*roots = append(*roots, problem.Root{Re: re, Im: im, Multiplicity: 1})
}

func rootsClose(a, b float64) bool {
	return math.Abs(a-b) <= 1e-7*(1+math.Max(math.Abs(a), math.Abs(b)))
}

// sortRoots orders real roots ascending, then complex pairs by real part
// with the positive imaginary member first.
func sortRoots(roots []problem.Root) {
	sort.Slice(roots, func(i, j int) bool {
		ri, rj := roots[i], roots[j]
		if (ri.Im == 0) != (rj.Im == 0) {
			return ri.Im == 0
		}
		if ri.Re != rj.Re {
			return ri.Re < rj.Re
		}
		return ri.Im > rj.Im
	})
}

// =============================================================================
// numeric_root_scan
// =============================================================================

// numericRootScan finds real roots of lhs-rhs by sampling a symmetric window
// for sign changes and refining each bracket by bisection. It is the
// deterministic last resort for single-unknown equations, polynomial or not.
func (s *Solver) numericRootScan(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyNumericRootScan

	lhs, rhs, err := primaryEquation(p, strategy)
	if err != nil {
		return problem.Solution{}, err
	}
	target := solveTarget(p, lhs, rhs)
	if target == "" {
		return problem.Solution{}, solverErr(strategy, "no_unknown", nil)
	}

	f := func(x float64) (float64, bool) {
		bind := map[string]float64{target: x}
		for k, v := range p.GivenValues {
			bind[k] = v
		}
		lv, err := expr.Eval(lhs, bind)
		if err != nil {
			return 0, false
		}
		rv := 0.0
		if rhs != nil {
			rv, err = expr.Eval(rhs, bind)
			if err != nil {
				return 0, false
			}
		}
		return lv - rv, true
	}

	window := s.cfg.RootScanWindow
	samples := s.cfg.RootScanSamples
	stepWidth := 2 * window / float64(samples)

	var roots []float64
	var prevX, prevF float64
	prevValid := false
	valid, nearZero := 0, 0

	for i := 0; i <= samples; i++ {
		if i%256 == 0 && ctx.Err() != nil {
			return problem.Solution{}, solverErr(strategy, "timeout", ctx.Err())
		}
		x := -window + float64(i)*stepWidth
		fv, ok := f(x)
		if !ok {
			prevValid = false
			continue
		}
		valid++
		if math.Abs(fv) <= 1e-9*(1+math.Abs(x)) {
			nearZero++
			roots = appendRootValue(roots, snapInt(x))
			prevX, prevF, prevValid = x, fv, true
			continue
		}
		if prevValid && (prevF < 0) != (fv < 0) {
			roots = appendRootValue(roots, snapInt(bisect(f, prevX, x, prevF)))
		}
		prevX, prevF, prevValid = x, fv, true
	}

	if valid == 0 {
		return problem.Solution{}, solverErr(strategy, "domain_empty", nil)
	}
	if nearZero > valid/2 {
		return problem.Solution{}, solverErr(strategy, "identity_equation", nil)
	}
	if len(roots) == 0 {
		return problem.Solution{}, solverErr(strategy, "no_roots_in_window", nil)
	}
	sort.Float64s(roots)

	steps := []problem.SolutionStep{
		step(equationText(lhs, rhs), "state_equation"),
		step(fmt.Sprintf("scan [%s, %s] at %d samples for sign changes",
			expr.FormatFloat(-window), expr.FormatFloat(window), samples+1),
			"scan_sign_changes"),
	}
	rootSet := make([]problem.Root, 0, len(roots))
	for _, r := range roots {
		steps = append(steps, step(target+"="+expr.FormatFloat(r), "bisect_interval"))
		rootSet = append(rootSet, problem.Root{Re: r, Multiplicity: 1})
	}
	steps = append(steps, step(rootsResult(target, rootSet), "extract_roots"))

	sol := problem.Solution{
		Steps:  steps,
		Result: rootsResult(target, rootSet),
		Roots:  rootSet,
	}
	if len(rootSet) == 1 {
		sol.NumericValue = numeric(rootSet[0].Re)
	}
	return sol, nil
}

// bisect refines a sign-change bracket down to float resolution.
func bisect(f func(float64) (float64, bool), a, b, fa float64) float64 {
	for i := 0; i < 200; i++ {
		mid := (a + b) / 2
		fm, ok := f(mid)
		if !ok {
			break
		}
		if fm == 0 {
			return mid
		}
		if (fa < 0) == (fm < 0) {
			a, fa = mid, fm
		} else {
			b = mid
		}
		if b-a < 1e-13*(1+math.Abs(a)) {
			break
		}
	}
	return (a + b) / 2
}

// appendRootValue adds r unless an equal root (within scan resolution) is
// already present.
func appendRootValue(roots []float64, r float64) []float64 {
	for _, have := range roots {
		if math.Abs(have-r) <= 1e-6*(1+math.Abs(r)) {
			return roots
		}
	}
	return append(roots, r)
}
