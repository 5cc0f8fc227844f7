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
	"math/cmplx"
	"strings"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Root substitution
// =============================================================================

// checkedEquation is one equation under test, parsed once.
type checkedEquation struct {
	text string
	lhs  expr.Node
	rhs  expr.Node
}

// rootScenario is one candidate assignment to substitute. reals is nil when
// the assignment includes a complex value.
type rootScenario struct {
	label    string
	bindings map[string]complex128
	reals    map[string]float64
}

// checkRoots substitutes every reported root or assignment back into the
// original equations and measures the residual. Complex roots substitute
// through complex arithmetic, so conjugate pairs verify the same way real
// roots do. A root that satisfies its equation but violates a stated domain
// constraint is extraneous and fails the report under domain_check.
func (v *Verifier) checkRoots(p problem.ParsedProblem, sol problem.Solution) (problem.VerificationReport, error) {
	eqs, err := equationsUnderTest(p, sol)
	if err != nil {
		return problem.VerificationReport{}, err
	}
	scenarios, err := resultScenarios(p, sol)
	if err != nil {
		return problem.VerificationReport{}, err
	}

	maxRel := 0.0
	var issues, cases []string
	for _, sc := range scenarios {
		for _, eq := range eqs {
			lv, err := expr.EvalComplex(eq.lhs, sc.bindings)
			if err != nil {
				return problem.VerificationReport{}, unavailable(
					problem.MethodSubstitution, "unevaluable_equation", err)
			}
			rv, err := expr.EvalComplex(eq.rhs, sc.bindings)
			if err != nil {
				return problem.VerificationReport{}, unavailable(
					problem.MethodSubstitution, "unevaluable_equation", err)
			}
			residual := cmplx.Abs(lv - rv)
			rel := residual / (1 + math.Max(cmplx.Abs(lv), cmplx.Abs(rv)))
			if rel > maxRel {
				maxRel = rel
			}
			if rel <= v.cfg.ResidualTolerance {
				cases = append(cases, fmt.Sprintf("substituted %s into %s", sc.label, eq.text))
			} else {
				issues = append(issues, fmt.Sprintf(
					"substitution mismatch in %s at %s: LHS=%s, RHS=%s",
					eq.text, sc.label, formatComplex(lv), formatComplex(rv)))
			}
		}
	}

	rep := problem.VerificationReport{
		Passed:       len(issues) == 0,
		Method:       problem.MethodSubstitution,
		Discrepancy:  &maxRel,
		Issues:       issues,
		CheckedCases: cases,
	}
	if !rep.Passed {
		rep.Confidence = baseFailDeterministic
		return rep, nil
	}

	if viol := v.constraintViolations(p, scenarios); len(viol) > 0 {
		rep.Passed = false
		rep.Method = problem.MethodDomainCheck
		rep.Issues = viol
		rep.Confidence = baseFailDeterministic
		return rep, nil
	}

	var adjs []ConfidenceAdjustment
	if maxRel > v.cfg.ResidualTolerance/10 {
		adjs = append(adjs, AdjustmentNearTolerance)
	}
	rep.Confidence = CalibrateConfidence(basePassDeterministic, adjs...)
	return rep, nil
}

// equationBearingOps are step operations whose statement carries the
// "; "-joined equation list when the problem record itself has none.
var equationBearingOps = map[string]bool{
	"translate_to_equations":          true,
	"extract_equations_via_reasoning": true,
}

// equationsUnderTest recovers the equations the solution answers: the
// problem's own equation list when present, otherwise the equation-bearing
// step a translation strategy recorded.
func equationsUnderTest(p problem.ParsedProblem, sol problem.Solution) ([]checkedEquation, error) {
	var texts []string
	for _, eq := range p.Equations {
		if strings.Contains(eq, "=") {
			texts = append(texts, eq)
		}
	}
	if len(texts) == 0 {
		for _, st := range sol.Steps {
			if equationBearingOps[st.Operation] {
				texts = strings.Split(st.Statement, "; ")
				break
			}
		}
	}
	if len(texts) == 0 {
		return nil, unavailable(problem.MethodSubstitution, "no_equations", nil)
	}

	out := make([]checkedEquation, 0, len(texts))
	for _, t := range texts {
		lhs, rhs, err := expr.ParseEquation(strings.ReplaceAll(t, " ", ""))
		if err != nil {
			return nil, unavailable(problem.MethodSubstitution, "unparseable_equation", err)
		}
		if rhs == nil {
			continue
		}
		out = append(out, checkedEquation{text: t, lhs: lhs, rhs: rhs})
	}
	if len(out) == 0 {
		return nil, unavailable(problem.MethodSubstitution, "no_equations", nil)
	}
	return out, nil
}

// resultScenarios builds the substitution assignments from the solution.
// With a root set, each root becomes one scenario over the result's target
// variable. Without one (system solves), all result assignments form a
// single scenario. Given values are bound in every scenario.
func resultScenarios(p problem.ParsedProblem, sol problem.Solution) ([]rootScenario, error) {
	type assignment struct {
		name  string
		value string
	}
	chunks := strings.Split(sol.Result, ", ")
	asg := make([]assignment, 0, len(chunks))
	for _, ch := range chunks {
		name, value, ok := strings.Cut(ch, "=")
		if !ok || name == "" || value == "" {
			return nil, unavailable(problem.MethodSubstitution, "unparseable_result",
				fmt.Errorf("result %q is not an assignment list", sol.Result))
		}
		asg = append(asg, assignment{name: name, value: value})
	}

	if len(sol.Roots) > 0 {
		variable := asg[0].name
		out := make([]rootScenario, 0, len(sol.Roots))
		for _, r := range sol.Roots {
			z := complex(r.Re, r.Im)
			sc := rootScenario{
				label:    variable + "=" + formatComplex(z),
				bindings: complexBindings(p),
			}
			sc.bindings[variable] = z
			if r.IsReal() {
				sc.reals = realBindings(p)
				sc.reals[variable] = r.Re
			}
			out = append(out, sc)
		}
		return out, nil
	}

	sc := rootScenario{
		label:    sol.Result,
		bindings: complexBindings(p),
		reals:    realBindings(p),
	}
	for _, a := range asg {
		val, err := constantValue(a.value)
		if err != nil {
			return nil, unavailable(problem.MethodSubstitution, "unparseable_result", err)
		}
		sc.bindings[a.name] = complex(val, 0)
		sc.reals[a.name] = val
	}
	return []rootScenario{sc}, nil
}

func complexBindings(p problem.ParsedProblem) map[string]complex128 {
	b := make(map[string]complex128, len(p.GivenValues)+1)
	for k, val := range p.GivenValues {
		b[k] = complex(val, 0)
	}
	return b
}

func realBindings(p problem.ParsedProblem) map[string]float64 {
	b := make(map[string]float64, len(p.GivenValues)+1)
	for k, val := range p.GivenValues {
		b[k] = val
	}
	return b
}

// =============================================================================
// Domain constraints
// =============================================================================

// constraintEps separates "zero" from "nonzero" when a guard is evaluated
// at a substituted root.
const constraintEps = 1e-9

// constraintViolations evaluates the stated domain guards ("E != 0",
// "E >= 0", "E > 0") at every real scenario. Complex scenarios are skipped;
// order comparisons have no meaning there. Guards outside the grammar or
// unevaluable at a scenario are skipped rather than failed.
func (v *Verifier) constraintViolations(p problem.ParsedProblem, scenarios []rootScenario) []string {
	if len(p.Constraints) == 0 {
		return nil
	}
	var out []string
	for _, c := range p.Constraints {
		guard, op, ok := splitConstraint(c)
		if !ok {
			v.log.Debug("constraint outside the guard grammar", "constraint", c)
			continue
		}
		n, err := expr.Parse(strings.ReplaceAll(guard, " ", ""))
		if err != nil {
			v.log.Debug("unparseable constraint", "constraint", c, "cause", err)
			continue
		}
		for _, sc := range scenarios {
			if sc.reals == nil {
				continue
			}
			val, err := expr.Eval(n, sc.reals)
			if err != nil {
				continue
			}
			if violatesGuard(val, op) {
				out = append(out, fmt.Sprintf("extraneous result: %s violates %s", sc.label, c))
			}
		}
	}
	return out
}

// splitConstraint cuts a guard into its expression and comparison operator.
func splitConstraint(c string) (guard, op string, ok bool) {
	for _, suffix := range []struct{ text, op string }{
		{" != 0", "!="},
		{" >= 0", ">="},
		{" > 0", ">"},
	} {
		if strings.HasSuffix(c, suffix.text) {
			return strings.TrimSuffix(c, suffix.text), suffix.op, true
		}
	}
	return "", "", false
}

func violatesGuard(val float64, op string) bool {
	switch op {
	case "!=":
		return math.Abs(val) <= constraintEps
	case ">=":
		return val < -constraintEps
	case ">":
		return val <= constraintEps
	}
	return false
}
