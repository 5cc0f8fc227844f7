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
	"math"
	"testing"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

func derivativeProblem(expression string) problem.ParsedProblem {
	return problem.ParsedProblem{
		Text:      "differentiate " + expression + " with respect to x",
		Category:  problem.CategoryDerivative,
		Equations: []string{expression},
		Metadata:  map[string]string{"differentiation_variable": "x"},
	}
}

func integralProblem(integrand string, bounds *problem.BoundPair) problem.ParsedProblem {
	p := problem.ParsedProblem{
		Text:      "integrate " + integrand + " dx",
		Category:  problem.CategoryIntegralIndefinite,
		Equations: []string{integrand},
		Metadata:  map[string]string{"integration_variable": "x"},
	}
	if bounds != nil {
		p.Bounds = bounds
		p.Category = problem.CategoryIntegralDefinite
	}
	return p
}

func TestPowerRuleDerivative_Symbolic(t *testing.T) {
	s := testSolver()
	sol, err := s.powerRuleDerivative(context.Background(), derivativeProblem("x^3+2*x"))
	if err != nil {
		t.Fatalf("powerRuleDerivative error: %v", err)
	}

	if sol.Result != "3*x^2+2" {
		t.Errorf("Result = %q, want \"3*x^2+2\"", sol.Result)
	}
	if sol.Steps[0].Statement != "f(x)=x^3+2*x" || sol.Steps[0].Operation != "state_function" {
		t.Errorf("state_function = %+v", sol.Steps[0])
	}
	last := sol.Steps[len(sol.Steps)-1]
	if last.Statement != "f'(x)=3*x^2+2" || last.Operation != "state_derivative" {
		t.Errorf("state_derivative = %+v", last)
	}
}

func TestPowerRuleDerivative_FunctionForm(t *testing.T) {
	s := testSolver()
	sol, err := s.powerRuleDerivative(context.Background(), derivativeProblem("y=3*x+2"))
	if err != nil {
		t.Fatalf("powerRuleDerivative error: %v", err)
	}
	if sol.Result != "3" {
		t.Errorf("Result = %q, want \"3\"", sol.Result)
	}
}

func TestPowerRuleDerivative_Failures(t *testing.T) {
	tests := []struct {
		name   string
		p      problem.ParsedProblem
		reason string
	}{
		{"no expression", problem.ParsedProblem{Text: "differentiate"}, "no_expression"},
		{"equation is not a function", derivativeProblem("x^2=3*x"), "not_a_function"},
		{"no rule for abs", derivativeProblem("abs(x)"), "no_derivative_rule"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.powerRuleDerivative(context.Background(), tt.p)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestFiniteDifferenceProfile_RecoversPolynomial(t *testing.T) {
	s := testSolver()
	sol, err := s.finiteDifferenceProfile(context.Background(), derivativeProblem("x^3+2*x"))
	if err != nil {
		t.Fatalf("finiteDifferenceProfile error: %v", err)
	}
	if sol.Result != "3*x^2+2" {
		t.Errorf("Result = %q, want \"3*x^2+2\"", sol.Result)
	}
	sampled := false
	for _, st := range sol.Steps {
		if st.Operation == "sample_finite_differences" {
			sampled = true
		}
	}
	if !sampled {
		t.Error("no sample_finite_differences step")
	}
}

func TestFiniteDifferenceProfile_Failures(t *testing.T) {
	tests := []struct {
		name   string
		p      problem.ParsedProblem
		reason string
	}{
		{"nonpolynomial derivative", derivativeProblem("exp(x)"), "nonpolynomial_derivative"},
		{"narrow domain", derivativeProblem("sqrt(x)"), "domain_too_small"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.finiteDifferenceProfile(context.Background(), tt.p)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestPowerRuleAntiderivative_Symbolic(t *testing.T) {
	s := testSolver()
	sol, err := s.powerRuleAntiderivative(context.Background(), integralProblem("x^3-2*x^2+x+3", nil))
	if err != nil {
		t.Fatalf("powerRuleAntiderivative error: %v", err)
	}

	if sol.Result != "x^4/4-2*x^3/3+x^2/2+3*x+C" {
		t.Errorf("Result = %q", sol.Result)
	}
	if sol.NumericValue != nil {
		t.Error("an indefinite integral has no numeric value")
	}
	if sol.Steps[0].Statement != "integrate x^3-2*x^2+x+3 dx" {
		t.Errorf("state_integrand = %q", sol.Steps[0].Statement)
	}
	last := sol.Steps[len(sol.Steps)-1]
	if last.Operation != "add_integration_constant" {
		t.Errorf("final operation = %q, want add_integration_constant", last.Operation)
	}
}

func TestPowerRuleAntiderivative_NoClosedForm(t *testing.T) {
	s := testSolver()
	_, err := s.powerRuleAntiderivative(context.Background(), integralProblem("sin(x^2)", nil))
	if err == nil {
		t.Fatal("expected no_closed_form")
	}
	if got := reasonOf(t, err); got != "no_closed_form" {
		t.Errorf("reason = %q, want no_closed_form", got)
	}
}

func TestAntiderivativeEvaluation_CubicOverInterval(t *testing.T) {
	s := testSolver()
	sol, err := s.antiderivativeEvaluation(context.Background(),
		integralProblem("x^3-2*x^2+x+3", &problem.BoundPair{Lower: "2", Upper: "5"}))
	if err != nil {
		t.Fatalf("antiderivativeEvaluation error: %v", err)
	}
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-93.75) > 1e-9 {
		t.Errorf("NumericValue = %v, want 93.75", sol.NumericValue)
	}
	if sol.Steps[0].Statement != "integrate x^3-2*x^2+x+3 dx from 2 to 5" {
		t.Errorf("state_integrand = %q", sol.Steps[0].Statement)
	}
}

func TestAntiderivativeEvaluation_SymbolicBounds(t *testing.T) {
	s := testSolver()
	sol, err := s.antiderivativeEvaluation(context.Background(),
		integralProblem("sin(x)", &problem.BoundPair{Lower: "0", Upper: "pi"}))
	if err != nil {
		t.Fatalf("antiderivativeEvaluation error: %v", err)
	}
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-2) > 1e-9 {
		t.Errorf("NumericValue = %v, want 2", sol.NumericValue)
	}
}

func TestAntiderivativeEvaluation_Failures(t *testing.T) {
	tests := []struct {
		name   string
		p      problem.ParsedProblem
		reason string
	}{
		{"missing bounds", integralProblem("x^2", nil), "missing_bounds"},
		{"bad bounds", integralProblem("x^2", &problem.BoundPair{Lower: "two", Upper: "5"}), "unparseable_bounds"},
		{"no closed form", integralProblem("sin(x^2)", &problem.BoundPair{Lower: "0", Upper: "1"}), "no_closed_form"},
		{"domain violation", integralProblem("1/x", &problem.BoundPair{Lower: "-1", Upper: "1"}), "domain_violation"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.antiderivativeEvaluation(context.Background(), tt.p)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestSimpsonQuadrature_ExactForCubics(t *testing.T) {
	s := testSolver()
	sol, err := s.simpsonQuadrature(context.Background(),
		integralProblem("x^3-2*x^2+x+3", &problem.BoundPair{Lower: "2", Upper: "5"}))
	if err != nil {
		t.Fatalf("simpsonQuadrature error: %v", err)
	}
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-93.75) > 1e-9 {
		t.Errorf("NumericValue = %v, want 93.75", sol.NumericValue)
	}
}

func TestSimpsonQuadrature_HandlesNonElementaryIntegrand(t *testing.T) {
	s := testSolver()
	sol, err := s.simpsonQuadrature(context.Background(),
		integralProblem("exp(-1*x^2)", &problem.BoundPair{Lower: "0", Upper: "1"}))
	if err != nil {
		t.Fatalf("simpsonQuadrature error: %v", err)
	}
	// erf(1)*sqrt(pi)/2
	want := 0.7468241328124271
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-want) > 1e-8 {
		t.Errorf("NumericValue = %v, want %v", sol.NumericValue, want)
	}
}

func TestSimpsonQuadrature_ReversedBoundsFlipSign(t *testing.T) {
	s := testSolver()
	sol, err := s.simpsonQuadrature(context.Background(),
		integralProblem("x^2", &problem.BoundPair{Lower: "3", Upper: "0"}))
	if err != nil {
		t.Fatalf("simpsonQuadrature error: %v", err)
	}
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue+9) > 1e-9 {
		t.Errorf("NumericValue = %v, want -9", sol.NumericValue)
	}
}

func TestSimpsonQuadrature_EqualBounds(t *testing.T) {
	s := testSolver()
	sol, err := s.simpsonQuadrature(context.Background(),
		integralProblem("x^2", &problem.BoundPair{Lower: "2", Upper: "2"}))
	if err != nil {
		t.Fatalf("simpsonQuadrature error: %v", err)
	}
	if sol.Result != "0" {
		t.Errorf("Result = %q, want \"0\"", sol.Result)
	}
}
