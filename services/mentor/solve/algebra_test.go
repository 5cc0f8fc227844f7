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
	"reflect"
	"testing"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

func TestLinearIsolation_SolvesAndShowsWork(t *testing.T) {
	s := testSolver()
	sol, err := s.linearIsolation(context.Background(), equationProblem("2*x+3=11"))
	if err != nil {
		t.Fatalf("linearIsolation error: %v", err)
	}

	if sol.Result != "x=4" {
		t.Errorf("Result = %q, want \"x=4\"", sol.Result)
	}
	if sol.NumericValue == nil || *sol.NumericValue != 4 {
		t.Errorf("NumericValue = %v, want 4", sol.NumericValue)
	}
	if len(sol.Roots) != 1 || sol.Roots[0].Re != 4 || sol.Roots[0].Multiplicity != 1 {
		t.Errorf("Roots = %+v, want a single simple root at 4", sol.Roots)
	}

	wantOps := []string{"state_equation", "collect_terms", "isolate_variable", "divide_both_sides"}
	if got := operations(sol); !reflect.DeepEqual(got, wantOps) {
		t.Errorf("operations = %v, want %v", got, wantOps)
	}
	wantStatements := []string{"2*x+3=11", "2*x-8=0", "2*x=8", "x=4"}
	for i, want := range wantStatements {
		if sol.Steps[i].Statement != want {
			t.Errorf("step %d statement = %q, want %q", i, sol.Steps[i].Statement, want)
		}
	}
	for i, st := range sol.Steps {
		if st.Justification != "" {
			t.Errorf("step %d carries a justification %q; the solver must leave them empty", i, st.Justification)
		}
	}
}

func TestLinearIsolation_SubstitutesGivens(t *testing.T) {
	s := testSolver()
	p := equationProblem("a*x=12")
	p.GivenValues = map[string]float64{"a": 3}

	sol, err := s.linearIsolation(context.Background(), p)
	if err != nil {
		t.Fatalf("linearIsolation error: %v", err)
	}
	if sol.Result != "x=4" {
		t.Errorf("Result = %q, want \"x=4\"", sol.Result)
	}
	if sol.Steps[0].Statement != "3*x=12" {
		t.Errorf("state_equation = %q, want the given substituted in", sol.Steps[0].Statement)
	}
}

func TestLinearIsolation_Failures(t *testing.T) {
	tests := []struct {
		name   string
		p      problem.ParsedProblem
		reason string
	}{
		{"no equation", problem.ParsedProblem{Text: "solve for x"}, "no_equation"},
		{"unparseable", equationProblem("2*x+=11"), "unparseable_equation"},
		{"two unknowns", equationProblem("x+y=3"), "ambiguous_target"},
		{"quadratic", equationProblem("x^2=4"), "degree_mismatch"},
		{"unknown cancels out", equationProblem("x+1=x+3"), "degree_mismatch"},
		{"not polynomial", equationProblem("sin(x)=0"), "not_polynomial"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.linearIsolation(context.Background(), tt.p)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestQuadraticFormula_TwoRealRoots(t *testing.T) {
	s := testSolver()
	sol, err := s.quadraticFormula(context.Background(), equationProblem("x^2-5*x+6=0"))
	if err != nil {
		t.Fatalf("quadraticFormula error: %v", err)
	}

	if sol.Result != "x=2, x=3" {
		t.Errorf("Result = %q, want \"x=2, x=3\"", sol.Result)
	}
	wantRoots := []problem.Root{
		{Re: 2, Multiplicity: 1},
		{Re: 3, Multiplicity: 1},
	}
	if !reflect.DeepEqual(sol.Roots, wantRoots) {
		t.Errorf("Roots = %+v, want %+v", sol.Roots, wantRoots)
	}
	if sol.NumericValue != nil {
		t.Errorf("NumericValue = %v, want nil for two roots", *sol.NumericValue)
	}

	wantOps := []string{
		"state_equation", "collect_terms", "identify_coefficients",
		"compute_discriminant", "apply_quadratic_formula", "extract_roots",
	}
	if got := operations(sol); !reflect.DeepEqual(got, wantOps) {
		t.Errorf("operations = %v, want %v", got, wantOps)
	}
	if sol.Steps[2].Statement != "a=1, b=-5, c=6" {
		t.Errorf("identify_coefficients = %q", sol.Steps[2].Statement)
	}
	if sol.Steps[3].Statement != "discriminant=(-5)^2-4*(1)*(6)=1" {
		t.Errorf("compute_discriminant = %q", sol.Steps[3].Statement)
	}
	if sol.Steps[4].Statement != "x=(5+-sqrt(1))/(2)" {
		t.Errorf("apply_quadratic_formula = %q", sol.Steps[4].Statement)
	}
}

func TestQuadraticFormula_RepeatedRoot(t *testing.T) {
	s := testSolver()
	sol, err := s.quadraticFormula(context.Background(), equationProblem("x^2-4*x+4=0"))
	if err != nil {
		t.Fatalf("quadraticFormula error: %v", err)
	}
	if sol.Result != "x=2" {
		t.Errorf("Result = %q, want \"x=2\"", sol.Result)
	}
	if len(sol.Roots) != 1 || sol.Roots[0].Re != 2 || sol.Roots[0].Multiplicity != 2 {
		t.Errorf("Roots = %+v, want one root at 2 with multiplicity 2", sol.Roots)
	}
	if sol.NumericValue == nil || *sol.NumericValue != 2 {
		t.Errorf("NumericValue = %v, want 2", sol.NumericValue)
	}
}

func TestQuadraticFormula_ComplexConjugates(t *testing.T) {
	s := testSolver()
	sol, err := s.quadraticFormula(context.Background(), equationProblem("x^2+1=0"))
	if err != nil {
		t.Fatalf("quadraticFormula error: %v", err)
	}
	if sol.Result != "x=i, x=-i" {
		t.Errorf("Result = %q, want \"x=i, x=-i\"", sol.Result)
	}
	wantRoots := []problem.Root{
		{Re: 0, Im: 1, Multiplicity: 1},
		{Re: 0, Im: -1, Multiplicity: 1},
	}
	if !reflect.DeepEqual(sol.Roots, wantRoots) {
		t.Errorf("Roots = %+v, want the conjugate pair with +i first", sol.Roots)
	}
	if sol.Roots[0].IsReal() {
		t.Error("complex root reported as real")
	}
}

func TestFactorRoots_Cubic(t *testing.T) {
	s := testSolver()
	sol, err := s.factorRoots(context.Background(), equationProblem("x^3-6*x^2+11*x-6=0"))
	if err != nil {
		t.Fatalf("factorRoots error: %v", err)
	}

	if sol.Result != "x=1, x=2, x=3" {
		t.Errorf("Result = %q, want \"x=1, x=2, x=3\"", sol.Result)
	}
	candidateListed := false
	for _, st := range sol.Steps {
		if st.Operation == "list_rational_candidates" {
			candidateListed = true
			if st.Statement != "candidate roots: +-1, +-2, +-3, +-6" {
				t.Errorf("candidate statement = %q", st.Statement)
			}
		}
	}
	if !candidateListed {
		t.Error("no list_rational_candidates step")
	}
}

func TestFactorRoots_ZeroConstantFactorsUnknownOut(t *testing.T) {
	s := testSolver()
	sol, err := s.factorRoots(context.Background(), equationProblem("x^3-4*x=0"))
	if err != nil {
		t.Fatalf("factorRoots error: %v", err)
	}
	if sol.Result != "x=-2, x=0, x=2" {
		t.Errorf("Result = %q, want \"x=-2, x=0, x=2\"", sol.Result)
	}
	if sol.Steps[2].Statement != "x*(x^2-4)=0" || sol.Steps[2].Operation != "factor_out_root" {
		t.Errorf("factor step = %+v, want x*(x^2-4)=0 under factor_out_root", sol.Steps[2])
	}
}

func TestFactorRoots_Multiplicity(t *testing.T) {
	s := testSolver()
	sol, err := s.factorRoots(context.Background(), equationProblem("x^4-2*x^3+x^2=0"))
	if err != nil {
		t.Fatalf("factorRoots error: %v", err)
	}
	if sol.Result != "x=0, x=1" {
		t.Errorf("Result = %q, want \"x=0, x=1\"", sol.Result)
	}
	wantRoots := []problem.Root{
		{Re: 0, Multiplicity: 2},
		{Re: 1, Multiplicity: 2},
	}
	if !reflect.DeepEqual(sol.Roots, wantRoots) {
		t.Errorf("Roots = %+v, want both double roots", sol.Roots)
	}
}

func TestFactorRoots_Failures(t *testing.T) {
	tests := []struct {
		name   string
		eq     string
		reason string
	}{
		{"quadratic input", "x^2-1=0", "degree_mismatch"},
		{"no rational root", "x^3-2=0", "irreducible_over_rationals"},
		{"fractional coefficients", "x^3-0.5=0", "non_integer_coefficients"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.factorRoots(context.Background(), equationProblem(tt.eq))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestNumericRootScan_TranscendentalRoot(t *testing.T) {
	s := testSolver()
	sol, err := s.numericRootScan(context.Background(), equationProblem("exp(x)=3"))
	if err != nil {
		t.Fatalf("numericRootScan error: %v", err)
	}
	if len(sol.Roots) != 1 {
		t.Fatalf("Roots = %+v, want exactly one", sol.Roots)
	}
	if got := sol.Roots[0].Re; math.Abs(got-math.Log(3)) > 1e-9 {
		t.Errorf("root = %v, want ln 3 = %v", got, math.Log(3))
	}
	if sol.NumericValue == nil {
		t.Error("NumericValue is nil for a single root")
	}
}

func TestNumericRootScan_SymmetricRootsSnapToIntegers(t *testing.T) {
	s := testSolver()
	sol, err := s.numericRootScan(context.Background(), equationProblem("x^2=4"))
	if err != nil {
		t.Fatalf("numericRootScan error: %v", err)
	}
	if sol.Result != "x=-2, x=2" {
		t.Errorf("Result = %q, want \"x=-2, x=2\"", sol.Result)
	}
	if sol.NumericValue != nil {
		t.Error("NumericValue must stay nil for multiple roots")
	}
}

func TestNumericRootScan_Failures(t *testing.T) {
	tests := []struct {
		name   string
		eq     string
		reason string
	}{
		{"no real roots", "x^2+1=0", "no_roots_in_window"},
		{"identity", "x=x", "identity_equation"},
		{"empty domain", "sqrt(-1-x^2)=1", "domain_empty"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.numericRootScan(context.Background(), equationProblem(tt.eq))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestNumericRootScan_CancelledContext(t *testing.T) {
	s := testSolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.numericRootScan(ctx, equationProblem("x^2=4"))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if got := reasonOf(t, err); got != "timeout" {
		t.Errorf("reason = %q, want timeout", got)
	}
}
