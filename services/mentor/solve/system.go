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

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// gaussian_elimination
// =============================================================================

// gaussianElimination solves a square linear system by forward elimination
// with partial pivoting and back substitution, emitting each row operation
// as a step. A pivot numerically at zero reports singular_system, which
// covers both dependent and inconsistent inputs.
func (s *Solver) gaussianElimination(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyGaussianElimination

	if len(p.Equations) < 2 {
		return problem.Solution{}, solverErr(strategy, "not_a_system", nil)
	}

	type equation struct {
		lhs, rhs expr.Node
	}
	eqs := make([]equation, 0, len(p.Equations))
	varSet := map[string]bool{}
	texts := make([]string, 0, len(p.Equations))
	for _, raw := range p.Equations {
		lhs, rhs, err := expr.ParseEquation(raw)
		if err != nil {
			return problem.Solution{}, solverErr(strategy, "unparseable_equation", err)
		}
		eqs = append(eqs, equation{lhs: lhs, rhs: rhs})
		texts = append(texts, equationText(lhs, rhs))
		for _, n := range []expr.Node{lhs, rhs} {
			if n == nil {
				continue
			}
			for _, v := range expr.Variables(n) {
				if _, bound := p.GivenValues[v]; !bound {
					varSet[v] = true
				}
			}
		}
	}

	vars := make([]string, 0, len(varSet))
	for v := range varSet {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	n := len(vars)
	if n < 2 {
		return problem.Solution{}, solverErr(strategy, "not_a_system", nil)
	}
	if len(eqs) != n {
		return problem.Solution{}, solverErr(strategy, "non_square_system", nil)
	}

	data := make([]float64, 0, n*(n+1))
	for _, eq := range eqs {
		row, err := linearRow(eq.lhs, eq.rhs, vars, p.GivenValues)
		if err != nil {
			return problem.Solution{}, solverErr(strategy, "nonlinear_system", err)
		}
		data = append(data, row...)
	}
	aug := mat.NewDense(n, n+1, data)

	scale := 1.0
	for _, v := range data {
		if math.Abs(v) > scale {
			scale = math.Abs(v)
		}
	}

	s.log.Debug("augmented system",
		"variables", strings.Join(vars, ","),
		"matrix", fmt.Sprint(mat.Formatted(aug, mat.Prefix(""), mat.Squeeze())),
	)

	steps := []problem.SolutionStep{
		step(strings.Join(texts, "; "), "state_system"),
		step(augmentedText(aug), "build_augmented_matrix"),
	}

	for k := 0; k < n; k++ {
		pivot, pr := 0.0, k
		for r := k; r < n; r++ {
			if a := math.Abs(aug.At(r, k)); a > pivot {
				pivot, pr = a, r
			}
		}
		if pivot <= 1e-12*scale {
			return problem.Solution{}, solverErr(strategy, "singular_system", nil)
		}
		if pr != k {
			swapRows(aug, pr, k)
			steps = append(steps, step(
				fmt.Sprintf("swap r%d and r%d", k+1, pr+1), "swap_rows"))
		}
		for r := k + 1; r < n; r++ {
			factor := aug.At(r, k) / aug.At(k, k)
			if factor == 0 {
				continue
			}
			for c := k; c <= n; c++ {
				aug.Set(r, c, aug.At(r, c)-factor*aug.At(k, c))
			}
			steps = append(steps, step(
				fmt.Sprintf("r%d=r%d-(%s)*r%d", r+1, r+1, expr.FormatFloat(factor), k+1),
				"eliminate_below_pivot"))
		}
	}

	values := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := aug.At(i, n)
		for j := i + 1; j < n; j++ {
			sum -= aug.At(i, j) * values[j]
		}
		values[i] = snapInt(sum / aug.At(i, i))
		steps = append(steps, step(
			vars[i]+"="+expr.FormatFloat(values[i]), "back_substitute"))
	}

	parts := make([]string, n)
	for i, v := range vars {
		parts[i] = v + "=" + expr.FormatFloat(values[i])
	}
	result := strings.Join(parts, ", ")
	steps = append(steps, step(result, "state_solution"))

	return problem.Solution{Steps: steps, Result: result}, nil
}

// linearRow extracts one augmented row from lhs-rhs over vars.
//
// The form is probed by evaluation: the origin gives the constant, each unit
// vector gives that variable's coefficient, and probes at doubled and paired
// points reject quadratic and cross terms. Stated givens stay bound at their
// values throughout.
func linearRow(lhs, rhs expr.Node, vars []string, givens map[string]float64) ([]float64, error) {
	evalDiff := func(assign map[string]float64) (float64, error) {
		for k, v := range givens {
			if _, ok := assign[k]; !ok {
				assign[k] = v
			}
		}
		lv, err := expr.Eval(lhs, assign)
		if err != nil {
			return 0, err
		}
		rv := 0.0
		if rhs != nil {
			rv, err = expr.Eval(rhs, assign)
			if err != nil {
				return 0, err
			}
		}
		return lv - rv, nil
	}

	origin := func() map[string]float64 {
		m := make(map[string]float64, len(vars))
		for _, v := range vars {
			m[v] = 0
		}
		return m
	}

	f0, err := evalDiff(origin())
	if err != nil {
		return nil, err
	}

	n := len(vars)
	row := make([]float64, n+1)
	for i, v := range vars {
		at1 := origin()
		at1[v] = 1
		f1, err := evalDiff(at1)
		if err != nil {
			return nil, err
		}
		at2 := origin()
		at2[v] = 2
		f2, err := evalDiff(at2)
		if err != nil {
			return nil, err
		}
		coeff := f1 - f0
		if math.Abs(f2-f0-2*coeff) > 1e-9*(1+math.Abs(f2)) {
			return nil, fmt.Errorf("variable %s enters nonlinearly", v)
		}
		row[i] = coeff
	}

	// A cross term makes the paired probe disagree with additivity.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			at := origin()
			at[vars[i]] = 1
			at[vars[j]] = 1
			fij, err := evalDiff(at)
			if err != nil {
				return nil, err
			}
			if math.Abs(fij-f0-row[i]-row[j]) > 1e-9*(1+math.Abs(fij)) {
				return nil, fmt.Errorf("variables %s and %s interact nonlinearly",
					vars[i], vars[j])
			}
		}
	}

	row[n] = -f0
	return row, nil
}

func swapRows(m *mat.Dense, a, b int) {
	_, c := m.Dims()
	for j := 0; j < c; j++ {
		va, vb := m.At(a, j), m.At(b, j)
		m.Set(a, j, vb)
		m.Set(b, j, va)
	}
}

// augmentedText renders the augmented matrix one bracket pair per row:
// "[1 1 | 3] [1 -1 | 1]".
func augmentedText(aug *mat.Dense) string {
	r, c := aug.Dims()
	rows := make([]string, r)
	for i := 0; i < r; i++ {
		cells := make([]string, 0, c+1)
		for j := 0; j < c; j++ {
			if j == c-1 {
				cells = append(cells, "|")
			}
			cells = append(cells, expr.FormatFloat(aug.At(i, j)))
		}
		rows[i] = "[" + strings.Join(cells, " ") + "]"
	}
	return strings.Join(rows, " ")
}
