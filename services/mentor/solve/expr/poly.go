// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expr

import (
	"errors"
	"fmt"
	"math"
)

// =============================================================================
// Polynomial coefficient extraction
// =============================================================================

// maxPolyExponent bounds expansion of (poly)^n so adversarial input cannot
// allocate unbounded coefficient vectors.
const maxPolyExponent = 64

// NonPolynomialError reports that an expression is not a polynomial in the
// requested variable. Callers use it to fall through to numeric strategies.
type NonPolynomialError struct {
	Reason string
}

func (e *NonPolynomialError) Error() string {
	return fmt.Sprintf("not a polynomial: %s", e.Reason)
}

// IsNonPolynomial reports whether err is a NonPolynomialError.
func IsNonPolynomial(err error) bool {
	var pe *NonPolynomialError
	return errors.As(err, &pe)
}

// Coefficients extracts the dense coefficient vector of n as a polynomial
// in variable: out[i] is the coefficient of variable^i. Subtrees free of
// the variable must evaluate to constants; a remaining free variable,
// division by the variable, a variable exponent, or a function of the
// variable all yield NonPolynomialError.
func Coefficients(n Node, variable string) ([]float64, error) {
	p, err := toPoly(n, variable)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EquationCoefficients extracts the coefficients of lhs - rhs, the
// "everything on one side" form used to solve lhs = rhs. A nil rhs is
// treated as zero.
func EquationCoefficients(lhs, rhs Node, variable string) ([]float64, error) {
	if rhs == nil {
		return Coefficients(lhs, variable)
	}
	return Coefficients(sub(lhs, rhs), variable)
}

// Degree returns the polynomial degree after trimming trailing coefficients
// with magnitude below eps. The zero polynomial has degree 0.
func Degree(coeffs []float64, eps float64) int {
	for i := len(coeffs) - 1; i > 0; i-- {
		if math.Abs(coeffs[i]) > eps {
			return i
		}
	}
	return 0
}

func toPoly(n Node, v string) ([]float64, error) {
	switch t := n.(type) {
	case Num:
		return []float64{t.Value}, nil

	case Var:
		if t.Name == v {
			return []float64{0, 1}, nil
		}
		if c, ok := constants[t.Name]; ok {
			return []float64{c}, nil
		}
		return nil, &NonPolynomialError{Reason: fmt.Sprintf("free variable %q", t.Name)}

	case Unary:
		p, err := toPoly(t.X, v)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(p))
		for i, c := range p {
			out[i] = -c
		}
		return out, nil

	case Binary:
		switch t.Op {
		case '+', '-':
			px, err := toPoly(t.X, v)
			if err != nil {
				return nil, err
			}
			py, err := toPoly(t.Y, v)
			if err != nil {
				return nil, err
			}
			if t.Op == '+' {
				return polyAdd(px, py), nil
			}
			return polySub(px, py), nil

		case '*':
			px, err := toPoly(t.X, v)
			if err != nil {
				return nil, err
			}
			py, err := toPoly(t.Y, v)
			if err != nil {
				return nil, err
			}
			return polyMul(px, py), nil

		case '/':
			px, err := toPoly(t.X, v)
			if err != nil {
				return nil, err
			}
			py, err := toPoly(t.Y, v)
			if err != nil {
				return nil, err
			}
			if Degree(py, 0) != 0 {
				return nil, &NonPolynomialError{Reason: "division by an expression containing the variable"}
			}
			d := py[0]
			if d == 0 {
				return nil, &NonPolynomialError{Reason: "division by zero constant"}
			}
			out := make([]float64, len(px))
			for i, c := range px {
				out[i] = c / d
			}
			return out, nil

		case '^':
			if ContainsVar(t.Y, v) {
				return nil, &NonPolynomialError{Reason: "variable exponent"}
			}
			e, err := Eval(t.Y, nil)
			if err != nil {
				return nil, &NonPolynomialError{Reason: fmt.Sprintf("non-constant exponent: %v", err)}
			}
			rounded := math.Round(e)
			if math.Abs(e-rounded) > 1e-9 || rounded < 0 {
				return nil, &NonPolynomialError{Reason: fmt.Sprintf("exponent %s is not a non-negative integer", FormatFloat(e))}
			}
			if rounded > maxPolyExponent {
				return nil, &NonPolynomialError{Reason: fmt.Sprintf("exponent %d exceeds limit %d", int(rounded), maxPolyExponent)}
			}
			base, err := toPoly(t.X, v)
			if err != nil {
				return nil, err
			}
			return polyPow(base, int(rounded)), nil
		}
		return nil, &NonPolynomialError{Reason: fmt.Sprintf("operator %q", string(t.Op))}

	case Call:
		if ContainsVar(t, v) {
			return nil, &NonPolynomialError{Reason: fmt.Sprintf("function %s of the variable", t.Fn)}
		}
		c, err := Eval(t, nil)
		if err != nil {
			return nil, &NonPolynomialError{Reason: fmt.Sprintf("non-constant call: %v", err)}
		}
		return []float64{c}, nil
	}
	return nil, &NonPolynomialError{Reason: fmt.Sprintf("node %T", n)}
}

func polyAdd(a, b []float64) []float64 {
	out := make([]float64, maxInt(len(a), len(b)))
	copy(out, a)
	for i, c := range b {
		out[i] += c
	}
	return out
}

func polySub(a, b []float64) []float64 {
	out := make([]float64, maxInt(len(a), len(b)))
	copy(out, a)
	for i, c := range b {
		out[i] -= c
	}
	return out
}

func polyMul(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return []float64{0}
	}
	out := make([]float64, len(a)+len(b)-1)
	for i, ca := range a {
		if ca == 0 {
			continue
		}
		for j, cb := range b {
			out[i+j] += ca * cb
		}
	}
	return out
}

func polyPow(base []float64, n int) []float64 {
	out := []float64{1}
	for i := 0; i < n; i++ {
		out = polyMul(out, base)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// =============================================================================
// Substitution
// =============================================================================

// Substitute returns a copy of n with every bound variable replaced by its
// numeric literal. Unbound variables pass through untouched. Applied before
// coefficient extraction so stated givens ("where a = 3") become constants.
func Substitute(n Node, vars map[string]float64) Node {
	if len(vars) == 0 {
		return n
	}
	switch t := n.(type) {
	case Num:
		return n
	case Var:
		if v, ok := vars[t.Name]; ok {
			return Num{Value: v}
		}
		return n
	case Unary:
		return Unary{Op: t.Op, X: Substitute(t.X, vars)}
	case Binary:
		return Binary{Op: t.Op, X: Substitute(t.X, vars), Y: Substitute(t.Y, vars)}
	case Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = Substitute(a, vars)
		}
		return Call{Fn: t.Fn, Args: args}
	}
	return n
}
