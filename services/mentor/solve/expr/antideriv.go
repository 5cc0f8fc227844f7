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

import "fmt"

// =============================================================================
// Symbolic antiderivatives
// =============================================================================

// Antiderivative returns F with dF/d(variable) == n, up to a constant, for
// the vocabulary subset with elementary closed forms: polynomial terms,
// reciprocals, and calls whose inner argument is linear in the variable,
// combined linearly. Anything outside the subset is an error; callers fall
// back to quadrature or guided integration.
func Antiderivative(n Node, variable string) (Node, error) {
	F, err := antideriv(Simplify(n), variable)
	if err != nil {
		return nil, err
	}
	return Simplify(F), nil
}

func antideriv(n Node, v string) (Node, error) {
	if !ContainsVar(n, v) {
		return mul(n, Var{Name: v}), nil
	}

	switch t := n.(type) {
	case Var:
		// The constant case is handled above, so t.Name == v here.
		return div(pow(t, num(2)), num(2)), nil

	case Unary:
		F, err := antideriv(t.X, v)
		if err != nil {
			return nil, err
		}
		return neg(F), nil

	case Binary:
		switch t.Op {
		case '+', '-':
			Fx, err := antideriv(t.X, v)
			if err != nil {
				return nil, err
			}
			Fy, err := antideriv(t.Y, v)
			if err != nil {
				return nil, err
			}
			return Binary{Op: t.Op, X: Fx, Y: Fy}, nil

		case '*':
			if !ContainsVar(t.X, v) {
				Fy, err := antideriv(t.Y, v)
				if err != nil {
					return nil, err
				}
				return mul(t.X, Fy), nil
			}
			if !ContainsVar(t.Y, v) {
				Fx, err := antideriv(t.X, v)
				if err != nil {
					return nil, err
				}
				return mul(Fx, t.Y), nil
			}
			return nil, fmt.Errorf("no closed form for a general product")

		case '/':
			if !ContainsVar(t.Y, v) {
				Fx, err := antideriv(t.X, v)
				if err != nil {
					return nil, err
				}
				return div(Fx, t.Y), nil
			}
			if !ContainsVar(t.X, v) {
				// c/u^n integrates as c*u^(-n); c/u as c*log(u)/a.
				if py, ok := t.Y.(Binary); ok && py.Op == '^' {
					if ny, isNum := py.Y.(Num); isNum {
						F, err := antiderivPower(Binary{Op: '^', X: py.X, Y: Num{Value: -ny.Value}}, v)
						if err != nil {
							return nil, err
						}
						return mul(t.X, F), nil
					}
				}
				if a, ok := linearSlope(t.Y, v); ok {
					return div(mul(t.X, call("log", t.Y)), num(a)), nil
				}
			}
			return nil, fmt.Errorf("no closed form for quotient %q", t.String())

		case '^':
			return antiderivPower(t, v)
		}
		return nil, fmt.Errorf("unknown operator %q", string(t.Op))

	case Call:
		return antiderivCall(t, v)
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

// antiderivPower handles u^c for u linear and a^u for u linear.
func antiderivPower(t Binary, v string) (Node, error) {
	baseHas := ContainsVar(t.X, v)
	expHas := ContainsVar(t.Y, v)

	switch {
	case baseHas && !expHas:
		exp, ok := t.Y.(Num)
		if !ok {
			return nil, fmt.Errorf("symbolic exponent %q", t.Y.String())
		}
		a, linear := linearSlope(t.X, v)
		if !linear {
			return nil, fmt.Errorf("base %q is not linear in %s", t.X.String(), v)
		}
		if exp.Value == -1 {
			return div(call("log", t.X), num(a)), nil
		}
		next := exp.Value + 1
		return div(pow(t.X, num(next)), mul(num(next), num(a))), nil

	case !baseHas && expHas:
		a, linear := linearSlope(t.Y, v)
		if !linear {
			return nil, fmt.Errorf("exponent %q is not linear in %s", t.Y.String(), v)
		}
		return div(t, mul(num(a), call("log", t.X))), nil

	default:
		return nil, fmt.Errorf("no closed form for %q", t.String())
	}
}

func antiderivCall(t Call, v string) (Node, error) {
	if len(t.Args) != 1 {
		return nil, fmt.Errorf("function %q arity %d unsupported", t.Fn, len(t.Args))
	}
	u := t.Args[0]
	a, linear := linearSlope(u, v)
	if !linear {
		return nil, fmt.Errorf("argument of %s is not linear in %s", t.Fn, v)
	}

	switch t.Fn {
	case "sin":
		return div(neg(call("cos", u)), num(a)), nil
	case "cos":
		return div(call("sin", u), num(a)), nil
	case "exp":
		return div(call("exp", u), num(a)), nil
	case "tan":
		return neg(div(call("log", call("cos", u)), num(a))), nil
	case "log":
		return div(sub(mul(u, call("log", u)), u), num(a)), nil
	case "sqrt":
		return div(mul(num(2), pow(u, num(1.5))), mul(num(3), num(a))), nil
	}
	return nil, fmt.Errorf("no antiderivative rule for %q", t.Fn)
}

// linearSlope reports the slope a when u == a*v + b with a nonzero.
func linearSlope(u Node, v string) (float64, bool) {
	coeffs, err := Coefficients(u, v)
	if err != nil || Degree(coeffs, 1e-12) != 1 {
		return 0, false
	}
	return coeffs[1], true
}
