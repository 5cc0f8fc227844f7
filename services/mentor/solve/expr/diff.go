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
	"fmt"
	"math"
)

// =============================================================================
// Symbolic differentiation
// =============================================================================

// Diff returns d(n)/d(variable), simplified. Variables other than the
// differentiation variable are treated as constants. abs is the one
// vocabulary function without a derivative rule.
func Diff(n Node, variable string) (Node, error) {
	d, err := diff(n, variable)
	if err != nil {
		return nil, err
	}
	return Simplify(d), nil
}

func diff(n Node, v string) (Node, error) {
	switch t := n.(type) {
	case Num:
		return num(0), nil

	case Var:
		if t.Name == v {
			return num(1), nil
		}
		return num(0), nil

	case Unary:
		dx, err := diff(t.X, v)
		if err != nil {
			return nil, err
		}
		return neg(dx), nil

	case Binary:
		switch t.Op {
		case '+', '-':
			dx, err := diff(t.X, v)
			if err != nil {
				return nil, err
			}
			dy, err := diff(t.Y, v)
			if err != nil {
				return nil, err
			}
			return Binary{Op: t.Op, X: dx, Y: dy}, nil

		case '*':
			dx, err := diff(t.X, v)
			if err != nil {
				return nil, err
			}
			dy, err := diff(t.Y, v)
			if err != nil {
				return nil, err
			}
			return add(mul(dx, t.Y), mul(t.X, dy)), nil

		case '/':
			dx, err := diff(t.X, v)
			if err != nil {
				return nil, err
			}
			dy, err := diff(t.Y, v)
			if err != nil {
				return nil, err
			}
			return div(sub(mul(dx, t.Y), mul(t.X, dy)), pow(t.Y, num(2))), nil

		case '^':
			return diffPower(t, v)
		}
		return nil, fmt.Errorf("unknown operator %q", string(t.Op))

	case Call:
		return diffCall(t, v)
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

// diffPower handles the three power cases: constant exponent, constant
// base, and the fully general u^v.
func diffPower(t Binary, v string) (Node, error) {
	baseHas := ContainsVar(t.X, v)
	expHas := ContainsVar(t.Y, v)

	switch {
	case !baseHas && !expHas:
		return num(0), nil

	case baseHas && !expHas:
		// d(u^c) = c * u^(c-1) * u'
		du, err := diff(t.X, v)
		if err != nil {
			return nil, err
		}
		return mul(mul(t.Y, pow(t.X, sub(t.Y, num(1)))), du), nil

	case !baseHas && expHas:
		// d(a^v) = a^v * log(a) * v'
		dv, err := diff(t.Y, v)
		if err != nil {
			return nil, err
		}
		return mul(mul(pow(t.X, t.Y), call("log", t.X)), dv), nil

	default:
		// d(u^v) = u^v * (v' * log(u) + v * u' / u)
		du, err := diff(t.X, v)
		if err != nil {
			return nil, err
		}
		dv, err := diff(t.Y, v)
		if err != nil {
			return nil, err
		}
		inner := add(mul(dv, call("log", t.X)), div(mul(t.Y, du), t.X))
		return mul(pow(t.X, t.Y), inner), nil
	}
}

func diffCall(t Call, v string) (Node, error) {
	if len(t.Args) != 1 {
		return nil, fmt.Errorf("function %q arity %d unsupported", t.Fn, len(t.Args))
	}
	u := t.Args[0]
	du, err := diff(u, v)
	if err != nil {
		return nil, err
	}

	switch t.Fn {
	case "sqrt":
		return div(du, mul(num(2), call("sqrt", u))), nil
	case "exp":
		return mul(call("exp", u), du), nil
	case "log":
		return div(du, u), nil
	case "sin":
		return mul(call("cos", u), du), nil
	case "cos":
		return neg(mul(call("sin", u), du)), nil
	case "tan":
		return div(du, pow(call("cos", u), num(2))), nil
	case "asin":
		return div(du, call("sqrt", sub(num(1), pow(u, num(2))))), nil
	case "acos":
		return neg(div(du, call("sqrt", sub(num(1), pow(u, num(2)))))), nil
	case "atan":
		return div(du, add(num(1), pow(u, num(2)))), nil
	case "abs":
		return nil, fmt.Errorf("abs has no derivative rule")
	}
	return nil, fmt.Errorf("unknown function %q", t.Fn)
}

// =============================================================================
// Simplification
// =============================================================================

// Simplify applies constant folding and identity elimination bottom-up.
// It is a cleanup pass for generated trees, not a computer algebra system:
// no distribution, no term collection.
func Simplify(n Node) Node {
	switch t := n.(type) {
	case Num, Var:
		return n

	case Unary:
		x := Simplify(t.X)
		if nx, ok := x.(Num); ok {
			return Num{Value: -nx.Value}
		}
		if ux, ok := x.(Unary); ok && ux.Op == '-' {
			return ux.X
		}
		return Unary{Op: t.Op, X: x}

	case Binary:
		return simplifyBinary(t)

	case Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = Simplify(a)
		}
		return Call{Fn: t.Fn, Args: args}
	}
	return n
}

func simplifyBinary(t Binary) Node {
	x := Simplify(t.X)
	y := Simplify(t.Y)

	nx, xNum := x.(Num)
	ny, yNum := y.(Num)

	// Full constant folding, guarded against domain holes.
	if xNum && yNum {
		switch t.Op {
		case '+':
			return Num{Value: nx.Value + ny.Value}
		case '-':
			return Num{Value: nx.Value - ny.Value}
		case '*':
			return Num{Value: nx.Value * ny.Value}
		case '/':
			if ny.Value != 0 {
				return Num{Value: nx.Value / ny.Value}
			}
		case '^':
			r := math.Pow(nx.Value, ny.Value)
			if !math.IsNaN(r) && !math.IsInf(r, 0) {
				return Num{Value: r}
			}
		}
		return Binary{Op: t.Op, X: x, Y: y}
	}

	switch t.Op {
	case '+':
		if xNum && nx.Value == 0 {
			return y
		}
		if yNum && ny.Value == 0 {
			return x
		}
		// x + (-y) reads better as x - y.
		if uy, ok := y.(Unary); ok && uy.Op == '-' {
			return Binary{Op: '-', X: x, Y: uy.X}
		}
	case '-':
		if yNum && ny.Value == 0 {
			return x
		}
		if xNum && nx.Value == 0 {
			return Simplify(Unary{Op: '-', X: y})
		}
	case '*':
		if xNum {
			switch nx.Value {
			case 0:
				return Num{Value: 0}
			case 1:
				return y
			case -1:
				return Simplify(Unary{Op: '-', X: y})
			}
		}
		if yNum {
			switch ny.Value {
			case 0:
				return Num{Value: 0}
			case 1:
				return x
			case -1:
				return Simplify(Unary{Op: '-', X: x})
			}
		}
	case '/':
		if yNum && ny.Value == 1 {
			return x
		}
		if xNum && nx.Value == 0 {
			return Num{Value: 0}
		}
	case '^':
		if yNum {
			switch ny.Value {
			case 1:
				return x
			case 0:
				return Num{Value: 1}
			}
		}
		if xNum && nx.Value == 1 {
			return Num{Value: 1}
		}
	}
	return Binary{Op: t.Op, X: x, Y: y}
}
