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
	"math/cmplx"
)

// =============================================================================
// Evaluation errors
// =============================================================================

// DomainError reports a real-domain violation during evaluation: square
// root of a negative, logarithm of a non-positive, division by zero, or an
// out-of-range inverse trig argument. The verifier's domain check relies on
// receiving this type rather than a NaN.
type DomainError struct {
	Op     string
	Detail string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain violation in %s: %s", e.Op, e.Detail)
}

// IsDomainError reports whether err is a DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// UnboundVariableError reports a free variable with no binding supplied.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable %q", e.Name)
}

// =============================================================================
// Real evaluation
// =============================================================================

// Eval evaluates n over the reals with the given variable bindings. The
// vocabulary constants pi and e need no binding. Domain violations return
// *DomainError; free variables without bindings return
// *UnboundVariableError.
func Eval(n Node, vars map[string]float64) (float64, error) {
	switch t := n.(type) {
	case Num:
		return t.Value, nil

	case Var:
		if v, ok := vars[t.Name]; ok {
			return v, nil
		}
		if v, ok := constants[t.Name]; ok {
			return v, nil
		}
		if t.Name == "i" {
			return 0, &DomainError{Op: "i", Detail: "imaginary unit in real evaluation"}
		}
		return 0, &UnboundVariableError{Name: t.Name}

	case Unary:
		v, err := Eval(t.X, vars)
		if err != nil {
			return 0, err
		}
		return -v, nil

	case Binary:
		x, err := Eval(t.X, vars)
		if err != nil {
			return 0, err
		}
		y, err := Eval(t.Y, vars)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case '+':
			return x + y, nil
		case '-':
			return x - y, nil
		case '*':
			return x * y, nil
		case '/':
			if y == 0 {
				return 0, &DomainError{Op: "/", Detail: "division by zero"}
			}
			return x / y, nil
		case '^':
			r := math.Pow(x, y)
			if math.IsNaN(r) {
				return 0, &DomainError{Op: "^", Detail: fmt.Sprintf("%s^%s undefined over the reals", FormatFloat(x), FormatFloat(y))}
			}
			return r, nil
		}
		return 0, fmt.Errorf("unknown operator %q", string(t.Op))

	case Call:
		if len(t.Args) != 1 {
			return 0, fmt.Errorf("function %q arity %d unsupported", t.Fn, len(t.Args))
		}
		x, err := Eval(t.Args[0], vars)
		if err != nil {
			return 0, err
		}
		return evalFunc(t.Fn, x)
	}
	return 0, fmt.Errorf("unknown node %T", n)
}

func evalFunc(fn string, x float64) (float64, error) {
	switch fn {
	case "sqrt":
		if x < 0 {
			return 0, &DomainError{Op: "sqrt", Detail: fmt.Sprintf("sqrt(%s) over the reals", FormatFloat(x))}
		}
		return math.Sqrt(x), nil
	case "abs":
		return math.Abs(x), nil
	case "exp":
		return math.Exp(x), nil
	case "log":
		if x <= 0 {
			return 0, &DomainError{Op: "log", Detail: fmt.Sprintf("log(%s) over the reals", FormatFloat(x))}
		}
		return math.Log(x), nil
	case "sin":
		return math.Sin(x), nil
	case "cos":
		return math.Cos(x), nil
	case "tan":
		return math.Tan(x), nil
	case "asin":
		if x < -1 || x > 1 {
			return 0, &DomainError{Op: "asin", Detail: fmt.Sprintf("asin(%s) outside [-1,1]", FormatFloat(x))}
		}
		return math.Asin(x), nil
	case "acos":
		if x < -1 || x > 1 {
			return 0, &DomainError{Op: "acos", Detail: fmt.Sprintf("acos(%s) outside [-1,1]", FormatFloat(x))}
		}
		return math.Acos(x), nil
	case "atan":
		return math.Atan(x), nil
	}
	return 0, fmt.Errorf("unknown function %q", fn)
}

// =============================================================================
// Complex evaluation
// =============================================================================

// EvalComplex evaluates n over the complex numbers. The identifier "i" is
// the imaginary unit; sqrt and log of negatives succeed here. Used for
// substituting complex conjugate roots back into their source equation.
func EvalComplex(n Node, vars map[string]complex128) (complex128, error) {
	switch t := n.(type) {
	case Num:
		return complex(t.Value, 0), nil

	case Var:
		if v, ok := vars[t.Name]; ok {
			return v, nil
		}
		if v, ok := constants[t.Name]; ok {
			return complex(v, 0), nil
		}
		if t.Name == "i" {
			return complex(0, 1), nil
		}
		return 0, &UnboundVariableError{Name: t.Name}

	case Unary:
		v, err := EvalComplex(t.X, vars)
		if err != nil {
			return 0, err
		}
		return -v, nil

	case Binary:
		x, err := EvalComplex(t.X, vars)
		if err != nil {
			return 0, err
		}
		y, err := EvalComplex(t.Y, vars)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case '+':
			return x + y, nil
		case '-':
			return x - y, nil
		case '*':
			return x * y, nil
		case '/':
			if x == 0 && y == 0 {
				return 0, &DomainError{Op: "/", Detail: "0/0"}
			}
			if y == 0 {
				return 0, &DomainError{Op: "/", Detail: "division by zero"}
			}
			return x / y, nil
		case '^':
			return cmplx.Pow(x, y), nil
		}
		return 0, fmt.Errorf("unknown operator %q", string(t.Op))

	case Call:
		if len(t.Args) != 1 {
			return 0, fmt.Errorf("function %q arity %d unsupported", t.Fn, len(t.Args))
		}
		x, err := EvalComplex(t.Args[0], vars)
		if err != nil {
			return 0, err
		}
		switch t.Fn {
		case "sqrt":
			return cmplx.Sqrt(x), nil
		case "abs":
			return complex(cmplx.Abs(x), 0), nil
		case "exp":
			return cmplx.Exp(x), nil
		case "log":
			if x == 0 {
				return 0, &DomainError{Op: "log", Detail: "log(0)"}
			}
			return cmplx.Log(x), nil
		case "sin":
			return cmplx.Sin(x), nil
		case "cos":
			return cmplx.Cos(x), nil
		case "tan":
			return cmplx.Tan(x), nil
		case "asin":
			return cmplx.Asin(x), nil
		case "acos":
			return cmplx.Acos(x), nil
		case "atan":
			return cmplx.Atan(x), nil
		}
		return 0, fmt.Errorf("unknown function %q", t.Fn)
	}
	return 0, fmt.Errorf("unknown node %T", n)
}
