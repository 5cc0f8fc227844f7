// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expr implements the small expression language the solver and
// verifier share: parsing canonical problem text into an AST, real and
// complex evaluation, symbolic differentiation, and dense polynomial
// coefficient extraction.
//
// The language is intentionally closed. Numbers, variables, the five
// arithmetic operators (+ - * / ^), unary minus, a fixed function
// vocabulary, and the constants pi and e. Anything outside that set is a
// parse error, which upstream normalization reports as invalid input
// instead of guessing.
package expr

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// AST nodes
// =============================================================================

// Node is one vertex of an expression tree. Trees are immutable after
// construction; transformations such as Diff and Simplify return new trees.
type Node interface {
	// String renders the canonical text form with minimal parentheses.
	String() string

	node()
}

// Num is a numeric literal.
type Num struct {
	Value float64
}

// Var is a variable or named constant reference.
type Var struct {
	Name string
}

// Unary is a prefix operation. The only operator is '-'.
type Unary struct {
	Op byte
	X  Node
}

// Binary is an infix operation: one of '+', '-', '*', '/', '^'.
type Binary struct {
	Op   byte
	X, Y Node
}

// Call is a function application from the fixed vocabulary.
type Call struct {
	Fn   string
	Args []Node
}

func (Num) node()    {}
func (Var) node()    {}
func (Unary) node()  {}
func (Binary) node() {}
func (Call) node()   {}

// Constructors keep call sites terse in the differentiation rules.

func num(v float64) Node          { return Num{Value: v} }
func add(x, y Node) Node          { return Binary{Op: '+', X: x, Y: y} }
func sub(x, y Node) Node          { return Binary{Op: '-', X: x, Y: y} }
func mul(x, y Node) Node          { return Binary{Op: '*', X: x, Y: y} }
func div(x, y Node) Node          { return Binary{Op: '/', X: x, Y: y} }
func pow(x, y Node) Node          { return Binary{Op: '^', X: x, Y: y} }
func neg(x Node) Node             { return Unary{Op: '-', X: x} }
func call(fn string, x Node) Node { return Call{Fn: fn, Args: []Node{x}} }

// =============================================================================
// Rendering
// =============================================================================

// Operator precedence for parenthesization. Higher binds tighter.
func opPrec(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/':
		return 2
	case '^':
		return 3
	}
	return 0
}

func nodePrec(n Node) int {
	switch t := n.(type) {
	case Binary:
		return opPrec(t.Op)
	case Unary:
		return 1
	default:
		return 4
	}
}

func (n Num) String() string {
	if n.Value < 0 {
		// Negative literals render through Unary at parse time; a bare
		// negative Num can still arise from constant folding.
		return "-" + FormatFloat(-n.Value)
	}
	return FormatFloat(n.Value)
}

func (n Var) String() string { return n.Name }

func (n Unary) String() string {
	inner := n.X.String()
	if nodePrec(n.X) < 2 {
		inner = "(" + inner + ")"
	}
	return "-" + inner
}

func (n Binary) String() string {
	prec := opPrec(n.Op)

	left := n.X.String()
	if nodePrec(n.X) < prec {
		left = "(" + left + ")"
	}
	// '^' is right-associative; '-' and '/' are left-associative, so the
	// right operand needs parens at equal precedence too.
	right := n.Y.String()
	rightPrec := nodePrec(n.Y)
	switch n.Op {
	case '^':
		if rightPrec < prec {
			right = "(" + right + ")"
		}
		if nodePrec(n.X) <= prec {
			left = "(" + n.X.String() + ")"
		}
	case '-', '/':
		if rightPrec <= prec {
			right = "(" + right + ")"
		}
	default:
		if rightPrec < prec {
			right = "(" + right + ")"
		}
	}
	return left + string(n.Op) + right
}

func (n Call) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return n.Fn + "(" + strings.Join(parts, ",") + ")"
}

// FormatFloat renders v without trailing zero noise: integers without a
// decimal point, everything else in the shortest round-trip form.
func FormatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	abs := math.Abs(v)
	if abs >= 1e-4 && abs < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// =============================================================================
// Inspection helpers
// =============================================================================

// Named constants of the vocabulary. These never appear in Variables output
// and evaluate without a binding.
var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// IsConstantName reports whether name is a vocabulary constant (or the
// imaginary unit, which only complex evaluation accepts).
func IsConstantName(name string) bool {
	if _, ok := constants[name]; ok {
		return true
	}
	return name == "i"
}

// Variables returns the sorted set of free variable names in n, excluding
// the vocabulary constants and the imaginary unit.
func Variables(n Node) []string {
	seen := map[string]bool{}
	collectVars(n, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectVars(n Node, seen map[string]bool) {
	switch t := n.(type) {
	case Var:
		if !IsConstantName(t.Name) {
			seen[t.Name] = true
		}
	case Unary:
		collectVars(t.X, seen)
	case Binary:
		collectVars(t.X, seen)
		collectVars(t.Y, seen)
	case Call:
		for _, a := range t.Args {
			collectVars(a, seen)
		}
	}
}

// ContainsVar reports whether variable name occurs free in n.
func ContainsVar(n Node, name string) bool {
	switch t := n.(type) {
	case Var:
		return t.Name == name
	case Unary:
		return ContainsVar(t.X, name)
	case Binary:
		return ContainsVar(t.X, name) || ContainsVar(t.Y, name)
	case Call:
		for _, a := range t.Args {
			if ContainsVar(a, name) {
				return true
			}
		}
	}
	return false
}

// Equal reports structural equality of two trees. Numeric literals compare
// by exact float equality; Equal is a syntactic check, not a mathematical
// equivalence test.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case Num:
		y, ok := b.(Num)
		return ok && x.Value == y.Value
	case Var:
		y, ok := b.(Var)
		return ok && x.Name == y.Name
	case Unary:
		y, ok := b.(Unary)
		return ok && x.Op == y.Op && Equal(x.X, y.X)
	case Binary:
		y, ok := b.(Binary)
		return ok && x.Op == y.Op && Equal(x.X, y.X) && Equal(x.Y, y.Y)
	case Call:
		y, ok := b.(Call)
		if !ok || x.Fn != y.Fn || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return false
}
