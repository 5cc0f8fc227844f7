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
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Node {
	t.Helper()
	n, err := Parse(s)
	require.NoError(t, err)
	return n
}

func TestEval_Basics(t *testing.T) {
	tests := []struct {
		name  string
		input string
		vars  map[string]float64
		want  float64
	}{
		{"linear", "2*x+3", map[string]float64{"x": 2}, 7},
		{"quadratic root two", "x^2-5*x+6", map[string]float64{"x": 2}, 0},
		{"quadratic root three", "x^2-5*x+6", map[string]float64{"x": 3}, 0},
		{"pi constant", "2*pi", nil, 2 * math.Pi},
		{"e constant", "log(e)", nil, 1},
		{"nested call", "sqrt(abs(-16))", nil, 4},
		{"precedence", "2+3*4^2", nil, 50},
		{"unary before power", "-2^2", nil, -4},
		{"trig identity", "sin(pi/6)", nil, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Eval(mustParse(t, tt.input), tt.vars)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestEval_DomainErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"sqrt of negative", "sqrt(-1)"},
		{"log of zero", "log(0)"},
		{"log of negative", "log(-5)"},
		{"division by zero", "1/0"},
		{"asin out of range", "asin(2)"},
		{"imaginary unit", "i+1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Eval(mustParse(t, tt.input), nil)
			require.Error(t, err)
			assert.True(t, IsDomainError(err), "want DomainError, got %v", err)
		})
	}
}

func TestEval_UnboundVariable(t *testing.T) {
	_, err := Eval(mustParse(t, "a*x"), map[string]float64{"x": 1})
	require.Error(t, err)

	var ue *UnboundVariableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "a", ue.Name)
}

func TestEvalComplex_ImaginaryUnit(t *testing.T) {
	v, err := EvalComplex(mustParse(t, "i^2"), nil)
	require.NoError(t, err)
	assert.InDelta(t, -1, real(v), 1e-12)
	assert.InDelta(t, 0, imag(v), 1e-12)
}

func TestEvalComplex_SqrtOfNegative(t *testing.T) {
	v, err := EvalComplex(mustParse(t, "sqrt(-4)"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, real(v), 1e-12)
	assert.InDelta(t, 2, imag(v), 1e-12)
}

func TestEvalComplex_ConjugateRootSubstitution(t *testing.T) {
	// x^2 + 1 = 0 has roots ±i; both must substitute to zero.
	n := mustParse(t, "x^2+1")

	for _, root := range []complex128{complex(0, 1), complex(0, -1)} {
		v, err := EvalComplex(n, map[string]complex128{"x": root})
		require.NoError(t, err)
		assert.Less(t, cmplx.Abs(v), 1e-9)
	}
}

func TestEvalComplex_MatchesRealEvalOnReals(t *testing.T) {
	n := mustParse(t, "x^3-2*x^2+x+3")

	for _, x := range []float64{-2, -0.5, 0, 1.25, 4} {
		rv, err := Eval(n, map[string]float64{"x": x})
		require.NoError(t, err)

		cv, err := EvalComplex(n, map[string]complex128{"x": complex(x, 0)})
		require.NoError(t, err)

		assert.InDelta(t, rv, real(cv), 1e-9)
		assert.InDelta(t, 0, imag(cv), 1e-9)
	}
}
