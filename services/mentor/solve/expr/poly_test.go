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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoefficients(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []float64
	}{
		{"quadratic", "x^2-5*x+6", []float64{6, -5, 1}},
		{"factored product", "(x+1)*(x-2)", []float64{-2, -1, 1}},
		{"linear", "2*x+3", []float64{3, 2}},
		{"constant", "42", []float64{42}},
		{"negated", "-(x^2-1)", []float64{1, 0, -1}},
		{"scaled by division", "(4*x^2+2*x)/2", []float64{0, 1, 2}},
		{"cubic", "x^3-2*x^2+x+3", []float64{3, 1, -2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coefficients(mustParse(t, tt.input), "x")
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-9, "coefficient of x^%d", i)
			}
		})
	}
}

func TestCoefficients_NonPolynomial(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"trig of variable", "sin(x)"},
		{"variable in denominator", "1/x"},
		{"variable exponent", "x^x"},
		{"fractional exponent", "x^2.5"},
		{"negative exponent", "x^-1"},
		{"free second variable", "a*x+b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coefficients(mustParse(t, tt.input), "x")
			require.Error(t, err)
			assert.True(t, IsNonPolynomial(err), "want NonPolynomialError, got %v", err)
		})
	}
}

func TestEquationCoefficients(t *testing.T) {
	lhs, rhs, err := ParseEquation("2*x+3=7")
	require.NoError(t, err)

	coeffs, err := EquationCoefficients(lhs, rhs, "x")
	require.NoError(t, err)
	require.Len(t, coeffs, 2)
	assert.InDelta(t, -4, coeffs[0], 1e-9)
	assert.InDelta(t, 2, coeffs[1], 1e-9)
}

func TestDegree(t *testing.T) {
	assert.Equal(t, 2, Degree([]float64{6, -5, 1}, 1e-12))
	assert.Equal(t, 0, Degree([]float64{3}, 1e-12))
	assert.Equal(t, 0, Degree([]float64{0}, 1e-12))
	assert.Equal(t, 0, Degree([]float64{3, 1e-15}, 1e-12))
	assert.Equal(t, 1, Degree([]float64{0, 2, 0, 0}, 1e-12))
}

func TestSubstitute_MakesGivensExtractable(t *testing.T) {
	n := mustParse(t, "a*x+b")

	bound := Substitute(n, map[string]float64{"a": 3, "b": 4})
	coeffs, err := Coefficients(bound, "x")
	require.NoError(t, err)
	require.Len(t, coeffs, 2)
	assert.InDelta(t, 4, coeffs[0], 1e-9)
	assert.InDelta(t, 3, coeffs[1], 1e-9)

	// The original tree is untouched.
	_, err = Coefficients(n, "x")
	require.Error(t, err)
}
