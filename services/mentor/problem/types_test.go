// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package problem

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedProblem_CloneIsDeep(t *testing.T) {
	orig := ParsedProblem{
		RawText:   "solve x^2 - 5x + 6 = 0",
		Text:      "x^2-5*x+6=0",
		Category:  CategoryAlgebra,
		Variables: []string{"x"},
		Equations: []string{"x^2-5*x+6=0"},
		Bounds:    &BoundPair{Lower: "2", Upper: "5"},
		GivenValues: map[string]float64{
			"a": 3,
		},
		Metadata: map[string]string{"notation": "ascii"},
	}

	cp := orig.Clone()
	cp.Variables[0] = "y"
	cp.Equations[0] = "changed"
	cp.Bounds.Lower = "0"
	cp.GivenValues["a"] = 99
	cp.Metadata["notation"] = "latex"

	assert.Equal(t, "x", orig.Variables[0])
	assert.Equal(t, "x^2-5*x+6=0", orig.Equations[0])
	assert.Equal(t, "2", orig.Bounds.Lower)
	assert.Equal(t, float64(3), orig.GivenValues["a"])
	assert.Equal(t, "ascii", orig.Metadata["notation"])
}

func TestParsedProblem_WithCategoryDoesNotMutateReceiver(t *testing.T) {
	orig := ParsedProblem{Text: "2*x+3=7"}

	classified := orig.WithCategory(CategoryAlgebra, 0.92)

	assert.Equal(t, Category(""), orig.Category)
	assert.Zero(t, orig.Confidence)
	assert.Equal(t, CategoryAlgebra, classified.Category)
	assert.InDelta(t, 0.92, classified.Confidence, 1e-12)
}

func TestParsedProblem_WithRefinementSortsVariables(t *testing.T) {
	orig := ParsedProblem{Text: "x+y=10"}

	refined := orig.WithRefinement([]string{"y", "x"}, []string{"x>0"})

	assert.Equal(t, []string{"x", "y"}, refined.Variables)
	assert.Equal(t, []string{"x>0"}, refined.Constraints)
	assert.Empty(t, orig.Variables)
}

func TestCategory_IsValid(t *testing.T) {
	for _, c := range AllCategories() {
		assert.True(t, c.IsValid(), "category %q should be valid", c)
	}
	assert.False(t, Category("").IsValid())
	assert.False(t, Category("geometry").IsValid())
}

func TestVerificationMethod_Deterministic(t *testing.T) {
	assert.True(t, MethodSubstitution.Deterministic())
	assert.True(t, MethodNumericReevaluation.Deterministic())
	assert.True(t, MethodBoundsCheck.Deterministic())
	assert.True(t, MethodDomainCheck.Deterministic())
	assert.False(t, MethodLLMCheck.Deterministic())
}

func TestClarificationResponse_Validate(t *testing.T) {
	tests := []struct {
		name    string
		resp    ClarificationResponse
		wantErr bool
	}{
		{
			name: "chosen interpretation only",
			resp: ClarificationResponse{ChosenInterpretation: "definite integral"},
		},
		{
			name: "additional text only",
			resp: ClarificationResponse{AdditionalText: "I meant the integral from 2 to 5"},
		},
		{
			name:    "both set",
			resp:    ClarificationResponse{ChosenInterpretation: "a", AdditionalText: "b"},
			wantErr: true,
		},
		{
			name:    "neither set",
			resp:    ClarificationResponse{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestErrorTaxonomy_AsPredicates(t *testing.T) {
	normErr := &NormalizationError{Reason: "unbalanced_brackets", Detail: "missing )"}
	solveErr := &SolverError{Strategy: StrategyQuadraticFormula, Reason: "degree_unsupported"}
	verifyErr := &VerificationUnavailable{Method: MethodLLMCheck, Reason: "provider_down"}
	escErr := &EscalationExhausted{
		Rounds: 2,
		Attempts: []Attempt{
			{Strategy: Strategy{Name: StrategyQuadraticFormula, Rank: 1}},
			{Strategy: Strategy{Name: StrategyNumericRootScan, Rank: 3}},
		},
	}

	assert.True(t, IsNormalizationError(normErr))
	assert.False(t, IsNormalizationError(solveErr))

	assert.True(t, IsSolverError(solveErr))
	assert.False(t, IsSolverError(normErr))

	assert.True(t, IsVerificationUnavailable(verifyErr))
	assert.False(t, IsVerificationUnavailable(solveErr))

	assert.True(t, IsEscalationExhausted(escErr))
	assert.False(t, IsEscalationExhausted(verifyErr))
}

func TestErrorTaxonomy_WrappedDetection(t *testing.T) {
	inner := &SolverError{Strategy: StrategyLinearIsolation, Reason: "timeout"}
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	assert.True(t, IsSolverError(wrapped))

	var se *SolverError
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, StrategyLinearIsolation, se.Strategy)
}

func TestEscalationExhausted_ErrorListsStrategies(t *testing.T) {
	err := &EscalationExhausted{
		Rounds: 2,
		Attempts: []Attempt{
			{Strategy: Strategy{Name: StrategyQuadraticFormula}},
			{Strategy: Strategy{Name: StrategyFactorRoots}},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "2 rounds")
	assert.Contains(t, msg, StrategyQuadraticFormula)
	assert.Contains(t, msg, StrategyFactorRoots)
}

func TestSolverError_UnwrapPreservesCause(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &SolverError{Strategy: StrategyGuidedAntideriv, Reason: "timeout", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "timeout")
}
