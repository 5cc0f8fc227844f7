// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import "math"

// =============================================================================
// Score anchors
// =============================================================================

// The anchors keep the three verdict families ordered no matter which
// adjustments fire: a deterministic pass never drops below
// deterministicPassFloor, a failure never rises above failConfidenceCeiling,
// and a reasoning-only verdict is capped by configuration below the floor.
const (
	// basePassDeterministic is the starting score for a clean deterministic
	// pass, before adjustments.
	basePassDeterministic = 0.98

	// baseFailDeterministic is the starting score when a deterministic
	// check contradicts the solution.
	baseFailDeterministic = 0.40

	// deterministicPassFloor is the minimum final score of a deterministic
	// pass that carried a measured residual.
	deterministicPassFloor = 0.90

	// failConfidenceCeiling is the maximum final score of any failed check.
	failConfidenceCeiling = 0.40

	// degradedConfidence is the score when no check could run at all. The
	// solution proceeds, flagged, rather than being dropped.
	degradedConfidence = 0.50

	// unclearClassificationCutoff marks the classification confidence
	// below which the category call taints the verification score.
	unclearClassificationCutoff = 0.7
)

// =============================================================================
// Adjustments
// =============================================================================

// ConfidenceAdjustment is one multiplicative factor applied to a base score.
type ConfidenceAdjustment struct {
	// Reason explains why the adjustment applies.
	Reason string `json:"reason"`

	// Multiplier scales the running score. Values below 1.0 lower it.
	Multiplier float64 `json:"multiplier"`
}

// Adjustments shared across the check implementations.
var (
	// AdjustmentUnclearClassification lowers confidence when the category
	// call was shaky. A passing check cannot repair an unsure parse.
	AdjustmentUnclearClassification = ConfidenceAdjustment{
		Reason:     "classification confidence below cutoff",
		Multiplier: 0.95,
	}

	// AdjustmentNearTolerance lowers confidence when the measured
	// discrepancy lands within a decade of the pass threshold.
	AdjustmentNearTolerance = ConfidenceAdjustment{
		Reason:     "discrepancy within a decade of tolerance",
		Multiplier: 0.97,
	}

	// AdjustmentCrossCheckAgreement raises confidence when an alternate
	// strategy reproduced the same value independently.
	AdjustmentCrossCheckAgreement = ConfidenceAdjustment{
		Reason:     "independent cross-check agrees",
		Multiplier: 1.05,
	}

	// AdjustmentPartialCoverage lowers confidence when some sample points
	// or cases could not be evaluated.
	AdjustmentPartialCoverage = ConfidenceAdjustment{
		Reason:     "partial sample coverage",
		Multiplier: 0.90,
	}
)

// CalibrateConfidence computes a calibrated score.
//
// Description:
//
//	Multiplies the base score by every adjustment in order, then clamps
//	the result to [0, 1]. Band floors and ceilings are applied by the
//	caller afterwards, so an adjustment can never push a pass below a
//	failure or vice versa.
//
// Inputs:
//   - base: The starting score in [0, 1].
//   - adjustments: Zero or more factors to apply.
//
// Outputs:
//   - float64: The calibrated score in [0, 1].
//
// Thread Safety: Safe for concurrent use.
func CalibrateConfidence(base float64, adjustments ...ConfidenceAdjustment) float64 {
	score := base
	for _, adj := range adjustments {
		score *= adj.Multiplier
	}
	return math.Max(0.0, math.Min(1.0, score))
}

// =============================================================================
// Levels
// =============================================================================

// ConfidenceLevel is the human-readable band of a score, used in logs and
// student-facing summaries.
type ConfidenceLevel string

const (
	ConfidenceLevelVeryHigh ConfidenceLevel = "very_high"
	ConfidenceLevelHigh     ConfidenceLevel = "high"
	ConfidenceLevelMedium   ConfidenceLevel = "medium"
	ConfidenceLevelLow      ConfidenceLevel = "low"
	ConfidenceLevelVeryLow  ConfidenceLevel = "very_low"
)

// GetConfidenceLevel maps a score to its band.
func GetConfidenceLevel(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= 0.9:
		return ConfidenceLevelVeryHigh
	case confidence >= 0.7:
		return ConfidenceLevelHigh
	case confidence >= 0.5:
		return ConfidenceLevelMedium
	case confidence >= 0.3:
		return ConfidenceLevelLow
	default:
		return ConfidenceLevelVeryLow
	}
}
