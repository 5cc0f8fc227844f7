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
	"strings"
)

// =============================================================================
// Error taxonomy
// =============================================================================
//
// Four failure families, each with a distinct recovery path:
//
//	NormalizationError      fatal: reject the submission, nothing to retry
//	SolverError             recoverable: the driver advances to the next
//	                        ranked strategy
//	VerificationUnavailable degraded: the result proceeds with reduced
//	                        confidence, never silently dropped
//	EscalationExhausted     terminal: clarification rounds ran out, the
//	                        pipeline lands in ABANDONED with full history
//
// All four satisfy errors.As against their pointer types so call sites can
// branch without string matching.

// NormalizationError reports structurally invalid input. It is fatal: the
// pipeline transitions to FAILED without consulting the Solver.
type NormalizationError struct {
	// Reason is a short machine-stable cause ("unbalanced_brackets",
	// "not_math", "invalid_symbols", "empty_input").
	Reason string

	// Detail is the human-readable elaboration, safe to surface verbatim.
	Detail string
}

func (e *NormalizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("normalization failed: %s", e.Reason)
	}
	return fmt.Sprintf("normalization failed: %s: %s", e.Reason, e.Detail)
}

// IsNormalizationError reports whether err is a NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}

// SolverError reports that one strategy attempt failed. It is recoverable:
// the driver records the attempt and moves to the next ranked strategy. Only
// when no untried strategy remains does the failure escalate.
type SolverError struct {
	// Strategy names the strategy that failed.
	Strategy string

	// Reason is a short cause ("degree_unsupported", "singular_system",
	// "timeout", "malformed_llm_steps").
	Reason string

	// Cause is the wrapped underlying error, if any.
	Cause error
}

func (e *SolverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("solver strategy %q failed: %s: %v", e.Strategy, e.Reason, e.Cause)
	}
	return fmt.Sprintf("solver strategy %q failed: %s", e.Strategy, e.Reason)
}

func (e *SolverError) Unwrap() error { return e.Cause }

// IsSolverError reports whether err is a SolverError.
func IsSolverError(err error) bool {
	var se *SolverError
	return errors.As(err, &se)
}

// VerificationUnavailable reports that a verification method could not run
// (reasoning capability down, numeric check inapplicable). The solution
// still proceeds; the Verifier lowers its confidence and records the gap in
// the report instead of failing the pipeline.
type VerificationUnavailable struct {
	// Method is the check that could not run.
	Method VerificationMethod

	// Reason is the short cause.
	Reason string

	// Cause is the wrapped underlying error, if any.
	Cause error
}

func (e *VerificationUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verification method %s unavailable: %s: %v", e.Method, e.Reason, e.Cause)
	}
	return fmt.Sprintf("verification method %s unavailable: %s", e.Method, e.Reason)
}

func (e *VerificationUnavailable) Unwrap() error { return e.Cause }

// IsVerificationUnavailable reports whether err is a VerificationUnavailable.
func IsVerificationUnavailable(err error) bool {
	var ve *VerificationUnavailable
	return errors.As(err, &ve)
}

// EscalationExhausted reports that the maximum clarification rounds were
// consumed without reaching an accepted solution. The driver transitions to
// ABANDONED and the full attempt history travels with the error so the
// final record explains every strategy that was tried.
type EscalationExhausted struct {
	// Rounds is the number of clarification rounds consumed.
	Rounds int

	// Attempts is the complete strategy history, in order.
	Attempts []Attempt
}

func (e *EscalationExhausted) Error() string {
	tried := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		tried = append(tried, a.Strategy.Name)
	}
	if len(tried) == 0 {
		return fmt.Sprintf("escalation exhausted after %d rounds", e.Rounds)
	}
	return fmt.Sprintf("escalation exhausted after %d rounds (tried: %s)",
		e.Rounds, strings.Join(tried, ", "))
}

// IsEscalationExhausted reports whether err is an EscalationExhausted.
func IsEscalationExhausted(err error) bool {
	var ee *EscalationExhausted
	return errors.As(err, &ee)
}
