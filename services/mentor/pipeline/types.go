// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives a submitted problem through normalization,
// classification, routing, solving, verification, and explanation.
//
// The driver owns a per-session state machine. A run advances stage by
// stage until it reaches a terminal state or suspends in ESCALATED to wait
// for a human clarification. Suspended sessions are resumable: the answer
// re-enters the machine at the stage the ambiguity came from, with the
// attempt history and escalation counters intact. Retries across ranked
// strategies and clarification round trips are both bounded, so every
// session terminates in ACCEPTED, ABANDONED, or FAILED.
package pipeline

import (
	"fmt"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// States
// =============================================================================

// State is one position in the tutoring session lifecycle.
type State string

const (
	// StateReceived is the initial state: the submission is stored but no
	// stage has run.
	StateReceived State = "RECEIVED"

	// StateNormalizing parses the raw text into a structured problem.
	StateNormalizing State = "NORMALIZING"

	// StateClassifying assigns a category and confidence.
	StateClassifying State = "CLASSIFYING"

	// StateRouting ranks candidate strategies for the category.
	StateRouting State = "ROUTING"

	// StateSolving executes the next untried strategy.
	StateSolving State = "SOLVING"

	// StateVerifying checks the produced solution independently.
	StateVerifying State = "VERIFYING"

	// StateExplaining annotates the accepted solution for the student.
	StateExplaining State = "EXPLAINING"

	// StateRetrying is the bookkeeping pass between a rejected solution
	// and the next ranked strategy.
	StateRetrying State = "RETRYING"

	// StateEscalated is the suspended state: the session holds a
	// clarification request and waits for a human answer.
	StateEscalated State = "ESCALATED"

	// StateAccepted is terminal: a verified explanation was delivered.
	StateAccepted State = "ACCEPTED"

	// StateAbandoned is terminal: escalation rounds were exhausted or the
	// reviewer gave up, and the problem needs a human expert.
	StateAbandoned State = "ABANDONED"

	// StateFailed is terminal: an unrecoverable error ended the run.
	StateFailed State = "FAILED"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether the session is finished.
func (s State) IsTerminal() bool {
	switch s {
	case StateAccepted, StateAbandoned, StateFailed:
		return true
	}
	return false
}

// IsActive reports whether a stage can still run. Suspension counts as
// active: an escalated session is waiting, not finished.
func (s State) IsActive() bool {
	return !s.IsTerminal()
}

// IsValid reports whether s is a declared state.
func (s State) IsValid() bool {
	switch s {
	case StateReceived, StateNormalizing, StateClassifying, StateRouting,
		StateSolving, StateVerifying, StateExplaining, StateRetrying,
		StateEscalated, StateAccepted, StateAbandoned, StateFailed:
		return true
	}
	return false
}

// AllStates returns every declared state in lifecycle order.
func AllStates() []State {
	return []State{
		StateReceived,
		StateNormalizing,
		StateClassifying,
		StateRouting,
		StateSolving,
		StateVerifying,
		StateExplaining,
		StateRetrying,
		StateEscalated,
		StateAccepted,
		StateAbandoned,
		StateFailed,
	}
}

// =============================================================================
// History
// =============================================================================

// History entry types.
const (
	// HistoryStage records one stage execution, with duration and outcome.
	HistoryStage = "stage"

	// HistoryTransition records a state change.
	HistoryTransition = "state_transition"

	// HistoryClarification records an accepted clarification answer.
	HistoryClarification = "clarification"

	// HistoryAbort records an operator abort.
	HistoryAbort = "abort"
)

// HistoryEntry is one step in a session's audit trail.
type HistoryEntry struct {
	// Step is the 1-based position in the trail.
	Step int `json:"step"`

	// Type is one of the History* constants.
	Type string `json:"type"`

	// State is the state the entry belongs to. For transitions this is
	// the state being entered.
	State State `json:"state"`

	// Detail is a short human-readable note ("category algebra 0.91").
	Detail string `json:"detail,omitempty"`

	// Error carries the failure text when the step failed.
	Error string `json:"error,omitempty"`

	// DurationMs is the stage execution time. Zero for non-stage entries.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Timestamp is when the entry was recorded (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`
}

// ClarificationRound is one suspend/resume round trip. Response is nil
// while the round is still waiting.
type ClarificationRound struct {
	Request  problem.ClarificationRequest   `json:"request"`
	Response *problem.ClarificationResponse `json:"response,omitempty"`
}

// =============================================================================
// Results
// =============================================================================

// Run error codes.
const (
	// ErrCodeNormalization marks a fatal parse failure.
	ErrCodeNormalization = "NORMALIZATION_ERROR"

	// ErrCodeStage marks an unrecoverable stage failure.
	ErrCodeStage = "STAGE_ERROR"

	// ErrCodeCanceled marks a caller-side context cancellation.
	ErrCodeCanceled = "CANCELED"

	// ErrCodeTimeout marks a stage that exceeded the step timeout.
	ErrCodeTimeout = "STAGE_TIMEOUT"

	// ErrCodeExhausted marks an abandonment after the escalation round
	// budget ran out.
	ErrCodeExhausted = "ESCALATION_EXHAUSTED"

	// ErrCodeStepLimit marks a session that exceeded the hard step cap.
	ErrCodeStepLimit = "STEP_LIMIT"

	// ErrCodeAborted marks an operator abort.
	ErrCodeAborted = "ABORTED"
)

// RunError is the structured failure attached to ABANDONED and FAILED
// results.
type RunError struct {
	// Code is one of the ErrCode* constants.
	Code string `json:"code"`

	// Message is the human-readable failure text.
	Message string `json:"message"`

	// Recoverable reports whether resubmitting the same problem could
	// plausibly succeed.
	Recoverable bool `json:"recoverable"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RunResult is what a Run or Continue call hands back.
//
// Description:
//
//	Exactly one of the payload fields is meaningful, keyed by State:
//	Explanation for ACCEPTED, Clarification for ESCALATED, Error for
//	ABANDONED and FAILED. Attempts and the counters are always populated
//	so callers can show the work regardless of outcome.
//
// Thread Safety: Results are snapshots; treat them as immutable.
type RunResult struct {
	// SessionID identifies the session the result belongs to.
	SessionID string `json:"session_id"`

	// State is the state the run stopped in.
	State State `json:"state"`

	// Explanation is the delivered answer. Non-nil only for ACCEPTED.
	Explanation *problem.Explanation `json:"explanation,omitempty"`

	// Clarification is the pending question. Non-nil only for ESCALATED.
	Clarification *problem.ClarificationRequest `json:"clarification,omitempty"`

	// Attempts is the strategy history so far, in order.
	Attempts []problem.Attempt `json:"attempts,omitempty"`

	// Retries is how many solve/verify rounds the session has used.
	Retries int `json:"retries"`

	// EscalationRounds is how many clarification round trips the session
	// has used.
	EscalationRounds int `json:"escalation_rounds"`

	// Error is the structured failure for ABANDONED and FAILED.
	Error *RunError `json:"error,omitempty"`
}
