// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events lets external observers follow a tutoring session as it
// moves through the pipeline.
//
// The pipeline emits an event for every state transition, clarification
// request, delivered solution, and terminal outcome. Subscribers (the
// websocket endpoint, tests, metrics glue) register handlers without
// coupling to the pipeline implementation.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

// Type identifies the kind of event.
type Type string

const (
	// TypeStateTransition is emitted when a session changes pipeline state.
	TypeStateTransition Type = "state_transition"

	// TypeClarificationRequested is emitted when a session suspends and
	// asks the user to disambiguate.
	TypeClarificationRequested Type = "clarification_requested"

	// TypeSolutionReady is emitted when a verified explanation is ready.
	TypeSolutionReady Type = "solution_ready"

	// TypeSessionEnd is emitted when a session reaches a terminal state.
	TypeSessionEnd Type = "session_end"

	// TypeError is emitted when a stage fails.
	TypeError Type = "error"
)

// Event is one observation of a tutoring session.
//
// Description:
//
//	Each event carries a type that determines the structure of its Data
//	field. Use the matching typed struct (StateTransitionData,
//	ClarificationData, SolutionData, SessionEndData, ErrorData) when
//	setting Data.
//
// Thread Safety: Treat events as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// SessionID links the event to a tutoring session.
	SessionID string `json:"session_id"`

	// Timestamp is when the event occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Data contains event-specific data.
	Data any `json:"data,omitempty"`
}

// StateTransitionData is the data for state transition events.
type StateTransitionData struct {
	// From is the previous pipeline state.
	From string `json:"from"`

	// To is the new pipeline state.
	To string `json:"to"`

	// Reason explains why the transition occurred.
	Reason string `json:"reason,omitempty"`
}

// ClarificationData is the data for clarification request events.
type ClarificationData struct {
	// AmbiguousField names what the pipeline could not resolve.
	AmbiguousField string `json:"ambiguous_field"`

	// CandidateInterpretations are the readings offered to the user.
	CandidateInterpretations []string `json:"candidate_interpretations,omitempty"`

	// Round is which clarification round-trip this is, starting at 1.
	Round int `json:"round"`
}

// SolutionData is the data for solution ready events.
type SolutionData struct {
	// Result is the final answer expression.
	Result string `json:"result"`

	// Confidence is the verification confidence of the answer.
	Confidence float64 `json:"confidence"`

	// Strategy is the method that produced the answer.
	Strategy string `json:"strategy"`

	// Summary is a short overview of the solution.
	Summary string `json:"summary,omitempty"`
}

// SessionEndData is the data for session end events.
type SessionEndData struct {
	// Outcome is the terminal state: accepted, abandoned, or failed.
	Outcome string `json:"outcome"`

	// DurationMs is wall time from submission to the terminal state.
	DurationMs int64 `json:"duration_ms"`

	// Retries is how many solve/verify rounds the session used.
	Retries int `json:"retries"`

	// EscalationRounds is how many clarification round-trips it used.
	EscalationRounds int `json:"escalation_rounds"`

	// Error is set when the session failed.
	Error string `json:"error,omitempty"`
}

// ErrorData is the data for error events.
type ErrorData struct {
	// Error is the failure message.
	Error string `json:"error"`

	// Stage names the pipeline stage that failed.
	Stage string `json:"stage,omitempty"`

	// Recoverable indicates whether the pipeline will retry.
	Recoverable bool `json:"recoverable"`
}
