// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mentor

import (
	"github.com/AleutianAI/MathMentor/services/mentor/pipeline"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// SolveRequest is the request body for POST /v1/mentor/solve.
type SolveRequest struct {
	// Text is the raw problem statement as the student typed it. Required.
	Text string `json:"text" binding:"required"`
}

// SolveResponse is the response for POST /v1/mentor/solve and
// POST /v1/mentor/clarify.
type SolveResponse struct {
	// SessionID is the unique identifier for this tutoring session.
	SessionID string `json:"session_id"`

	// State is the pipeline state the run stopped in (ACCEPTED, ESCALATED,
	// ABANDONED, FAILED).
	State string `json:"state"`

	// Explanation is the annotated answer. Set only when State is ACCEPTED.
	Explanation *problem.Explanation `json:"explanation,omitempty"`

	// Clarification is the pending question for the reviewer. Set only when
	// State is ESCALATED.
	Clarification *problem.ClarificationRequest `json:"clarification,omitempty"`

	// Attempts lists every strategy tried so far, in order.
	Attempts []problem.Attempt `json:"attempts,omitempty"`

	// Retries is how many solve/verify rounds the session used.
	Retries int `json:"retries"`

	// EscalationRounds is how many clarification round trips the session
	// used.
	EscalationRounds int `json:"escalation_rounds"`

	// Error is the structured failure when State is ABANDONED or FAILED.
	Error *pipeline.RunError `json:"error,omitempty"`
}

// ClarifyRequest is the request body for POST /v1/mentor/clarify. Exactly
// one of ChosenInterpretation and AdditionalText must be set.
type ClarifyRequest struct {
	// SessionID is the suspended session to resume. Required.
	SessionID string `json:"session_id" binding:"required"`

	// ChosenInterpretation selects one of the candidate interpretations
	// offered by the clarification request.
	ChosenInterpretation string `json:"chosen_interpretation,omitempty"`

	// AdditionalText rewrites or augments the original problem statement.
	AdditionalText string `json:"additional_text,omitempty"`
}

// AbortRequest is the request body for POST /v1/mentor/abort.
type AbortRequest struct {
	// SessionID is the session to cancel. Required.
	SessionID string `json:"session_id" binding:"required"`
}

// FeedbackRequest is the request body for POST /v1/mentor/feedback.
type FeedbackRequest struct {
	// SessionID is the finished session the verdict applies to. Required.
	SessionID string `json:"session_id" binding:"required"`

	// Type is the verdict: correct, partially_correct, or incorrect.
	// Required.
	Type string `json:"type" binding:"required"`

	// Comment explains partial or incorrect verdicts.
	Comment string `json:"comment,omitempty"`

	// CorrectedSolution is the reviewer-supplied correct answer, when the
	// verdict is incorrect.
	CorrectedSolution string `json:"corrected_solution,omitempty"`
}

// SessionStateResponse is the response for GET /v1/mentor/session/:id.
type SessionStateResponse struct {
	// SessionID is the unique session identifier.
	SessionID string `json:"session_id"`

	// State is the current pipeline state.
	State string `json:"state"`

	// Category is the classified problem category, when known.
	Category string `json:"category,omitempty"`

	// Confidence is the best verified confidence so far.
	Confidence float64 `json:"confidence"`

	// Steps is the number of stage executions so far.
	Steps int `json:"steps"`

	// Retries is the number of solve/verify rounds used.
	Retries int `json:"retries"`

	// EscalationRounds is the number of clarification round trips used.
	EscalationRounds int `json:"escalation_rounds"`

	// Clarification is the pending question when the session is suspended.
	Clarification *problem.ClarificationRequest `json:"clarification,omitempty"`

	// Error is the failure text when the session failed.
	Error string `json:"error,omitempty"`

	// CreatedAt is the Unix timestamp of session creation.
	CreatedAt int64 `json:"created_at"`

	// LastActiveAt is the Unix timestamp of the last stage execution.
	LastActiveAt int64 `json:"last_active_at"`

	// History is the audit trail: every stage execution, state change,
	// clarification, and abort in order.
	History []pipeline.HistoryEntry `json:"history,omitempty"`

	// Rounds is the clarification round-trip history.
	Rounds []pipeline.ClarificationRound `json:"rounds,omitempty"`
}

// SessionSummary is one entry in the session list.
type SessionSummary struct {
	// SessionID is the unique session identifier.
	SessionID string `json:"session_id"`

	// State is the current pipeline state.
	State string `json:"state"`

	// Category is the classified problem category, when known.
	Category string `json:"category,omitempty"`

	// Retries is the number of solve/verify rounds used.
	Retries int `json:"retries"`

	// EscalationRounds is the number of clarification round trips used.
	EscalationRounds int `json:"escalation_rounds"`

	// CreatedAt is the Unix timestamp of session creation.
	CreatedAt int64 `json:"created_at"`
}

// SessionListResponse is the response for GET /v1/mentor/sessions.
type SessionListResponse struct {
	// Sessions lists every known session, live and suspended.
	Sessions []SessionSummary `json:"sessions"`

	// Count is len(Sessions).
	Count int `json:"count"`
}

// HealthResponse is the response for GET /v1/mentor/health.
type HealthResponse struct {
	// Status is "healthy" when the process is serving.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/mentor/ready.
type ReadyResponse struct {
	// Ready is true once startup warmup has finished.
	Ready bool `json:"ready"`

	// Sessions is the number of known sessions.
	Sessions int `json:"sessions"`

	// ReasoningOK reports whether a reasoning client is configured.
	ReasoningOK bool `json:"reasoning_ok"`

	// MemoryOK reports whether the interaction memory is configured.
	MemoryOK bool `json:"memory_ok"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
