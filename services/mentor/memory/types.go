// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory archives finished tutoring interactions and retrieves
// worked examples for new problems.
//
// Every run that reaches a terminal state is stored in BadgerDB with its
// topic, confidence, and outcome. Accepted runs additionally become worked
// examples: a BM25 index over their problem text supports lexical
// retrieval, and an optional Weaviate store supports semantic retrieval
// over embedding vectors. Retrieval feeds the solver's reasoning context
// with problems the service has already solved well.
package memory

import (
	"errors"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is the terminal state an interaction finished in.
type Outcome string

const (
	// OutcomeAccepted means the pipeline delivered a verified explanation.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeAbandoned means the user or the escalation policy gave up on
	// the session.
	OutcomeAbandoned Outcome = "abandoned"

	// OutcomeFailed means the pipeline hit an unrecoverable error.
	OutcomeFailed Outcome = "failed"
)

// ValidOutcomes is the set of outcomes an archived interaction may carry.
var ValidOutcomes = map[Outcome]bool{
	OutcomeAccepted:  true,
	OutcomeAbandoned: true,
	OutcomeFailed:    true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInteractionNotFound is returned when the requested interaction is
	// absent or its TTL has expired.
	ErrInteractionNotFound = errors.New("interaction not found")

	// ErrEmptyInteractionID rejects records without a session identifier.
	ErrEmptyInteractionID = errors.New("interaction id cannot be empty")

	// ErrEmptyProblemText rejects records without problem text.
	ErrEmptyProblemText = errors.New("interaction problem text cannot be empty")

	// ErrInvalidOutcome rejects records with an undeclared outcome.
	ErrInvalidOutcome = errors.New("invalid interaction outcome")

	// ErrInvalidConfidence rejects confidence values outside [0,1].
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
)

// =============================================================================
// InteractionRecord
// =============================================================================

// InteractionRecord is one archived tutoring run.
//
// Description:
//
//	The record captures what the student asked, how the pipeline handled
//	it, and how it ended. Accepted records double as worked examples for
//	retrieval; abandoned and failed records exist for audit and
//	analytics. Feedback is attached after the fact when the user reviews
//	the delivered answer.
//
// Thread Safety: Plain data. Copy freely.
type InteractionRecord struct {
	// ID is the pipeline session identifier (UUID).
	ID string `json:"id"`

	// RawText is the original submission, untouched.
	RawText string `json:"raw_text"`

	// ProblemText is the normalized problem text.
	ProblemText string `json:"problem_text"`

	// Category is the classified topic.
	Category problem.Category `json:"category"`

	// Strategy is the strategy that produced the accepted solution.
	// Empty for runs that never reached an accepted solution.
	Strategy string `json:"strategy,omitempty"`

	// Result is the final answer expression for accepted runs.
	Result string `json:"result,omitempty"`

	// Confidence is the verification confidence of the delivered answer,
	// or the best confidence reached before the run ended.
	Confidence float64 `json:"confidence"`

	// Outcome is the terminal state.
	Outcome Outcome `json:"outcome"`

	// Retries is how many solve/verify rounds the run used.
	Retries int `json:"retries"`

	// EscalationRounds is how many clarification round-trips the run used.
	EscalationRounds int `json:"escalation_rounds"`

	// DurationMs is wall time from submission to the terminal state.
	DurationMs int64 `json:"duration_ms"`

	// CreatedAt is when the run finished (Unix milliseconds UTC).
	CreatedAt int64 `json:"created_at"`

	// Feedback is the user's verdict, when one was submitted.
	Feedback *problem.Feedback `json:"feedback,omitempty"`
}

// Validate checks the record before archiving.
func (r *InteractionRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyInteractionID
	}
	if r.ProblemText == "" {
		return ErrEmptyProblemText
	}
	if !ValidOutcomes[r.Outcome] {
		return ErrInvalidOutcome
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	return nil
}

// usableExample reports whether the record should be offered as a worked
// example. Accepted, reasonably confident, and not voted down by feedback.
func (r *InteractionRecord) usableExample(minConfidence float64) bool {
	if r.Outcome != OutcomeAccepted || r.Result == "" {
		return false
	}
	if r.Confidence < minConfidence {
		return false
	}
	if r.Feedback != nil && r.Feedback.Type == problem.FeedbackIncorrect {
		return false
	}
	return true
}

// =============================================================================
// WorkedExample
// =============================================================================

// WorkedExample is a previously solved problem offered as reasoning context.
type WorkedExample struct {
	// InteractionID links back to the archived run.
	InteractionID string `json:"interaction_id"`

	// ProblemText is the normalized problem that was solved.
	ProblemText string `json:"problem_text"`

	// Category is the topic the problem belonged to.
	Category problem.Category `json:"category"`

	// Strategy is the method that solved it.
	Strategy string `json:"strategy"`

	// Result is the verified answer.
	Result string `json:"result"`

	// Confidence is the verification confidence the answer carried.
	Confidence float64 `json:"confidence"`

	// Score is the retrieval relevance in [0,1], higher is better.
	Score float64 `json:"score"`
}

// exampleFromRecord projects an archived record into a worked example.
func exampleFromRecord(r InteractionRecord, score float64) WorkedExample {
	return WorkedExample{
		InteractionID: r.ID,
		ProblemText:   r.ProblemText,
		Category:      r.Category,
		Strategy:      r.Strategy,
		Result:        r.Result,
		Confidence:    r.Confidence,
		Score:         score,
	}
}
