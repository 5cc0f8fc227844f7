// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive ships sessions that ended without an accepted solution
// to a GCS bucket, one JSON object per run, so a human tutor can pick up
// where the pipeline stopped.
package archive

import (
	"errors"
	"path"
	"time"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// ErrEmptySessionID rejects bundles that could never be found again.
var ErrEmptySessionID = errors.New("archive: bundle has no session id")

// =============================================================================
// Bundle
// =============================================================================

// Bundle is the reviewer-facing snapshot of a run that ended abandoned
// or failed.
//
// Description:
//
//	Everything a human tutor needs to take over: the submission as
//	received and as normalized, the classified topic, every strategy
//	attempt with its verification verdict, the clarification
//	round-trips, and the per-stage audit trail.
type Bundle struct {
	// SessionID identifies the run and keys the bucket object.
	SessionID string `json:"session_id"`

	// State is the terminal state name.
	State string `json:"state"`

	// RawText is the submission exactly as received.
	RawText string `json:"raw_text"`

	// NormalizedText is the canonical form, when normalization ran.
	NormalizedText string `json:"normalized_text,omitempty"`

	// Category is the classified topic, when classification ran.
	Category problem.Category `json:"category,omitempty"`

	// Attempts lists every strategy attempt in order.
	Attempts []problem.Attempt `json:"attempts,omitempty"`

	// Clarifications lists the escalation round-trips in order.
	Clarifications []ClarificationRound `json:"clarifications,omitempty"`

	// History is the per-stage audit trail.
	History []StageRecord `json:"history,omitempty"`

	// Error carries the terminal error text for failed runs.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the run started (UTC).
	CreatedAt time.Time `json:"created_at"`

	// ClosedAt is when the run reached its terminal state (UTC).
	ClosedAt time.Time `json:"closed_at"`
}

// Validate rejects bundles missing the object key.
func (b Bundle) Validate() error {
	if b.SessionID == "" {
		return ErrEmptySessionID
	}
	return nil
}

// ClarificationRound pairs an escalation question with its answer.
// Response is nil when the reviewer never replied.
type ClarificationRound struct {
	Request  problem.ClarificationRequest   `json:"request"`
	Response *problem.ClarificationResponse `json:"response,omitempty"`
}

// StageRecord is one audit-trail entry.
type StageRecord struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// objectName builds the bucket path for a bundle: the configured prefix,
// the close date for day-partitioned browsing, then the session id.
func objectName(prefix, sessionID string, closedAt time.Time) string {
	day := closedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, day, sessionID+".json")
}
