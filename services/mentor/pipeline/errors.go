// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "errors"

// Sentinel errors returned by the driver API. Execution failures inside a
// run are not errors here; they land in RunResult.Error instead.
var (
	// ErrNilSession is returned when Run is called without a session.
	ErrNilSession = errors.New("nil session")

	// ErrEmptyProblem is returned when the submission is blank.
	ErrEmptyProblem = errors.New("empty problem text")

	// ErrInvalidTransition is returned when a state change is not in the
	// transition table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound is returned when no live or suspended session
	// matches the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionInProgress is returned when a second run is attempted on
	// a session that already has one executing.
	ErrSessionInProgress = errors.New("session already in progress")

	// ErrNotSuspended is returned when Continue targets a session that is
	// not waiting in ESCALATED.
	ErrNotSuspended = errors.New("session is not awaiting clarification")

	// ErrUnknownInterpretation is returned when a clarification answer
	// picks an interpretation that was never offered.
	ErrUnknownInterpretation = errors.New("chosen interpretation was not offered")

	// ErrNotTerminal is returned when feedback targets a session that has
	// not finished.
	ErrNotTerminal = errors.New("session has not finished")

	// ErrInvalidFeedback is returned when the feedback verdict is not a
	// declared type.
	ErrInvalidFeedback = errors.New("invalid feedback type")

	// ErrTooManyActive is returned when the concurrent session cap is
	// reached.
	ErrTooManyActive = errors.New("too many active sessions")
)
