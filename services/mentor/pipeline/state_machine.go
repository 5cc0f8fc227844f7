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

import (
	"fmt"
	"sort"
)

// =============================================================================
// Transition table
// =============================================================================

// transitions is the complete edge set of the session lifecycle.
//
// RETRYING re-enters ROUTING rather than SOLVING so the ranked strategy
// list stays the single source of strategy order. ESCALATED resumes at the
// stage the ambiguity came from: NORMALIZING when the reviewer supplied
// new text, CLASSIFYING when they picked a category, SOLVING when they
// picked a solve target. Every active state can reach FAILED because
// cancellation and stage errors can land anywhere.
var transitions = map[State][]State{
	StateReceived:    {StateNormalizing, StateFailed},
	StateNormalizing: {StateClassifying, StateFailed},
	StateClassifying: {StateRouting, StateEscalated, StateFailed},
	StateRouting:     {StateSolving, StateFailed},
	StateSolving:     {StateVerifying, StateRetrying, StateEscalated, StateFailed},
	StateVerifying:   {StateExplaining, StateRetrying, StateEscalated, StateFailed},
	StateExplaining:  {StateAccepted, StateFailed},
	StateRetrying:    {StateRouting, StateFailed},
	StateEscalated:   {StateNormalizing, StateClassifying, StateSolving, StateAbandoned, StateFailed},
	StateAccepted:    {},
	StateAbandoned:   {},
	StateFailed:      {},
}

// transitionReasons holds the canonical reason string per edge, keyed
// "FROM->TO". Used for history entries and event payloads.
var transitionReasons = map[string]string{
	"RECEIVED->NORMALIZING":    "problem received",
	"RECEIVED->FAILED":         "aborted before start",
	"NORMALIZING->CLASSIFYING": "parse complete",
	"NORMALIZING->FAILED":      "normalization failed",
	"CLASSIFYING->ROUTING":     "category assigned",
	"CLASSIFYING->ESCALATED":   "classification ambiguous",
	"CLASSIFYING->FAILED":      "classification failed",
	"ROUTING->SOLVING":         "strategies ranked",
	"ROUTING->FAILED":          "routing failed",
	"SOLVING->VERIFYING":       "solution produced",
	"SOLVING->RETRYING":        "strategy failed",
	"SOLVING->ESCALATED":       "strategies exhausted",
	"SOLVING->FAILED":          "solver failed",
	"VERIFYING->EXPLAINING":    "confidence accepted",
	"VERIFYING->RETRYING":      "confidence below threshold",
	"VERIFYING->ESCALATED":     "verification exhausted",
	"VERIFYING->FAILED":        "verification failed",
	"EXPLAINING->ACCEPTED":     "explanation delivered",
	"EXPLAINING->FAILED":       "explanation failed",
	"RETRYING->ROUTING":        "next strategy requested",
	"RETRYING->FAILED":         "retry failed",
	"ESCALATED->NORMALIZING":   "clarification text received",
	"ESCALATED->CLASSIFYING":   "category clarified",
	"ESCALATED->SOLVING":       "interpretation clarified",
	"ESCALATED->ABANDONED":     "escalation rounds exhausted",
	"ESCALATED->FAILED":        "aborted while suspended",
}

// =============================================================================
// State machine
// =============================================================================

// StateMachine validates and applies session state changes.
//
// Description:
//
//	The machine is a fixed transition table; it holds no per-session
//	state of its own. Transition mutates the session only when the edge
//	is valid, so an invalid request leaves the session untouched.
//
// Thread Safety: Safe for concurrent use. Per-session ordering is the
// session's own concern.
type StateMachine struct{}

// NewStateMachine returns a machine over the standard transition table.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// DefaultStateMachine is the shared instance behind the package-level
// helpers.
var DefaultStateMachine = NewStateMachine()

// CanTransition reports whether from -> to is a valid edge.
func (m *StateMachine) CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the new state.
//
// Description:
//
//	Validates the edge against the table and applies it. On an invalid
//	edge the returned error wraps ErrInvalidTransition and the session
//	state is unchanged.
//
// Inputs:
//
//	session - The session to move. Must not be nil.
//	to - The target state.
//
// Outputs:
//
//	error - Non-nil when the edge is not in the table.
//
// Thread Safety: Safe for concurrent use.
func (m *StateMachine) Transition(session *Session, to State) error {
	if session == nil {
		return ErrNilSession
	}
	from := session.GetState()
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	session.SetState(to)
	return nil
}

// ValidTransitionsFrom returns the reachable states from the given state,
// sorted by name.
func (m *StateMachine) ValidTransitionsFrom(from State) []State {
	next := transitions[from]
	out := make([]State, len(next))
	copy(out, next)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TransitionReason returns the canonical reason string for an edge, or ""
// when the edge is not in the table.
func (m *StateMachine) TransitionReason(from, to State) string {
	return transitionReasons[string(from)+"->"+string(to)]
}

// =============================================================================
// Package-level helpers
// =============================================================================

// CanTransition reports whether from -> to is valid under the default
// machine.
func CanTransition(from, to State) bool {
	return DefaultStateMachine.CanTransition(from, to)
}

// ValidTransitionsFrom returns the reachable states under the default
// machine.
func ValidTransitionsFrom(from State) []State {
	return DefaultStateMachine.ValidTransitionsFrom(from)
}
