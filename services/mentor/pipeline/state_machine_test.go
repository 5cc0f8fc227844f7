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
	"errors"
	"sync"
	"testing"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	validTransitions := []struct {
		from State
		to   State
	}{
		// RECEIVED transitions
		{StateReceived, StateNormalizing},
		{StateReceived, StateFailed},

		// NORMALIZING transitions
		{StateNormalizing, StateClassifying},
		{StateNormalizing, StateFailed},

		// CLASSIFYING transitions
		{StateClassifying, StateRouting},
		{StateClassifying, StateEscalated},
		{StateClassifying, StateFailed},

		// ROUTING transitions
		{StateRouting, StateSolving},
		{StateRouting, StateFailed},

		// SOLVING transitions
		{StateSolving, StateVerifying},
		{StateSolving, StateRetrying},
		{StateSolving, StateEscalated},
		{StateSolving, StateFailed},

		// VERIFYING transitions
		{StateVerifying, StateExplaining},
		{StateVerifying, StateRetrying},
		{StateVerifying, StateEscalated},
		{StateVerifying, StateFailed},

		// EXPLAINING transitions
		{StateExplaining, StateAccepted},
		{StateExplaining, StateFailed},

		// RETRYING transitions
		{StateRetrying, StateRouting},
		{StateRetrying, StateFailed},

		// ESCALATED transitions
		{StateEscalated, StateNormalizing},
		{StateEscalated, StateClassifying},
		{StateEscalated, StateSolving},
		{StateEscalated, StateAbandoned},
		{StateEscalated, StateFailed},
	}

	for _, tt := range validTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if !sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be valid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalidTransitions := []struct {
		from State
		to   State
	}{
		// Terminal states never move
		{StateAccepted, StateReceived},
		{StateAccepted, StateNormalizing},
		{StateAbandoned, StateEscalated},
		{StateFailed, StateReceived},
		{StateFailed, StateNormalizing},

		// Cannot skip stages
		{StateReceived, StateClassifying},
		{StateReceived, StateSolving},
		{StateReceived, StateAccepted},
		{StateNormalizing, StateRouting},
		{StateClassifying, StateVerifying},

		// Routing never escalates; ambiguity is caught before it
		{StateRouting, StateEscalated},
		{StateRouting, StateRetrying},

		// Retry re-enters routing, not solving
		{StateRetrying, StateSolving},
		{StateRetrying, StateVerifying},

		// Suspension cannot resume mid-verification
		{StateEscalated, StateRouting},
		{StateEscalated, StateVerifying},
		{StateEscalated, StateAccepted},

		// Success is only reached through explanation
		{StateVerifying, StateAccepted},
		{StateSolving, StateAccepted},
	}

	for _, tt := range invalidTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be invalid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_Transition(t *testing.T) {
	sm := NewStateMachine()

	t.Run("valid transition updates state", func(t *testing.T) {
		session := NewSession()

		if session.GetState() != StateReceived {
			t.Errorf("expected RECEIVED, got %s", session.GetState())
		}

		if err := sm.Transition(session, StateNormalizing); err != nil {
			t.Errorf("Transition: %v", err)
		}

		if session.GetState() != StateNormalizing {
			t.Errorf("expected NORMALIZING, got %s", session.GetState())
		}
	})

	t.Run("invalid transition returns error", func(t *testing.T) {
		session := NewSession()

		err := sm.Transition(session, StateAccepted)
		if err == nil {
			t.Error("expected error for invalid transition")
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}

		// State should remain unchanged
		if session.GetState() != StateReceived {
			t.Errorf("expected state to remain RECEIVED, got %s", session.GetState())
		}
	})

	t.Run("nil session returns error", func(t *testing.T) {
		err := sm.Transition(nil, StateNormalizing)
		if !errors.Is(err, ErrNilSession) {
			t.Errorf("expected ErrNilSession, got %v", err)
		}
	})
}

func TestStateMachine_ValidTransitionsFrom(t *testing.T) {
	sm := NewStateMachine()

	tests := []struct {
		from     State
		expected int
	}{
		{StateReceived, 2},    // -> NORMALIZING, FAILED
		{StateNormalizing, 2}, // -> CLASSIFYING, FAILED
		{StateClassifying, 3}, // -> ROUTING, ESCALATED, FAILED
		{StateRouting, 2},     // -> SOLVING, FAILED
		{StateSolving, 4},     // -> VERIFYING, RETRYING, ESCALATED, FAILED
		{StateVerifying, 4},   // -> EXPLAINING, RETRYING, ESCALATED, FAILED
		{StateExplaining, 2},  // -> ACCEPTED, FAILED
		{StateRetrying, 2},    // -> ROUTING, FAILED
		{StateEscalated, 5},   // -> NORMALIZING, CLASSIFYING, SOLVING, ABANDONED, FAILED
		{StateAccepted, 0},    // terminal
		{StateAbandoned, 0},   // terminal
		{StateFailed, 0},      // terminal
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			next := sm.ValidTransitionsFrom(tt.from)
			if len(next) != tt.expected {
				t.Errorf("expected %d transitions from %s, got %d: %v",
					tt.expected, tt.from, len(next), next)
			}
		})
	}
}

func TestStateMachine_TransitionReason_CoversEveryEdge(t *testing.T) {
	sm := NewStateMachine()

	for from, targets := range transitions {
		for _, to := range targets {
			if reason := sm.TransitionReason(from, to); reason == "" {
				t.Errorf("edge %s -> %s has no reason", from, to)
			}
		}
	}

	if reason := sm.TransitionReason(StateAccepted, StateReceived); reason != "" {
		t.Errorf("expected empty reason for off-table edge, got %q", reason)
	}
}

func TestStateMachine_PackageHelpers(t *testing.T) {
	if !CanTransition(StateReceived, StateNormalizing) {
		t.Error("package CanTransition should mirror the default machine")
	}
	if CanTransition(StateAccepted, StateReceived) {
		t.Error("package CanTransition should reject off-table edges")
	}
	if got := ValidTransitionsFrom(StateEscalated); len(got) != 5 {
		t.Errorf("expected 5 transitions from ESCALATED, got %d", len(got))
	}
}

func TestState_Predicates(t *testing.T) {
	if len(AllStates()) != 12 {
		t.Fatalf("expected 12 states, got %d", len(AllStates()))
	}

	terminal := map[State]bool{
		StateAccepted:  true,
		StateAbandoned: true,
		StateFailed:    true,
	}
	for _, s := range AllStates() {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
		if s.IsTerminal() != terminal[s] {
			t.Errorf("%s IsTerminal = %v, want %v", s, s.IsTerminal(), terminal[s])
		}
		if s.IsActive() == s.IsTerminal() {
			t.Errorf("%s cannot be both active and terminal", s)
		}
	}

	if State("DANCING").IsValid() {
		t.Error("unknown state should not be valid")
	}
	if !StateEscalated.IsActive() {
		t.Error("suspension counts as active")
	}
}

func TestStateMachine_ConcurrentAccess(t *testing.T) {
	sm := NewStateMachine()

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			session := NewSession()

			// Happy path from submission to acceptance
			path := []State{
				StateNormalizing,
				StateClassifying,
				StateRouting,
				StateSolving,
				StateVerifying,
				StateExplaining,
				StateAccepted,
			}

			for _, state := range path {
				if err := sm.Transition(session, state); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent transition failed: %v", err)
	}
}
