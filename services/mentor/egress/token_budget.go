// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"fmt"
	"sync"
	"time"
)

// TokenBudget tracks token consumption against a fixed limit.
//
// Description:
//
//	Enforces a maximum token spend for one scope (a tutoring session).
//	The budget check happens before the call with an estimated count and
//	the actual usage is recorded after the call completes.
//
//	A limit of 0 means unlimited (no enforcement).
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type TokenBudget struct {
	mu       sync.Mutex
	scope    string
	limit    int
	consumed int
}

// NewTokenBudget creates a budget for a scope.
//
// Inputs:
//   - scope: A label for log lines (e.g. a session ID).
//   - limit: Maximum tokens allowed. 0 means unlimited.
func NewTokenBudget(scope string, limit int) *TokenBudget {
	return &TokenBudget{
		scope: scope,
		limit: limit,
	}
}

// CanSpend checks whether the estimated token count fits the budget.
//
// Outputs:
//   - bool: True if the request fits within the remaining budget.
//   - int: Remaining tokens after this request would complete, or the
//     current remainder when the request does not fit.
func (b *TokenBudget) CanSpend(estimated int) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return true, 0
	}
	remaining := b.limit - b.consumed
	if estimated > remaining {
		return false, remaining
	}
	return true, remaining - estimated
}

// Record records actual token consumption after a call.
func (b *TokenBudget) Record(actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumed += actual
}

// Remaining returns the tokens left in the budget, or -1 for unlimited.
func (b *TokenBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return -1
	}
	remaining := b.limit - b.consumed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Summary returns the budget state for logging.
func (b *TokenBudget) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return fmt.Sprintf("%s: %d tokens used (unlimited)", b.scope, b.consumed)
	}
	return fmt.Sprintf("%s: %d/%d tokens used", b.scope, b.consumed, b.limit)
}

// DailyBudget tracks service-wide token consumption with a UTC-midnight
// rollover.
//
// Description:
//
//	Same contract as TokenBudget, but consumption resets when the UTC day
//	changes. Covers every session the service handles.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type DailyBudget struct {
	mu       sync.Mutex
	limit    int
	consumed int
	day      int64 // UTC day number (Unix seconds / 86400)

	// now is replaceable for tests.
	now func() time.Time
}

// NewDailyBudget creates a daily budget. 0 means unlimited.
func NewDailyBudget(limit int) *DailyBudget {
	return &DailyBudget{
		limit: limit,
		now:   time.Now,
	}
}

// CanSpend checks whether the estimated token count fits today's budget.
func (b *DailyBudget) CanSpend(estimated int) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()

	if b.limit == 0 {
		return true, 0
	}
	remaining := b.limit - b.consumed
	if estimated > remaining {
		return false, remaining
	}
	return true, remaining - estimated
}

// Record records actual token consumption against today.
func (b *DailyBudget) Record(actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.consumed += actual
}

// Remaining returns the tokens left today, or -1 for unlimited.
func (b *DailyBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()

	if b.limit == 0 {
		return -1
	}
	remaining := b.limit - b.consumed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// rollLocked resets consumption when the UTC day has changed. Caller must
// hold mu.
func (b *DailyBudget) rollLocked() {
	today := b.now().UTC().Unix() / 86400
	if today != b.day {
		b.day = today
		b.consumed = 0
	}
}
