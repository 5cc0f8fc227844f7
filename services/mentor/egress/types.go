// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package egress governs outbound reasoning traffic. It implements a
// decorator that wraps raw LLM clients with pre-flight checks (rate limit,
// session and daily token budgets, cost ceiling) and post-call auditing
// (structured logs with content hashes, Prometheus metrics). API keys are
// held in encrypted memory and released only at call-construction time.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use unless documented
//	otherwise.
package egress

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Sentinel errors
// =============================================================================

var (
	// ErrRateLimited is returned when the outbound request rate has been
	// exceeded.
	ErrRateLimited = errors.New("egress: rate limited")

	// ErrSessionBudgetExhausted is returned when a tutoring session has
	// spent its token budget.
	ErrSessionBudgetExhausted = errors.New("egress: session token budget exhausted")

	// ErrDailyBudgetExhausted is returned when the service-wide daily
	// token budget has been spent.
	ErrDailyBudgetExhausted = errors.New("egress: daily token budget exhausted")

	// ErrCostLimitReached is returned when the estimated cost of a request
	// would exceed the configured cost ceiling.
	ErrCostLimitReached = errors.New("egress: cost limit reached")

	// ErrSecretNotFound is returned when a required secret cannot be
	// retrieved from the secret backend.
	ErrSecretNotFound = errors.New("egress: secret not found")
)

// =============================================================================
// Decision: audit record for each egress attempt
// =============================================================================

// Decision captures the outcome of a single egress pre-flight sequence. The
// auditor turns it into structured log entries.
//
// Thread Safety: Decision is a value type and safe to copy.
type Decision struct {
	// RequestID is a unique identifier for this egress attempt.
	RequestID string

	// SessionID links this decision to the originating tutoring session.
	SessionID string

	// Provider is the target reasoning provider (e.g. "anthropic").
	Provider string

	// Model is the specific model being called.
	Model string

	// ContentHash is the SHA256 hex digest of the serialized request
	// content, for compliance verification without storing the content.
	ContentHash string

	// Allowed is true if the request passed every pre-flight check.
	Allowed bool

	// BlockedBy names the check that blocked the request. Empty if allowed.
	BlockedBy string

	// BlockReason is a human-readable explanation of the block.
	BlockReason string

	// EstimatedTokens is the estimated token count for the request.
	EstimatedTokens int

	// EstimatedCostCents is the estimated cost in US cents.
	EstimatedCostCents float64

	// Timestamp is when the decision was made (Unix milliseconds UTC).
	Timestamp int64

	// DurationMs is how long the pre-flight checks took.
	DurationMs int64
}

// NewDecision returns a Decision with the timestamp set to now.
func NewDecision(requestID, sessionID, provider, model string) *Decision {
	return &Decision{
		RequestID: requestID,
		SessionID: sessionID,
		Provider:  provider,
		Model:     model,
		Timestamp: time.Now().UnixMilli(),
	}
}

// HashContent computes the SHA256 hex digest of content for the audit trail.
// Returns an empty string for empty input.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}
