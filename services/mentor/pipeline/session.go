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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/MathMentor/services/mentor/classify"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/route"
)

// =============================================================================
// Session
// =============================================================================

// Session is the full record of one tutoring run.
//
// Description:
//
//	A session accumulates the pipeline's working set: the parse, the
//	classification, the strategy plan, every attempt, and the audit
//	trail. It survives suspension: an ESCALATED session carries enough
//	state to resume exactly where it stopped, including after a process
//	restart when a suspended-session store is configured.
//
//	Only one run may execute on a session at a time; TryAcquire guards
//	the driver's run loop. All other access goes through the locked
//	accessors.
//
// Thread Safety: Safe for concurrent use via its methods. Do not read or
// write the exported fields directly while a run is active.
type Session struct {
	// ID is the session identifier (UUID).
	ID string `json:"id"`

	// RawText is the original submission, untouched.
	RawText string `json:"raw_text"`

	// ClarifiedText is the effective input after a clarification added
	// text. Empty until a text answer arrives.
	ClarifiedText string `json:"clarified_text,omitempty"`

	// State is the current lifecycle position.
	State State `json:"state"`

	// Problem is the structured parse, refined as stages run.
	Problem problem.ParsedProblem `json:"problem"`

	// Classification is the most recent classifier verdict.
	Classification *classify.Classification `json:"classification,omitempty"`

	// Plan is the ranked strategy list for the assigned category.
	Plan route.Plan `json:"plan"`

	// Solution is the most recent solver output.
	Solution *problem.Solution `json:"solution,omitempty"`

	// Report is the most recent verification report.
	Report *problem.VerificationReport `json:"report,omitempty"`

	// Explanation is the delivered answer, set only on ACCEPTED.
	Explanation *problem.Explanation `json:"explanation,omitempty"`

	// Attempts is the complete strategy history, in order.
	Attempts []problem.Attempt `json:"attempts,omitempty"`

	// AttemptEpoch marks where the current pass begins in Attempts.
	// Strategy selection only counts attempts at or after the epoch, so a
	// clarified problem gets a fresh pass over the catalog while the full
	// history stays intact for audit.
	AttemptEpoch int `json:"attempt_epoch,omitempty"`

	// Retries counts solve/verify round trips across the session's life.
	Retries int `json:"retries"`

	// EscalationRounds counts clarification round trips.
	EscalationRounds int `json:"escalation_rounds"`

	// Clarification is the pending question while ESCALATED.
	Clarification *problem.ClarificationRequest `json:"clarification,omitempty"`

	// PendingCategory carries a reviewer's category choice into the next
	// CLASSIFYING pass.
	PendingCategory problem.Category `json:"pending_category,omitempty"`

	// Tainted marks sessions whose interpretation came from a
	// clarification answer rather than the classifier alone.
	Tainted bool `json:"tainted,omitempty"`

	// Rounds is the clarification round history.
	Rounds []ClarificationRound `json:"rounds,omitempty"`

	// History is the audit trail.
	History []HistoryEntry `json:"history,omitempty"`

	// StepCount is how many stage executions the session has used.
	StepCount int `json:"step_count"`

	// Feedback is the user's verdict, when one was submitted.
	Feedback *problem.Feedback `json:"feedback,omitempty"`

	// Err is the structured failure for ABANDONED and FAILED sessions.
	Err *RunError `json:"error,omitempty"`

	// CreatedAt is when the session was created (Unix milliseconds UTC).
	CreatedAt int64 `json:"created_at"`

	// LastActiveAt is when the session last changed (Unix milliseconds UTC).
	LastActiveAt int64 `json:"last_active_at"`

	// ClosedAt is when the session reached a terminal state.
	ClosedAt int64 `json:"closed_at,omitempty"`

	mu        sync.RWMutex
	running   atomic.Bool
	finalized bool
}

// NewSession returns an empty session in RECEIVED.
func NewSession() *Session {
	now := nowMilli()
	return &Session{
		ID:           uuid.NewString(),
		State:        StateReceived,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

// =============================================================================
// Run exclusivity
// =============================================================================

// TryAcquire claims the session for a run. Returns false when another run
// holds it.
func (s *Session) TryAcquire() bool {
	return s.running.CompareAndSwap(false, true)
}

// Release returns the session after a run.
func (s *Session) Release() {
	s.running.Store(false)
}

// InFlight reports whether a run currently holds the session.
func (s *Session) InFlight() bool {
	return s.running.Load()
}

// =============================================================================
// State
// =============================================================================

// GetState returns the current state.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SetState applies a state without validation. Callers outside the state
// machine should use StateMachine.Transition instead.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.LastActiveAt = nowMilli()
}

// IsTerminated reports whether the session has finished.
func (s *Session) IsTerminated() bool {
	return s.GetState().IsTerminal()
}

// =============================================================================
// Problem and stage outputs
// =============================================================================

// SetRawText records the original submission.
func (s *Session) SetRawText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RawText = text
	s.LastActiveAt = nowMilli()
}

// GetRawText returns the original submission.
func (s *Session) GetRawText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RawText
}

// EffectiveText returns the text the normalizer should parse: the
// clarified text when a reviewer added some, the raw submission otherwise.
func (s *Session) EffectiveText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ClarifiedText != "" {
		return s.ClarifiedText
	}
	return s.RawText
}

// AppendClarifiedText appends reviewer-supplied text to the effective
// input. The combined text is renormalized as a single submission.
func (s *Session) AppendClarifiedText(additional string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.ClarifiedText
	if base == "" {
		base = s.RawText
	}
	s.ClarifiedText = base + "\n" + additional
	s.LastActiveAt = nowMilli()
}

// SetProblem stores the structured parse.
func (s *Session) SetProblem(p problem.ParsedProblem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Problem = p
	s.LastActiveAt = nowMilli()
}

// GetProblem returns the structured parse.
func (s *Session) GetProblem() problem.ParsedProblem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Problem
}

// SetClassification stores the classifier verdict.
func (s *Session) SetClassification(cl classify.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Classification = &cl
	s.LastActiveAt = nowMilli()
}

// GetClassification returns a copy of the classifier verdict, or nil when
// classification has not run.
func (s *Session) GetClassification() *classify.Classification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Classification == nil {
		return nil
	}
	cl := *s.Classification
	return &cl
}

// SetPlan stores the ranked strategy plan.
func (s *Session) SetPlan(plan route.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plan = plan
	s.LastActiveAt = nowMilli()
}

// GetPlan returns the ranked strategy plan.
func (s *Session) GetPlan() route.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Plan
}

// SetSolveTarget records the reviewer-chosen target variable on both the
// parse and the routed plan, so a resume straight into solving sees it.
func (s *Session) SetSolveTarget(variable string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Problem.Metadata = withTargetVariable(s.Problem.Metadata, variable)
	s.Plan.Problem.Metadata = withTargetVariable(s.Plan.Problem.Metadata, variable)
	s.LastActiveAt = nowMilli()
}

func withTargetVariable(md map[string]string, variable string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[metaTargetVariable] = variable
	return out
}

// SetSolution stores the solver output.
func (s *Session) SetSolution(sol *problem.Solution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Solution = sol
	s.LastActiveAt = nowMilli()
}

// GetSolution returns the most recent solver output, or nil.
func (s *Session) GetSolution() *problem.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Solution
}

// SetReport stores the verification report.
func (s *Session) SetReport(rep *problem.VerificationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Report = rep
	s.LastActiveAt = nowMilli()
}

// GetReport returns the most recent verification report, or nil.
func (s *Session) GetReport() *problem.VerificationReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Report
}

// SetExplanation stores the delivered answer.
func (s *Session) SetExplanation(exp *problem.Explanation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Explanation = exp
	s.LastActiveAt = nowMilli()
}

// GetExplanation returns the delivered answer, or nil.
func (s *Session) GetExplanation() *problem.Explanation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Explanation
}

// =============================================================================
// Attempts and counters
// =============================================================================

// AddAttempt appends one strategy attempt.
func (s *Session) AddAttempt(a problem.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts = append(s.Attempts, a)
	s.LastActiveAt = nowMilli()
}

// UpdateLastAttempt attaches the verification outcome to the most recent
// attempt.
func (s *Session) UpdateLastAttempt(confidence float64, rep *problem.VerificationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Attempts) == 0 {
		return
	}
	last := &s.Attempts[len(s.Attempts)-1]
	last.Confidence = confidence
	last.Report = rep
	s.LastActiveAt = nowMilli()
}

// AttemptHistory returns a copy of the complete attempt list.
func (s *Session) AttemptHistory() []problem.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]problem.Attempt(nil), s.Attempts...)
}

// CurrentPassAttempts returns a copy of the attempts made since the last
// epoch reset. Strategy selection consults this slice, not the full
// history, so a clarified problem can revisit the catalog.
func (s *Session) CurrentPassAttempts() []problem.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.AttemptEpoch >= len(s.Attempts) {
		return nil
	}
	return append([]problem.Attempt(nil), s.Attempts[s.AttemptEpoch:]...)
}

// ResetAttemptEpoch starts a fresh strategy pass at the current end of the
// attempt list.
func (s *Session) ResetAttemptEpoch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AttemptEpoch = len(s.Attempts)
}

// RetryCount returns how many retries the session has used.
func (s *Session) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Retries
}

// IncrementRetries bumps the retry counter and returns the new value.
func (s *Session) IncrementRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Retries++
	s.LastActiveAt = nowMilli()
	return s.Retries
}

// RoundCount returns how many clarification rounds the session has used.
func (s *Session) RoundCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EscalationRounds
}

// IncrementRounds bumps the escalation round counter and returns the new
// value.
func (s *Session) IncrementRounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EscalationRounds++
	s.LastActiveAt = nowMilli()
	return s.EscalationRounds
}

// Steps returns how many stage executions the session has used.
func (s *Session) Steps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.StepCount
}

// IncrementSteps bumps the stage execution counter.
func (s *Session) IncrementSteps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StepCount++
}

// =============================================================================
// Clarification
// =============================================================================

// SetClarification stores the pending question and opens a round.
func (s *Session) SetClarification(req problem.ClarificationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clarification = &req
	s.LastActiveAt = nowMilli()
}

// GetClarification returns a copy of the pending question, or nil.
func (s *Session) GetClarification() *problem.ClarificationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Clarification == nil {
		return nil
	}
	req := *s.Clarification
	return &req
}

// OpenRound records the start of a clarification round trip.
func (s *Session) OpenRound(req problem.ClarificationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rounds = append(s.Rounds, ClarificationRound{Request: req})
	s.LastActiveAt = nowMilli()
}

// CloseRound attaches the reviewer's answer to the open round and clears
// the pending question.
func (s *Session) CloseRound(resp problem.ClarificationResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.Rounds); n > 0 && s.Rounds[n-1].Response == nil {
		r := resp
		s.Rounds[n-1].Response = &r
	}
	s.Clarification = nil
	s.LastActiveAt = nowMilli()
}

// RoundHistory returns a copy of the clarification round history.
func (s *Session) RoundHistory() []ClarificationRound {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ClarificationRound(nil), s.Rounds...)
}

// SetPendingCategory stores a reviewer's category choice for the next
// CLASSIFYING pass.
func (s *Session) SetPendingCategory(c problem.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingCategory = c
	s.LastActiveAt = nowMilli()
}

// TakePendingCategory returns and clears the reviewer's category choice.
func (s *Session) TakePendingCategory() problem.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.PendingCategory
	s.PendingCategory = ""
	return c
}

// MarkTainted flags the session as clarification-derived.
func (s *Session) MarkTainted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tainted = true
}

// IsTainted reports whether the interpretation came from a clarification.
func (s *Session) IsTainted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Tainted
}

// =============================================================================
// History and errors
// =============================================================================

// AddHistory appends an audit entry, filling Step and Timestamp.
func (s *Session) AddHistory(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Step = len(s.History) + 1
	if entry.Timestamp == 0 {
		entry.Timestamp = nowMilli()
	}
	s.History = append(s.History, entry)
	s.LastActiveAt = nowMilli()
}

// HistoryTrail returns a copy of the audit trail.
func (s *Session) HistoryTrail() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.History...)
}

// SetRunError records the structured failure for the final result.
func (s *Session) SetRunError(code, message string, recoverable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = &RunError{Code: code, Message: message, Recoverable: recoverable}
	s.LastActiveAt = nowMilli()
}

// RunErr returns the recorded failure, or nil.
func (s *Session) RunErr() *RunError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err == nil {
		return nil
	}
	e := *s.Err
	return &e
}

// SetFeedback attaches the user's verdict.
func (s *Session) SetFeedback(fb *problem.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Feedback = fb
	s.LastActiveAt = nowMilli()
}

// =============================================================================
// Lifecycle
// =============================================================================

// Close stamps the terminal time. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClosedAt == 0 {
		s.ClosedAt = nowMilli()
	}
}

// markFinalized returns true exactly once, guarding terminal side effects
// against double execution.
func (s *Session) markFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return false
	}
	s.finalized = true
	return true
}

// =============================================================================
// Snapshots
// =============================================================================

// SessionSnapshot is the external view of a session, safe to serialize.
type SessionSnapshot struct {
	ID               string                        `json:"id"`
	State            State                         `json:"state"`
	RawText          string                        `json:"raw_text"`
	Category         problem.Category              `json:"category,omitempty"`
	Confidence       float64                       `json:"confidence"`
	Steps            int                           `json:"steps"`
	Retries          int                           `json:"retries"`
	EscalationRounds int                           `json:"escalation_rounds"`
	Attempts         int                           `json:"attempts"`
	Clarification    *problem.ClarificationRequest `json:"clarification,omitempty"`
	Error            string                        `json:"error,omitempty"`
	CreatedAt        int64                         `json:"created_at"`
	LastActiveAt     int64                         `json:"last_active_at"`
	ClosedAt         int64                         `json:"closed_at,omitempty"`
}

// Snapshot returns the external view of the session.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{
		ID:               s.ID,
		State:            s.State,
		RawText:          s.RawText,
		Category:         s.Problem.Category,
		Confidence:       s.bestConfidenceLocked(),
		Steps:            s.StepCount,
		Retries:          s.Retries,
		EscalationRounds: s.EscalationRounds,
		Attempts:         len(s.Attempts),
		CreatedAt:        s.CreatedAt,
		LastActiveAt:     s.LastActiveAt,
		ClosedAt:         s.ClosedAt,
	}
	if s.Clarification != nil {
		req := *s.Clarification
		snap.Clarification = &req
	}
	if s.Err != nil {
		snap.Error = s.Err.Error()
	}
	return snap
}

// Result builds the caller-facing result for the current state.
func (s *Session) Result() *RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := &RunResult{
		SessionID:        s.ID,
		State:            s.State,
		Attempts:         append([]problem.Attempt(nil), s.Attempts...),
		Retries:          s.Retries,
		EscalationRounds: s.EscalationRounds,
	}
	switch s.State {
	case StateAccepted:
		res.Explanation = s.Explanation
	case StateEscalated:
		if s.Clarification != nil {
			req := *s.Clarification
			res.Clarification = &req
		}
	case StateAbandoned, StateFailed:
		if s.Err != nil {
			e := *s.Err
			res.Error = &e
		}
	}
	return res
}

// bestConfidenceLocked returns the highest verification confidence the
// session has reached. Callers hold at least a read lock.
func (s *Session) bestConfidenceLocked() float64 {
	best := 0.0
	for _, a := range s.Attempts {
		if a.Confidence > best {
			best = a.Confidence
		}
	}
	if s.Explanation != nil && s.Explanation.Confidence > best {
		best = s.Explanation.Confidence
	}
	return best
}
