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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/MathMentor/services/mentor/archive"
	"github.com/AleutianAI/MathMentor/services/mentor/classify"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/events"
	"github.com/AleutianAI/MathMentor/services/mentor/memory"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/route"
)

var pipelineTracer = otel.Tracer("mentor.pipeline")

// maxSessionSteps is a hard cap on stage executions per session. The retry
// and escalation budgets bound every honest run well below this; the cap
// exists so a driver bug cannot spin a session forever.
const maxSessionSteps = 96

// =============================================================================
// Stage interfaces
// =============================================================================

// Normalizer parses raw text into a structured problem.
type Normalizer interface {
	Normalize(raw string) (problem.ParsedProblem, error)
}

// Classifier assigns a category and confidence.
type Classifier interface {
	Classify(ctx context.Context, p problem.ParsedProblem) (classify.Classification, error)
}

// Router ranks candidate strategies for a classified problem.
type Router interface {
	Route(ctx context.Context, p problem.ParsedProblem) (route.Plan, error)
}

// Solver executes one strategy against a problem.
type Solver interface {
	Solve(ctx context.Context, p problem.ParsedProblem, strat problem.Strategy) (problem.Solution, error)
}

// Verifier checks a solution independently of how it was produced.
type Verifier interface {
	Verify(ctx context.Context, p problem.ParsedProblem, sol problem.Solution) (problem.VerificationReport, error)
}

// Explainer annotates an accepted solution for the student.
type Explainer interface {
	Explain(ctx context.Context, p problem.ParsedProblem, sol problem.Solution, rep problem.VerificationReport) (problem.Explanation, error)
}

// ExampleMemory is the slice of the interaction memory the driver uses:
// recall before solving, archive on completion, feedback afterwards.
type ExampleMemory interface {
	Recall(ctx context.Context, text string, category problem.Category) ([]memory.WorkedExample, error)
	Remember(ctx context.Context, rec *memory.InteractionRecord) error
	RecordFeedback(ctx context.Context, id string, fb *problem.Feedback) error
}

// Stages bundles the six pipeline stages. All fields are required.
type Stages struct {
	Normalizer Normalizer
	Classifier Classifier
	Router     Router
	Solver     Solver
	Verifier   Verifier
	Explainer  Explainer
}

// =============================================================================
// Loop interface
// =============================================================================

// Loop is the driver API the service layer talks to.
type Loop interface {
	// Run starts a new session on the submitted text. It blocks until the
	// session reaches a terminal state or suspends in ESCALATED.
	Run(ctx context.Context, session *Session, rawText string) (*RunResult, error)

	// Continue resumes a suspended session with a clarification answer.
	Continue(ctx context.Context, sessionID string, resp problem.ClarificationResponse) (*RunResult, error)

	// Abort ends a session early. Suspended sessions become ABANDONED,
	// everything else becomes FAILED. Terminal sessions are a no-op.
	Abort(ctx context.Context, sessionID string) error

	// Feedback attaches a user verdict to a finished session.
	Feedback(ctx context.Context, sessionID string, fb *problem.Feedback) error

	// GetState returns the external snapshot of a session.
	GetState(ctx context.Context, sessionID string) (*SessionSnapshot, error)

	// GetSession returns the live session object.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns all known session ids, live and suspended.
	ListSessions(ctx context.Context) ([]string, error)

	// CloseSession drops a session from the stores.
	CloseSession(ctx context.Context, sessionID string) error
}

// =============================================================================
// Driver
// =============================================================================

// Driver runs tutoring sessions through the stage pipeline.
//
// Description:
//
//	The driver owns the run loop: it executes stages, applies the state
//	machine, enforces the retry and escalation budgets, and performs the
//	terminal side effects (interaction memory, analytics, archival,
//	events). Stage implementations are injected so the loop can be
//	exercised against stubs.
//
// Thread Safety: Safe for concurrent use. Each session runs at most one
// loop at a time; the concurrent-session cap bounds total load.
type Driver struct {
	mu        sync.Mutex
	active    int
	maxActive int

	cfg         config.PipelineConfig
	stages      Stages
	machine     *StateMachine
	sessions    SessionStore
	suspended   *SuspendedStore
	emitter     *events.Emitter
	mem         ExampleMemory
	analytics   *memory.AnalyticsRecorder
	archiver    *archive.Uploader
	stepTimeout time.Duration
	log         *slog.Logger
}

// DriverOption configures optional driver collaborators.
type DriverOption func(*Driver)

// WithSessionStore replaces the in-memory session store.
func WithSessionStore(store SessionStore) DriverOption {
	return func(d *Driver) { d.sessions = store }
}

// WithSuspendedStore enables suspended-session persistence.
func WithSuspendedStore(store *SuspendedStore) DriverOption {
	return func(d *Driver) { d.suspended = store }
}

// WithEmitter replaces the driver's event emitter.
func WithEmitter(emitter *events.Emitter) DriverOption {
	return func(d *Driver) { d.emitter = emitter }
}

// WithMemory wires the interaction memory. Pass only a non-nil recaller.
func WithMemory(mem ExampleMemory) DriverOption {
	return func(d *Driver) { d.mem = mem }
}

// WithAnalytics wires the analytics recorder.
func WithAnalytics(rec *memory.AnalyticsRecorder) DriverOption {
	return func(d *Driver) { d.analytics = rec }
}

// WithArchiver wires the escalation bundle uploader.
func WithArchiver(up *archive.Uploader) DriverOption {
	return func(d *Driver) { d.archiver = up }
}

// WithLogger sets the driver logger.
func WithLogger(log *slog.Logger) DriverOption {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMaxConcurrentSessions caps simultaneous runs. Zero means unlimited.
func WithMaxConcurrentSessions(n int) DriverOption {
	return func(d *Driver) { d.maxActive = n }
}

// WithStepTimeout overrides the per-stage timeout from configuration.
func WithStepTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) { d.stepTimeout = timeout }
}

// NewDriver builds a driver over the given stages.
//
// Description:
//
//	Every stage is required; collaborators (stores, memory, analytics,
//	archiver, emitter) are optional and default to inert or in-memory
//	implementations.
//
// Inputs:
//
//	cfg - Pipeline thresholds and budgets, already validated.
//	stages - The six stage implementations. None may be nil.
//	opts - Optional collaborators.
//
// Outputs:
//
//	*Driver - The ready driver.
//	error - Non-nil when a required stage is missing.
//
// Thread Safety: The returned driver is safe for concurrent use.
func NewDriver(cfg config.PipelineConfig, stages Stages, opts ...DriverOption) (*Driver, error) {
	switch {
	case stages.Normalizer == nil:
		return nil, errors.New("pipeline: nil normalizer")
	case stages.Classifier == nil:
		return nil, errors.New("pipeline: nil classifier")
	case stages.Router == nil:
		return nil, errors.New("pipeline: nil router")
	case stages.Solver == nil:
		return nil, errors.New("pipeline: nil solver")
	case stages.Verifier == nil:
		return nil, errors.New("pipeline: nil verifier")
	case stages.Explainer == nil:
		return nil, errors.New("pipeline: nil explainer")
	}
	d := &Driver{
		cfg:         cfg,
		stages:      stages,
		machine:     NewStateMachine(),
		stepTimeout: time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sessions == nil {
		d.sessions = NewInMemorySessionStore()
	}
	if d.emitter == nil {
		d.emitter = events.NewEmitter()
	}
	return d, nil
}

// Events returns the emitter sessions publish to, for subscribers.
func (d *Driver) Events() *events.Emitter {
	return d.emitter
}

// =============================================================================
// Run
// =============================================================================

// Run starts a new session on the submitted text.
//
// Description:
//
//	Validates the input, claims the session, and drives the stage loop
//	until the session reaches a terminal state or suspends. Execution
//	failures inside the run do not surface as errors; they come back in
//	RunResult.Error with state FAILED.
//
// Inputs:
//
//	ctx - Caller context; cancellation fails the run at the next stage
//	boundary.
//	session - A fresh session in RECEIVED. Must not be nil.
//	rawText - The problem submission.
//
// Outputs:
//
//	*RunResult - The outcome, including suspensions.
//	error - Non-nil only for input validation and admission failures.
//
// Thread Safety: Safe for concurrent use across sessions.
func (d *Driver) Run(ctx context.Context, session *Session, rawText string) (*RunResult, error) {
	if session == nil {
		return nil, ErrNilSession
	}
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return nil, fmt.Errorf("%w: session %s", ErrEmptyProblem, session.ID)
	}
	if state := session.GetState(); state != StateReceived {
		return nil, fmt.Errorf("%w: run requires RECEIVED, session %s is %s",
			ErrInvalidTransition, session.ID, state)
	}
	if !session.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", ErrSessionInProgress, session.ID)
	}
	defer session.Release()
	if err := d.acquireSlot(); err != nil {
		return nil, err
	}
	defer d.releaseSlot()

	session.SetRawText(rawText)
	d.sessions.Put(session)
	d.log.Info("session started", "session_id", session.ID, "chars", len(rawText))

	if err := d.transition(session, StateNormalizing, d.machine.TransitionReason(StateReceived, StateNormalizing)); err != nil {
		return nil, err
	}
	return d.runLoop(ctx, session)
}

// Continue resumes a suspended session with a clarification answer.
//
// Description:
//
//	The answer decides where the pipeline re-enters: added text goes
//	back to NORMALIZING, a category choice to CLASSIFYING, a solve
//	target to SOLVING. The attempt history and counters survive the
//	suspension; only the strategy epoch resets when the effective
//	problem changed. The session is marked tainted so downstream
//	confidence arithmetic knows the interpretation came from a human.
//
// Inputs:
//
//	ctx - Caller context.
//	sessionID - The suspended session.
//	resp - The reviewer's answer; exactly one field set.
//
// Outputs:
//
//	*RunResult - The outcome of the resumed run.
//	error - Non-nil for validation failures, unknown sessions, sessions
//	not in ESCALATED, or answers that pick an interpretation that was
//	never offered.
//
// Thread Safety: Safe for concurrent use.
func (d *Driver) Continue(ctx context.Context, sessionID string, resp problem.ClarificationResponse) (*RunResult, error) {
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: continue session %s: %w", sessionID, err)
	}
	session, err := d.lookupSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", ErrSessionInProgress, sessionID)
	}
	defer session.Release()
	if session.GetState() != StateEscalated {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSuspended, sessionID, session.GetState())
	}
	if err := d.acquireSlot(); err != nil {
		return nil, err
	}
	defer d.releaseSlot()

	target, detail, err := d.applyClarification(session, resp)
	if err != nil {
		return nil, err
	}
	session.MarkTainted()
	session.CloseRound(resp)
	session.AddHistory(HistoryEntry{Type: HistoryClarification, State: StateEscalated, Detail: detail})
	if derr := d.suspended.Delete(ctx, sessionID); derr != nil {
		d.log.Warn("failed to drop suspended copy", "session_id", sessionID, "error", derr)
	}
	d.log.Info("session resumed", "session_id", sessionID, "target", target, "detail", detail)

	if err := d.transition(session, target, d.machine.TransitionReason(StateEscalated, target)); err != nil {
		return nil, err
	}
	return d.runLoop(ctx, session)
}

// Abort ends a session early.
func (d *Driver) Abort(ctx context.Context, sessionID string) error {
	session, err := d.lookupSession(ctx, sessionID)
	if err != nil {
		return err
	}
	state := session.GetState()
	if state.IsTerminal() {
		return nil
	}
	session.AddHistory(HistoryEntry{Type: HistoryAbort, State: state, Detail: "aborted by operator"})
	if state == StateEscalated {
		session.SetRunError(ErrCodeAborted, "abandoned by reviewer", false)
		if terr := d.transition(session, StateAbandoned, "abandoned by reviewer"); terr != nil {
			return terr
		}
		d.finalize(ctx, session)
		return nil
	}
	session.SetRunError(ErrCodeAborted, "aborted by operator", false)
	if terr := d.transition(session, StateFailed, d.machine.TransitionReason(state, StateFailed)); terr != nil {
		// The table admits FAILED from every active state; losing a race
		// with the run loop still must leave the session terminated.
		session.SetState(StateFailed)
	}
	if !session.InFlight() {
		d.finalize(ctx, session)
	}
	return nil
}

// Feedback attaches a user verdict to a finished session.
func (d *Driver) Feedback(ctx context.Context, sessionID string, fb *problem.Feedback) error {
	if fb == nil || !fb.Type.IsValid() {
		return ErrInvalidFeedback
	}
	session, err := d.lookupSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsTerminated() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, sessionID, session.GetState())
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	session.SetFeedback(fb)
	if d.mem != nil {
		if merr := d.mem.RecordFeedback(ctx, sessionID, fb); merr != nil {
			d.log.Warn("failed to record feedback in memory", "session_id", sessionID, "error", merr)
		}
	}
	d.analytics.RecordFeedback(ctx, session.GetProblem().Category, fb.Type)
	d.log.Info("feedback recorded", "session_id", sessionID, "verdict", fb.Type)
	return nil
}

// GetState returns the external snapshot of a session.
func (d *Driver) GetState(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	session, err := d.lookupSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := session.Snapshot()
	return &snap, nil
}

// GetSession returns the live session object.
func (d *Driver) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return d.lookupSession(ctx, sessionID)
}

// ListSessions returns all known session ids, live and suspended, sorted.
func (d *Driver) ListSessions(ctx context.Context) ([]string, error) {
	ids := d.sessions.List()
	stored, err := d.suspended.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range stored {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CloseSession drops a session from the stores. Idempotent.
func (d *Driver) CloseSession(ctx context.Context, sessionID string) error {
	if session, ok := d.sessions.Get(sessionID); ok && session.InFlight() {
		return fmt.Errorf("%w: %s", ErrSessionInProgress, sessionID)
	}
	d.sessions.Delete(sessionID)
	return d.suspended.Delete(ctx, sessionID)
}

// =============================================================================
// Run loop
// =============================================================================

// runLoop advances the session until it terminates or suspends.
func (d *Driver) runLoop(ctx context.Context, session *Session) (*RunResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			d.failSession(session, "", ErrCodeCanceled, fmt.Errorf("run canceled: %w", err))
			d.finalize(ctx, session)
			return session.Result(), nil
		}
		state := session.GetState()
		if state.IsTerminal() {
			d.finalize(ctx, session)
			return session.Result(), nil
		}
		if state == StateEscalated {
			return d.suspendSession(ctx, session)
		}
		if session.Steps() >= maxSessionSteps {
			d.failSession(session, string(state), ErrCodeStepLimit,
				fmt.Errorf("session exceeded %d stage executions", maxSessionSteps))
			continue
		}

		next, err := d.executeStage(ctx, session, state)
		if err != nil {
			code := ErrCodeStage
			switch {
			case ctx.Err() != nil:
				code = ErrCodeCanceled
			case errors.Is(err, context.DeadlineExceeded):
				code = ErrCodeTimeout
			case problem.IsNormalizationError(err):
				code = ErrCodeNormalization
			}
			d.failSession(session, string(state), code, err)
			continue
		}
		if next == state {
			continue
		}
		if next == StateEscalated && !d.admitEscalation(session, state) {
			continue
		}
		if terr := d.transition(session, next, d.machine.TransitionReason(state, next)); terr != nil {
			d.failSession(session, string(state), ErrCodeStage, terr)
		}
	}
}

// admitEscalation charges one escalation round. When the budget is spent
// it routes the session to ABANDONED instead and reports false.
func (d *Driver) admitEscalation(session *Session, from State) bool {
	if session.RoundCount() < d.cfg.MaxEscalationRounds {
		session.IncrementRounds()
		if req := session.GetClarification(); req != nil {
			session.OpenRound(*req)
		}
		return true
	}
	exhausted := &problem.EscalationExhausted{
		Rounds:   session.RoundCount(),
		Attempts: session.AttemptHistory(),
	}
	session.SetRunError(ErrCodeExhausted, exhausted.Error(), false)
	if err := d.transition(session, StateEscalated, d.machine.TransitionReason(from, StateEscalated)); err != nil {
		d.failSession(session, string(from), ErrCodeStage, err)
		return false
	}
	if err := d.transition(session, StateAbandoned, d.machine.TransitionReason(StateEscalated, StateAbandoned)); err != nil {
		d.failSession(session, string(StateEscalated), ErrCodeStage, err)
	}
	return false
}

// suspendSession persists the waiting session and hands the clarification
// request back to the caller.
func (d *Driver) suspendSession(ctx context.Context, session *Session) (*RunResult, error) {
	req := session.GetClarification()
	if req == nil {
		d.failSession(session, string(StateEscalated), ErrCodeStage,
			errors.New("escalated without a clarification request"))
		d.finalize(ctx, session)
		return session.Result(), nil
	}
	if err := d.suspended.Save(ctx, session); err != nil {
		d.log.Warn("failed to persist suspended session", "session_id", session.ID, "error", err)
	}
	d.emitter.Emit(session.ID, events.TypeClarificationRequested, events.ClarificationData{
		AmbiguousField:           req.AmbiguousField,
		CandidateInterpretations: req.CandidateInterpretations,
		Round:                    session.RoundCount(),
	})
	d.log.Info("session suspended for clarification",
		"session_id", session.ID,
		"ambiguous_field", req.AmbiguousField,
		"round", session.RoundCount())
	return session.Result(), nil
}

// =============================================================================
// Internals
// =============================================================================

// transition applies a state change with logging, history, and events.
func (d *Driver) transition(session *Session, to State, reason string) error {
	from := session.GetState()
	if err := d.machine.Transition(session, to); err != nil {
		return err
	}
	d.log.Info("state transition",
		"session_id", session.ID,
		"from", from,
		"to", to,
		"reason", reason)
	session.AddHistory(HistoryEntry{
		Type:   HistoryTransition,
		State:  to,
		Detail: fmt.Sprintf("%s -> %s: %s", from, to, reason),
	})
	d.emitter.Emit(session.ID, events.TypeStateTransition, events.StateTransitionData{
		From:   from.String(),
		To:     to.String(),
		Reason: reason,
	})
	return nil
}

// failSession records an unrecoverable failure and forces FAILED. The
// first terminal verdict wins; later failures on a finished session are
// dropped.
func (d *Driver) failSession(session *Session, stage, code string, err error) {
	if session.IsTerminated() {
		return
	}
	recoverable := code == ErrCodeCanceled || code == ErrCodeTimeout
	session.SetRunError(code, err.Error(), recoverable)
	d.emitter.Emit(session.ID, events.TypeError, events.ErrorData{
		Error:       err.Error(),
		Stage:       stage,
		Recoverable: recoverable,
	})
	d.log.Error("session failed",
		"session_id", session.ID,
		"stage", stage,
		"code", code,
		"error", err)
	from := session.GetState()
	if terr := d.transition(session, StateFailed, d.machine.TransitionReason(from, StateFailed)); terr != nil {
		session.SetState(StateFailed)
	}
}

// lookupSession finds a session in the live store, falling back to the
// suspended store.
func (d *Driver) lookupSession(ctx context.Context, id string) (*Session, error) {
	if session, ok := d.sessions.Get(id); ok {
		return session, nil
	}
	session, err := d.suspended.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	d.sessions.Put(session)
	return session, nil
}

func (d *Driver) acquireSlot() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxActive > 0 && d.active >= d.maxActive {
		return fmt.Errorf("%w: limit %d", ErrTooManyActive, d.maxActive)
	}
	d.active++
	pipelineActiveSessions.Inc()
	return nil
}

func (d *Driver) releaseSlot() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active > 0 {
		d.active--
		pipelineActiveSessions.Dec()
	}
}
