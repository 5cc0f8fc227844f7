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
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MathMentor/services/mentor/classify"
	"github.com/AleutianAI/MathMentor/services/mentor/events"
	"github.com/AleutianAI/MathMentor/services/mentor/memory"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/route"
)

// Metadata keys the driver writes for downstream stages.
const (
	metaTargetVariable = "target_variable"
	metaWorkedExamples = "worked_examples"
)

// Ambiguity fields on clarification requests.
const (
	ambiguousCategory        = "category"
	ambiguousSolveConfidence = "solve_confidence"
)

// maxRecalledExamples bounds how many worked examples feed the solver.
const maxRecalledExamples = 3

// =============================================================================
// Stage dispatch
// =============================================================================

// executeStage runs the stage for the current state and returns the next
// state. The per-stage timeout, span, latency metric, and history entry
// are handled here so the stage functions stay on the domain logic.
func (d *Driver) executeStage(ctx context.Context, session *Session, state State) (State, error) {
	if d.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.stepTimeout)
		defer cancel()
	}
	ctx, span := pipelineTracer.Start(ctx, "pipeline."+strings.ToLower(string(state)))
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", session.ID),
		attribute.String("state", string(state)),
	)

	start := time.Now()
	var next State
	var detail string
	var err error
	switch state {
	case StateNormalizing:
		next, detail, err = d.stageNormalize(session)
	case StateClassifying:
		next, detail, err = d.stageClassify(ctx, session)
	case StateRouting:
		next, detail, err = d.stageRoute(ctx, session)
	case StateSolving:
		next, detail, err = d.stageSolve(ctx, session)
	case StateVerifying:
		next, detail, err = d.stageVerify(ctx, session)
	case StateExplaining:
		next, detail, err = d.stageExplain(ctx, session)
	case StateRetrying:
		next, detail, err = d.stageRetry(session)
	default:
		return state, fmt.Errorf("pipeline: no stage for state %s", state)
	}

	elapsed := time.Since(start)
	observeStage(state, elapsed)
	entry := HistoryEntry{
		Type:       HistoryStage,
		State:      state,
		Detail:     detail,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
	}
	session.AddHistory(entry)
	session.IncrementSteps()
	return next, err
}

// =============================================================================
// Stages
// =============================================================================

func (d *Driver) stageNormalize(session *Session) (State, string, error) {
	input := session.EffectiveText()
	p, err := d.stages.Normalizer.Normalize(input)
	if err != nil {
		return StateNormalizing, "", fmt.Errorf("pipeline: normalize session %s: %w", session.ID, err)
	}
	session.SetProblem(p)
	return StateClassifying, fmt.Sprintf("%d equations, %d variables", len(p.Equations), len(p.Variables)), nil
}

func (d *Driver) stageClassify(ctx context.Context, session *Session) (State, string, error) {
	p := session.GetProblem()

	// A reviewer's category choice overrides the classifier. The parse
	// keeps the clarify confidence so verification stays honest about
	// where the interpretation came from.
	if choice := session.TakePendingCategory(); choice != "" {
		p = p.WithCategory(choice, d.cfg.ClarifyConfidence)
		session.SetProblem(p)
		return StateRouting, fmt.Sprintf("category %s from clarification", choice), nil
	}

	cl, err := d.stages.Classifier.Classify(ctx, p)
	if err != nil {
		return StateClassifying, "", fmt.Errorf("pipeline: classify session %s: %w", session.ID, err)
	}
	session.SetClassification(cl)
	p = p.WithCategory(cl.Category, cl.Confidence)
	if session.IsTainted() && p.Confidence > d.cfg.ClarifyConfidence {
		p.Confidence = d.cfg.ClarifyConfidence
	}
	session.SetProblem(p)

	// Unknown always escalates; the router has no catalog for it. The
	// confidence floor is waived on tainted sessions because the human
	// already grounded the interpretation.
	if cl.Category == problem.CategoryUnknown || (!session.IsTainted() && cl.Confidence < d.cfg.ClassifierFloor) {
		session.SetClarification(d.categoryClarification(session, &cl))
		recordEscalation(ambiguousCategory)
		return StateEscalated, fmt.Sprintf("category %s confidence %.2f below floor %.2f",
			cl.Category, cl.Confidence, d.cfg.ClassifierFloor), nil
	}
	return StateRouting, fmt.Sprintf("category %s confidence %.2f", cl.Category, cl.Confidence), nil
}

func (d *Driver) stageRoute(ctx context.Context, session *Session) (State, string, error) {
	p := session.GetProblem()
	plan, err := d.stages.Router.Route(ctx, p)
	if err != nil {
		return StateRouting, "", fmt.Errorf("pipeline: route session %s: %w", session.ID, err)
	}
	if d.mem != nil && plan.Problem.Metadata[metaWorkedExamples] == "" {
		if examples, rerr := d.mem.Recall(ctx, plan.Problem.Text, plan.Problem.Category); rerr != nil {
			d.log.Debug("worked example recall failed", "session_id", session.ID, "error", rerr)
		} else if len(examples) > 0 {
			plan.Problem = withMetadata(plan.Problem, metaWorkedExamples, formatWorkedExamples(examples))
		}
	}
	session.SetPlan(plan)
	session.SetProblem(plan.Problem)
	return StateSolving, fmt.Sprintf("%d strategies for shape %s", len(plan.Strategies), plan.Shape), nil
}

func (d *Driver) stageSolve(ctx context.Context, session *Session) (State, string, error) {
	plan := session.GetPlan()
	strat, ok := route.NextStrategy(plan, session.CurrentPassAttempts())
	if !ok {
		session.SetClarification(d.solveClarification(session))
		recordEscalation(ambiguousSolveConfidence)
		return StateEscalated, "no untried strategy remains", nil
	}

	sol, err := d.stages.Solver.Solve(ctx, plan.Problem, strat)
	if err != nil {
		if problem.IsSolverError(err) {
			session.AddAttempt(problem.Attempt{
				Strategy:      strat,
				Succeeded:     false,
				FailureReason: err.Error(),
			})
			d.log.Warn("strategy failed",
				"session_id", session.ID,
				"strategy", strat.Name,
				"error", err)
			if session.RetryCount() < d.cfg.MaxRetries {
				if _, more := route.NextStrategy(plan, session.CurrentPassAttempts()); more {
					return StateRetrying, fmt.Sprintf("strategy %s failed", strat.Name), nil
				}
			}
			session.SetClarification(d.solveClarification(session))
			recordEscalation(ambiguousSolveConfidence)
			return StateEscalated, fmt.Sprintf("strategy %s failed with no retry budget", strat.Name), nil
		}
		return StateSolving, "", fmt.Errorf("pipeline: solve session %s with %s: %w", session.ID, strat.Name, err)
	}

	session.SetSolution(&sol)
	session.AddAttempt(problem.Attempt{Strategy: strat, Succeeded: true})
	return StateVerifying, fmt.Sprintf("strategy %s produced %s", strat.Name, sol.Result), nil
}

func (d *Driver) stageVerify(ctx context.Context, session *Session) (State, string, error) {
	p := session.GetProblem()
	sol := session.GetSolution()
	if sol == nil {
		return StateVerifying, "", fmt.Errorf("pipeline: verify session %s: no solution recorded", session.ID)
	}
	rep, err := d.stages.Verifier.Verify(ctx, p, *sol)
	if err != nil {
		return StateVerifying, "", fmt.Errorf("pipeline: verify session %s: %w", session.ID, err)
	}
	session.SetReport(&rep)
	session.UpdateLastAttempt(rep.Confidence, &rep)
	detail := fmt.Sprintf("method %s confidence %.2f", rep.Method, rep.Confidence)

	if rep.Confidence >= d.cfg.AcceptThreshold {
		return StateExplaining, detail, nil
	}

	// Retrying another strategy only helps when the parse itself is
	// trusted. A shaky classification escalates instead, because no
	// strategy can repair a misread problem.
	if p.Confidence >= d.cfg.ClassifierFloor && session.RetryCount() < d.cfg.MaxRetries {
		if _, more := route.NextStrategy(session.GetPlan(), session.CurrentPassAttempts()); more {
			return StateRetrying, detail + " below accept threshold", nil
		}
	}

	field := ambiguousSolveConfidence
	if p.Confidence < d.cfg.ClassifierFloor {
		field = ambiguousCategory
	}
	if field == ambiguousCategory {
		session.SetClarification(d.categoryClarification(session, session.GetClassification()))
	} else {
		session.SetClarification(d.solveClarification(session))
	}
	recordEscalation(field)
	return StateEscalated, detail + " below accept threshold", nil
}

func (d *Driver) stageExplain(ctx context.Context, session *Session) (State, string, error) {
	p := session.GetProblem()
	sol := session.GetSolution()
	rep := session.GetReport()
	if sol == nil || rep == nil {
		return StateExplaining, "", fmt.Errorf("pipeline: explain session %s: missing solution or report", session.ID)
	}
	exp, err := d.stages.Explainer.Explain(ctx, p, *sol, *rep)
	if err != nil {
		return StateExplaining, "", fmt.Errorf("pipeline: explain session %s: %w", session.ID, err)
	}
	session.SetExplanation(&exp)
	d.emitter.Emit(session.ID, events.TypeSolutionReady, events.SolutionData{
		Result:     exp.Result,
		Confidence: exp.Confidence,
		Strategy:   sol.StrategyUsed,
		Summary:    exp.Summary,
	})
	return StateAccepted, "answer " + exp.Result, nil
}

func (d *Driver) stageRetry(session *Session) (State, string, error) {
	n := session.IncrementRetries()
	recordRetry()
	return StateRouting, fmt.Sprintf("retry %d of %d", n, d.cfg.MaxRetries), nil
}

// =============================================================================
// Clarification plumbing
// =============================================================================

// applyClarification maps a reviewer answer onto the resume target and
// prepares the session for it. No state change happens here; the caller
// transitions after the bookkeeping succeeds.
func (d *Driver) applyClarification(session *Session, resp problem.ClarificationResponse) (State, string, error) {
	req := session.GetClarification()
	if req == nil {
		return StateEscalated, "", fmt.Errorf("%w: %s has no pending request", ErrNotSuspended, session.ID)
	}
	if text := strings.TrimSpace(resp.AdditionalText); text != "" {
		session.AppendClarifiedText(text)
		session.ResetAttemptEpoch()
		return StateNormalizing, "additional text supplied", nil
	}
	choice := strings.TrimSpace(resp.ChosenInterpretation)
	if !slices.Contains(req.CandidateInterpretations, choice) {
		return StateEscalated, "", fmt.Errorf("%w: %q", ErrUnknownInterpretation, choice)
	}
	if req.AmbiguousField == ambiguousCategory {
		session.SetPendingCategory(problem.Category(choice))
		session.ResetAttemptEpoch()
		return StateClassifying, "category " + choice, nil
	}
	target := strings.TrimPrefix(choice, "solve for ")
	session.SetSolveTarget(target)
	session.ResetAttemptEpoch()
	return StateSolving, "solve target " + target, nil
}

func (d *Driver) categoryClarification(session *Session, cl *classify.Classification) problem.ClarificationRequest {
	return problem.ClarificationRequest{
		AmbiguousField:           ambiguousCategory,
		CandidateInterpretations: categoryCandidates(cl),
		OriginalText:             session.GetRawText(),
	}
}

func (d *Driver) solveClarification(session *Session) problem.ClarificationRequest {
	return problem.ClarificationRequest{
		AmbiguousField:           ambiguousSolveConfidence,
		CandidateInterpretations: solveCandidates(session.GetProblem()),
		OriginalText:             session.GetRawText(),
	}
}

// categoryCandidates lists the plausible categories, most likely first.
// With no classifier signal at all it offers the full catalog.
func categoryCandidates(cl *classify.Classification) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(c problem.Category) {
		s := string(c)
		if c == "" || c == problem.CategoryUnknown || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	if cl != nil {
		add(cl.Category)
		for _, alt := range cl.Alternatives {
			add(alt)
		}
	}
	if len(out) == 0 {
		for _, c := range problem.AllCategories() {
			add(c)
		}
	}
	return out
}

// solveCandidates offers solve targets when the target variable is the
// plausible ambiguity. Empty otherwise, which steers the reviewer toward
// supplying text.
func solveCandidates(p problem.ParsedProblem) []string {
	if len(p.Variables) < 2 || p.Metadata[metaTargetVariable] != "" {
		return nil
	}
	out := make([]string, 0, len(p.Variables))
	for _, v := range p.Variables {
		out = append(out, "solve for "+v)
	}
	return out
}

// =============================================================================
// Helpers
// =============================================================================

// formatWorkedExamples renders recalled examples for the solver's guided
// strategies.
func formatWorkedExamples(examples []memory.WorkedExample) string {
	if len(examples) > maxRecalledExamples {
		examples = examples[:maxRecalledExamples]
	}
	lines := make([]string, 0, len(examples))
	for _, ex := range examples {
		lines = append(lines, fmt.Sprintf("- %s => %s (via %s)", ex.ProblemText, ex.Result, ex.Strategy))
	}
	return strings.Join(lines, "\n")
}

// withMetadata returns the problem with the key set on a copied metadata
// map, leaving the original record untouched.
func withMetadata(p problem.ParsedProblem, key, value string) problem.ParsedProblem {
	md := make(map[string]string, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		md[k] = v
	}
	md[key] = value
	p.Metadata = md
	return p
}
