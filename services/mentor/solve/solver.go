// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solve executes routed strategies against canonical problems.
//
// Each strategy is an executor that either produces a complete step-by-step
// Solution or reports a *problem.SolverError naming what made the strategy
// inapplicable. Deterministic strategies compute everything themselves;
// guided strategies consult the reasoning capability for a candidate and
// then validate that candidate with the same deterministic machinery before
// trusting it. The solver never guesses: input outside a strategy's
// competence is a structured failure for the retry walk, not a fabricated
// answer.
package solve

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	solverAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentor",
			Subsystem: "solver",
			Name:      "attempts_total",
			Help:      "Strategy executions by strategy name and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	solverDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mentor",
			Subsystem: "solver",
			Name:      "duration_seconds",
			Help:      "Wall time per strategy execution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
)

var solverTracer = otel.Tracer("mentor.solve")

// =============================================================================
// Solver
// =============================================================================

// Solver executes strategies from a routed plan.
//
// Thread Safety: stateless aside from configuration and the shared reasoning
// client; safe for concurrent use.
type Solver struct {
	cfg       config.SolverConfig
	reasoning config.ReasoningConfig
	client    llm.LLMClient
	log       *slog.Logger
}

// NewSolver returns a Solver. The client may be nil, in which case external
// strategies report a SolverError instead of calling out. A nil logger falls
// back to slog.Default().
func NewSolver(cfg config.SolverConfig, reasoning config.ReasoningConfig,
	client llm.LLMClient, log *slog.Logger) *Solver {

	if log == nil {
		log = slog.Default()
	}
	return &Solver{cfg: cfg, reasoning: reasoning, client: client, log: log}
}

// Solve executes one strategy against a canonical problem.
//
// Description:
//
//	Dispatches on the strategy name to the matching executor. A returned
//	Solution always carries at least one step and names the strategy that
//	produced it. Failures come back as *problem.SolverError so the caller
//	can record the attempt and walk to the next ranked strategy.
//
// Inputs:
//   - ctx: Context for cancellation. Guided strategies derive their
//     reasoning timeout from it.
//   - p: The canonical problem, refined by the router.
//   - strat: The strategy to execute, usually from NextStrategy.
//
// Outputs:
//   - problem.Solution: Complete structured solution on success.
//   - error: *problem.SolverError on failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Solver) Solve(ctx context.Context, p problem.ParsedProblem,
	strat problem.Strategy) (problem.Solution, error) {

	ctx, span := solverTracer.Start(ctx, "solve.Solver.Solve")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", strat.Name),
		attribute.String("category", string(p.Category)),
	)

	exec := s.executor(strat.Name)
	if exec == nil {
		err := solverErr(strat.Name, "unknown_strategy", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown strategy")
		solverAttemptsTotal.WithLabelValues(strat.Name, "error").Inc()
		return problem.Solution{}, err
	}

	start := time.Now()
	sol, err := exec(ctx, p)
	solverDuration.WithLabelValues(strat.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy failed")
		solverAttemptsTotal.WithLabelValues(strat.Name, "error").Inc()
		s.log.Debug("strategy failed", "strategy", strat.Name, "error", err)
		return problem.Solution{}, err
	}
	if len(sol.Steps) == 0 {
		err := solverErr(strat.Name, "empty_solution", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty solution")
		solverAttemptsTotal.WithLabelValues(strat.Name, "error").Inc()
		return problem.Solution{}, err
	}

	sol.StrategyUsed = strat.Name
	solverAttemptsTotal.WithLabelValues(strat.Name, "success").Inc()
	s.log.Debug("strategy succeeded",
		"strategy", strat.Name,
		"steps", len(sol.Steps),
	)
	return sol, nil
}

// executor maps a strategy name to its implementation.
func (s *Solver) executor(name string) func(context.Context, problem.ParsedProblem) (problem.Solution, error) {
	switch name {
	case problem.StrategyLinearIsolation:
		return s.linearIsolation
	case problem.StrategyQuadraticFormula:
		return s.quadraticFormula
	case problem.StrategyFactorRoots:
		return s.factorRoots
	case problem.StrategyNumericRootScan:
		return s.numericRootScan
	case problem.StrategyGaussianElimination:
		return s.gaussianElimination
	case problem.StrategyPowerRuleDerivative:
		return s.powerRuleDerivative
	case problem.StrategyFiniteDiffProfile:
		return s.finiteDifferenceProfile
	case problem.StrategyPowerRuleAntideriv:
		return s.powerRuleAntiderivative
	case problem.StrategyGuidedAntideriv:
		return s.guidedAntiderivative
	case problem.StrategyAntiderivEval:
		return s.antiderivativeEvaluation
	case problem.StrategySimpsonQuadrature:
		return s.simpsonQuadrature
	case problem.StrategyCombinatorialCount:
		return s.combinatorialCounting
	case problem.StrategyBayesRule:
		return s.bayesRule
	case problem.StrategyBinomialFormula:
		return s.binomialFormula
	case problem.StrategyComplementRule:
		return s.complementRule
	case problem.StrategySeededMonteCarlo:
		return s.seededMonteCarlo
	case problem.StrategyEquationTranslation:
		return s.equationTranslation
	case problem.StrategyGuidedEquationExtr:
		return s.guidedEquationExtraction
	}
	return nil
}

// =============================================================================
// Shared helpers
// =============================================================================

// solverErr builds the structured failure every executor reports through.
func solverErr(strategy, reason string, cause error) error {
	return &problem.SolverError{Strategy: strategy, Reason: reason, Cause: cause}
}

// step builds a solution step. Justifications stay empty here; the explainer
// fills them downstream.
func step(statement, operation string) problem.SolutionStep {
	return problem.SolutionStep{Statement: statement, Operation: operation}
}

// numeric returns a pointer for Solution.NumericValue.
func numeric(v float64) *float64 { return &v }

// generationParams maps the reasoning configuration onto call parameters for
// the guided strategies.
func (s *Solver) generationParams() llm.GenerationParams {
	return llm.GenerationParams{
		Temperature: llm.Float32Ptr(float32(s.reasoning.Temperature)),
		MaxTokens:   llm.IntPtr(s.reasoning.MaxTokens),
	}
}
