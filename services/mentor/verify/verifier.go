// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify checks solver output by a method disjoint from the one
// that produced it.
//
// Roots go back into their equations by complex substitution, symbolic
// derivatives are re-measured with central differences, numerically fitted
// derivatives are re-derived symbolically, definite integrals are
// re-integrated on an independent Gauss-Legendre grid, and probabilities
// are range-checked and cross-solved with an alternate strategy. When no
// deterministic check applies, the reasoning capability renders a
// qualitative verdict whose confidence is capped below every deterministic
// pass. A check that cannot run degrades the report instead of failing the
// pipeline.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	verifierChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentor",
			Subsystem: "verifier",
			Name:      "checks_total",
			Help:      "Verification reports by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	verifierConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mentor",
			Subsystem: "verifier",
			Name:      "confidence",
			Help:      "Final calibrated confidence per report.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

var verifyTracer = otel.Tracer("mentor.verify")

// =============================================================================
// Verifier
// =============================================================================

// CrossChecker re-solves a problem with a named strategy so a report can
// compare two independent computations. *solve.Solver satisfies it.
type CrossChecker interface {
	Solve(ctx context.Context, p problem.ParsedProblem, strat problem.Strategy) (problem.Solution, error)
}

// Verifier scores solver output against the originating problem.
//
// Thread Safety: stateless aside from configuration and the shared clients;
// safe for concurrent use.
type Verifier struct {
	cfg       config.VerifierConfig
	reasoning config.ReasoningConfig
	checker   CrossChecker
	client    llm.LLMClient
	log       *slog.Logger
}

// NewVerifier returns a Verifier. The checker may be nil, in which case
// probability reports rest on the range check alone. The client may be nil,
// in which case the reasoning rung of the ladder reports unavailable. A nil
// logger falls back to slog.Default().
func NewVerifier(cfg config.VerifierConfig, reasoning config.ReasoningConfig,
	checker CrossChecker, client llm.LLMClient, log *slog.Logger) *Verifier {

	if log == nil {
		log = slog.Default()
	}
	return &Verifier{cfg: cfg, reasoning: reasoning, checker: checker, client: client, log: log}
}

// Verify checks one solution and scores the result.
//
// Description:
//
//	Picks the check family from the strategy that produced the solution,
//	always one computing by different means than the solver did. When the
//	deterministic check cannot run it falls through to the reasoning
//	capability, and when that is also unavailable it emits a degraded
//	report at reduced confidence. The pipeline therefore always receives
//	a report; verification gaps lower confidence, they never abort.
//
// Inputs:
//   - ctx: Context for cancellation and the reasoning timeout.
//   - p: The problem the solution answers, as the solver received it.
//   - sol: The solution under test.
//
// Outputs:
//   - problem.VerificationReport: Verdict, method, calibrated confidence,
//     discrepancy, and the cases covered.
//   - error: Non-nil only when ctx is cancelled mid-check.
//
// Thread Safety: Safe for concurrent use.
func (v *Verifier) Verify(ctx context.Context, p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	ctx, span := verifyTracer.Start(ctx, "verify.Verifier.Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", sol.StrategyUsed),
		attribute.String("category", string(p.Category)),
	)

	degraded := false
	rep, detErr := v.deterministicCheck(ctx, p, sol)
	if detErr != nil {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "verification cancelled")
			return problem.VerificationReport{}, err
		}
		v.log.Debug("deterministic verification unavailable",
			"strategy", sol.StrategyUsed,
			"cause", detErr,
		)
		var llmErr error
		rep, llmErr = v.llmCheck(ctx, p, sol)
		if llmErr != nil {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "verification cancelled")
				return problem.VerificationReport{}, err
			}
			span.RecordError(llmErr)
			degraded = true
			rep = degradedReport(detErr, llmErr)
		}
	}

	rep.Confidence = v.finalConfidence(p, rep)

	outcome := "passed"
	switch {
	case degraded:
		outcome = "degraded"
	case !rep.Passed:
		outcome = "failed"
	}
	verifierChecksTotal.WithLabelValues(string(rep.Method), outcome).Inc()
	verifierConfidence.Observe(rep.Confidence)
	span.SetAttributes(
		attribute.String("method", string(rep.Method)),
		attribute.Bool("passed", rep.Passed),
		attribute.Float64("confidence", rep.Confidence),
	)
	v.log.Debug("verification complete",
		"strategy", sol.StrategyUsed,
		"method", string(rep.Method),
		"outcome", outcome,
		"confidence", rep.Confidence,
		"level", string(GetConfidenceLevel(rep.Confidence)),
	)
	return rep, nil
}

// deterministicCheck dispatches to the check family disjoint from the solve
// method. The returned error is a *problem.VerificationUnavailable when the
// family cannot run against this solution.
func (v *Verifier) deterministicCheck(ctx context.Context, p problem.ParsedProblem,
	sol problem.Solution) (problem.VerificationReport, error) {

	switch sol.StrategyUsed {
	case problem.StrategyLinearIsolation, problem.StrategyQuadraticFormula,
		problem.StrategyFactorRoots, problem.StrategyNumericRootScan,
		problem.StrategyGaussianElimination, problem.StrategyEquationTranslation,
		problem.StrategyGuidedEquationExtr:
		return v.checkRoots(p, sol)
	case problem.StrategyPowerRuleDerivative:
		return v.checkDerivativeByDifferences(p, sol)
	case problem.StrategyFiniteDiffProfile:
		return v.checkDerivativeBySymbols(p, sol)
	case problem.StrategyPowerRuleAntideriv:
		return v.checkAntiderivByDifferences(p, sol)
	case problem.StrategyGuidedAntideriv:
		return v.checkAntiderivBySymbols(p, sol)
	case problem.StrategyAntiderivEval, problem.StrategySimpsonQuadrature:
		return v.checkQuadrature(p, sol)
	case problem.StrategyCombinatorialCount, problem.StrategyBayesRule,
		problem.StrategyBinomialFormula, problem.StrategyComplementRule,
		problem.StrategySeededMonteCarlo:
		return v.checkProbability(ctx, p, sol)
	}
	return problem.VerificationReport{}, unavailable(problem.MethodLLMCheck,
		"no_deterministic_method", fmt.Errorf("strategy %q has no deterministic check", sol.StrategyUsed))
}

// finalConfidence folds the classification confidence into the report score
// and enforces the band ordering: failures capped at failConfidenceCeiling,
// reasoning-only verdicts capped by configuration, strong deterministic
// passes floored at deterministicPassFloor.
func (v *Verifier) finalConfidence(p problem.ParsedProblem, rep problem.VerificationReport) float64 {
	var adjs []ConfidenceAdjustment
	if p.Confidence > 0 && p.Confidence < unclearClassificationCutoff {
		adjs = append(adjs, AdjustmentUnclearClassification)
	}
	c := CalibrateConfidence(rep.Confidence, adjs...)

	if !rep.Passed {
		c = math.Min(c, failConfidenceCeiling)
	}
	if rep.Method == problem.MethodLLMCheck {
		c = math.Min(c, v.cfg.LLMConfidenceCeiling)
	}
	if rep.Passed && rep.Method.Deterministic() && rep.Method != problem.MethodBoundsCheck {
		c = math.Max(c, deterministicPassFloor)
	}
	return c
}

// degradedReport stands in when neither a deterministic check nor the
// reasoning capability could run. The solution proceeds at reduced
// confidence with both gaps on record.
func degradedReport(detErr, llmErr error) problem.VerificationReport {
	return problem.VerificationReport{
		Passed:     true,
		Method:     problem.MethodLLMCheck,
		Confidence: degradedConfidence,
		Issues:     []string{detErr.Error(), llmErr.Error()},
	}
}

// =============================================================================
// Helpers
// =============================================================================

func unavailable(m problem.VerificationMethod, reason string, cause error) error {
	return &problem.VerificationUnavailable{Method: m, Reason: reason, Cause: cause}
}

// constantValue evaluates a variable-free expression such as "8" or "pi/2".
func constantValue(raw string) (float64, error) {
	n, err := expr.Parse(strings.ReplaceAll(raw, " ", ""))
	if err != nil {
		return 0, err
	}
	return expr.Eval(n, nil)
}

// formatComplex renders a substituted value in calculator syntax.
func formatComplex(z complex128) string {
	if imag(z) == 0 {
		return expr.FormatFloat(real(z))
	}
	imPart := expr.FormatFloat(math.Abs(imag(z))) + "*i"
	if math.Abs(imag(z)) == 1 {
		imPart = "i"
	}
	sign := "+"
	if imag(z) < 0 {
		sign = "-"
	}
	if real(z) == 0 {
		if sign == "-" {
			return "-" + imPart
		}
		return imPart
	}
	return expr.FormatFloat(real(z)) + sign + imPart
}

func (v *Verifier) generationParams() llm.GenerationParams {
	return llm.GenerationParams{
		Temperature: llm.Float32Ptr(float32(v.reasoning.Temperature)),
		MaxTokens:   llm.IntPtr(v.reasoning.MaxTokens),
	}
}
