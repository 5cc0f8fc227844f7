// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	classifierEscalationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "classifier",
		Name:      "escalation_total",
		Help:      "Classification escalation events by outcome: skipped, success, error, hallucination, disabled",
	}, []string{"outcome"})

	classifierEscalationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "classifier",
		Name:      "escalation_latency_seconds",
		Help:      "Latency of reasoning-backed classification calls",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	classifierVerdictTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "classifier",
		Name:      "verdict_total",
		Help:      "Final classification verdicts by category and source",
	}, []string{"category", "source"})
)

// =============================================================================
// EscalatingClassifier
// =============================================================================

// EscalatingClassifier wraps a primary rule classifier and consults the
// reasoning capability when the rules are inconclusive.
//
// Description:
//
//	Delegates to the primary classifier first. If the primary verdict's
//	confidence is at or above the floor, it is final and no model is
//	called. Below the floor, the problem goes to the reasoning capability
//	as a structured classification call; on success the model's verdict
//	wins with its confidence capped at the ceiling, and on any failure
//	(timeout, transport error, invalid category) the primary verdict is
//	returned unchanged. The classifier therefore never fails harder than
//	its deterministic core.
//
// Thread Safety: Safe for concurrent use.
type EscalatingClassifier struct {
	primary Classifier
	client  llm.LLMClient
	floor   float64
	ceiling float64
	timeout time.Duration
	log     *slog.Logger
}

// NewEscalatingClassifier creates an EscalatingClassifier.
//
// Inputs:
//   - primary: The deterministic rule classifier. Must not be nil.
//   - client: Reasoning client. Nil disables escalation entirely.
//   - floor: Minimum primary confidence to skip escalation. Non-positive
//     uses 0.5.
//   - ceiling: Maximum confidence a model verdict may carry. Non-positive
//     uses 0.85.
//   - timeout: Bound on the reasoning call. Non-positive uses 30s.
//   - log: Logger. Nil falls back to slog.Default().
//
// Outputs:
//   - *EscalatingClassifier: The constructed classifier. Never nil.
func NewEscalatingClassifier(primary Classifier, client llm.LLMClient,
	floor, ceiling float64, timeout time.Duration, log *slog.Logger) *EscalatingClassifier {

	if log == nil {
		log = slog.Default()
	}
	if floor <= 0 {
		floor = 0.5
	}
	if ceiling <= 0 {
		ceiling = 0.85
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EscalatingClassifier{
		primary: primary,
		client:  client,
		floor:   floor,
		ceiling: ceiling,
		timeout: timeout,
		log:     log,
	}
}

// Classify implements Classifier with reasoning escalation.
func (c *EscalatingClassifier) Classify(ctx context.Context, p problem.ParsedProblem) (Classification, error) {
	ctx, span := classifyTracer.Start(ctx, "classify.EscalatingClassifier.Classify",
		trace.WithAttributes(
			attribute.Bool("escalation_configured", c.client != nil),
			attribute.Float64("floor", c.floor),
		),
	)
	defer span.End()

	primary, err := c.primary.Classify(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "primary classifier failed")
		return Classification{}, err
	}

	span.SetAttributes(
		attribute.String("primary_category", string(primary.Category)),
		attribute.Float64("primary_confidence", primary.Confidence),
	)

	if primary.Confidence >= c.floor {
		classifierEscalationTotal.WithLabelValues("skipped").Inc()
		classifierVerdictTotal.WithLabelValues(string(primary.Category), primary.Source).Inc()
		span.SetAttributes(attribute.Bool("escalated", false))
		return primary, nil
	}

	if c.client == nil {
		classifierEscalationTotal.WithLabelValues("disabled").Inc()
		classifierVerdictTotal.WithLabelValues(string(primary.Category), primary.Source).Inc()
		span.SetAttributes(attribute.Bool("escalated", false))
		return primary, nil
	}

	result := c.escalate(ctx, p, primary)
	classifierVerdictTotal.WithLabelValues(string(result.Category), result.Source).Inc()
	span.SetAttributes(
		attribute.Bool("escalated", true),
		attribute.String("category", string(result.Category)),
		attribute.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// reasoningVerdict is the structured shape the model fills in.
type reasoningVerdict struct {
	Category     string   `json:"category"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

// escalate asks the reasoning capability for a verdict. Any failure degrades
// to the primary result (best effort, never worse than the rules alone).
func (c *EscalatingClassifier) escalate(ctx context.Context, p problem.ParsedProblem,
	primary Classification) Classification {

	c.log.Info("classification escalation triggered",
		slog.String("primary_category", string(primary.Category)),
		slog.Float64("primary_confidence", primary.Confidence),
		slog.Float64("floor", c.floor),
	)

	escCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var verdict reasoningVerdict
	err := llm.StructuredCall(escCtx, c.client,
		classificationSystemPrompt, classificationUserPrompt(p),
		classificationTool(), llm.GenerationParams{
			Temperature: llm.Float32Ptr(0),
			MaxTokens:   llm.IntPtr(512),
		}, &verdict)
	classifierEscalationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		c.log.Warn("classification escalation failed, using rule verdict",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		classifierEscalationTotal.WithLabelValues("error").Inc()
		return primary
	}

	category := problem.Category(strings.TrimSpace(verdict.Category))
	if !category.IsValid() {
		c.log.Warn("model returned unknown category, using rule verdict",
			slog.String("hallucinated", verdict.Category),
		)
		classifierEscalationTotal.WithLabelValues("hallucination").Inc()
		return primary
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > c.ceiling {
		confidence = c.ceiling
	}
	if category == problem.CategoryUnknown {
		confidence = 0
	}

	var alternatives []problem.Category
	for _, alt := range verdict.Alternatives {
		cat := problem.Category(strings.TrimSpace(alt))
		if cat.IsValid() && cat != category && cat != problem.CategoryUnknown {
			alternatives = append(alternatives, cat)
		}
	}
	if len(alternatives) == 0 {
		alternatives = primary.Alternatives
	}

	c.log.Info("classification escalation succeeded",
		slog.String("category", string(category)),
		slog.Float64("confidence", confidence),
		slog.Duration("duration", time.Since(start)),
	)
	classifierEscalationTotal.WithLabelValues("success").Inc()

	return Classification{
		Category:     category,
		Confidence:   confidence,
		Signals:      primary.Signals,
		Alternatives: alternatives,
		Source:       SourceReasoning,
	}
}

// =============================================================================
// Prompt and tool schema
// =============================================================================

const classificationSystemPrompt = `You classify mathematics problems into exactly one category.

Categories:
- algebra: single-variable polynomial or rational equations (solve, factor, find roots)
- linear_system: simultaneous linear equations in two or more variables
- calculus_derivative: differentiation requests
- calculus_integral_indefinite: antiderivatives, integrals without bounds
- calculus_integral_definite: integrals with a bound pair
- probability: combinatorial, conditional, or distributional probability
- word_problem: natural-language problems that need translating into equations
- unknown: none of the above fits

Pick the single best category. Report honest confidence in [0,1]. List other plausible categories in alternatives when the problem is genuinely ambiguous.`

func classificationUserPrompt(p problem.ParsedProblem) string {
	var b strings.Builder
	b.WriteString("Problem: ")
	b.WriteString(p.Text)
	if len(p.Equations) > 0 {
		b.WriteString("\nExtracted expressions: ")
		b.WriteString(strings.Join(p.Equations, "; "))
	}
	if p.Bounds != nil {
		fmt.Fprintf(&b, "\nBounds: %s", p.Bounds)
	}
	return b.String()
}

func classificationTool() llm.ToolDef {
	categories := make([]any, 0, len(problem.AllCategories()))
	for _, cat := range problem.AllCategories() {
		categories = append(categories, string(cat))
	}

	return llm.FunctionTool("classify_math_problem",
		"Record the classification verdict for a mathematics problem",
		llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"category": {
					Type:        "string",
					Description: "The single best category",
					Enum:        categories,
				},
				"confidence": {
					Type:        "number",
					Description: "Classification confidence in [0,1]",
				},
				"alternatives": {
					Type:        "array",
					Description: "Other plausible categories, most likely first",
					Items:       &llm.ToolParamDef{Type: "string"},
				},
				"reasoning": {
					Type:        "string",
					Description: "One-sentence basis for the choice",
				},
			},
			Required: []string{"category", "confidence"},
		})
}

// Ensure EscalatingClassifier implements Classifier.
var _ Classifier = (*EscalatingClassifier)(nil)
