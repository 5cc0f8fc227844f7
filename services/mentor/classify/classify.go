// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify assigns a problem category to normalized submissions.
//
// Classification is rule-first: structural signals the normalizer already
// resolved (integral and derivative intent verbs, multi-equation systems)
// are checked in code, then a keyword rule table runs over the canonical
// text. The reasoning capability is consulted only when rules come back
// below the configured floor, and its verdicts are capped so a model guess
// never outranks a deterministic signal. Unrecognized input is never an
// error: it classifies as unknown with confidence 0, which the escalation
// policy treats as an immediate clarification trigger.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

var classifyTracer = otel.Tracer("mentor.classify")

// Classification sources.
const (
	// SourceRules marks verdicts produced by structural checks or the
	// keyword table.
	SourceRules = "rules"

	// SourceReasoning marks verdicts produced by the reasoning fallback.
	SourceReasoning = "reasoning"
)

// Structural signal strengths. Keyword strengths live in rules.yaml next to
// their patterns.
const (
	confIntentBounded  = 0.98
	confIntent         = 0.95
	confMultiEquation  = 0.90
	confEquationForm   = 0.85
	confBareExpression = 0.60
)

// Classification is the classifier's verdict for one problem.
type Classification struct {
	// Category is the assigned category. Never empty: unrecognized input
	// yields CategoryUnknown.
	Category problem.Category `json:"category"`

	// Confidence is in [0,1]. CategoryUnknown always carries 0.
	Confidence float64 `json:"confidence"`

	// Signals names the rules that matched, strongest first. Empty for
	// unknown verdicts.
	Signals []string `json:"signals,omitempty"`

	// Alternatives lists other plausible categories when signals conflict,
	// strongest first. Feeds clarification candidate interpretations.
	Alternatives []problem.Category `json:"alternatives,omitempty"`

	// Source records what produced the verdict: SourceRules or
	// SourceReasoning.
	Source string `json:"source"`
}

// Classifier assigns a category and confidence to a normalized problem.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify returns the verdict for p.
	//
	// Description:
	//
	//	Never fails on unrecognized input; that is a CategoryUnknown
	//	verdict with confidence 0. The error return covers infrastructure
	//	failures only (context cancellation).
	//
	// Inputs:
	//   - ctx: Context for tracing and cancellation.
	//   - p: The normalized problem, category unset.
	//
	// Outputs:
	//   - Classification: The verdict.
	//   - error: Non-nil only on infrastructure failure.
	Classify(ctx context.Context, p problem.ParsedProblem) (Classification, error)
}

// =============================================================================
// RuleClassifier
// =============================================================================

// RuleClassifier classifies with structural checks plus the embedded keyword
// table. Fully deterministic: identical records always produce identical
// verdicts.
//
// Thread Safety: Safe for concurrent use after construction.
type RuleClassifier struct {
	rules   []keywordRule
	penalty float64
	log     *slog.Logger
}

// NewRuleClassifier compiles the embedded rule table.
//
// Outputs:
//   - *RuleClassifier: The classifier, ready for use.
//   - error: Non-nil if the embedded table fails to parse or compile.
func NewRuleClassifier(log *slog.Logger) (*RuleClassifier, error) {
	if log == nil {
		log = slog.Default()
	}
	rules, penalty, err := loadKeywordRules()
	if err != nil {
		return nil, err
	}
	return &RuleClassifier{rules: rules, penalty: penalty, log: log}, nil
}

// Classify implements Classifier using structural signals first, then the
// keyword table, then equation-shape fallbacks.
func (c *RuleClassifier) Classify(ctx context.Context, p problem.ParsedProblem) (Classification, error) {
	_, span := classifyTracer.Start(ctx, "classify.RuleClassifier.Classify",
		trace.WithAttributes(
			attribute.Int("text_length", len(p.Text)),
			attribute.Int("equations", len(p.Equations)),
		),
	)
	defer span.End()

	result := c.classify(p)

	span.SetAttributes(
		attribute.String("category", string(result.Category)),
		attribute.Float64("confidence", result.Confidence),
		attribute.Int("alternatives", len(result.Alternatives)),
	)

	c.log.Debug("rule classification",
		slog.String("category", string(result.Category)),
		slog.Float64("confidence", result.Confidence),
		slog.Any("signals", result.Signals),
	)

	return result, nil
}

func (c *RuleClassifier) classify(p problem.ParsedProblem) Classification {
	if result, ok := structuralClassification(p); ok {
		return result
	}

	if result, ok := c.keywordClassification(p.Text); ok {
		return result
	}

	// No keyword matched; the equation shape alone decides.
	if len(p.Equations) > 0 {
		for _, eq := range p.Equations {
			if strings.Contains(eq, "=") {
				return Classification{
					Category:   problem.CategoryAlgebra,
					Confidence: confEquationForm,
					Signals:    []string{"equation_form"},
					Source:     SourceRules,
				}
			}
		}
		return Classification{
			Category:   problem.CategoryAlgebra,
			Confidence: confBareExpression,
			Signals:    []string{"bare_expression"},
			Source:     SourceRules,
		}
	}

	return Classification{
		Category:   problem.CategoryUnknown,
		Confidence: 0,
		Source:     SourceRules,
	}
}

// structuralClassification resolves the signals the normalizer already made
// unambiguous. These return immediately: an intent verb in the canonical
// text is definitive regardless of what other keywords appear around it.
func structuralClassification(p problem.ParsedProblem) (Classification, bool) {
	if strings.Contains(p.Text, "integrate ") {
		if p.Bounds != nil {
			return Classification{
				Category:   problem.CategoryIntegralDefinite,
				Confidence: confIntentBounded,
				Signals:    []string{"integral_intent_bounded"},
				Source:     SourceRules,
			}, true
		}
		return Classification{
			Category:   problem.CategoryIntegralIndefinite,
			Confidence: confIntent,
			Signals:    []string{"integral_intent"},
			Source:     SourceRules,
		}, true
	}

	if strings.Contains(p.Text, "differentiate ") {
		return Classification{
			Category:   problem.CategoryDerivative,
			Confidence: confIntent,
			Signals:    []string{"derivative_intent"},
			Source:     SourceRules,
		}, true
	}

	if len(p.Equations) >= 2 && len(p.Variables) >= 2 && linearSystemShape(p.Equations) {
		return Classification{
			Category:   problem.CategoryLinearSystem,
			Confidence: confMultiEquation,
			Signals:    []string{"multi_equation_system"},
			Source:     SourceRules,
		}, true
	}

	return Classification{}, false
}

// linearSystemShape reports whether every entry is an equation with no
// exponentiation. Nonlinear systems fall through to the keyword table and
// the algebra fallback instead of claiming a strategy that cannot hold.
func linearSystemShape(equations []string) bool {
	for _, eq := range equations {
		if !strings.Contains(eq, "=") || strings.Contains(eq, "^") {
			return false
		}
	}
	return true
}

// keywordClassification scans the rule table in declaration order. The first
// match sets the category; later matches for other categories become
// alternatives and apply the ambiguity penalty once.
func (c *RuleClassifier) keywordClassification(text string) (Classification, bool) {
	var (
		matched      []keywordRule
		signals      []string
		alternatives []problem.Category
	)
	seen := map[problem.Category]bool{}

	for _, rule := range c.rules {
		if rule.re.MatchString(text) {
			matched = append(matched, rule)
			signals = append(signals, rule.name)
			if len(matched) > 1 && !seen[rule.category] {
				alternatives = append(alternatives, rule.category)
			}
			seen[rule.category] = true
		}
	}

	if len(matched) == 0 {
		return Classification{}, false
	}

	confidence := matched[0].confidence
	if len(alternatives) > 0 {
		confidence -= c.penalty
		if confidence < 0.05 {
			confidence = 0.05
		}
	}

	return Classification{
		Category:     matched[0].category,
		Confidence:   confidence,
		Signals:      signals,
		Alternatives: alternatives,
		Source:       SourceRules,
	}, true
}

// Ensure RuleClassifier implements Classifier.
var _ Classifier = (*RuleClassifier)(nil)
