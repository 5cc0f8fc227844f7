// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explain turns an accepted solution into the final annotated
// answer.
//
// Every step statement is carried over verbatim; the Explainer fills only
// the justification fields, from a canned rule-name table first, with the
// reasoning capability phrasing operations outside the table. Topic
// enrichment (key concepts, common mistakes, related problems) comes from
// the same table, so two runs over the same solution produce the same
// prose. Internal solver bookkeeping never reaches the output.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

var explainTracer = otel.Tracer("mentor.explain")

// =============================================================================
// Explainer
// =============================================================================

// Explainer annotates accepted solutions for presentation.
//
// Thread Safety: stateless aside from the immutable table and shared
// client; safe for concurrent use.
type Explainer struct {
	reasoning config.ReasoningConfig
	client    llm.LLMClient
	table     *justificationTable
	log       *slog.Logger
}

// NewExplainer returns an Explainer. The client may be nil, in which case
// operations outside the canned table receive generic prose. A nil logger
// falls back to slog.Default().
func NewExplainer(reasoning config.ReasoningConfig, client llm.LLMClient, log *slog.Logger) *Explainer {
	if log == nil {
		log = slog.Default()
	}
	return &Explainer{
		reasoning: reasoning,
		client:    client,
		table:     mustJustifications(),
		log:       log,
	}
}

// Explain produces the final annotated answer for an accepted solution.
//
// Description:
//
//	Copies the solution's steps and fills each justification from the
//	rule-name table. Operations the table does not know are phrased in
//	one batched reasoning call; if that call cannot run, they receive
//	generic prose instead. Statements and operations pass through
//	unmodified, the summary and topic enrichment are assembled from the
//	table, and solver metadata is dropped.
//
// Inputs:
//   - ctx: Context for cancellation and the phrasing timeout.
//   - p: The problem the solution answers.
//   - sol: The accepted solution.
//   - rep: The verification report backing the acceptance.
//
// Outputs:
//   - problem.Explanation: The annotated answer for the presentation layer.
//   - error: Non-nil only when ctx is cancelled mid-phrasing.
//
// Thread Safety: Safe for concurrent use.
func (e *Explainer) Explain(ctx context.Context, p problem.ParsedProblem,
	sol problem.Solution, rep problem.VerificationReport) (problem.Explanation, error) {

	ctx, span := explainTracer.Start(ctx, "explain.Explainer.Explain")
	defer span.End()
	span.SetAttributes(
		attribute.String("category", string(p.Category)),
		attribute.String("strategy", sol.StrategyUsed),
		attribute.Int("steps", len(sol.Steps)),
	)

	steps := make([]problem.SolutionStep, len(sol.Steps))
	copy(steps, sol.Steps)

	var unknown []int
	for i := range steps {
		if j, ok := e.table.Operations[steps[i].Operation]; ok {
			steps[i].Justification = j
			continue
		}
		unknown = append(unknown, i)
	}
	if len(unknown) > 0 {
		if err := e.phraseSteps(ctx, p, steps, unknown); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				span.RecordError(cerr)
				span.SetStatus(codes.Error, "explanation cancelled")
				return problem.Explanation{}, cerr
			}
			e.log.Debug("justification phrasing unavailable, using generic prose",
				"operations", len(unknown),
				"cause", err,
			)
			for _, i := range unknown {
				steps[i].Justification = genericJustification(steps[i].Operation)
			}
		}
	}

	out := problem.Explanation{
		Summary:    e.summary(sol, rep),
		Steps:      steps,
		Result:     sol.Result,
		Confidence: rep.Confidence,
		Category:   p.Category,
	}
	if sol.NumericValue != nil {
		v := *sol.NumericValue
		out.NumericValue = &v
	}
	e.enrich(&out, p.Category)

	span.SetAttributes(attribute.Int("phrased", len(unknown)))
	e.log.Debug("explanation assembled",
		"category", string(p.Category),
		"steps", len(steps),
		"phrased", len(unknown),
	)
	return out, nil
}

// summary states how the problem was solved and how the answer was checked.
func (e *Explainer) summary(sol problem.Solution, rep problem.VerificationReport) string {
	display := e.table.Strategies[sol.StrategyUsed]
	if display == "" {
		display = strings.ReplaceAll(sol.StrategyUsed, "_", " ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Solved using %s; the answer is %s.", display, sol.Result)
	if rep.Passed {
		if m := e.table.Methods[string(rep.Method)]; m != "" {
			fmt.Fprintf(&b, " The result was verified by %s.", m)
		}
	} else {
		b.WriteString(" The result could not be verified and should be treated with care.")
	}
	return b.String()
}

// enrich attaches the topic notes, falling back to the category name alone
// when the table has no entry for it.
func (e *Explainer) enrich(out *problem.Explanation, cat problem.Category) {
	notes, ok := e.table.Topics[string(cat)]
	if !ok {
		if cat != "" && cat != problem.CategoryUnknown {
			out.KeyConcepts = []string{string(cat)}
		}
		out.Encouragement = e.table.DefaultEncouragement
		return
	}
	out.KeyConcepts = notes.KeyConcepts
	out.CommonMistakes = notes.CommonMistakes
	out.RelatedProblems = notes.RelatedProblems
	out.Encouragement = notes.Encouragement
}

// genericJustification stands in when neither the table nor the reasoning
// capability can speak to an operation.
func genericJustification(op string) string {
	return fmt.Sprintf("Applies the %s step.", strings.ReplaceAll(op, "_", " "))
}
