// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package problem defines the data model shared by every pipeline stage:
// the parsed problem record, solving strategies, solutions, verification
// reports, clarification payloads, and the error taxonomy.
//
// The types here are deliberately plain, with no behavior beyond construction
// helpers and copy-on-write accessors, so that stages stay pure functions
// over explicit records and the driver owns all mutable state.
package problem

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// Category
// =============================================================================

// Category is the problem classification assigned by the Classifier.
//
// The zero value ("") means "not yet classified". CategoryUnknown is a real
// classification outcome: the Classifier recognized nothing and assigned
// confidence 0, which the escalation controller treats as an immediate
// clarification trigger.
type Category string

const (
	// CategoryAlgebra covers single-variable polynomial and rational equations.
	CategoryAlgebra Category = "algebra"

	// CategoryLinearSystem covers simultaneous linear equations in 2+ variables.
	CategoryLinearSystem Category = "linear_system"

	// CategoryDerivative covers d/dx differentiation requests.
	CategoryDerivative Category = "calculus_derivative"

	// CategoryIntegralIndefinite covers antiderivative requests without bounds.
	CategoryIntegralIndefinite Category = "calculus_integral_indefinite"

	// CategoryIntegralDefinite covers integrals with a bound pair.
	CategoryIntegralDefinite Category = "calculus_integral_definite"

	// CategoryProbability covers combinatorial, conditional, and
	// distributional probability questions.
	CategoryProbability Category = "probability"

	// CategoryWordProblem covers natural-language problems that must be
	// translated into equations before solving.
	CategoryWordProblem Category = "word_problem"

	// CategoryUnknown is assigned when no rule or fallback recognizes the
	// problem. Always paired with confidence 0.
	CategoryUnknown Category = "unknown"
)

// AllCategories returns every classifiable category, excluding the zero value.
func AllCategories() []Category {
	return []Category{
		CategoryAlgebra,
		CategoryLinearSystem,
		CategoryDerivative,
		CategoryIntegralIndefinite,
		CategoryIntegralDefinite,
		CategoryProbability,
		CategoryWordProblem,
		CategoryUnknown,
	}
}

// IsValid reports whether c is one of the declared categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAlgebra, CategoryLinearSystem, CategoryDerivative,
		CategoryIntegralIndefinite, CategoryIntegralDefinite,
		CategoryProbability, CategoryWordProblem, CategoryUnknown:
		return true
	}
	return false
}

// IsCalculus reports whether c is one of the calculus categories.
func (c Category) IsCalculus() bool {
	switch c {
	case CategoryDerivative, CategoryIntegralIndefinite, CategoryIntegralDefinite:
		return true
	}
	return false
}

// =============================================================================
// ParsedProblem
// =============================================================================

// BoundPair is the canonical representation of definite-integral bounds.
//
// Both fields are canonical expression strings (usually plain numerals, but
// "pi/2" and similar are legal). Every source phrasing ("from 2 to 5",
// "(2 to 5)", "[2,5]", "∫₂⁵") normalizes to the same BoundPair.
type BoundPair struct {
	// Lower is the lower bound expression.
	Lower string `json:"lower"`

	// Upper is the upper bound expression.
	Upper string `json:"upper"`
}

// String renders the pair in interval notation for logs and step statements.
func (b BoundPair) String() string {
	return fmt.Sprintf("[%s, %s]", b.Lower, b.Upper)
}

// ParsedProblem is the immutable per-stage record produced by the Normalizer
// and refined by the Classifier and Router.
//
// Description:
//
//	Once Category is set it is never mutated; re-classification (for example
//	after a clarification round) produces a new ParsedProblem via
//	WithCategory or a fresh Normalizer pass. Stages receive the record by
//	value and return derived copies; no stage retains a reference after
//	returning control to the driver.
//
// Thread Safety: Treated as immutable after construction. Callers must use
// the With* copy helpers instead of mutating slices in place.
type ParsedProblem struct {
	// RawText is the original submission, untouched.
	RawText string `json:"raw_text"`

	// Text is the canonicalized problem text after normalization.
	Text string `json:"text"`

	// Category is empty until the Classifier runs.
	Category Category `json:"category,omitempty"`

	// Confidence is the classification confidence in [0,1]. Zero until
	// classified; clarification-tainted parses carry a configured low value.
	Confidence float64 `json:"confidence"`

	// Variables is the sorted set of symbol names appearing in Equations.
	Variables []string `json:"variables,omitempty"`

	// Equations is the ordered sequence of canonical expression strings.
	// An entry containing "=" is an equation; otherwise a bare expression.
	Equations []string `json:"equations,omitempty"`

	// Bounds is present only for definite integrals.
	Bounds *BoundPair `json:"bounds,omitempty"`

	// Constraints holds domain restrictions and side conditions, canonical
	// expression strings in source order.
	Constraints []string `json:"constraints,omitempty"`

	// GivenValues maps variable names to values stated in the problem
	// ("where a = 3"). Constants of the vocabulary (pi, e) are excluded.
	GivenValues map[string]float64 `json:"given_values,omitempty"`

	// Metadata carries auxiliary hints for later stages: detected notation
	// and language from the normalizer, the reviewer-chosen target variable
	// under "target_variable", recalled examples under "worked_examples".
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WithCategory returns a copy of p with the category and classification
// confidence set. The receiver is not modified.
func (p ParsedProblem) WithCategory(c Category, confidence float64) ParsedProblem {
	next := p.Clone()
	next.Category = c
	next.Confidence = confidence
	return next
}

// WithRefinement returns a copy of p with variables and constraints replaced
// by the Router's fully populated sets. Variables are sorted for determinism.
func (p ParsedProblem) WithRefinement(variables, constraints []string) ParsedProblem {
	next := p.Clone()
	next.Variables = append([]string(nil), variables...)
	sort.Strings(next.Variables)
	next.Constraints = append([]string(nil), constraints...)
	return next
}

// Clone returns a deep copy of p. Slices and maps are copied; the copy can
// be mutated without affecting the receiver.
func (p ParsedProblem) Clone() ParsedProblem {
	next := p
	next.Variables = append([]string(nil), p.Variables...)
	next.Equations = append([]string(nil), p.Equations...)
	next.Constraints = append([]string(nil), p.Constraints...)
	if p.Bounds != nil {
		b := *p.Bounds
		next.Bounds = &b
	}
	if p.GivenValues != nil {
		next.GivenValues = make(map[string]float64, len(p.GivenValues))
		for k, v := range p.GivenValues {
			next.GivenValues[k] = v
		}
	}
	if p.Metadata != nil {
		next.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			next.Metadata[k] = v
		}
	}
	return next
}

// =============================================================================
// Strategy
// =============================================================================

// Strategy names a solving method plus the priority rank used for ordering
// retries. Ranking is total and deterministic: lower Rank solves first, ties
// broken by declaration order in the Router's catalog.
type Strategy struct {
	// Name identifies the method (e.g. "quadratic_formula").
	Name string `json:"name"`

	// Rank is the retry priority. Lower is tried first.
	Rank int `json:"rank"`

	// External marks strategies that consult the reasoning capability.
	// External strategies are always ranked after deterministic ones and
	// their verification confidence is capped below deterministic passes.
	External bool `json:"external,omitempty"`
}

// Declared strategy names. The Router's per-category catalogs are built from
// these; the guaranteed last-resort entry per category keeps the Solver's
// "never unable-to-determine" contract for well-formed input.
const (
	StrategyLinearIsolation     = "linear_isolation"
	StrategyQuadraticFormula    = "quadratic_formula"
	StrategyFactorRoots         = "factor_out_roots"
	StrategyNumericRootScan     = "numeric_root_scan"
	StrategyGaussianElimination = "gaussian_elimination"
	StrategyPowerRuleDerivative = "power_rule_derivative"
	StrategyFiniteDiffProfile   = "finite_difference_profile"
	StrategyPowerRuleAntideriv  = "power_rule_antiderivative"
	StrategyGuidedAntideriv     = "guided_antiderivative"
	StrategyAntiderivEval       = "antiderivative_evaluation"
	StrategySimpsonQuadrature   = "simpson_quadrature"
	StrategyCombinatorialCount  = "combinatorial_counting"
	StrategyBayesRule           = "bayes_rule"
	StrategyBinomialFormula     = "binomial_formula"
	StrategyComplementRule      = "complement_rule"
	StrategySeededMonteCarlo    = "seeded_monte_carlo"
	StrategyEquationTranslation = "equation_translation"
	StrategyGuidedEquationExtr  = "guided_equation_extraction"
)

// =============================================================================
// Solution
// =============================================================================

// SolutionStep is one ordered entry of a Solution.
type SolutionStep struct {
	// Statement is the equation or expression at this step, verbatim. The
	// Explainer never alters it.
	Statement string `json:"statement"`

	// Operation names the rule applied (e.g. "apply_quadratic_formula").
	Operation string `json:"operation"`

	// Justification is prose for the student. Empty from the Solver; filled
	// by the Explainer's lookup table or, failing that, the reasoning
	// capability.
	Justification string `json:"justification,omitempty"`
}

// Solution is the Solver's structured output for one strategy attempt.
//
// Steps is always non-empty: the Solver's contract is a best-effort step
// sequence, never an "unable to determine" sentinel. Structural invalidity
// is reported via SolverError instead of an empty Solution.
type Solution struct {
	// Steps is the ordered step sequence. Never empty.
	Steps []SolutionStep `json:"steps"`

	// Result is the final expression or value, as a canonical string.
	Result string `json:"result"`

	// StrategyUsed names the strategy that produced this solution.
	StrategyUsed string `json:"strategy_used"`

	// NumericValue is present when a decimal evaluation is meaningful
	// (definite integrals, probabilities, single numeric roots).
	NumericValue *float64 `json:"numeric_value,omitempty"`

	// Roots holds the numeric root set for equation-solving strategies.
	// Complex roots are carried as (re, im) pairs so the Verifier can
	// substitute them without re-parsing Result.
	Roots []Root `json:"roots,omitempty"`
}

// Root is a single (possibly complex) root with its multiplicity.
type Root struct {
	Re           float64 `json:"re"`
	Im           float64 `json:"im"`
	Multiplicity int     `json:"multiplicity"`
}

// IsReal reports whether the root has no imaginary part.
func (r Root) IsReal() bool { return r.Im == 0 }

// =============================================================================
// Verification
// =============================================================================

// VerificationMethod is the closed set of checking methods. The external
// reasoning path is always last in the deterministic ranking.
type VerificationMethod string

const (
	MethodSubstitution        VerificationMethod = "substitution"
	MethodDomainCheck         VerificationMethod = "domain_check"
	MethodBoundsCheck         VerificationMethod = "bounds_check"
	MethodNumericReevaluation VerificationMethod = "numeric_reevaluation"
	MethodLLMCheck            VerificationMethod = "llm_check"
)

// Deterministic reports whether the method is computable without the
// reasoning capability.
func (m VerificationMethod) Deterministic() bool {
	return m != MethodLLMCheck
}

// VerificationReport is the Verifier's output for one Solution.
type VerificationReport struct {
	// Passed is the overall verdict.
	Passed bool `json:"passed"`

	// Method is the check that produced the verdict.
	Method VerificationMethod `json:"method"`

	// Confidence is the combined score in [0,1] (classification confidence,
	// pass/fail, and discrepancy magnitude folded together).
	Confidence float64 `json:"confidence"`

	// Discrepancy is the residual or disagreement magnitude, present
	// whenever the check computed one.
	Discrepancy *float64 `json:"discrepancy,omitempty"`

	// Issues lists human-readable problems found. Empty on a clean pass.
	Issues []string `json:"issues,omitempty"`

	// CheckedCases lists the edge cases this report covered
	// (e.g. "probability bounds", "complex substitution").
	CheckedCases []string `json:"checked_cases,omitempty"`
}

// =============================================================================
// Attempts and final output
// =============================================================================

// Attempt is one solve/verify round retained for audit and retry-avoidance.
type Attempt struct {
	// Strategy is the strategy that was attempted.
	Strategy Strategy `json:"strategy"`

	// Succeeded reports whether the Solver produced a Solution at all.
	Succeeded bool `json:"succeeded"`

	// FailureReason carries the SolverError text when Succeeded is false.
	FailureReason string `json:"failure_reason,omitempty"`

	// Confidence is the verification confidence, when verification ran.
	Confidence float64 `json:"confidence"`

	// Report is the verification report, when verification ran.
	Report *VerificationReport `json:"report,omitempty"`
}

// ClarificationRequest is emitted when the pipeline suspends in ESCALATED.
type ClarificationRequest struct {
	// AmbiguousField names what is unclear: "category" when classification
	// confidence was below its floor, "solve_confidence" when strategies
	// were exhausted without an accepted solution.
	AmbiguousField string `json:"ambiguous_field"`

	// CandidateInterpretations lists the plausible readings, most likely
	// first. May be empty for solve-confidence escalations.
	CandidateInterpretations []string `json:"candidate_interpretations,omitempty"`

	// OriginalText is the raw submission, for reviewer context.
	OriginalText string `json:"original_text"`
}

// ClarificationResponse resumes a suspended pipeline. Exactly one of the two
// fields must be non-empty.
type ClarificationResponse struct {
	// ChosenInterpretation selects one of CandidateInterpretations.
	ChosenInterpretation string `json:"chosen_interpretation,omitempty"`

	// AdditionalText rewrites or augments the original problem; triggers a
	// fresh Normalizer pass.
	AdditionalText string `json:"additional_text,omitempty"`
}

// Validate checks the exactly-one constraint.
func (c ClarificationResponse) Validate() error {
	hasChoice := c.ChosenInterpretation != ""
	hasText := c.AdditionalText != ""
	if hasChoice == hasText {
		return fmt.Errorf("clarification response requires exactly one of chosen_interpretation or additional_text")
	}
	return nil
}

// Explanation is the Explainer's final annotated answer, the object the
// presentation layer consumes. Statements are carried over verbatim from the
// accepted Solution; only Justification fields were filled in.
type Explanation struct {
	// Summary is a short overview of how the problem was solved.
	Summary string `json:"summary"`

	// Steps is the annotated step sequence.
	Steps []SolutionStep `json:"steps"`

	// Result is the final answer expression, unmodified from the Solution.
	Result string `json:"result"`

	// NumericValue mirrors Solution.NumericValue.
	NumericValue *float64 `json:"numeric_value,omitempty"`

	// Confidence is the accepted verification confidence.
	Confidence float64 `json:"confidence"`

	// Category is the problem category the answer belongs to.
	Category Category `json:"category"`

	// KeyConcepts names the mathematical ideas exercised.
	KeyConcepts []string `json:"key_concepts,omitempty"`

	// CommonMistakes lists pitfalls for this problem type.
	CommonMistakes []string `json:"common_mistakes,omitempty"`

	// RelatedProblems suggests follow-up problem types.
	RelatedProblems []string `json:"related_problems,omitempty"`

	// Encouragement is a short closing line for the student.
	Encouragement string `json:"encouragement,omitempty"`
}

// =============================================================================
// Feedback
// =============================================================================

// FeedbackType is the reviewer's verdict on a delivered solution.
type FeedbackType string

const (
	FeedbackCorrect   FeedbackType = "correct"
	FeedbackPartial   FeedbackType = "partially_correct"
	FeedbackIncorrect FeedbackType = "incorrect"
)

// IsValid reports whether t is a declared feedback type.
func (t FeedbackType) IsValid() bool {
	switch t {
	case FeedbackCorrect, FeedbackPartial, FeedbackIncorrect:
		return true
	}
	return false
}

// Feedback is user feedback attached to a completed interaction.
type Feedback struct {
	// Type is the verdict.
	Type FeedbackType `json:"type"`

	// Comment explains partial or incorrect verdicts.
	Comment string `json:"comment,omitempty"`

	// CorrectedSolution is the reviewer-supplied correct answer, when the
	// verdict is incorrect.
	CorrectedSolution string `json:"corrected_solution,omitempty"`

	// CreatedAt is when the feedback was submitted (UTC).
	CreatedAt time.Time `json:"created_at"`
}
