// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package route turns a classified problem into an executable plan: a
// refined record with variables and constraints fully populated, plus a
// ranked strategy list. Ranking is total and deterministic (ties broken by
// declaration order), so a retried problem replays strategies in the same
// order every run.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routerPlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "router",
		Name:      "plans_total",
		Help:      "Total plans built by category and detected shape",
	}, []string{"category", "shape"})

	routerStrategiesPerPlan = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "router",
		Name:      "strategies_per_plan",
		Help:      "Number of ranked strategies per plan",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var routerTracer = otel.Tracer("mentor.route")

// =============================================================================
// Plan
// =============================================================================

// Detected problem shapes. The shape picks the strategy catalog; the category
// label assigned upstream is never rewritten here.
const (
	ShapeLinear         = "degree_1"
	ShapeQuadratic      = "degree_2"
	ShapeHigherDegree   = "degree_n"
	ShapeConstant       = "degree_0"
	ShapeNonPolynomial  = "non_polynomial"
	ShapeSystem         = "linear_system"
	ShapeDerivative     = "derivative"
	ShapeDefinite       = "definite_integral"
	ShapeIndefinite     = "indefinite_integral"
	ShapeCombinatorial  = "combinatorial"
	ShapeConditional    = "conditional"
	ShapeDistributional = "distributional"
	ShapeComplement     = "complement"
	ShapeEquationReady  = "equation_ready"
	ShapeNarrative      = "needs_extraction"
)

// Plan is the Router's output: the refined problem record plus the ranked
// strategies the driver walks on retries.
type Plan struct {
	// Problem is the input record with Variables and Constraints fully
	// populated via WithRefinement.
	Problem problem.ParsedProblem `json:"problem"`

	// Strategies is the ranked candidate list, best first. Never empty for
	// a known category; every catalog ends in an always-applicable entry.
	Strategies []problem.Strategy `json:"strategies"`

	// Shape is the detected sub-shape that selected the catalog
	// (e.g. "degree_2", "definite_integral", "conditional").
	Shape string `json:"shape"`
}

// degreeEps trims float noise when reading the polynomial degree.
const degreeEps = 1e-12

// externalStrategies marks the strategies that consult the reasoning
// capability. Catalogs list them after every deterministic entry.
var externalStrategies = map[string]bool{
	problem.StrategyGuidedAntideriv:    true,
	problem.StrategyGuidedEquationExtr: true,
}

// catalog builds a ranked list in declaration order. Rank is the position,
// so the order is total and retries are reproducible.
func catalog(names ...string) []problem.Strategy {
	out := make([]problem.Strategy, len(names))
	for i, name := range names {
		out[i] = problem.Strategy{
			Name:     name,
			Rank:     i + 1,
			External: externalStrategies[name],
		}
	}
	return out
}

// =============================================================================
// Router
// =============================================================================

// Router maps a classified problem onto its strategy catalog.
//
// Description:
//
//	Extraction is category-specific: algebra detects the polynomial degree
//	to choose linear/quadratic/general strategies, calculus detects whether
//	bounds are present (definite vs indefinite), probability detects
//	combinatorial vs conditional vs distributional phrasing. Refinement
//	fills Variables from the parsed equations and adds the implicit domain
//	guards (nonzero denominators, nonnegative radicands) to Constraints.
//
// Thread Safety: Safe for concurrent use (stateless after construction).
type Router struct {
	log *slog.Logger
}

// NewRouter creates a Router.
//
// Inputs:
//
//	log - Logger for structured output. May be nil (falls back to default).
//
// Outputs:
//
//	*Router - The constructed router.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log}
}

// Route builds the plan for a classified problem.
//
// Description:
//
//	Dispatches on the assigned category, refines the record, and returns
//	the ranked strategy list. The only error case is a category with no
//	catalog (unknown or unset); the driver escalates those before routing,
//	so an error here means a driver bug rather than bad input.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	p - The classified problem record.
//
// Outputs:
//
//	Plan - Refined record plus ranked strategies.
//	error - Non-nil only when p.Category has no catalog.
//
// Thread Safety: Safe for concurrent use.
func (r *Router) Route(ctx context.Context, p problem.ParsedProblem) (Plan, error) {
	_, span := routerTracer.Start(ctx, "route.Router.Route")
	defer span.End()
	span.SetAttributes(
		attribute.String("category", string(p.Category)),
		attribute.Int("equations", len(p.Equations)),
	)

	var plan Plan
	switch p.Category {
	case problem.CategoryAlgebra:
		plan = r.planAlgebra(p)
	case problem.CategoryLinearSystem:
		plan = r.planLinearSystem(p)
	case problem.CategoryDerivative:
		plan = r.planDerivative(p)
	case problem.CategoryIntegralIndefinite, problem.CategoryIntegralDefinite:
		plan = r.planIntegral(p)
	case problem.CategoryProbability:
		plan = r.planProbability(p)
	case problem.CategoryWordProblem:
		plan = r.planWordProblem(p)
	default:
		err := fmt.Errorf("no strategy catalog for category %q", p.Category)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Plan{}, err
	}

	routerPlansTotal.WithLabelValues(string(p.Category), plan.Shape).Inc()
	routerStrategiesPerPlan.Observe(float64(len(plan.Strategies)))

	span.SetAttributes(
		attribute.String("shape", plan.Shape),
		attribute.Int("strategies", len(plan.Strategies)),
	)
	r.log.Debug("plan built",
		slog.String("category", string(p.Category)),
		slog.String("shape", plan.Shape),
		slog.Int("strategies", len(plan.Strategies)),
		slog.Int("constraints", len(plan.Problem.Constraints)),
	)
	return plan, nil
}

// NextStrategy returns the highest-ranked strategy in plan that no prior
// attempt has tried. ok is false when the catalog is exhausted, which the
// driver treats as an escalation trigger.
func NextStrategy(plan Plan, history []problem.Attempt) (s problem.Strategy, ok bool) {
	tried := make(map[string]bool, len(history))
	for _, a := range history {
		tried[a.Strategy.Name] = true
	}
	for _, candidate := range plan.Strategies {
		if !tried[candidate.Name] {
			return candidate, true
		}
	}
	return problem.Strategy{}, false
}

// =============================================================================
// Category plans
// =============================================================================

// planAlgebra detects the degree of the primary equation (after substituting
// stated givens) and routes linear, quadratic, or general strategies. The
// numeric root scan terminates every algebra catalog.
func (r *Router) planAlgebra(p problem.ParsedProblem) Plan {
	vars, constraints := r.refine(p)

	shape := ShapeNonPolynomial
	if len(p.Equations) > 0 {
		if lhs, rhs, err := expr.ParseEquation(p.Equations[0]); err == nil {
			if target := targetVariable(p, lhs, rhs); target != "" {
				lhs = expr.Substitute(lhs, p.GivenValues)
				if rhs != nil {
					rhs = expr.Substitute(rhs, p.GivenValues)
				}
				if coeffs, err := expr.EquationCoefficients(lhs, rhs, target); err == nil {
					switch expr.Degree(coeffs, degreeEps) {
					case 0:
						shape = ShapeConstant
					case 1:
						shape = ShapeLinear
					case 2:
						shape = ShapeQuadratic
					default:
						shape = ShapeHigherDegree
					}
				}
			}
		}
	}

	var strategies []problem.Strategy
	switch shape {
	case ShapeLinear:
		strategies = catalog(problem.StrategyLinearIsolation, problem.StrategyNumericRootScan)
	case ShapeQuadratic:
		strategies = catalog(problem.StrategyQuadraticFormula, problem.StrategyNumericRootScan)
	case ShapeHigherDegree:
		strategies = catalog(problem.StrategyFactorRoots, problem.StrategyNumericRootScan)
	default:
		// Constant or non-polynomial input: only the scan can make progress,
		// and it reports SolverError when there is nothing to solve.
		strategies = catalog(problem.StrategyNumericRootScan)
	}

	return Plan{
		Problem:    p.WithRefinement(vars, constraints),
		Strategies: strategies,
		Shape:      shape,
	}
}

func (r *Router) planLinearSystem(p problem.ParsedProblem) Plan {
	vars, constraints := r.refine(p)
	return Plan{
		Problem:    p.WithRefinement(vars, constraints),
		Strategies: catalog(problem.StrategyGaussianElimination),
		Shape:      ShapeSystem,
	}
}

func (r *Router) planDerivative(p problem.ParsedProblem) Plan {
	vars, constraints := r.refine(p)
	return Plan{
		Problem:    p.WithRefinement(vars, constraints),
		Strategies: catalog(problem.StrategyPowerRuleDerivative, problem.StrategyFiniteDiffProfile),
		Shape:      ShapeDerivative,
	}
}

// planIntegral routes on bound presence. The record's Bounds field decides
// the executable shape; the assigned category label is left untouched even
// when the two disagree.
func (r *Router) planIntegral(p problem.ParsedProblem) Plan {
	vars, constraints := r.refine(p)
	if p.Bounds != nil {
		return Plan{
			Problem:    p.WithRefinement(vars, constraints),
			Strategies: catalog(problem.StrategyAntiderivEval, problem.StrategySimpsonQuadrature),
			Shape:      ShapeDefinite,
		}
	}
	return Plan{
		Problem:    p.WithRefinement(vars, constraints),
		Strategies: catalog(problem.StrategyPowerRuleAntideriv, problem.StrategyGuidedAntideriv),
		Shape:      ShapeIndefinite,
	}
}

// Probability phrasing cues, checked in order. " given " keeps its spaces so
// "forgiven" cannot match.
var (
	conditionalPhrases    = []string{"given that", " given ", "knowing that", "conditional on"}
	distributionalPhrases = []string{"binomial", "trials", "successes", "success rate"}
	complementPhrases     = []string{"at least one", "at least once", "none of"}
)

// planProbability promotes the strategy matching the detected phrasing to
// the front of the base catalog. The seeded Monte Carlo entry stays last in
// every ordering.
func (r *Router) planProbability(p problem.ParsedProblem) Plan {
	vars, constraints := r.refine(p)
	text := strings.ToLower(p.Text)

	base := []string{
		problem.StrategyCombinatorialCount,
		problem.StrategyBayesRule,
		problem.StrategyBinomialFormula,
		problem.StrategyComplementRule,
		problem.StrategySeededMonteCarlo,
	}

	shape := ShapeCombinatorial
	switch {
	case containsAny(text, conditionalPhrases):
		shape = ShapeConditional
		base = promote(base, problem.StrategyBayesRule)
	case containsAny(text, distributionalPhrases):
		shape = ShapeDistributional
		base = promote(base, problem.StrategyBinomialFormula)
	case containsAny(text, complementPhrases):
		shape = ShapeComplement
		base = promote(base, problem.StrategyComplementRule)
	}

	return Plan{
		Problem:    p.WithRefinement(vars, constraints),
		Strategies: catalog(base...),
		Shape:      shape,
	}
}

// planWordProblem routes translated problems through the deterministic
// path first. A narrative with no extractable equations goes straight to
// guided extraction.
func (r *Router) planWordProblem(p problem.ParsedProblem) Plan {
	vars, constraints := r.refine(p)
	if len(p.Equations) > 0 {
		return Plan{
			Problem:    p.WithRefinement(vars, constraints),
			Strategies: catalog(problem.StrategyEquationTranslation, problem.StrategyGuidedEquationExtr),
			Shape:      ShapeEquationReady,
		}
	}
	return Plan{
		Problem:    p.WithRefinement(vars, constraints),
		Strategies: catalog(problem.StrategyGuidedEquationExtr),
		Shape:      ShapeNarrative,
	}
}

// =============================================================================
// Refinement
// =============================================================================

// refine parses every equation and returns the merged variable set plus the
// constraint list: the record's stated constraints followed by the implicit
// domain guards, deduplicated, in discovery order. Unparseable equations are
// skipped (the solver reports them per-strategy).
func (r *Router) refine(p problem.ParsedProblem) (vars []string, constraints []string) {
	seenVar := make(map[string]bool)
	seenCon := make(map[string]bool)

	constraints = make([]string, 0, len(p.Constraints))
	for _, c := range p.Constraints {
		if !seenCon[c] {
			seenCon[c] = true
			constraints = append(constraints, c)
		}
	}

	for _, eq := range p.Equations {
		lhs, rhs, err := expr.ParseEquation(eq)
		if err != nil {
			r.log.Debug("refinement skipped unparseable equation",
				slog.String("equation", eq),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, n := range []expr.Node{lhs, rhs} {
			if n == nil {
				continue
			}
			for _, v := range expr.Variables(n) {
				if !seenVar[v] {
					seenVar[v] = true
					vars = append(vars, v)
				}
			}
			for _, g := range domainGuards(n) {
				if !seenCon[g] {
					seenCon[g] = true
					constraints = append(constraints, g)
				}
			}
		}
	}

	// Nothing parsed: keep whatever the normalizer already recorded.
	if len(vars) == 0 {
		vars = append(vars, p.Variables...)
	}
	return vars, constraints
}

// targetVariable picks the symbol the algebra strategies solve for: the
// normalizer's stated target when present, otherwise the only free variable
// after excluding stated givens. Returns "" when the target is ambiguous.
func targetVariable(p problem.ParsedProblem, nodes ...expr.Node) string {
	if t := p.Metadata["target_variable"]; t != "" {
		return t
	}

	seen := make(map[string]bool)
	var free []string
	for _, n := range nodes {
		if n == nil {
			continue
		}
		for _, v := range expr.Variables(n) {
			if seen[v] {
				continue
			}
			seen[v] = true
			if _, bound := p.GivenValues[v]; !bound {
				free = append(free, v)
			}
		}
	}
	if len(free) == 1 {
		return free[0]
	}
	return ""
}

// domainGuards emits the implicit restrictions a solution must satisfy:
// nonzero denominators, nonnegative radicands, positive log arguments.
// Guard strings use the verifier's constraint grammar ("E != 0", "E >= 0",
// "E > 0").
func domainGuards(n expr.Node) []string {
	var out []string
	collectGuards(n, &out)
	return out
}

func collectGuards(n expr.Node, out *[]string) {
	switch t := n.(type) {
	case expr.Unary:
		collectGuards(t.X, out)
	case expr.Binary:
		if t.Op == '/' && len(expr.Variables(t.Y)) > 0 {
			*out = append(*out, t.Y.String()+" != 0")
		}
		collectGuards(t.X, out)
		collectGuards(t.Y, out)
	case expr.Call:
		if len(t.Args) == 1 && len(expr.Variables(t.Args[0])) > 0 {
			switch t.Fn {
			case "sqrt":
				*out = append(*out, t.Args[0].String()+" >= 0")
			case "log":
				*out = append(*out, t.Args[0].String()+" > 0")
			}
		}
		for _, a := range t.Args {
			collectGuards(a, out)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func containsAny(text string, phrases []string) bool {
	for _, ph := range phrases {
		if strings.Contains(text, ph) {
			return true
		}
	}
	return false
}

// promote moves name to the front of names, preserving the relative order
// of the rest. Unknown names leave the slice unchanged.
func promote(names []string, name string) []string {
	for i, n := range names {
		if n != name {
			continue
		}
		out := make([]string, 0, len(names))
		out = append(out, name)
		out = append(out, names[:i]...)
		out = append(out, names[i+1:]...)
		return out
	}
	return names
}
