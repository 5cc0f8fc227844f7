// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solve

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// =============================================================================
// Scenario extraction
// =============================================================================

// countMode selects which success counts satisfy the question.
type countMode int

const (
	modeExactly countMode = iota
	modeAtLeast
	modeAtMost
	modeAtLeastOne
	modeNone
)

// probKind enumerates the scenario families the extractor recognizes.
// Anything outside them is a SolverError, which walks the ranked list toward
// escalation instead of guessing.
type probKind int

const (
	kindUnknown probKind = iota
	kindCoinFlips
	kindDiceSum
	kindDieFace
	kindCardDraw
	kindStatedTrials
)

// probScenario is the canonical form of a recognized probability setup.
type probScenario struct {
	kind probKind

	trials int // flips, rolls, or draws
	k      int // target success count
	mode   countMode

	dice int // dice thrown together in a sum scenario
	sum  int // target sum

	face int // die face in a face scenario

	class      string // card class under question
	classCount int    // cards of that class in a fresh deck
	firstClass string // conditioning class for sequential draws

	p float64 // stated per-trial success probability
}

// maxTrials bounds combinatorial counts so C(n, k) stays inside int range.
const maxTrials = 40

const countWord = `(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)`

var (
	reCoinTimes   = regexp.MustCompile(`coin is (?:tossed|flipped|thrown) ` + countWord + ` times`)
	reCoinsPlural = regexp.MustCompile(countWord + ` (?:fair )?coins are (?:tossed|flipped|thrown)`)
	reHeadsCount  = regexp.MustCompile(`(?:exactly |at least |at most )?` + countWord + ` (?:heads?|tails?)`)
	reAllHeads    = regexp.MustCompile(`all (?:heads|tails)`)

	reDiceCount = regexp.MustCompile(countWord + ` (?:fair )?dice are (?:thrown|rolled|tossed)`)
	reSumTarget = regexp.MustCompile(`(?:sum|total) (?:is |of |equals |= ?)(?:at least |at most )?` + countWord)

	reDieTimes       = regexp.MustCompile(`die is rolled ` + countWord + ` times`)
	reFaceTarget     = regexp.MustCompile(`(?:getting|rolling|shows?|obtaining) (?:a |an )?(one|two|three|four|five|six|[1-6])\b`)
	reAtLeastOneFace = regexp.MustCompile(`at least one (one|two|three|four|five|six|[1-6])\b`)
	reExactFaces     = regexp.MustCompile(`(?:exactly |at least |at most )` + countWord + ` (ones|twos|threes|fours|fives|sixes)`)
	reFaceTimes      = regexp.MustCompile(`(?:exactly|at least|at most) ` + countWord + ` times`)
	reNoFaces        = regexp.MustCompile(`\bno (ones|twos|threes|fours|fives|sixes)\b`)

	reCardsDrawn = regexp.MustCompile(countWord + ` cards are drawn`)
	reCardClass  = regexp.MustCompile(`\b(face cards?|red|black|hearts?|diamonds?|clubs?|spades?|aces?|kings?|queens?|jacks?)\b`)
	reFirstGiven = regexp.MustCompile(`given that the first (?:card )?(?:is|was|drawn is) (?:a |an )?(face card|red|black|heart|diamond|club|spade|ace|king|queen|jack)`)
	reBothAll    = regexp.MustCompile(`\b(?:both|all)\b`)

	reStatedP   = regexp.MustCompile(`(?:probability of success|success probability|success rate) (?:is |of |= ?)(\d+(?:\.\d+)?%|0?\.\d+|\d+/\d+)`)
	reTrials    = regexp.MustCompile(countWord + ` (?:independent )?trials`)
	reSuccesses = regexp.MustCompile(`(?:exactly |at least |at most )?` + countWord + ` successes`)

	reNoTarget = regexp.MustCompile(`\bno (?:heads?|tails?|ones?|twos?|threes?|fours?|fives?|sixes?|successes?)\b`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12,
}

var facePlurals = map[string]int{
	"ones": 1, "twos": 2, "threes": 3, "fours": 4, "fives": 5, "sixes": 6,
}

var deckCounts = map[string]int{
	"red": 26, "black": 26,
	"heart": 13, "diamond": 13, "club": 13, "spade": 13,
	"ace": 4, "king": 4, "queen": 4, "jack": 4,
	"face card": 12,
}

func parseCount(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseProbability(s string) (float64, bool) {
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, false
		}
		return v / 100, true
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		nv, err1 := strconv.ParseFloat(num, 64)
		dv, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || dv == 0 {
			return 0, false
		}
		return nv / dv, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func extractMode(text string) countMode {
	switch {
	case strings.Contains(text, "at least one"):
		return modeAtLeastOne
	case strings.Contains(text, "at least"):
		return modeAtLeast
	case strings.Contains(text, "at most"):
		return modeAtMost
	case reNoTarget.MatchString(text):
		return modeNone
	}
	return modeExactly
}

// extractScenario recognizes the deterministic probability families in
// canonical lowercase text.
func extractScenario(text string) (probScenario, bool) {
	text = strings.ToLower(text)

	switch {
	case strings.Contains(text, "dice") && reSumTarget.MatchString(text):
		// Default two dice; "a pair of dice" and bare "dice" both mean that.
		sc := probScenario{kind: kindDiceSum, dice: 2, mode: extractMode(text)}
		if m := reDiceCount.FindStringSubmatch(text); m != nil {
			if v, ok := parseCount(m[1]); ok {
				sc.dice = v
			}
		}
		m := reSumTarget.FindStringSubmatch(text)
		v, ok := parseCount(m[1])
		if !ok {
			return probScenario{}, false
		}
		sc.sum = v
		return sc, true

	case reStatedP.MatchString(text) && reTrials.MatchString(text):
		sc := probScenario{kind: kindStatedTrials, mode: extractMode(text)}
		pv, ok := parseProbability(reStatedP.FindStringSubmatch(text)[1])
		if !ok {
			return probScenario{}, false
		}
		sc.p = pv
		tv, ok := parseCount(reTrials.FindStringSubmatch(text)[1])
		if !ok {
			return probScenario{}, false
		}
		sc.trials = tv
		switch sc.mode {
		case modeAtLeastOne:
			sc.k = 1
		case modeNone:
			sc.k = 0
		default:
			m := reSuccesses.FindStringSubmatch(text)
			if m == nil {
				return probScenario{}, false
			}
			kv, ok := parseCount(m[1])
			if !ok {
				return probScenario{}, false
			}
			sc.k = kv
		}
		return sc, true

	case strings.Contains(text, "coin"):
		sc := probScenario{kind: kindCoinFlips, trials: 1, k: -1, mode: extractMode(text)}
		if m := reCoinTimes.FindStringSubmatch(text); m != nil {
			if v, ok := parseCount(m[1]); ok {
				sc.trials = v
			}
		} else if m := reCoinsPlural.FindStringSubmatch(text); m != nil {
			if v, ok := parseCount(m[1]); ok {
				sc.trials = v
			}
		}
		if m := reHeadsCount.FindStringSubmatch(text); m != nil {
			if v, ok := parseCount(m[1]); ok {
				sc.k = v
			}
		}
		if reAllHeads.MatchString(text) {
			sc.k = sc.trials
		}
		switch sc.mode {
		case modeAtLeastOne:
			sc.k = 1
		case modeNone:
			sc.k = 0
		}
		if sc.k < 0 {
			if sc.trials == 1 && (strings.Contains(text, "head") || strings.Contains(text, "tail")) {
				sc.k = 1
			} else {
				return probScenario{}, false
			}
		}
		return sc, true

	case strings.Contains(text, "card"):
		sc := probScenario{kind: kindCardDraw, trials: 1, mode: extractMode(text)}
		if m := reCardsDrawn.FindStringSubmatch(text); m != nil {
			if v, ok := parseCount(m[1]); ok {
				sc.trials = v
			}
		}
		// The conditioning clause names its own class; strip it so the
		// question's class is the last one standing.
		question := text
		if m := reFirstGiven.FindStringSubmatch(text); m != nil {
			sc.firstClass = normalizeCardClass(m[1])
			if idx := strings.Index(text, "given that"); idx >= 0 {
				question = text[:idx]
			}
		}
		classes := reCardClass.FindAllString(question, -1)
		if len(classes) == 0 {
			return probScenario{}, false
		}
		cls := normalizeCardClass(classes[len(classes)-1])
		count, ok := deckCounts[cls]
		if !ok {
			return probScenario{}, false
		}
		sc.class, sc.classCount = cls, count
		return sc, true

	case strings.Contains(text, "die") || strings.Contains(text, "dice"):
		sc := probScenario{kind: kindDieFace, trials: 1, k: 1, mode: extractMode(text)}
		if m := reDieTimes.FindStringSubmatch(text); m != nil {
			if v, ok := parseCount(m[1]); ok {
				sc.trials = v
			}
		}
		face := 0
		switch {
		case reAtLeastOneFace.MatchString(text):
			face, _ = parseCount(reAtLeastOneFace.FindStringSubmatch(text)[1])
		case reExactFaces.MatchString(text):
			// "exactly 2 sixes": the plural names the face, the count is k.
			m := reExactFaces.FindStringSubmatch(text)
			face = facePlurals[m[2]]
			if v, ok := parseCount(m[1]); ok {
				sc.k = v
			}
		case reFaceTarget.MatchString(text):
			face, _ = parseCount(reFaceTarget.FindStringSubmatch(text)[1])
			// "rolling a six exactly 2 times": the trailing count is k.
			if m := reFaceTimes.FindStringSubmatch(text); m != nil {
				if v, ok := parseCount(m[1]); ok {
					sc.k = v
				}
			}
		case reNoFaces.MatchString(text):
			face = facePlurals[reNoFaces.FindStringSubmatch(text)[1]]
		}
		if face < 1 || face > 6 {
			return probScenario{}, false
		}
		sc.face = face
		switch sc.mode {
		case modeAtLeastOne:
			sc.k = 1
		case modeNone:
			sc.k = 0
		}
		return sc, true
	}

	return probScenario{}, false
}

func normalizeCardClass(s string) string {
	s = strings.TrimSpace(s)
	if s == "face cards" {
		return "face card"
	}
	if s != "face card" {
		s = strings.TrimSuffix(s, "s")
	}
	return s
}

// cardGroup buckets classes whose membership never overlaps within the
// bucket. Classes from different buckets overlap ambiguously.
func cardGroup(class string) string {
	switch class {
	case "red", "black":
		return "color"
	case "heart", "diamond", "club", "spade":
		return "suit"
	case "face card":
		return "group"
	default:
		return "rank"
	}
}

// =============================================================================
// Counting helpers
// =============================================================================

// modeRange returns the inclusive success-count range selected by mode.
func modeRange(n, k int, mode countMode) (lo, hi int) {
	switch mode {
	case modeAtLeast:
		return k, n
	case modeAtMost:
		return 0, k
	case modeAtLeastOne:
		return 1, n
	case modeNone:
		return 0, 0
	}
	return k, k
}

// binomialWays is C(n, k) guarded against out-of-range arguments.
func binomialWays(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	return combin.Binomial(n, k)
}

func intPow(base, exp int) int {
	v := 1
	for i := 0; i < exp; i++ {
		v *= base
	}
	return v
}

// diceSumWays counts outcomes of m six-sided dice totaling target.
func diceSumWays(m, target int) int {
	ways := map[int]int{0: 1}
	for die := 0; die < m; die++ {
		next := map[int]int{}
		for total, count := range ways {
			for f := 1; f <= 6; f++ {
				next[total+f] += count
			}
		}
		ways = next
	}
	return ways[target]
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// fractionText renders num/den in lowest terms.
func fractionText(num, den int) string {
	if den == 0 {
		return "0"
	}
	if g := gcd(num, den); g > 1 {
		num /= g
		den /= g
	}
	if den == 1 {
		return strconv.Itoa(num)
	}
	return fmt.Sprintf("%d/%d", num, den)
}

// finishProbability validates the range invariant and assembles the
// solution. A probability outside [0, 1] is a structural failure, never a
// clamped answer.
func finishProbability(strategy string, steps []problem.SolutionStep,
	resultText string, value float64) (problem.Solution, error) {

	if math.IsNaN(value) || value < 0 || value > 1 {
		return problem.Solution{}, solverErr(strategy, "bounds_violation", nil)
	}
	return problem.Solution{
		Steps:        steps,
		Result:       resultText,
		NumericValue: numeric(value),
	}, nil
}

// =============================================================================
// combinatorial_counting
// =============================================================================

// combinatorialCounting answers questions over finite equally likely sample
// spaces by dividing favorable outcomes by total outcomes.
func (s *Solver) combinatorialCounting(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyCombinatorialCount

	sc, ok := extractScenario(p.Text)
	if !ok {
		return problem.Solution{}, solverErr(strategy, "unextractable_scenario", nil)
	}
	if sc.trials > maxTrials || sc.dice > 10 {
		return problem.Solution{}, solverErr(strategy, "trials_too_large", nil)
	}

	var total, favorable int
	switch sc.kind {
	case kindDiceSum:
		total = intPow(6, sc.dice)
		lo, hi := modeRange(6*sc.dice, sc.sum, sc.mode)
		for t := lo; t <= hi; t++ {
			favorable += diceSumWays(sc.dice, t)
		}

	case kindCoinFlips:
		total = intPow(2, sc.trials)
		lo, hi := modeRange(sc.trials, sc.k, sc.mode)
		for j := lo; j <= hi; j++ {
			favorable += binomialWays(sc.trials, j)
		}

	case kindDieFace:
		total = intPow(6, sc.trials)
		lo, hi := modeRange(sc.trials, sc.k, sc.mode)
		for j := lo; j <= hi; j++ {
			favorable += binomialWays(sc.trials, j) * intPow(5, sc.trials-j)
		}

	case kindCardDraw:
		if sc.firstClass != "" {
			return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
		}
		if sc.trials == 1 {
			total, favorable = 52, sc.classCount
			break
		}
		if !reBothAll.MatchString(strings.ToLower(p.Text)) {
			return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
		}
		total = binomialWays(52, sc.trials)
		favorable = binomialWays(sc.classCount, sc.trials)

	default:
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}

	if total == 0 {
		return problem.Solution{}, solverErr(strategy, "bounds_violation", nil)
	}
	value := float64(favorable) / float64(total)
	steps := []problem.SolutionStep{
		step(fmt.Sprintf("total outcomes=%d", total), "count_sample_space"),
		step(fmt.Sprintf("favorable outcomes=%d", favorable), "count_favorable_outcomes"),
		step(fmt.Sprintf("p=%d/%d=%s", favorable, total, fractionText(favorable, total)),
			"divide_favorable_by_total"),
	}
	return finishProbability(strategy, steps, fractionText(favorable, total), value)
}

// =============================================================================
// bayes_rule
// =============================================================================

// bayesRule handles conditional sequential draws: the probability of the
// second card's class given the first, without replacement. Overlapping
// classes from different groups (a king given a red card) stay ambiguous
// and report a structured error.
func (s *Solver) bayesRule(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyBayesRule

	sc, ok := extractScenario(p.Text)
	if !ok {
		return problem.Solution{}, solverErr(strategy, "unextractable_scenario", nil)
	}
	if sc.kind != kindCardDraw || sc.firstClass == "" {
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}

	var remaining int
	switch {
	case sc.firstClass == sc.class:
		remaining = sc.classCount - 1
	case cardGroup(sc.firstClass) == cardGroup(sc.class):
		remaining = sc.classCount
	default:
		return problem.Solution{}, solverErr(strategy, "ambiguous_overlap", nil)
	}

	value := float64(remaining) / 51
	steps := []problem.SolutionStep{
		step(fmt.Sprintf("after removing one %s, 51 cards remain", sc.firstClass),
			"reduce_sample_space"),
		step(fmt.Sprintf("remaining %s cards=%d", sc.class, remaining),
			"count_favorable_outcomes"),
		step(fmt.Sprintf("p=%d/51=%s", remaining, fractionText(remaining, 51)),
			"divide_favorable_by_total"),
	}
	return finishProbability(strategy, steps, fractionText(remaining, 51), value)
}

// =============================================================================
// binomial_formula
// =============================================================================

// binomialFormula computes repeated-trial probabilities through
// C(n,k)*p^k*(1-p)^(n-k), summed over the mode's count range.
func (s *Solver) binomialFormula(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyBinomialFormula

	sc, ok := extractScenario(p.Text)
	if !ok {
		return problem.Solution{}, solverErr(strategy, "unextractable_scenario", nil)
	}

	var perTrial float64
	switch sc.kind {
	case kindCoinFlips:
		perTrial = 0.5
	case kindDieFace:
		perTrial = 1.0 / 6
	case kindStatedTrials:
		perTrial = sc.p
	default:
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}
	if sc.trials < 1 || sc.trials > maxTrials {
		return problem.Solution{}, solverErr(strategy, "trials_too_large", nil)
	}
	if perTrial < 0 || perTrial > 1 {
		return problem.Solution{}, solverErr(strategy, "bounds_violation", nil)
	}

	n, k := sc.trials, sc.k
	lo, hi := modeRange(n, k, sc.mode)
	value := 0.0
	for j := lo; j <= hi; j++ {
		value += float64(binomialWays(n, j)) *
			math.Pow(perTrial, float64(j)) *
			math.Pow(1-perTrial, float64(n-j))
	}

	steps := []problem.SolutionStep{
		step(fmt.Sprintf("n=%d, k=%d, p=%s", n, k, expr.FormatFloat(perTrial)),
			"identify_binomial_parameters"),
	}
	if sc.mode == modeExactly {
		c := binomialWays(n, k)
		steps = append(steps,
			step(fmt.Sprintf("C(%d,%d)=%d", n, k, c), "count_combinations"),
			step(fmt.Sprintf("p=%d*%s^%d*%s^%d=%s",
				c, expr.FormatFloat(perTrial), k,
				expr.FormatFloat(1-perTrial), n-k, expr.FormatFloat(value)),
				"apply_binomial_formula"))
	} else {
		steps = append(steps,
			step(fmt.Sprintf("p=sum of C(%d,j)*%s^j*%s^(%d-j) for j=%d..%d=%s",
				n, expr.FormatFloat(perTrial), expr.FormatFloat(1-perTrial),
				n, lo, hi, expr.FormatFloat(value)),
				"apply_binomial_formula"))
	}
	return finishProbability(strategy, steps, expr.FormatFloat(value), value)
}

// =============================================================================
// complement_rule
// =============================================================================

// complementRule answers at-least-one and none questions through the
// complement of missing every independent trial.
func (s *Solver) complementRule(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategyComplementRule

	sc, ok := extractScenario(p.Text)
	if !ok {
		return problem.Solution{}, solverErr(strategy, "unextractable_scenario", nil)
	}
	if sc.mode != modeAtLeastOne && sc.mode != modeNone {
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}

	var perTrial float64
	switch sc.kind {
	case kindCoinFlips:
		perTrial = 0.5
	case kindDieFace:
		perTrial = 1.0 / 6
	case kindStatedTrials:
		perTrial = sc.p
	default:
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}
	if sc.trials < 1 {
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}
	if perTrial < 0 || perTrial > 1 {
		return problem.Solution{}, solverErr(strategy, "bounds_violation", nil)
	}

	missAll := math.Pow(1-perTrial, float64(sc.trials))
	value := missAll
	if sc.mode == modeAtLeastOne {
		value = 1 - missAll
	}

	steps := []problem.SolutionStep{
		step("p(miss in one trial)="+expr.FormatFloat(1-perTrial),
			"complement_single_trial"),
		step(fmt.Sprintf("p(miss all %d trials)=%s^%d=%s",
			sc.trials, expr.FormatFloat(1-perTrial), sc.trials,
			expr.FormatFloat(missAll)),
			"multiply_independent_trials"),
	}
	if sc.mode == modeAtLeastOne {
		steps = append(steps, step(
			fmt.Sprintf("p=1-%s=%s", expr.FormatFloat(missAll), expr.FormatFloat(value)),
			"apply_complement_rule"))
	} else {
		steps = append(steps, step("p="+expr.FormatFloat(value), "apply_complement_rule"))
	}
	return finishProbability(strategy, steps, expr.FormatFloat(value), value)
}

// =============================================================================
// seeded_monte_carlo
// =============================================================================

// seededMonteCarlo estimates the probability by simulation with a fixed
// seed, so reruns reproduce the estimate bit for bit. The guaranteed last
// resort for any extractable scenario.
func (s *Solver) seededMonteCarlo(ctx context.Context, p problem.ParsedProblem) (problem.Solution, error) {
	strategy := problem.StrategySeededMonteCarlo

	sc, ok := extractScenario(p.Text)
	if !ok {
		return problem.Solution{}, solverErr(strategy, "unextractable_scenario", nil)
	}
	if sc.kind == kindCardDraw && (sc.firstClass != "" || sc.trials != 1) {
		return problem.Solution{}, solverErr(strategy, "formula_mismatch", nil)
	}
	if sc.kind == kindStatedTrials && (sc.p < 0 || sc.p > 1) {
		return problem.Solution{}, solverErr(strategy, "bounds_violation", nil)
	}

	rng := rand.New(rand.NewSource(s.cfg.MonteCarloSeed))
	samples := s.cfg.MonteCarloSamples
	hits := 0
	for i := 0; i < samples; i++ {
		if i%4096 == 0 && ctx.Err() != nil {
			return problem.Solution{}, solverErr(strategy, "timeout", ctx.Err())
		}
		if simulateOnce(rng, sc) {
			hits++
		}
	}
	value := float64(hits) / float64(samples)

	steps := []problem.SolutionStep{
		step(fmt.Sprintf("simulate %d trials with seed %d", samples, s.cfg.MonteCarloSeed),
			"run_seeded_simulation"),
		step(fmt.Sprintf("p~=%d/%d=%s", hits, samples, expr.FormatFloat(value)),
			"estimate_probability"),
	}
	return finishProbability(strategy, steps, expr.FormatFloat(value), value)
}

func simulateOnce(rng *rand.Rand, sc probScenario) bool {
	switch sc.kind {
	case kindCoinFlips:
		count := 0
		for i := 0; i < sc.trials; i++ {
			if rng.Intn(2) == 1 {
				count++
			}
		}
		return matchMode(count, sc.k, sc.mode)

	case kindDiceSum:
		total := 0
		for i := 0; i < sc.dice; i++ {
			total += rng.Intn(6) + 1
		}
		switch sc.mode {
		case modeAtLeast:
			return total >= sc.sum
		case modeAtMost:
			return total <= sc.sum
		}
		return total == sc.sum

	case kindDieFace:
		count := 0
		for i := 0; i < sc.trials; i++ {
			if rng.Intn(6)+1 == sc.face {
				count++
			}
		}
		return matchMode(count, sc.k, sc.mode)

	case kindCardDraw:
		return rng.Intn(52) < sc.classCount

	case kindStatedTrials:
		count := 0
		for i := 0; i < sc.trials; i++ {
			if rng.Float64() < sc.p {
				count++
			}
		}
		return matchMode(count, sc.k, sc.mode)
	}
	return false
}

func matchMode(count, k int, mode countMode) bool {
	switch mode {
	case modeAtLeast:
		return count >= k
	case modeAtMost:
		return count <= k
	case modeAtLeastOne:
		return count >= 1
	case modeNone:
		return count == 0
	}
	return count == k
}
