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
	"math"
	"testing"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

func probProblem(text string) problem.ParsedProblem {
	return problem.ParsedProblem{
		Text:     text,
		Category: problem.CategoryProbability,
	}
}

func TestExtractScenario(t *testing.T) {
	tests := []struct {
		name string
		text string
		want probScenario
	}{
		{
			"coin flips",
			"a coin is tossed 3 times. what is the probability of exactly 2 heads?",
			probScenario{kind: kindCoinFlips, trials: 3, k: 2, mode: modeExactly},
		},
		{
			"dice sum",
			"two dice are rolled. what is the probability that the sum is 7?",
			probScenario{kind: kindDiceSum, dice: 2, sum: 7, mode: modeExactly},
		},
		{
			"dice sum with bound",
			"two dice are rolled. what is the probability that the sum is at least 10?",
			probScenario{kind: kindDiceSum, dice: 2, sum: 10, mode: modeAtLeast},
		},
		{
			"single card",
			"a card is drawn from a standard deck. what is the probability that it is red?",
			probScenario{kind: kindCardDraw, trials: 1, class: "red", classCount: 26, mode: modeExactly},
		},
		{
			"conditional card keeps the question class",
			"two cards are drawn without replacement. what is the probability that the second card is a heart given that the first card is a spade?",
			probScenario{kind: kindCardDraw, trials: 2, class: "heart", classCount: 13,
				firstClass: "spade", mode: modeExactly},
		},
		{
			"die face plural",
			"a die is rolled 3 times. what is the probability of exactly 2 sixes?",
			probScenario{kind: kindDieFace, trials: 3, k: 2, face: 6, mode: modeExactly},
		},
		{
			"die face trailing count",
			"a die is rolled 3 times. what is the probability of rolling a six exactly 2 times?",
			probScenario{kind: kindDieFace, trials: 3, k: 2, face: 6, mode: modeExactly},
		},
		{
			"at least one six",
			"a die is rolled 4 times. what is the probability of at least one six?",
			probScenario{kind: kindDieFace, trials: 4, k: 1, face: 6, mode: modeAtLeastOne},
		},
		{
			"no sixes",
			"a die is rolled 4 times. what is the probability of no sixes?",
			probScenario{kind: kindDieFace, trials: 4, k: 0, face: 6, mode: modeNone},
		},
		{
			"stated trials",
			"a free throw has a success rate of 80% in 5 independent trials. what is the probability of exactly 3 successes?",
			probScenario{kind: kindStatedTrials, trials: 5, k: 3, p: 0.8, mode: modeExactly},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractScenario(tt.text)
			if !ok {
				t.Fatal("extraction failed")
			}
			if got != tt.want {
				t.Errorf("scenario = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractScenario_Unrecognized(t *testing.T) {
	if _, ok := extractScenario("what is the chance of rain tomorrow?"); ok {
		t.Error("free text must not extract to a scenario")
	}
}

func TestCombinatorialCounting_CoinFlips(t *testing.T) {
	s := testSolver()
	sol, err := s.combinatorialCounting(context.Background(),
		probProblem("a coin is tossed 3 times. what is the probability of exactly 2 heads?"))
	if err != nil {
		t.Fatalf("combinatorialCounting error: %v", err)
	}
	if sol.Result != "3/8" {
		t.Errorf("Result = %q, want \"3/8\"", sol.Result)
	}
	if sol.NumericValue == nil || *sol.NumericValue != 0.375 {
		t.Errorf("NumericValue = %v, want 0.375", sol.NumericValue)
	}
	if sol.Steps[0].Statement != "total outcomes=8" {
		t.Errorf("count_sample_space = %q", sol.Steps[0].Statement)
	}
	if sol.Steps[2].Statement != "p=3/8=3/8" || sol.Steps[2].Operation != "divide_favorable_by_total" {
		t.Errorf("divide step = %+v", sol.Steps[2])
	}
}

func TestCombinatorialCounting_DiceSum(t *testing.T) {
	s := testSolver()
	sol, err := s.combinatorialCounting(context.Background(),
		probProblem("two dice are rolled. what is the probability that the sum is 7?"))
	if err != nil {
		t.Fatalf("combinatorialCounting error: %v", err)
	}
	if sol.Result != "1/6" {
		t.Errorf("Result = %q, want \"1/6\"", sol.Result)
	}
	if sol.Steps[2].Statement != "p=6/36=1/6" {
		t.Errorf("divide step = %q", sol.Steps[2].Statement)
	}
}

func TestCombinatorialCounting_DiceSumAtLeast(t *testing.T) {
	s := testSolver()
	sol, err := s.combinatorialCounting(context.Background(),
		probProblem("two dice are rolled. what is the probability that the sum is at least 10?"))
	if err != nil {
		t.Fatalf("combinatorialCounting error: %v", err)
	}
	// 10, 11, 12 have 3+2+1 of 36 outcomes.
	if sol.Result != "1/6" {
		t.Errorf("Result = %q, want \"1/6\"", sol.Result)
	}
}

func TestCombinatorialCounting_SingleCard(t *testing.T) {
	s := testSolver()
	sol, err := s.combinatorialCounting(context.Background(),
		probProblem("a card is drawn from a standard deck. what is the probability that it is red?"))
	if err != nil {
		t.Fatalf("combinatorialCounting error: %v", err)
	}
	if sol.Result != "1/2" {
		t.Errorf("Result = %q, want \"1/2\"", sol.Result)
	}
}

func TestCombinatorialCounting_BothCards(t *testing.T) {
	s := testSolver()
	sol, err := s.combinatorialCounting(context.Background(),
		probProblem("two cards are drawn. what is the probability that both are red?"))
	if err != nil {
		t.Fatalf("combinatorialCounting error: %v", err)
	}
	// C(26,2)/C(52,2) = 325/1326.
	if sol.Result != "25/102" {
		t.Errorf("Result = %q, want \"25/102\"", sol.Result)
	}
}

func TestCombinatorialCounting_AtLeastOneHead(t *testing.T) {
	s := testSolver()
	sol, err := s.combinatorialCounting(context.Background(),
		probProblem("a coin is tossed 3 times. what is the probability of at least one head?"))
	if err != nil {
		t.Fatalf("combinatorialCounting error: %v", err)
	}
	if sol.Result != "7/8" {
		t.Errorf("Result = %q, want \"7/8\"", sol.Result)
	}
}

func TestCombinatorialCounting_Failures(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{"free text", "what is the chance of rain tomorrow?", "unextractable_scenario"},
		{"too many trials", "a coin is tossed 50 times. what is the probability of exactly 25 heads?", "trials_too_large"},
		{"conditional needs bayes", "two cards are drawn. what is the probability that the second card is a king given that the first card is a king?", "formula_mismatch"},
		{"stated rate needs binomial", "a free throw has a success rate of 80% in 5 independent trials. what is the probability of exactly 3 successes?", "formula_mismatch"},
	}
	s := testSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.combinatorialCounting(context.Background(), probProblem(tt.text))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestBayesRule_SameClass(t *testing.T) {
	s := testSolver()
	sol, err := s.bayesRule(context.Background(),
		probProblem("two cards are drawn without replacement. what is the probability that the second card is a king given that the first card is a king?"))
	if err != nil {
		t.Fatalf("bayesRule error: %v", err)
	}
	if sol.Result != "1/17" {
		t.Errorf("Result = %q, want \"1/17\"", sol.Result)
	}
	if sol.Steps[0].Operation != "reduce_sample_space" {
		t.Errorf("first operation = %q, want reduce_sample_space", sol.Steps[0].Operation)
	}
}

func TestBayesRule_DisjointClassesSameGroup(t *testing.T) {
	s := testSolver()
	sol, err := s.bayesRule(context.Background(),
		probProblem("two cards are drawn without replacement. what is the probability that the second card is a heart given that the first card is a spade?"))
	if err != nil {
		t.Fatalf("bayesRule error: %v", err)
	}
	if sol.Result != "13/51" {
		t.Errorf("Result = %q, want \"13/51\"", sol.Result)
	}
}

func TestBayesRule_AmbiguousOverlap(t *testing.T) {
	s := testSolver()
	_, err := s.bayesRule(context.Background(),
		probProblem("two cards are drawn without replacement. what is the probability that the second card is a king given that the first card is red?"))
	if err == nil {
		t.Fatal("expected ambiguous_overlap")
	}
	if got := reasonOf(t, err); got != "ambiguous_overlap" {
		t.Errorf("reason = %q, want ambiguous_overlap", got)
	}
}

func TestBayesRule_RequiresCondition(t *testing.T) {
	s := testSolver()
	_, err := s.bayesRule(context.Background(),
		probProblem("a card is drawn from a standard deck. what is the probability that it is red?"))
	if err == nil {
		t.Fatal("expected formula_mismatch")
	}
	if got := reasonOf(t, err); got != "formula_mismatch" {
		t.Errorf("reason = %q, want formula_mismatch", got)
	}
}

func TestBinomialFormula_CoinFlips(t *testing.T) {
	s := testSolver()
	sol, err := s.binomialFormula(context.Background(),
		probProblem("a coin is tossed 3 times. what is the probability of exactly 2 heads?"))
	if err != nil {
		t.Fatalf("binomialFormula error: %v", err)
	}
	if sol.Result != "0.375" {
		t.Errorf("Result = %q, want \"0.375\"", sol.Result)
	}
	if sol.Steps[0].Statement != "n=3, k=2, p=0.5" {
		t.Errorf("identify_binomial_parameters = %q", sol.Steps[0].Statement)
	}
	if sol.Steps[1].Statement != "C(3,2)=3" || sol.Steps[1].Operation != "count_combinations" {
		t.Errorf("count_combinations = %+v", sol.Steps[1])
	}
}

func TestBinomialFormula_StatedRate(t *testing.T) {
	s := testSolver()
	sol, err := s.binomialFormula(context.Background(),
		probProblem("a free throw has a success rate of 80% in 5 independent trials. what is the probability of exactly 3 successes?"))
	if err != nil {
		t.Fatalf("binomialFormula error: %v", err)
	}
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-0.2048) > 1e-12 {
		t.Errorf("NumericValue = %v, want 0.2048", sol.NumericValue)
	}
}

func TestBinomialFormula_DieFaces(t *testing.T) {
	s := testSolver()
	sol, err := s.binomialFormula(context.Background(),
		probProblem("a die is rolled 3 times. what is the probability of exactly 2 sixes?"))
	if err != nil {
		t.Fatalf("binomialFormula error: %v", err)
	}
	want := 15.0 / 216
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-want) > 1e-12 {
		t.Errorf("NumericValue = %v, want %v", sol.NumericValue, want)
	}
}

func TestBinomialFormula_RejectsDiceSums(t *testing.T) {
	s := testSolver()
	_, err := s.binomialFormula(context.Background(),
		probProblem("two dice are rolled. what is the probability that the sum is 7?"))
	if err == nil {
		t.Fatal("expected formula_mismatch")
	}
	if got := reasonOf(t, err); got != "formula_mismatch" {
		t.Errorf("reason = %q, want formula_mismatch", got)
	}
}

func TestComplementRule_AtLeastOneSix(t *testing.T) {
	s := testSolver()
	sol, err := s.complementRule(context.Background(),
		probProblem("a die is rolled 4 times. what is the probability of at least one six?"))
	if err != nil {
		t.Fatalf("complementRule error: %v", err)
	}
	want := 1 - math.Pow(5.0/6, 4)
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-want) > 1e-12 {
		t.Errorf("NumericValue = %v, want %v", sol.NumericValue, want)
	}
	last := sol.Steps[len(sol.Steps)-1]
	if last.Operation != "apply_complement_rule" {
		t.Errorf("final operation = %q, want apply_complement_rule", last.Operation)
	}
}

func TestComplementRule_NoHeads(t *testing.T) {
	s := testSolver()
	sol, err := s.complementRule(context.Background(),
		probProblem("a coin is tossed 3 times. what is the probability of no heads?"))
	if err != nil {
		t.Fatalf("complementRule error: %v", err)
	}
	if sol.Result != "0.125" {
		t.Errorf("Result = %q, want \"0.125\"", sol.Result)
	}
}

func TestComplementRule_RejectsExactCounts(t *testing.T) {
	s := testSolver()
	_, err := s.complementRule(context.Background(),
		probProblem("a coin is tossed 3 times. what is the probability of exactly 2 heads?"))
	if err == nil {
		t.Fatal("expected formula_mismatch")
	}
	if got := reasonOf(t, err); got != "formula_mismatch" {
		t.Errorf("reason = %q, want formula_mismatch", got)
	}
}

func TestSeededMonteCarlo_ApproximatesDiceSum(t *testing.T) {
	s := testSolver()
	sol, err := s.seededMonteCarlo(context.Background(),
		probProblem("two dice are rolled. what is the probability that the sum is 7?"))
	if err != nil {
		t.Fatalf("seededMonteCarlo error: %v", err)
	}
	if sol.NumericValue == nil || math.Abs(*sol.NumericValue-1.0/6) > 0.01 {
		t.Errorf("NumericValue = %v, want about 1/6", sol.NumericValue)
	}
}

func TestSeededMonteCarlo_Deterministic(t *testing.T) {
	s := testSolver()
	p := probProblem("a coin is tossed 3 times. what is the probability of exactly 2 heads?")

	first, err := s.seededMonteCarlo(context.Background(), p)
	if err != nil {
		t.Fatalf("first run error: %v", err)
	}
	second, err := s.seededMonteCarlo(context.Background(), p)
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if *first.NumericValue != *second.NumericValue {
		t.Errorf("reruns disagree: %v vs %v; the seed must pin the estimate",
			*first.NumericValue, *second.NumericValue)
	}
}

func TestSeededMonteCarlo_RejectsConditionalDraws(t *testing.T) {
	s := testSolver()
	_, err := s.seededMonteCarlo(context.Background(),
		probProblem("two cards are drawn without replacement. what is the probability that the second card is a king given that the first card is a king?"))
	if err == nil {
		t.Fatal("expected formula_mismatch")
	}
	if got := reasonOf(t, err); got != "formula_mismatch" {
		t.Errorf("reason = %q, want formula_mismatch", got)
	}
}

func TestSeededMonteCarlo_CancelledContext(t *testing.T) {
	s := testSolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.seededMonteCarlo(ctx,
		probProblem("two dice are rolled. what is the probability that the sum is 7?"))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if got := reasonOf(t, err); got != "timeout" {
		t.Errorf("reason = %q, want timeout", got)
	}
}
