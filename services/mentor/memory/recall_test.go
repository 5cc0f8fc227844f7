// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// stubSemantic substitutes the Weaviate channel.
type stubSemantic struct {
	hits []vectorHit
	err  error
	puts []string
}

func (s *stubSemantic) Put(_ context.Context, rec InteractionRecord) error {
	s.puts = append(s.puts, rec.ID)
	return nil
}

func (s *stubSemantic) Search(_ context.Context, _ string, _ problem.Category, _ int) ([]vectorHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func newTestRecaller(t *testing.T) *Recaller {
	t.Helper()
	return NewRecaller(openTestStore(t), nil, DefaultRecallerConfig(), nil)
}

func remember(t *testing.T, r *Recaller, rec *InteractionRecord) {
	t.Helper()
	if err := r.Remember(context.Background(), rec); err != nil {
		t.Fatalf("Remember(%s) error = %v", rec.ID, err)
	}
}

func TestRecaller_RememberAndRecall(t *testing.T) {
	r := newTestRecaller(t)
	ctx := context.Background()

	remember(t, r, acceptedRecord("algebra-1"))

	deriv := acceptedRecord("deriv-1")
	deriv.ProblemText = "differentiate sin(x) * cos(x)"
	deriv.Category = problem.CategoryDerivative
	deriv.Strategy = "product_rule"
	deriv.Result = "cos(2*x)"
	remember(t, r, deriv)

	examples, err := r.Recall(ctx, "solve 2*x + 5 = 9", problem.CategoryAlgebra)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(examples) != 1 {
		t.Fatalf("Recall() returned %d examples, want 1", len(examples))
	}
	got := examples[0]
	if got.InteractionID != "algebra-1" {
		t.Errorf("InteractionID = %q, want algebra-1", got.InteractionID)
	}
	if got.Result != "x = 4" {
		t.Errorf("Result = %q, want x = 4", got.Result)
	}
	if got.Strategy != "linear_isolation" {
		t.Errorf("Strategy = %q, want linear_isolation", got.Strategy)
	}
	if got.Score <= 0 || got.Score > 1.0 {
		t.Errorf("Score = %v, want in (0, 1]", got.Score)
	}
}

func TestRecaller_OnlyConfidentAcceptedRunsOffered(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *InteractionRecord)
	}{
		{
			name: "failed run",
			mutate: func(r *InteractionRecord) {
				r.Outcome = OutcomeFailed
				r.Result = ""
			},
		},
		{
			name: "abandoned run",
			mutate: func(r *InteractionRecord) {
				r.Outcome = OutcomeAbandoned
			},
		},
		{
			name: "confidence below floor",
			mutate: func(r *InteractionRecord) {
				r.Confidence = 0.3
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecaller(t)
			ctx := context.Background()

			rec := acceptedRecord("sess-1")
			tt.mutate(rec)
			remember(t, r, rec)

			if r.Len() != 0 {
				t.Errorf("Len() = %d, want 0 retrievable examples", r.Len())
			}
			examples, err := r.Recall(ctx, rec.ProblemText, "")
			if err != nil {
				t.Fatalf("Recall() error = %v", err)
			}
			if len(examples) != 0 {
				t.Errorf("Recall() returned %d examples, want 0", len(examples))
			}

			// The run is still archived for audit.
			if _, err := r.store.Get(ctx, "sess-1"); err != nil {
				t.Errorf("Get() error = %v, want the run archived", err)
			}
		})
	}
}

func TestRecaller_CategoryFilter(t *testing.T) {
	r := newTestRecaller(t)
	ctx := context.Background()

	dice := acceptedRecord("dice")
	dice.ProblemText = "probability of rolling a 6 on a fair die"
	dice.Category = problem.CategoryProbability
	dice.Result = "1/6"
	remember(t, r, dice)

	train := acceptedRecord("train")
	train.ProblemText = "probability the train arrives before noon"
	train.Category = problem.CategoryWordProblem
	train.Result = "3/4"
	remember(t, r, train)

	filtered, err := r.Recall(ctx, "probability of a 6", problem.CategoryProbability)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].InteractionID != "dice" {
		t.Fatalf("filtered recall = %+v, want only dice", filtered)
	}

	for _, open := range []problem.Category{"", problem.CategoryUnknown} {
		all, err := r.Recall(ctx, "probability of a 6", open)
		if err != nil {
			t.Fatalf("Recall(%q) error = %v", open, err)
		}
		if len(all) != 2 {
			t.Errorf("Recall(%q) returned %d examples, want both topics", open, len(all))
		}
	}
}

func TestRecaller_IncorrectFeedbackStopsOffering(t *testing.T) {
	r := newTestRecaller(t)
	ctx := context.Background()

	remember(t, r, acceptedRecord("sess-1"))
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	fb := &problem.Feedback{Type: problem.FeedbackIncorrect, CreatedAt: time.Now()}
	if err := r.RecordFeedback(ctx, "sess-1", fb); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}

	if r.Len() != 0 {
		t.Errorf("Len() = %d after incorrect verdict, want 0", r.Len())
	}
	examples, err := r.Recall(ctx, "solve 2*x + 5 = 9", "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(examples) != 0 {
		t.Errorf("Recall() returned %d examples, want 0", len(examples))
	}

	stored, err := r.store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Feedback == nil || stored.Feedback.Type != problem.FeedbackIncorrect {
		t.Errorf("stored feedback = %+v, want incorrect verdict", stored.Feedback)
	}
}

func TestRecaller_CorrectFeedbackKeepsOffering(t *testing.T) {
	r := newTestRecaller(t)
	ctx := context.Background()

	remember(t, r, acceptedRecord("sess-1"))

	fb := &problem.Feedback{Type: problem.FeedbackCorrect, CreatedAt: time.Now()}
	if err := r.RecordFeedback(ctx, "sess-1", fb); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want the example still offered", r.Len())
	}
}

func TestRecaller_LoadRebuildsFromArchive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	good := acceptedRecord("good")
	failed := acceptedRecord("failed")
	failed.Outcome = OutcomeFailed
	failed.Result = ""
	shaky := acceptedRecord("shaky")
	shaky.Confidence = 0.3
	for _, rec := range []*InteractionRecord{good, failed, shaky} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%s) error = %v", rec.ID, err)
		}
	}

	r := NewRecaller(store, nil, DefaultRecallerConfig(), nil)
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 usable example", r.Len())
	}

	examples, err := r.Recall(ctx, "solve 2*x + 5 = 9", "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(examples) != 1 || examples[0].InteractionID != "good" {
		t.Errorf("Recall() = %+v, want only the confident accepted run", examples)
	}
}

func TestRecaller_SemanticChannelExtendsLexical(t *testing.T) {
	r := newTestRecaller(t)
	ctx := context.Background()

	remember(t, r, acceptedRecord("lexical-hit"))

	cylinder := acceptedRecord("semantic-hit")
	cylinder.ProblemText = "minimize cylinder surface area at fixed volume"
	cylinder.Result = "h = 2r"
	remember(t, r, cylinder)

	stub := &stubSemantic{hits: []vectorHit{{InteractionID: "semantic-hit", Certainty: 0.9}}}
	r.vectors = stub

	examples, err := r.Recall(ctx, "solve 2*x + 5 = 9", "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("Recall() returned %d examples, want lexical and semantic hits", len(examples))
	}
	found := map[string]bool{}
	for _, ex := range examples {
		found[ex.InteractionID] = true
	}
	if !found["lexical-hit"] || !found["semantic-hit"] {
		t.Errorf("Recall() = %v, want both channels represented", found)
	}
}

func TestRecaller_SemanticFailureFallsBackToLexical(t *testing.T) {
	r := newTestRecaller(t)
	ctx := context.Background()

	remember(t, r, acceptedRecord("sess-1"))
	r.vectors = &stubSemantic{err: errors.New("connection refused")}

	examples, err := r.Recall(ctx, "solve 2*x + 5 = 9", "")
	if err != nil {
		t.Fatalf("Recall() error = %v, want degraded success", err)
	}
	if len(examples) != 1 || examples[0].InteractionID != "sess-1" {
		t.Errorf("Recall() = %+v, want the lexical hit", examples)
	}
}

func TestRecaller_SemanticIndexingOnRemember(t *testing.T) {
	r := newTestRecaller(t)
	stub := &stubSemantic{}
	r.vectors = stub

	remember(t, r, acceptedRecord("offered"))

	failed := acceptedRecord("not-offered")
	failed.Outcome = OutcomeFailed
	failed.Result = ""
	remember(t, r, failed)

	if len(stub.puts) != 1 || stub.puts[0] != "offered" {
		t.Errorf("semantic puts = %v, want only the accepted run", stub.puts)
	}
}

func TestRecaller_MaxResultsCapsAndRanks(t *testing.T) {
	cfg := DefaultRecallerConfig()
	cfg.MaxResults = 2
	r := NewRecaller(openTestStore(t), nil, cfg, nil)
	ctx := context.Background()

	confidences := map[string]float64{"s1": 0.95, "s2": 0.85, "s3": 0.75}
	for _, id := range []string{"s1", "s2", "s3"} {
		rec := acceptedRecord(id)
		rec.ProblemText = "solve " + id + " equation sample"
		rec.Confidence = confidences[id]
		remember(t, r, rec)
	}

	examples, err := r.Recall(ctx, "solve", "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("Recall() returned %d examples, want 2", len(examples))
	}
	if examples[0].InteractionID != "s1" || examples[1].InteractionID != "s2" {
		t.Errorf("order = [%s %s], want the two most confident",
			examples[0].InteractionID, examples[1].InteractionID)
	}
}

func TestRecaller_EmptyArchive(t *testing.T) {
	r := newTestRecaller(t)

	examples, err := r.Recall(context.Background(), "solve 2*x + 5 = 9", "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(examples) != 0 {
		t.Errorf("Recall() returned %d examples, want 0", len(examples))
	}
}
