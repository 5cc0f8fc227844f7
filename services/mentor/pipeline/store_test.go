// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	badgerstore "github.com/AleutianAI/MathMentor/services/mentor/storage/badger"
)

func TestInMemorySessionStore(t *testing.T) {
	store := NewInMemorySessionStore()

	session := NewSession()
	store.Put(session)

	got, ok := store.Get(session.ID)
	if !ok {
		t.Fatal("Get should find the stored session")
	}
	if got.ID != session.ID {
		t.Errorf("ID = %s, want %s", got.ID, session.ID)
	}

	ids := store.List()
	if len(ids) != 1 {
		t.Errorf("List returned %d sessions, want 1", len(ids))
	}

	store.Delete(session.ID)
	if _, ok := store.Get(session.ID); ok {
		t.Error("Get should not find a deleted session")
	}

	if _, ok := store.Get("nonexistent"); ok {
		t.Error("Get should not find a non-existent session")
	}
}

func TestInMemorySessionStore_ListSorted(t *testing.T) {
	store := NewInMemorySessionStore()
	for i := 0; i < 5; i++ {
		store.Put(NewSession())
	}

	ids := store.List()
	if len(ids) != 5 {
		t.Fatalf("List returned %d sessions, want 5", len(ids))
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("List should be sorted, got %v", ids)
	}
}

func TestInMemorySessionStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemorySessionStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Put(NewSession())
			_ = store.List()
		}()
	}
	wg.Wait()

	if got := len(store.List()); got != 100 {
		t.Errorf("List returned %d sessions, want 100", got)
	}
}

func openSuspendedStore(t *testing.T) *SuspendedStore {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close badger: %v", err)
		}
	})
	return NewSuspendedStore(db, 0, nil)
}

func suspendedSession() *Session {
	session := NewSession()
	session.SetRawText("what is the derivative of x^2 sin(x)")
	session.SetProblem(problem.ParsedProblem{
		Text:       "d/dx(x^2*sin(x))",
		Category:   problem.CategoryDerivative,
		Confidence: 0.42,
		Variables:  []string{"x"},
	})
	session.SetClarification(problem.ClarificationRequest{
		AmbiguousField:           "category",
		CandidateInterpretations: []string{"calculus_derivative", "algebra"},
		OriginalText:             "what is the derivative of x^2 sin(x)",
	})
	session.OpenRound(*session.GetClarification())
	session.IncrementRounds()
	session.AddAttempt(problem.Attempt{
		Strategy:      problem.Strategy{Name: "product_rule", Rank: 1},
		Succeeded:     false,
		FailureReason: "verification confidence 0.55",
		Confidence:    0.55,
	})
	session.AddHistory(HistoryEntry{Type: HistoryStage, State: StateClassifying, Detail: "category ambiguous"})
	session.SetState(StateEscalated)
	return session
}

func TestSuspendedStore_RoundTrip(t *testing.T) {
	store := openSuspendedStore(t)
	ctx := context.Background()

	want := suspendedSession()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, want.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID = %s, want %s", got.ID, want.ID)
	}
	if got.GetState() != StateEscalated {
		t.Errorf("State = %s, want ESCALATED", got.GetState())
	}
	if got.GetRawText() != want.GetRawText() {
		t.Errorf("RawText = %q, want %q", got.GetRawText(), want.GetRawText())
	}
	if got.GetProblem().Category != problem.CategoryDerivative {
		t.Errorf("Category = %s, want calculus_derivative", got.GetProblem().Category)
	}

	req := got.GetClarification()
	if req == nil {
		t.Fatal("expected the pending clarification to survive the round trip")
	}
	if req.AmbiguousField != "category" || len(req.CandidateInterpretations) != 2 {
		t.Errorf("clarification = %+v, want the saved request", req)
	}

	if got.RoundCount() != 1 {
		t.Errorf("RoundCount = %d, want 1", got.RoundCount())
	}
	if len(got.AttemptHistory()) != 1 {
		t.Errorf("attempts = %d, want 1", len(got.AttemptHistory()))
	}
	if len(got.HistoryTrail()) == 0 {
		t.Error("expected the audit trail to survive the round trip")
	}

	// The restored session must be runnable
	if !got.TryAcquire() {
		t.Error("restored session should be acquirable")
	}
	got.Release()
}

func TestSuspendedStore_LoadMissing(t *testing.T) {
	store := openSuspendedStore(t)

	_, err := store.Load(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected an error for a missing session")
	}
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSuspendedStore_Delete(t *testing.T) {
	store := openSuspendedStore(t)
	ctx := context.Background()

	session := suspendedSession()
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op
	if err := store.Delete(ctx, session.ID); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestSuspendedStore_List(t *testing.T) {
	store := openSuspendedStore(t)
	ctx := context.Background()

	first := suspendedSession()
	second := suspendedSession()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List returned %d ids, want 2", len(ids))
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("List should be sorted, got %v", ids)
	}
}

func TestSuspendedStore_NilStore(t *testing.T) {
	var store *SuspendedStore
	ctx := context.Background()

	if err := store.Save(ctx, suspendedSession()); err != nil {
		t.Errorf("nil store Save() error = %v", err)
	}
	if err := store.Delete(ctx, "any"); err != nil {
		t.Errorf("nil store Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "any"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("nil store Load should report ErrSessionNotFound, got %v", err)
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Errorf("nil store List() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("nil store List returned %v, want empty", ids)
	}
}
