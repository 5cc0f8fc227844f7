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
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/MathMentor/services/mentor/classify"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/route"
	badgerstore "github.com/AleutianAI/MathMentor/services/mentor/storage/badger"
)

// =============================================================================
// Live session store
// =============================================================================

// SessionStore holds live sessions by id.
type SessionStore interface {
	// Get returns the session and whether it exists.
	Get(id string) (*Session, bool)

	// Put stores or replaces the session.
	Put(session *Session)

	// Delete removes the session. Missing ids are a no-op.
	Delete(id string)

	// List returns all session ids, sorted.
	List() []string
}

// InMemorySessionStore is the default SessionStore.
//
// Thread Safety: Safe for concurrent use.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemorySessionStore returns an empty store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*Session)}
}

// Get returns the session and whether it exists.
func (s *InMemorySessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Put stores or replaces the session.
func (s *InMemorySessionStore) Put(session *Session) {
	if session == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Delete removes the session.
func (s *InMemorySessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List returns all session ids, sorted.
func (s *InMemorySessionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// Suspended session store
// =============================================================================

// suspendedPrefix versions the key space so the stored layout can evolve
// without migrating old entries.
const suspendedPrefix = "pipeline/suspended/v1/"

// DefaultSuspendedTTL is how long a suspended session waits for a human
// answer before Badger expires it.
const DefaultSuspendedTTL = 72 * time.Hour

// storedSession is the gob layout for a suspended session. It mirrors the
// persistent fields of Session without the runtime guards.
type storedSession struct {
	ID               string
	RawText          string
	ClarifiedText    string
	State            State
	Problem          problem.ParsedProblem
	Classification   *classify.Classification
	Plan             route.Plan
	Solution         *problem.Solution
	Report           *problem.VerificationReport
	Attempts         []problem.Attempt
	AttemptEpoch     int
	Retries          int
	EscalationRounds int
	Clarification    *problem.ClarificationRequest
	Tainted          bool
	Rounds           []ClarificationRound
	History          []HistoryEntry
	StepCount        int
	CreatedAt        int64
	LastActiveAt     int64
}

// SuspendedStore persists ESCALATED sessions in BadgerDB so clarification
// answers survive a process restart.
//
// Description:
//
//	Save overwrites the stored copy on every suspension, Load rebuilds a
//	runnable Session, and Delete removes the copy once the session
//	resumes or terminates. Entries carry a TTL so sessions nobody ever
//	answers age out on their own.
//
// Thread Safety: Safe for concurrent use. A nil store is valid and
// persists nothing.
type SuspendedStore struct {
	db  *badgerstore.DB
	ttl time.Duration
	log *slog.Logger
}

// NewSuspendedStore wraps an open Badger handle. A non-positive ttl falls
// back to DefaultSuspendedTTL.
func NewSuspendedStore(db *badgerstore.DB, ttl time.Duration, log *slog.Logger) *SuspendedStore {
	if ttl <= 0 {
		ttl = DefaultSuspendedTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &SuspendedStore{db: db, ttl: ttl, log: log}
}

func suspendedKey(id string) []byte {
	return []byte(suspendedPrefix + id)
}

// Save stores the session's persistent state.
func (s *SuspendedStore) Save(ctx context.Context, session *Session) error {
	if s == nil || s.db == nil {
		return nil
	}
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: save suspended session", ErrNilSession)
	}
	raw, err := encodeStoredSession(snapshotStored(session))
	if err != nil {
		return fmt.Errorf("pipeline: encode suspended session %s: %w", session.ID, err)
	}
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(suspendedKey(session.ID), raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("pipeline: save suspended session %s: %w", session.ID, err)
	}
	return nil
}

// Load rebuilds a suspended session. Returns ErrSessionNotFound when no
// stored copy exists.
func (s *SuspendedStore) Load(ctx context.Context, id string) (*Session, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, gerr := txn.Get(suspendedKey(id))
		if gerr != nil {
			return gerr
		}
		raw, gerr = item.ValueCopy(nil)
		return gerr
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: load suspended session %s: %w", id, err)
	}
	st, err := decodeStoredSession(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode suspended session %s: %w", id, err)
	}
	return restoreSession(st), nil
}

// Delete removes the stored copy. Missing ids are a no-op.
func (s *SuspendedStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(suspendedKey(id))
	})
	if err != nil {
		return fmt.Errorf("pipeline: delete suspended session %s: %w", id, err)
	}
	return nil
}

// List returns the ids of all stored suspended sessions, sorted.
func (s *SuspendedStore) List(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(suspendedPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), suspendedPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: list suspended sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// Encoding
// =============================================================================

func encodeStoredSession(st storedSession) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStoredSession(raw []byte) (storedSession, error) {
	var st storedSession
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&st); err != nil {
		return storedSession{}, err
	}
	return st, nil
}

// snapshotStored copies the session's persistent fields under its lock.
func snapshotStored(s *Session) storedSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storedSession{
		ID:               s.ID,
		RawText:          s.RawText,
		ClarifiedText:    s.ClarifiedText,
		State:            s.State,
		Problem:          s.Problem,
		Classification:   s.Classification,
		Plan:             s.Plan,
		Solution:         s.Solution,
		Report:           s.Report,
		Attempts:         append([]problem.Attempt(nil), s.Attempts...),
		AttemptEpoch:     s.AttemptEpoch,
		Retries:          s.Retries,
		EscalationRounds: s.EscalationRounds,
		Clarification:    s.Clarification,
		Tainted:          s.Tainted,
		Rounds:           append([]ClarificationRound(nil), s.Rounds...),
		History:          append([]HistoryEntry(nil), s.History...),
		StepCount:        s.StepCount,
		CreatedAt:        s.CreatedAt,
		LastActiveAt:     s.LastActiveAt,
	}
}

// restoreSession rebuilds a runnable session from its stored layout.
func restoreSession(st storedSession) *Session {
	return &Session{
		ID:               st.ID,
		RawText:          st.RawText,
		ClarifiedText:    st.ClarifiedText,
		State:            st.State,
		Problem:          st.Problem,
		Classification:   st.Classification,
		Plan:             st.Plan,
		Solution:         st.Solution,
		Report:           st.Report,
		Attempts:         st.Attempts,
		AttemptEpoch:     st.AttemptEpoch,
		Retries:          st.Retries,
		EscalationRounds: st.EscalationRounds,
		Clarification:    st.Clarification,
		Tainted:          st.Tainted,
		Rounds:           st.Rounds,
		History:          st.History,
		StepCount:        st.StepCount,
		CreatedAt:        st.CreatedAt,
		LastActiveAt:     st.LastActiveAt,
	}
}
