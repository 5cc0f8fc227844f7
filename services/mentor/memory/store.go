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
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	badgerstore "github.com/AleutianAI/MathMentor/services/mentor/storage/badger"
)

// interactionPrefix versions the key space so the record schema can evolve
// without migrating old entries. Bump the version to orphan stale layouts.
const interactionPrefix = "memory/interaction/v1/"

// DefaultInteractionTTL keeps archived runs for one school term.
const DefaultInteractionTTL = 90 * 24 * time.Hour

// =============================================================================
// InteractionStore
// =============================================================================

// InteractionStore persists finished interactions in BadgerDB.
//
// Description:
//
//	Records are gob-encoded under a versioned key prefix with a TTL, the
//	same layout the routing cache uses. Get distinguishes a missing or
//	expired record from a storage failure. AttachFeedback rewrites a
//	record in place while preserving however much of its TTL remains.
//
// Thread Safety: Safe for concurrent use. Badger transactions provide
// isolation; no additional locking is held here.
type InteractionStore struct {
	db  *badgerstore.DB
	ttl time.Duration
	log *slog.Logger
}

// NewInteractionStore wraps an open Badger handle.
//
// Inputs:
//   - db: shared Badger database. Must be non-nil.
//   - ttl: record lifetime. Zero or negative selects DefaultInteractionTTL.
//   - log: structured logger. Nil selects slog.Default().
func NewInteractionStore(db *badgerstore.DB, ttl time.Duration, log *slog.Logger) *InteractionStore {
	if ttl <= 0 {
		ttl = DefaultInteractionTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &InteractionStore{db: db, ttl: ttl, log: log}
}

func interactionKey(id string) []byte {
	return []byte(interactionPrefix + id)
}

func encodeInteraction(rec *InteractionRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("memory: encode interaction %s: %w", rec.ID, err)
	}
	return buf.Bytes(), nil
}

func decodeInteraction(raw []byte) (*InteractionRecord, error) {
	var rec InteractionRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("memory: decode interaction: %w", err)
	}
	return &rec, nil
}

// Save archives a finished interaction.
func (s *InteractionStore) Save(ctx context.Context, rec *InteractionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	raw, err := encodeInteraction(rec)
	if err != nil {
		return err
	}
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(interactionKey(rec.ID), raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("memory: save interaction %s: %w", rec.ID, err)
	}
	s.log.Debug("interaction archived",
		"interaction_id", rec.ID,
		"category", string(rec.Category),
		"outcome", string(rec.Outcome))
	return nil
}

// Get loads one archived interaction by session ID.
//
// Outputs:
//   - *InteractionRecord: the record, when present.
//   - error: ErrInteractionNotFound for missing or expired records,
//     otherwise the underlying storage failure.
func (s *InteractionStore) Get(ctx context.Context, id string) (*InteractionRecord, error) {
	var rec *InteractionRecord
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(interactionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			rec, derr = decodeInteraction(val)
			return derr
		})
	})
	if err != nil {
		if isKeyNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrInteractionNotFound, id)
		}
		return nil, fmt.Errorf("memory: get interaction %s: %w", id, err)
	}
	return rec, nil
}

// AttachFeedback stores the user's verdict on a delivered solution,
// preserving whatever TTL the record has left.
func (s *InteractionStore) AttachFeedback(ctx context.Context, id string, fb *problem.Feedback) error {
	if fb == nil {
		return fmt.Errorf("memory: nil feedback for interaction %s", id)
	}
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		key := interactionKey(id)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec *InteractionRecord
		if err := item.Value(func(val []byte) error {
			var derr error
			rec, derr = decodeInteraction(val)
			return derr
		}); err != nil {
			return err
		}
		rec.Feedback = fb
		raw, err := encodeInteraction(rec)
		if err != nil {
			return err
		}
		entry := dgbadger.NewEntry(key, raw)
		if remaining := ttlRemaining(item, time.Now()); remaining > 0 {
			entry = entry.WithTTL(remaining)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		if isKeyNotFound(err) {
			return fmt.Errorf("%w: %s", ErrInteractionNotFound, id)
		}
		return fmt.Errorf("memory: attach feedback %s: %w", id, err)
	}
	s.log.Info("feedback attached",
		"interaction_id", id,
		"verdict", string(fb.Type))
	return nil
}

// List returns archived interactions, newest first, up to limit.
// A limit of zero or less returns everything.
func (s *InteractionStore) List(ctx context.Context, limit int) ([]InteractionRecord, error) {
	var records []InteractionRecord
	err := s.ForEach(ctx, func(rec InteractionRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ForEach streams every archived interaction to fn. Used to rebuild the
// retrieval index on startup. Decode failures on individual records are
// logged and skipped so one corrupt entry cannot poison the rebuild.
func (s *InteractionStore) ForEach(ctx context.Context, fn func(rec InteractionRecord) error) error {
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(interactionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec *InteractionRecord
			err := item.Value(func(val []byte) error {
				var derr error
				rec, derr = decodeInteraction(val)
				return derr
			})
			if err != nil {
				s.log.Warn("skipping undecodable interaction",
					"key", string(item.Key()),
					"error", err)
				continue
			}
			if err := fn(*rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memory: scan interactions: %w", err)
	}
	return nil
}

// ttlRemaining computes how long an item has left to live. Badger reports
// expiry as Unix seconds, with zero meaning no expiry.
func ttlRemaining(item *dgbadger.Item, now time.Time) time.Duration {
	exp := item.ExpiresAt()
	if exp == 0 {
		return 0
	}
	return time.Unix(int64(exp), 0).Sub(now)
}

func isKeyNotFound(err error) bool {
	return errors.Is(err, dgbadger.ErrKeyNotFound)
}
