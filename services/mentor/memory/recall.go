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
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

var memoryTracer = otel.Tracer("mentor.memory")

// =============================================================================
// RecallerConfig
// =============================================================================

// RecallerConfig tunes worked-example retrieval.
type RecallerConfig struct {
	// MaxResults caps how many examples a recall returns.
	MaxResults int

	// RelevanceWeight scales the text-match score.
	RelevanceWeight float64

	// ConfidenceWeight scales the example's verification confidence.
	ConfidenceWeight float64

	// RecencyWeight scales the age decay.
	RecencyWeight float64

	// RecencyDecayDays is the e-folding time of the age decay.
	RecencyDecayDays float64

	// MinConfidence is the floor below which accepted runs are not
	// offered as examples.
	MinConfidence float64
}

// DefaultRecallerConfig returns production retrieval weights.
func DefaultRecallerConfig() RecallerConfig {
	return RecallerConfig{
		MaxResults:       5,
		RelevanceWeight:  0.5,
		ConfidenceWeight: 0.3,
		RecencyWeight:    0.2,
		RecencyDecayDays: 30,
		MinConfidence:    0.5,
	}
}

// =============================================================================
// Recaller
// =============================================================================

// Recaller archives finished interactions and retrieves worked examples.
//
// Description:
//
//	Two retrieval channels feed a recall: a BM25 index over problem text
//	(always available, rebuilt in process) and a Weaviate nearVector
//	search (optional). Channel scores land on the same [0,1] scale and
//	fuse by max, then blend with the example's confidence and age:
//
//	    score = 0.5*relevance + 0.3*confidence + 0.2*exp(-ageDays/30)
//
//	A Weaviate failure degrades recall to the lexical channel alone; it
//	never fails the request.
//
// Thread Safety: Safe for concurrent use. The index and record snapshot
// swap atomically under a mutex.
// semanticChannel is the slice of VectorStore the recaller needs.
type semanticChannel interface {
	Put(ctx context.Context, rec InteractionRecord) error
	Search(ctx context.Context, query string, category problem.Category, limit int) ([]vectorHit, error)
}

type Recaller struct {
	store   *InteractionStore
	vectors semanticChannel
	cfg     RecallerConfig
	log     *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	index   *ExampleIndex
	records map[string]InteractionRecord
}

// NewRecaller builds a recaller over the interaction store.
//
// Inputs:
//   - store: required Badger-backed archive.
//   - vectors: optional semantic channel. Nil disables it.
//   - cfg: retrieval weights. Zero MaxResults selects the defaults.
//   - log: structured logger. Nil selects slog.Default().
func NewRecaller(store *InteractionStore, vectors *VectorStore, cfg RecallerConfig, log *slog.Logger) *Recaller {
	if cfg.MaxResults <= 0 {
		cfg = DefaultRecallerConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recaller{
		store:   store,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		index:   BuildExampleIndex(nil),
		records: make(map[string]InteractionRecord),
	}
	// Assign through the nil check so a nil *VectorStore stays a nil
	// interface.
	if vectors != nil {
		r.vectors = vectors
	}
	return r
}

// Load rebuilds the in-memory index from the archive. Call once at startup.
func (r *Recaller) Load(ctx context.Context) error {
	usable := make(map[string]InteractionRecord)
	err := r.store.ForEach(ctx, func(rec InteractionRecord) error {
		if rec.usableExample(r.cfg.MinConfidence) {
			usable[rec.ID] = rec
		}
		return nil
	})
	if err != nil {
		return err
	}

	list := make([]InteractionRecord, 0, len(usable))
	for _, rec := range usable {
		list = append(list, rec)
	}
	idx := BuildExampleIndex(list)

	r.mu.Lock()
	r.records = usable
	r.index = idx
	r.mu.Unlock()

	r.log.Info("worked-example index loaded", "examples", idx.Len())
	return nil
}

// Len reports how many worked examples are currently retrievable.
func (r *Recaller) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Remember archives a finished interaction and, when it qualifies as a
// worked example, makes it retrievable.
func (r *Recaller) Remember(ctx context.Context, rec *InteractionRecord) error {
	ctx, span := memoryTracer.Start(ctx, "memory.Recaller.Remember",
		trace.WithAttributes(
			attribute.String("outcome", string(rec.Outcome)),
			attribute.String("category", string(rec.Category)),
		),
	)
	defer span.End()

	if err := r.store.Save(ctx, rec); err != nil {
		return err
	}
	recordArchived(rec.Outcome)
	if !rec.usableExample(r.cfg.MinConfidence) {
		return nil
	}

	r.mu.Lock()
	r.records[rec.ID] = *rec
	r.index = r.rebuildLocked()
	r.mu.Unlock()

	if r.vectors != nil {
		if err := r.vectors.Put(ctx, *rec); err != nil {
			// The lexical channel already has the example. Semantic
			// indexing catches up on the next process restart at worst.
			r.log.Warn("semantic indexing failed",
				"interaction_id", rec.ID,
				"error", err)
		}
	}
	return nil
}

// RecordFeedback attaches a reviewer verdict to an archived interaction.
// Examples voted incorrect stop being offered.
func (r *Recaller) RecordFeedback(ctx context.Context, id string, fb *problem.Feedback) error {
	if err := r.store.AttachFeedback(ctx, id, fb); err != nil {
		return err
	}

	r.mu.Lock()
	if rec, ok := r.records[id]; ok {
		rec.Feedback = fb
		if fb.Type == problem.FeedbackIncorrect {
			delete(r.records, id)
			r.index = r.rebuildLocked()
		} else {
			r.records[id] = rec
		}
	}
	r.mu.Unlock()
	return nil
}

// Recall returns worked examples relevant to the given problem text,
// best first.
func (r *Recaller) Recall(ctx context.Context, text string, category problem.Category) ([]WorkedExample, error) {
	ctx, span := memoryTracer.Start(ctx, "memory.Recaller.Recall",
		trace.WithAttributes(
			attribute.String("category", string(category)),
			attribute.Int("text_length", len(text)),
		),
	)
	defer span.End()
	start := r.now()

	r.mu.RLock()
	idx := r.index
	records := r.records
	r.mu.RUnlock()

	if len(records) == 0 {
		recordRecall(0, r.now().Sub(start).Seconds())
		return nil, nil
	}

	lexical := idx.Score(text)
	semantic := r.semanticScores(ctx, text, category)

	type scored struct {
		rec   InteractionRecord
		score float64
	}
	var candidates []scored
	seen := make(map[string]bool)
	consider := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		rec, ok := records[id]
		if !ok {
			return
		}
		if categoryKnown(category) && rec.Category != category {
			return
		}
		// Channels share a [0,1] scale; the stronger one wins.
		relevance := lexical[id]
		if s := semantic[id]; s > relevance {
			relevance = s
		}
		candidates = append(candidates, scored{rec: rec, score: r.blend(relevance, rec)})
	}
	for id := range lexical {
		consider(id)
	}
	for id := range semantic {
		consider(id)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rec.CreatedAt > candidates[j].rec.CreatedAt
	})
	if len(candidates) > r.cfg.MaxResults {
		candidates = candidates[:r.cfg.MaxResults]
	}

	examples := make([]WorkedExample, 0, len(candidates))
	for _, c := range candidates {
		examples = append(examples, exampleFromRecord(c.rec, c.score))
	}
	span.SetAttributes(attribute.Int("examples", len(examples)))
	recordRecall(len(examples), r.now().Sub(start).Seconds())
	return examples, nil
}

// semanticScores queries the vector channel, mapping interaction IDs to
// certainty. Failures and a nil store both yield an empty map so recall
// proceeds on the lexical channel alone.
func (r *Recaller) semanticScores(ctx context.Context, text string, category problem.Category) map[string]float64 {
	if r.vectors == nil {
		return nil
	}
	hits, err := r.vectors.Search(ctx, text, category, r.cfg.MaxResults*2)
	if err != nil {
		r.log.Warn("semantic recall degraded to lexical only", "error", err)
		return nil
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.InteractionID] = h.Certainty
	}
	return scores
}

// blend combines relevance with the example's own quality signals.
func (r *Recaller) blend(relevance float64, rec InteractionRecord) float64 {
	ageDays := r.now().UTC().Sub(time.UnixMilli(rec.CreatedAt)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-ageDays / r.cfg.RecencyDecayDays)
	return r.cfg.RelevanceWeight*relevance +
		r.cfg.ConfidenceWeight*rec.Confidence +
		r.cfg.RecencyWeight*recency
}

// rebuildLocked reindexes the current record set. Caller holds r.mu.
func (r *Recaller) rebuildLocked() *ExampleIndex {
	list := make([]InteractionRecord, 0, len(r.records))
	for _, rec := range r.records {
		list = append(list, rec)
	}
	return BuildExampleIndex(list)
}

func categoryKnown(c problem.Category) bool {
	return c != "" && c != problem.CategoryUnknown
}
