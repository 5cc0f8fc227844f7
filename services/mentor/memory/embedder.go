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
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/sync/singleflight"
)

// embedCacheCap bounds the in-process embedding cache. When the cap is
// reached the whole cache is dropped; problem texts rarely repeat enough
// to justify an eviction policy.
const embedCacheCap = 1024

// ErrEmptyEmbedText rejects embedding requests with no content.
var ErrEmptyEmbedText = errors.New("cannot embed empty text")

// embeddingClient is the slice of the Ollama client the embedder needs.
// Satisfied by *ollama.LLM; tests substitute a stub.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// =============================================================================
// Embedder
// =============================================================================

// Embedder turns problem text into unit-length embedding vectors.
//
// Description:
//
//	Vectors are L2-normalized on the way in so cosine similarity reduces
//	to a dot product downstream. Concurrent requests for the same text
//	collapse into one upstream call via singleflight, and results are
//	cached in process.
//
// Thread Safety: Safe for concurrent use.
type Embedder struct {
	client embeddingClient
	sf     singleflight.Group
	log    *slog.Logger

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewOllamaEmbedder connects to a local Ollama server.
//
// Inputs:
//   - serverURL: Ollama base URL, e.g. "http://localhost:11434".
//   - model: embedding model name, e.g. "nomic-embed-text".
//   - log: structured logger. Nil selects slog.Default().
func NewOllamaEmbedder(serverURL, model string, log *slog.Logger) (*Embedder, error) {
	client, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: ollama embedder: %w", err)
	}
	return newEmbedder(client, log), nil
}

func newEmbedder(client embeddingClient, log *slog.Logger) *Embedder {
	if log == nil {
		log = slog.Default()
	}
	return &Embedder{
		client: client,
		log:    log,
		cache:  make(map[string][]float32),
	}
}

// Embed returns the unit-length vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyEmbedText
	}

	e.mu.RLock()
	vec, ok := e.cache[text]
	e.mu.RUnlock()
	if ok {
		recordEmbed("cache_hit")
		return vec, nil
	}

	result, err, _ := e.sf.Do(text, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the cache while this one waited.
		e.mu.RLock()
		vec, ok := e.cache[text]
		e.mu.RUnlock()
		if ok {
			return vec, nil
		}

		vecs, err := e.client.CreateEmbedding(ctx, []string{text})
		if err != nil {
			recordEmbed("failed")
			return nil, fmt.Errorf("memory: embed: %w", err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			recordEmbed("failed")
			return nil, fmt.Errorf("memory: embed returned no vector")
		}
		fresh := l2Normalize(vecs[0])
		recordEmbed("computed")

		e.mu.Lock()
		if len(e.cache) >= embedCacheCap {
			e.cache = make(map[string][]float32)
		}
		e.cache[text] = fresh
		e.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	out, ok2 := result.([]float32)
	if !ok2 {
		return nil, fmt.Errorf("memory: embed: unexpected result type %T", result)
	}
	return out, nil
}

// l2Normalize scales v to unit length. Zero vectors pass through unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// dotProduct computes the inner product of two equal-length vectors.
// With unit-length inputs this is their cosine similarity.
func dotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
