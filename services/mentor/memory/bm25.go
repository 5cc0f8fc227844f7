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
	"math"
	"strings"
	"unicode"
)

// Okapi BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalization. Standard values work well for the short
// problem statements indexed here.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// stopwords are filler words that appear in nearly every problem statement.
// Single-letter tokens are NOT stopped: variables like "x" discriminate
// between problems.
var stopwords = map[string]bool{
	"the": true, "an": true, "of": true, "to": true,
	"is": true, "and": true, "or": true, "in": true, "for": true,
	"with": true, "that": true, "this": true, "are": true, "be": true,
}

// bm25Doc is one indexed problem statement.
type bm25Doc struct {
	id  string
	tf  map[string]int
	len int
}

// =============================================================================
// ExampleIndex
// =============================================================================

// ExampleIndex scores archived problems against a query with Okapi BM25.
//
// Description:
//
//	The index is built once over the usable worked examples and is
//	immutable afterwards; the recaller swaps in a fresh index when the
//	archive changes. Scores are normalized by the best match so lexical
//	and semantic channels share a [0,1] scale.
//
// Thread Safety: Immutable after BuildExampleIndex returns. Safe for
// concurrent Score calls.
type ExampleIndex struct {
	docs    []bm25Doc
	docFreq map[string]int
	avgLen  float64
}

// BuildExampleIndex indexes the problem text of the given records.
// Records the caller filtered out should not be passed in; the index
// scores everything it is given.
func BuildExampleIndex(records []InteractionRecord) *ExampleIndex {
	idx := &ExampleIndex{
		docFreq: make(map[string]int),
	}
	total := 0
	for _, rec := range records {
		tokens := tokenize(rec.ProblemText)
		if len(tokens) == 0 {
			continue
		}
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			idx.docFreq[tok]++
		}
		idx.docs = append(idx.docs, bm25Doc{id: rec.ID, tf: tf, len: len(tokens)})
		total += len(tokens)
	}
	if len(idx.docs) > 0 {
		idx.avgLen = float64(total) / float64(len(idx.docs))
	}
	return idx
}

// Len reports how many problems the index covers.
func (idx *ExampleIndex) Len() int {
	return len(idx.docs)
}

// Score ranks every indexed problem against the query.
//
// Outputs:
//   - map[string]float64: interaction ID to normalized score in [0,1].
//     Problems sharing no query terms are omitted. Nil when the index is
//     empty or the query tokenizes to nothing.
func (idx *ExampleIndex) Score(query string) map[string]float64 {
	if len(idx.docs) == 0 {
		return nil
	}
	qtokens := tokenize(query)
	if len(qtokens) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	scores := make(map[string]float64)
	maxScore := 0.0
	for _, doc := range idx.docs {
		score := 0.0
		for _, tok := range qtokens {
			tf := doc.tf[tok]
			if tf == 0 {
				continue
			}
			// Lucene-smoothed IDF keeps rare-term weights positive even
			// when a term appears in most documents.
			idf := math.Log((n+1)/float64(idx.docFreq[tok]+1)) + 1.0
			dl := float64(doc.len)
			norm := 1 - bm25B + bm25B*dl/idx.avgLen
			score += idf * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + bm25K1*norm)
		}
		if score > 0 {
			scores[doc.id] = score
			if score > maxScore {
				maxScore = score
			}
		}
	}
	if maxScore == 0 {
		return nil
	}
	for id := range scores {
		scores[id] /= maxScore
	}
	return scores
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Every surviving token counts toward term frequency, including repeats.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
