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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// memoryInteractionsTotal counts archived interactions.
	// Labels: outcome (accepted, abandoned, failed)
	memoryInteractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "interactions_total",
		Help:      "Total archived interactions by outcome",
	}, []string{"outcome"})

	// memoryRecallExamples measures how many worked examples each recall
	// returned.
	memoryRecallExamples = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "recall_examples",
		Help:      "Worked examples returned per recall",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	})

	// memoryRecallLatencySeconds measures recall latency including the
	// optional semantic channel.
	memoryRecallLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "recall_latency_seconds",
		Help:      "Recall latency including the semantic channel when enabled",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// memoryEmbedRequestsTotal counts embedding lookups.
	// Labels: result (cache_hit, computed, failed)
	memoryEmbedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "embed_requests_total",
		Help:      "Embedding lookups by result",
	}, []string{"result"})
)

func recordArchived(outcome Outcome) {
	memoryInteractionsTotal.WithLabelValues(string(outcome)).Inc()
}

func recordRecall(examples int, durationSec float64) {
	memoryRecallExamples.Observe(float64(examples))
	memoryRecallLatencySeconds.Observe(durationSec)
}

func recordEmbed(result string) {
	memoryEmbedRequestsTotal.WithLabelValues(result).Inc()
}
