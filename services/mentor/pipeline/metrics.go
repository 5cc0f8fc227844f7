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
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pipelineSessionsTotal counts finished sessions.
	// Labels: outcome (accepted, abandoned, failed)
	pipelineSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "sessions_total",
		Help:      "Total finished sessions by outcome",
	}, []string{"outcome"})

	// pipelineSessionDurationSeconds measures submission-to-terminal wall
	// time.
	pipelineSessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "session_duration_seconds",
		Help:      "Wall time from submission to a terminal state",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// pipelineStageLatencySeconds measures per-stage execution time.
	// Labels: stage (lowercase state name)
	pipelineStageLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "stage_latency_seconds",
		Help:      "Stage execution latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"stage"})

	// pipelineRetriesTotal counts strategy retries.
	pipelineRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "retries_total",
		Help:      "Total strategy retries across all sessions",
	})

	// pipelineEscalationsTotal counts clarification suspensions.
	// Labels: reason (category, solve_confidence)
	pipelineEscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "escalations_total",
		Help:      "Total clarification suspensions by reason",
	}, []string{"reason"})

	// pipelineActiveSessions tracks runs executing right now.
	pipelineActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "active_sessions",
		Help:      "Sessions currently executing a run",
	})
)

func recordOutcome(state State, durationMs int64) {
	pipelineSessionsTotal.WithLabelValues(strings.ToLower(string(state))).Inc()
	pipelineSessionDurationSeconds.Observe(float64(durationMs) / 1000.0)
}

func observeStage(state State, elapsed time.Duration) {
	pipelineStageLatencySeconds.WithLabelValues(strings.ToLower(string(state))).Observe(elapsed.Seconds())
}

func recordRetry() {
	pipelineRetriesTotal.Inc()
}

func recordEscalation(reason string) {
	pipelineEscalationsTotal.WithLabelValues(reason).Inc()
}
