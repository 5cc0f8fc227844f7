// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// egressCallsTotal counts egress attempts by provider and status.
	// Labels: provider (anthropic, openai, gemini), status (allowed, blocked)
	egressCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "egress",
		Name:      "calls_total",
		Help:      "Total egress call attempts by provider and status",
	}, []string{"provider", "status"})

	// egressTokensTotal counts tokens by provider and direction.
	// Labels: provider, direction (input, output)
	egressTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "egress",
		Name:      "tokens_total",
		Help:      "Total tokens by provider and direction",
	}, []string{"provider", "direction"})

	// egressBlockedTotal counts blocked attempts by provider and blocker.
	// Labels: provider, blocked_by (rate_limit, session_budget, daily_budget, cost)
	egressBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "egress",
		Name:      "blocked_total",
		Help:      "Total blocked egress attempts by provider and blocking check",
	}, []string{"provider", "blocked_by"})

	// egressErrorsTotal counts provider call failures.
	// Labels: provider
	egressErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "egress",
		Name:      "errors_total",
		Help:      "Total reasoning call failures by provider",
	}, []string{"provider"})

	// egressLatencySeconds measures end-to-end call latency including the
	// pre-flight checks.
	// Labels: provider
	egressLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "egress",
		Name:      "latency_seconds",
		Help:      "End-to-end reasoning call latency including governor checks",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider"})

	// egressCostCentsTotal tracks cumulative cost in US cents by provider.
	// Labels: provider
	egressCostCentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "egress",
		Name:      "cost_cents_total",
		Help:      "Cumulative reasoning cost in US cents by provider",
	}, []string{"provider"})
)

// recordAllowed records a completed egress call.
func recordAllowed(provider string, inputTokens, outputTokens int, durationSec, costCents float64) {
	egressCallsTotal.WithLabelValues(provider, "allowed").Inc()
	egressTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	egressTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	egressLatencySeconds.WithLabelValues(provider).Observe(durationSec)
	if costCents > 0 {
		egressCostCentsTotal.WithLabelValues(provider).Add(costCents)
	}
}

// recordBlocked records a blocked egress attempt.
func recordBlocked(provider, blockedBy string) {
	egressCallsTotal.WithLabelValues(provider, "blocked").Inc()
	egressBlockedTotal.WithLabelValues(provider, blockedBy).Inc()
}

// recordFailure records a provider call failure.
func recordFailure(provider string) {
	egressErrorsTotal.WithLabelValues(provider).Inc()
}
