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
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// influxTokenEnv names the environment variable holding the write token.
const influxTokenEnv = "INFLUXDB_TOKEN"

// =============================================================================
// AnalyticsRecorder
// =============================================================================

// AnalyticsRecorder ships interaction outcomes to InfluxDB.
//
// Description:
//
//	One point per finished interaction and one per feedback verdict,
//	tagged for slicing by topic and outcome. The sink is strictly
//	fire-and-forget: write failures are logged and dropped so a down
//	Influx never stalls or fails a tutoring session.
//
// Thread Safety: Safe for concurrent use. A nil recorder is valid and
// records nothing.
type AnalyticsRecorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	log    *slog.Logger
}

// NewAnalyticsRecorder connects to InfluxDB using the token from the
// INFLUXDB_TOKEN environment variable. Returns nil when the sink is
// disabled in config.
func NewAnalyticsRecorder(cfg config.InfluxConfig, log *slog.Logger) *AnalyticsRecorder {
	if !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, os.Getenv(influxTokenEnv))
	return &AnalyticsRecorder{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:    log,
	}
}

// newAnalyticsRecorder wires a recorder over an existing write API.
// Test seam.
func newAnalyticsRecorder(write api.WriteAPIBlocking, log *slog.Logger) *AnalyticsRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &AnalyticsRecorder{write: write, log: log}
}

// RecordInteraction writes one point for a finished tutoring run.
func (a *AnalyticsRecorder) RecordInteraction(ctx context.Context, rec InteractionRecord) {
	if a == nil || a.write == nil {
		return
	}
	point := influxdb2.NewPoint("mentor_interaction",
		map[string]string{
			"category": string(rec.Category),
			"outcome":  string(rec.Outcome),
			"strategy": rec.Strategy,
		},
		map[string]interface{}{
			"confidence":        rec.Confidence,
			"duration_ms":       rec.DurationMs,
			"retries":           rec.Retries,
			"escalation_rounds": rec.EscalationRounds,
		},
		time.UnixMilli(rec.CreatedAt),
	)
	if err := a.write.WritePoint(ctx, point); err != nil {
		a.log.Warn("analytics write dropped",
			"measurement", "mentor_interaction",
			"interaction_id", rec.ID,
			"error", err)
	}
}

// RecordFeedback writes one point for a reviewer verdict.
func (a *AnalyticsRecorder) RecordFeedback(ctx context.Context, category problem.Category, verdict problem.FeedbackType) {
	if a == nil || a.write == nil {
		return
	}
	point := influxdb2.NewPoint("mentor_feedback",
		map[string]string{
			"category": string(category),
			"verdict":  string(verdict),
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)
	if err := a.write.WritePoint(ctx, point); err != nil {
		a.log.Warn("analytics write dropped",
			"measurement", "mentor_feedback",
			"error", err)
	}
}

// Close releases the underlying HTTP client. Safe on nil.
func (a *AnalyticsRecorder) Close() {
	if a == nil || a.client == nil {
		return
	}
	a.client.Close()
}
