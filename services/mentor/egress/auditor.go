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
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Auditor produces structured audit log entries for egress events.
//
// Description:
//
//	Logs every decision with request_id, session_id, trace_id, provider,
//	model, and a SHA256 content hash when enabled. Problem text itself
//	never appears in the audit trail.
//
// Thread Safety: Safe for concurrent use (slog.Logger is concurrent-safe).
type Auditor struct {
	logger      *slog.Logger
	enabled     bool
	hashContent bool
}

// NewAuditor creates an auditor.
//
// Inputs:
//   - logger: The structured logger for audit output.
//   - enabled: Whether audit logging is active.
//   - hashContent: Whether to include SHA256 content hashes in log entries.
func NewAuditor(logger *slog.Logger, enabled, hashContent bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:      logger,
		enabled:     enabled,
		hashContent: hashContent,
	}
}

// LogBefore logs a pre-flight entry before making a reasoning call.
func (a *Auditor) LogBefore(ctx context.Context, decision *Decision) {
	if !a.enabled || decision == nil {
		return
	}

	attrs := []any{
		slog.String("event", "egress_before"),
		slog.String("request_id", decision.RequestID),
		slog.String("session_id", decision.SessionID),
		slog.String("provider", decision.Provider),
		slog.String("model", decision.Model),
		slog.Int("estimated_tokens", decision.EstimatedTokens),
		slog.Float64("estimated_cost_cents", decision.EstimatedCostCents),
		slog.Int64("timestamp", decision.Timestamp),
	}
	if a.hashContent && decision.ContentHash != "" {
		attrs = append(attrs, slog.String("content_hash", decision.ContentHash))
	}

	a.loggerWithTrace(ctx).Info("egress request", attrs...)
}

// LogAfter logs a post-call entry after a reasoning call completes.
func (a *Auditor) LogAfter(
	ctx context.Context,
	requestID, provider, model string,
	inputTokens, outputTokens int,
	durationMs int64,
	costCents float64,
	callErr error,
) {
	if !a.enabled {
		return
	}

	status := "success"
	if callErr != nil {
		status = "error"
	}

	attrs := []any{
		slog.String("event", "egress_after"),
		slog.String("request_id", requestID),
		slog.String("provider", provider),
		slog.String("model", model),
		slog.String("status", status),
		slog.Int("input_tokens", inputTokens),
		slog.Int("output_tokens", outputTokens),
		slog.Int64("duration_ms", durationMs),
		slog.Float64("cost_cents", costCents),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	}
	if callErr != nil {
		attrs = append(attrs, slog.String("error", callErr.Error()))
	}

	a.loggerWithTrace(ctx).Info("egress response", attrs...)
}

// LogBlocked logs an entry for a blocked egress attempt.
func (a *Auditor) LogBlocked(ctx context.Context, decision *Decision) {
	if !a.enabled || decision == nil {
		return
	}

	a.loggerWithTrace(ctx).Warn("egress blocked",
		slog.String("event", "egress_blocked"),
		slog.String("request_id", decision.RequestID),
		slog.String("session_id", decision.SessionID),
		slog.String("provider", decision.Provider),
		slog.String("model", decision.Model),
		slog.String("blocked_by", decision.BlockedBy),
		slog.String("reason", decision.BlockReason),
		slog.Int64("timestamp", decision.Timestamp),
		slog.Int64("duration_ms", decision.DurationMs),
	)
}

// loggerWithTrace returns a logger enriched with trace context.
func (a *Auditor) loggerWithTrace(ctx context.Context) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return a.logger
	}
	return a.logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
