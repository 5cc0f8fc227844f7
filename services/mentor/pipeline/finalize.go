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
	"context"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/services/mentor/archive"
	"github.com/AleutianAI/MathMentor/services/mentor/events"
	"github.com/AleutianAI/MathMentor/services/mentor/memory"
)

// uploadTimeout bounds the background bundle upload.
const uploadTimeout = 30 * time.Second

// finalize performs the terminal bookkeeping for a session exactly once:
// outcome metrics, the session_end event, suspended-copy cleanup, the
// retained interaction record, and the reviewer bundle for unhappy
// endings. The run context may already be canceled, so the bookkeeping
// runs on a detached context.
func (d *Driver) finalize(ctx context.Context, session *Session) {
	if !session.markFinalized() {
		return
	}
	session.Close()

	snap := session.Snapshot()
	state := session.GetState()
	duration := snap.ClosedAt - snap.CreatedAt
	recordOutcome(state, duration)

	endData := events.SessionEndData{
		Outcome:          strings.ToLower(string(state)),
		DurationMs:       duration,
		Retries:          snap.Retries,
		EscalationRounds: snap.EscalationRounds,
		Error:            snap.Error,
	}
	d.emitter.Emit(session.ID, events.TypeSessionEnd, endData)

	bg := context.WithoutCancel(ctx)
	if err := d.suspended.Delete(bg, session.ID); err != nil {
		d.log.Warn("suspended cleanup failed", "session_id", session.ID, "error", err)
	}

	if rec := buildInteraction(session, snap); rec != nil {
		if d.mem != nil {
			if err := d.mem.Remember(bg, rec); err != nil {
				d.log.Warn("interaction not remembered", "session_id", session.ID, "error", err)
			}
		}
		d.analytics.RecordInteraction(bg, *rec)
	}

	if (state == StateAbandoned || state == StateFailed) && d.archiver != nil {
		bundle := buildBundle(session, snap)
		go func() {
			uploadCtx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
			defer cancel()
			if err := d.archiver.Upload(uploadCtx, bundle); err != nil {
				d.log.Warn("bundle upload failed", "session_id", bundle.SessionID, "error", err)
			}
		}()
	}

	d.log.Info("session finished",
		"session_id", session.ID,
		"state", state,
		"duration_ms", duration,
		"retries", snap.Retries,
		"escalation_rounds", snap.EscalationRounds)
}

// buildInteraction turns a finished session into the retained record.
// Sessions that never produced a parse are not retained; the record
// format requires the canonical text.
func buildInteraction(session *Session, snap SessionSnapshot) *memory.InteractionRecord {
	p := session.GetProblem()
	if strings.TrimSpace(p.Text) == "" {
		return nil
	}
	var outcome memory.Outcome
	switch session.GetState() {
	case StateAccepted:
		outcome = memory.OutcomeAccepted
	case StateAbandoned:
		outcome = memory.OutcomeAbandoned
	default:
		outcome = memory.OutcomeFailed
	}
	rec := &memory.InteractionRecord{
		ID:               session.ID,
		RawText:          session.GetRawText(),
		ProblemText:      p.Text,
		Category:         p.Category,
		Confidence:       snap.Confidence,
		Outcome:          outcome,
		Retries:          snap.Retries,
		EscalationRounds: snap.EscalationRounds,
		DurationMs:       snap.ClosedAt - snap.CreatedAt,
		CreatedAt:        snap.CreatedAt,
	}
	if outcome == memory.OutcomeAccepted {
		if sol := session.GetSolution(); sol != nil {
			rec.Strategy = sol.StrategyUsed
			rec.Result = sol.Result
		}
	}
	return rec
}

// buildBundle assembles the reviewer hand-off for an abandoned or
// failed run.
func buildBundle(session *Session, snap SessionSnapshot) archive.Bundle {
	p := session.GetProblem()
	b := archive.Bundle{
		SessionID:      session.ID,
		State:          strings.ToLower(string(session.GetState())),
		RawText:        session.GetRawText(),
		NormalizedText: p.Text,
		Category:       p.Category,
		Attempts:       session.AttemptHistory(),
		Error:          snap.Error,
		CreatedAt:      time.UnixMilli(snap.CreatedAt).UTC(),
		ClosedAt:       time.UnixMilli(snap.ClosedAt).UTC(),
	}
	for _, round := range session.RoundHistory() {
		b.Clarifications = append(b.Clarifications, archive.ClarificationRound{
			Request:  round.Request,
			Response: round.Response,
		})
	}
	for _, entry := range session.HistoryTrail() {
		rec := archive.StageRecord{
			Stage:      string(entry.State),
			Status:     "ok",
			Detail:     entry.Detail,
			DurationMs: entry.DurationMs,
			At:         time.UnixMilli(entry.Timestamp).UTC(),
		}
		if entry.Error != "" {
			rec.Status = "error"
			rec.Detail = entry.Error
		}
		b.History = append(b.History, rec)
	}
	return b
}
