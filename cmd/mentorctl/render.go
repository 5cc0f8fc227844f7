// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// renderRunResult prints the outcome of a solve or clarify call.
func renderRunResult(w io.Writer, res *solveResult) {
	fmt.Fprintf(w, "\nSession %s  %s\n", res.SessionID, stateBadge(res.State))

	if res.Explanation != nil {
		renderExplanation(w, res.Explanation)
	}

	if res.Clarification != nil {
		renderClarification(w, res.Clarification)
	}

	if res.Error != nil {
		fmt.Fprintf(w, "\n%s %s (%s)\n", title("Error:"), res.Error.Message, res.Error.Code)
		if res.Error.Recoverable {
			fmt.Fprintln(w, muted("This failure is transient. Resubmitting the problem may succeed."))
		}
	}

	if len(res.Attempts) > 0 || res.Retries > 0 || res.EscalationRounds > 0 {
		fmt.Fprintf(w, "\n%s\n", muted(fmt.Sprintf("[%d attempts, %d retries, %d clarification rounds]",
			len(res.Attempts), res.Retries, res.EscalationRounds)))
	}
}

func renderExplanation(w io.Writer, exp *explanationPayload) {
	var body strings.Builder
	body.WriteString(exp.Summary)
	body.WriteString("\n")

	for i, step := range exp.Steps {
		body.WriteString(fmt.Sprintf("\n%d. %s", i+1, step.Statement))
		if step.Justification != "" {
			body.WriteString("\n   " + muted(step.Justification))
		}
	}

	body.WriteString(fmt.Sprintf("\n\nResult: %s", highlight(exp.Result)))
	body.WriteString(fmt.Sprintf("\n%s", muted(fmt.Sprintf("confidence %.2f, category %s", exp.Confidence, exp.Category))))

	fmt.Fprintln(w)
	fmt.Fprintln(w, boxed("Solution", body.String()))

	if len(exp.KeyConcepts) > 0 {
		fmt.Fprintf(w, "%s %s\n", title("Key concepts:"), strings.Join(exp.KeyConcepts, ", "))
	}
	if len(exp.CommonMistakes) > 0 {
		fmt.Fprintln(w, title("Watch out for:"))
		for _, m := range exp.CommonMistakes {
			fmt.Fprintf(w, "  - %s\n", m)
		}
	}
	if exp.Encouragement != "" {
		fmt.Fprintln(w, muted(exp.Encouragement))
	}
}

func renderClarification(w io.Writer, clar *clarificationPayload) {
	var body strings.Builder
	body.WriteString(fmt.Sprintf("The %s needs your input.\n", clar.AmbiguousField))
	body.WriteString(fmt.Sprintf("Problem: %s\n", clar.OriginalText))
	if len(clar.CandidateInterpretations) > 0 {
		body.WriteString("\nPossible readings:")
		for i, cand := range clar.CandidateInterpretations {
			body.WriteString(fmt.Sprintf("\n  %d. %s", i+1, cand))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, boxed("Clarification needed", body.String()))
}

// renderSessionDetail prints one session's state and audit history.
func renderSessionDetail(w io.Writer, d *sessionDetail) {
	fmt.Fprintf(w, "\nSession %s  %s\n", d.SessionID, stateBadge(d.State))
	if d.Category != "" {
		fmt.Fprintf(w, "%s\n", muted(fmt.Sprintf("category %s, confidence %.2f", d.Category, d.Confidence)))
	}
	fmt.Fprintf(w, "%s\n", muted(fmt.Sprintf("%d steps, %d retries, %d clarification rounds", d.Steps, d.Retries, d.EscalationRounds)))
	fmt.Fprintf(w, "%s\n", muted(fmt.Sprintf("created %s, last active %s",
		time.Unix(d.CreatedAt, 0).UTC().Format(time.RFC3339),
		time.Unix(d.LastActiveAt, 0).UTC().Format(time.RFC3339))))

	if d.Error != "" {
		fmt.Fprintf(w, "\n%s %s\n", title("Error:"), d.Error)
	}

	if d.Clarification != nil {
		renderClarification(w, d.Clarification)
		fmt.Fprintf(w, "\nAnswer with: mentorctl review %s\n", d.SessionID)
	}

	if len(d.History) > 0 {
		fmt.Fprintf(w, "\n%s\n", title("History"))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tTYPE\tSTATE\tDURATION\tDETAIL")
		for _, h := range d.History {
			detail := h.Detail
			if h.Error != "" {
				detail = h.Error
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%dms\t%s\n", h.Step, h.Type, h.State, h.DurationMs, detail)
		}
		_ = tw.Flush()
	}
}

// renderSessionList prints the session table.
func renderSessionList(w io.Writer, list *sessionList) {
	if list.Count == 0 {
		fmt.Fprintln(w, "No sessions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tCATEGORY\tRETRIES\tROUNDS\tCREATED")
	for _, s := range list.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.SessionID, s.State, s.Category, s.Retries, s.EscalationRounds,
			time.Unix(s.CreatedAt, 0).UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%s\n", muted(fmt.Sprintf("%d sessions", list.Count)))
}
