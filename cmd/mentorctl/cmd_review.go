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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var (
	reviewChoose string
	reviewText   string
)

func newReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <session-id>",
		Short: "Answer a clarification question on a suspended session",
		Long: `Answer the clarification question that suspended a session.

On an interactive terminal the question is shown as a picker. When piped,
answer directly with --choose (one of the offered interpretations) or
--text (a free-form answer).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			client := newMentorClient(getServerBaseURL())

			if reviewChoose != "" && reviewText != "" {
				return errors.New("set --choose or --text, not both")
			}

			if reviewChoose != "" || reviewText != "" {
				res, err := runWithSpinner("Resuming", func() (*solveResult, error) {
					return client.clarify(sessionID, reviewChoose, reviewText)
				})
				if err != nil {
					return err
				}
				renderRunResult(cmd.OutOrStdout(), res)
				return nil
			}

			if !interactiveTerminal() {
				return errors.New("no terminal available, answer with --choose <interpretation> or --text <answer>")
			}

			detail, err := client.session(sessionID)
			if err != nil {
				return err
			}
			if detail.State != "ESCALATED" || detail.Clarification == nil {
				return fmt.Errorf("session %s is %s, not awaiting clarification", sessionID, detail.State)
			}

			res := &solveResult{
				SessionID:     detail.SessionID,
				State:         detail.State,
				Clarification: detail.Clarification,
			}
			return reviewLoop(cmd, client, res)
		},
	}
	cmd.Flags().StringVar(&reviewChoose, "choose", "", "answer with one of the offered interpretations")
	cmd.Flags().StringVar(&reviewText, "text", "", "answer with free text when no offered interpretation fits")
	return cmd
}

// reviewLoop keeps asking until the session leaves the escalated state.
// The server enforces the round cap, so the loop always terminates.
func reviewLoop(cmd *cobra.Command, client *mentorClient, res *solveResult) error {
	sessionID := res.SessionID
	for res.State == "ESCALATED" && res.Clarification != nil {
		chosen, additional, err := promptClarification(res.Clarification)
		if err != nil {
			return err
		}

		res, err = runWithSpinner("Resuming", func() (*solveResult, error) {
			return client.clarify(sessionID, chosen, additional)
		})
		if err != nil {
			return err
		}
		renderRunResult(cmd.OutOrStdout(), res)
	}
	return nil
}

// promptClarification collects the user's answer with a terminal form.
// It returns either a chosen interpretation or free text, never both.
func promptClarification(clar *clarificationPayload) (chosen, additional string, err error) {
	const answerOther = "__other__"

	if len(clar.CandidateInterpretations) > 0 {
		opts := make([]huh.Option[string], 0, len(clar.CandidateInterpretations)+1)
		for _, cand := range clar.CandidateInterpretations {
			opts = append(opts, huh.NewOption(cand, cand))
		}
		opts = append(opts, huh.NewOption("None of these (type your own)", answerOther))

		var choice string
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("How should the %s be read?", clar.AmbiguousField)).
				Description(clar.OriginalText).
				Options(opts...).
				Value(&choice),
		))
		if err := form.Run(); err != nil {
			return "", "", err
		}
		if choice != answerOther {
			return choice, "", nil
		}
	}

	var text string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Describe the intended reading").
			Value(&text).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("an answer is required")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return "", "", err
	}
	return "", strings.TrimSpace(text), nil
}
