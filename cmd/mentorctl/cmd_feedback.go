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

	"github.com/spf13/cobra"
)

var (
	feedbackComment  string
	feedbackSolution string
)

func newFeedbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <session-id> <correct|partially_correct|incorrect>",
		Short: "Grade a finished session's solution",
		Long: `Grade the solution a session produced. The verdict feeds the server's
worked-example memory, so future problems of the same shape benefit from it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, verdict := args[0], args[1]
			switch verdict {
			case "correct", "partially_correct", "incorrect":
			default:
				return fmt.Errorf("verdict %q is not one of correct, partially_correct, incorrect", verdict)
			}

			client := newMentorClient(getServerBaseURL())
			if err := client.feedback(sessionID, verdict, feedbackComment, feedbackSolution); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feedback recorded for session %s.\n", sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedbackComment, "comment", "", "free-form note about the solution")
	cmd.Flags().StringVar(&feedbackSolution, "solution", "", "the corrected final answer, for incorrect verdicts")
	return cmd
}

func newAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <session-id>",
		Short: "Abandon a suspended session",
		Long:  `Abandon a session that is waiting on clarification. The server releases its resources.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newMentorClient(getServerBaseURL())
			if err := client.abortSession(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s abandoned.\n", args[0])
			return nil
		},
	}
}
