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
	"strings"

	"github.com/spf13/cobra"
)

func newSolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "solve <problem text>",
		Short: "Submit a math problem and print the worked solution",
		Long: `Submit a math problem to the server and print the worked solution.

If the problem is ambiguous the server suspends the session and asks for
clarification. On an interactive terminal the question is asked inline;
otherwise the command prints the session id so you can answer later with
'mentorctl review'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			client := newMentorClient(getServerBaseURL())

			res, err := runWithSpinner("Solving", func() (*solveResult, error) {
				return client.solve(text)
			})
			if err != nil {
				return err
			}

			renderRunResult(cmd.OutOrStdout(), res)

			if res.State == "ESCALATED" && res.Clarification != nil {
				if interactiveTerminal() {
					return reviewLoop(cmd, client, res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nAnswer with: mentorctl review %s\n", res.SessionID)
			}
			return nil
		},
	}
}
