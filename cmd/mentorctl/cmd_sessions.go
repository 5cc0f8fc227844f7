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
	"github.com/spf13/cobra"
)

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List tutoring sessions or show one session's history",
		Long: `List the server's tutoring sessions, or show the full state and
audit history of one session when an id is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newMentorClient(getServerBaseURL())

			if len(args) == 1 {
				detail, err := client.session(args[0])
				if err != nil {
					return err
				}
				renderSessionDetail(cmd.OutOrStdout(), detail)
				return nil
			}

			list, err := client.sessions()
			if err != nil {
				return err
			}
			renderSessionList(cmd.OutOrStdout(), list)
			return nil
		},
	}
}
