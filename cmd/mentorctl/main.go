// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mentorctl is the terminal client for the Math Mentor server.
//
// Usage:
//
//	mentorctl solve "Solve 2x + 3 = 7 for x."
//	mentorctl review <session-id>
//	mentorctl sessions
//	mentorctl sessions <session-id>
//	mentorctl feedback <session-id> correct
//	mentorctl abort <session-id>
//
// The server address comes from --server, the MENTOR_SERVER_URL environment
// variable, or the default http://localhost:8095, in that order.
//
// When a solve escalates and the terminal is interactive, mentorctl opens
// the clarification form inline; otherwise it prints the review command to
// run later. Piped invocations answer clarifications with --choose or
// --text instead of the form.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultServerURL is used when neither --server nor MENTOR_SERVER_URL is
// set. Matches the server's default port.
const defaultServerURL = "http://localhost:8095"

// serverURL and plainOutput hold the root command's persistent flag values.
var (
	serverURL   string
	plainOutput bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mentorctl",
		Short: "Terminal client for the Math Mentor tutoring server",
		Long: `mentorctl talks to a running Math Mentor server.

Submit problems, answer clarification requests on escalated sessions,
inspect session history, and record feedback on delivered solutions.`,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "",
		"Math Mentor server URL (default $MENTOR_SERVER_URL or "+defaultServerURL+")")
	root.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Disable styled output and interactive prompts")

	root.AddCommand(newSolveCommand())
	root.AddCommand(newReviewCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newFeedbackCommand())
	root.AddCommand(newAbortCommand())

	return root
}

// getServerBaseURL resolves the server address from flag, environment, or
// default, in that order.
func getServerBaseURL() string {
	if serverURL != "" {
		return serverURL
	}
	if v := os.Getenv("MENTOR_SERVER_URL"); v != "" {
		return v
	}
	return defaultServerURL
}
