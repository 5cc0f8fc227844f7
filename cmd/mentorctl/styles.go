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
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette, the subset mentorctl uses.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7") // success, highlights
	colorTealPrimary = lipgloss.Color("#20B9B4") // headings
	colorTealDeep    = lipgloss.Color("#16858E") // borders
	colorWarning     = lipgloss.Color("#F4D03F") // escalations
	colorError       = lipgloss.Color("#E74C3C") // failures
	colorSlate       = lipgloss.Color("#2C4A54") // muted text
)

var (
	styleTitle     = lipgloss.NewStyle().Bold(true).Foreground(colorTealBright)
	styleHeading   = lipgloss.NewStyle().Foreground(colorTealPrimary)
	styleSuccess   = lipgloss.NewStyle().Foreground(colorTealBright)
	styleWarning   = lipgloss.NewStyle().Foreground(colorWarning)
	styleError     = lipgloss.NewStyle().Foreground(colorError)
	styleMuted     = lipgloss.NewStyle().Foreground(colorSlate)
	styleHighlight = lipgloss.NewStyle().Foreground(colorTealBright).Bold(true)

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDeep).
			Padding(0, 1)
)

// styledOutput reports whether output should carry colors and boxes.
// Piped output and --plain get unadorned text.
func styledOutput() bool {
	if plainOutput {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// interactiveTerminal reports whether forms and spinners may take over the
// terminal. Requires both ends to be a TTY so piped invocations stay
// scriptable.
func interactiveTerminal() bool {
	if plainOutput {
		return false
	}
	stdinTTY := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	return stdinTTY && stdoutTTY
}

// stateBadge renders a session state with its semantic color.
func stateBadge(state string) string {
	if !styledOutput() {
		return state
	}
	switch state {
	case "ACCEPTED":
		return styleSuccess.Render(state)
	case "ESCALATED":
		return styleWarning.Render(state)
	case "FAILED", "ABANDONED":
		return styleError.Render(state)
	default:
		return styleHeading.Render(state)
	}
}

// title renders heading text, or plain text when unstyled.
func title(text string) string {
	if !styledOutput() {
		return text
	}
	return styleTitle.Render(text)
}

// muted renders secondary text.
func muted(text string) string {
	if !styledOutput() {
		return text
	}
	return styleMuted.Render(text)
}

// highlight renders emphasized text, like the final result.
func highlight(text string) string {
	if !styledOutput() {
		return text
	}
	return styleHighlight.Render(text)
}

// boxed renders content in a rounded box with a title line, or a plain
// underlined section when unstyled.
func boxed(heading, content string) string {
	if !styledOutput() {
		return heading + "\n" + content
	}
	return styleBox.Width(64).Render(styleTitle.Render(heading) + "\n" + content)
}
