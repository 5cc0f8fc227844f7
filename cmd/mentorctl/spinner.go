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
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// errInterrupted is returned when the user cancels a request with Ctrl+C
// while the spinner is running.
var errInterrupted = errors.New("interrupted")

// pipelineResultMsg delivers the HTTP call's outcome to the spinner model.
type pipelineResultMsg struct {
	res *solveResult
	err error
}

// progressModel animates a spinner while a pipeline request is in flight.
// Both solve and clarify return the same shape, so one model serves both.
type progressModel struct {
	spin     spinner.Model
	label    string
	run      func() (*solveResult, error)
	res      *solveResult
	err      error
	quitting bool
}

func newProgressModel(label string, run func() (*solveResult, error)) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorTealBright)
	return progressModel{spin: s, label: label, run: run}
}

// Init starts the spinner ticking and kicks off the request.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.start)
}

// start runs the request and reports it as a message. Executed by
// bubbletea in its own goroutine.
func (m progressModel) start() tea.Msg {
	res, err := m.run()
	return pipelineResultMsg{res: res, err: err}
}

// Update handles spinner ticks, the request result, and Ctrl+C.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case pipelineResultMsg:
		m.res = msg.res
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.err = errInterrupted
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the spinner line. Cleared on quit so the result output
// starts on a fresh line.
func (m progressModel) View() string {
	if m.quitting {
		return ""
	}
	return fmt.Sprintf("%s %s...", m.spin.View(), m.label)
}

// runWithSpinner executes a pipeline request, animating a spinner when the
// terminal is interactive. Non-TTY invocations print one progress line and
// call straight through.
func runWithSpinner(label string, run func() (*solveResult, error)) (*solveResult, error) {
	if !interactiveTerminal() {
		fmt.Fprintf(os.Stderr, "%s...\n", label)
		return run()
	}

	p := tea.NewProgram(newProgressModel(label, run), tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(progressModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type from bubbletea: %T", final)
	}
	return m.res, m.err
}
