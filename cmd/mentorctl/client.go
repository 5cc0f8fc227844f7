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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// The payload structs below mirror the server's wire shapes. Only the
// fields mentorctl renders are listed; unknown fields are ignored on
// decode.

type solutionStepPayload struct {
	Statement     string `json:"statement"`
	Operation     string `json:"operation"`
	Justification string `json:"justification,omitempty"`
}

type explanationPayload struct {
	Summary         string                `json:"summary"`
	Steps           []solutionStepPayload `json:"steps"`
	Result          string                `json:"result"`
	Confidence      float64               `json:"confidence"`
	Category        string                `json:"category"`
	KeyConcepts     []string              `json:"key_concepts,omitempty"`
	CommonMistakes  []string              `json:"common_mistakes,omitempty"`
	RelatedProblems []string              `json:"related_problems,omitempty"`
	Encouragement   string                `json:"encouragement,omitempty"`
}

type clarificationPayload struct {
	AmbiguousField           string   `json:"ambiguous_field"`
	CandidateInterpretations []string `json:"candidate_interpretations,omitempty"`
	OriginalText             string   `json:"original_text"`
}

type attemptPayload struct {
	Strategy struct {
		Name string `json:"name"`
	} `json:"strategy"`
	Succeeded     bool    `json:"succeeded"`
	FailureReason string  `json:"failure_reason,omitempty"`
	Confidence    float64 `json:"confidence"`
}

type runErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// solveResult is the response shape of /solve and /clarify.
type solveResult struct {
	SessionID        string                `json:"session_id"`
	State            string                `json:"state"`
	Explanation      *explanationPayload   `json:"explanation,omitempty"`
	Clarification    *clarificationPayload `json:"clarification,omitempty"`
	Attempts         []attemptPayload      `json:"attempts,omitempty"`
	Retries          int                   `json:"retries"`
	EscalationRounds int                   `json:"escalation_rounds"`
	Error            *runErrorPayload      `json:"error,omitempty"`
}

type historyEntryPayload struct {
	Step       int    `json:"step"`
	Type       string `json:"type"`
	State      string `json:"state"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// sessionDetail is the response shape of /session/:id.
type sessionDetail struct {
	SessionID        string                `json:"session_id"`
	State            string                `json:"state"`
	Category         string                `json:"category,omitempty"`
	Confidence       float64               `json:"confidence"`
	Steps            int                   `json:"steps"`
	Retries          int                   `json:"retries"`
	EscalationRounds int                   `json:"escalation_rounds"`
	Clarification    *clarificationPayload `json:"clarification,omitempty"`
	Error            string                `json:"error,omitempty"`
	CreatedAt        int64                 `json:"created_at"`
	LastActiveAt     int64                 `json:"last_active_at"`
	History          []historyEntryPayload `json:"history,omitempty"`
}

type sessionSummary struct {
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
	Category         string `json:"category,omitempty"`
	Retries          int    `json:"retries"`
	EscalationRounds int    `json:"escalation_rounds"`
	CreatedAt        int64  `json:"created_at"`
}

type sessionList struct {
	Sessions []sessionSummary `json:"sessions"`
	Count    int              `json:"count"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// mentorClient is a thin HTTP client for the Math Mentor API.
type mentorClient struct {
	baseURL string
	http    *http.Client
}

// newMentorClient builds a client for the given base URL. The timeout is
// generous: a solve that escalates through LLM rungs can take minutes.
func newMentorClient(baseURL string) *mentorClient {
	return &mentorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// solve submits problem text and returns the pipeline outcome.
func (c *mentorClient) solve(text string) (*solveResult, error) {
	var out solveResult
	err := c.post("/v1/mentor/solve", map[string]any{"text": text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// clarify resumes a suspended session. Exactly one of chosen or additional
// should be non-empty; the server rejects anything else.
func (c *mentorClient) clarify(sessionID, chosen, additional string) (*solveResult, error) {
	body := map[string]any{"session_id": sessionID}
	if chosen != "" {
		body["chosen_interpretation"] = chosen
	}
	if additional != "" {
		body["additional_text"] = additional
	}
	var out solveResult
	if err := c.post("/v1/mentor/clarify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// abortSession cancels a session.
func (c *mentorClient) abortSession(sessionID string) error {
	return c.post("/v1/mentor/abort", map[string]any{"session_id": sessionID}, nil)
}

// feedback records a verdict on a finished session.
func (c *mentorClient) feedback(sessionID, verdict, comment, corrected string) error {
	body := map[string]any{
		"session_id": sessionID,
		"type":       verdict,
	}
	if comment != "" {
		body["comment"] = comment
	}
	if corrected != "" {
		body["corrected_solution"] = corrected
	}
	return c.post("/v1/mentor/feedback", body, nil)
}

// session fetches one session's state and audit history.
func (c *mentorClient) session(id string) (*sessionDetail, error) {
	var out sessionDetail
	if err := c.get("/v1/mentor/session/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// sessions lists all live sessions.
func (c *mentorClient) sessions() (*sessionList, error) {
	var out sessionList
	if err := c.get("/v1/mentor/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *mentorClient) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", c.baseURL, err)
	}
	return c.decode(resp, out)
}

func (c *mentorClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", c.baseURL, err)
	}
	return c.decode(resp, out)
}

func (c *mentorClient) decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
