// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// These are unit tests that don't require a running server.
// Run with: go test -v ./cmd/mentorctl/... -run TestCLIUnit

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// runCLI executes the root command in process with a fresh command tree.
// Rebuilding the tree re-registers every flag, which resets the package
// level flag variables between tests.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// fakeServer records the last request body per path and serves canned
// JSON responses.
type fakeServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies map[string][]byte
}

func newFakeServer(t *testing.T, responses map[string]string) *fakeServer {
	t.Helper()
	fs := &fakeServer{bodies: make(map[string][]byte)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		fs.mu.Lock()
		fs.bodies[r.URL.Path] = raw
		fs.mu.Unlock()

		resp, ok := responses[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "session not found", "code": "SESSION_NOT_FOUND"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(fs.Server.Close)
	return fs
}

func (fs *fakeServer) body(t *testing.T, path string) map[string]any {
	t.Helper()
	fs.mu.Lock()
	raw := fs.bodies[path]
	fs.mu.Unlock()
	if raw == nil {
		t.Fatalf("no request recorded for %s", path)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("request body for %s is not JSON: %v", path, err)
	}
	return out
}

const acceptedSolveJSON = `{
	"session_id": "sess-123",
	"state": "ACCEPTED",
	"explanation": {
		"summary": "Solve the linear equation for x.",
		"steps": [
			{"statement": "Subtract 3 from both sides.", "operation": "simplify", "justification": "Keeps the equation balanced."},
			{"statement": "Divide both sides by 2.", "operation": "divide", "justification": "Isolates x."}
		],
		"result": "x = 4",
		"numeric_value": 4,
		"confidence": 0.97,
		"category": "linear_equation",
		"key_concepts": ["inverse operations"],
		"common_mistakes": ["Applying an operation to only one side."],
		"encouragement": "Nice work setting this up."
	},
	"attempts": [{"strategy": {"name": "linear_symbolic"}, "succeeded": true, "confidence": 0.97}],
	"retries": 0,
	"escalation_rounds": 0
}`

const escalatedSolveJSON = `{
	"session_id": "sess-9",
	"state": "ESCALATED",
	"clarification": {
		"ambiguous_field": "interval notation",
		"candidate_interpretations": ["an open interval", "an ordered pair"],
		"original_text": "What is (2, 4)?"
	},
	"retries": 0,
	"escalation_rounds": 1
}`

// =============================================================================
// 1. ROOT COMMAND TESTS
// =============================================================================

func TestCLIUnit_Root_Help(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantContains []string
	}{
		{"help flag", []string{"--help"}, []string{"mentorctl", "Usage"}},
		{"help shows solve", []string{"--help"}, []string{"solve"}},
		{"help shows review", []string{"--help"}, []string{"review"}},
		{"help shows sessions", []string{"--help"}, []string{"sessions"}},
		{"help shows feedback", []string{"--help"}, []string{"feedback"}},
		{"help shows abort", []string{"--help"}, []string{"abort"}},
		{"help shows server flag", []string{"--help"}, []string{"--server"}},
		{"help shows plain flag", []string{"--help"}, []string{"--plain"}},
		{"no args shows usage", []string{}, []string{"Usage"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.args...)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(out, want) {
					t.Errorf("help output missing %q", want)
				}
			}
		})
	}
}

func TestCLIUnit_Root_UnknownCommand(t *testing.T) {
	if _, err := runCLI(t, "foobar"); err == nil {
		t.Error("expected an error for an unknown command")
	}
	if _, err := runCLI(t, "--unknown-flag"); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

// =============================================================================
// 2. SOLVE COMMAND TESTS
// =============================================================================

func TestCLIUnit_Solve_RendersExplanation(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/solve": acceptedSolveJSON,
	})

	out, err := runCLI(t, "solve", "Solve", "2x", "+", "3", "=", "11", "--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}

	body := srv.body(t, "/v1/mentor/solve")
	if got := body["text"]; got != "Solve 2x + 3 = 11" {
		t.Errorf("problem text = %v, want joined arguments", got)
	}

	for _, want := range []string{
		"sess-123",
		"ACCEPTED",
		"x = 4",
		"Subtract 3 from both sides.",
		"inverse operations",
		"Applying an operation to only one side.",
		"1 attempts, 0 retries, 0 clarification rounds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("solve output missing %q:\n%s", want, out)
		}
	}
}

func TestCLIUnit_Solve_EscalatedHint(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/solve": escalatedSolveJSON,
	})

	// --plain forces the non-interactive path, so the command prints the
	// review hint instead of opening a form.
	out, err := runCLI(t, "solve", "What is (2, 4)?", "--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}

	for _, want := range []string{
		"ESCALATED",
		"interval notation",
		"an open interval",
		"Answer with: mentorctl review sess-9",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("escalated output missing %q:\n%s", want, out)
		}
	}
}

func TestCLIUnit_Solve_RequiresProblemText(t *testing.T) {
	if _, err := runCLI(t, "solve"); err == nil {
		t.Error("expected an error when no problem text is given")
	}
}

// =============================================================================
// 3. REVIEW COMMAND TESTS
// =============================================================================

func TestCLIUnit_Review_FlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"both flags rejected", []string{"review", "sess-9", "--choose", "a", "--text", "b", "--plain"}, "not both"},
		{"piped without flags", []string{"review", "sess-9", "--plain"}, "--choose"},
		{"missing session id", []string{"review"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestCLIUnit_Review_AnswerFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantField  string
		wantValue  string
		absentKeys []string
	}{
		{
			name:       "choose sends interpretation",
			args:       []string{"review", "sess-9", "--choose", "an open interval"},
			wantField:  "chosen_interpretation",
			wantValue:  "an open interval",
			absentKeys: []string{"additional_text"},
		},
		{
			name:       "text sends free answer",
			args:       []string{"review", "sess-9", "--text", "the numbers are coordinates"},
			wantField:  "additional_text",
			wantValue:  "the numbers are coordinates",
			absentKeys: []string{"chosen_interpretation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, map[string]string{
				"/v1/mentor/clarify": acceptedSolveJSON,
			})

			args := append(tt.args, "--plain", "--server", srv.URL)
			out, err := runCLI(t, args...)
			if err != nil {
				t.Fatalf("review failed: %v", err)
			}
			if !strings.Contains(out, "ACCEPTED") {
				t.Errorf("review output missing resolved state:\n%s", out)
			}

			body := srv.body(t, "/v1/mentor/clarify")
			if body["session_id"] != "sess-9" {
				t.Errorf("session_id = %v, want sess-9", body["session_id"])
			}
			if body[tt.wantField] != tt.wantValue {
				t.Errorf("%s = %v, want %q", tt.wantField, body[tt.wantField], tt.wantValue)
			}
			for _, key := range tt.absentKeys {
				if _, ok := body[key]; ok {
					t.Errorf("request should not carry %q", key)
				}
			}
		})
	}
}

// =============================================================================
// 4. SESSIONS COMMAND TESTS
// =============================================================================

func TestCLIUnit_Sessions_List(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/sessions": `{
			"sessions": [
				{"session_id": "sess-1", "state": "ACCEPTED", "category": "linear_equation", "retries": 0, "escalation_rounds": 0, "created_at": 1755907200},
				{"session_id": "sess-2", "state": "ESCALATED", "category": "word_problem", "retries": 1, "escalation_rounds": 1, "created_at": 1755907260}
			],
			"count": 2
		}`,
	})

	out, err := runCLI(t, "sessions", "--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}

	for _, want := range []string{"SESSION", "STATE", "CATEGORY", "sess-1", "sess-2", "word_problem", "2 sessions"} {
		if !strings.Contains(out, want) {
			t.Errorf("session list missing %q:\n%s", want, out)
		}
	}
}

func TestCLIUnit_Sessions_Empty(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/sessions": `{"sessions": [], "count": 0}`,
	})

	out, err := runCLI(t, "sessions", "--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if !strings.Contains(out, "No sessions.") {
		t.Errorf("empty list should say so:\n%s", out)
	}
}

func TestCLIUnit_Sessions_Detail(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/session/sess-1": `{
			"session_id": "sess-1",
			"state": "ESCALATED",
			"category": "word_problem",
			"confidence": 0.55,
			"steps": 3,
			"retries": 1,
			"escalation_rounds": 1,
			"clarification": {
				"ambiguous_field": "rate unit",
				"candidate_interpretations": ["liters per minute", "gallons per minute"],
				"original_text": "A tank fills at 3 per minute."
			},
			"created_at": 1755907200,
			"last_active_at": 1755907230,
			"history": [
				{"step": 1, "type": "normalize", "state": "WORKING", "detail": "normalized text", "duration_ms": 2},
				{"step": 2, "type": "classify", "state": "WORKING", "detail": "word_problem", "duration_ms": 5},
				{"step": 3, "type": "escalate", "state": "ESCALATED", "detail": "ambiguous rate unit", "duration_ms": 1}
			]
		}`,
	})

	out, err := runCLI(t, "sessions", "sess-1", "--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("session detail failed: %v", err)
	}

	for _, want := range []string{
		"sess-1",
		"ESCALATED",
		"category word_problem",
		"History",
		"classify",
		"ambiguous rate unit",
		"liters per minute",
		"Answer with: mentorctl review sess-1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("session detail missing %q:\n%s", want, out)
		}
	}
}

// =============================================================================
// 5. FEEDBACK AND ABORT TESTS
// =============================================================================

func TestCLIUnit_Feedback_VerdictValidation(t *testing.T) {
	_, err := runCLI(t, "feedback", "sess-1", "mostly_fine", "--plain")
	if err == nil {
		t.Fatal("expected an error for an unknown verdict")
	}
	if !strings.Contains(err.Error(), "mostly_fine") {
		t.Errorf("error should name the bad verdict: %v", err)
	}
}

func TestCLIUnit_Feedback_Records(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/feedback": `{"status": "recorded"}`,
	})

	out, err := runCLI(t, "feedback", "sess-1", "incorrect",
		"--comment", "sign error in step 2", "--solution", "x = -4",
		"--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("feedback failed: %v", err)
	}
	if !strings.Contains(out, "Feedback recorded for session sess-1.") {
		t.Errorf("missing confirmation:\n%s", out)
	}

	body := srv.body(t, "/v1/mentor/feedback")
	if body["type"] != "incorrect" {
		t.Errorf("type = %v, want incorrect", body["type"])
	}
	if body["comment"] != "sign error in step 2" {
		t.Errorf("comment = %v", body["comment"])
	}
	if body["corrected_solution"] != "x = -4" {
		t.Errorf("corrected_solution = %v", body["corrected_solution"])
	}
}

func TestCLIUnit_Abort(t *testing.T) {
	srv := newFakeServer(t, map[string]string{
		"/v1/mentor/abort": `{"status": "abandoned"}`,
	})

	out, err := runCLI(t, "abort", "sess-9", "--plain", "--server", srv.URL)
	if err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if !strings.Contains(out, "Session sess-9 abandoned.") {
		t.Errorf("missing confirmation:\n%s", out)
	}

	body := srv.body(t, "/v1/mentor/abort")
	if body["session_id"] != "sess-9" {
		t.Errorf("session_id = %v, want sess-9", body["session_id"])
	}
}

// =============================================================================
// 6. ERROR SURFACING TESTS
// =============================================================================

func TestCLIUnit_ServerError_Surfaced(t *testing.T) {
	srv := newFakeServer(t, nil) // every path answers 404 SESSION_NOT_FOUND

	_, err := runCLI(t, "sessions", "missing-id", "--plain", "--server", srv.URL)
	if err == nil {
		t.Fatal("expected the server error to surface")
	}
	if !strings.Contains(err.Error(), "SESSION_NOT_FOUND") {
		t.Errorf("error should carry the server code: %v", err)
	}
}

func TestCLIUnit_ServerError_NonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream gone"))
	}))
	t.Cleanup(srv.Close)

	_, err := runCLI(t, "sessions", "--plain", "--server", srv.URL)
	if err == nil {
		t.Fatal("expected an error for a non-JSON failure")
	}
	if !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("error should carry the status: %v", err)
	}
}
