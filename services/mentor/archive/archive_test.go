// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

func TestObjectName(t *testing.T) {
	closed := time.Date(2026, 8, 23, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"with prefix", "mentor-archives", "mentor-archives/2026/08/23/sess-1.json"},
		{"empty prefix", "", "2026/08/23/sess-1.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectName(tt.prefix, "sess-1", closed); got != tt.want {
				t.Errorf("objectName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObjectName_PartitionsByUTCDay(t *testing.T) {
	// 02:30 on March 1st east of Greenwich is still February 28th in UTC.
	closed := time.Date(2026, 3, 1, 2, 30, 0, 0, time.FixedZone("UTC+5", 5*3600))

	got := objectName("p", "sess-1", closed)
	want := "p/2026/02/28/sess-1.json"
	if got != want {
		t.Errorf("objectName() = %q, want %q", got, want)
	}
}

func TestBundleValidate(t *testing.T) {
	if err := (Bundle{}).Validate(); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("Validate() = %v, want ErrEmptySessionID", err)
	}
	if err := (Bundle{SessionID: "sess-1"}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestBundleJSONShape(t *testing.T) {
	resp := &problem.ClarificationResponse{ChosenInterpretation: "solve for x"}
	b := Bundle{
		SessionID:      "sess-1",
		State:          "abandoned",
		RawText:        "solve 2x + 3 = 11",
		NormalizedText: "solve 2*x + 3 = 11",
		Category:       problem.CategoryAlgebra,
		Attempts: []problem.Attempt{
			{Strategy: problem.Strategy{Name: problem.StrategyLinearIsolation}, Succeeded: true, Confidence: 0.42},
		},
		Clarifications: []ClarificationRound{
			{
				Request: problem.ClarificationRequest{
					AmbiguousField:           "solve_confidence",
					CandidateInterpretations: []string{"solve for x", "evaluate at x"},
					OriginalText:             "solve 2x + 3 = 11",
				},
				Response: resp,
			},
		},
		History: []StageRecord{
			{Stage: "normalizing", Status: "completed", DurationMs: 3, At: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC().Add(-time.Minute),
		ClosedAt:  time.Now().UTC(),
	}

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, key := range []string{
		"session_id", "state", "raw_text", "normalized_text", "category",
		"attempts", "clarifications", "history", "created_at", "closed_at",
	} {
		if _, ok := got[key]; !ok {
			t.Errorf("bundle JSON missing %q", key)
		}
	}
	if _, ok := got["error"]; ok {
		t.Error("empty error field should be omitted")
	}
}

func TestBundleJSONShape_MinimalRun(t *testing.T) {
	// A run can fail before normalization or classification produce anything.
	b := Bundle{
		SessionID: "sess-2",
		State:     "failed",
		RawText:   "@@@@",
		Error:     "input does not look like a math problem",
		CreatedAt: time.Now().UTC(),
		ClosedAt:  time.Now().UTC(),
	}

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"normalized_text", "attempts", "clarifications", "history"} {
		if _, ok := got[key]; ok {
			t.Errorf("minimal bundle should omit %q", key)
		}
	}
	if got["error"] != "input does not look like a math problem" {
		t.Errorf("error field = %v", got["error"])
	}
}

func TestNilUploaderIsInert(t *testing.T) {
	var u *Uploader
	if err := u.Upload(context.Background(), Bundle{SessionID: "sess-1"}); err != nil {
		t.Errorf("Upload() on nil uploader = %v, want nil", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close() on nil uploader = %v, want nil", err)
	}
}

func TestNewUploader_DisabledReturnsNil(t *testing.T) {
	u, err := NewUploader(context.Background(), config.GCSConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if u != nil {
		t.Error("NewUploader() with disabled sink should return nil")
	}
}

func TestNewUploader_RequiresBucket(t *testing.T) {
	_, err := NewUploader(context.Background(), config.GCSConfig{Enabled: true}, nil)
	if err == nil {
		t.Fatal("NewUploader() with no bucket should fail")
	}
}

func TestNewUploader_MissingCredentialsFile(t *testing.T) {
	cfg := config.GCSConfig{
		Enabled:         true,
		Bucket:          "mentor-test",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	}
	_, err := NewUploader(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("NewUploader() with a missing credentials file should fail")
	}
}
