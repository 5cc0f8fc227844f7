// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiClient("")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("error should name the missing variable: %v", err)
	}
}

func TestGeminiClient_Chat_Success(t *testing.T) {
	var gotReq geminiRequest
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if key := r.Header.Get("x-goog-api-key"); key != "test-key" {
			t.Errorf("x-goog-api-key = %q, want test-key", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Role:  "model",
						Parts: []geminiPart{{Text: "The derivative is "}, {Text: "3*x^2"}},
					},
					FinishReason: "STOP",
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("test-key", "gemini-test", server.URL)

	messages := []Message{
		{Role: "system", Content: "You are a math tutor."},
		{Role: "user", Content: "Differentiate x^3"},
		{Role: "assistant", Content: "Working on it."},
		{Role: "user", Content: "Go on."},
	}

	got, err := client.Chat(context.Background(), messages, GenerationParams{Temperature: Float32Ptr(0)})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if got != "The derivative is 3*x^2" {
		t.Errorf("Chat = %q, want concatenated parts", got)
	}

	if !strings.Contains(gotPath, "/models/gemini-test:generateContent") {
		t.Errorf("request path = %q, want generateContent for gemini-test", gotPath)
	}
	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "You are a math tutor." {
		t.Errorf("systemInstruction = %+v", gotReq.SystemInstruction)
	}
	if len(gotReq.Contents) != 3 {
		t.Fatalf("contents = %d, want 3 (system lifted out)", len(gotReq.Contents))
	}
	if gotReq.Contents[1].Role != "model" {
		t.Errorf("assistant turn role = %q, want model", gotReq.Contents[1].Role)
	}
	if gotReq.GenerationConfig == nil || gotReq.GenerationConfig.Temperature == nil {
		t.Errorf("generationConfig not applied: %+v", gotReq.GenerationConfig)
	}
}

func TestGeminiClient_Chat_ErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{
			Error: &geminiError{Code: 400, Message: "bad request", Status: "INVALID_ARGUMENT"},
		})
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("k", "m", server.URL)

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "INVALID_ARGUMENT") {
		t.Errorf("expected error envelope surfaced, got %v", err)
	}
}

func TestGeminiClient_Chat_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("k", "m", server.URL)

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "no candidates") {
		t.Errorf("expected no candidates error, got %v", err)
	}
}

func TestGeminiClient_ChatWithTools_SyntheticCallIDs(t *testing.T) {
	var gotReq geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Role: "model",
						Parts: []geminiPart{
							{FunctionCall: &geminiFunctionCall{
								Name: "classify_problem",
								Args: map[string]any{"category": "calculus_derivative", "confidence": 0.8},
							}},
							{FunctionCall: &geminiFunctionCall{
								Name: "classify_problem",
								Args: map[string]any{"category": "algebra", "confidence": 0.2},
							}},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("k", "gemini-test", server.URL)

	tool := FunctionTool("classify_problem", "Classify a math problem", ToolParameters{Type: "object"})
	messages := []ChatMessage{{Role: "user", Content: "differentiate x^3"}}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, []ToolDef{tool})
	if err != nil {
		t.Fatalf("ChatWithTools returned error: %v", err)
	}

	if len(result.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d, want 2", len(result.ToolCalls))
	}
	if result.ToolCalls[0].ID != "gemini-call-0" || result.ToolCalls[1].ID != "gemini-call-1" {
		t.Errorf("synthetic IDs = %q, %q", result.ToolCalls[0].ID, result.ToolCalls[1].ID)
	}
	if result.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", result.StopReason)
	}

	var decoded struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(result.ToolCalls[0].Arguments, &decoded); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if decoded.Category != "calculus_derivative" {
		t.Errorf("decoded category = %q", decoded.Category)
	}

	if len(gotReq.Tools) != 1 || gotReq.Tools[0].FunctionDeclarations[0].Name != "classify_problem" {
		t.Errorf("request tools = %+v", gotReq.Tools)
	}
}

func TestGeminiClient_ChatWithTools_FunctionResponseMapping(t *testing.T) {
	var gotReq geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{
				{Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: "done"}}}},
			},
		})
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("k", "m", server.URL)

	messages := []ChatMessage{
		{Role: "user", Content: "evaluate"},
		{Role: "assistant", ToolCalls: []ToolCallResponse{
			{ID: "gemini-call-0", Name: "evaluate", Arguments: json.RawMessage(`{"x":2}`)},
		}},
		{Role: "tool", ToolName: "evaluate", Content: `{"value":0}`},
	}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("ChatWithTools returned error: %v", err)
	}
	if result.Content != "done" || result.StopReason != "end" {
		t.Errorf("result = %+v", result)
	}

	if len(gotReq.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(gotReq.Contents))
	}
	fnCall := gotReq.Contents[1].Parts[0].FunctionCall
	if fnCall == nil || fnCall.Name != "evaluate" {
		t.Errorf("functionCall part = %+v", gotReq.Contents[1].Parts)
	}
	fnResp := gotReq.Contents[2].Parts[0].FunctionResponse
	if fnResp == nil || fnResp.Name != "evaluate" {
		t.Errorf("functionResponse part = %+v", gotReq.Contents[2].Parts)
	}
	if fnResp != nil && fnResp.Response["value"] != float64(0) {
		t.Errorf("functionResponse payload = %+v", fnResp.Response)
	}
}
