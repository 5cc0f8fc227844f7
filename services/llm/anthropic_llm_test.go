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

// decodedAnthropicRequest mirrors the wire payload for server-side assertions.
type decodedAnthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []json.RawMessage  `json:"messages"`
	System    []systemBlock      `json:"system"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicToolDef `json:"tools"`
	Stream    bool               `json:"stream"`
}

func TestAnthropicClient_Chat_Success(t *testing.T) {
	var gotReq decodedAnthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want %q", r.Header.Get("x-api-key"), "test-key")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q, want %q", r.Header.Get("anthropic-version"), anthropicAPIVersion)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := anthropicResponse{
			ID:   "msg-123",
			Type: "message",
			Role: "assistant",
			Content: []anthropicContentBlock{
				{Type: "text", Text: "The roots are "},
				{Type: "text", Text: "2 and 3."},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-test", server.URL)

	messages := []Message{
		{Role: "system", Content: "You are a math tutor."},
		{Role: "user", Content: "Solve x^2-5*x+6=0"},
	}

	got, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if got != "The roots are 2 and 3." {
		t.Errorf("Chat = %q, want concatenated text blocks", got)
	}

	if gotReq.Model != "claude-test" {
		t.Errorf("model = %q, want %q", gotReq.Model, "claude-test")
	}
	// The system turn is lifted out of the message list.
	if len(gotReq.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (system lifted out)", len(gotReq.Messages))
	}
	if len(gotReq.System) != 1 || gotReq.System[0].Text != "You are a math tutor." {
		t.Errorf("system blocks = %+v, want the system prompt", gotReq.System)
	}
	if gotReq.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d, want default %d", gotReq.MaxTokens, defaultMaxTokens)
	}
}

func TestAnthropicClient_Chat_APIErrorRedactsSecrets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid key sk-ant-REDACTED"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("bad-key", "claude-test", server.URL)

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 401 status")
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("error should mention status 401: %v", err)
	}
	if strings.Contains(err.Error(), "sk-ant-api03-abcdef") {
		t.Errorf("error leaked the API key: %v", err)
	}
	if !strings.Contains(err.Error(), "[REDACTED:anthropic_key]") {
		t.Errorf("error should carry the redaction label: %v", err)
	}
}

func TestAnthropicClient_Chat_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{ID: "msg-1", Content: []anthropicContentBlock{}})
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "m", server.URL)

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "empty content") {
		t.Errorf("expected empty content error, got %v", err)
	}
}

func TestSystemBlocksFor_CacheControl(t *testing.T) {
	short := systemBlocksFor("short prompt")
	if len(short) != 1 {
		t.Fatalf("expected one block, got %d", len(short))
	}
	if short[0].CacheControl != nil {
		t.Error("short prompt should not get cache_control")
	}

	long := systemBlocksFor(strings.Repeat("x", 1025))
	if long[0].CacheControl == nil || long[0].CacheControl.Type != "ephemeral" {
		t.Errorf("long prompt should get ephemeral cache_control, got %+v", long[0].CacheControl)
	}

	if blocks := systemBlocksFor(""); blocks != nil {
		t.Errorf("empty prompt should produce no blocks, got %+v", blocks)
	}
}

func TestApplyParams_ThinkingGrowsMaxTokens(t *testing.T) {
	req := anthropicRequest{MaxTokens: defaultMaxTokens}
	applyParams(&req, GenerationParams{EnableThinking: true, BudgetTokens: 8000})

	if req.Thinking == nil || req.Thinking.Type != "enabled" || req.Thinking.BudgetTokens != 8000 {
		t.Errorf("thinking params not applied: %+v", req.Thinking)
	}
	if req.MaxTokens != 8000+2048 {
		t.Errorf("MaxTokens = %d, want budget+2048 = %d", req.MaxTokens, 8000+2048)
	}

	// An explicit MaxTokens above the floor is left alone.
	req = anthropicRequest{MaxTokens: defaultMaxTokens}
	applyParams(&req, GenerationParams{
		EnableThinking: true,
		BudgetTokens:   8000,
		MaxTokens:      IntPtr(16000),
	})
	if req.MaxTokens != 16000 {
		t.Errorf("MaxTokens = %d, want explicit 16000", req.MaxTokens)
	}
}

func TestAnthropicClient_ChatWithTools_ToolUse(t *testing.T) {
	var gotReq decodedAnthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		resp := anthropicResponse{
			ID:   "msg-7",
			Role: "assistant",
			Content: []anthropicContentBlock{
				{Type: "text", Text: "Submitting the classification."},
				{Type: "tool_use", ID: "tu_1", Name: "classify_problem", Input: json.RawMessage(`{"category":"algebra","confidence":0.85}`)},
			},
			StopReason: "tool_use",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "claude-test", server.URL)

	tool := FunctionTool("classify_problem", "Classify a math problem", ToolParameters{
		Type: "object",
		Properties: map[string]ToolParamDef{
			"category":   {Type: "string"},
			"confidence": {Type: "number"},
		},
		Required: []string{"category", "confidence"},
	})

	messages := []ChatMessage{
		{Role: "system", Content: "Classify problems."},
		{Role: "user", Content: "solve 2*x+3=7"},
	}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, []ToolDef{tool})
	if err != nil {
		t.Fatalf("ChatWithTools returned error: %v", err)
	}

	if result.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", result.StopReason)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if call.ID != "tu_1" || call.Name != "classify_problem" {
		t.Errorf("tool call = %+v, want tu_1/classify_problem", call)
	}
	if !strings.Contains(string(call.Arguments), `"algebra"`) {
		t.Errorf("arguments = %s, want the input payload", call.Arguments)
	}
	if result.Content != "Submitting the classification." {
		t.Errorf("Content = %q", result.Content)
	}

	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Name != "classify_problem" {
		t.Errorf("request tools = %+v, want classify_problem definition", gotReq.Tools)
	}
}

func TestAnthropicClient_ChatWithTools_ToolResultMapping(t *testing.T) {
	var rawBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&rawBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: "done"}},
		})
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "m", server.URL)

	messages := []ChatMessage{
		{Role: "user", Content: "check this"},
		{Role: "assistant", Content: "checking", ToolCalls: []ToolCallResponse{
			{ID: "tu_9", Name: "evaluate", Arguments: json.RawMessage(`{"x":2}`)},
		}},
		{Role: "tool", ToolCallID: "tu_9", Content: `{"value":0}`},
	}

	if _, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, nil); err != nil {
		t.Fatalf("ChatWithTools returned error: %v", err)
	}

	msgs, ok := rawBody["messages"].([]any)
	if !ok || len(msgs) != 3 {
		t.Fatalf("wire messages = %v, want 3 entries", rawBody["messages"])
	}

	// Assistant turn carries text + tool_use blocks.
	asst := msgs[1].(map[string]any)
	if asst["role"] != "assistant" {
		t.Errorf("second message role = %v, want assistant", asst["role"])
	}
	asstBlocks := asst["content"].([]any)
	if len(asstBlocks) != 2 {
		t.Fatalf("assistant blocks = %d, want text + tool_use", len(asstBlocks))
	}
	if asstBlocks[1].(map[string]any)["type"] != "tool_use" {
		t.Errorf("second assistant block = %v, want tool_use", asstBlocks[1])
	}

	// The tool turn is rewritten into a user message with a tool_result block.
	toolMsg := msgs[2].(map[string]any)
	if toolMsg["role"] != "user" {
		t.Errorf("tool message role = %v, want user", toolMsg["role"])
	}
	block := toolMsg["content"].([]any)[0].(map[string]any)
	if block["type"] != "tool_result" || block["tool_use_id"] != "tu_9" {
		t.Errorf("tool_result block = %v", block)
	}
}

func TestAnthropicClient_ChatStream(t *testing.T) {
	sse := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start"}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me factor"}}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"x = 2"}}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" or x = 3"}}`,
		"",
		"event: message_stop",
		`data: {"type":"message_stop"}`,
		"",
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decodedAnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not set on streaming request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "m", server.URL)

	var tokens strings.Builder
	var thinking, done int
	err := client.ChatStream(context.Background(),
		[]Message{{Role: "user", Content: "solve it"}},
		GenerationParams{},
		func(e StreamEvent) error {
			switch e.Type {
			case StreamEventToken:
				tokens.WriteString(e.Content)
			case StreamEventThinking:
				thinking++
			case StreamEventDone:
				done++
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}

	if tokens.String() != "x = 2 or x = 3" {
		t.Errorf("streamed text = %q", tokens.String())
	}
	if thinking != 1 {
		t.Errorf("thinking events = %d, want 1", thinking)
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestAnthropicClient_ChatStream_ErrorEvent(t *testing.T) {
	sse := strings.Join([]string{
		"event: error",
		`data: {"type":"error","error":{"type":"overloaded_error","message":"try later"}}`,
		"",
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "m", server.URL)

	var sawError bool
	err := client.ChatStream(context.Background(),
		[]Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(e StreamEvent) error {
			if e.Type == StreamEventError {
				sawError = true
			}
			return nil
		})
	if err == nil || !strings.Contains(err.Error(), "overloaded_error") {
		t.Errorf("expected stream error, got %v", err)
	}
	if !sawError {
		t.Error("callback never saw the error event")
	}
}
