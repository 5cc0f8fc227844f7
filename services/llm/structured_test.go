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
	"fmt"
	"strings"
	"testing"
)

// fakeChatClient implements LLMClient without tool calling.
type fakeChatClient struct {
	chatFn func(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

func (f *fakeChatClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return f.chatFn(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

func (f *fakeChatClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	return f.chatFn(ctx, messages, params)
}

// fakeToolClient additionally implements ToolCallingClient.
type fakeToolClient struct {
	fakeChatClient
	toolsFn func(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}

func (f *fakeToolClient) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {
	return f.toolsFn(ctx, messages, params, tools)
}

type classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func classifyTool() ToolDef {
	return FunctionTool("classify_problem", "Classify a math problem", ToolParameters{
		Type: "object",
		Properties: map[string]ToolParamDef{
			"category":   {Type: "string"},
			"confidence": {Type: "number"},
		},
		Required: []string{"category", "confidence"},
	})
}

func TestStructuredCall_NativeToolPath(t *testing.T) {
	var gotTools []ToolDef
	var gotMessages []ChatMessage

	client := &fakeToolClient{
		toolsFn: func(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {
			gotTools = tools
			gotMessages = messages
			return &ChatWithToolsResult{
				ToolCalls: []ToolCallResponse{
					{ID: "c1", Name: "classify_problem", Arguments: json.RawMessage(`{"category":"algebra_linear","confidence":0.92}`)},
				},
				StopReason: "tool_use",
			}, nil
		},
	}

	var out classification
	err := StructuredCall(context.Background(), client, "Classify problems.", "Solve 2x+3=7",
		classifyTool(), GenerationParams{}, &out)
	if err != nil {
		t.Fatalf("StructuredCall error: %v", err)
	}

	if out.Category != "algebra_linear" || out.Confidence != 0.92 {
		t.Errorf("decoded = %+v", out)
	}
	if len(gotTools) != 1 || gotTools[0].Function.Name != "classify_problem" {
		t.Errorf("tools passed = %+v", gotTools)
	}
	if len(gotMessages) != 2 || gotMessages[0].Role != "system" || gotMessages[1].Role != "user" {
		t.Errorf("messages passed = %+v", gotMessages)
	}
}

func TestStructuredCall_ToolClientTextFallback(t *testing.T) {
	// Model ignored the tool and answered in prose with embedded JSON.
	client := &fakeToolClient{
		toolsFn: func(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {
			return &ChatWithToolsResult{
				Content:    "Here you go: {\"category\":\"calculus_derivative\",\"confidence\":0.7}",
				StopReason: "end",
			}, nil
		},
	}

	var out classification
	err := StructuredCall(context.Background(), client, "sys", "user", classifyTool(), GenerationParams{}, &out)
	if err != nil {
		t.Fatalf("StructuredCall error: %v", err)
	}
	if out.Category != "calculus_derivative" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestStructuredCall_ToolClientNothingUsable(t *testing.T) {
	client := &fakeToolClient{
		toolsFn: func(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {
			return &ChatWithToolsResult{StopReason: "end"}, nil
		},
	}

	var out classification
	err := StructuredCall(context.Background(), client, "sys", "user", classifyTool(), GenerationParams{}, &out)
	if err == nil || !strings.Contains(err.Error(), "classify_problem") {
		t.Errorf("expected error naming the tool, got %v", err)
	}
}

func TestStructuredCall_ChatFallbackPath(t *testing.T) {
	var gotSystem string

	client := &fakeChatClient{
		chatFn: func(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
			gotSystem = messages[0].Content
			return "```json\n{\"category\":\"geometry\",\"confidence\":0.55}\n```", nil
		},
	}

	var out classification
	err := StructuredCall(context.Background(), client, "Classify problems.", "area of a circle",
		classifyTool(), GenerationParams{}, &out)
	if err != nil {
		t.Fatalf("StructuredCall error: %v", err)
	}
	if out.Category != "geometry" {
		t.Errorf("decoded = %+v", out)
	}
	if !strings.Contains(gotSystem, "ONLY a JSON object") {
		t.Errorf("chat fallback should add the JSON-only instruction, got %q", gotSystem)
	}
}

func TestStructuredCall_ChatError(t *testing.T) {
	client := &fakeChatClient{
		chatFn: func(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
			return "", fmt.Errorf("connection refused")
		},
	}

	var out classification
	err := StructuredCall(context.Background(), client, "sys", "user", classifyTool(), GenerationParams{}, &out)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped chat error, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Answer string `json:"answer"`
	}

	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"answer":"x=2"}`,
			want:     "x=2",
		},
		{
			name:     "fenced json",
			response: "```json\n{\"answer\":\"x=2\"}\n```",
			want:     "x=2",
		},
		{
			name:     "plain fence",
			response: "```\n{\"answer\":\"x=2\"}\n```",
			want:     "x=2",
		},
		{
			name:     "prose around object",
			response: `Sure, here is the result: {"answer":"x=2"} hope that helps`,
			want:     "x=2",
		},
		{
			name:     "nested braces",
			response: `{"answer":"roots {2, 3}"}`,
			want:     "roots {2, 3}",
		},
		{
			name:     "no json",
			response: "I cannot solve this problem.",
			wantErr:  true,
		},
		{
			name:     "empty",
			response: "   ",
			wantErr:  true,
		},
		{
			name:     "malformed",
			response: `{"answer": x=2}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out payload
			err := ExtractJSON(tt.response, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON error: %v", err)
			}
			if out.Answer != tt.want {
				t.Errorf("answer = %q, want %q", out.Answer, tt.want)
			}
		})
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := truncateForLog("short", 10); got != "short" {
		t.Errorf("short string should pass through, got %q", got)
	}
	got := truncateForLog(strings.Repeat("a", 300), 100)
	if len([]rune(got)) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("long string should be truncated with ellipsis, got len %d", len(got))
	}
}
