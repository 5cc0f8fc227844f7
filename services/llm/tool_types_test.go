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
	"encoding/json"
	"testing"
)

func TestToolCallResponse_ArgumentsString_Object(t *testing.T) {
	tc := ToolCallResponse{
		ID:        "call-1",
		Name:      "propose_steps",
		Arguments: json.RawMessage(`{"strategy":"quadratic_formula","count":3}`),
	}

	result := tc.ArgumentsString()
	if result != `{"strategy":"quadratic_formula","count":3}` {
		t.Errorf("ArgumentsString() = %q, want JSON object string", result)
	}
}

func TestToolCallResponse_ArgumentsString_String(t *testing.T) {
	// Some models return arguments as a JSON string
	tc := ToolCallResponse{
		ID:        "call-2",
		Name:      "classify_problem",
		Arguments: json.RawMessage(`"{\"category\":\"algebra_linear\"}"`),
	}

	result := tc.ArgumentsString()
	if result != `{"category":"algebra_linear"}` {
		t.Errorf("ArgumentsString() = %q, want unquoted JSON string", result)
	}
}

func TestToolCallResponse_ArgumentsString_Empty(t *testing.T) {
	tc := ToolCallResponse{
		ID:   "call-3",
		Name: "no_args",
	}

	result := tc.ArgumentsString()
	if result != "{}" {
		t.Errorf("ArgumentsString() = %q, want %q", result, "{}")
	}
}

func TestToolCallResponse_ArgumentsString_Array(t *testing.T) {
	tc := ToolCallResponse{
		ID:        "call-4",
		Name:      "array_args",
		Arguments: json.RawMessage(`[1,2,3]`),
	}

	result := tc.ArgumentsString()
	if result != `[1,2,3]` {
		t.Errorf("ArgumentsString() = %q, want %q", result, `[1,2,3]`)
	}
}

func TestFunctionTool(t *testing.T) {
	def := FunctionTool("verify_solution", "Check a candidate solution", ToolParameters{
		Type: "object",
		Properties: map[string]ToolParamDef{
			"verdict":   {Type: "string", Enum: []any{"pass", "fail"}},
			"residuals": {Type: "array", Items: &ToolParamDef{Type: "number"}},
		},
		Required: []string{"verdict"},
	})

	if def.Type != "function" {
		t.Errorf("Type = %q, want function", def.Type)
	}
	if def.Function.Name != "verify_solution" {
		t.Errorf("Name = %q", def.Function.Name)
	}

	data, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ToolDef
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded.Function.Parameters.Properties) != 2 {
		t.Errorf("Properties count = %d, want 2", len(decoded.Function.Parameters.Properties))
	}
	items := decoded.Function.Parameters.Properties["residuals"].Items
	if items == nil || items.Type != "number" {
		t.Errorf("array items = %+v, want number", items)
	}
	if len(decoded.Function.Parameters.Required) != 1 || decoded.Function.Parameters.Required[0] != "verdict" {
		t.Errorf("Required = %v, want [verdict]", decoded.Function.Parameters.Required)
	}
}

func TestChatMessagesFrom(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a math tutor."},
		{Role: "user", Content: "Solve x^2 - 5x + 6 = 0"},
	}

	converted := ChatMessagesFrom(messages)
	if len(converted) != 2 {
		t.Fatalf("converted count = %d, want 2", len(converted))
	}
	if converted[0].Role != "system" || converted[0].Content != "You are a math tutor." {
		t.Errorf("converted[0] = %+v", converted[0])
	}
	if len(converted[1].ToolCalls) != 0 || converted[1].ToolCallID != "" {
		t.Errorf("plain messages should carry no tool metadata: %+v", converted[1])
	}
}

func TestChatWithToolsResult_FirstCall(t *testing.T) {
	result := &ChatWithToolsResult{
		ToolCalls: []ToolCallResponse{
			{ID: "c1", Name: "classify_problem", Arguments: json.RawMessage(`{"category":"algebra_linear"}`)},
			{ID: "c2", Name: "propose_steps", Arguments: json.RawMessage(`{}`)},
			{ID: "c3", Name: "classify_problem", Arguments: json.RawMessage(`{"category":"geometry"}`)},
		},
	}

	call := result.FirstCall("classify_problem")
	if call == nil {
		t.Fatal("FirstCall returned nil")
	}
	if call.ID != "c1" {
		t.Errorf("FirstCall ID = %q, want the first match c1", call.ID)
	}

	if got := result.FirstCall("unknown_tool"); got != nil {
		t.Errorf("FirstCall(unknown) = %+v, want nil", got)
	}

	empty := &ChatWithToolsResult{}
	if got := empty.FirstCall("classify_problem"); got != nil {
		t.Errorf("FirstCall on empty result = %+v, want nil", got)
	}
}

func TestChatMessage_JSONRoundTrip(t *testing.T) {
	msg := ChatMessage{
		Role:    "assistant",
		Content: "I'll check the roots",
		ToolCalls: []ToolCallResponse{
			{
				ID:        "tc-1",
				Name:      "verify_solution",
				Arguments: json.RawMessage(`{"candidate":"x=2"}`),
			},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Role != "assistant" {
		t.Errorf("Role = %q, want %q", decoded.Role, "assistant")
	}
	if len(decoded.ToolCalls) != 1 {
		t.Fatalf("ToolCalls count = %d, want 1", len(decoded.ToolCalls))
	}
	if decoded.ToolCalls[0].Name != "verify_solution" {
		t.Errorf("ToolCalls[0].Name = %q, want %q", decoded.ToolCalls[0].Name, "verify_solution")
	}
}

func TestChatMessage_ToolResultFields(t *testing.T) {
	msg := ChatMessage{
		Role:       "tool",
		Content:    `{"verdict":"pass"}`,
		ToolCallID: "tc-1",
		ToolName:   "verify_solution",
	}

	if msg.ToolCallID != "tc-1" {
		t.Errorf("ToolCallID = %q, want %q", msg.ToolCallID, "tc-1")
	}
	if msg.ToolName != "verify_solution" {
		t.Errorf("ToolName = %q, want %q", msg.ToolName, "verify_solution")
	}
}
