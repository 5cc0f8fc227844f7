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
	"log/slog"
	"strings"
)

// StructuredCall asks the model for output matching a single tool schema
// and decodes it into out.
//
// Description:
//
//	The reliable way to get machine-readable output from any provider.
//	When the client supports native function calling the tool schema is
//	enforced by the provider and the call arguments are decoded directly.
//	Otherwise the call degrades to plain chat with a JSON-only instruction
//	and the object is extracted from the response text. Callers get the
//	same behavior either way and never parse model output themselves.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - client: Any provider client from NewClient.
//   - system: System prompt describing the task.
//   - user: The user-turn content.
//   - tool: Schema for the expected object. The tool name anchors matching.
//   - params: Generation parameters.
//   - out: Destination for json.Unmarshal. Must be a non-nil pointer.
//
// Outputs:
//   - error: Non-nil if the call fails or no decodable object comes back.
//
// Thread Safety: Safe for concurrent use.
func StructuredCall(ctx context.Context, client LLMClient, system, user string,
	tool ToolDef, params GenerationParams, out any) error {

	if tc, ok := client.(ToolCallingClient); ok {
		return structuredViaTools(ctx, tc, system, user, tool, params, out)
	}
	return structuredViaChat(ctx, client, system, user, params, out)
}

// structuredViaTools uses native function calling.
func structuredViaTools(ctx context.Context, client ToolCallingClient, system, user string,
	tool ToolDef, params GenerationParams, out any) error {

	messages := []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	result, err := client.ChatWithTools(ctx, messages, params, []ToolDef{tool})
	if err != nil {
		return fmt.Errorf("structured call failed: %w", err)
	}

	if call := result.FirstCall(tool.Function.Name); call != nil {
		if err := json.Unmarshal(call.Arguments, out); err != nil {
			return fmt.Errorf("decoding tool arguments: %w, arguments: %s",
				err, truncateForLog(string(call.Arguments), 200))
		}
		return nil
	}

	// Some models answer in text despite the tool being offered.
	if result.Content != "" {
		slog.Debug("Model skipped the tool, extracting JSON from text",
			slog.String("tool", tool.Function.Name))
		return ExtractJSON(result.Content, out)
	}

	return fmt.Errorf("model returned neither a %s call nor text content", tool.Function.Name)
}

// structuredViaChat degrades to plain chat plus JSON extraction for
// providers without function calling.
func structuredViaChat(ctx context.Context, client LLMClient, system, user string,
	params GenerationParams, out any) error {

	messages := []Message{
		{Role: "system", Content: system + "\n\nRespond with ONLY a JSON object. Do not include any explanation or markdown formatting."},
		{Role: "user", Content: user},
	}

	response, err := client.Chat(ctx, messages, params)
	if err != nil {
		return fmt.Errorf("structured call failed: %w", err)
	}

	return ExtractJSON(response, out)
}

// ExtractJSON pulls the first JSON object out of model text and decodes it.
//
// Description:
//
//	Strips markdown code fences, then takes the span from the first "{"
//	to the last "}". Models frequently wrap JSON in prose or fences even
//	when told not to; this recovers the object without being strict about
//	the surrounding noise.
//
// Inputs:
//   - response: Raw model output.
//   - out: Destination for json.Unmarshal. Must be a non-nil pointer.
//
// Outputs:
//   - error: Non-nil if no JSON object is present or it fails to decode.
func ExtractJSON(response string, out any) error {
	response = strings.TrimSpace(response)

	if len(response) == 0 {
		return fmt.Errorf("empty response from model")
	}

	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return fmt.Errorf("no JSON object found in response: %s", truncateForLog(response, 100))
	}

	jsonStr := response[startIdx : endIdx+1]

	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w, response: %s", err, truncateForLog(jsonStr, 100))
	}

	return nil
}

// truncateForLog shortens s to at most n runes for error messages and logs.
func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
