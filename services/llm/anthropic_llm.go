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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"
	defaultClaudeModel      = "claude-sonnet-4-20250514"
	defaultMaxTokens        = 4096
)

// =============================================================================
// Wire Types
// =============================================================================

// anthropicRequest is the Messages API payload. Messages holds either
// anthropicMessage (plain string content) or anthropicBlockMessage
// (structured content blocks for tool_use / tool_result turns).
type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []any              `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Thinking  *thinkingParams    `json:"thinking,omitempty"`
	Tools     []anthropicToolDef `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicBlockMessage carries structured content blocks. Required for
// tool_use (assistant) and tool_result (user) turns.
type anthropicBlockMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type thinkingParams struct {
	Type         string `json:"type"` // Must be "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"` // JSON Schema
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason,omitempty"`
	Error      *anthropicError         `json:"error,omitempty"`
}

// anthropicContentBlock is a response content block. Text blocks populate
// Text, thinking blocks populate Thinking, tool_use blocks populate
// ID/Name/Input.
type anthropicContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// AnthropicClient implements LLMClient for Claude models using raw net/http.
//
// Description:
//
//	Talks to the Anthropic Messages API directly without an SDK. Supports
//	text generation, multi-turn chat, native tool calling, extended
//	thinking, and SSE streaming.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicClientWithConfig creates an AnthropicClient with explicit configuration.
//
// Description:
//
//	Creates an AnthropicClient without reading environment variables. Useful
//	for testing with mock servers or when configuration comes from a source
//	other than environment variables.
//
// Inputs:
//   - apiKey: The Anthropic API key.
//   - model: The model name (e.g., "claude-sonnet-4-20250514").
//   - baseURL: The base URL for API requests.
//
// Outputs:
//   - *AnthropicClient: The configured client.
func NewAnthropicClientWithConfig(apiKey, model, baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewAnthropicClient creates an AnthropicClient from the environment.
//
// Description:
//
//	Reads ANTHROPIC_API_KEY and CLAUDE_MODEL. When the env var is unset the
//	key is also looked up at /run/secrets/anthropic_api_key so container
//	secret mounts work without extra plumbing.
//
// Outputs:
//   - *AnthropicClient: The configured client.
//   - error: Non-nil if no API key can be found.
func NewAnthropicClient(model string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API key from secrets mount")
		}
	}

	if apiKey == "" {
		slog.Warn("Anthropic API key is missing")
		return nil, fmt.Errorf("anthropic: API key is missing (ANTHROPIC_API_KEY)")
	}

	if model == "" {
		model = os.Getenv("CLAUDE_MODEL")
	}
	if model == "" {
		model = defaultClaudeModel
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAnthropicBaseURL,
	}, nil
}

// Generate implements the LLMClient interface.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []Message{
		{Role: "user", Content: prompt},
	}
	return a.Chat(ctx, messages, params)
}

// Chat implements the LLMClient interface.
//
// Description:
//
//	Sends the conversation to the Messages API and returns the concatenated
//	text blocks of the reply. A "system" role message is lifted into the
//	top-level system field; long system prompts get an ephemeral cache
//	control marker so repeated pipeline calls hit the prompt cache.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	reqPayload := a.buildRequest(messages, params, false)

	apiResp, err := a.doRequest(ctx, reqPayload)
	if err != nil {
		return "", err
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("anthropic: received empty content")
	}

	finalText := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
		if block.Type == "thinking" {
			slog.Debug("Claude thoughts", "thinking", SafeLogString(block.Thinking))
		}
	}

	if finalText == "" {
		return "", fmt.Errorf("anthropic: received content but no text block found")
	}

	return finalText, nil
}

// ChatWithTools sends a chat request with tool definitions and returns tool calls.
//
// Description:
//
//	Extends Chat to support Anthropic's native function calling API. Converts
//	generic ToolDef and ChatMessage types to Anthropic wire format, including
//	structured content blocks for tool_use and tool_result messages.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history with tool metadata.
//   - params: Generation parameters.
//   - tools: Tool definitions for function calling.
//
// Outputs:
//   - *ChatWithToolsResult: Content and/or tool calls.
//   - error: Non-nil on failure.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {

	slog.Debug("ChatWithTools via Anthropic",
		slog.String("model", a.model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	var apiMessages []any
	var systemPrompt string

	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			continue
		}

		switch {
		case msg.Role == "tool" && msg.ToolCallID != "":
			// Tool result becomes a user message with a tool_result block.
			apiMessages = append(apiMessages, anthropicBlockMessage{
				Role: "user",
				Content: []any{
					anthropicToolResultBlock{
						Type:      "tool_result",
						ToolUseID: msg.ToolCallID,
						Content:   msg.Content,
					},
				},
			})

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			var blocks []any
			if msg.Content != "" {
				blocks = append(blocks, anthropicTextBlock{
					Type: "text",
					Text: msg.Content,
				})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			apiMessages = append(apiMessages, anthropicBlockMessage{
				Role:    "assistant",
				Content: blocks,
			})

		default:
			apiMessages = append(apiMessages, anthropicMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	reqPayload := anthropicRequest{
		Model:     a.model,
		Messages:  apiMessages,
		System:    systemBlocksFor(systemPrompt),
		MaxTokens: defaultMaxTokens,
	}
	for _, td := range tools {
		reqPayload.Tools = append(reqPayload.Tools, anthropicToolDef{
			Name:        td.Function.Name,
			Description: td.Function.Description,
			InputSchema: td.Function.Parameters,
		})
	}
	applyParams(&reqPayload, params)

	apiResp, err := a.doRequest(ctx, reqPayload)
	if err != nil {
		return nil, err
	}

	result := &ChatWithToolsResult{}
	var textParts []string

	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "thinking":
			slog.Debug("Claude thoughts", "thinking", SafeLogString(block.Thinking))
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: input,
			})
		}
	}

	result.Content = strings.Join(textParts, "")

	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}

	return result, nil
}

// buildRequest assembles the request payload shared by Chat and ChatStream.
func (a *AnthropicClient) buildRequest(messages []Message, params GenerationParams, stream bool) anthropicRequest {
	var apiMessages []any
	var systemPrompt string

	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	reqPayload := anthropicRequest{
		Model:     a.model,
		Messages:  apiMessages,
		System:    systemBlocksFor(systemPrompt),
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}
	applyParams(&reqPayload, params)
	return reqPayload
}

// systemBlocksFor wraps a system prompt into system blocks. Prompts over
// 1024 characters get an ephemeral cache_control marker.
func systemBlocksFor(systemPrompt string) []systemBlock {
	if systemPrompt == "" {
		return nil
	}
	block := systemBlock{
		Type: "text",
		Text: systemPrompt,
	}
	if len(systemPrompt) > 1024 {
		block.CacheControl = &cacheControl{Type: "ephemeral"}
	}
	return []systemBlock{block}
}

// applyParams copies generation parameters onto the request payload.
// Extended thinking grows MaxTokens so the visible answer is not starved
// by the thinking budget.
func applyParams(reqPayload *anthropicRequest, params GenerationParams) {
	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if params.TopK != nil {
		reqPayload.TopK = params.TopK
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	if params.EnableThinking {
		reqPayload.Thinking = &thinkingParams{
			Type:         "enabled",
			BudgetTokens: params.BudgetTokens,
		}
		minRequired := params.BudgetTokens + 2048
		if reqPayload.MaxTokens < minRequired {
			slog.Info("Adjusting MaxTokens to accommodate thinking budget",
				"old", reqPayload.MaxTokens, "new", minRequired)
			reqPayload.MaxTokens = minRequired
		}
	}
}

// doRequest posts the payload and decodes the non-streaming response.
func (a *AnthropicClient) doRequest(ctx context.Context, reqPayload anthropicRequest) (*anthropicResponse, error) {
	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", a.model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("anthropic: reading response body (status %d): %w", resp.StatusCode, readErr)
	}

	slog.Info("Anthropic response received",
		slog.Int("status", resp.StatusCode),
		slog.Int("body_length", len(bodyBytes)),
		slog.String("model", a.model),
	)
	slog.Debug("Anthropic response body",
		slog.String("body", SafeLogString(string(bodyBytes))),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	return &apiResp, nil
}

// =============================================================================
// Streaming
// =============================================================================

// anthropicContentBlockDelta contains delta content for streaming.
type anthropicContentBlockDelta struct {
	Type  string                `json:"type"`
	Index int                   `json:"index"`
	Delta anthropicDeltaContent `json:"delta"`
}

// anthropicDeltaContent contains the actual text delta.
type anthropicDeltaContent struct {
	Type     string `json:"type"` // "text_delta" or "thinking_delta"
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// anthropicStreamError represents an error event in the stream.
type anthropicStreamError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChatStream implements streaming chat for the StreamingClient interface.
//
// Description:
//
//	Sends a chat request with streaming enabled, then reads the SSE
//	response line-by-line and calls the callback for each token. Handles
//	both visible text tokens and thinking tokens, and emits a final done
//	event when the message completes.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters.
//   - callback: Called for each streaming event in order.
//
// Outputs:
//   - error: Non-nil on network failure, API error, or callback abort.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) ChatStream(
	ctx context.Context,
	messages []Message,
	params GenerationParams,
	callback StreamCallback,
) error {
	reqPayload := a.buildRequest(messages, params, true)

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("anthropic: marshaling stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return fmt.Errorf("anthropic: creating stream HTTP request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "text/event-stream")

	slog.Debug("Sending streaming request to Anthropic", "model", a.model)

	// Streams outlive the regular request timeout.
	streamClient := &http.Client{Timeout: 5 * time.Minute}
	resp, err := streamClient.Do(req)
	if err != nil {
		_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
		return fmt.Errorf("anthropic: stream HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("anthropic: reading stream error body (status %d): %w", resp.StatusCode, readErr)
		}
		errMsg := fmt.Sprintf("anthropic: stream API returned status %d", resp.StatusCode)
		_ = callback(StreamEvent{Type: StreamEventError, Error: errMsg})
		return fmt.Errorf("%s: %s", errMsg, SafeLogString(string(bodyBytes)))
	}

	return a.processSSEStream(ctx, resp.Body, callback)
}

// processSSEStream reads the SSE stream line-by-line and dispatches events.
func (a *AnthropicClient) processSSEStream(
	ctx context.Context,
	body io.Reader,
	callback StreamCallback,
) error {
	scanner := bufio.NewScanner(body)
	var eventType string
	var dataBuffer strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			_ = callback(StreamEvent{Type: StreamEventError, Error: "stream cancelled"})
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line terminates one SSE event.
		if line == "" {
			if dataBuffer.Len() > 0 && eventType != "" {
				if err := a.handleSSEEvent(eventType, dataBuffer.String(), callback); err != nil {
					return err
				}
				dataBuffer.Reset()
				eventType = ""
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
		return fmt.Errorf("anthropic: stream read error: %w", err)
	}

	return nil
}

// handleSSEEvent processes a single SSE event and invokes the callback.
func (a *AnthropicClient) handleSSEEvent(
	eventType string,
	data string,
	callback StreamCallback,
) error {
	switch eventType {
	case "content_block_delta":
		var delta anthropicContentBlockDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			// Skip malformed deltas rather than aborting the stream.
			slog.Warn("Failed to parse content_block_delta", "error", err, "data", data)
			return nil
		}

		switch delta.Delta.Type {
		case "text_delta":
			if delta.Delta.Text != "" {
				if err := callback(StreamEvent{
					Type:    StreamEventToken,
					Content: delta.Delta.Text,
				}); err != nil {
					return fmt.Errorf("callback error: %w", err)
				}
			}
		case "thinking_delta":
			if delta.Delta.Thinking != "" {
				if err := callback(StreamEvent{
					Type:    StreamEventThinking,
					Content: delta.Delta.Thinking,
				}); err != nil {
					return fmt.Errorf("callback error: %w", err)
				}
			}
		}

	case "error":
		var streamErr anthropicStreamError
		if err := json.Unmarshal([]byte(data), &streamErr); err != nil {
			slog.Warn("Failed to parse error event", "error", err, "data", data)
			_ = callback(StreamEvent{Type: StreamEventError, Error: "stream error"})
			return fmt.Errorf("stream error: %s", data)
		}
		errMsg := fmt.Sprintf("%s: %s", streamErr.Error.Type, SafeLogString(streamErr.Error.Message))
		_ = callback(StreamEvent{Type: StreamEventError, Error: errMsg})
		return fmt.Errorf("anthropic: stream error: %s", errMsg)

	case "message_stop":
		if err := callback(StreamEvent{Type: StreamEventDone}); err != nil {
			return fmt.Errorf("callback error: %w", err)
		}

	case "message_start", "content_block_start", "content_block_stop", "message_delta", "ping":
		slog.Debug("Received SSE event", "type", eventType)

	default:
		slog.Debug("Unknown SSE event type", "type", eventType, "data", data)
	}

	return nil
}
