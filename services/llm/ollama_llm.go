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
	"time"
)

const defaultOllamaHost = "http://localhost:11434"

// =============================================================================
// Ollama Wire Types
// =============================================================================

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	NumCtx      *int     `json:"num_ctx,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OllamaClient implements LLMClient against a local Ollama server.
//
// Description:
//
//	Talks to the Ollama /api/chat endpoint over raw HTTP. Used when the
//	reasoning provider is configured as "ollama" for fully local
//	deployments with no cloud egress.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaClientWithConfig creates an OllamaClient with explicit configuration.
//
// Inputs:
//   - model: The model name (e.g., "qwen2.5:14b").
//   - baseURL: The Ollama server base URL.
//
// Outputs:
//   - *OllamaClient: The configured client.
func NewOllamaClientWithConfig(model, baseURL string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}
}

// NewOllamaClient creates an OllamaClient from the environment.
//
// Description:
//
//	Reads OLLAMA_HOST for the server address, defaulting to
//	http://localhost:11434. Local inference can be slow on large models,
//	so the HTTP timeout is generous; callers bound latency with contexts.
//
// Outputs:
//   - *OllamaClient: The configured client.
//   - error: Non-nil if no model name is available.
func NewOllamaClient(model string) (*OllamaClient, error) {
	if model == "" {
		model = os.Getenv("OLLAMA_MODEL")
	}
	if model == "" {
		return nil, fmt.Errorf("ollama: model name is missing (OLLAMA_MODEL)")
	}

	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = defaultOllamaHost
	}

	slog.Info("Initializing Ollama client", "model", model, "host", baseURL)

	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Generate implements the LLMClient interface.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []Message{
		{Role: "user", Content: prompt},
	}
	return o.Chat(ctx, messages, params)
}

// Chat implements LLMClient.Chat using the Ollama /api/chat endpoint.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	reqPayload := o.buildRequest(messages, params, false)

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("ollama: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Sending request to Ollama", "model", reqPayload.Model)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp ollamaChatResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("ollama: parsing response JSON: %w", err)
	}

	if apiResp.Error != "" {
		return "", fmt.Errorf("ollama: API error: %s", apiResp.Error)
	}

	if apiResp.Message.Content == "" {
		return "", fmt.Errorf("ollama: returned empty content")
	}

	return apiResp.Message.Content, nil
}

// ChatStream implements the StreamingClient interface.
//
// Description:
//
//	Ollama streams newline-delimited JSON objects rather than SSE. Each
//	line carries one message fragment; the final line has done=true and
//	triggers the done event.
func (o *OllamaClient) ChatStream(
	ctx context.Context,
	messages []Message,
	params GenerationParams,
	callback StreamCallback,
) error {
	reqPayload := o.buildRequest(messages, params, true)

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("ollama: marshaling stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("ollama: creating stream HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
		return fmt.Errorf("ollama: stream HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("ollama: reading stream error body (status %d): %w", resp.StatusCode, readErr)
		}
		errMsg := fmt.Sprintf("ollama: stream API returned status %d", resp.StatusCode)
		_ = callback(StreamEvent{Type: StreamEventError, Error: errMsg})
		return fmt.Errorf("%s: %s", errMsg, string(bodyBytes))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			_ = callback(StreamEvent{Type: StreamEventError, Error: "stream cancelled"})
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Warn("Failed to parse Ollama stream chunk", "error", err)
			continue
		}

		if chunk.Error != "" {
			_ = callback(StreamEvent{Type: StreamEventError, Error: chunk.Error})
			return fmt.Errorf("ollama: stream error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			if err := callback(StreamEvent{
				Type:    StreamEventToken,
				Content: chunk.Message.Content,
			}); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
		}

		if chunk.Done {
			if err := callback(StreamEvent{Type: StreamEventDone}); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
		return fmt.Errorf("ollama: stream read error: %w", err)
	}

	return nil
}

// buildRequest assembles the /api/chat payload.
func (o *OllamaClient) buildRequest(messages []Message, params GenerationParams, stream bool) ollamaChatRequest {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	req := ollamaChatRequest{
		Model:     model,
		Stream:    stream,
		KeepAlive: params.KeepAlive,
	}

	for _, msg := range messages {
		req.Messages = append(req.Messages, ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	opts := &ollamaOptions{}
	hasOpts := false
	if params.Temperature != nil {
		opts.Temperature = params.Temperature
		hasOpts = true
	}
	if params.TopP != nil {
		opts.TopP = params.TopP
		hasOpts = true
	}
	if params.TopK != nil {
		opts.TopK = params.TopK
		hasOpts = true
	}
	if params.MaxTokens != nil {
		opts.NumPredict = params.MaxTokens
		hasOpts = true
	}
	if params.NumCtx != nil {
		opts.NumCtx = params.NumCtx
		hasOpts = true
	}
	if len(params.Stop) > 0 {
		opts.Stop = params.Stop
		hasOpts = true
	}
	if hasOpts {
		req.Options = opts
	}

	return req
}
