// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides raw-HTTP clients for the reasoning providers used by
// the tutoring pipeline (Anthropic, OpenAI, Gemini, Ollama). All clients
// implement the same small interfaces so callers can swap providers through
// configuration without touching call sites.
package llm

import "context"

// Message is a single turn in a conversation.
//
// Description:
//
//	Roles follow the common convention: "system" for instructions,
//	"user" for the problem text, "assistant" for model output. Provider
//	clients translate roles into their own wire formats (e.g. Gemini
//	maps "assistant" to "model", Anthropic lifts "system" out of the
//	message list entirely).
//
// Thread Safety: Message is a value type and safe to copy.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are per-call sampling controls.
//
// Description:
//
//	Pointer fields distinguish "not set" (provider default) from an
//	explicit zero. Stop sequences and thinking budget are passed through
//	only when the provider supports them.
//
// Thread Safety: GenerationParams is a value type and safe to copy.
type GenerationParams struct {
	// Temperature controls sampling randomness. Nil uses the provider default.
	Temperature *float32

	// TopP is the nucleus sampling threshold. Nil uses the provider default.
	TopP *float32

	// TopK limits sampling to the K most likely tokens. Nil uses the
	// provider default. Not supported by OpenAI.
	TopK *int

	// MaxTokens caps the generated output length. Nil uses the provider
	// default (see each client's defaultMaxTokens).
	MaxTokens *int

	// Stop lists sequences that terminate generation.
	Stop []string

	// ModelOverride replaces the client's configured model for this call.
	// Empty means use the client default.
	ModelOverride string

	// KeepAlive controls how long Ollama keeps the model loaded after the
	// call (e.g. "10m"). Ignored by cloud providers.
	KeepAlive string

	// NumCtx sets the Ollama context window size. Ignored by cloud providers.
	NumCtx *int

	// EnableThinking turns on extended thinking for providers that support
	// it. Only honored by the Anthropic client; other providers ignore it.
	EnableThinking bool

	// BudgetTokens is the extended-thinking token budget. Only read when
	// EnableThinking is true. The client grows MaxTokens to leave room for
	// the visible answer after thinking.
	BudgetTokens int
}

// Float32Ptr returns a pointer to v for use in GenerationParams.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr returns a pointer to v for use in GenerationParams.
func IntPtr(v int) *int { return &v }

// LLMClient is the minimal surface every provider client implements.
//
// Description:
//
//	Generate is single-shot prompt-in text-out. Chat runs a multi-turn
//	conversation. Both block until the provider responds or ctx is done,
//	so callers control latency with context deadlines.
//
// Thread Safety: Implementations are safe for concurrent use.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// ToolCallingClient is implemented by providers that support native
// function calling. Callers that need structured output should prefer
// this over parsing JSON out of free text; see StructuredCall.
type ToolCallingClient interface {
	LLMClient
	ChatWithTools(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}

// StreamEventType identifies the kind of payload carried by a StreamEvent.
type StreamEventType string

const (
	// StreamEventToken carries a chunk of the assistant's visible answer.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking carries a chunk of extended-thinking output.
	// Emitted only when the provider and call enable thinking.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventError reports a mid-stream failure. Error holds the message.
	StreamEventError StreamEventType = "error"

	// StreamEventDone signals normal end of the stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one incremental piece of a streamed response.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in order. Returning a non-nil
// error aborts the stream and is propagated out of ChatStream.
type StreamCallback func(StreamEvent) error

// StreamingClient is implemented by providers that can deliver responses
// incrementally. Used by interactive frontends; batch callers should use
// Chat instead.
type StreamingClient interface {
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, cb StreamCallback) error
}
