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

import "fmt"

// Provider identifiers accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// ValidProviders lists every provider NewClient accepts, for error messages
// and config validation.
var ValidProviders = []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama}

// NewClient creates the LLM client for the configured provider.
//
// Description:
//
//	Central creation point for provider clients. API keys come from each
//	provider's environment variables (or secret mounts); only the provider
//	name and model are configuration. The returned client may additionally
//	implement ToolCallingClient and StreamingClient; callers that need
//	those capabilities check with a type assertion.
//
// Inputs:
//   - provider: One of ValidProviders.
//   - model: Model name. Empty uses the provider's default.
//
// Outputs:
//   - LLMClient: The configured client.
//   - error: Non-nil if the provider is unknown or credentials are missing.
func NewClient(provider, model string) (LLMClient, error) {
	switch provider {
	case ProviderAnthropic:
		client, err := NewAnthropicClient(model)
		if err != nil {
			return nil, fmt.Errorf("creating Anthropic client: %w", err)
		}
		return client, nil

	case ProviderOpenAI:
		client, err := NewOpenAIClient(model)
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		return client, nil

	case ProviderGemini:
		client, err := NewGeminiClient(model)
		if err != nil {
			return nil, fmt.Errorf("creating Gemini client: %w", err)
		}
		return client, nil

	case ProviderOllama:
		client, err := NewOllamaClient(model)
		if err != nil {
			return nil, fmt.Errorf("creating Ollama client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", provider, ValidProviders)
	}
}
