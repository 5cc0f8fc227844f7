// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"fmt"
	"strings"
	"sync"
)

// ModelPricing holds token pricing in dollars per million tokens.
//
// Thread Safety: ModelPricing is a value type, safe to copy.
type ModelPricing struct {
	InputCostPerMillion  float64
	OutputCostPerMillion float64
}

// modelPricing maps model-name prefixes to published rates as of 2025.
// Lookup is longest-prefix, so "claude-sonnet-4-20250514" matches the
// "claude-sonnet-4" row.
var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4":  {InputCostPerMillion: 3.0, OutputCostPerMillion: 15.0},
	"claude-haiku-4":   {InputCostPerMillion: 1.0, OutputCostPerMillion: 5.0},
	"gpt-4o-mini":      {InputCostPerMillion: 0.15, OutputCostPerMillion: 0.60},
	"gpt-4o":           {InputCostPerMillion: 2.50, OutputCostPerMillion: 10.0},
	"gemini-1.5-pro":   {InputCostPerMillion: 1.25, OutputCostPerMillion: 5.0},
	"gemini-2.0-flash": {InputCostPerMillion: 0.10, OutputCostPerMillion: 0.40},
}

// providerPricing is the fallback when no model row matches, keyed by the
// configured provider name. Unknown providers price as the most expensive
// configured row so a typo cannot undercount.
var providerPricing = map[string]ModelPricing{
	"anthropic": {InputCostPerMillion: 3.0, OutputCostPerMillion: 15.0},
	"openai":    {InputCostPerMillion: 2.50, OutputCostPerMillion: 10.0},
	"gemini":    {InputCostPerMillion: 1.25, OutputCostPerMillion: 5.0},
	"ollama":    {InputCostPerMillion: 0, OutputCostPerMillion: 0},
}

// CostEstimator prices reasoning calls and enforces a cumulative ceiling.
//
// Description:
//
//	Estimates each call's cost from the pricing tables and accumulates the
//	total. A limit of 0 means tracking only, no enforcement. The tutoring
//	pipeline makes several small calls per problem (classification
//	escalation, guided solving, verification review, phrasing), so the
//	ceiling is checked with the estimate before each one rather than once
//	per session.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type CostEstimator struct {
	mu         sync.Mutex
	spentCents float64
	limitCents float64
}

// NewCostEstimator creates an estimator with a cumulative ceiling in US
// cents. 0 means unlimited.
func NewCostEstimator(limitCents float64) *CostEstimator {
	return &CostEstimator{limitCents: limitCents}
}

// Estimate prices a prospective call in US cents.
func Estimate(provider, model string, inputTokens, outputTokens int) float64 {
	p := pricingFor(provider, model)
	dollars := float64(inputTokens)*p.InputCostPerMillion/1_000_000 +
		float64(outputTokens)*p.OutputCostPerMillion/1_000_000
	return dollars * 100
}

// CanAfford checks a prospective call against the ceiling.
//
// Outputs:
//   - bool: True if the call fits under the ceiling.
//   - float64: The call's estimated cost in US cents.
func (c *CostEstimator) CanAfford(provider, model string, inputTokens, outputTokens int) (bool, float64) {
	cents := Estimate(provider, model, inputTokens, outputTokens)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limitCents == 0 {
		return true, cents
	}
	return c.spentCents+cents <= c.limitCents, cents
}

// Record charges actual token usage against the total and returns the
// call's cost in US cents.
func (c *CostEstimator) Record(provider, model string, inputTokens, outputTokens int) float64 {
	cents := Estimate(provider, model, inputTokens, outputTokens)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.spentCents += cents
	return cents
}

// TotalCostCents returns the cumulative spend in US cents.
func (c *CostEstimator) TotalCostCents() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spentCents
}

// Summary returns the spend state for logging.
func (c *CostEstimator) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limitCents == 0 {
		return fmt.Sprintf("total cost: $%.4f (unlimited)", c.spentCents/100)
	}
	return fmt.Sprintf("total cost: $%.4f / $%.4f limit", c.spentCents/100, c.limitCents/100)
}

// pricingFor resolves pricing by model prefix, then provider, then a
// conservative default. The longest matching prefix wins so "gpt-4o-mini"
// is never priced as "gpt-4o".
func pricingFor(provider, model string) ModelPricing {
	var best string
	for prefix := range modelPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelPricing[best]
	}
	if p, ok := providerPricing[provider]; ok {
		return p
	}
	return ModelPricing{InputCostPerMillion: 5.0, OutputCostPerMillion: 15.0}
}
