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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
)

var egressTracer = otel.Tracer("mentor.egress")

// secretCacheTTL bounds how long API keys stay sealed in the enclave cache
// before the environment is consulted again.
const secretCacheTTL = 5 * time.Minute

// =============================================================================
// Governor
// =============================================================================

// Governor holds the service-wide egress controls and wraps reasoning
// clients with them.
//
// Description:
//
//	The rate gate, daily token budget, cost estimator, secret manager, and
//	auditor are shared across every session. WrapClient attaches them to a
//	client together with a fresh per-session token budget.
//
// Thread Safety: Safe for concurrent use. All shared components are
// concurrent-safe.
type Governor struct {
	cfg     config.EgressConfig
	gate    *RateGate
	daily   *DailyBudget
	costs   *CostEstimator
	secrets *SecretManager
	auditor *Auditor
	log     *slog.Logger
}

// NewGovernor creates a governor from the egress configuration. A nil
// logger falls back to slog.Default().
func NewGovernor(cfg config.EgressConfig, log *slog.Logger) *Governor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "egress"))

	return &Governor{
		cfg:     cfg,
		gate:    NewRateGate(cfg.RequestsPerMinute, cfg.Burst),
		daily:   NewDailyBudget(cfg.DailyTokenBudget),
		costs:   NewCostEstimator(cfg.CostLimitCents),
		secrets: NewSecretManager(secretCacheTTL),
		auditor: NewAuditor(log, cfg.AuditEnabled, cfg.AuditHashContent),
		log:     log,
	}
}

// WrapClient wraps a reasoning client with the governor's checks and a
// fresh session token budget. Ollama is local and passes through
// unwrapped.
func (g *Governor) WrapClient(inner llm.LLMClient, provider, model, sessionID string) llm.LLMClient {
	if provider == "ollama" {
		return inner
	}
	return &GuardedClient{
		inner:     inner,
		gate:      g.gate,
		session:   NewTokenBudget(sessionID, g.cfg.SessionTokenBudget),
		daily:     g.daily,
		costs:     g.costs,
		auditor:   g.auditor,
		provider:  provider,
		model:     model,
		sessionID: sessionID,
	}
}

// WrapShared wraps a client that serves every tutoring session for the
// process lifetime. The per-session token budget is left unlimited since it
// would otherwise run dry after enough sessions; the rate gate, daily
// budget, and cost ceiling still apply. Ollama passes through unwrapped.
func (g *Governor) WrapShared(inner llm.LLMClient, provider, model string) llm.LLMClient {
	if provider == "ollama" {
		return inner
	}
	return &GuardedClient{
		inner:     inner,
		gate:      g.gate,
		session:   NewTokenBudget("shared", 0),
		daily:     g.daily,
		costs:     g.costs,
		auditor:   g.auditor,
		provider:  provider,
		model:     model,
		sessionID: "shared",
	}
}

// Secrets returns the shared secret manager for client construction.
func (g *Governor) Secrets() *SecretManager {
	return g.secrets
}

// CostEstimator returns the shared cost estimator for end-of-run reporting.
func (g *Governor) CostEstimator() *CostEstimator {
	return g.costs
}

// Summary returns the spend state for shutdown logging.
func (g *Governor) Summary() string {
	if r := g.daily.Remaining(); r >= 0 {
		return fmt.Sprintf("%s; %d daily tokens remaining", g.costs.Summary(), r)
	}
	return g.costs.Summary()
}

// =============================================================================
// GuardedClient
// =============================================================================

// GuardedClient is an llm.LLMClient decorator that runs the governor's
// pre-flight checks before each call and records auditing afterward.
//
// Description:
//
//	Pre-flight order: rate gate, session token budget, daily token
//	budget, cost ceiling. A failed check returns the matching sentinel
//	error without touching the inner client. Token counts are estimated
//	from payload length since chat responses carry no usage metadata.
//
// Thread Safety: Safe for concurrent use.
type GuardedClient struct {
	inner     llm.LLMClient
	gate      *RateGate
	session   *TokenBudget
	daily     *DailyBudget
	costs     *CostEstimator
	auditor   *Auditor
	provider  string
	model     string
	sessionID string
}

// Generate sends a single-shot prompt through the governor's checks.
func (c *GuardedClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return c.guarded(ctx, "egress.GuardedClient.Generate", prompt,
		func(ctx context.Context) (string, error) {
			return c.inner.Generate(ctx, prompt, params)
		})
}

// Chat sends a conversation through the governor's checks.
func (c *GuardedClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return c.guarded(ctx, "egress.GuardedClient.Chat", serializeMessages(messages),
		func(ctx context.Context) (string, error) {
			return c.inner.Chat(ctx, messages, params)
		})
}

// guarded is the shared check-call-record path for both client methods.
func (c *GuardedClient) guarded(ctx context.Context, spanName, payload string,
	call func(context.Context) (string, error)) (string, error) {

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := egressTracer.Start(ctx, spanName,
		oteltrace.WithAttributes(
			attribute.String("provider", c.provider),
			attribute.String("model", c.model),
			attribute.String("session_id", c.sessionID),
		),
	)
	defer span.End()

	requestID := uuid.New().String()
	decision := NewDecision(requestID, c.sessionID, c.provider, c.model)
	start := time.Now()

	if blocked, blockedBy, reason := c.preFlight(decision, payload); blocked {
		decision.DurationMs = time.Since(start).Milliseconds()
		c.auditor.LogBlocked(ctx, decision)
		recordBlocked(c.provider, blockedBy)
		span.SetAttributes(attribute.String("blocked_by", blockedBy))
		span.SetStatus(codes.Error, reason)
		return "", fmt.Errorf("%s: %w", reason, sentinelFor(blockedBy))
	}

	decision.Allowed = true
	c.auditor.LogBefore(ctx, decision)

	resp, err := call(ctx)

	callDuration := time.Since(start)
	inputTokens := decision.EstimatedTokens
	outputTokens := len(resp) / 4

	costCents := c.costs.Record(c.provider, c.model, inputTokens, outputTokens)
	c.session.Record(inputTokens + outputTokens)
	c.daily.Record(inputTokens + outputTokens)
	recordAllowed(c.provider, inputTokens, outputTokens, callDuration.Seconds(), costCents)
	c.auditor.LogAfter(ctx, requestID, c.provider, c.model,
		inputTokens, outputTokens, callDuration.Milliseconds(), costCents, err)

	if err != nil {
		recordFailure(c.provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// preFlight runs the check sequence. Returns (blocked, blockerName, reason);
// blocked=false means every check passed.
func (c *GuardedClient) preFlight(decision *Decision, payload string) (bool, string, string) {
	if ok, retryAfter := c.gate.Allow(); !ok {
		reason := fmt.Sprintf("rate limit exceeded, retry after %v", retryAfter)
		decision.BlockedBy = "rate_limit"
		decision.BlockReason = reason
		return true, "rate_limit", reason
	}

	decision.ContentHash = HashContent([]byte(payload))

	// Rough estimate: 1 token per 4 bytes, floor of 100 so tiny payloads
	// still count against the budgets.
	estimated := len(payload) / 4
	if estimated < 100 {
		estimated = 100
	}
	decision.EstimatedTokens = estimated

	if ok, remaining := c.session.CanSpend(estimated); !ok {
		reason := fmt.Sprintf("session token budget exhausted, %d remaining, need %d", remaining, estimated)
		decision.BlockedBy = "session_budget"
		decision.BlockReason = reason
		return true, "session_budget", reason
	}

	if ok, remaining := c.daily.CanSpend(estimated); !ok {
		reason := fmt.Sprintf("daily token budget exhausted, %d remaining, need %d", remaining, estimated)
		decision.BlockedBy = "daily_budget"
		decision.BlockReason = reason
		return true, "daily_budget", reason
	}

	estimatedOutput := estimated / 2
	ok, cents := c.costs.CanAfford(c.provider, c.model, estimated, estimatedOutput)
	decision.EstimatedCostCents = cents
	if !ok {
		reason := fmt.Sprintf("cost limit would be exceeded, estimated %.2f cents", cents)
		decision.BlockedBy = "cost"
		decision.BlockReason = reason
		return true, "cost", reason
	}

	return false, "", ""
}

// sentinelFor maps a blocker name to its sentinel error.
func sentinelFor(blockedBy string) error {
	switch blockedBy {
	case "rate_limit":
		return ErrRateLimited
	case "session_budget":
		return ErrSessionBudgetExhausted
	case "daily_budget":
		return ErrDailyBudgetExhausted
	case "cost":
		return ErrCostLimitReached
	default:
		return ErrRateLimited
	}
}

// serializeMessages flattens a conversation for hashing and token
// estimation. Returns an empty string for empty conversations.
func serializeMessages(messages []llm.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
