// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mentor provides the Math Mentor HTTP service.
//
// The service exposes endpoints for:
//   - Submitting math problems and running them through the tutoring pipeline
//   - Resuming suspended sessions with reviewer clarifications
//   - Inspecting session state and audit history
//   - Attaching feedback to finished sessions
//   - Streaming session events over a websocket
package mentor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor/archive"
	"github.com/AleutianAI/MathMentor/services/mentor/classify"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/egress"
	"github.com/AleutianAI/MathMentor/services/mentor/events"
	"github.com/AleutianAI/MathMentor/services/mentor/explain"
	"github.com/AleutianAI/MathMentor/services/mentor/memory"
	"github.com/AleutianAI/MathMentor/services/mentor/normalize"
	"github.com/AleutianAI/MathMentor/services/mentor/pipeline"
	"github.com/AleutianAI/MathMentor/services/mentor/route"
	"github.com/AleutianAI/MathMentor/services/mentor/solve"
	"github.com/AleutianAI/MathMentor/services/mentor/verify"
)

// Dependencies carries the externally constructed collaborators for the
// service. Every field is optional; the service degrades rather than fail
// when one is missing.
type Dependencies struct {
	// Client is the raw reasoning client. Nil disables the reasoning rungs
	// of the classifier, solver, verifier, and explainer ladders.
	Client llm.LLMClient

	// Suspended persists escalated sessions across restarts. Nil keeps
	// suspensions in process memory only.
	Suspended *pipeline.SuspendedStore

	// Memory recalls worked examples and archives finished interactions.
	// Pass only a non-nil implementation.
	Memory pipeline.ExampleMemory

	// Analytics records interaction metrics. The recorder's methods accept
	// a nil receiver, so this may be passed through unconditionally.
	Analytics *memory.AnalyticsRecorder

	// Archiver uploads abandoned and failed session bundles. Nil disables
	// archival.
	Archiver *archive.Uploader

	// MaxConcurrentSessions caps simultaneous pipeline runs. Zero means
	// unlimited.
	MaxConcurrentSessions int

	// Logger is the structured logger. Nil falls back to slog.Default().
	Logger *slog.Logger
}

// Service is the Math Mentor service.
//
// Description:
//
//	The service assembles the six pipeline stages from configuration,
//	wraps the reasoning client in the egress governor, and owns the
//	driver and event emitter the handlers talk to.
//
// Thread Safety: Safe for concurrent use. All state lives in the driver
// and emitter, which are concurrent-safe.
type Service struct {
	cfg      *config.Config
	driver   *pipeline.Driver
	emitter  *events.Emitter
	governor *egress.Governor

	hasReasoning bool
	hasMemory    bool

	log *slog.Logger
}

// NewService assembles the tutoring pipeline behind an HTTP-facing service.
//
// Description:
//
//	Builds the stage chain: normalizer, rule classifier (with the
//	reasoning fallback when configured), router, solver, verifier
//	cross-checking through the solver, and explainer. The reasoning
//	client is wrapped in the egress governor before any stage sees it.
//
// Inputs:
//
//	cfg - The validated service configuration. Must not be nil.
//	deps - Externally constructed collaborators. All fields optional.
//
// Outputs:
//
//	*Service - The ready service.
//	error - Non-nil when cfg is nil or a stage fails to build.
//
// Thread Safety: The returned service is safe for concurrent use.
func NewService(cfg *config.Config, deps Dependencies) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("mentor: nil config")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	governor := egress.NewGovernor(cfg.Egress, log)
	client := deps.Client
	if client != nil {
		client = governor.WrapShared(client, cfg.Reasoning.Provider, cfg.Reasoning.Model)
	}

	rules, err := classify.NewRuleClassifier(log)
	if err != nil {
		return nil, err
	}
	var classifier pipeline.Classifier = rules
	if cfg.Classifier.LLMFallback && client != nil {
		classifier = classify.NewEscalatingClassifier(rules, client,
			cfg.Pipeline.ClassifierFloor, cfg.Classifier.LLMConfidenceCeiling,
			cfg.Reasoning.Timeout(), log)
	}

	solver := solve.NewSolver(cfg.Solver, cfg.Reasoning, client, log)
	stages := pipeline.Stages{
		Normalizer: normalize.New(log),
		Classifier: classifier,
		Router:     route.NewRouter(log),
		Solver:     solver,
		Verifier:   verify.NewVerifier(cfg.Verifier, cfg.Reasoning, solver, client, log),
		Explainer:  explain.NewExplainer(cfg.Reasoning, client, log),
	}

	emitter := events.NewEmitter(events.WithLogger(log))
	opts := []pipeline.DriverOption{
		pipeline.WithEmitter(emitter),
		pipeline.WithLogger(log),
		pipeline.WithAnalytics(deps.Analytics),
	}
	if deps.Suspended != nil {
		opts = append(opts, pipeline.WithSuspendedStore(deps.Suspended))
	}
	if deps.Memory != nil {
		opts = append(opts, pipeline.WithMemory(deps.Memory))
	}
	if deps.Archiver != nil {
		opts = append(opts, pipeline.WithArchiver(deps.Archiver))
	}
	if deps.MaxConcurrentSessions > 0 {
		opts = append(opts, pipeline.WithMaxConcurrentSessions(deps.MaxConcurrentSessions))
	}

	driver, err := pipeline.NewDriver(cfg.Pipeline, stages, opts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:          cfg,
		driver:       driver,
		emitter:      emitter,
		governor:     governor,
		hasReasoning: client != nil,
		hasMemory:    deps.Memory != nil,
		log:          log,
	}, nil
}

// Loop returns the pipeline driver the handlers run sessions through.
func (s *Service) Loop() pipeline.Loop {
	return s.driver
}

// Events returns the emitter session events are published to.
func (s *Service) Events() *events.Emitter {
	return s.emitter
}

// Governor returns the egress governor, for shutdown spend reporting.
func (s *Service) Governor() *egress.Governor {
	return s.governor
}

// HasReasoning reports whether a reasoning client is configured.
func (s *Service) HasReasoning() bool {
	return s.hasReasoning
}

// HasMemory reports whether the interaction memory is configured.
func (s *Service) HasMemory() bool {
	return s.hasMemory
}

// SessionCount returns the number of known sessions, live and suspended.
func (s *Service) SessionCount(ctx context.Context) int {
	ids, err := s.driver.ListSessions(ctx)
	if err != nil {
		return 0
	}
	return len(ids)
}
