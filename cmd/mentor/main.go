// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mentor starts the Math Mentor API server.
//
// Math Mentor turns raw problem text into verified, student-readable
// explanations:
//   - Deterministic solvers and verifiers for algebra, calculus,
//     probability, and word problems
//   - LLM escalation rungs for classification, solving, and explanation
//     when the deterministic path runs out
//   - Human-in-the-loop clarification with suspended sessions that
//     survive restarts
//   - Websocket event streams for live session progress
//
// Usage:
//
//	go run ./cmd/mentor
//	go run ./cmd/mentor -port 9090
//	go run ./cmd/mentor -config /etc/mentor/config.yaml -debug
//
// With a reasoning provider (for the escalation rungs):
//
//	ANTHROPIC_API_KEY=sk-... go run ./cmd/mentor
//
// With a local model instead:
//
//	OLLAMA_HOST=http://localhost:11434 go run ./cmd/mentor \
//	  -config config/ollama.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8095/v1/mentor/health
//
//	# Solve a problem
//	curl -X POST http://localhost:8095/v1/mentor/solve \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "Solve 2x + 3 = 7 for x."}'
//
//	# Answer a clarification request
//	curl -X POST http://localhost:8095/v1/mentor/clarify \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "<id>", "chosen_interpretation": "<candidate>"}'
//
//	# Inspect a session
//	curl http://localhost:8095/v1/mentor/session/<id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/mentor"
	"github.com/AleutianAI/MathMentor/services/mentor/archive"
	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/memory"
	"github.com/AleutianAI/MathMentor/services/mentor/pipeline"
	badgerstore "github.com/AleutianAI/MathMentor/services/mentor/storage/badger"
	"github.com/AleutianAI/MathMentor/services/mentor/telemetry"
)

// IsWarmupComplete checks if the reasoning provider probe has finished.
// Delegates to the mentor package's warmup registry.
//
// Thread Safety: This function is safe for concurrent use.
func IsWarmupComplete() bool {
	return mentor.IsWarmupComplete()
}

// markWarmupComplete marks the warmup as complete.
// Delegates to the mentor package's warmup registry.
//
// Thread Safety: This function is safe for concurrent use.
func markWarmupComplete() {
	mentor.MarkWarmupComplete()
}

// WarmupGuardMiddleware returns 503 Service Unavailable for pipeline
// endpoints until the reasoning provider probe has finished.
//
// Description:
//
//	Protects the solve and clarify paths from landing on a provider that
//	is still loading its model. Without the guard, early requests would
//	burn their LLM escalation rungs on cold-start errors and fall back to
//	deterministic-only answers for problems that needed reasoning.
//
// Behavior:
//
//   - Returns 503 with a Retry-After header while warmup is in progress
//   - Creates an OTel span for rejected requests with trace context from
//     headers
//   - Passes through once warmup is complete
//   - Session inspection and health endpoints are registered outside the
//     guard and are never affected
//
// Thread Safety: This middleware is safe for concurrent use.
func WarmupGuardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsWarmupComplete() {
			ctx := c.Request.Context()
			_, span := otel.Tracer("mentor.server").Start(ctx, "warmup_guard.reject",
				oteltrace.WithAttributes(
					attribute.String("path", c.Request.URL.Path),
					attribute.String("method", c.Request.Method),
					attribute.Int("http.status_code", http.StatusServiceUnavailable),
				),
			)
			defer span.End()

			spanCtx := span.SpanContext()
			traceID := ""
			if spanCtx.HasTraceID() {
				traceID = spanCtx.TraceID().String()
			}

			slog.Warn("Pipeline request rejected: reasoning warmup in progress",
				slog.String("path", c.Request.URL.Path),
				slog.String("method", c.Request.Method),
				slog.String("trace_id", traceID))

			span.SetStatus(codes.Error, "service unavailable during warmup")

			c.Header("Retry-After", "30")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    "Reasoning warmup in progress",
				"code":     "SERVICE_WARMING_UP",
				"message":  "The reasoning provider is still loading. Please retry in 30 seconds.",
				"trace_id": traceID,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func main() {
	port := flag.Int("port", 0, "Port to listen on (0 uses the configured port)")
	configPath := flag.String("config", "", "Path to a YAML config overlay")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Telemetry degrades rather than blocking startup: a missing collector
	// costs spans, not tutoring.
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Warn("Telemetry init failed, continuing without exporters",
			slog.String("error", err.Error()))
		telemetryShutdown = func(context.Context) error { return nil }
	}

	// W3C TraceContext flows from incoming headers through every handler
	// and middleware, including WarmupGuardMiddleware.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration",
			slog.String("path", *configPath),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	// Open the session and interaction store. Graceful degradation: if
	// unavailable, suspended sessions and the example memory live in
	// process memory only.
	dataDir := os.Getenv("MENTOR_DATA_DIR")
	if dataDir == "" {
		dataDir = cfg.Memory.DataDir
	}
	var db *badgerstore.DB
	if dataDir != "" {
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = dataDir
		opened, err := badgerstore.OpenDB(bcfg)
		if err != nil {
			slog.Warn("BadgerDB unavailable, session persistence disabled",
				slog.String("path", dataDir),
				slog.String("error", err.Error()))
		} else {
			db = opened
			slog.Info("BadgerDB opened", slog.String("path", dataDir))
		}
	}

	var suspended *pipeline.SuspendedStore
	var interactions *memory.InteractionStore
	if db != nil {
		suspended = pipeline.NewSuspendedStore(db, 0, slog.Default())
		ttl := time.Duration(cfg.Memory.CacheTTLHours) * time.Hour
		interactions = memory.NewInteractionStore(db, ttl, slog.Default())
	}

	// Optional semantic channel for example recall.
	var vectors *memory.VectorStore
	if cfg.Memory.Weaviate.Enabled {
		embed, err := memory.NewOllamaEmbedder(cfg.Memory.Embedding.ServerURL,
			cfg.Memory.Embedding.Model, slog.Default())
		if err != nil {
			slog.Warn("Embedder unavailable, semantic recall disabled",
				slog.String("error", err.Error()))
		} else {
			vectors, err = memory.NewVectorStore(cfg.Memory.Weaviate, embed, slog.Default())
			if err != nil {
				slog.Warn("Weaviate unavailable, semantic recall disabled",
					slog.String("host", cfg.Memory.Weaviate.Host),
					slog.String("error", err.Error()))
				vectors = nil
			}
			if vectors != nil {
				schemaCtx, schemaCancel := context.WithTimeout(ctx, 15*time.Second)
				if err := vectors.EnsureSchema(schemaCtx); err != nil {
					slog.Warn("Weaviate schema setup failed, semantic recall disabled",
						slog.String("host", cfg.Memory.Weaviate.Host),
						slog.String("error", err.Error()))
					vectors = nil
				}
				schemaCancel()
			}
		}
	}

	// The recaller only joins the pipeline when the archive is on and the
	// store opened; a nil interface keeps the driver's memory hooks off.
	var exampleMemory pipeline.ExampleMemory
	if cfg.Memory.ArchiveEnabled && interactions != nil {
		rec := memory.NewRecaller(interactions, vectors, memory.DefaultRecallerConfig(), slog.Default())
		loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := rec.Load(loadCtx); err != nil {
			slog.Warn("Example memory load failed, starting with an empty index",
				slog.String("error", err.Error()))
		} else {
			slog.Info("Example memory loaded", slog.Int("examples", rec.Len()))
		}
		loadCancel()
		exampleMemory = rec
	}

	analytics := memory.NewAnalyticsRecorder(cfg.Memory.Influx, slog.Default())

	var archiver *archive.Uploader
	if cfg.Memory.GCS.Enabled {
		archiver, err = archive.NewUploader(ctx, cfg.Memory.GCS, slog.Default())
		if err != nil {
			slog.Warn("GCS archive unavailable, failed-session upload disabled",
				slog.String("bucket", cfg.Memory.GCS.Bucket),
				slog.String("error", err.Error()))
			archiver = nil
		}
	}

	// The reasoning provider is optional. Without it the pipeline still
	// solves everything its deterministic rungs cover.
	var client llm.LLMClient
	raw, err := llm.NewClient(cfg.Reasoning.Provider, cfg.Reasoning.Model)
	if err != nil {
		slog.Warn("Reasoning provider not available",
			slog.String("provider", cfg.Reasoning.Provider),
			slog.String("error", err.Error()))
		slog.Info("Pipeline will run deterministic rungs only")
	} else {
		client = raw
		slog.Info("Reasoning provider connected",
			slog.String("provider", cfg.Reasoning.Provider),
			slog.String("model", cfg.Reasoning.Model))
	}

	svc, err := mentor.NewService(cfg, mentor.Dependencies{
		Client:    client,
		Suspended: suspended,
		Memory:    exampleMemory,
		Analytics: analytics,
		Archiver:  archiver,
		Logger:    slog.Default(),
	})
	if err != nil {
		slog.Error("Failed to build service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := mentor.HandlersFor(svc)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	// Extract trace context from W3C TraceContext headers (traceparent,
	// tracestate) and propagate it through the request context.
	router.Use(otelgin.Middleware("math-mentor"))
	if *debug {
		router.Use(gin.Logger())
	}

	// Register routes under /v1/mentor; the warmup guard covers only the
	// pipeline operations.
	v1 := router.Group("/v1")
	mentor.RegisterRoutesWithMiddleware(v1, handlers, WarmupGuardMiddleware())

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	startWarmup(client, cfg.Reasoning.Provider, cfg.Reasoning.Model)

	// Print startup banner
	printBanner(cfg.Server.Port, client != nil, cfg.Reasoning.Provider, cfg.Reasoning.Model)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Math Mentor server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server shutdown incomplete", slog.String("error", err.Error()))
		}

		slog.Info("Egress summary", slog.String("summary", svc.Governor().Summary()))

		analytics.Close()
		if archiver != nil {
			if err := archiver.Close(); err != nil {
				slog.Warn("Failed to close GCS archiver", slog.String("error", err.Error()))
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				slog.Warn("Failed to close BadgerDB", slog.String("error", err.Error()))
			}
		}
		if err := telemetryShutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown incomplete", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	// Start server
	slog.Info("Starting Math Mentor server", slog.String("address", cfg.Server.Addr()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// startWarmup probes the reasoning provider in the background and releases
// the warmup guard when the probe finishes, succeeds or not.
//
// A nil client releases the guard immediately: the deterministic rungs need
// no warmup.
func startWarmup(client llm.LLMClient, provider, model string) {
	if client == nil {
		markWarmupComplete()
		return
	}

	slog.Info("Server starting, reasoning warmup in progress...",
		slog.String("provider", provider),
		slog.String("model", model))

	go func() {
		// Panic recovery ensures markWarmupComplete is always called.
		// Without this, a panic in the provider client or HTTP transport
		// would leave the server permanently returning 503.
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("Panic in warmup goroutine recovered",
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
				markWarmupComplete()
			}
		}()

		warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer warmupCancel()

		startTime := time.Now()
		if err := probeReasoningModel(warmupCtx, client, model); err != nil {
			slog.Warn("Reasoning probe failed, escalation rungs may fail until the provider recovers",
				slog.String("provider", provider),
				slog.String("model", model),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(startTime)))
		} else {
			slog.Info("Reasoning warmup completed",
				slog.String("provider", provider),
				slog.String("model", model),
				slog.Duration("duration", time.Since(startTime)))
		}

		markWarmupComplete()
		slog.Info("Server ready to accept pipeline requests",
			slog.String("provider", provider),
			slog.String("model", model))
	}()
}

// probeReasoningModel sends a minimal request to verify the provider is
// reachable and the model answers.
//
// Description:
//
//	For a local Ollama provider the request also forces the model into
//	VRAM, so the first real escalation does not pay the cold-start cost.
//	For cloud providers it doubles as an auth check.
//
// Inputs:
//
//	ctx - Context for cancellation/timeout. Should carry a 60-120s timeout.
//	client - The reasoning client to probe.
//	model - The configured model name, for span attribution.
//
// Outputs:
//
//	error - Non-nil if the probe fails. Caller should log and continue;
//	probe failure is non-fatal.
//
// Thread Safety: This function is safe for concurrent use.
func probeReasoningModel(ctx context.Context, client llm.LLMClient, model string) error {
	if model == "" {
		return fmt.Errorf("model must not be empty")
	}

	ctx, span := otel.Tracer("mentor.server").Start(ctx, "probeReasoningModel",
		oteltrace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	maxTokens := 16
	temperature := float32(0)
	resp, err := client.Chat(ctx, []llm.Message{
		{Role: "user", Content: "Reply with the single word ready."},
	}, llm.GenerationParams{
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("probe request: %w", err)
	}
	if strings.TrimSpace(resp) == "" {
		span.SetStatus(codes.Error, "empty response")
		return fmt.Errorf("provider returned an empty response")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func printBanner(port int, reasoningEnabled bool, provider, model string) {
	reasoningStatus := "DISABLED (deterministic rungs only)"
	if reasoningEnabled {
		reasoningStatus = fmt.Sprintf("ENABLED (%s %s)", provider, model)
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                        MATH MENTOR SERVER                         ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Verified math tutoring: deterministic solvers, LLM escalation,   ║
║  and human-in-the-loop clarification.                             ║
║  Reasoning: %-52s  ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%-5d/v1/mentor/health                 │  ║
║  │                                                             │  ║
║  │ # Solve a problem                                           │  ║
║  │ curl -X POST http://localhost:%-5d/v1/mentor/solve \        │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"text": "Solve 2x + 3 = 7 for x."}'                  │  ║
║  │                                                             │  ║
║  │ # Inspect a session                                         │  ║
║  │ curl http://localhost:%-5d/v1/mentor/session/<id>           │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Pipeline: /solve, /clarify, /abort, /feedback                ║
║  ├── Sessions: /session/:id, /sessions, /events/:id (websocket)   ║
║  └── Ops: /health, /ready, /metrics (server root)                 ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, reasoningStatus, port, port, port)
}
