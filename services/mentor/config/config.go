// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates MathMentor service configuration.
// Compiled-in defaults ship via go:embed; a mounted YAML file overlays
// them field by field, and the watcher re-applies the overlay on change.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var validate = validator.New()

// =============================================================================
// Sections
// =============================================================================

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host                 string `yaml:"host" validate:"required"`
	Port                 int    `yaml:"port" validate:"gte=1,lte=65535"`
	ReadTimeoutSeconds   int    `yaml:"read_timeout_seconds" validate:"gte=1"`
	WriteTimeoutSeconds  int    `yaml:"write_timeout_seconds" validate:"gte=1"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds" validate:"gte=0"`
}

// PipelineConfig holds the state machine's decision constants. The three
// confidence values are deliberately conservative: a wrong solution
// delivered confidently is worse than an unnecessary escalation.
type PipelineConfig struct {
	// AcceptThreshold is the minimum verification confidence for ACCEPTED.
	AcceptThreshold float64 `yaml:"accept_threshold" validate:"gt=0,lte=1"`

	// ClassifierFloor is the minimum classification confidence to proceed
	// without clarification.
	ClassifierFloor float64 `yaml:"classifier_floor" validate:"gte=0,lte=1"`

	// ClarifyConfidence is assigned to parses rebuilt from a clarification
	// answer, keeping downstream confidence arithmetic honest about how the
	// interpretation was obtained.
	ClarifyConfidence float64 `yaml:"clarify_confidence" validate:"gte=0,lte=1"`

	// MaxRetries bounds solve attempts per problem across strategies.
	MaxRetries int `yaml:"max_retries" validate:"gte=1,lte=10"`

	// MaxEscalationRounds bounds clarification round trips before the
	// pipeline abandons the problem.
	MaxEscalationRounds int `yaml:"max_escalation_rounds" validate:"gte=0,lte=5"`

	// StepTimeoutSeconds bounds any single stage execution.
	StepTimeoutSeconds int `yaml:"step_timeout_seconds" validate:"gte=1"`
}

// SolverConfig holds numeric method parameters for the solving side.
type SolverConfig struct {
	ResidualTolerance       float64 `yaml:"residual_tolerance" validate:"gt=0"`
	IntegrationSubdivisions int     `yaml:"integration_subdivisions" validate:"gte=16"`
	RootScanWindow          float64 `yaml:"root_scan_window" validate:"gt=0"`
	RootScanSamples         int     `yaml:"root_scan_samples" validate:"gte=64"`
	MonteCarloSamples       int     `yaml:"monte_carlo_samples" validate:"gte=1000"`
	MonteCarloSeed          int64   `yaml:"monte_carlo_seed"`
}

// VerifierConfig holds the checking side's parameters. The verifier's
// quadrature node count is independent of the solver's subdivision count so
// the two computations never share a discretization.
type VerifierConfig struct {
	ResidualTolerance    float64 `yaml:"residual_tolerance" validate:"gt=0"`
	QuadratureTolerance  float64 `yaml:"quadrature_tolerance" validate:"gt=0"`
	QuadratureNodes      int     `yaml:"quadrature_nodes" validate:"gte=8"`
	ProbabilityPass      float64 `yaml:"probability_pass" validate:"gt=0,lte=1"`
	ProbabilitySoft      float64 `yaml:"probability_soft" validate:"gt=0,lte=1"`
	LLMConfidenceCeiling float64 `yaml:"llm_confidence_ceiling" validate:"gt=0,lte=1"`
	FiniteDifferenceStep float64 `yaml:"finite_difference_step" validate:"gt=0"`
}

// ClassifierConfig controls the rule-then-LLM classification ladder.
type ClassifierConfig struct {
	LLMFallback          bool    `yaml:"llm_fallback"`
	LLMConfidenceCeiling float64 `yaml:"llm_confidence_ceiling" validate:"gte=0,lte=1"`
}

// ReasoningConfig selects and bounds the external reasoning capability.
type ReasoningConfig struct {
	Provider       string  `yaml:"provider" validate:"required,oneof=anthropic openai gemini ollama"`
	Model          string  `yaml:"model" validate:"required"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gte=1,lte=600"`
	MaxTokens      int     `yaml:"max_tokens" validate:"gte=256"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxAttempts    int     `yaml:"max_attempts" validate:"gte=1,lte=5"`
}

// EgressConfig bounds outbound provider traffic. CostLimitCents of 0 tracks
// spend without enforcing a ceiling.
type EgressConfig struct {
	RequestsPerMinute  int     `yaml:"requests_per_minute" validate:"gte=1"`
	Burst              int     `yaml:"burst" validate:"gte=1"`
	SessionTokenBudget int     `yaml:"session_token_budget" validate:"gte=0"`
	DailyTokenBudget   int     `yaml:"daily_token_budget" validate:"gte=0"`
	CostLimitCents     float64 `yaml:"cost_limit_cents" validate:"gte=0"`
	AuditEnabled       bool    `yaml:"audit_enabled"`
	AuditHashContent   bool    `yaml:"audit_hash_content"`
}

// WeaviateConfig points at the optional vector store.
type WeaviateConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Scheme    string `yaml:"scheme"`
	Host      string `yaml:"host"`
	ClassName string `yaml:"class_name"`
}

// InfluxConfig points at the optional analytics sink.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// GCSConfig points at the optional interaction archive bucket. When
// CredentialsFile is empty the client falls back to application default
// credentials.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// EmbeddingConfig points at the local Ollama model that vectorizes problem
// text for semantic retrieval. Only consulted when Weaviate is enabled.
type EmbeddingConfig struct {
	ServerURL string `yaml:"server_url"`
	Model     string `yaml:"model"`
}

// MemoryConfig controls local persistence and the optional remote sinks.
type MemoryConfig struct {
	DataDir        string          `yaml:"data_dir" validate:"required"`
	CacheTTLHours  int             `yaml:"cache_ttl_hours" validate:"gte=1"`
	ArchiveEnabled bool            `yaml:"archive_enabled"`
	Weaviate       WeaviateConfig  `yaml:"weaviate"`
	Embedding      EmbeddingConfig `yaml:"embedding"`
	Influx         InfluxConfig    `yaml:"influx"`
	GCS            GCSConfig       `yaml:"gcs"`
}

// Config is the full service configuration tree.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Solver     SolverConfig     `yaml:"solver"`
	Verifier   VerifierConfig   `yaml:"verifier"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Egress     EgressConfig     `yaml:"egress"`
	Memory     MemoryConfig     `yaml:"memory"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the compiled-in configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("embedded defaults invalid: %w", err)
	}
	return &cfg, nil
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s invalid: %w", path, err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on error, for main() wiring.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate runs tag validation plus the cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	p := c.Pipeline
	if p.ClarifyConfidence >= p.ClassifierFloor {
		return fmt.Errorf("pipeline.clarify_confidence (%.2f) must be below pipeline.classifier_floor (%.2f)",
			p.ClarifyConfidence, p.ClassifierFloor)
	}
	if p.ClassifierFloor >= p.AcceptThreshold {
		return fmt.Errorf("pipeline.classifier_floor (%.2f) must be below pipeline.accept_threshold (%.2f)",
			p.ClassifierFloor, p.AcceptThreshold)
	}
	if c.Verifier.ProbabilitySoft >= c.Verifier.ProbabilityPass {
		return fmt.Errorf("verifier.probability_soft (%.2f) must be below verifier.probability_pass (%.2f)",
			c.Verifier.ProbabilitySoft, c.Verifier.ProbabilityPass)
	}
	if c.Egress.Burst > c.Egress.RequestsPerMinute {
		return fmt.Errorf("egress.burst (%d) must not exceed egress.requests_per_minute (%d)",
			c.Egress.Burst, c.Egress.RequestsPerMinute)
	}
	return nil
}

// =============================================================================
// Duration helpers
// =============================================================================

// ReadTimeout returns the server read timeout.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server write timeout.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ShutdownGrace returns the drain window allowed on shutdown.
func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StepTimeout returns the per-stage execution bound.
func (p PipelineConfig) StepTimeout() time.Duration {
	return time.Duration(p.StepTimeoutSeconds) * time.Second
}

// Timeout returns the reasoning call deadline.
func (r ReasoningConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// CacheTTL returns the local cache entry lifetime.
func (m MemoryConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLHours) * time.Hour
}
