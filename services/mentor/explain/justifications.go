// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded justification table
// =============================================================================

//go:embed justifications.yaml
var justificationsYAML []byte

// topicNotes is the per-category enrichment block.
type topicNotes struct {
	KeyConcepts     []string `yaml:"key_concepts"`
	CommonMistakes  []string `yaml:"common_mistakes"`
	RelatedProblems []string `yaml:"related_problems"`
	Encouragement   string   `yaml:"encouragement"`
}

// justificationTable is the Explainer's complete canned vocabulary: one
// prose justification per solver operation, display phrases for strategies
// and verification methods, and topic enrichment.
//
// Immutable after load; safe for concurrent use.
type justificationTable struct {
	Operations           map[string]string     `yaml:"operations"`
	Strategies           map[string]string     `yaml:"strategies"`
	Methods              map[string]string     `yaml:"methods"`
	Topics               map[string]topicNotes `yaml:"topics"`
	DefaultEncouragement string                `yaml:"default_encouragement"`
}

var (
	cachedTable *justificationTable
	tableOnce   sync.Once
	tableErr    error
)

// loadJustifications parses and caches the embedded table. The cached result
// is returned on subsequent calls.
func loadJustifications() (*justificationTable, error) {
	tableOnce.Do(func() {
		var tab justificationTable
		if err := yaml.Unmarshal(justificationsYAML, &tab); err != nil {
			tableErr = fmt.Errorf("parsing justifications.yaml: %w", err)
			return
		}
		cachedTable = &tab
		slog.Debug("justification table loaded",
			"operations", len(tab.Operations),
			"topics", len(tab.Topics),
		)
	})
	return cachedTable, tableErr
}

// mustJustifications loads the table or returns an empty one. An empty table
// sends every operation down the phrasing fallback, so a broken embed
// degrades the prose rather than the pipeline.
func mustJustifications() *justificationTable {
	tab, err := loadJustifications()
	if err != nil {
		slog.Warn("justification table failed to load, phrasing everything",
			"error", err.Error(),
		)
		return &justificationTable{}
	}
	return tab
}
