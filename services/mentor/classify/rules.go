// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// =============================================================================
// Embedded Keyword Rules
// =============================================================================

//go:embed rules.yaml
var rulesYAML []byte

// keywordRule is one compiled classification signal: a pattern over the
// canonical problem text plus the category it indicates.
type keywordRule struct {
	name       string
	re         *regexp.Regexp
	category   problem.Category
	confidence float64
}

type ruleSpec struct {
	Name       string  `yaml:"name"`
	Pattern    string  `yaml:"pattern"`
	Category   string  `yaml:"category"`
	Confidence float64 `yaml:"confidence"`
}

type ruleFile struct {
	AmbiguityPenalty float64    `yaml:"ambiguity_penalty"`
	Rules            []ruleSpec `yaml:"rules"`
}

var (
	cachedRules   []keywordRule
	cachedPenalty float64
	rulesOnce     sync.Once
	rulesErr      error
)

// loadKeywordRules parses and compiles the embedded rule table, caching the
// result. The table ships inside the binary, so a load failure is a build
// defect and callers should fail construction rather than degrade.
//
// Thread Safety: Safe for concurrent use (uses sync.Once internally).
func loadKeywordRules() ([]keywordRule, float64, error) {
	rulesOnce.Do(func() {
		var rf ruleFile
		if err := yaml.Unmarshal(rulesYAML, &rf); err != nil {
			rulesErr = fmt.Errorf("parsing rules.yaml: %w", err)
			return
		}
		if len(rf.Rules) == 0 {
			rulesErr = fmt.Errorf("rules.yaml declares no rules")
			return
		}
		if rf.AmbiguityPenalty < 0 || rf.AmbiguityPenalty >= 1 {
			rulesErr = fmt.Errorf("rules.yaml ambiguity_penalty %.2f outside [0,1)", rf.AmbiguityPenalty)
			return
		}

		compiled := make([]keywordRule, 0, len(rf.Rules))
		for _, spec := range rf.Rules {
			cat := problem.Category(spec.Category)
			if !cat.IsValid() || cat == problem.CategoryUnknown {
				rulesErr = fmt.Errorf("rule %q names invalid category %q", spec.Name, spec.Category)
				return
			}
			if spec.Confidence <= 0 || spec.Confidence > 1 {
				rulesErr = fmt.Errorf("rule %q confidence %.2f outside (0,1]", spec.Name, spec.Confidence)
				return
			}
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				rulesErr = fmt.Errorf("rule %q pattern: %w", spec.Name, err)
				return
			}
			compiled = append(compiled, keywordRule{
				name:       spec.Name,
				re:         re,
				category:   cat,
				confidence: spec.Confidence,
			})
		}

		cachedRules = compiled
		cachedPenalty = rf.AmbiguityPenalty
	})
	return cachedRules, cachedPenalty, rulesErr
}
