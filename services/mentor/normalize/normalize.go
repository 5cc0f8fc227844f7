// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize converts raw problem submissions into canonical
// ParsedProblem records: unicode math notation to ASCII, implicit
// multiplication made explicit, bound phrases unified, equations and
// constraints extracted and validated.
//
// The normalizer is deterministic and a fixed point on its own output:
// normalizing a canonical record's text reproduces the record. All hard
// input rejection happens here; later stages may escalate but never reject.
package normalize

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/MathMentor/services/mentor/problem"
	"github.com/AleutianAI/MathMentor/services/mentor/solve/expr"
)

// Normalizer canonicalizes raw text into ParsedProblem records.
//
// Thread Safety: stateless aside from the logger; safe for concurrent use.
type Normalizer struct {
	log *slog.Logger
}

// New returns a Normalizer. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{log: log}
}

// Normalize converts raw input into a canonical ParsedProblem.
//
// # Description
//
//	Runs the full canonicalization pipeline: notation replacement, hard
//	validation, intent rewriting (integral and derivative prose onto
//	canonical verbs), bound extraction, and equation/constraint capture.
//	Identical mathematical content in different notation yields an
//	identical record.
//
// # Inputs
//
//   - raw: the submission exactly as received.
//
// # Outputs
//
//   - problem.ParsedProblem: the canonical record, category unset.
//   - error: *problem.NormalizationError on structurally invalid input.
//
// Structural rejection covers empty input, unbalanced brackets, characters
// outside the vocabulary, text with no mathematical signal, and math
// segments that fail to parse. Everything else passes through for the
// classifier to judge.
func (nz *Normalizer) Normalize(raw string) (problem.ParsedProblem, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return problem.ParsedProblem{}, &problem.NormalizationError{
			Reason: "empty_input",
			Detail: "submission contains no text",
		}
	}

	text := strings.ToLower(trimmed)

	// Integral signs carry bounds in notation position, so they are decoded
	// before superscripts get rewritten into exponents.
	text, bounds := rewriteIntegralSigns(text)
	text = notationReplacer.Replace(text)

	if err := nz.validate(text); err != nil {
		return problem.ParsedProblem{}, err
	}

	text = reLnWord.ReplaceAllString(text, "log")
	text = reFuncParenGap.ReplaceAllString(text, "$1(")
	text = reFuncSpaceArg.ReplaceAllString(text, "$1($2)")
	text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))

	// Prose intent onto canonical verbs.
	text = reIntegralVerb.ReplaceAllString(text, "integrate")
	text = reDerivVerb.ReplaceAllString(text, "differentiate")
	var leibnizVar string
	if m := reDerivLeibniz.FindStringSubmatch(text); m != nil {
		leibnizVar = m[1]
		text = reDerivLeibniz.ReplaceAllString(text, "differentiate")
	}
	text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))

	if strings.Contains(text, "integrate") {
		if p, ok, err := nz.buildIntegral(raw, text, bounds); ok || err != nil {
			return p, err
		}
	}
	if strings.Contains(text, "differentiate") {
		if p, ok, err := nz.buildDerivative(raw, text, leibnizVar); ok || err != nil {
			return p, err
		}
	}
	return nz.buildGeneral(raw, text)
}

// =============================================================================
// Validation
// =============================================================================

func (nz *Normalizer) validate(text string) error {
	if bad := invalidCharPattern.FindAllString(text, -1); len(bad) > 0 {
		seen := map[string]bool{}
		var unique []string
		for _, c := range bad {
			if !seen[c] {
				seen[c] = true
				unique = append(unique, c)
			}
		}
		return &problem.NormalizationError{
			Reason: "invalid_symbols",
			Detail: fmt.Sprintf("unsupported characters: %s", strings.Join(unique, " ")),
		}
	}

	if err := checkBrackets(text); err != nil {
		return &problem.NormalizationError{
			Reason: "unbalanced_brackets",
			Detail: err.Error(),
		}
	}

	if !looksLikeMath(text) {
		return &problem.NormalizationError{
			Reason: "not_math",
			Detail: "no digits, operators, or mathematical vocabulary found",
		}
	}
	return nil
}

func checkBrackets(s string) error {
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var stack []byte
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return fmt.Errorf("unmatched %q at offset %d", string(c), i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", string(stack[len(stack)-1]))
	}
	return nil
}

func looksLikeMath(s string) bool {
	if strings.ContainsAny(s, "0123456789+*/^=<>") {
		return true
	}
	for _, kw := range mathKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// =============================================================================
// Integral and derivative intents
// =============================================================================

// rewriteIntegralSigns replaces every ∫ form with the canonical verb and
// captures attached bounds from the first sign that carries them.
func rewriteIntegralSigns(text string) (string, *problem.BoundPair) {
	var bounds *problem.BoundPair

	text = reIntSubSup.ReplaceAllStringFunc(text, func(m string) string {
		sub := reIntSubSup.FindStringSubmatch(m)
		if bounds == nil {
			bounds = &problem.BoundPair{
				Lower: decodeScriptDigits(sub[1], subscriptDigits),
				Upper: decodeScriptDigits(sub[2], superscriptDigits),
			}
		}
		return "integrate "
	})

	text = reIntAscii.ReplaceAllStringFunc(text, func(m string) string {
		sub := reIntAscii.FindStringSubmatch(m)
		if bounds == nil {
			bounds = &problem.BoundPair{Lower: sub[1], Upper: sub[2]}
		}
		return "integrate "
	})

	text = strings.ReplaceAll(text, "∫", "integrate ")
	return text, bounds
}

func decodeScriptDigits(s string, table map[rune]byte) string {
	var b strings.Builder
	for _, r := range s {
		if d, ok := table[r]; ok {
			b.WriteByte(d)
		}
	}
	return b.String()
}

func (nz *Normalizer) buildIntegral(raw, text string, bounds *problem.BoundPair) (problem.ParsedProblem, bool, error) {
	// Bound phrases anywhere in the sentence; notation-position bounds win.
	if bounds == nil {
		for _, re := range boundPhrases {
			if m := re.FindStringSubmatch(text); m != nil {
				bounds = &problem.BoundPair{Lower: m[1], Upper: m[2]}
				text = strings.Replace(text, m[0], " ", 1)
				text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))
				break
			}
		}
	}

	m := reIntegrate.FindStringSubmatch(text)
	if m == nil {
		return problem.ParsedProblem{}, false, nil
	}

	canon, node, err := canonicalizeExpression(stripFiller(m[1]))
	if err != nil {
		return problem.ParsedProblem{}, true, &problem.NormalizationError{
			Reason: "malformed_expression",
			Detail: fmt.Sprintf("integrand %q: %v", strings.TrimSpace(m[1]), err),
		}
	}

	vars := expr.Variables(node)
	intVar := m[2]
	if intVar == "" {
		if len(vars) == 1 {
			intVar = vars[0]
		} else {
			intVar = "x"
		}
	}

	if bounds != nil {
		lower, err := canonicalizeBound(bounds.Lower)
		if err != nil {
			return problem.ParsedProblem{}, true, &problem.NormalizationError{
				Reason: "malformed_expression",
				Detail: fmt.Sprintf("lower bound %q: %v", bounds.Lower, err),
			}
		}
		upper, err := canonicalizeBound(bounds.Upper)
		if err != nil {
			return problem.ParsedProblem{}, true, &problem.NormalizationError{
				Reason: "malformed_expression",
				Detail: fmt.Sprintf("upper bound %q: %v", bounds.Upper, err),
			}
		}
		bounds = &problem.BoundPair{Lower: lower, Upper: upper}
	}

	canonText := "integrate " + canon + " d" + intVar
	if bounds != nil {
		canonText += " from " + bounds.Lower + " to " + bounds.Upper
	}

	nz.log.Debug("normalized integral",
		"variable", intVar,
		"definite", bounds != nil,
	)

	return problem.ParsedProblem{
		RawText:   raw,
		Text:      canonText,
		Variables: vars,
		Equations: []string{canon},
		Bounds:    bounds,
		Metadata:  map[string]string{"integration_variable": intVar},
	}, true, nil
}

func (nz *Normalizer) buildDerivative(raw, text, leibnizVar string) (problem.ParsedProblem, bool, error) {
	m := reDifferentiate.FindStringSubmatch(text)
	if m == nil {
		return problem.ParsedProblem{}, false, nil
	}

	canon, node, err := canonicalizeExpression(stripFiller(m[1]))
	if err != nil {
		return problem.ParsedProblem{}, true, &problem.NormalizationError{
			Reason: "malformed_expression",
			Detail: fmt.Sprintf("expression %q: %v", strings.TrimSpace(m[1]), err),
		}
	}

	vars := expr.Variables(node)
	wrt := m[2]
	if wrt == "" {
		wrt = leibnizVar
	}
	if wrt == "" {
		if len(vars) == 1 {
			wrt = vars[0]
		} else {
			wrt = "x"
		}
	}

	nz.log.Debug("normalized derivative", "variable", wrt)

	return problem.ParsedProblem{
		RawText:   raw,
		Text:      "differentiate " + canon + " with respect to " + wrt,
		Variables: vars,
		Equations: []string{canon},
		Metadata:  map[string]string{"differentiation_variable": wrt},
	}, true, nil
}

// =============================================================================
// General equations, constraints, givens
// =============================================================================

func (nz *Normalizer) buildGeneral(raw, text string) (problem.ParsedProblem, error) {
	working := text

	givens := map[string]float64{}
	if m := reGivenClause.FindStringSubmatch(working); m != nil {
		for _, am := range reAssignment.FindAllStringSubmatch(m[1], -1) {
			v, err := strconv.ParseFloat(am[2], 64)
			if err == nil {
				givens[am[1]] = v
			}
		}
		working = strings.Replace(working, m[0], " ", 1)
	}

	metadata := map[string]string{}
	if m := reSolveFor.FindStringSubmatch(working); m != nil {
		metadata["target_variable"] = m[1]
	}

	var equations, constraints []string
	varSet := map[string]bool{}

	for _, fragment := range reFragmentSep.Split(working, -1) {
		if m := reConstraint.FindStringSubmatch(fragment); m != nil {
			if canon, ok := canonicalizeConstraint(m[1], m[2], m[3]); ok {
				constraints = append(constraints, canon)
				continue
			}
		}

		stripped := stripFiller(fragment)
		for _, seg := range reEquationSeg.FindAllString(stripped, -1) {
			canon, vars, err := canonicalizeEquation(seg)
			if err != nil {
				return problem.ParsedProblem{}, &problem.NormalizationError{
					Reason: "malformed_expression",
					Detail: fmt.Sprintf("equation %q: %v", strings.TrimSpace(seg), err),
				}
			}
			equations = append(equations, canon)
			for _, v := range vars {
				varSet[v] = true
			}
		}
	}

	variables := make([]string, 0, len(varSet))
	for v := range varSet {
		variables = append(variables, v)
	}
	sort.Strings(variables)

	if len(givens) == 0 {
		givens = nil
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	nz.log.Debug("normalized problem",
		"equations", len(equations),
		"constraints", len(constraints),
		"variables", len(variables),
	)

	return problem.ParsedProblem{
		RawText:     raw,
		Text:        text,
		Variables:   variables,
		Equations:   equations,
		Constraints: constraints,
		GivenValues: givens,
		Metadata:    metadata,
	}, nil
}

// =============================================================================
// Segment canonicalization
// =============================================================================

func canonicalizeExpression(s string) (string, expr.Node, error) {
	compact := insertImplicitMul(removeSpaces(s))
	if compact == "" {
		return "", nil, fmt.Errorf("empty expression")
	}
	n, err := expr.Parse(compact)
	if err != nil {
		return "", nil, err
	}
	return n.String(), n, nil
}

func canonicalizeEquation(s string) (string, []string, error) {
	compact := insertImplicitMul(removeSpaces(s))
	lhs, rhs, err := expr.ParseEquation(compact)
	if err != nil {
		return "", nil, err
	}
	if rhs == nil {
		return lhs.String(), expr.Variables(lhs), nil
	}
	canon := lhs.String() + "=" + rhs.String()
	varSet := map[string]bool{}
	for _, v := range expr.Variables(lhs) {
		varSet[v] = true
	}
	for _, v := range expr.Variables(rhs) {
		varSet[v] = true
	}
	vars := make([]string, 0, len(varSet))
	for v := range varSet {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return canon, vars, nil
}

func canonicalizeConstraint(lhs, op, rhs string) (string, bool) {
	l, err := expr.Parse(insertImplicitMul(removeSpaces(stripFiller(lhs))))
	if err != nil {
		return "", false
	}
	r, err := expr.Parse(insertImplicitMul(removeSpaces(stripFiller(rhs))))
	if err != nil {
		return "", false
	}
	return l.String() + op + r.String(), true
}

// canonicalizeBound renders plain numerals through FormatFloat so "2", "2.0"
// and a decoded subscript all come out identical; symbolic bounds such as
// pi/2 keep their canonical expression form.
func canonicalizeBound(s string) (string, error) {
	compact := insertImplicitMul(removeSpaces(strings.TrimSpace(s)))
	n, err := expr.Parse(compact)
	if err != nil {
		return "", err
	}
	switch t := n.(type) {
	case expr.Num:
		return expr.FormatFloat(t.Value), nil
	case expr.Unary:
		if inner, ok := t.X.(expr.Num); ok {
			return expr.FormatFloat(-inner.Value), nil
		}
	}
	return n.String(), nil
}

func removeSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
}

func stripFiller(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		if fillerWords[strings.Trim(w, "?.!:;,")] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// insertImplicitMul makes juxtaposition multiplication explicit: 5x, 2(x+1),
// )(, and x(x+1) all gain a '*'. Known function names keep call syntax.
func insertImplicitMul(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if len(out) > 0 {
			prev := out[len(out)-1]
			star := false
			switch {
			case isDigitByte(prev) && (isLetterByte(c) || c == '('):
				star = true
			case prev == ')' && (isDigitByte(c) || isLetterByte(c) || c == '('):
				star = true
			case isLetterByte(prev) && c == '(':
				star = !expr.IsFunctionName(trailingIdent(out))
			}
			if star {
				out = append(out, '*')
			}
		}
		out = append(out, c)
	}
	return string(out)
}

// trailingIdent returns the identifier run ending the buffer.
func trailingIdent(buf []byte) string {
	i := len(buf)
	for i > 0 && (isLetterByte(buf[i-1]) || isDigitByte(buf[i-1]) || buf[i-1] == '_') {
		i--
	}
	return string(buf[i:])
}

func isDigitByte(c byte) bool  { return c >= '0' && c <= '9' }
func isLetterByte(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
