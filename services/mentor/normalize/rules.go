// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"regexp"
	"strings"
)

// =============================================================================
// Notation tables
// =============================================================================

// notationReplacer maps unicode math notation and alternative operator
// spellings onto the canonical ASCII vocabulary. Applied after the integral
// sign has been processed, so superscripts here always mean exponents.
var notationReplacer = strings.NewReplacer(
	"×", "*",
	"·", "*",
	"÷", "/",
	"−", "-", // U+2212 minus sign
	"–", "-",
	"—", "-",
	"**", "^",
	"√", "sqrt ",
	"π", "pi",
	"≤", "<=",
	"≥", ">=",
	"≠", "!=",
	"⁻", "-",
	"₋", "-",
	"⁰", "^0",
	"¹", "^1",
	"²", "^2",
	"³", "^3",
	"⁴", "^4",
	"⁵", "^5",
	"⁶", "^6",
	"⁷", "^7",
	"⁸", "^8",
	"⁹", "^9",
	"₀", "0",
	"₁", "1",
	"₂", "2",
	"₃", "3",
	"₄", "4",
	"₅", "5",
	"₆", "6",
	"₇", "7",
	"₈", "8",
	"₉", "9",
)

// subscriptDigits and superscriptDigits decode integral bounds written in
// unicode sub/superscript position, e.g. "∫₂⁵".
var subscriptDigits = map[rune]byte{
	'₀': '0', '₁': '1', '₂': '2', '₃': '3', '₄': '4',
	'₅': '5', '₆': '6', '₇': '7', '₈': '8', '₉': '9',
}

var superscriptDigits = map[rune]byte{
	'⁰': '0', '¹': '1', '²': '2', '³': '3', '⁴': '4',
	'⁵': '5', '⁶': '6', '⁷': '7', '⁸': '8', '⁹': '9',
}

// =============================================================================
// Structural patterns
// =============================================================================

// Integral sign forms. The sub/superscript and ASCII-bound forms capture the
// bound pair; the bare sign only marks intent.
var (
	reIntSubSup = regexp.MustCompile(`∫\s*([₀₁₂₃₄₅₆₇₈₉]+)\s*([⁰¹²³⁴⁵⁶⁷⁸⁹]+)`)
	reIntAscii  = regexp.MustCompile(`∫\s*_\{?\(?(-?[0-9a-z./]+)\)?\}?\s*\^\{?\(?(-?[0-9a-z./]+)\)?\}?`)
)

// Bound expressions accepted inside range phrases: signed numerals, pi,
// pi over a numeral, and e. Anything richer stays in the text untouched.
const boundExpr = `(-?(?:[0-9]+(?:\.[0-9]+)?|pi(?:/[0-9]+(?:\.[0-9]+)?)?|e))`

var boundPhrases = []*regexp.Regexp{
	regexp.MustCompile(`\bfrom\s+` + boundExpr + `\s+to\s+` + boundExpr + `\b`),
	regexp.MustCompile(`\bbetween\s+` + boundExpr + `\s+and\s+` + boundExpr + `\b`),
	regexp.MustCompile(`(?:\bon\s+(?:the\s+interval\s+)?)?\[\s*` + boundExpr + `\s*,\s*` + boundExpr + `\s*\]`),
	regexp.MustCompile(`\(\s*` + boundExpr + `\s+to\s+` + boundExpr + `\s*\)`),
}

// Prose verb forms rewritten onto the canonical intent verbs.
var (
	reIntegralVerb = regexp.MustCompile(`\b(?:(?:find|evaluate|compute|calculate|determine|give|what\s+is)\s+)?(?:the\s+)?(?:definite\s+|indefinite\s+)?(?:integral|antiderivative)\s+of\b`)
	reDerivVerb    = regexp.MustCompile(`\b(?:(?:find|evaluate|compute|calculate|determine|give|what\s+is)\s+)?(?:the\s+)?(?:first\s+)?derivative\s+of\b`)
	reDerivLeibniz = regexp.MustCompile(`\bd\s*/\s*d([a-z])\b`)
)

// Canonical intent sentences, matched again on re-normalization so the
// normalizer is a fixed point on its own output.
var (
	reIntegrate     = regexp.MustCompile(`\bintegrate\s+(.+?)(?:\s+d([a-z])\b)?\s*[?.!]*\s*$`)
	reDifferentiate = regexp.MustCompile(`\bdifferentiate\s+(.+?)(?:\s+with\s+respect\s+to\s+([a-z])\b)?\s*[?.!]*\s*$`)
)

// Function application written with a space or a spaced parenthesis:
// "sin x" and "sqrt (x+1)" both become call syntax.
var (
	reFuncParenGap = regexp.MustCompile(`\b(sin|cos|tan|asin|acos|atan|log|exp|sqrt|abs)\s+\(`)
	reFuncSpaceArg = regexp.MustCompile(`\b(sin|cos|tan|asin|acos|atan|log|exp|sqrt|abs)\s+([0-9]+(?:\.[0-9]+)?|[a-z][0-9a-z]*)`)
	reLnWord       = regexp.MustCompile(`\bln\b`)
)

// Clause and segment extraction.
var (
	reSolveFor    = regexp.MustCompile(`\bsolve\s+for\s+([a-z])\b`)
	reGivenClause = regexp.MustCompile(`\b(?:where|given\s+that|given|with|let)\s+([a-z]\s*=.*)$`)
	reAssignment  = regexp.MustCompile(`\b([a-z])\s*=\s*(-?[0-9]+(?:\.[0-9]+)?)\b`)
	reConstraint  = regexp.MustCompile(`([0-9a-z.()+\-*/^ ]+)(<=|>=|<|>|!=)([0-9a-z.()+\-*/^ ]+)`)
	reEquationSeg = regexp.MustCompile(`[0-9a-z.()+\-*/^ ]+=[0-9a-z.()+\-*/^ ]+`)
	reFragmentSep = regexp.MustCompile(`\s*(?:[,;]|\band\b|\balso\b)\s*`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

// fillerWords are stripped from candidate math fragments before segment
// extraction. They never appear inside a canonical expression.
var fillerWords = map[string]bool{
	"solve": true, "find": true, "evaluate": true, "compute": true,
	"calculate": true, "determine": true, "simplify": true, "give": true,
	"the": true, "a": true, "an": true, "of": true, "for": true,
	"what": true, "is": true, "are": true, "does": true, "do": true,
	"system": true, "equation": true, "equations": true, "function": true,
	"simultaneous": true, "simultaneously": true, "following": true,
	"value": true, "values": true, "root": true, "roots": true,
	"zero": true, "zeros": true, "zeroes": true, "please": true,
	"such": true, "that": true, "when": true, "me": true,
}

// mathKeywords satisfy the looks-like-math check for inputs that carry no
// digits or operators, so prose-only submissions still reach the classifier.
var mathKeywords = []string{
	"integrate", "integral", "antiderivative",
	"differentiate", "derivative", "slope", "tangent",
	"solve", "equation", "root", "factor", "simplify", "expand",
	"probability", "chance", "odds", "likelihood", "percent",
	"average", "mean", "median", "sum", "difference", "product", "quotient",
	"area", "volume", "evaluate", "compute",
}

// invalidCharPattern matches anything outside the post-replacement
// vocabulary. Offending characters are reported, not silently dropped.
var invalidCharPattern = regexp.MustCompile(`[^a-z0-9\s+\-*/^=().,\[\]{}<>!?:;'"%$_]`)
