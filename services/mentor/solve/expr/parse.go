// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

// ParseError reports a lexical or syntactic failure at a byte offset of the
// input. Offsets refer to the canonical (already normalized) text.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

// funcVocabulary is the closed set of callable names. "log" is the natural
// logarithm; normalization rewrites "ln" to "log" before parsing.
var funcVocabulary = map[string]bool{
	"sqrt": true,
	"abs":  true,
	"exp":  true,
	"log":  true,
	"sin":  true,
	"cos":  true,
	"tan":  true,
	"asin": true,
	"acos": true,
	"atan": true,
}

// IsFunctionName reports whether name is in the callable vocabulary.
func IsFunctionName(name string) bool { return funcVocabulary[name] }

// =============================================================================
// Lexer
// =============================================================================

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp     // + - * / ^
	tokLParen // (
	tokRParen // )
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c >= '0' && c <= '9', c == '.':
		sawDigit := false
		for l.pos < len(l.input) {
			ch := l.input[l.pos]
			if ch >= '0' && ch <= '9' {
				sawDigit = true
				l.pos++
				continue
			}
			if ch == '.' {
				l.pos++
				continue
			}
			break
		}
		text := l.input[start:l.pos]
		if !sawDigit || strings.Count(text, ".") > 1 {
			return token{}, &ParseError{Pos: start, Msg: fmt.Sprintf("malformed number %q", text)}
		}
		return token{kind: tokNumber, text: text, pos: start}, nil

	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil

	case c == '+' || c == '-' || c == '*' || c == '/' || c == '^':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil

	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil

	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil

	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	}

	return token{}, &ParseError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", string(c))}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// =============================================================================
// Parser
// =============================================================================

// Parse converts canonical expression text into a tree.
//
// Grammar (EOF must follow the top-level expression):
//
//	expr   := term  (('+'|'-') term)*
//	term   := unary (('*'|'/') unary)*
//	unary  := '-' unary | power
//	power  := atom ('^' unary)?
//	atom   := NUMBER | IDENT | IDENT '(' expr (',' expr)* ')' | '(' expr ')'
//
// Implicit multiplication is not accepted here; normalization inserts the
// explicit '*' first.
func Parse(input string) (Node, error) {
	p := &parser{lex: lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected trailing input %q", p.tok.text)}
	}
	return n, nil
}

// ParseEquation splits input on a single '=' and parses both sides. Input
// without '=' parses as a bare expression with a nil rhs.
func ParseEquation(input string) (lhs, rhs Node, err error) {
	switch strings.Count(input, "=") {
	case 0:
		lhs, err = Parse(input)
		return lhs, nil, err
	case 1:
		i := strings.IndexByte(input, '=')
		lhs, err = Parse(input[:i])
		if err != nil {
			return nil, nil, err
		}
		rhs, err = Parse(input[i+1:])
		if err != nil {
			return nil, nil, err
		}
		return lhs, rhs, nil
	default:
		return nil, nil, &ParseError{Pos: strings.IndexByte(input, '='), Msg: "multiple '=' signs"}
	}
}

type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseExpr() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: '-', X: x}, nil
	}
	if p.tok.kind == tokOp && p.tok.text == "+" {
		// Unary plus is legal and a no-op.
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.text == "^" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		// Right-associative, and the exponent may carry a unary minus.
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Binary{Op: '^', X: base, Y: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (Node, error) {
	switch p.tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("malformed number %q", p.tok.text)}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Num{Value: v}, nil

	case tokIdent:
		name := p.tok.text
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokLParen {
			if !IsFunctionName(name) {
				return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("unknown function %q", name)}
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("function %q takes one argument, got %d", name, len(args))}
			}
			return Call{Fn: name, Args: args}, nil
		}
		if IsFunctionName(name) {
			return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("function %q requires arguments", name)}
		}
		return Var{Name: name}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &ParseError{Pos: p.tok.pos, Msg: "missing closing parenthesis"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokEOF:
		return nil, &ParseError{Pos: p.tok.pos, Msg: "unexpected end of expression"}
	}
	return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected token %q", p.tok.text)}
}

func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.tok.kind != tokRParen {
		return nil, &ParseError{Pos: p.tok.pos, Msg: "missing closing parenthesis in call"}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return args, nil
}
