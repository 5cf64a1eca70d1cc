// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package inspect

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind distinguishes literal patterns from regular expressions.
type Kind int

const (
	// KindLiteral matches a fixed substring.
	KindLiteral Kind = iota
	// KindRegex matches a regular expression.
	KindRegex
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindRegex:
		return "regex"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Pattern is an immutable search pattern. The zero value is the empty
// pattern, used to mean "no expectation".
type Pattern struct {
	kind Kind
	text string
	re   *regexp.Regexp
}

// Literal returns a pattern matching the exact substring s.
func Literal(s string) Pattern {
	return Pattern{kind: KindLiteral, text: s}
}

// Regex compiles expr into a pattern.
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{kind: KindRegex, text: expr, re: re}, nil
}

// MustRegex is like Regex but panics on an invalid expression.
func MustRegex(expr string) Pattern {
	p, err := Regex(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether p is the empty pattern.
func (p Pattern) IsZero() bool {
	return p.text == "" && p.re == nil
}

// Kind returns the pattern kind.
func (p Pattern) Kind() Kind {
	return p.kind
}

// String returns the source text of the pattern.
func (p Pattern) String() string {
	return p.text
}

// MatchString reports whether s contains the pattern. The empty pattern
// matches nothing.
func (p Pattern) MatchString(s string) bool {
	if p.IsZero() {
		return false
	}
	if p.kind == KindRegex {
		return p.re.MatchString(s)
	}
	return strings.Contains(s, p.text)
}
