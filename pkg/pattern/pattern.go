// Package pattern implements the matching syntax used for hostname filters.
//
// Syntax:
//
//   - Exact (no prefix): case-insensitive equality.
//     "ads.example.com" matches "ads.example.com" and "ADS.Example.Com".
//
//   - Wildcard (*): case-insensitive, * matches any run of characters.
//     "*doubleclick*" matches "stats.doubleclick.net".
//
//   - Regexp (~): case-sensitive regular expression.
//     "~^cdn[0-9]+\." matches "cdn7.assets.example".
//
//   - Regexp (~*): case-insensitive regular expression.
//     "~*(tracker|beacon)" matches "Tracker.example.org".
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind discriminates how a compiled pattern matches.
type Kind int

const (
	KindWildcard Kind = iota
	KindRegexp
	KindExact
)

// Pattern is a compiled matcher. Compile once at configuration time, then
// call Match per candidate string.
type Pattern struct {
	Source      string // pattern as written
	Kind        Kind
	Insensitive bool // set for ~* regexps

	needle string // prefix-stripped pattern for exact/wildcard
	re     *regexp.Regexp
}

// Classify determines the matching kind for a raw pattern and returns the
// pattern with its prefix stripped, plus the case-insensitive flag for
// regexps.
func Classify(raw string) (Kind, string, bool) {
	if strings.HasPrefix(raw, "~*") {
		return KindRegexp, raw[2:], true
	}
	if strings.HasPrefix(raw, "~") {
		return KindRegexp, raw[1:], false
	}
	if strings.Contains(raw, "*") {
		return KindWildcard, raw, false
	}
	return KindExact, raw, false
}

// Compile builds a Pattern from its source form.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	kind, needle, insensitive := Classify(raw)
	p := &Pattern{
		Source:      raw,
		Kind:        kind,
		Insensitive: insensitive,
		needle:      needle,
	}

	if kind == KindRegexp {
		expr := needle
		if insensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", raw, err)
		}
		p.re = re
	}

	return p, nil
}

// Match tests input against the compiled pattern. Exact and wildcard kinds
// are case-insensitive; regexp case behaviour follows the prefix.
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Kind {
	case KindRegexp:
		return p.re != nil && p.re.MatchString(input)
	case KindWildcard:
		return MatchWildcard(strings.ToLower(input), strings.ToLower(p.needle))
	case KindExact:
		return strings.EqualFold(input, p.needle)
	}
	return false
}

// MatchWildcard matches text against a raw wildcard pattern without
// compiling. * matches any sequence, including the empty one, and multiple
// wildcards are honoured in order. Case is the caller's responsibility.
func MatchWildcard(text, pat string) bool {
	if !strings.Contains(pat, "*") {
		return text == pat
	}

	parts := strings.Split(pat, "*")

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(text, last) {
		return false
	}
	text = text[:len(text)-len(last)]

	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(text, mid)
		if idx == -1 {
			return false
		}
		text = text[idx+len(mid):]
	}

	return true
}
