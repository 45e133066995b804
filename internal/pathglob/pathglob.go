// Package pathglob compiles path glob patterns into matchers.
package pathglob

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// Pattern is a compiled path glob.
//
// Supported syntax: `*` matches within a path segment, `**` matches across
// segments, `?` matches a single non-separator character. Matching is
// anchored to the whole path.
type Pattern struct {
	source string
	re     *regexp2.Regexp
}

// Compile parses a glob pattern into a Pattern.
func Compile(pattern string) (Pattern, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return Pattern{}, errors.New("glob pattern is required")
	}
	expr, err := translate(trimmed)
	if err != nil {
		return Pattern{}, err
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile glob %q: %w", trimmed, err)
	}
	return Pattern{source: trimmed, re: re}, nil
}

// MustCompile compiles a glob and panics on error. For tests and constants.
func MustCompile(pattern string) Pattern {
	compiled, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return compiled
}

// String returns the original glob source.
func (p Pattern) String() string {
	return p.source
}

// Match reports whether the path matches the pattern.
func (p Pattern) Match(path string) bool {
	if p.re == nil {
		return false
	}
	matched, err := p.re.MatchString(strings.TrimPrefix(path, "./"))
	if err != nil {
		return false
	}
	return matched
}

// LiteralPrefix returns the leading literal (wildcard-free) portion of the
// pattern. Used for specificity comparisons: the longer the literal prefix,
// the more specific the pattern.
func (p Pattern) LiteralPrefix() string {
	return LiteralPrefix(p.source)
}

// LiteralPrefix returns the leading literal portion of a raw glob source.
func LiteralPrefix(pattern string) string {
	for i, r := range pattern {
		if r == '*' || r == '?' || r == '[' {
			return pattern[:i]
		}
	}
	return pattern
}

// translate converts a glob to an anchored regular expression.
func translate(glob string) (string, error) {
	var builder strings.Builder
	builder.WriteString(`\A`)

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				// Collapse "**/" so it also matches zero segments.
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
					builder.WriteString(`(?:[^/]+/)*`)
				} else {
					builder.WriteString(`.*`)
				}
				continue
			}
			builder.WriteString(`[^/]*`)
		case '?':
			builder.WriteString(`[^/]`)
		case '[':
			return "", fmt.Errorf("glob %q: character classes are not supported", glob)
		default:
			builder.WriteString(regexp2.Escape(string(r)))
		}
	}

	builder.WriteString(`\z`)
	return builder.String(), nil
}
