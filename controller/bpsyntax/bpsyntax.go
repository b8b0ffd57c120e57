// Package bpsyntax parses the controller's user-entered breakpoint
// syntax: "<file>:<line>[ if <expr>][ count=<n>]", with count>=n and
// count%n accepted as extensions of the plain count=n form. Like the
// runtime's own expression grammar, this is a small hand-written parser —
// the input language is a single line, not worth a parser-combinator
// dependency.
package bpsyntax

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dbug-project/dbug/runtime/breakpoints"
)

// Parsed is one user-entered breakpoint specification.
type Parsed struct {
	File      string
	Line      int
	Condition string
	HitCount  breakpoints.Predicate
}

// Parse parses one line of breakpoint syntax. Examples:
//
//	main.glyph:42
//	main.glyph:42 if i >= 3
//	main.glyph:42 count=3
//	main.glyph:42 if i >= 3 count>=5
//	main.glyph:42 count%2
func Parse(line string) (Parsed, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Parsed{}, fmt.Errorf("bpsyntax: empty breakpoint specification")
	}

	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return Parsed{}, fmt.Errorf("bpsyntax: missing ':' in %q, expected <file>:<line>", line)
	}
	file := line[:colon]
	if file == "" {
		return Parsed{}, fmt.Errorf("bpsyntax: empty file in %q", line)
	}
	rest := line[colon+1:]

	lineNumEnd := 0
	for lineNumEnd < len(rest) && rest[lineNumEnd] >= '0' && rest[lineNumEnd] <= '9' {
		lineNumEnd++
	}
	if lineNumEnd == 0 {
		return Parsed{}, fmt.Errorf("bpsyntax: missing line number after ':' in %q", line)
	}
	lineNum, err := strconv.Atoi(rest[:lineNumEnd])
	if err != nil {
		return Parsed{}, fmt.Errorf("bpsyntax: bad line number in %q: %w", line, err)
	}

	parsed := Parsed{File: file, Line: lineNum, HitCount: breakpoints.Predicate{Kind: breakpoints.Always}}

	remainder := strings.TrimSpace(rest[lineNumEnd:])
	for remainder != "" {
		switch {
		case strings.HasPrefix(remainder, "if "):
			remainder = strings.TrimPrefix(remainder, "if ")
			condEnd := findCountKeyword(remainder)
			condText := strings.TrimSpace(remainder[:condEnd])
			if condText == "" {
				return Parsed{}, fmt.Errorf("bpsyntax: empty condition after 'if' in %q", line)
			}
			parsed.Condition = condText
			remainder = strings.TrimSpace(remainder[condEnd:])
		case strings.HasPrefix(remainder, "count"):
			pred, rest2, err := parseCount(remainder)
			if err != nil {
				return Parsed{}, fmt.Errorf("bpsyntax: %w in %q", err, line)
			}
			parsed.HitCount = pred
			remainder = strings.TrimSpace(rest2)
		default:
			return Parsed{}, fmt.Errorf("bpsyntax: unexpected trailing text %q in %q", remainder, line)
		}
	}

	return parsed, nil
}

// findCountKeyword returns the index in s where a trailing " count" clause
// begins, or len(s) if there is none — used to bound the condition text
// when both an "if" and a "count=" clause are present.
func findCountKeyword(s string) int {
	if idx := strings.Index(s, " count"); idx >= 0 {
		return idx
	}
	return len(s)
}

func parseCount(s string) (breakpoints.Predicate, string, error) {
	for _, op := range []string{">=", "%", "="} {
		prefix := "count" + op
		if strings.HasPrefix(s, prefix) {
			numStart := len(prefix)
			numEnd := numStart
			for numEnd < len(s) && s[numEnd] >= '0' && s[numEnd] <= '9' {
				numEnd++
			}
			if numEnd == numStart {
				return breakpoints.Predicate{}, "", fmt.Errorf("missing number after %q", prefix)
			}
			n, err := strconv.Atoi(s[numStart:numEnd])
			if err != nil {
				return breakpoints.Predicate{}, "", err
			}
			switch op {
			case "=":
				return breakpoints.Predicate{Kind: breakpoints.Equals, N: n}, s[numEnd:], nil
			case ">=":
				return breakpoints.Predicate{Kind: breakpoints.GreaterEqual, N: n}, s[numEnd:], nil
			case "%":
				return breakpoints.Predicate{Kind: breakpoints.MultipleOf, N: n}, s[numEnd:], nil
			}
		}
	}
	return breakpoints.Predicate{}, "", fmt.Errorf("unrecognized count clause %q", s)
}
