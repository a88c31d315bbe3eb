// Package pattern provides path glob compilation and matching.
// All functions are pure - no I/O, no global state.
package pattern

import (
	"fmt"
	"strings"
)

// Pattern is a compiled path glob.
//
// Grammar: a pattern is a sequence of segments separated by "/".
// A literal segment matches exactly. "*" inside a segment matches any
// run of non-"/" characters. A trailing "/*" matches any suffix,
// including the empty suffix. Matching is case-sensitive and anchored
// on both ends.
type Pattern struct {
	raw          string
	segments     []string
	wildcardTail bool
}

// Compile converts a glob into a compiled Pattern.
// Compilation happens once; Match on the compiled form is allocation-free.
func Compile(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, fmt.Errorf("pattern is empty")
	}
	if raw[0] != '/' {
		return Pattern{}, fmt.Errorf("pattern %q must start with /", raw)
	}

	p := Pattern{raw: raw}

	body := raw
	if strings.HasSuffix(body, "/*") {
		p.wildcardTail = true
		body = body[:len(body)-2]
	}

	if body != "" {
		for _, seg := range strings.Split(body[1:], "/") {
			if seg == "" {
				return Pattern{}, fmt.Errorf("pattern %q contains an empty segment", raw)
			}
			p.segments = append(p.segments, seg)
		}
	}

	return p, nil
}

// MustCompile is like Compile but panics on error. For tests and constants.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original glob.
func (p Pattern) String() string { return p.raw }

// Match reports whether path matches the pattern.
func (p Pattern) Match(path string) bool {
	if path == "" || path[0] != '/' {
		return false
	}

	rest := path
	for _, seg := range p.segments {
		if rest == "" || rest[0] != '/' {
			return false
		}
		rest = rest[1:]

		var cur string
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			cur, rest = rest[:idx], rest[idx:]
		} else {
			cur, rest = rest, ""
		}

		if !segmentMatch(seg, cur) {
			return false
		}
	}

	if p.wildcardTail {
		// Any suffix, including empty. By construction rest is either
		// empty or begins with "/".
		return true
	}
	return rest == ""
}

// segmentMatch matches a single segment glob against a single path
// segment. "*" matches any (possibly empty) run of characters; the
// inputs never contain "/".
func segmentMatch(pat, s string) bool {
	var pi, si int
	star, mark := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pat) && pat[pi] == '*':
			star, mark = pi, si
			pi++
		case pi < len(pat) && pat[pi] == s[si]:
			pi++
			si++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}

	for pi < len(pat) && pat[pi] == '*' {
		pi++
	}
	return pi == len(pat)
}
