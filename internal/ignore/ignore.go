// Package ignore matches paths against ignore files written in gitignore
// syntax (https://git-scm.com/docs/gitignore).
//
// A Matcher holds the rules of one ignore file. Paths passed to Match are
// relative to the directory containing that file. Supported syntax:
//
//   - Wildcards: *, ? and character classes ([a-z], [!0-9])
//   - ** for any number of directories (**/logs, build/**, a/**/b)
//   - Rooted patterns (/build) and patterns with an inner slash (doc/frotz)
//   - Directory-only patterns (tmp/)
//   - Negation (!keep.log), with the last matching rule winning
//   - Comments (#) and escapes (\#, \!, trailing "\ ")
//
// Usage:
//
//	m, err := ignore.Load("/data/docs/.amanfindignore")
//	if ignored, matched := m.Match("drafts/old.txt", false); matched && ignored {
//	    // skip it
//	}
package ignore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Matcher holds the compiled rules of one ignore file. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	rules []rule
}

type rule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool // matched against the whole relative path, not the base name
}

// New compiles patterns into a Matcher. Blank lines, comments and patterns
// that do not compile are skipped.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.add(p)
	}
	return m
}

// Parse reads patterns line by line from r.
func Parse(r io.Reader) (*Matcher, error) {
	m := &Matcher{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore patterns: %w", err)
	}
	return m, nil
}

// Load parses the ignore file at path.
func Load(path string) (*Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match reports whether rel is ignored. matched is false when no rule applies,
// letting a caller fall back to the ignore file of a parent directory.
func (m *Matcher) Match(rel string, isDir bool) (ignored, matched bool) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}

	for i := len(m.rules) - 1; i >= 0; i-- {
		r := m.rules[i]
		if r.dirOnly && !isDir {
			continue
		}
		subject := base
		if r.anchored {
			subject = rel
		}
		if r.regex.MatchString(subject) {
			return !r.negation, true
		}
	}
	return false, false
}

func (m *Matcher) add(line string) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negation = true
		p = p[1:]
	}
	if escapedSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + " "
	}

	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimPrefix(p, "/")
	}
	if strings.Contains(p, "/") {
		r.anchored = true
	}
	if p == "" {
		return
	}

	re, err := regexp.Compile("^" + toRegex(p) + "$")
	if err != nil {
		return
	}
	r.regex = re
	m.rules = append(m.rules, r)
}

// toRegex translates one glob pattern into a regular expression body.
func toRegex(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); {
		atSegment := i == 0 || p[i-1] == '/'
		switch c := p[i]; {
		case atSegment && strings.HasPrefix(p[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 3
		case atSegment && p[i:] == "**":
			b.WriteString(".*")
			i += 2
		case c == '*':
			b.WriteString("[^/]*")
			i++
		case c == '?':
			b.WriteString("[^/]")
			i++
		case c == '[':
			end := strings.IndexByte(p[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				i++
				continue
			}
			class := p[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 2
		case c == '\\' && i+1 < len(p):
			b.WriteString(regexp.QuoteMeta(p[i+1 : i+2]))
			i += 2
		default:
			b.WriteString(regexp.QuoteMeta(p[i : i+1]))
			i++
		}
	}
	return b.String()
}
