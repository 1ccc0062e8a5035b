package search

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

var (
	// ErrNoQuery is returned for blank input. It is not a failed search.
	ErrNoQuery        = errors.New("search: no query")
	ErrInvalidPattern = errors.New("search: invalid pattern")
)

// DefaultTimeout bounds a single match attempt.
const DefaultTimeout = 2 * time.Second

// keywordFlags are the flags of a plain keyword query.
const keywordFlags = "gi"

// Pattern is a compiled query with JavaScript regular expression semantics.
// Offsets reported by a Pattern count runes, not bytes.
type Pattern struct {
	Source string
	Flags  string
	// Literal reports whether the query used the /pattern/flags form.
	Literal bool
	sticky  bool
	re      *regexp2.Regexp
}

type compileConfig struct {
	timeout time.Duration
}

type CompileOption func(*compileConfig)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) CompileOption {
	return func(c *compileConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Compile turns user input into a pattern. Input of the form /pattern/flags,
// where the last slash is not the first character, is an explicit regular
// expression. Anything else is a keyword query: metacharacters are escaped
// and the whitespace separated words must appear in order, anything in
// between, case-insensitively.
func Compile(query string, opts ...CompileOption) (*Pattern, error) {
	cfg := compileConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrNoQuery
	}

	var source, flags string
	literal := false
	if last := strings.LastIndex(query, "/"); strings.HasPrefix(query, "/") && last > 0 {
		source, flags, literal = query[1:last], query[last+1:], true
	} else {
		words := strings.Fields(query)
		for i, w := range words {
			words[i] = escape(w)
		}
		source, flags = strings.Join(words, ".*?"), keywordFlags
	}

	opt, sticky, err := parseFlags(flags)
	if err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(source, opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	re.MatchTimeout = cfg.timeout
	return &Pattern{Source: source, Flags: flags, Literal: literal, sticky: sticky, re: re}, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(query string) *Pattern {
	p, err := Compile(query)
	if err != nil {
		panic(err)
	}
	return p
}

func parseFlags(flags string) (regexp2.RegexOptions, bool, error) {
	var opt regexp2.RegexOptions = regexp2.ECMAScript
	sticky := false
	seen := make(map[rune]bool)
	for _, f := range flags {
		if seen[f] {
			return 0, false, fmt.Errorf("%w: repeated flag %q", ErrInvalidPattern, f)
		}
		seen[f] = true
		switch f {
		case 'i':
			opt |= regexp2.IgnoreCase
		case 'm':
			opt |= regexp2.Multiline
		case 's':
			opt |= regexp2.Singleline
		case 'y':
			sticky = true
		case 'g', 'u', 'd':
			// first match only; unicode escapes are always on
		default:
			return 0, false, fmt.Errorf("%w: unknown flag %q", ErrInvalidPattern, f)
		}
	}
	// ECMAScript mode admits only IgnoreCase and Multiline.
	if opt&regexp2.Singleline != 0 {
		opt &^= regexp2.ECMAScript
	}
	return opt, sticky, nil
}

// escape backslashes the characters JavaScript treats as regex syntax.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`/\^$*+?.()|[]{}`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String renders the pattern in /source/flags form.
func (p *Pattern) String() string {
	return "/" + p.Source + "/" + p.Flags
}

// FindFirst returns the rune offsets of the first match in text.
func (p *Pattern) FindFirst(text string) (start, end int, ok bool, err error) {
	m, err := p.re.FindStringMatch(text)
	if err != nil || m == nil {
		return 0, 0, false, err
	}
	if p.sticky && m.Index != 0 {
		return 0, 0, false, nil
	}
	return m.Index, m.Index + m.Length, true, nil
}

// FindAll returns the rune offsets of every non-overlapping match in text.
// Empty matches are skipped.
func (p *Pattern) FindAll(text string) ([][2]int, error) {
	var out [][2]int
	m, err := p.re.FindStringMatch(text)
	for m != nil && err == nil {
		if p.sticky && m.Index != 0 {
			break
		}
		if m.Length > 0 {
			out = append(out, [2]int{m.Index, m.Index + m.Length})
		}
		if p.sticky {
			break
		}
		m, err = p.re.FindNextMatch(m)
	}
	return out, err
}

// MatchString reports whether text contains a match.
func (p *Pattern) MatchString(text string) (bool, error) {
	_, _, ok, err := p.FindFirst(text)
	return ok, err
}
