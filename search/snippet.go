package search

import (
	"strings"

	"golang.org/x/net/html"
)

// HighlightClass marks matched text in HTML output.
const HighlightClass = "wavy-underline"

// Snippet is the context around a match. Newlines are collapsed to spaces.
type Snippet struct {
	Before string
	Match  string
	After  string
	// LeadingEllipsis and TrailingEllipsis report that the page text
	// continues beyond the snippet.
	LeadingEllipsis  bool
	TrailingEllipsis bool
}

// NewSnippet cuts context runes around the rune range [start, end) of text.
func NewSnippet(text string, start, end, context int) Snippet {
	runes := []rune(text)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start > end {
		start = end
	}
	from := start - context
	if from < 0 {
		from = 0
	}
	to := end + context
	if to > len(runes) {
		to = len(runes)
	}
	return Snippet{
		Before:           flatten(runes[from:start]),
		Match:            flatten(runes[start:end]),
		After:            flatten(runes[end:to]),
		LeadingEllipsis:  from > 0,
		TrailingEllipsis: to < len(runes),
	}
}

func flatten(r []rune) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(string(r))
}

// String renders the snippet as plain text with the match in brackets.
func (s Snippet) String() string {
	return s.render(func(t string) string { return t }, "[", "]")
}

// HTML renders the snippet with the match wrapped in a highlight span.
func (s Snippet) HTML() string {
	return s.render(html.EscapeString, `<span class="`+HighlightClass+`">`, "</span>")
}

func (s Snippet) render(esc func(string) string, openTag, closeTag string) string {
	var b strings.Builder
	if s.LeadingEllipsis {
		b.WriteString("... ")
	}
	b.WriteString(esc(s.Before))
	b.WriteString(openTag)
	b.WriteString(esc(s.Match))
	b.WriteString(closeTag)
	b.WriteString(esc(s.After))
	if s.TrailingEllipsis {
		b.WriteString(" ...")
	}
	return b.String()
}
