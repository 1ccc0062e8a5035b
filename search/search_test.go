package search

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/pageindex"
)

type corpus struct {
	pages []string
	fail  map[int]bool
}

func (c corpus) Entries() []pageindex.Entry {
	out := make([]pageindex.Entry, len(c.pages))
	for i := range c.pages {
		out[i] = pageindex.Entry{DocumentIndex: i / 3, LocalPage: i%3 + 1, DocumentName: fmt.Sprintf("doc%d.pdf", i/3)}
	}
	return out
}

func (c corpus) TextContent(ctx context.Context, global int) ([]engine.TextItem, error) {
	if c.fail[global] {
		return nil, errors.New("corrupt page")
	}
	// split into two runs so matching works across run boundaries
	text := c.pages[global-1]
	half := len(text) / 2
	return []engine.TextItem{{Text: text[:half]}, {Text: text[half:]}}, nil
}

func TestCompileForms(t *testing.T) {
	if _, err := Compile("   "); !errors.Is(err, ErrNoQuery) {
		t.Fatalf("blank query: %v", err)
	}
	p, err := Compile("/foo|bar/i")
	if err != nil || !p.Literal || p.Flags != "i" || p.Source != "foo|bar" {
		t.Fatalf("regex literal: %+v %v", p, err)
	}
	if ok, _ := p.MatchString("FOO"); !ok {
		t.Fatalf("/foo|bar/i should match FOO")
	}

	kw, err := Compile("foo bar")
	if err != nil || kw.Literal || kw.Flags != "gi" {
		t.Fatalf("keyword query: %+v %v", kw, err)
	}
	if ok, _ := kw.MatchString("foo bar"); !ok {
		t.Fatalf("keywords should match in order")
	}
	if ok, _ := kw.MatchString("FOO"); ok {
		t.Fatalf("keyword join is not an alternation")
	}
	if ok, _ := kw.MatchString("Foo, then some BAR"); !ok {
		t.Fatalf("keywords may be separated by anything")
	}
	if ok, _ := kw.MatchString("bar foo"); ok {
		t.Fatalf("keywords must appear in order")
	}
}

func TestCompileEscapesKeywords(t *testing.T) {
	p, err := Compile("a+b (c) 1.5")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ok, _ := p.MatchString("aab c 105"); ok {
		t.Fatalf("metacharacters must be literal")
	}
	if ok, _ := p.MatchString("x A+B and (C) at 1.5"); !ok {
		t.Fatalf("escaped keywords should match literally")
	}
	// a lone slash is a keyword, not a regex literal
	if p, err := Compile("/path"); err != nil || p.Literal {
		t.Fatalf("/path should compile as keywords: %+v %v", p, err)
	}
}

func TestCompileFlags(t *testing.T) {
	for _, bad := range []string{"/a/x", "/a/ii", "/(/"} {
		if _, err := Compile(bad); !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("%s: expected ErrInvalidPattern, got %v", bad, err)
		}
	}
	s, err := Compile("/a.b/s")
	if err != nil {
		t.Fatalf("dotall: %v", err)
	}
	if ok, _ := s.MatchString("a\nb"); !ok {
		t.Fatalf("s flag should let dot match newline")
	}
	y := MustCompile("/ab/y")
	if ok, _ := y.MatchString("xab"); ok {
		t.Fatalf("sticky pattern must match at the start only")
	}
	if ok, _ := y.MatchString("abx"); !ok {
		t.Fatalf("sticky pattern should match at the start")
	}
}

func TestParseFlagsOptions(t *testing.T) {
	opt, sticky, err := parseFlags("imy")
	if err != nil || !sticky {
		t.Fatalf("parseFlags(imy) = %v %v %v", opt, sticky, err)
	}
	want := regexp2.ECMAScript | regexp2.IgnoreCase | regexp2.Multiline
	if opt != want {
		t.Fatalf("options = %v, want %v", opt, want)
	}
	if opt, _, _ = parseFlags("s"); opt&regexp2.ECMAScript != 0 || opt&regexp2.Singleline == 0 {
		t.Fatalf("dotall options = %v", opt)
	}
	m, err := Compile("/^b$/im")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ok, _ := m.MatchString("a\nB\nc"); !ok {
		t.Fatalf("/^b$/im should match a middle line")
	}
}

func TestFindUsesRuneOffsets(t *testing.T) {
	p := MustCompile("/é+/")
	start, end, ok, err := p.FindFirst("naïve éé")
	if err != nil || !ok || start != 6 || end != 8 {
		t.Fatalf("FindFirst = %d,%d,%v,%v", start, end, ok, err)
	}
	all, _ := MustCompile("/o/g").FindAll("foo boo")
	if len(all) != 4 {
		t.Fatalf("FindAll = %v", all)
	}
}

func TestScanFirstMatchPerPageSorted(t *testing.T) {
	pages := make([]string, 20)
	for i := range pages {
		pages[i] = fmt.Sprintf("page %d filler", i+1)
	}
	pages[4] = "needle one and needle two"
	pages[13] = "a NEEDLE here"
	pages[17] = "needle but broken"
	c := corpus{pages: pages, fail: map[int]bool{18: true}}

	s := New(WithConcurrency(4))
	p := MustCompile("needle")
	first, err := s.Scan(context.Background(), c, p)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := first.Pages(); !reflect.DeepEqual(got, []int{5, 14}) {
		t.Fatalf("pages = %v", got)
	}
	if first[0].Snippet.Match != "needle" || first[0].Snippet.After != " one and needle two" {
		t.Fatalf("snippet should cover the first match only: %+v", first[0].Snippet)
	}
	if first[1].DocumentIndex != 4 || first[1].LocalPage != 2 || first[1].DocumentName != "doc4.pdf" {
		t.Fatalf("entry not denormalized: %+v", first[1])
	}
	for i := 0; i < 5; i++ {
		again, _ := s.Scan(context.Background(), c, p)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("scan %d differs", i)
		}
	}
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Scan(ctx, corpus{pages: []string{"a", "b"}}, MustCompile("a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScanTimeoutIsNonMatch(t *testing.T) {
	p, err := Compile(`/(a+)+$/`, WithTimeout(time.Millisecond))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	c := corpus{pages: []string{strings.Repeat("a", 40) + "!", "aaa"}}
	res, err := New().Scan(context.Background(), c, p)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := res.Pages(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("pages = %v", got)
	}
}

func TestSnippet(t *testing.T) {
	text := strings.Repeat("x", 50) + "line\nbreak MATCH end"
	start := strings.Index(text, "MATCH")
	sn := NewSnippet(text, start, start+5, 11)
	if !sn.LeadingEllipsis || sn.TrailingEllipsis {
		t.Fatalf("ellipsis flags = %v %v", sn.LeadingEllipsis, sn.TrailingEllipsis)
	}
	if sn.Before != "line break " || sn.After != " end" {
		t.Fatalf("context = %q / %q", sn.Before, sn.After)
	}
	if got := sn.String(); got != "... line break [MATCH] end" {
		t.Fatalf("String = %q", got)
	}
	html := NewSnippet("a<b>c", 2, 3, 40).HTML()
	if html != `a&lt;<span class="wavy-underline">b</span>&gt;c` {
		t.Fatalf("HTML = %q", html)
	}
	if strings.Count(sn.HTML(), HighlightClass) != 1 {
		t.Fatalf("exactly one highlighted span expected")
	}
}

func TestResultsFilterAndCursor(t *testing.T) {
	r := Results{
		{GlobalPage: 2, DocumentName: "a.pdf"},
		{GlobalPage: 5, DocumentName: "b.pdf"},
		{GlobalPage: 7, DocumentName: "a.pdf"},
	}
	if got := r.Filter("a.pdf").Pages(); !reflect.DeepEqual(got, []int{2, 7}) {
		t.Fatalf("filter = %v", got)
	}
	c := NewCursor(r)
	if m, _ := c.First(); m.GlobalPage != 2 {
		t.Fatalf("first = %d", m.GlobalPage)
	}
	if _, ok := c.Prev(); ok {
		t.Fatalf("prev at the start must not wrap")
	}
	c.Next()
	if m, _ := c.Next(); m.GlobalPage != 7 {
		t.Fatalf("third = %d", m.GlobalPage)
	}
	if _, ok := c.Next(); ok {
		t.Fatalf("next at the end must not wrap")
	}
	if pos, n := c.Position(); pos != 3 || n != 3 {
		t.Fatalf("position = %d/%d", pos, n)
	}
	if _, ok := NewCursor(nil).Current(); ok {
		t.Fatalf("empty cursor has no current match")
	}
}
