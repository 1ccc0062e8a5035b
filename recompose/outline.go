package recompose

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

const (
	chapterPrefix = "CHAPTER: "
	pagePrefix    = "PAGE: "
	pageScheme    = "page:"
)

// FormatText writes the outline text format, one entry per line:
// "CHAPTER: title" or "PAGE: n | title".
func FormatText(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		switch v := e.(type) {
		case PageEntry:
			fmt.Fprintf(&b, "%s%d | %s\n", pagePrefix, v.GlobalPage, v.Title)
		case ChapterEntry:
			fmt.Fprintf(&b, "%s%s\n", chapterPrefix, v.Title)
		}
	}
	return b.String()
}

// ParseText reads the outline text format. Page lines whose number does
// not satisfy valid, repeated pages and unknown lines are dropped.
func ParseText(r io.Reader, valid func(global int) bool) ([]Entry, error) {
	var out []Entry
	seen := make(map[int]bool)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, chapterPrefix):
			out = append(out, ChapterEntry{Title: strings.TrimSpace(line[len(chapterPrefix):])})
		case strings.HasPrefix(line, pagePrefix):
			num, title, ok := strings.Cut(line[len(pagePrefix):], "|")
			if !ok {
				continue
			}
			global, err := strconv.Atoi(strings.TrimSpace(num))
			if err != nil || seen[global] || (valid != nil && !valid(global)) {
				continue
			}
			seen[global] = true
			out = append(out, PageEntry{ID: pageID(global), GlobalPage: global, Title: strings.TrimSpace(title)})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("recompose: read outline: %w", err)
	}
	return out, nil
}

// FormatMarkdown writes chapters as headings and pages as list items
// linking to "page:n".
func FormatMarkdown(entries []Entry) string {
	var b strings.Builder
	inList := false
	for _, e := range entries {
		switch v := e.(type) {
		case PageEntry:
			fmt.Fprintf(&b, "- [%s](%s%d)\n", escapeMarkdown(v.Title), pageScheme, v.GlobalPage)
			inList = true
		case ChapterEntry:
			if inList || b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "## %s\n\n", escapeMarkdown(v.Title))
			inList = false
		}
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `*`, `\*`, `_`, `\_`, "`", "\\`", `#`, `\#`)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// ParseMarkdown reads an outline written in Markdown: every heading is a
// chapter and every link to "page:n" is a page entry titled by its text.
func ParseMarkdown(src []byte, valid func(global int) bool) ([]Entry, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	var out []Entry
	seen := make(map[int]bool)
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			out = append(out, ChapterEntry{Title: plainText(v, src)})
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			dest := string(v.Destination)
			if !strings.HasPrefix(dest, pageScheme) {
				return ast.WalkContinue, nil
			}
			global, err := strconv.Atoi(strings.TrimPrefix(dest, pageScheme))
			if err != nil || seen[global] || (valid != nil && !valid(global)) {
				return ast.WalkSkipChildren, nil
			}
			seen[global] = true
			out = append(out, PageEntry{ID: pageID(global), GlobalPage: global, Title: plainText(v, src)})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recompose: read markdown outline: %w", err)
	}
	return out, nil
}

// plainText concatenates the text segments below n.
func plainText(n ast.Node, src []byte) string {
	var b bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			value := t.Segment.Value(src)
			if !t.IsRaw() {
				value = util.UnescapePunctuations(value)
			}
			b.Write(value)
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
