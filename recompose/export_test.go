package recompose

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/wudi/pdfkit/parser"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/wudi/pdfdeck/construct"
	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/pdftest"
	"github.com/wudi/pdfdeck/rawpdf"
)

func pdfLibrary(t *testing.T) *library {
	t.Helper()
	return newLibrary(
		doc{name: "a", pages: 3, data: pdftest.Numbered(t, "a", 3)},
		doc{name: "b", pages: 5, data: pdftest.Numbered(t, "b", 5)},
	)
}

// pageTexts reopens data and returns the text runs of each page.
func pageTexts(t *testing.T, data []byte) [][]string {
	t.Helper()
	d, err := engine.New().Open(context.Background(), data)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	out := make([][]string, d.PageCount())
	for i := range out {
		p, err := d.Page(context.Background(), i+1)
		if err != nil {
			t.Fatalf("page %d: %v", i+1, err)
		}
		items, err := p.TextContent(context.Background())
		if err != nil {
			t.Fatalf("text %d: %v", i+1, err)
		}
		for _, it := range items {
			out[i] = append(out[i], it.Text)
		}
	}
	return out
}

func TestExportNeedsPages(t *testing.T) {
	e := NewExporter()
	_, err := e.Export(context.Background(), pdfLibrary(t), []Entry{ChapterEntry{Title: "Only"}}, Options{TOC: true})
	if !errors.Is(err, ErrNoPagesSelected) {
		t.Fatalf("expected ErrNoPagesSelected, got %v", err)
	}
	if _, err := e.Export(context.Background(), pdfLibrary(t), nil, Options{}); !errors.Is(err, ErrNoPagesSelected) {
		t.Fatalf("empty export: %v", err)
	}
}

func TestExportWithContents(t *testing.T) {
	entries := []Entry{
		ChapterEntry{ID: "ch-1", Title: "Intro"},
		PageEntry{ID: "page-2", GlobalPage: 2, Title: "Second of a"},
		PageEntry{ID: "page-6", GlobalPage: 6, Title: "Third of b"},
	}
	res, err := NewExporter().Export(context.Background(), pdfLibrary(t), entries, Options{TOC: true, PageNumbers: true, Bookmarks: true, FileName: "out"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.FileName != "out.pdf" || res.Pages != 3 || res.TOCPages != 1 || len(res.Skipped) != 0 {
		t.Fatalf("result = %+v", res)
	}
	pages := pageTexts(t, res.Data)
	if len(pages) != 3 {
		t.Fatalf("got %d pages", len(pages))
	}
	toc := pages[0]
	if len(toc) != 4 || toc[0] != "Table of Contents" || toc[1] != "Intro" {
		t.Fatalf("contents page = %q", toc)
	}
	if !strings.HasPrefix(toc[2], "Second of a ...") || !strings.HasSuffix(toc[2], ". 2") {
		t.Fatalf("first entry = %q", toc[2])
	}
	if !strings.HasPrefix(toc[3], "Third of b ...") || !strings.HasSuffix(toc[3], ". 3") {
		t.Fatalf("second entry = %q", toc[3])
	}
	if strings.Join(pages[1], "|") != "Page 2 of a|1 / 2" || strings.Join(pages[2], "|") != "Page 3 of b|2 / 2" {
		t.Fatalf("content pages = %q %q", pages[1], pages[2])
	}

	parsed, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	objs := rawpdf.Objects(parsed.Objects)
	outlines := objs.Dict(rawpdf.Catalog(parsed).KV["Outlines"])
	if outlines == nil {
		t.Fatalf("bookmarks missing")
	}
	if n, _ := objs.Number(outlines.KV["Count"]); n != 3 {
		t.Fatalf("bookmark count = %v", n)
	}
	chapter := objs.Dict(outlines.KV["First"])
	if chapter == nil || chapter != objs.Dict(outlines.KV["Last"]) || objs.Dict(chapter.KV["First"]) == nil {
		t.Fatalf("pages should nest under the chapter")
	}
}

func TestExportCountsContentsPages(t *testing.T) {
	entries := []Entry{PageEntry{GlobalPage: 1, Title: "One"}, PageEntry{GlobalPage: 8, Title: "Eight"}}
	res, err := NewExporter().Export(context.Background(), pdfLibrary(t), entries, Options{TOC: true, PageNumbers: true, CountTOCPages: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	pages := pageTexts(t, res.Data)
	footers := []string{pages[0][len(pages[0])-1], pages[1][len(pages[1])-1], pages[2][len(pages[2])-1]}
	if strings.Join(footers, ",") != "1 / 3,2 / 3,3 / 3" {
		t.Fatalf("footers = %q", footers)
	}
}

func TestExportWithoutExtras(t *testing.T) {
	entries := []Entry{ChapterEntry{Title: "ignored"}, PageEntry{GlobalPage: 5}, PageEntry{GlobalPage: 1}}
	res, err := NewExporter().Export(context.Background(), pdfLibrary(t), entries, Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	pages := pageTexts(t, res.Data)
	if len(pages) != 2 || pages[0][0] != "Page 2 of b" || pages[1][0] != "Page 1 of a" || len(pages[0]) != 1 {
		t.Fatalf("pages = %q", pages)
	}
	if res.FileName != "recomposed.pdf" {
		t.Fatalf("default name = %q", res.FileName)
	}
}

func TestExportSkipsMissingSource(t *testing.T) {
	lib := pdfLibrary(t)
	delete(lib.raw, 1)
	entries := []Entry{PageEntry{GlobalPage: 6, Title: "gone"}, PageEntry{GlobalPage: 3, Title: "kept"}, PageEntry{GlobalPage: 7, Title: "gone too"}}
	res, err := NewExporter().Export(context.Background(), lib, entries, Options{TOC: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Pages != 2 || len(res.Skipped) != 2 || res.Skipped[0] != 6 || res.Skipped[1] != 7 {
		t.Fatalf("result = %+v", res)
	}
	toc := pageTexts(t, res.Data)[0]
	if len(toc) != 2 || !strings.HasSuffix(toc[1], " 2") {
		t.Fatalf("contents = %q", toc)
	}

	lib.raw[0] = []byte("not a pdf")
	if _, err := NewExporter().Export(context.Background(), lib, entries, Options{}); !errors.Is(err, ErrNoPagesSelected) {
		t.Fatalf("nothing readable: %v", err)
	}
}

func TestExportCoverageFailureReenables(t *testing.T) {
	e := NewExporter(WithFont("Go", goregular.TTF))
	lib := pdfLibrary(t)
	bad := []Entry{PageEntry{GlobalPage: 1, Title: "第一章"}}
	if _, err := e.Export(context.Background(), lib, bad, Options{TOC: true}); !errors.Is(err, ErrGlyphCoverage) {
		t.Fatalf("expected a coverage error, got %v", err)
	}
	good := []Entry{PageEntry{GlobalPage: 1, Title: "Chapter one"}}
	if _, err := e.Export(context.Background(), lib, good, Options{TOC: true}); err != nil {
		t.Fatalf("exporter should accept the next export: %v", err)
	}
	if _, err := e.Export(context.Background(), lib, bad, Options{}); err != nil {
		t.Fatalf("titles are not drawn without contents: %v", err)
	}
}

func TestExportInProgress(t *testing.T) {
	lib := pdfLibrary(t)
	lib.rawCalled = make(chan struct{})
	lib.rawGate = make(chan struct{})
	e := NewExporter()
	entries := []Entry{PageEntry{GlobalPage: 1}}

	done := make(chan error)
	go func() {
		_, err := e.Export(context.Background(), lib, entries, Options{})
		done <- err
	}()
	<-lib.rawCalled
	if _, err := e.Export(context.Background(), lib, entries, Options{}); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("concurrent export: %v", err)
	}
	close(lib.rawGate)
	if err := <-done; err != nil {
		t.Fatalf("first export: %v", err)
	}
	lib.rawGate = nil
	if _, err := e.Export(context.Background(), lib, entries, Options{}); err != nil {
		t.Fatalf("export after completion: %v", err)
	}
}

func TestFileName(t *testing.T) {
	e := NewExporter()
	cases := map[string]string{
		"":             "recomposed.pdf",
		"  ":           "recomposed.pdf",
		"book":         "book.pdf",
		" book.pdf ":   "book.pdf",
		"BOOK.PDF":     "BOOK.PDF",
		"notes.txt":    "notes.txt.pdf",
		"archive.pdfx": "archive.pdfx.pdf",
	}
	for in, want := range cases {
		if got := e.FileName(in); got != want {
			t.Fatalf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NewExporter(WithLocale(ParseLocale("de"))).FileName(""); got != "neu-zusammengestellt.pdf" {
		t.Fatalf("localized name = %q", got)
	}
}

func TestLayoutPaginates(t *testing.T) {
	entries := make([]Entry, 40)
	for i := range entries {
		entries[i] = PageEntry{GlobalPage: i + 1, Title: "x"}
	}
	lines, pages := layoutTOC("Contents", entries, a4Short)
	if pages != 2 {
		t.Fatalf("pages = %d", pages)
	}
	if lines[22].page != 0 || lines[23].page != 1 {
		t.Fatalf("page break after %v / %v", lines[22], lines[23])
	}
	if math.Abs(lines[23].y-(a4Short-topMargin)) > 1e-9 {
		t.Fatalf("continuation starts at %v", lines[23].y)
	}
	for _, l := range lines {
		if l.y < bottomMargin {
			t.Fatalf("line below the margin: %+v", l)
		}
	}
	numbered := Number(entries, pages)
	if numbered[0].Number != 3 {
		t.Fatalf("first content page = %d", numbered[0].Number)
	}
}

func TestLeaderFitsLongTitle(t *testing.T) {
	font, err := construct.Create().EmbedFont("Go", goregular.TTF, "")
	if err != nil {
		t.Fatalf("embed font: %v", err)
	}
	long := strings.Repeat("A very long section title ", 8)
	for _, w := range []float64{a4Long, a4Short} {
		line := leader(font, long, "123", w)
		if !strings.HasSuffix(line, " 123") || !strings.Contains(line, "... .") {
			t.Fatalf("line = %q", line)
		}
		if got := font.Measure(line, pageSize); entryX+got > w-rightMargin {
			t.Fatalf("line ends at %v, past %v", entryX+got, w-rightMargin)
		}
	}
	if got := leader(font, "Short", "4", a4Short); !strings.HasPrefix(got, "Short ...") {
		t.Fatalf("short title changed: %q", got)
	}

	chapter := fit(font, long, chapterSize, a4Short-entryX-rightMargin)
	if !strings.HasSuffix(chapter, ellipsis) || font.Measure(chapter, chapterSize) > a4Short-entryX-rightMargin {
		t.Fatalf("chapter = %q", chapter)
	}
}
