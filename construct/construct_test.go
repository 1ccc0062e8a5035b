package construct

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/wudi/pdfkit/parser"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/pdftest"
	"github.com/wudi/pdfdeck/rawpdf"
)

func source(t *testing.T, data []byte) *Source {
	t.Helper()
	src, err := Open(context.Background(), data)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	return src
}

func goFont(t *testing.T, d *Document) *Font {
	t.Helper()
	f, err := d.EmbedFont("Go", goregular.TTF, "")
	if err != nil {
		t.Fatalf("embed font: %v", err)
	}
	return f
}

// pageItems reopens data and returns the text runs of every page.
func pageItems(t *testing.T, data []byte) [][]engine.TextItem {
	t.Helper()
	doc, err := engine.New().Open(context.Background(), data)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer doc.Close()
	out := make([][]engine.TextItem, doc.PageCount())
	for i := range out {
		p, err := doc.Page(context.Background(), i+1)
		if err != nil {
			t.Fatalf("page %d: %v", i+1, err)
		}
		if out[i], err = p.TextContent(context.Background()); err != nil {
			t.Fatalf("text %d: %v", i+1, err)
		}
	}
	return out
}

func texts(items []engine.TextItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Text
	}
	return strings.Join(parts, "|")
}

func TestCopyPagesAndStamp(t *testing.T) {
	src := source(t, pdftest.Numbered(t, "a", 3))
	d := Create()
	f := goFont(t, d)
	for i, idx := range []int{2, 0} {
		p, err := d.CopyPage(src, idx)
		if err != nil {
			t.Fatalf("copy %d: %v", idx, err)
		}
		label := []string{"1 / 2", "2 / 2"}[i]
		if err := p.DrawText(label, 300, 20, 10, f); err != nil {
			t.Fatalf("stamp: %v", err)
		}
	}
	out, err := d.Bytes()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	pages := pageItems(t, out)
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if got := texts(pages[0]); got != "Page 3 of a|1 / 2" {
		t.Fatalf("page 1 text = %q", got)
	}
	if got := texts(pages[1]); got != "Page 1 of a|2 / 2" {
		t.Fatalf("page 2 text = %q", got)
	}
	stamp := pages[0][1]
	if math.Abs(stamp.X()-300) > 1e-6 || math.Abs(stamp.Y()-20) > 1e-6 || math.Abs(stamp.Height-10) > 1e-6 {
		t.Fatalf("stamp placed at %v,%v size %v", stamp.X(), stamp.Y(), stamp.Height)
	}
	if math.Abs(stamp.Width-f.Measure("1 / 2", 10)) > 0.01 {
		t.Fatalf("stamp width %v, measured %v", stamp.Width, f.Measure("1 / 2", 10))
	}
}

func TestCopyPageErrors(t *testing.T) {
	src := source(t, pdftest.Numbered(t, "a", 2))
	d := Create()
	if _, err := d.CopyPage(src, 2); !errors.Is(err, ErrPageIndex) {
		t.Fatalf("out of range: %v", err)
	}
	if _, err := d.CopyPage(src, 1); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := d.CopyPage(src, 1); !errors.Is(err, ErrDuplicatePage) {
		t.Fatalf("duplicate: %v", err)
	}
	if d.PageCount() != 1 {
		t.Fatalf("failed copies must not add pages")
	}
}

func TestBlankPageText(t *testing.T) {
	d := Create()
	f := goFont(t, d)
	p := d.AddBlankPage(842, 595)
	if err := p.DrawText("Table of Contents", 60, 525, 24, f); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := p.DrawText("Résumé ..... 3", 60, 485, 12, f); err != nil {
		t.Fatalf("draw: %v", err)
	}
	out, err := d.Bytes()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	doc, err := engine.New().Open(context.Background(), out)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer doc.Close()
	page, _ := doc.Page(context.Background(), 1)
	if vp := page.Viewport(1); vp.Width != 842 || vp.Height != 595 {
		t.Fatalf("page size %vx%v", vp.Width, vp.Height)
	}
	items, _ := page.TextContent(context.Background())
	if got := texts(items); got != "Table of Contents|Résumé ..... 3" {
		t.Fatalf("text = %q", got)
	}
	if items[0].X() != 60 || items[0].Y() != 525 {
		t.Fatalf("heading at %v,%v", items[0].X(), items[0].Y())
	}
}

func TestCoverage(t *testing.T) {
	d := Create()
	_, err := d.EmbedFont("Go", goregular.TTF, "Chapter 漢字")
	var cov *CoverageError
	if !errors.As(err, &cov) || !errors.Is(err, ErrMissingGlyphs) {
		t.Fatalf("expected a coverage error, got %v", err)
	}
	if string(cov.Missing) != "漢字" {
		t.Fatalf("missing = %q", string(cov.Missing))
	}

	f := goFont(t, d)
	if m := f.Missing("tab\tand newline\n"); len(m) != 0 {
		t.Fatalf("control characters should be ignored: %q", string(m))
	}
	p := d.AddBlankPage(100, 100)
	if err := p.DrawText("中", 10, 10, 12, f); !errors.Is(err, ErrMissingGlyphs) {
		t.Fatalf("drawing uncovered text: %v", err)
	}
}

func TestMeasure(t *testing.T) {
	f := goFont(t, Create())
	one := f.Measure("0", 12)
	if one <= 0 {
		t.Fatalf("digit width = %v", one)
	}
	if got := f.Measure("000", 12); math.Abs(got-3*one) > 1e-9 {
		t.Fatalf("three digits = %v, want %v", got, 3*one)
	}
	if got := f.Measure("0", 24); math.Abs(got-2*one) > 1e-9 {
		t.Fatalf("width should scale with size")
	}
	if f.Measure("", 12) != 0 {
		t.Fatalf("empty text has no width")
	}
}

func TestOutline(t *testing.T) {
	d := Create()
	d.AddBlankPage(200, 200)
	d.AddBlankPage(200, 200)
	ch := d.AddOutline("Intro", 0)
	ch.Add("Über", 1)
	d.AddOutline("Appendix", -1)
	out, err := d.Bytes()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	objs := rawpdf.Objects(doc.Objects)
	root := objs.Dict(rawpdf.Catalog(doc).KV["Outlines"])
	if root == nil {
		t.Fatalf("no outline root")
	}
	if n, _ := objs.Number(root.KV["Count"]); n != 3 {
		t.Fatalf("outline count = %v", n)
	}
	first := objs.Dict(root.KV["First"])
	child := objs.Dict(first.KV["First"])
	title, _ := objs.Resolve(child.KV["Title"]).(interface{ Value() []byte })
	if title == nil || !bytes.HasPrefix(title.Value(), []byte{0xFE, 0xFF}) {
		t.Fatalf("non-ASCII title should be UTF-16BE")
	}
	if objs.Array(child.KV["Dest"]) == nil {
		t.Fatalf("child bookmark has no destination")
	}
	last := objs.Dict(root.KV["Last"])
	if last.KV["Dest"] != nil {
		t.Fatalf("bookmark without page should have no destination")
	}
}

func TestSaveGuards(t *testing.T) {
	var buf bytes.Buffer
	if err := Create().Save(&buf); !errors.Is(err, ErrNoPages) {
		t.Fatalf("empty document: %v", err)
	}
	d := Create()
	d.AddBlankPage(10, 10)
	if err := d.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := d.Save(&buf); !errors.Is(err, ErrSaved) {
		t.Fatalf("second save: %v", err)
	}
}
