// Package pdftest builds small PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/writer"

	"github.com/wudi/pdfdeck/rawpdf"
)

// Page describes one fixture page. Lines are set top to bottom in 12pt
// Helvetica starting at (72, 750) with an 18pt line pitch.
type Page struct {
	Lines  []string
	Rotate int
	Width  float64
	Height float64
}

// Build returns a PDF with one page per entry of pages.
func Build(t testing.TB, pages ...[]string) []byte {
	t.Helper()
	specs := make([]Page, len(pages))
	for i, lines := range pages {
		specs[i] = Page{Lines: lines}
	}
	return BuildPages(t, specs...)
}

// Numbered returns a PDF of n pages whose only line reads "Page i of name".
func Numbered(t testing.TB, name string, n int) []byte {
	t.Helper()
	pages := make([][]string, n)
	for i := range pages {
		pages[i] = []string{fmt.Sprintf("Page %d of %s", i+1, name)}
	}
	return Build(t, pages...)
}

func BuildPages(t testing.TB, pages ...Page) []byte {
	t.Helper()
	table := rawpdf.NewTable()
	pagesRef := table.Reserve()
	font := table.Add(dict(map[string]raw.Object{
		"Type":     raw.NameLiteral("Font"),
		"Subtype":  raw.NameLiteral("Type1"),
		"BaseFont": raw.NameLiteral("Helvetica"),
		"Encoding": raw.NameLiteral("WinAnsiEncoding"),
	}))
	resources := dict(map[string]raw.Object{
		"Font": dict(map[string]raw.Object{"F1": raw.RefObj{R: font}}),
	})

	kids := make([]raw.Object, 0, len(pages))
	for _, p := range pages {
		w, h := p.Width, p.Height
		if w == 0 || h == 0 {
			w, h = 612, 792
		}
		var content bytes.Buffer
		y := 750.0
		for _, line := range p.Lines {
			fmt.Fprintf(&content, "BT /F1 12 Tf 72 %g Td (%s) Tj ET\n", y, rawpdf.EscapeString([]byte(line)))
			y -= 18
		}
		stream := table.Add(raw.NewStream(raw.Dict(), content.Bytes()))
		pd := dict(map[string]raw.Object{
			"Type":      raw.NameLiteral("Page"),
			"Parent":    raw.RefObj{R: pagesRef},
			"MediaBox":  raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberFloat(w), raw.NumberFloat(h)),
			"Resources": resources,
			"Contents":  raw.RefObj{R: stream},
		})
		if p.Rotate != 0 {
			pd.KV["Rotate"] = raw.NumberInt(int64(p.Rotate))
		}
		kids = append(kids, raw.RefObj{R: table.Add(pd)})
	}
	table.Set(pagesRef, dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Pages"),
		"Kids":  raw.NewArray(kids...),
		"Count": raw.NumberInt(int64(len(kids))),
	}))
	root := table.Add(dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Catalog"),
		"Pages": raw.RefObj{R: pagesRef},
	}))

	var out bytes.Buffer
	if err := table.Write(&out, (&writer.WriterBuilder{}).Build(), rawpdf.Trailer{Root: root}); err != nil {
		t.Fatalf("pdftest: write: %v", err)
	}
	return out.Bytes()
}

func dict(kv map[string]raw.Object) *raw.DictObj {
	d := raw.Dict()
	for k, v := range kv {
		d.KV[k] = v
	}
	return d
}
