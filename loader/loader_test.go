package loader

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/enginetest"
	"github.com/wudi/pdfdeck/pdftest"
)

func TestIsPDF(t *testing.T) {
	cases := []struct {
		f    File
		want bool
	}{
		{File{MIME: "application/pdf"}, true},
		{File{MIME: "Application/PDF; charset=binary"}, true},
		{File{MIME: "", Data: []byte("%PDF-1.7\n")}, true},
		{File{MIME: "application/octet-stream", Data: []byte("junk\n%PDF-1.4")}, true},
		{File{MIME: "", Data: []byte("GIF89a")}, false},
		{File{MIME: "image/png", Data: []byte("%PDF-1.7")}, false},
	}
	for i, tc := range cases {
		if got := IsPDF(tc.f); got != tc.want {
			t.Fatalf("case %d: IsPDF = %v, want %v", i, got, tc.want)
		}
	}
}

func TestLoadPreservesOrderAndCollectsFailures(t *testing.T) {
	eng := enginetest.New()
	files := []File{
		{Name: "a.pdf", MIME: MIMEPDF, Data: eng.Pages("a", 3)},
		{Name: "notes.txt", MIME: "text/plain", Data: []byte("hello")},
		{Name: "broken.pdf", MIME: MIMEPDF, Data: []byte("%PDF-1.7 garbage")},
		{Name: "b.pdf", MIME: "", Data: eng.Pages("b", 5)},
	}
	res, err := New(eng, WithConcurrency(2)).Load(context.Background(), files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer res.Close()
	if len(res.Documents) != 2 || res.Documents[0].Name != "a.pdf" || res.Documents[1].Name != "b.pdf" {
		t.Fatalf("unexpected documents: %+v", res.Documents)
	}
	if res.Documents[1].Handle.PageCount() != 5 {
		t.Fatalf("page count = %d", res.Documents[1].Handle.PageCount())
	}
	if len(res.Failures) != 2 || res.Failures[0].Name != "notes.txt" || res.Failures[1].Name != "broken.pdf" {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0], ErrUnsupportedType) {
		t.Fatalf("text file should fail as unsupported, got %v", res.Failures[0].Err)
	}
}

func TestLoadNoValidDocuments(t *testing.T) {
	eng := enginetest.New()
	res, err := New(eng).Load(context.Background(), []File{{Name: "x.pdf", MIME: MIMEPDF, Data: []byte("nope")}})
	if !errors.Is(err, ErrNoValidDocuments) {
		t.Fatalf("expected ErrNoValidDocuments, got %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures should still be reported, got %+v", res.Failures)
	}
	if _, err := New(eng).Load(context.Background(), nil); !errors.Is(err, ErrNoValidDocuments) {
		t.Fatalf("empty batch should report ErrNoValidDocuments, got %v", err)
	}
}

func TestLoadWithPDFKit(t *testing.T) {
	data := pdftest.Build(t, []string{"one"}, []string{"two"})
	res, err := New(engine.New()).Load(context.Background(), []File{{Name: "real.pdf", Data: data}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer res.Close()
	if got := res.Documents[0].Handle.PageCount(); got != 2 {
		t.Fatalf("page count = %d", got)
	}
}

func TestLoadCancelledReleasesHandles(t *testing.T) {
	eng := enginetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(eng).Load(ctx, []File{{Name: "a.pdf", MIME: MIMEPDF, Data: eng.Pages("a", 1)}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if eng.Live() != 0 {
		t.Fatalf("handles leaked: %d", eng.Live())
	}
}

func TestLoadCopiesInput(t *testing.T) {
	data := pdftest.Build(t, []string{"one"})
	want := bytes.Clone(data)
	res, err := New(engine.New()).Load(context.Background(), []File{{Name: "a.pdf", MIME: MIMEPDF, Data: data}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer res.Close()
	for i := range data {
		data[i] = 0
	}
	if !bytes.Equal(res.Documents[0].Data, want) {
		t.Fatalf("document bytes changed with the caller's buffer")
	}
	p, err := res.Documents[0].Handle.Page(context.Background(), 1)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	items, err := p.TextContent(context.Background())
	if err != nil || len(items) != 1 || items[0].Text != "one" {
		t.Fatalf("text after the caller reused its buffer = %+v, %v", items, err)
	}
}
