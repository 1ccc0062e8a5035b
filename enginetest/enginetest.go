// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/wudi/pdfkit/coords"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/rawpdf"
)

var prefix = []byte("%PDF-fake ")

// Page is a fake page. Lines become text items, one per line, set from the
// top of the page.
type Page struct {
	Lines  []string
	Width  float64
	Height float64
	// TextErr and RenderErr make the respective calls fail.
	TextErr   error
	RenderErr error
	// Gate, when set, blocks Render until it is closed.
	Gate chan struct{}
}

type Document struct {
	Pages []Page
}

// Engine opens registered fake documents by key.
type Engine struct {
	mu      sync.Mutex
	docs    map[string]*Document
	opened  atomic.Int64
	renders atomic.Int64
	open    map[*handle]bool
}

func New() *Engine {
	return &Engine{docs: make(map[string]*Document), open: make(map[*handle]bool)}
}

// Register stores d and returns the bytes that open it.
func (e *Engine) Register(key string, d *Document) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs[key] = d
	return append(append([]byte(nil), prefix...), key...)
}

// Pages registers a document of n pages whose only line is "<key> page i".
func (e *Engine) Pages(key string, n int) []byte {
	d := &Document{Pages: make([]Page, n)}
	for i := range d.Pages {
		d.Pages[i].Lines = []string{fmt.Sprintf("%s page %d", key, i+1)}
	}
	return e.Register(key, d)
}

// Opened counts successful Open calls.
func (e *Engine) Opened() int { return int(e.opened.Load()) }

// Renders counts completed Render calls.
func (e *Engine) Renders() int { return int(e.renders.Load()) }

// Live counts handles opened and not closed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

func (e *Engine) Open(ctx context.Context, data []byte) (engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, prefix) {
		return nil, errors.New("enginetest: not a fake document")
	}
	key := string(data[len(prefix):])
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[key]
	if !ok {
		return nil, fmt.Errorf("enginetest: unknown document %q", key)
	}
	if len(d.Pages) == 0 {
		return nil, engine.ErrNoPages
	}
	h := &handle{e: e, doc: d}
	e.open[h] = true
	e.opened.Add(1)
	return h, nil
}

type handle struct {
	e      *Engine
	doc    *Document
	closed atomic.Bool
}

func (h *handle) PageCount() int { return len(h.doc.Pages) }

func (h *handle) Page(ctx context.Context, n int) (engine.Page, error) {
	if h.closed.Load() {
		return nil, engine.ErrClosed
	}
	if n < 1 || n > len(h.doc.Pages) {
		return nil, engine.ErrPageOutOfRange
	}
	return &page{h: h, n: n, p: h.doc.Pages[n-1]}, nil
}

func (h *handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.e.mu.Lock()
	delete(h.e.open, h)
	h.e.mu.Unlock()
	return nil
}

type page struct {
	h *handle
	n int
	p Page
}

func (p *page) Number() int { return p.n }

func (p *page) Viewport(scale float64) engine.Viewport {
	w, h := p.p.Width, p.p.Height
	if w == 0 || h == 0 {
		w, h = 612, 792
	}
	return engine.NewViewport(rawpdf.Rect{URX: w, URY: h}, scale, 0)
}

func (p *page) TextContent(ctx context.Context) ([]engine.TextItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.h.closed.Load() {
		return nil, engine.ErrClosed
	}
	if p.p.TextErr != nil {
		return nil, p.p.TextErr
	}
	items := make([]engine.TextItem, len(p.p.Lines))
	for i, line := range p.p.Lines {
		items[i] = engine.TextItem{
			Text:      line,
			Transform: coords.Matrix{12, 0, 0, 12, 72, 750 - 18*float64(i)},
			Width:     6 * float64(len(line)),
			Height:    12,
		}
	}
	return items, nil
}

func (p *page) Render(ctx context.Context, dst draw.Image, vp engine.Viewport) error {
	if p.p.Gate != nil {
		select {
		case <-p.p.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.p.RenderErr != nil {
		return p.p.RenderErr
	}
	p.h.e.renders.Add(1)
	return nil
}
