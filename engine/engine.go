// Package engine parses PDF files into page handles that expose geometry,
// positioned text runs and a raster operation.
package engine

import (
	"context"
	"errors"
	"image/draw"

	"github.com/wudi/pdfkit/coords"
)

var (
	ErrPageOutOfRange = errors.New("engine: page out of range")
	ErrClosed         = errors.New("engine: document closed")
	ErrNoPages        = errors.New("engine: document has no pages")
)

// Engine turns raw file bytes into a document handle.
type Engine interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is a parsed file. Handles are safe for concurrent use.
type Document interface {
	PageCount() int
	// Page returns the 1-based local page n.
	Page(ctx context.Context, n int) (Page, error)
	Close() error
}

type Page interface {
	Number() int
	Viewport(scale float64) Viewport
	// TextContent returns the text runs in content stream order.
	TextContent(ctx context.Context) ([]TextItem, error)
	// Render paints the page onto dst, which should be sized vp.Width by
	// vp.Height pixels.
	Render(ctx context.Context, dst draw.Image, vp Viewport) error
}

// TextItem is one shown string. Transform maps glyph space of a unit-size
// font to page user space, so Transform[4], Transform[5] is the run origin
// and Height the font size in user space units.
type TextItem struct {
	Text      string
	Transform coords.Matrix
	Width     float64
	Height    float64
}

// X returns the run origin abscissa in user space.
func (t TextItem) X() float64 { return t.Transform[4] }

// Y returns the run baseline ordinate in user space.
func (t TextItem) Y() float64 { return t.Transform[5] }
