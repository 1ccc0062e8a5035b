// Package render turns a global page into a raster frame plus an HTML text
// layer aligned with it.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/pageindex"
	"github.com/wudi/pdfdeck/search"
)

var (
	// ErrRenderInFlight drops a request for the target already being
	// rendered.
	ErrRenderInFlight = errors.New("render: same page already rendering")
	// ErrSuperseded reports a render whose result was discarded because a
	// newer request arrived meanwhile.
	ErrSuperseded = errors.New("render: superseded by a newer request")
)

type ZoomMode string

const (
	FitWidth  ZoomMode = "fit-width"
	FitHeight ZoomMode = "fit-height"
	Explicit  ZoomMode = "explicit"
)

// Source is the page access a renderer needs.
type Source interface {
	Resolve(global int) (pageindex.Entry, bool)
	Page(ctx context.Context, global int) (engine.Page, pageindex.Entry, error)
}

// Display describes the surface frames are shown on.
type Display struct {
	ViewportWidth  float64
	ViewportHeight float64
	// ChromeAllowance is subtracted from the viewport height for fit-height.
	ChromeAllowance   float64
	DevicePixelRatio  float64
	QualityMultiplier float64
}

// DefaultDisplay matches a 1024x768 window at 1x with 2x supersampling.
var DefaultDisplay = Display{
	ViewportWidth:     1024,
	ViewportHeight:    768,
	ChromeAllowance:   48,
	DevicePixelRatio:  1,
	QualityMultiplier: 2,
}

// Request names what to render.
type Request struct {
	Page int
	Zoom ZoomMode
	// Scale is used with Explicit.
	Scale     float64
	Highlight *search.Pattern
}

// Frame is a rendered page.
type Frame struct {
	Page  int
	Entry pageindex.Entry
	// Scale maps PDF points to logical (CSS) pixels; PixelScale maps them
	// to raster pixels.
	Scale         float64
	PixelScale    float64
	LogicalWidth  float64
	LogicalHeight float64
	Image         *image.RGBA
	TextLayer     string
	Viewport      engine.Viewport
}

// ComputeScale returns the display scale of a page of the given unscaled
// size.
func ComputeScale(mode ZoomMode, explicit, pageWidth, pageHeight float64, d Display) float64 {
	switch mode {
	case FitWidth:
		if pageWidth > 0 {
			return (d.ViewportWidth - 1) / pageWidth
		}
	case FitHeight:
		if pageHeight > 0 {
			return (d.ViewportHeight - d.ChromeAllowance) / pageHeight
		}
	case Explicit:
		if explicit > 0 {
			return explicit
		}
	}
	return 1
}

type target struct {
	page  int
	zoom  ZoomMode
	scale float64
}

// Renderer keeps one render in flight. A request for a different target
// waits for the running one, whose result is then dropped as stale.
type Renderer struct {
	display Display
	log     observability.Logger
	tracer  observability.Tracer

	slot chan struct{}

	mu     sync.Mutex
	gen    uint64
	active int
	latest target
	last   *Frame
}

type Option func(*Renderer)

func WithLogger(l observability.Logger) Option {
	return func(r *Renderer) { r.log = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option {
	return func(r *Renderer) {
		if t != nil {
			r.tracer = t
		}
	}
}

func WithDisplay(d Display) Option {
	return func(r *Renderer) { r.display = d }
}

func New(opts ...Option) *Renderer {
	r := &Renderer{
		display: DefaultDisplay,
		log:     observability.NopLogger{},
		tracer:  observability.NopTracer(),
		slot:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.display.DevicePixelRatio <= 0 {
		r.display.DevicePixelRatio = 1
	}
	if r.display.QualityMultiplier <= 0 {
		r.display.QualityMultiplier = 1
	}
	return r
}

// Last returns the most recent frame that was not superseded.
func (r *Renderer) Last() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Render draws req.Page. A page that does not resolve is a no-op returning
// (nil, nil) and leaves the last frame untouched.
func (r *Renderer) Render(ctx context.Context, src Source, req Request) (*Frame, error) {
	if _, ok := src.Resolve(req.Page); !ok {
		return nil, nil
	}
	key := target{page: req.Page, zoom: req.Zoom, scale: req.Scale}

	r.mu.Lock()
	if r.active > 0 && r.latest == key {
		r.mu.Unlock()
		return nil, ErrRenderInFlight
	}
	r.gen++
	gen := r.gen
	r.active++
	r.latest = key
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.slot }()

	if r.stale(gen) {
		return nil, ErrSuperseded
	}
	frame, err := r.draw(ctx, src, req)
	if err != nil {
		r.log.Warn("render failed", observability.Int("page", req.Page), observability.Error("error", err))
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return nil, ErrSuperseded
	}
	r.last = frame
	return frame, nil
}

func (r *Renderer) stale(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen != r.gen
}

func (r *Renderer) draw(ctx context.Context, src Source, req Request) (*Frame, error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanRender)
	defer span.Finish()
	span.SetTag("page", req.Page)
	start := time.Now()

	page, entry, err := src.Page(ctx, req.Page)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("page %d: %w", req.Page, err)
	}
	base := page.Viewport(1)
	scale := ComputeScale(req.Zoom, req.Scale, base.Width, base.Height, r.display)
	vp := page.Viewport(scale)
	pixelScale := scale * r.display.DevicePixelRatio * r.display.QualityMultiplier
	pixel := vp.Rescaled(pixelScale)

	type textResult struct {
		items []engine.TextItem
		err   error
	}
	textCh := make(chan textResult, 1)
	go func() {
		items, err := page.TextContent(ctx)
		textCh <- textResult{items, err}
	}()

	img := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(pixel.Width)), int(math.Ceil(pixel.Height))))
	renderErr := page.Render(ctx, img, pixel)
	text := <-textCh
	if renderErr != nil {
		span.SetError(renderErr)
		return nil, fmt.Errorf("page %d: %w", req.Page, renderErr)
	}

	frame := &Frame{
		Page:          req.Page,
		Entry:         entry,
		Scale:         scale,
		PixelScale:    pixelScale,
		LogicalWidth:  vp.Width,
		LogicalHeight: vp.Height,
		Image:         img,
		Viewport:      vp,
	}
	if text.err != nil {
		r.log.Warn("text layer unavailable", observability.Int("page", req.Page), observability.Error("error", text.err))
	} else {
		layer, err := TextLayer(text.items, vp, req.Highlight)
		if err != nil {
			r.log.Warn("text layer failed", observability.Int("page", req.Page), observability.Error("error", err))
		}
		frame.TextLayer = layer
	}
	r.log.Debug("page rendered",
		observability.Int("page", req.Page),
		observability.Float64("scale", scale),
		observability.Duration("elapsed", time.Since(start)))
	return frame, nil
}
