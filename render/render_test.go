package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/enginetest"
	"github.com/wudi/pdfdeck/pageindex"
	"github.com/wudi/pdfdeck/rawpdf"
	"github.com/wudi/pdfdeck/search"
)

type source struct{ doc engine.Document }

func (s source) Resolve(n int) (pageindex.Entry, bool) {
	if n < 1 || n > s.doc.PageCount() {
		return pageindex.Entry{}, false
	}
	return pageindex.Entry{LocalPage: n, DocumentName: "fake.pdf"}, true
}

func (s source) Page(ctx context.Context, n int) (engine.Page, pageindex.Entry, error) {
	e, _ := s.Resolve(n)
	p, err := s.doc.Page(ctx, n)
	return p, e, err
}

func open(t *testing.T, eng *enginetest.Engine, d *enginetest.Document) source {
	t.Helper()
	doc, err := eng.Open(context.Background(), eng.Register("doc", d))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return source{doc: doc}
}

func TestComputeScale(t *testing.T) {
	d := DefaultDisplay
	cases := []struct {
		mode     ZoomMode
		explicit float64
		want     float64
	}{
		{FitWidth, 0, 1023.0 / 612},
		{FitHeight, 0, 720.0 / 792},
		{Explicit, 1.5, 1.5},
		{Explicit, 0, 1},
		{"bogus", 3, 1},
	}
	for _, tc := range cases {
		if got := ComputeScale(tc.mode, tc.explicit, 612, 792, d); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: scale = %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestRenderFrameGeometry(t *testing.T) {
	eng := enginetest.New()
	src := open(t, eng, &enginetest.Document{Pages: []enginetest.Page{{Lines: []string{"Hello world", "second"}}}})
	r := New()
	frame, err := r.Render(context.Background(), src, Request{Page: 1, Zoom: FitWidth, Highlight: search.MustCompile("world")})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	scale := 1023.0 / 612
	if math.Abs(frame.Scale-scale) > 1e-9 || math.Abs(frame.PixelScale-2*scale) > 1e-9 {
		t.Fatalf("scales = %v / %v", frame.Scale, frame.PixelScale)
	}
	if math.Abs(frame.LogicalWidth-1023) > 1e-6 {
		t.Fatalf("logical width = %v", frame.LogicalWidth)
	}
	if got := frame.Image.Bounds().Dx(); got < 2046 || got > 2047 {
		t.Fatalf("raster width = %d", got)
	}
	if !strings.Contains(frame.TextLayer, `Hello <span class="wavy-underline">world</span>`) {
		t.Fatalf("highlight missing from text layer: %s", frame.TextLayer)
	}
	if r.Last() != frame {
		t.Fatalf("last frame not kept")
	}
}

func TestRenderOutOfRangeIsNoop(t *testing.T) {
	eng := enginetest.New()
	src := open(t, eng, &enginetest.Document{Pages: []enginetest.Page{{}}})
	r := New()
	first, _ := r.Render(context.Background(), src, Request{Page: 1, Zoom: FitWidth})
	for _, n := range []int{0, 2, 99} {
		frame, err := r.Render(context.Background(), src, Request{Page: n, Zoom: FitWidth})
		if frame != nil || err != nil {
			t.Fatalf("page %d: got %v %v, want no-op", n, frame, err)
		}
	}
	if r.Last() != first || eng.Renders() != 1 {
		t.Fatalf("no-op requests must not render")
	}
}

func waitActive(t *testing.T, r *Renderer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		active := r.active
		r.mu.Unlock()
		if active == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("renderer never reached %d active requests", n)
}

func TestRenderGuard(t *testing.T) {
	eng := enginetest.New()
	gate := make(chan struct{})
	src := open(t, eng, &enginetest.Document{Pages: []enginetest.Page{{Gate: gate}, {Lines: []string{"two"}}}})
	r := New()
	type result struct {
		frame *Frame
		err   error
	}
	firstCh := make(chan result, 1)
	go func() {
		f, err := r.Render(context.Background(), src, Request{Page: 1, Zoom: FitWidth})
		firstCh <- result{f, err}
	}()
	waitActive(t, r, 1)

	if _, err := r.Render(context.Background(), src, Request{Page: 1, Zoom: FitWidth}); !errors.Is(err, ErrRenderInFlight) {
		t.Fatalf("duplicate request: %v", err)
	}

	secondCh := make(chan result, 1)
	go func() {
		f, err := r.Render(context.Background(), src, Request{Page: 2, Zoom: FitWidth})
		secondCh <- result{f, err}
	}()
	waitActive(t, r, 2)
	close(gate)

	first := <-firstCh
	if !errors.Is(first.err, ErrSuperseded) {
		t.Fatalf("first render should be superseded, got %v", first.err)
	}
	second := <-secondCh
	if second.err != nil || second.frame.Page != 2 {
		t.Fatalf("second render: %+v", second)
	}
	if r.Last().Page != 2 {
		t.Fatalf("last frame should be page 2")
	}
}

func TestRenderFailureKeepsLastFrame(t *testing.T) {
	eng := enginetest.New()
	src := open(t, eng, &enginetest.Document{Pages: []enginetest.Page{{}, {RenderErr: errors.New("corrupt page")}}})
	r := New()
	good, err := r.Render(context.Background(), src, Request{Page: 1, Zoom: Explicit, Scale: 1})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := r.Render(context.Background(), src, Request{Page: 2, Zoom: Explicit, Scale: 1}); err == nil {
		t.Fatalf("expected an engine error")
	}
	if r.Last() != good {
		t.Fatalf("failed render must keep the previous frame")
	}
	if _, err := r.Render(context.Background(), src, Request{Page: 1, Zoom: FitHeight}); err != nil {
		t.Fatalf("guard should be released after a failure: %v", err)
	}
}

func TestTextLayerKeepsText(t *testing.T) {
	eng := enginetest.New()
	src := open(t, eng, &enginetest.Document{Pages: []enginetest.Page{{Lines: []string{"a<b & c"}}}})
	p, _, _ := src.Page(context.Background(), 1)
	items, _ := p.TextContent(context.Background())
	vp := engine.NewViewport(rawpdf.Rect{URX: 612, URY: 792}, 1, 0)
	layer, err := TextLayer(items, vp, search.MustCompile("/b/"))
	if err != nil {
		t.Fatalf("text layer: %v", err)
	}
	want := `a&lt;<span class="wavy-underline">b</span> &amp; c`
	if !strings.Contains(layer, want) {
		t.Fatalf("layer = %s", layer)
	}
	// baseline 750 at 12pt sits at device top 792-750-12
	if !strings.Contains(layer, "left:72px;top:30px;font-size:12px") {
		t.Fatalf("span not positioned: %s", layer)
	}
}

func TestMagnify(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	red, blue := color.RGBA{255, 0, 0, 255}, color.RGBA{0, 0, 255, 255}
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			if x < 100 {
				img.Set(x, y, red)
			} else {
				img.Set(x, y, blue)
			}
		}
	}
	frame := &Frame{Scale: 1, PixelScale: 2, Image: img}
	out, err := Magnify(frame, 50, 50, 20, 2)
	if err != nil {
		t.Fatalf("magnify: %v", err)
	}
	if out.Bounds().Dx() != 20 || out.RGBAAt(2, 10) != red || out.RGBAAt(17, 10) != blue {
		t.Fatalf("unexpected magnifier content: %v %v", out.RGBAAt(2, 10), out.RGBAAt(17, 10))
	}
	corner, _ := Magnify(frame, 0, 0, 20, 2)
	if corner.RGBAAt(2, 2).A != 0 || corner.RGBAAt(15, 15) != red {
		t.Fatalf("area outside the page should stay transparent")
	}
	if _, err := Magnify(nil, 0, 0, 10, 1); err == nil {
		t.Fatalf("expected an error without a frame")
	}
}

func TestThumbnail(t *testing.T) {
	eng := enginetest.New()
	src := open(t, eng, &enginetest.Document{Pages: []enginetest.Page{{}}})
	thumb, err := New().Thumbnail(context.Background(), src, 1, 153)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if b := thumb.Bounds(); b.Dx() != 153 || b.Dy() != 198 {
		t.Fatalf("thumbnail size = %v", b)
	}
}
