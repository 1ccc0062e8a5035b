package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Magnify returns a size x size pixel square showing the area around the
// logical point (x, y) of frame enlarged zoom times. Areas outside the page
// stay transparent.
func Magnify(frame *Frame, x, y float64, size int, zoom float64) (*image.RGBA, error) {
	if frame == nil || frame.Image == nil {
		return nil, errors.New("render: no frame")
	}
	if size <= 0 || zoom <= 0 {
		return nil, fmt.Errorf("render: invalid magnifier size %d or zoom %v", size, zoom)
	}
	ratio := frame.PixelScale / frame.Scale
	side := float64(size) / zoom * ratio
	cx, cy := x*ratio, y*ratio
	srcRect := image.Rect(
		int(math.Round(cx-side/2)), int(math.Round(cy-side/2)),
		int(math.Round(cx+side/2)), int(math.Round(cy+side/2)),
	)
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	visible := srcRect.Intersect(frame.Image.Bounds())
	if visible.Empty() {
		return dst, nil
	}
	// map the visible part of the source square onto the matching part of dst
	k := float64(size) / float64(srcRect.Dx())
	dstRect := image.Rect(
		int(math.Round(float64(visible.Min.X-srcRect.Min.X)*k)),
		int(math.Round(float64(visible.Min.Y-srcRect.Min.Y)*k)),
		int(math.Round(float64(visible.Max.X-srcRect.Min.X)*k)),
		int(math.Round(float64(visible.Max.Y-srcRect.Min.Y)*k)),
	)
	xdraw.CatmullRom.Scale(dst, dstRect, frame.Image, visible, xdraw.Src, nil)
	return dst, nil
}

// Thumbnail renders page global at an explicit scale and downsizes the
// raster to width pixels. It does not take the render slot and does not
// change the last frame.
func (r *Renderer) Thumbnail(ctx context.Context, src Source, global int, width int) (*image.RGBA, error) {
	if width <= 0 {
		return nil, fmt.Errorf("render: invalid thumbnail width %d", width)
	}
	page, _, err := src.Page(ctx, global)
	if err != nil {
		return nil, err
	}
	base := page.Viewport(1)
	if base.Width <= 0 {
		return nil, fmt.Errorf("render: page %d has no width", global)
	}
	// render at twice the target resolution for a cleaner downscale
	vp := page.Viewport(2 * float64(width) / base.Width)
	full := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(vp.Width)), int(math.Ceil(vp.Height))))
	if err := page.Render(ctx, full, vp); err != nil {
		return nil, err
	}
	height := int(math.Round(base.Height * float64(width) / base.Width))
	if height < 1 {
		height = 1
	}
	thumb := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), full, full.Bounds(), xdraw.Src, nil)
	return thumb, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
