package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"

	"github.com/wudi/pdfkit/coords"
	"github.com/wudi/pdfkit/filters"
	"github.com/wudi/pdfkit/ir/raw"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfdeck/observability"
)

var (
	rasterFontOnce sync.Once
	rasterFont     *opentype.Font
	rasterFontErr  error
)

func loadRasterFont() (*opentype.Font, error) {
	rasterFontOnce.Do(func() {
		rasterFont, rasterFontErr = opentype.Parse(goregular.TTF)
	})
	return rasterFont, rasterFontErr
}

// paint draws a preview of the page: painted images at their placement and
// text runs in a regular sans face at their baseline.
func (d *document) paint(ctx context.Context, dst xdraw.Image, vp Viewport, pc *pageContent) error {
	xdraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, xdraw.Src)

	for _, img := range pc.images {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := d.image(ctx, img.stream)
		if err != nil {
			d.log.Debug("image skipped", observability.String("name", img.name), observability.Error("error", err))
			continue
		}
		rect := deviceRect(img.ctm.Multiply(vp.Transform))
		xdraw.ApproxBiLinear.Scale(dst, rect, src, src.Bounds(), xdraw.Over, nil)
	}

	otf, err := loadRasterFont()
	if err != nil {
		return fmt.Errorf("raster font: %w", err)
	}
	faces := make(map[int]font.Face)
	defer func() {
		for _, f := range faces {
			f.Close()
		}
	}()
	for _, it := range pc.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := int(math.Round(it.Height * vp.Scale))
		if size < 1 || it.Text == "" {
			continue
		}
		face, ok := faces[size]
		if !ok {
			face, err = opentype.NewFace(otf, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingNone})
			if err != nil {
				return fmt.Errorf("raster face: %w", err)
			}
			faces[size] = face
		}
		x, y := vp.ToDevice(it.X(), it.Y())
		dr := font.Drawer{
			Dst:  dst,
			Src:  image.Black,
			Face: face,
			Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
		}
		dr.DrawString(it.Text)
	}
	return nil
}

// deviceRect is the bounding box of the unit square under m.
func deviceRect(m coords.Matrix) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range []coords.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}} {
		p := m.Transform(c)
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// image decodes an image XObject. JPEG streams and 8-bit gray or RGB
// samples are supported.
func (d *document) image(ctx context.Context, obj raw.Object) (image.Image, error) {
	s := d.objs.Stream(obj)
	if s == nil || s.Dict == nil {
		return nil, errNotStream
	}
	names, _ := filters.ExtractFilters(s.Dict)
	if len(names) > 0 && names[len(names)-1] == "DCTDecode" {
		data, err := d.decode(ctx, s, 1)
		if err != nil {
			return nil, err
		}
		return jpeg.Decode(bytes.NewReader(data))
	}

	w, _ := d.objs.Number(s.Dict.KV["Width"])
	h, _ := d.objs.Number(s.Dict.KV["Height"])
	bpc, _ := d.objs.Number(s.Dict.KV["BitsPerComponent"])
	if w <= 0 || h <= 0 || bpc != 8 {
		return nil, fmt.Errorf("unsupported image %vx%v at %v bpc", w, h, bpc)
	}
	data, err := d.decode(ctx, s, 0)
	if err != nil {
		return nil, err
	}
	width, height := int(w), int(h)
	switch cs := d.objs.Name(s.Dict.KV["ColorSpace"]); cs {
	case "DeviceGray":
		if len(data) < width*height {
			return nil, fmt.Errorf("short gray image data")
		}
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, data)
		return img, nil
	case "DeviceRGB":
		if len(data) < width*height*3 {
			return nil, fmt.Errorf("short rgb image data")
		}
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height; i++ {
			copy(img.Pix[i*4:i*4+3], data[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported color space %q", cs)
	}
}
