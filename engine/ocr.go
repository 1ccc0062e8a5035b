package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"math"
	"strings"

	"github.com/wudi/pdfkit/coords"

	"github.com/wudi/pdfdeck/ocr"
)

// recognize runs OCR over the images painted on a page and returns one text
// item per recognized line, positioned in page user space.
func (d *document) recognize(ctx context.Context, images []imagePlacement) ([]TextItem, error) {
	var items []TextItem
	var errs []error
	for i, placement := range images {
		img, err := d.image(ctx, placement.stream)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			errs = append(errs, err)
			continue
		}
		b := img.Bounds()
		in := ocr.NewInput(fmt.Sprintf("%s#%d", placement.name, i), buf.Bytes(), ocr.ImageFormatPNG, ocr.WithLanguages(d.ocrLangs...))
		in.Width, in.Height = b.Dx(), b.Dy()
		res, err := d.ocr.Recognize(ctx, in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, linesToItems(res.Lines, in.Width, in.Height, placement.ctm)...)
	}
	return items, errors.Join(errs...)
}

// linesToItems maps pixel line boxes through the image placement. Image
// pixel (0,0) is the top-left corner of the unit square.
func linesToItems(lines []ocr.TextLine, w, h int, ctm coords.Matrix) []TextItem {
	if w <= 0 || h <= 0 {
		return nil
	}
	toUser := func(px, py float64) coords.Point {
		return ctm.Transform(coords.Point{X: px / float64(w), Y: 1 - py/float64(h)})
	}
	var items []TextItem
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		bottomLeft := toUser(l.Bounds.X, l.Bounds.Y+l.Bounds.Height)
		topLeft := toUser(l.Bounds.X, l.Bounds.Y)
		bottomRight := toUser(l.Bounds.X+l.Bounds.Width, l.Bounds.Y+l.Bounds.Height)
		height := math.Hypot(topLeft.X-bottomLeft.X, topLeft.Y-bottomLeft.Y)
		items = append(items, TextItem{
			Text:      text,
			Transform: coords.Matrix{height, 0, 0, height, bottomLeft.X, bottomLeft.Y},
			Width:     math.Hypot(bottomRight.X-bottomLeft.X, bottomRight.Y-bottomLeft.Y),
			Height:    height,
		})
	}
	return items
}
