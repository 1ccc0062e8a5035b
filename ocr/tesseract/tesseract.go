// Package tesseract implements ocr.Engine on top of the gosseract client.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	// JPEG decoding for region crops of DCT-encoded page images.
	_ "image/jpeg"

	"github.com/otiai10/gosseract/v2"

	"github.com/wudi/pdfdeck/ocr"
)

// Engine recognizes text lines with Tesseract.
type Engine struct {
	clientFactory func() *gosseract.Client
	languages     []string
}

// New constructs a Tesseract-backed engine. languages are used when an input
// carries no hints of its own.
func New(languages ...string) *Engine {
	return &Engine{clientFactory: gosseract.NewClient, languages: append([]string(nil), languages...)}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on a single image input.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	imgData, offX, offY, err := cropImage(in.Image, in.Region)
	if err != nil {
		return ocr.Result{}, err
	}
	if err := c.SetImageFromBytes(imgData); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}
	langs := in.Languages
	if len(langs) == 0 {
		langs = e.languages
	}
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return ocr.Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	for k, v := range in.Metadata {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return ocr.Result{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize lines: %w", err)
	}
	lines := make([]ocr.TextLine, 0, len(boxes))
	texts := make([]string, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, ocr.TextLine{
			Text: text,
			Bounds: ocr.Region{
				X:      float64(b.Box.Min.X) + offX,
				Y:      float64(b.Box.Min.Y) + offY,
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Confidence: b.Confidence / 100.0,
		})
		texts = append(texts, text)
	}
	return ocr.Result{InputID: in.ID, PlainText: strings.Join(texts, "\n"), Lines: lines}, nil
}

// cropImage returns the bytes to recognize and the offset of the crop within
// the original image.
func cropImage(data []byte, region *ocr.Region) ([]byte, float64, float64, error) {
	if region == nil || region.IsEmpty() {
		return data, 0, 0, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode for region: %w", err)
	}
	rect := image.Rect(
		int(math.Round(region.X)),
		int(math.Round(region.Y)),
		int(math.Round(region.X+region.Width)),
		int(math.Round(region.Y+region.Height)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, 0, 0, fmt.Errorf("region outside image bounds")
	}
	subImg, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, 0, 0, fmt.Errorf("image does not support sub-image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, subImg.SubImage(rect)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode cropped image: %w", err)
	}
	return buf.Bytes(), float64(rect.Min.X), float64(rect.Min.Y), nil
}
