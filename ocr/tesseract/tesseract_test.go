package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfdeck/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func TestEngineRecognizeLines(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 240, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13, Dot: fixed.P(10, 30)}
	d.DrawString("Hello PDF")
	d.Dot = fixed.P(10, 70)
	d.DrawString("Second line")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	res, err := New("eng").Recognize(context.Background(), ocr.NewInput("scan", buf.Bytes(), ocr.ImageFormatPNG))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	got := strings.ToLower(res.PlainText)
	if !strings.Contains(got, "hello") {
		t.Fatalf("unexpected OCR output: %q", res.PlainText)
	}
	if len(res.Lines) == 0 || res.Lines[0].Bounds.IsEmpty() {
		t.Fatalf("expected positioned lines, got %+v", res.Lines)
	}
	if res.InputID != "scan" {
		t.Fatalf("unexpected input id: %s", res.InputID)
	}
}

func TestCropImageOffsets(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 40))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data, x, y, err := cropImage(buf.Bytes(), &ocr.Region{X: 10, Y: 5, Width: 20, Height: 20})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if x != 10 || y != 5 {
		t.Fatalf("offset = %v,%v", x, y)
	}
	cropped, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode crop: %v", err)
	}
	if b := cropped.Bounds(); b.Dx() != 20 || b.Dy() != 20 {
		t.Fatalf("crop bounds = %v", b)
	}
	if _, _, _, err := cropImage(buf.Bytes(), &ocr.Region{X: 100, Y: 100, Width: 5, Height: 5}); err == nil {
		t.Fatalf("expected error for region outside the image")
	}
}
