package engine

import (
	"math"

	"github.com/wudi/pdfkit/coords"

	"github.com/wudi/pdfdeck/rawpdf"
)

// Viewport maps page user space to a top-left origin device space.
type Viewport struct {
	Scale    float64
	Rotation int
	Width    float64
	Height   float64
	// Transform converts user space points to device pixels.
	Transform coords.Matrix
}

// NewViewport computes the device geometry of box at scale with the given
// clockwise rotation. The y axis is flipped so device y grows downwards.
func NewViewport(box rawpdf.Rect, scale float64, rotation int) Viewport {
	rotation = rawpdf.NormalizeRotation(rotation)
	cx := (box.URX + box.LLX) / 2
	cy := (box.URY + box.LLY) / 2

	var a, b, c, d float64
	switch rotation {
	case 90:
		a, b, c, d = 0, 1, 1, 0
	case 180:
		a, b, c, d = -1, 0, 0, 1
	case 270:
		a, b, c, d = 0, -1, -1, 0
	default:
		a, b, c, d = 1, 0, 0, -1
	}

	var offX, offY, w, h float64
	if a == 0 {
		offX = math.Abs(cy-box.LLY) * scale
		offY = math.Abs(cx-box.LLX) * scale
		w = math.Abs(box.URY-box.LLY) * scale
		h = math.Abs(box.URX-box.LLX) * scale
	} else {
		offX = math.Abs(cx-box.LLX) * scale
		offY = math.Abs(cy-box.LLY) * scale
		w = math.Abs(box.URX-box.LLX) * scale
		h = math.Abs(box.URY-box.LLY) * scale
	}
	return Viewport{
		Scale:    scale,
		Rotation: rotation,
		Width:    w,
		Height:   h,
		Transform: coords.Matrix{
			a * scale, b * scale, c * scale, d * scale,
			offX - a*scale*cx - c*scale*cy,
			offY - b*scale*cx - d*scale*cy,
		},
	}
}

// ToDevice maps a user space point to device space.
func (v Viewport) ToDevice(x, y float64) (float64, float64) {
	p := v.Transform.Transform(coords.Point{X: x, Y: y})
	return p.X, p.Y
}

// Rescaled returns the same page geometry at a different scale.
func (v Viewport) Rescaled(scale float64) Viewport {
	if v.Scale == 0 {
		return v
	}
	k := scale / v.Scale
	t := v.Transform
	return Viewport{
		Scale:     scale,
		Rotation:  v.Rotation,
		Width:     v.Width * k,
		Height:    v.Height * k,
		Transform: coords.Matrix{t[0] * k, t[1] * k, t[2] * k, t[3] * k, t[4] * k, t[5] * k},
	}
}
