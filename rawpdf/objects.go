// Package rawpdf works on the raw object graph of a parsed PDF: page tree
// traversal with inherited attributes, graph copying between files and
// serialization of an object table.
package rawpdf

import (
	"github.com/wudi/pdfkit/ir/raw"
)

// maxRefDepth bounds reference chains such as 1 0 R -> 2 0 R -> ...
const maxRefDepth = 32

// Objects is an object table keyed by reference.
type Objects map[raw.ObjectRef]raw.Object

// Resolve follows indirect references until a direct object is reached.
// Dangling references resolve to nil.
func (objs Objects) Resolve(o raw.Object) raw.Object {
	for i := 0; i < maxRefDepth; i++ {
		ref, ok := o.(raw.RefObj)
		if !ok {
			return o
		}
		next, ok := objs[ref.R]
		if !ok {
			return nil
		}
		o = next
	}
	return nil
}

// Dict resolves o to a dictionary. Streams yield their dictionary.
func (objs Objects) Dict(o raw.Object) *raw.DictObj {
	switch v := objs.Resolve(o).(type) {
	case *raw.DictObj:
		return v
	case *raw.StreamObj:
		return v.Dict
	}
	return nil
}

// Array resolves o to an array.
func (objs Objects) Array(o raw.Object) *raw.ArrayObj {
	a, _ := objs.Resolve(o).(*raw.ArrayObj)
	return a
}

// Stream resolves o to a stream.
func (objs Objects) Stream(o raw.Object) *raw.StreamObj {
	s, _ := objs.Resolve(o).(*raw.StreamObj)
	return s
}

// Get returns the resolved value of key in d, or nil.
func (objs Objects) Get(d *raw.DictObj, key string) raw.Object {
	if d == nil {
		return nil
	}
	v, ok := d.KV[key]
	if !ok {
		return nil
	}
	return objs.Resolve(v)
}

// Number resolves o to a float.
func (objs Objects) Number(o raw.Object) (float64, bool) {
	n, ok := objs.Resolve(o).(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Float(), true
}

// Name resolves o to a name value, or "".
func (objs Objects) Name(o raw.Object) string {
	if n, ok := objs.Resolve(o).(raw.NameObj); ok {
		return n.Val
	}
	return ""
}

// Rect resolves o to a normalized [llx lly urx ury] rectangle.
func (objs Objects) Rect(o raw.Object) (Rect, bool) {
	arr := objs.Array(o)
	if arr == nil || len(arr.Items) != 4 {
		return Rect{}, false
	}
	var v [4]float64
	for i, it := range arr.Items {
		f, ok := objs.Number(it)
		if !ok {
			return Rect{}, false
		}
		v[i] = f
	}
	r := Rect{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r, true
}

type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }
func (r Rect) Empty() bool     { return r.Width() <= 0 || r.Height() <= 0 }

// Array returns the rectangle as a PDF array.
func (r Rect) Array() *raw.ArrayObj {
	return raw.NewArray(num(r.LLX), num(r.LLY), num(r.URX), num(r.URY))
}

func num(f float64) raw.NumberObj {
	if f == float64(int64(f)) {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

// RefOf returns o as a reference.
func RefOf(o raw.Object) (raw.ObjectRef, bool) {
	r, ok := o.(raw.RefObj)
	return r.R, ok
}
