package engine

import (
	"bytes"
	"context"
	"math"

	"github.com/wudi/pdfkit/coords"
	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/scanner"

	"github.com/wudi/pdfdeck/rawpdf"
)

// maxFormDepth bounds nested form XObjects.
const maxFormDepth = 8

// spaceThreshold is the TJ displacement, in thousandths of an em, beyond
// which a gap is reported as a space.
const spaceThreshold = 250

// operand is one content stream operand.
type operand struct {
	num   float64
	isNum bool
	name  string
	str   []byte
	isStr bool
	arr   []operand
}

// imagePlacement records where an image XObject was painted.
type imagePlacement struct {
	name   string
	stream raw.Object
	ctm    coords.Matrix
}

type textState struct {
	font      *fontInfo
	size      float64
	charSpace float64
	wordSpace float64
	hscale    float64
	leading   float64
	rise      float64
	tm, tlm   coords.Matrix
}

type interpreter struct {
	ctx    context.Context
	doc    *document
	items  []TextItem
	images []imagePlacement
}

func (in *interpreter) run(data []byte, resources *raw.DictObj, ctm coords.Matrix, depth int) error {
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	stack := []coords.Matrix{}
	ts := textState{font: fallbackFont, hscale: 1, tm: coords.Identity(), tlm: coords.Identity()}
	var ops []operand

	for {
		if err := in.ctx.Err(); err != nil {
			return err
		}
		tok, err := s.Next()
		if err != nil {
			break
		}
		if tok.Type != scanner.TokenKeyword {
			if op, ok := readOperand(s, tok); ok {
				ops = append(ops, op)
			}
			continue
		}
		switch kw := tok.Str; kw {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm, stack = stack[n-1], stack[:n-1]
			}
		case "cm":
			if m, ok := matrixOf(ops); ok {
				ctm = m.Multiply(ctm)
			}
		case "BT":
			ts.tm, ts.tlm = coords.Identity(), coords.Identity()
		case "Tf":
			if len(ops) >= 2 {
				ts.font = in.fontFor(resources, ops[len(ops)-2].name)
				ts.size = ops[len(ops)-1].num
			}
		case "Tc":
			ts.charSpace = lastNum(ops, ts.charSpace)
		case "Tw":
			ts.wordSpace = lastNum(ops, ts.wordSpace)
		case "Tz":
			ts.hscale = lastNum(ops, ts.hscale*100) / 100
		case "TL":
			ts.leading = lastNum(ops, ts.leading)
		case "Ts":
			ts.rise = lastNum(ops, ts.rise)
		case "Td", "TD":
			if len(ops) >= 2 {
				tx, ty := ops[len(ops)-2].num, ops[len(ops)-1].num
				if kw == "TD" {
					ts.leading = -ty
				}
				ts.tlm = coords.Translate(tx, ty).Multiply(ts.tlm)
				ts.tm = ts.tlm
			}
		case "Tm":
			if m, ok := matrixOf(ops); ok {
				ts.tm, ts.tlm = m, m
			}
		case "T*":
			ts.nextLine()
		case "Tj":
			if len(ops) > 0 {
				in.show(&ts, ctm, []operand{ops[len(ops)-1]})
			}
		case "'":
			ts.nextLine()
			if len(ops) > 0 {
				in.show(&ts, ctm, []operand{ops[len(ops)-1]})
			}
		case "\"":
			if len(ops) >= 3 {
				ts.wordSpace, ts.charSpace = ops[len(ops)-3].num, ops[len(ops)-2].num
				ts.nextLine()
				in.show(&ts, ctm, []operand{ops[len(ops)-1]})
			}
		case "TJ":
			if len(ops) > 0 {
				in.show(&ts, ctm, ops[len(ops)-1].arr)
			}
		case "Do":
			if len(ops) > 0 {
				in.paintXObject(resources, ops[len(ops)-1].name, ctm, depth)
			}
		}
		ops = ops[:0]
	}
	return nil
}

func (ts *textState) nextLine() {
	ts.tlm = coords.Translate(0, -ts.leading).Multiply(ts.tlm)
	ts.tm = ts.tlm
}

// show emits one text item for a Tj/TJ operand list and advances the text
// matrix.
func (in *interpreter) show(ts *textState, ctm coords.Matrix, parts []operand) {
	start := ts.tm
	trm := coords.Matrix{ts.size * ts.hscale, 0, 0, ts.size, 0, ts.rise}.Multiply(start).Multiply(ctm)
	var text []byte
	advance := 0.0
	for _, p := range parts {
		if p.isNum {
			adj := -p.num / 1000 * ts.size * ts.hscale
			advance += adj
			if -p.num > spaceThreshold && len(text) > 0 && text[len(text)-1] != ' ' {
				text = append(text, ' ')
			}
			continue
		}
		if !p.isStr {
			continue
		}
		for _, g := range ts.font.glyphs(p.str) {
			w := ts.font.width(g.code)/1000*ts.size + ts.charSpace
			if g.n == 1 && g.code == 32 {
				w += ts.wordSpace
			}
			advance += w * ts.hscale
			text = append(text, g.text...)
		}
	}
	ts.tm = coords.Translate(advance, 0).Multiply(start)
	if len(text) == 0 {
		return
	}
	full := start.Multiply(ctm)
	p0 := full.Transform(coords.Point{})
	p1 := full.Transform(coords.Point{X: advance})
	in.items = append(in.items, TextItem{
		Text:      string(text),
		Transform: trm,
		Width:     math.Hypot(p1.X-p0.X, p1.Y-p0.Y),
		Height:    math.Hypot(trm[2], trm[3]),
	})
}

func (in *interpreter) fontFor(resources *raw.DictObj, name string) *fontInfo {
	objs := in.doc.objs
	fonts := objs.Dict(objs.Get(resources, "Font"))
	if fonts == nil {
		return fallbackFont
	}
	obj, ok := fonts.KV[name]
	if !ok {
		return fallbackFont
	}
	return in.doc.font(in.ctx, obj)
}

func (in *interpreter) paintXObject(resources *raw.DictObj, name string, ctm coords.Matrix, depth int) {
	objs := in.doc.objs
	xobjs := objs.Dict(objs.Get(resources, "XObject"))
	if xobjs == nil {
		return
	}
	ref := xobjs.KV[name]
	dict := objs.Dict(ref)
	if dict == nil {
		return
	}
	switch objs.Name(dict.KV["Subtype"]) {
	case "Image":
		in.images = append(in.images, imagePlacement{name: name, stream: ref, ctm: ctm})
	case "Form":
		if depth >= maxFormDepth {
			return
		}
		data, err := in.doc.streamData(in.ctx, ref)
		if err != nil {
			in.doc.log.Debug("form xobject decode failed")
			return
		}
		formCTM := ctm
		if arr := objs.Array(dict.KV["Matrix"]); arr != nil {
			if m, ok := matrixOf(numbersOf(objs, arr)); ok {
				formCTM = m.Multiply(ctm)
			}
		}
		formRes := objs.Dict(dict.KV["Resources"])
		if formRes == nil {
			formRes = resources
		}
		_ = in.run(data, formRes, formCTM, depth+1)
	}
}

// readOperand converts a scanner token, consuming nested arrays. Dictionaries
// (marked content properties) are skipped.
func readOperand(s scanner.Scanner, tok scanner.Token) (operand, bool) {
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return operand{num: float64(tok.Int), isNum: true}, true
		}
		return operand{num: tok.Float, isNum: true}, true
	case scanner.TokenName:
		return operand{name: tok.Str}, true
	case scanner.TokenString:
		return operand{str: tok.Bytes, isStr: true}, true
	case scanner.TokenArray:
		var arr []operand
		for {
			next, err := s.Next()
			if err != nil {
				return operand{arr: arr}, true
			}
			if next.Type == scanner.TokenKeyword && next.Str == "]" {
				return operand{arr: arr}, true
			}
			if op, ok := readOperand(s, next); ok {
				arr = append(arr, op)
			}
		}
	case scanner.TokenDict:
		depth := 1
		for depth > 0 {
			next, err := s.Next()
			if err != nil {
				break
			}
			switch {
			case next.Type == scanner.TokenDict:
				depth++
			case next.Type == scanner.TokenKeyword && next.Str == ">>":
				depth--
			}
		}
	}
	return operand{}, false
}

func matrixOf(ops []operand) (coords.Matrix, bool) {
	if len(ops) < 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i, op := range ops[len(ops)-6:] {
		if !op.isNum {
			return coords.Matrix{}, false
		}
		m[i] = op.num
	}
	return m, true
}

func numbersOf(objs rawpdf.Objects, arr *raw.ArrayObj) []operand {
	out := make([]operand, 0, len(arr.Items))
	for _, it := range arr.Items {
		v, ok := objs.Number(it)
		out = append(out, operand{num: v, isNum: ok})
	}
	return out
}

func lastNum(ops []operand, def float64) float64 {
	if len(ops) == 0 || !ops[len(ops)-1].isNum {
		return def
	}
	return ops[len(ops)-1].num
}
