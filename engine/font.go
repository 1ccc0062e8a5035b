package engine

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wudi/pdfkit/ir/raw"
	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfdeck/rawpdf"
)

// glyph is one character code of a shown string.
type glyph struct {
	code uint32
	n    int
	text string
}

// fontInfo carries what text extraction needs from a font dictionary.
type fontInfo struct {
	composite    bool
	cmap         *toUnicode
	encoding     [256]rune
	widths       map[uint32]float64
	defaultWidth float64
}

func (f *fontInfo) glyphs(s []byte) []glyph {
	if f.composite {
		if f.cmap != nil {
			return f.cmap.decode(s, 2)
		}
		var out []glyph
		for i := 0; i+1 < len(s); i += 2 {
			out = append(out, glyph{code: codeOf(s[i : i+2]), n: 2})
		}
		return out
	}
	out := make([]glyph, 0, len(s))
	for _, b := range s {
		g := glyph{code: uint32(b), n: 1}
		if f.cmap != nil {
			g.text = f.cmap.entries[cmapKey{uint32(b), 1}]
		}
		if g.text == "" {
			if r := f.encoding[b]; r != 0 {
				g.text = string(r)
			}
		}
		out = append(out, g)
	}
	return out
}

// width returns the advance of code in glyph space (1/1000 em).
func (f *fontInfo) width(code uint32) float64 {
	if w, ok := f.widths[code]; ok {
		return w
	}
	return f.defaultWidth
}

var fallbackFont = func() *fontInfo {
	f := &fontInfo{defaultWidth: 500}
	f.encoding = encodingTable("WinAnsiEncoding")
	return f
}()

func (d *document) font(ctx context.Context, obj raw.Object) *fontInfo {
	ref, isRef := rawpdf.RefOf(obj)
	if isRef {
		d.mu.Lock()
		f, ok := d.fonts[ref]
		d.mu.Unlock()
		if ok {
			return f
		}
	}
	f := d.loadFont(ctx, obj)
	if isRef {
		d.mu.Lock()
		d.fonts[ref] = f
		d.mu.Unlock()
	}
	return f
}

func (d *document) loadFont(ctx context.Context, obj raw.Object) *fontInfo {
	objs := d.objs
	dict := objs.Dict(obj)
	if dict == nil {
		return fallbackFont
	}
	f := &fontInfo{widths: make(map[uint32]float64)}
	if tu := dict.KV["ToUnicode"]; tu != nil {
		if data, err := d.streamData(ctx, tu); err == nil && len(data) > 0 {
			f.cmap = parseToUnicode(data)
		}
	}

	if objs.Name(dict.KV["Subtype"]) == "Type0" {
		f.composite = true
		f.defaultWidth = 1000
		if desc := objs.Array(dict.KV["DescendantFonts"]); desc != nil && len(desc.Items) > 0 {
			cid := objs.Dict(desc.Items[0])
			if dw, ok := objs.Number(objs.Get(cid, "DW")); ok {
				f.defaultWidth = dw
			}
			readCIDWidths(objs, objs.Array(objs.Get(cid, "W")), f.widths)
		}
		return f
	}

	f.encoding = encodingTable("StandardEncoding")
	switch enc := objs.Resolve(dict.KV["Encoding"]).(type) {
	case raw.NameObj:
		f.encoding = encodingTable(enc.Val)
	case *raw.DictObj:
		if base := objs.Name(enc.KV["BaseEncoding"]); base != "" {
			f.encoding = encodingTable(base)
		}
		applyDifferences(objs, objs.Array(enc.KV["Differences"]), &f.encoding)
	}

	first := 0
	if n, ok := objs.Number(dict.KV["FirstChar"]); ok {
		first = int(n)
	}
	if ws := objs.Array(dict.KV["Widths"]); ws != nil {
		for i, w := range ws.Items {
			if v, ok := objs.Number(w); ok {
				f.widths[uint32(first+i)] = v
			}
		}
	}
	f.defaultWidth = 500
	if fd := objs.Dict(dict.KV["FontDescriptor"]); fd != nil {
		if mw, ok := objs.Number(fd.KV["MissingWidth"]); ok && mw > 0 {
			f.defaultWidth = mw
		}
	}
	return f
}

// readCIDWidths reads a /W array: c [w1 w2 ...] or cfirst clast w.
func readCIDWidths(objs rawpdf.Objects, w *raw.ArrayObj, out map[uint32]float64) {
	if w == nil {
		return
	}
	items := w.Items
	for i := 0; i < len(items); {
		start, ok := objs.Number(items[i])
		if !ok || i+1 >= len(items) {
			return
		}
		if arr := objs.Array(items[i+1]); arr != nil {
			for j, it := range arr.Items {
				if v, ok := objs.Number(it); ok {
					out[uint32(start)+uint32(j)] = v
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			return
		}
		end, ok1 := objs.Number(items[i+1])
		v, ok2 := objs.Number(items[i+2])
		if ok1 && ok2 && end >= start && end-start < 1<<16 {
			for c := uint32(start); c <= uint32(end); c++ {
				out[c] = v
			}
		}
		i += 3
	}
}

func encodingTable(name string) [256]rune {
	var t [256]rune
	cm := charmap.Windows1252
	if name == "MacRomanEncoding" {
		cm = charmap.Macintosh
	}
	for i := 0; i < 256; i++ {
		r := cm.DecodeByte(byte(i))
		if r == utf8.RuneError || r < 0x20 {
			continue
		}
		t[i] = r
	}
	if name == "StandardEncoding" {
		t['\''] = '’'
		t['`'] = '‘'
	}
	return t
}

func applyDifferences(objs rawpdf.Objects, diffs *raw.ArrayObj, t *[256]rune) {
	if diffs == nil {
		return
	}
	code := 0
	for _, it := range diffs.Items {
		switch v := objs.Resolve(it).(type) {
		case raw.NumberObj:
			code = int(v.Float())
		case raw.NameObj:
			if code >= 0 && code < 256 {
				if r, ok := glyphRune(v.Val); ok {
					t[code] = r
				}
			}
			code++
		}
	}
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "quoteright": '’',
	"quoteleft": '‘', "parenleft": '(', "parenright": ')', "asterisk": '*',
	"plus": '+', "comma": ',', "hyphen": '-', "period": '.', "slash": '/',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4', "five": '5',
	"six": '6', "seven": '7', "eight": '8', "nine": '9', "colon": ':',
	"semicolon": ';', "less": '<', "equal": '=', "greater": '>', "question": '?',
	"at": '@', "bracketleft": '[', "backslash": '\\', "bracketright": ']',
	"asciicircum": '^', "underscore": '_', "grave": '`', "braceleft": '{',
	"bar": '|', "braceright": '}', "asciitilde": '~', "bullet": '•',
	"endash": '–', "emdash": '—', "quotedblleft": '“',
	"quotedblright": '”', "ellipsis": '…', "fi": 'ﬁ', "fl": 'ﬂ',
	"copyright": '©', "registered": '®', "degree": '°',
}

func glyphRune(name string) (rune, bool) {
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	if len(name) == 1 {
		return rune(name[0]), true
	}
	if strings.HasPrefix(name, "uni") && len(name) == 7 {
		if v, err := strconv.ParseUint(name[3:], 16, 32); err == nil {
			return rune(v), true
		}
	}
	return 0, false
}
