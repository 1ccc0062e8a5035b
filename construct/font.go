package construct

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"github.com/wudi/pdfkit/fonts"
	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/ir/semantic"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfdeck/rawpdf"
)

// ErrMissingGlyphs matches every CoverageError.
var ErrMissingGlyphs = errors.New("construct: font lacks glyphs")

// CoverageError lists the runes a font cannot draw.
type CoverageError struct {
	Font    string
	Missing []rune
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("construct: font %s has no glyph for %q", e.Font, string(e.Missing))
}

func (e *CoverageError) Is(target error) bool { return target == ErrMissingGlyphs }

// Font is a TrueType font embedded in full as a Type0 Identity-H font.
type Font struct {
	name   string
	ref    raw.ObjectRef
	font   *semantic.Font
	face   *gofont.Face
	shaper shaping.HarfbuzzShaper
	// used maps drawn glyph ids to the text they stand for.
	used map[int]string
}

type shapedGlyph struct {
	id      int
	advance float64 // 1/1000 em
	text    string
}

// EmbedFont parses a TrueType font. Every rune of charset must have a glyph,
// otherwise a CoverageError is returned and nothing is embedded.
func (d *Document) EmbedFont(name string, data []byte, charset string) (*Font, error) {
	sf, err := fonts.LoadTrueType(name, data)
	if err != nil {
		return nil, fmt.Errorf("construct: %w", err)
	}
	face, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("construct: parse font: %w", err)
	}
	f := &Font{name: sf.BaseFont, font: sf, face: face, used: make(map[int]string)}
	if missing := f.Missing(charset); len(missing) > 0 {
		return nil, &CoverageError{Font: f.name, Missing: missing}
	}
	f.ref = d.table.Reserve()
	d.fonts = append(d.fonts, f)
	return f, nil
}

// Name returns the PostScript name of the font.
func (f *Font) Name() string { return f.name }

// Missing returns the distinct runes of text without a glyph, in order of
// appearance. Control characters are ignored.
func (f *Font) Missing(text string) []rune {
	var out []rune
	seen := make(map[rune]bool)
	for _, r := range text {
		if unicode.IsControl(r) || seen[r] {
			continue
		}
		seen[r] = true
		if _, ok := f.face.NominalGlyph(r); !ok {
			out = append(out, r)
		}
	}
	return out
}

// Measure returns the advance width of text at size points.
func (f *Font) Measure(text string, size float64) float64 {
	var total float64
	for _, g := range f.shape(text) {
		total += g.advance
	}
	return total / 1000 * size
}

func (f *Font) shape(text string) []shapedGlyph {
	runes := []rune(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text))
	if len(runes) == 0 {
		return nil
	}
	out := f.shaper.Shape(shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      f.face,
		Size:      fixed.Int26_6(1000 * 64),
		Script:    scriptOf(runes),
		Language:  language.DefaultLanguage(),
	})
	glyphs := make([]shapedGlyph, len(out.Glyphs))
	for i, g := range out.Glyphs {
		end := len(runes)
		for _, next := range out.Glyphs[i+1:] {
			if next.ClusterIndex > g.ClusterIndex {
				end = next.ClusterIndex
				break
			}
		}
		text := ""
		if (i == 0 || out.Glyphs[i-1].ClusterIndex != g.ClusterIndex) && g.ClusterIndex < end {
			text = string(runes[g.ClusterIndex:end])
		}
		glyphs[i] = shapedGlyph{id: int(g.GlyphID), advance: float64(g.XAdvance) / 64, text: text}
	}
	return glyphs
}

func scriptOf(runes []rune) language.Script {
	for _, r := range runes {
		if s := language.LookupScript(r); s != language.Common && s != language.Inherited {
			return s
		}
	}
	return language.Latin
}

// record remembers drawn glyphs for the width and ToUnicode tables.
func (f *Font) record(glyphs []shapedGlyph) {
	for _, g := range glyphs {
		if prev, ok := f.used[g.id]; !ok || (prev == "" && g.text != "") {
			f.used[g.id] = g.text
		}
	}
}

// width returns the advance of glyph id in 1/1000 em.
func (f *Font) width(id int) float64 {
	if w, ok := f.font.Widths[id]; ok {
		return float64(w)
	}
	return float64(f.defaultWidth())
}

func (f *Font) defaultWidth() int {
	if f.font.DescendantFont != nil && f.font.DescendantFont.DW > 0 {
		return f.font.DescendantFont.DW
	}
	return 1000
}

// finish writes the font objects.
func (f *Font) finish(t *rawpdf.Table) {
	desc := f.font.Descriptor
	file := raw.Dict()
	file.KV["Length1"] = raw.NumberInt(int64(len(desc.FontFile)))
	fileRef := t.Add(raw.NewStream(file, desc.FontFile))

	fd := raw.Dict()
	fd.KV["Type"] = raw.NameLiteral("FontDescriptor")
	fd.KV["FontName"] = raw.NameLiteral(f.name)
	fd.KV["Flags"] = raw.NumberInt(int64(desc.Flags))
	fd.KV["ItalicAngle"] = raw.NumberFloat(desc.ItalicAngle)
	fd.KV["Ascent"] = raw.NumberFloat(math.Round(desc.Ascent))
	fd.KV["Descent"] = raw.NumberFloat(-math.Abs(math.Round(desc.Descent)))
	fd.KV["CapHeight"] = raw.NumberFloat(math.Round(desc.CapHeight))
	fd.KV["StemV"] = raw.NumberInt(int64(desc.StemV))
	fd.KV["FontBBox"] = raw.NewArray(
		raw.NumberFloat(math.Round(desc.FontBBox[0])), raw.NumberFloat(math.Round(desc.FontBBox[1])),
		raw.NumberFloat(math.Round(desc.FontBBox[2])), raw.NumberFloat(math.Round(desc.FontBBox[3])))
	fd.KV["FontFile2"] = raw.RefObj{R: fileRef}
	fdRef := t.Add(fd)

	ids := make([]int, 0, len(f.used))
	for id := range f.used {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	widths := make([]raw.Object, 0, 2*len(ids))
	for _, id := range ids {
		widths = append(widths, raw.NumberInt(int64(id)), raw.NewArray(raw.NumberInt(int64(f.width(id)))))
	}

	sysInfo := raw.Dict()
	sysInfo.KV["Registry"] = raw.Str([]byte("Adobe"))
	sysInfo.KV["Ordering"] = raw.Str([]byte("Identity"))
	sysInfo.KV["Supplement"] = raw.NumberInt(0)

	cid := raw.Dict()
	cid.KV["Type"] = raw.NameLiteral("Font")
	cid.KV["Subtype"] = raw.NameLiteral("CIDFontType2")
	cid.KV["BaseFont"] = raw.NameLiteral(f.name)
	cid.KV["CIDSystemInfo"] = sysInfo
	cid.KV["FontDescriptor"] = raw.RefObj{R: fdRef}
	cid.KV["DW"] = raw.NumberInt(int64(f.defaultWidth()))
	cid.KV["W"] = raw.NewArray(widths...)
	cid.KV["CIDToGIDMap"] = raw.NameLiteral("Identity")
	cidRef := t.Add(cid)

	tu := t.Add(stream(toUnicodeCMap(ids, f.used)))

	type0 := raw.Dict()
	type0.KV["Type"] = raw.NameLiteral("Font")
	type0.KV["Subtype"] = raw.NameLiteral("Type0")
	type0.KV["BaseFont"] = raw.NameLiteral(f.name)
	type0.KV["Encoding"] = raw.NameLiteral("Identity-H")
	type0.KV["DescendantFonts"] = raw.NewArray(raw.RefObj{R: cidRef})
	type0.KV["ToUnicode"] = raw.RefObj{R: tu}
	t.Set(f.ref, type0)
}

func toUnicodeCMap(ids []int, text map[int]string) []byte {
	var entries []int
	for _, id := range ids {
		if text[id] != "" {
			entries = append(entries, id)
		}
	}
	var b bytes.Buffer
	b.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	b.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	b.WriteString("/CMapName /Adobe-Identity-UCS def\n/CMapType 2 def\n")
	b.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for len(entries) > 0 {
		n := min(len(entries), 100)
		fmt.Fprintf(&b, "%d beginbfchar\n", n)
		for _, id := range entries[:n] {
			fmt.Fprintf(&b, "<%04X> <", id)
			for _, u := range utf16Units(text[id]) {
				fmt.Fprintf(&b, "%04X", u)
			}
			b.WriteString(">\n")
		}
		b.WriteString("endbfchar\n")
		entries = entries[n:]
	}
	b.WriteString("endcmap\nCMapName currentdict /CMap defineresource pop\nend\nend\n")
	return b.Bytes()
}
