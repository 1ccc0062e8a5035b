// Package construct assembles new PDF files from pages of parsed sources,
// blank pages and text drawn with embedded TrueType fonts.
package construct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/parser"
	"github.com/wudi/pdfkit/writer"

	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/rawpdf"
)

var (
	ErrPageIndex     = errors.New("construct: page index out of range")
	ErrNoPages       = errors.New("construct: document has no pages")
	ErrSaved         = errors.New("construct: document already saved")
	ErrDuplicatePage = errors.New("construct: source page already copied")
)

// Source is a parsed input file pages are copied from.
type Source struct {
	objs  rawpdf.Objects
	pages []rawpdf.Page
}

// Open parses data for copying.
func Open(ctx context.Context, data []byte) (*Source, error) {
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("construct: parse: %w", err)
	}
	pages, err := rawpdf.Pages(doc)
	if err != nil {
		return nil, fmt.Errorf("construct: %w", err)
	}
	return &Source{objs: doc.Objects, pages: pages}, nil
}

func (s *Source) PageCount() int { return len(s.pages) }

// Document is a file under construction.
type Document struct {
	table    *rawpdf.Table
	pagesRef raw.ObjectRef
	pages    []*Page
	copiers  map[*Source]*rawpdf.Copier
	copied   map[pageKey]bool
	fonts    []*Font
	outline  []*Outline
	title    string
	saved    bool
	log      observability.Logger
}

type pageKey struct {
	src   *Source
	index int
}

type Option func(*Document)

func WithLogger(l observability.Logger) Option {
	return func(d *Document) { d.log = observability.OrNop(l) }
}

// Create starts an empty document.
func Create(opts ...Option) *Document {
	d := &Document{
		table:   rawpdf.NewTable(),
		copiers: make(map[*Source]*rawpdf.Copier),
		copied:  make(map[pageKey]bool),
		log:     observability.NopLogger{},
	}
	d.pagesRef = d.table.Reserve()
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetTitle sets the document information title.
func (d *Document) SetTitle(title string) { d.title = title }

func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the zero-based page i of the output.
func (d *Document) Page(i int) *Page {
	if i < 0 || i >= len(d.pages) {
		return nil
	}
	return d.pages[i]
}

// CopyPage appends page index (zero-based) of src. Resources shared between
// pages of the same source are copied once. A source page can be copied
// only once per document.
func (d *Document) CopyPage(src *Source, index int) (*Page, error) {
	if src == nil || index < 0 || index >= len(src.pages) {
		return nil, fmt.Errorf("%w: %d", ErrPageIndex, index)
	}
	c, ok := d.copiers[src]
	if !ok {
		c = rawpdf.NewCopier(d.table, src.objs)
		d.copiers[src] = c
	}
	key := pageKey{src, index}
	if d.copied[key] {
		return nil, fmt.Errorf("%w: %d", ErrDuplicatePage, index)
	}
	d.copied[key] = true
	sp := src.pages[index]
	ref := c.CopyPage(sp)
	p := &Page{doc: d, ref: ref, box: sp.CropBox, rotate: sp.Rotate}
	d.pages = append(d.pages, p)
	return p, nil
}

// AddBlankPage appends an empty w x h page.
func (d *Document) AddBlankPage(w, h float64) *Page {
	box := rawpdf.Rect{URX: w, URY: h}
	dict := raw.Dict()
	dict.KV["Type"] = raw.NameLiteral("Page")
	dict.KV["MediaBox"] = box.Array()
	dict.KV["Resources"] = raw.Dict()
	p := &Page{doc: d, ref: d.table.Add(dict), box: box}
	d.pages = append(d.pages, p)
	return p
}

// Page is one page of the output. Text drawn on it is painted above the
// original content.
type Page struct {
	doc     *Document
	ref     raw.ObjectRef
	box     rawpdf.Rect
	rotate  int
	overlay bytes.Buffer
	fonts   map[*Font]string
}

// Size returns the visible width and height in points, ignoring rotation.
func (p *Page) Size() (float64, float64) { return p.box.Width(), p.box.Height() }

// Rotate returns the page rotation in degrees.
func (p *Page) Rotate() int { return p.rotate }

// DrawText paints text with its baseline origin at (x, y), measured from
// the lower left corner of the visible area.
func (p *Page) DrawText(text string, x, y, size float64, f *Font) error {
	if f == nil {
		return errors.New("construct: no font")
	}
	if missing := f.Missing(text); len(missing) > 0 {
		return &CoverageError{Font: f.name, Missing: missing}
	}
	glyphs := f.shape(text)
	if len(glyphs) == 0 {
		return nil
	}
	f.record(glyphs)
	name := p.fontName(f)
	fmt.Fprintf(&p.overlay, "BT\n0 g\n/%s %s Tf\n%s %s Td\n[", name, fmtNum(size), fmtNum(p.box.LLX+x), fmtNum(p.box.LLY+y))
	p.overlay.WriteByte('<')
	for i, g := range glyphs {
		fmt.Fprintf(&p.overlay, "%04X", g.id)
		if adj := f.width(g.id) - g.advance; (adj > 0.01 || adj < -0.01) && i < len(glyphs)-1 {
			fmt.Fprintf(&p.overlay, "> %s <", fmtNum(adj))
		}
	}
	p.overlay.WriteString(">] TJ\nET\n")
	return nil
}

// fontName returns the resource name of f on this page.
func (p *Page) fontName(f *Font) string {
	if p.fonts == nil {
		p.fonts = make(map[*Font]string)
	}
	if name, ok := p.fonts[f]; ok {
		return name
	}
	name := fmt.Sprintf("PDeckF%d", len(p.fonts)+1)
	p.fonts[f] = name
	return name
}

// finish links the page into the page tree and merges its overlay.
func (p *Page) finish() {
	objs := p.doc.table.Objects()
	dict := objs.Dict(p.doc.table.Get(p.ref))
	dict.KV["Parent"] = raw.RefObj{R: p.doc.pagesRef}
	if p.overlay.Len() == 0 {
		return
	}
	table := p.doc.table

	res := raw.Dict()
	if orig := objs.Dict(dict.KV["Resources"]); orig != nil {
		for k, v := range orig.KV {
			res.KV[k] = v
		}
	}
	fontDict := raw.Dict()
	if orig := objs.Dict(res.KV["Font"]); orig != nil {
		for k, v := range orig.KV {
			fontDict.KV[k] = v
		}
	}
	rename := make(map[string]string, len(p.fonts))
	for f, name := range p.fonts {
		unique := name
		for i := 1; fontDict.KV[unique] != nil; i++ {
			unique = fmt.Sprintf("%s_%d", name, i)
		}
		fontDict.KV[unique] = raw.RefObj{R: f.ref}
		rename[name] = unique
	}
	res.KV["Font"] = fontDict
	dict.KV["Resources"] = res

	overlay := p.overlay.String()
	for name, unique := range rename {
		if name != unique {
			overlay = strings.ReplaceAll(overlay, "/"+name+" ", "/"+unique+" ")
		}
	}

	var contents []raw.Object
	switch c := objs.Resolve(dict.KV["Contents"]).(type) {
	case *raw.ArrayObj:
		contents = append(contents, c.Items...)
	case *raw.StreamObj:
		contents = append(contents, dict.KV["Contents"])
	}
	if len(contents) == 0 {
		dict.KV["Contents"] = raw.RefObj{R: table.Add(stream([]byte(overlay)))}
		return
	}
	open := raw.RefObj{R: table.Add(stream([]byte("q\n")))}
	closing := raw.RefObj{R: table.Add(stream([]byte("Q\n" + overlay)))}
	items := append([]raw.Object{open}, contents...)
	dict.KV["Contents"] = raw.NewArray(append(items, closing)...)
}

func stream(data []byte) *raw.StreamObj {
	d := raw.Dict()
	d.KV["Length"] = raw.NumberInt(int64(len(data)))
	return raw.NewStream(d, data)
}

// Save writes the finished document. The document should not be modified
// afterwards.
func (d *Document) Save(w io.Writer) error {
	if d.saved {
		return ErrSaved
	}
	if len(d.pages) == 0 {
		return ErrNoPages
	}
	d.saved = true
	for _, f := range d.fonts {
		f.finish(d.table)
	}
	kids := make([]raw.Object, len(d.pages))
	for i, p := range d.pages {
		p.finish()
		kids[i] = raw.RefObj{R: p.ref}
	}
	pages := raw.Dict()
	pages.KV["Type"] = raw.NameLiteral("Pages")
	pages.KV["Kids"] = raw.NewArray(kids...)
	pages.KV["Count"] = raw.NumberInt(int64(len(kids)))
	d.table.Set(d.pagesRef, pages)

	catalog := raw.Dict()
	catalog.KV["Type"] = raw.NameLiteral("Catalog")
	catalog.KV["Pages"] = raw.RefObj{R: d.pagesRef}
	if len(d.outline) > 0 {
		catalog.KV["Outlines"] = raw.RefObj{R: d.writeOutline()}
		catalog.KV["PageMode"] = raw.NameLiteral("UseOutlines")
	}
	root := d.table.Add(catalog)

	info := raw.Dict()
	info.KV["Producer"] = raw.Str([]byte("pdfdeck"))
	if d.title != "" {
		info.KV["Title"] = raw.Str(textString(d.title))
	}
	infoRef := d.table.Add(info)

	d.log.Debug("writing document",
		observability.Int("pages", len(d.pages)),
		observability.Int("objects", d.table.Len()))
	return d.table.Write(w, (&writer.WriterBuilder{}).Build(), rawpdf.Trailer{Root: root, Info: &infoRef})
}

// Bytes returns the saved document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fmtNum(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
