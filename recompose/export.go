package recompose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/text/message"

	"github.com/wudi/pdfdeck/construct"
	"github.com/wudi/pdfdeck/observability"
)

var (
	ErrNoPagesSelected  = errors.New("recompose: select at least one page")
	ErrExportInProgress = errors.New("recompose: an export is already running")
	// ErrGlyphCoverage is returned when the embedded font cannot draw the
	// generated text.
	ErrGlyphCoverage = construct.ErrMissingGlyphs
)

// A4 in points.
const (
	a4Short = 595.28
	a4Long  = 841.89
)

// ToC layout in points.
const (
	headingSize   = 24
	headingX      = 50
	topMargin     = 70
	headingGap    = 40
	entryX        = 60
	chapterSize   = 14
	chapterStep   = 25
	pageSize      = 12
	pageStep      = 20
	bottomMargin  = 50
	rightMargin   = 40
	leaderPadding = 10
	minLeaderDots = 3
	footerSize    = 10
	footerY       = 20
)

const ellipsis = "..."

// Options control one export.
type Options struct {
	// FileName is the suggested output name; ".pdf" is appended when
	// missing and a localized default is used when empty.
	FileName string
	TOC      bool
	// Portrait lays out ToC pages in portrait instead of landscape A4.
	Portrait    bool
	PageNumbers bool
	// CountTOCPages includes the ToC pages in the "i / N" footers.
	CountTOCPages bool
	Bookmarks     bool
	// Title is stored in the document information dictionary.
	Title string
}

// Result is an exported document.
type Result struct {
	FileName string
	Data     []byte
	// Pages counts every page of the output, TOCPages the generated ones.
	Pages    int
	TOCPages int
	// Skipped lists global pages left out because their source was
	// unavailable.
	Skipped []int
}

// Exporter writes recomposed documents. One export runs at a time; a
// failed export leaves the exporter ready for the next attempt.
type Exporter struct {
	log      observability.Logger
	tracer   observability.Tracer
	print    *message.Printer
	fontName string
	font     []byte
	busy     atomic.Bool
}

// NewExporter returns an exporter. Without WithFont the Go Regular font is
// embedded, which covers Latin, Greek and Cyrillic only.
func NewExporter(opts ...Option) *Exporter {
	o := newOptions(opts)
	e := &Exporter{
		log:      o.log,
		tracer:   o.tracer,
		print:    printer(o.locale),
		fontName: o.fontName,
		font:     o.font,
	}
	if len(e.font) == 0 {
		e.fontName, e.font = "GoRegular", goregular.TTF
	}
	return e
}

// FileName applies the naming rule to name.
func (e *Exporter) FileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = e.print.Sprintf(msgFileName)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

type placed struct {
	entry PageEntry
	src   *construct.Source
	index int
}

type tocLine struct {
	page  int
	y     float64
	text  string
	size  float64
	x     float64
	entry int
}

// Export builds the document for entries in their current order.
func (e *Exporter) Export(ctx context.Context, lib Library, entries []Entry, opts Options) (*Result, error) {
	if len(Pages(entries)) == 0 {
		return nil, ErrNoPagesSelected
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrExportInProgress
	}
	defer e.busy.Store(false)

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanExport)
	defer span.Finish()
	start := time.Now()

	res, err := e.export(ctx, lib, entries, opts)
	if err != nil {
		span.SetError(err)
		e.log.Error("export failed", observability.Error("error", err))
		return nil, err
	}
	span.SetTag("pages", res.Pages)
	e.log.Info("export finished",
		observability.String("file", res.FileName),
		observability.Int("pages", res.Pages),
		observability.Int("skipped", len(res.Skipped)),
		observability.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (e *Exporter) export(ctx context.Context, lib Library, entries []Entry, opts Options) (*Result, error) {
	res := &Result{FileName: e.FileName(opts.FileName)}

	// each source is parsed once per export
	sources := make(map[int]*construct.Source)
	var pages []placed
	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pe, ok := entry.(PageEntry)
		if !ok {
			kept = append(kept, entry)
			continue
		}
		loc, ok := lib.Resolve(pe.GlobalPage)
		if !ok {
			e.skip(res, pe.GlobalPage, "page does not resolve")
			continue
		}
		src, cached := sources[loc.DocumentIndex]
		if !cached {
			data, ok := lib.Raw(loc.DocumentIndex)
			if ok && len(data) > 0 {
				var err error
				if src, err = construct.Open(ctx, data); err != nil {
					e.log.Warn("source unreadable", observability.String("document", loc.DocumentName), observability.Error("error", err))
					src = nil
				}
			}
			sources[loc.DocumentIndex] = src
		}
		if src == nil {
			e.skip(res, pe.GlobalPage, "source bytes unavailable")
			continue
		}
		if loc.LocalPage > src.PageCount() {
			e.skip(res, pe.GlobalPage, "page missing from source")
			continue
		}
		pages = append(pages, placed{entry: pe, src: src, index: loc.LocalPage - 1})
		kept = append(kept, pe)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no selected page could be read", ErrNoPagesSelected)
	}

	doc := construct.Create(construct.WithLogger(e.log))
	if opts.Title != "" {
		doc.SetTitle(opts.Title)
	}
	var font *construct.Font
	if opts.TOC || opts.PageNumbers {
		var err error
		if font, err = doc.EmbedFont(e.fontName, e.font, e.charset(kept, opts)); err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}
	}

	w, h := a4Long, a4Short
	if opts.Portrait {
		w, h = h, w
	}
	var lines []tocLine
	if opts.TOC {
		lines, res.TOCPages = layoutTOC(e.print.Sprintf(msgContents), kept, h)
		numbered := Number(kept, res.TOCPages)
		tocPages := make([]*construct.Page, res.TOCPages)
		for i := range tocPages {
			tocPages[i] = doc.AddBlankPage(w, h)
		}
		for _, l := range lines {
			text := l.text
			if l.entry >= 0 {
				text = leader(font, text, fmt.Sprint(numbered[l.entry].Number), w)
			} else {
				text = fit(font, text, l.size, w-l.x-rightMargin)
			}
			if err := tocPages[l.page].DrawText(text, l.x, l.y, l.size, font); err != nil {
				return nil, fmt.Errorf("draw contents: %w", err)
			}
		}
	}

	for _, p := range pages {
		if _, err := doc.CopyPage(p.src, p.index); err != nil {
			return nil, fmt.Errorf("copy page %d: %w", p.entry.GlobalPage, err)
		}
	}
	res.Pages = doc.PageCount()

	if opts.PageNumbers {
		if err := stamp(doc, font, res.TOCPages, opts.CountTOCPages); err != nil {
			return nil, err
		}
	}
	if opts.Bookmarks {
		addBookmarks(doc, kept, res.TOCPages)
	}

	data, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	res.Data = data
	return res, nil
}

func (e *Exporter) skip(res *Result, global int, reason string) {
	e.log.Warn("page skipped", observability.Int("page", global), observability.String("reason", reason))
	res.Skipped = append(res.Skipped, global)
}

// charset is every rune the export may draw.
func (e *Exporter) charset(entries []Entry, opts Options) string {
	var b strings.Builder
	b.WriteString("0123456789 ./")
	if opts.TOC {
		b.WriteString(e.print.Sprintf(msgContents))
		for _, entry := range entries {
			b.WriteString(entry.EntryTitle())
		}
	}
	return b.String()
}

// layoutTOC assigns every entry a ToC page and baseline. The heading opens
// the first page; an entry that would fall below the bottom margin starts
// a new page.
func layoutTOC(heading string, entries []Entry, h float64) ([]tocLine, int) {
	lines := []tocLine{{page: 0, y: h - topMargin, text: heading, size: headingSize, x: headingX, entry: -1}}
	page, y := 0, h-topMargin-headingGap
	for i, entry := range entries {
		size, step := float64(pageSize), float64(pageStep)
		if _, ok := entry.(ChapterEntry); ok {
			size, step = chapterSize, chapterStep
		}
		if y < bottomMargin {
			page++
			y = h - topMargin
		}
		l := tocLine{page: page, y: y, text: entry.EntryTitle(), size: size, x: entryX, entry: -1}
		if _, ok := entry.(PageEntry); ok {
			l.entry = i
		}
		lines = append(lines, l)
		y -= step
	}
	return lines, page + 1
}

// leader fills the gap between title and number with dots so the line ends
// near the right margin. Titles too wide for the column are cut short.
func leader(font *construct.Font, title, number string, w float64) string {
	dot := font.Measure(".", pageSize)
	room := w - entryX - rightMargin - font.Measure("  "+number, pageSize) - leaderPadding - minLeaderDots*dot
	title = fit(font, title, pageSize, room)
	avail := w - entryX - rightMargin - font.Measure(title+"  ", pageSize) - font.Measure(number, pageSize) - leaderPadding
	n := 0
	if dot > 0 && avail > 0 {
		n = int(math.Floor(avail / dot))
	}
	return title + " " + strings.Repeat(".", n) + " " + number
}

// fit shortens text with a trailing ellipsis until it is at most width wide.
func fit(font *construct.Font, text string, size, width float64) string {
	if font.Measure(text, size) <= width {
		return text
	}
	r := []rune(text)
	for len(r) > 0 && font.Measure(string(r)+ellipsis, size) > width {
		r = r[:len(r)-1]
	}
	return strings.TrimRight(string(r), " ") + ellipsis
}

// stamp draws "i / N" centred at the bottom of every content page, and of
// the ToC pages too when they are counted.
func stamp(doc *construct.Document, font *construct.Font, tocPages int, countTOC bool) error {
	first, total := tocPages, doc.PageCount()-tocPages
	if countTOC {
		first, total = 0, doc.PageCount()
	}
	for i := first; i < doc.PageCount(); i++ {
		p := doc.Page(i)
		label := fmt.Sprintf("%d / %d", i-first+1, total)
		pw, _ := p.Size()
		x := (pw - font.Measure(label, footerSize)) / 2
		if err := p.DrawText(label, x, footerY, footerSize, font); err != nil {
			return fmt.Errorf("stamp page %d: %w", i+1, err)
		}
	}
	return nil
}

// addBookmarks mirrors the ToC: chapters are top-level and hold the pages
// that follow them; a chapter opens its first page.
func addBookmarks(doc *construct.Document, entries []Entry, tocPages int) {
	var chapter *construct.Outline
	next := tocPages
	for i, entry := range entries {
		switch v := entry.(type) {
		case ChapterEntry:
			target := -1
			for _, later := range entries[i+1:] {
				if _, ok := later.(PageEntry); ok {
					target = next
					break
				}
			}
			chapter = doc.AddOutline(v.Title, target)
		case PageEntry:
			if chapter != nil {
				chapter.Add(v.Title, next)
			} else {
				doc.AddOutline(v.Title, next)
			}
			next++
		}
	}
}
