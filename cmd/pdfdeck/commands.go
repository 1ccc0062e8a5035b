package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wudi/pdfdeck/recompose"
	"github.com/wudi/pdfdeck/render"
	"github.com/wudi/pdfdeck/search"
	"github.com/wudi/pdfdeck/session"
)

type documentSummary struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Pages     int    `json:"pages"`
	FirstPage int    `json:"firstGlobalPage,omitempty"`
	LastPage  int    `json:"lastGlobalPage,omitempty"`
}

func runInfo(ctx context.Context, a *app, args []string) error {
	st, err := a.open(ctx, args)
	if err != nil {
		return err
	}
	docs := st.Documents()
	out := make([]documentSummary, len(docs))
	for i, d := range docs {
		out[i] = documentSummary{Index: i, Name: d.Name, Pages: d.Handle.PageCount()}
		if first, last, ok := st.Index().DocumentRange(i); ok {
			out[i].FirstPage, out[i].LastPage = first, last
		}
	}
	if err := emitSection("documents", out); err != nil {
		return err
	}
	return emitSection("total_pages", st.Total())
}

type frameSummary struct {
	Page          int     `json:"page"`
	Document      string  `json:"document"`
	LocalPage     int     `json:"localPage"`
	Scale         float64 `json:"scale"`
	PixelScale    float64 `json:"pixelScale"`
	LogicalWidth  float64 `json:"logicalWidth"`
	LogicalHeight float64 `json:"logicalHeight"`
	Image         string  `json:"image,omitempty"`
	TextLayer     string  `json:"textLayer,omitempty"`
	Magnifier     string  `json:"magnifier,omitempty"`
	Thumbnail     string  `json:"thumbnail,omitempty"`
}

func runRender(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	page := fs.Int("page", 1, "Global page to render, or the page within -doc")
	doc := fs.Int("doc", 0, "Read -page as a page of this document (1-based)")
	zoom := fs.String("zoom", a.cfg.Viewer.ZoomMode, "fit-width, fit-height or explicit")
	scale := fs.Float64("scale", a.cfg.Viewer.Scale, "Scale for explicit zoom")
	highlight := fs.String("highlight", "", "Query whose matches are marked in the text layer")
	out := fs.String("out", "page.png", "PNG output path")
	textLayer := fs.String("textlayer", "", "Write the HTML text layer to this path")
	magnify := fs.String("magnify", "", "Write a magnifier of the point x,y (logical pixels)")
	thumb := fs.Int("thumb", 0, "Also write a thumbnail of this width")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.open(ctx, fs.Args())
	if err != nil {
		return err
	}

	if *doc > 0 {
		g, ok := a.ctl.GoToLocal(*doc-1, *page)
		if !ok {
			return fmt.Errorf("document %d has no page %d", *doc, *page)
		}
		*page = g
	}
	req := render.Request{Page: *page, Zoom: render.ZoomMode(*zoom), Scale: *scale}
	if *highlight != "" {
		if req.Highlight, err = search.Compile(*highlight, search.WithTimeout(a.cfg.Search.RegexTimeout.Duration)); err != nil {
			return err
		}
	}
	v := a.cfg.Viewer
	r := render.New(render.WithLogger(a.log), render.WithTracer(a.tracer), render.WithDisplay(render.Display{
		ViewportWidth:     v.ViewportWidth,
		ViewportHeight:    v.ViewportHeight,
		ChromeAllowance:   v.ChromeAllowance,
		DevicePixelRatio:  v.DevicePixelRatio,
		QualityMultiplier: v.QualityMultiplier,
	}))
	frame, err := r.Render(ctx, st, req)
	if err != nil {
		return fmt.Errorf("render page %d: %w", *page, err)
	}
	if frame == nil {
		return fmt.Errorf("page %d is outside 1..%d", *page, st.Total())
	}

	sum := frameSummary{
		Page:          frame.Page,
		Document:      frame.Entry.DocumentName,
		LocalPage:     frame.Entry.LocalPage,
		Scale:         frame.Scale,
		PixelScale:    frame.PixelScale,
		LogicalWidth:  frame.LogicalWidth,
		LogicalHeight: frame.LogicalHeight,
	}
	if err := writePNG(*out, frame.Image); err != nil {
		return err
	}
	sum.Image = *out
	if *textLayer != "" {
		if err := os.WriteFile(*textLayer, []byte(frame.TextLayer), 0o644); err != nil {
			return fmt.Errorf("write text layer: %w", err)
		}
		sum.TextLayer = *textLayer
	}
	if *magnify != "" {
		var x, y float64
		if _, err := fmt.Sscanf(*magnify, "%g,%g", &x, &y); err != nil {
			return fmt.Errorf("bad magnifier point %q", *magnify)
		}
		img, err := render.Magnify(frame, x, y, 200, 2)
		if err != nil {
			return err
		}
		sum.Magnifier = strings.TrimSuffix(*out, filepath.Ext(*out)) + "-magnifier.png"
		if err := writePNG(sum.Magnifier, img); err != nil {
			return err
		}
	}
	if *thumb > 0 {
		img, err := r.Thumbnail(ctx, st, *page, *thumb)
		if err != nil {
			return err
		}
		sum.Thumbnail = strings.TrimSuffix(*out, filepath.Ext(*out)) + "-thumb.png"
		if err := writePNG(sum.Thumbnail, img); err != nil {
			return err
		}
	}
	return emitSection("frame", sum)
}

func writePNG(path string, img image.Image) error {
	return writeOutput(path, func(w io.Writer) error { return render.EncodePNG(w, img) })
}

type matchSummary struct {
	Page      int    `json:"page"`
	Document  string `json:"document"`
	LocalPage int    `json:"localPage"`
	Snippet   string `json:"snippet"`
}

func runSearch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	doc := fs.String("doc", "", "Only report matches in this document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("search: missing query")
	}
	if _, err := a.open(ctx, fs.Args()[1:]); err != nil {
		return err
	}
	res, err := a.ctl.Search(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *doc != "" {
		res = res.Filter(*doc)
	}
	out := make([]matchSummary, len(res))
	for i, m := range res {
		out[i] = matchSummary{Page: m.GlobalPage, Document: m.DocumentName, LocalPage: m.LocalPage, Snippet: m.Snippet.String()}
	}
	if err := emitSection("matches", out); err != nil {
		return err
	}
	return emitSection("current_page", a.ctl.Current())
}

// selectionFlags are shared by toc and recompose.
type selectionFlags struct {
	pages   *string
	where   *string
	outline *string
}

func addSelectionFlags(fs *flag.FlagSet) selectionFlags {
	return selectionFlags{
		pages:   fs.String("pages", "", "Global pages in order, e.g. 2,6,9-11"),
		where:   fs.String("where", "", "JavaScript predicate over page.global, page.local, page.document and page.name"),
		outline: fs.String("outline", "", "Import a text or Markdown (.md) outline"),
	}
}

func (f selectionFlags) build(ctx context.Context, a *app, st *session.State) (*recompose.Selection, error) {
	sel := recompose.NewSelection(st, recompose.WithLogger(a.log), recompose.WithLocale(recompose.ParseLocale(a.cfg.Recompose.Locale)))
	if *f.outline != "" {
		data, err := os.ReadFile(*f.outline)
		if err != nil {
			return nil, fmt.Errorf("read outline: %w", err)
		}
		valid := func(n int) bool { _, ok := st.Resolve(n); return ok }
		var entries []recompose.Entry
		if strings.EqualFold(filepath.Ext(*f.outline), ".md") {
			entries, err = recompose.ParseMarkdown(data, valid)
		} else {
			entries, err = recompose.ParseText(strings.NewReader(string(data)), valid)
		}
		if err != nil {
			return nil, err
		}
		if err := sel.Replace(entries); err != nil {
			return nil, err
		}
	}
	if *f.pages != "" {
		pages, err := parsePages(*f.pages)
		if err != nil {
			return nil, err
		}
		if err := sel.Select(ctx, pages...); err != nil {
			return nil, err
		}
	}
	if *f.where != "" {
		if _, err := sel.SelectWhere(ctx, *f.where); err != nil {
			return nil, err
		}
	}
	return sel, nil
}

func runTOC(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("toc", flag.ContinueOnError)
	sf := addSelectionFlags(fs)
	format := fs.String("format", "text", "text or markdown")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.open(ctx, fs.Args())
	if err != nil {
		return err
	}
	sel, err := sf.build(ctx, a, st)
	if err != nil {
		return err
	}
	switch *format {
	case "text":
		fmt.Print(recompose.FormatText(sel.Entries()))
	case "markdown", "md":
		fmt.Print(recompose.FormatMarkdown(sel.Entries()))
	default:
		return fmt.Errorf("unknown outline format %q", *format)
	}
	return nil
}

type exportSummary struct {
	Path     string `json:"path"`
	Pages    int    `json:"pages"`
	TOCPages int    `json:"tocPages"`
	Skipped  []int  `json:"skipped,omitempty"`
	Elapsed  string `json:"elapsed"`
}

func runRecompose(ctx context.Context, a *app, args []string) error {
	rc := a.cfg.Recompose
	fs := flag.NewFlagSet("recompose", flag.ContinueOnError)
	sf := addSelectionFlags(fs)
	name := fs.String("name", "", "File name; .pdf is appended when missing")
	outDir := fs.String("out", ".", "Directory the document is written to")
	title := fs.String("title", "", "Document title")
	toc := fs.Bool("toc", rc.TOC, "Prepend a table of contents")
	numbers := fs.Bool("numbers", rc.PageNumbers, "Stamp \"i / N\" page numbers")
	countTOC := fs.Bool("count-toc", rc.CountTOCPages, "Count contents pages in page numbers")
	landscape := fs.Bool("landscape", rc.Landscape, "Lay out contents pages in landscape")
	bookmarks := fs.Bool("bookmarks", rc.Bookmarks, "Write bookmarks mirroring the contents")
	fontPath := fs.String("font", rc.FontPath, "TrueType font for generated text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.open(ctx, fs.Args())
	if err != nil {
		return err
	}
	sel, err := sf.build(ctx, a, st)
	if err != nil {
		return err
	}

	opts := []recompose.Option{
		recompose.WithLogger(a.log),
		recompose.WithTracer(a.tracer),
		recompose.WithLocale(recompose.ParseLocale(rc.Locale)),
	}
	if *fontPath != "" {
		data, err := os.ReadFile(*fontPath)
		if err != nil {
			return fmt.Errorf("read font: %w", err)
		}
		opts = append(opts, recompose.WithFont(strings.TrimSuffix(filepath.Base(*fontPath), filepath.Ext(*fontPath)), data))
	}
	start := time.Now()
	res, err := recompose.NewExporter(opts...).Export(ctx, st, sel.Entries(), recompose.Options{
		FileName:      *name,
		TOC:           *toc,
		Portrait:      !*landscape,
		PageNumbers:   *numbers,
		CountTOCPages: *countTOC,
		Bookmarks:     *bookmarks,
		Title:         *title,
	})
	if err != nil {
		return err
	}
	path := filepath.Join(*outDir, safeName(res.FileName))
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return emitSection("export", exportSummary{
		Path:     path,
		Pages:    res.Pages,
		TOCPages: res.TOCPages,
		Skipped:  res.Skipped,
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
	})
}

type recordSummary struct {
	ID      uint64    `json:"id"`
	Name    string    `json:"name"`
	MIME    string    `json:"mime,omitempty"`
	Size    int       `json:"size"`
	Digest  string    `json:"blake2b"`
	SavedAt time.Time `json:"savedAt"`
}

func runSession(ctx context.Context, a *app, args []string) error {
	if a.store == nil {
		return errors.New("session: the store is disabled")
	}
	if len(args) != 1 {
		return errors.New("session: expected list, clear or restore")
	}
	switch args[0] {
	case "list":
		recs, err := a.store.Files(ctx)
		if err != nil {
			return err
		}
		out := make([]recordSummary, len(recs))
		for i, r := range recs {
			out[i] = recordSummary{ID: r.ID, Name: r.Name, MIME: r.MIME, Size: len(r.Data), Digest: hex.EncodeToString(r.Digest[:]), SavedAt: r.SavedAt}
		}
		return emitSection("stored_files", out)
	case "clear":
		return a.ctl.Clear(ctx)
	case "restore":
		return runInfo(ctx, a, nil)
	default:
		return fmt.Errorf("session: unknown action %q", args[0])
	}
}
