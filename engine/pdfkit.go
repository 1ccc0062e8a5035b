package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/draw"
	"sync"

	"github.com/wudi/pdfkit/coords"
	"github.com/wudi/pdfkit/filters"
	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/parser"

	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/ocr"
	"github.com/wudi/pdfdeck/rawpdf"
)

// PDFKit is the Engine backed by the pdfkit parser and filter pipeline.
type PDFKit struct {
	log      observability.Logger
	tracer   observability.Tracer
	ocr      ocr.Engine
	ocrLangs []string
	limits   filters.Limits
}

// Option configures a PDFKit engine.
type Option func(*PDFKit)

func WithLogger(l observability.Logger) Option {
	return func(k *PDFKit) { k.log = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option {
	return func(k *PDFKit) {
		if t != nil {
			k.tracer = t
		}
	}
}

// WithOCR enables recognition of image-only pages. Text content of a page
// without any text runs is then taken from its painted images.
func WithOCR(e ocr.Engine, languages ...string) Option {
	return func(k *PDFKit) {
		k.ocr = e
		k.ocrLangs = append([]string(nil), languages...)
	}
}

// WithDecodeLimits bounds stream decompression.
func WithDecodeLimits(l filters.Limits) Option {
	return func(k *PDFKit) { k.limits = l }
}

func New(opts ...Option) *PDFKit {
	k := &PDFKit{
		log:    observability.NopLogger{},
		tracer: observability.NopTracer(),
		limits: filters.Limits{MaxDecompressedSize: 256 << 20},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Open parses data. The returned document keeps no reference to data beyond
// the parsed object graph.
func (k *PDFKit) Open(ctx context.Context, data []byte) (Document, error) {
	ctx, span := k.tracer.StartSpan(ctx, observability.SpanLoad)
	defer span.Finish()
	span.SetTag("bytes", len(data))

	rawDoc, err := parser.NewDocumentParser(parser.Config{}).Parse(ctx, bytes.NewReader(data))
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("parse: %w", err)
	}
	pages, err := rawpdf.Pages(rawDoc)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if len(pages) == 0 {
		span.SetError(ErrNoPages)
		return nil, ErrNoPages
	}
	span.SetTag("pages", len(pages))
	return &document{
		objs:  rawDoc.Objects,
		pages: pages,
		pipeline: filters.NewPipeline([]filters.Decoder{
			filters.NewFlateDecoder(),
			filters.NewLZWDecoder(),
			filters.NewASCII85Decoder(),
			filters.NewASCIIHexDecoder(),
		}, k.limits),
		log:      k.log,
		ocr:      k.ocr,
		ocrLangs: k.ocrLangs,
		streams:  make(map[raw.ObjectRef][]byte),
		fonts:    make(map[raw.ObjectRef]*fontInfo),
		content:  make(map[int]*pageContent),
	}, nil
}

// Objects exposes the parsed object graph of a document opened by PDFKit.
func Objects(d Document) (rawpdf.Objects, bool) {
	doc, ok := d.(*document)
	if !ok {
		return nil, false
	}
	return doc.objs, true
}

type pageContent struct {
	items  []TextItem
	images []imagePlacement
}

type document struct {
	objs     rawpdf.Objects
	pages    []rawpdf.Page
	pipeline *filters.Pipeline
	log      observability.Logger
	ocr      ocr.Engine
	ocrLangs []string

	mu      sync.Mutex
	closed  bool
	streams map[raw.ObjectRef][]byte
	fonts   map[raw.ObjectRef]*fontInfo
	content map[int]*pageContent
}

func (d *document) PageCount() int { return len(d.pages) }

func (d *document) Page(ctx context.Context, n int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.isClosed() {
		return nil, ErrClosed
	}
	if n < 1 || n > len(d.pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, len(d.pages))
	}
	return &page{doc: d, n: n, info: d.pages[n-1]}, nil
}

// Close drops the caches. Page handles obtained earlier fail afterwards.
func (d *document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.streams = make(map[raw.ObjectRef][]byte)
	d.fonts = make(map[raw.ObjectRef]*fontInfo)
	d.content = make(map[int]*pageContent)
	return nil
}

func (d *document) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var errNotStream = errors.New("engine: object is not a stream")

// streamData returns the decoded bytes of a stream object. Results for
// indirect streams are cached.
func (d *document) streamData(ctx context.Context, obj raw.Object) ([]byte, error) {
	ref, isRef := rawpdf.RefOf(obj)
	if isRef {
		d.mu.Lock()
		data, ok := d.streams[ref]
		d.mu.Unlock()
		if ok {
			return data, nil
		}
	}
	s := d.objs.Stream(obj)
	if s == nil {
		return nil, errNotStream
	}
	data, err := d.decode(ctx, s, 0)
	if err != nil {
		return nil, err
	}
	if isRef {
		d.mu.Lock()
		d.streams[ref] = data
		d.mu.Unlock()
	}
	return data, nil
}

// decode runs the stream filters, leaving the last skip filters applied.
func (d *document) decode(ctx context.Context, s *raw.StreamObj, skip int) ([]byte, error) {
	if s.Dict == nil {
		return s.Data, nil
	}
	names, params := filters.ExtractFilters(s.Dict)
	if len(names) < skip {
		skip = len(names)
	}
	names = names[:len(names)-skip]
	if len(names) == 0 {
		return s.Data, nil
	}
	return d.pipeline.Decode(ctx, s.Data, names, params)
}

func (d *document) pageContent(ctx context.Context, p rawpdf.Page, n int) (*pageContent, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	pc, ok := d.content[n]
	d.mu.Unlock()
	if ok {
		return pc, nil
	}

	var buf bytes.Buffer
	contents := d.objs.Get(p.Dict, "Contents")
	var parts []raw.Object
	if arr, ok := contents.(*raw.ArrayObj); ok {
		parts = arr.Items
	} else if contents != nil {
		parts = []raw.Object{p.Dict.KV["Contents"]}
	}
	for _, part := range parts {
		data, err := d.streamData(ctx, part)
		if err != nil {
			d.log.Warn("content stream skipped", observability.Int("page", n), observability.Error("error", err))
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	in := &interpreter{ctx: ctx, doc: d}
	if err := in.run(buf.Bytes(), d.objs.Dict(p.Resources), coords.Identity(), 0); err != nil {
		return nil, err
	}
	pc = &pageContent{items: in.items, images: in.images}
	if len(pc.items) == 0 && d.ocr != nil && len(pc.images) > 0 {
		items, err := d.recognize(ctx, pc.images)
		if err != nil {
			d.log.Warn("ocr failed", observability.Int("page", n), observability.Error("error", err))
		}
		pc.items = items
	}

	d.mu.Lock()
	if !d.closed {
		d.content[n] = pc
	}
	d.mu.Unlock()
	return pc, nil
}

type page struct {
	doc  *document
	n    int
	info rawpdf.Page
}

func (p *page) Number() int { return p.n }

func (p *page) Viewport(scale float64) Viewport {
	return NewViewport(p.info.CropBox, scale, p.info.Rotate)
}

func (p *page) TextContent(ctx context.Context) ([]TextItem, error) {
	pc, err := p.doc.pageContent(ctx, p.info, p.n)
	if err != nil {
		return nil, err
	}
	return append([]TextItem(nil), pc.items...), nil
}

func (p *page) Render(ctx context.Context, dst draw.Image, vp Viewport) error {
	pc, err := p.doc.pageContent(ctx, p.info, p.n)
	if err != nil {
		return err
	}
	return p.doc.paint(ctx, dst, vp, pc)
}
