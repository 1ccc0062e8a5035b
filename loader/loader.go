// Package loader parses a batch of input files into document handles,
// collecting per-file failures without aborting the batch.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/observability"
)

var (
	// ErrNoValidDocuments is returned when not a single input parsed.
	ErrNoValidDocuments = errors.New("loader: no valid documents")
	ErrUnsupportedType  = errors.New("loader: unsupported file type")
)

const (
	MIMEPDF         = "application/pdf"
	mimeOctetStream = "application/octet-stream"
	// sniffWindow follows the leniency of common readers that accept a
	// header preceded by junk.
	sniffWindow = 1024
)

// File is one input: its name, bytes and declared MIME type.
type File struct {
	Name string
	Data []byte
	MIME string
}

// Document is a successfully parsed input.
type Document struct {
	Name   string
	MIME   string
	Data   []byte
	Handle engine.Document
}

// Failure reports why one input was skipped.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Name, f.Err) }

func (f Failure) Unwrap() error { return f.Err }

// Result holds the parsed documents in input order and the failures.
type Result struct {
	Documents []Document
	Failures  []Failure
}

// Close releases every parsed handle.
func (r Result) Close() {
	for _, d := range r.Documents {
		if d.Handle != nil {
			d.Handle.Close()
		}
	}
}

type Loader struct {
	engine      engine.Engine
	log         observability.Logger
	concurrency int
}

type Option func(*Loader)

func WithLogger(l observability.Logger) Option {
	return func(ld *Loader) { ld.log = observability.OrNop(l) }
}

// WithConcurrency bounds the number of files parsed at once.
func WithConcurrency(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.concurrency = n
		}
	}
}

func New(eng engine.Engine, opts ...Option) *Loader {
	l := &Loader{engine: eng, log: observability.NopLogger{}, concurrency: 4}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsPDF classifies a file by its declared MIME type, falling back to content
// sniffing when the type is missing or generic.
func IsPDF(f File) bool {
	mt := strings.ToLower(strings.TrimSpace(f.MIME))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	switch mt {
	case MIMEPDF, "application/x-pdf":
		return true
	case "", mimeOctetStream:
		head := f.Data
		if len(head) > sniffWindow {
			head = head[:sniffWindow]
		}
		return bytes.Contains(head, []byte("%PDF-"))
	}
	return false
}

// Load parses files concurrently. The returned documents keep input order.
// When nothing parsed the error is ErrNoValidDocuments and the result still
// carries the failures.
func (l *Loader) Load(ctx context.Context, files []File) (Result, error) {
	type outcome struct {
		doc  engine.Document
		data []byte
		err  error
	}
	outcomes := make([]outcome, len(files))
	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup

	for i, f := range files {
		if !IsPDF(f) {
			outcomes[i].err = fmt.Errorf("%w: %q", ErrUnsupportedType, f.MIME)
			continue
		}
		wg.Add(1)
		go func(i int, f File) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			start := time.Now()
			// the caller may reuse its buffer; documents keep their own copy
			data := bytes.Clone(f.Data)
			doc, err := l.engine.Open(ctx, data)
			outcomes[i] = outcome{doc: doc, data: data, err: err}
			if err == nil {
				l.log.Debug("document parsed",
					observability.String("name", f.Name),
					observability.Int("pages", doc.PageCount()),
					observability.Duration("elapsed", time.Since(start)))
			}
		}(i, f)
	}
	wg.Wait()

	var res Result
	for i, f := range files {
		o := outcomes[i]
		if o.err != nil {
			l.log.Warn("document skipped", observability.String("name", f.Name), observability.Error("error", o.err))
			res.Failures = append(res.Failures, Failure{Name: f.Name, Err: o.err})
			continue
		}
		res.Documents = append(res.Documents, Document{Name: f.Name, MIME: MIMEPDF, Data: o.data, Handle: o.doc})
	}
	if err := ctx.Err(); err != nil {
		res.Close()
		return Result{Failures: res.Failures}, err
	}
	if len(res.Documents) == 0 {
		return res, ErrNoValidDocuments
	}
	return res, nil
}
