// Package session owns the loaded document set. Loads, restores and clears
// are serialized; each builds a fresh State that is swapped in atomically,
// so readers never observe a partially built index.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wudi/pdfdeck/loader"
	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/search"
	"github.com/wudi/pdfdeck/store"
)

// ErrNothingStored is returned by Restore when the store holds no files.
var ErrNothingStored = errors.New("session: nothing stored")

// Report summarizes a load.
type Report struct {
	Documents int
	Pages     int
	Failures  []loader.Failure
}

type Controller struct {
	loader   *loader.Loader
	searcher *search.Searcher
	store    store.Store
	log      observability.Logger
	tracer   observability.Tracer

	loadMu sync.Mutex
	state  atomic.Pointer[State]

	// mu guards the cursor and the highlight.
	mu        sync.Mutex
	current   int
	highlight *search.Pattern
	results   *search.Cursor
	compile   []search.CompileOption
}

type Option func(*Controller)

func WithLogger(l observability.Logger) Option {
	return func(c *Controller) { c.log = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithStore persists every successful load to s.
func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

func WithSearcher(s *search.Searcher) Option {
	return func(c *Controller) {
		if s != nil {
			c.searcher = s
		}
	}
}

// WithCompileOptions applies to every query compiled by Search.
func WithCompileOptions(opts ...search.CompileOption) Option {
	return func(c *Controller) { c.compile = append(c.compile, opts...) }
}

func New(ld *loader.Loader, opts ...Option) *Controller {
	c := &Controller{
		loader:   ld,
		searcher: search.New(),
		log:      observability.NopLogger{},
		tracer:   observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(emptyState)
	return c
}

// State returns the installed state. It is never nil.
func (c *Controller) State() *State { return c.state.Load() }

// Load parses files and, when at least one succeeds, replaces the session.
// On ErrNoValidDocuments the previous session stays installed.
func (c *Controller) Load(ctx context.Context, files []loader.File) (Report, error) {
	return c.load(ctx, files, true)
}

// Restore reloads the files held by the store.
func (c *Controller) Restore(ctx context.Context) (Report, error) {
	if c.store == nil {
		return Report{}, ErrNothingStored
	}
	recs, err := c.store.Files(ctx)
	if err != nil {
		c.log.Warn("session store unavailable", observability.Error("error", err))
		return Report{}, ErrNothingStored
	}
	if len(recs) == 0 {
		return Report{}, ErrNothingStored
	}
	files := make([]loader.File, len(recs))
	for i, r := range recs {
		files[i] = loader.File{Name: r.Name, MIME: r.MIME, Data: r.Data}
	}
	return c.load(ctx, files, false)
}

func (c *Controller) load(ctx context.Context, files []loader.File, persist bool) (Report, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanLoad)
	defer span.Finish()

	res, err := c.loader.Load(ctx, files)
	report := Report{Failures: res.Failures}
	if err != nil {
		span.SetError(err)
		return report, err
	}
	docs := make([]SourceDocument, len(res.Documents))
	for i, d := range res.Documents {
		docs[i] = SourceDocument{Name: d.Name, MIME: d.MIME, Handle: d.Handle, raw: d.Data}
	}
	next := newState(docs)
	report.Documents, report.Pages = len(docs), next.Total()
	c.install(next)

	c.log.Info("session loaded",
		observability.Int("documents", report.Documents),
		observability.Int("pages", report.Pages),
		observability.Int("failures", len(report.Failures)))
	if persist {
		c.persist(ctx, docs)
	}
	return report, nil
}

// install swaps in next, resets the cursor and releases the old state.
func (c *Controller) install(next *State) {
	c.mu.Lock()
	prev := c.state.Swap(next)
	c.current = 0
	if next.Total() > 0 {
		c.current = 1
	}
	c.highlight, c.results = nil, nil
	c.mu.Unlock()
	if prev != nil && prev != next {
		prev.close()
	}
}

// persist is best effort; a failing store never fails a load.
func (c *Controller) persist(ctx context.Context, docs []SourceDocument) {
	if c.store == nil {
		return
	}
	files := make([]store.File, len(docs))
	for i, d := range docs {
		files[i] = store.File{Name: d.Name, MIME: d.MIME, Data: d.raw}
	}
	if err := c.store.Save(ctx, files); err != nil {
		c.log.Warn("session not persisted", observability.Error("error", err))
	}
}

// Clear unloads everything and empties the store.
func (c *Controller) Clear(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	c.install(emptyState)
	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.log.Warn("session store not cleared", observability.Error("error", err))
		}
	}
	return nil
}

// Close releases the installed state.
func (c *Controller) Close() {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	c.install(emptyState)
}

// Current returns the 1-based current page, 0 when nothing is loaded.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Highlight returns the active search pattern, if any.
func (c *Controller) Highlight() *search.Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlight
}

// GoTo moves to page n clamped into [1, total]. It does nothing when no
// page is loaded and returns the resulting current page.
func (c *Controller) GoTo(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(n)
}

// GoToLocal moves to page localPage of the document at documentIndex. It
// reports false, leaving the current page alone, when no such page exists.
func (c *Controller) GoToLocal(documentIndex, localPage int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	global, ok := c.state.Load().Index().GlobalOf(documentIndex, localPage)
	if !ok {
		return c.current, false
	}
	return c.goTo(global), true
}

func (c *Controller) goTo(n int) int {
	total := c.state.Load().Total()
	if total == 0 {
		return c.current
	}
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	c.current = n
	return n
}

func (c *Controller) Next() int  { return c.step(1) }
func (c *Controller) Prev() int  { return c.step(-1) }
func (c *Controller) First() int { return c.GoTo(1) }

func (c *Controller) Last() int { return c.GoTo(c.state.Load().Total()) }

func (c *Controller) step(d int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(c.current + d)
}

// Search scans the session for query. With results the controller moves to
// the first matching page and keeps the pattern as highlight; without, it
// stays on the current page and drops any highlight. Blank input clears the
// search and returns search.ErrNoQuery.
func (c *Controller) Search(ctx context.Context, query string) (search.Results, error) {
	p, err := search.Compile(query, c.compile...)
	if err != nil {
		if errors.Is(err, search.ErrNoQuery) {
			c.mu.Lock()
			c.highlight, c.results = nil, nil
			c.mu.Unlock()
		}
		return nil, err
	}
	st := c.state.Load()
	results, err := c.searcher.Scan(ctx, st, p)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Load() != st {
		// a load replaced the session while scanning
		return results, nil
	}
	if len(results) == 0 {
		c.highlight, c.results = nil, nil
		return results, nil
	}
	c.highlight = p
	c.results = search.NewCursor(results)
	c.goTo(results[0].GlobalPage)
	return results, nil
}

// NextMatch moves to the following search result, if any.
func (c *Controller) NextMatch() (search.Match, bool) {
	return c.moveMatch((*search.Cursor).Next)
}

// PrevMatch moves to the preceding search result, if any.
func (c *Controller) PrevMatch() (search.Match, bool) {
	return c.moveMatch((*search.Cursor).Prev)
}

func (c *Controller) moveMatch(move func(*search.Cursor) (search.Match, bool)) (search.Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		return search.Match{}, false
	}
	m, ok := move(c.results)
	if ok {
		c.goTo(m.GlobalPage)
	}
	return m, ok
}
