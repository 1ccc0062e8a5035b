// Package search finds the first match of a query on every page of the
// loaded documents.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/pageindex"
)

// DefaultContext is the number of runes kept on each side of a match.
const DefaultContext = 40

// Corpus is the searchable view of a session.
type Corpus interface {
	// Entries returns the global page index in order; global page is
	// position + 1.
	Entries() []pageindex.Entry
	TextContent(ctx context.Context, globalPage int) ([]engine.TextItem, error)
}

// Match is the first hit on one page.
type Match struct {
	GlobalPage    int
	DocumentIndex int
	DocumentName  string
	LocalPage     int
	Snippet       Snippet
}

type Searcher struct {
	log          observability.Logger
	tracer       observability.Tracer
	concurrency  int
	contextRunes int
}

type Option func(*Searcher)

func WithLogger(l observability.Logger) Option {
	return func(s *Searcher) { s.log = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option {
	return func(s *Searcher) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithConcurrency bounds the number of pages fetched at once.
func WithConcurrency(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithContext sets the snippet context length in runes.
func WithContext(runes int) Option {
	return func(s *Searcher) {
		if runes >= 0 {
			s.contextRunes = runes
		}
	}
}

func New(opts ...Option) *Searcher {
	s := &Searcher{
		log:          observability.NopLogger{},
		tracer:       observability.NopTracer(),
		concurrency:  8,
		contextRunes: DefaultContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageText joins the runs of a page in content order.
func PageText(items []engine.TextItem) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.Text)
	}
	return b.String()
}

// Scan tests p against every page. Pages whose text cannot be read, or whose
// match times out, count as non-matches. Results are ordered by global page
// regardless of completion order. Only cancellation of ctx fails the scan.
func (s *Searcher) Scan(ctx context.Context, corpus Corpus, p *Pattern) (Results, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanSearch)
	defer span.Finish()
	span.SetTag("pattern", p.String())
	start := time.Now()

	entries := corpus.Entries()
	jobs := make(chan int)
	var (
		mu      sync.Mutex
		results Results
		wg      sync.WaitGroup
	)
	workers := s.concurrency
	if workers > len(entries) {
		workers = len(entries)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if m, ok := s.scanPage(ctx, corpus, p, i+1, entries[i]); ok {
					mu.Lock()
					results = append(results, m)
					mu.Unlock()
				}
			}
		}()
	}
feed:
	for i := range entries {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetError(err)
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].GlobalPage < results[j].GlobalPage })
	span.SetTag("matches", len(results))
	s.log.Debug("search finished",
		observability.String("pattern", p.String()),
		observability.Int("pages", len(entries)),
		observability.Int("matches", len(results)),
		observability.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (s *Searcher) scanPage(ctx context.Context, corpus Corpus, p *Pattern, global int, e pageindex.Entry) (Match, bool) {
	items, err := corpus.TextContent(ctx, global)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("page text unavailable", observability.Int("page", global), observability.Error("error", err))
		}
		return Match{}, false
	}
	text := PageText(items)
	start, end, ok, err := p.FindFirst(text)
	if err != nil {
		s.log.Warn("match failed", observability.Int("page", global), observability.Error("error", err))
		return Match{}, false
	}
	if !ok {
		return Match{}, false
	}
	return Match{
		GlobalPage:    global,
		DocumentIndex: e.DocumentIndex,
		DocumentName:  e.DocumentName,
		LocalPage:     e.LocalPage,
		Snippet:       NewSnippet(text, start, end, s.contextRunes),
	}, true
}

// Results are ordered by ascending global page.
type Results []Match

// Filter keeps the matches of one document name.
func (r Results) Filter(documentName string) Results {
	var out Results
	for _, m := range r {
		if m.DocumentName == documentName {
			out = append(out, m)
		}
	}
	return out
}

// Pages lists the matching global pages.
func (r Results) Pages() []int {
	out := make([]int, len(r))
	for i, m := range r {
		out[i] = m.GlobalPage
	}
	return out
}

// Cursor steps through results without wrapping.
type Cursor struct {
	results Results
	pos     int
}

func NewCursor(r Results) *Cursor { return &Cursor{results: r} }

// Current returns the match under the cursor.
func (c *Cursor) Current() (Match, bool) {
	if len(c.results) == 0 {
		return Match{}, false
	}
	return c.results[c.pos], true
}

func (c *Cursor) First() (Match, bool) {
	c.pos = 0
	return c.Current()
}

// Next advances unless the cursor is on the last match.
func (c *Cursor) Next() (Match, bool) {
	if c.pos+1 >= len(c.results) {
		return Match{}, false
	}
	c.pos++
	return c.Current()
}

func (c *Cursor) Prev() (Match, bool) {
	if c.pos == 0 || len(c.results) == 0 {
		return Match{}, false
	}
	c.pos--
	return c.Current()
}

// Position returns the 1-based cursor position and the result count.
func (c *Cursor) Position() (int, int) {
	if len(c.results) == 0 {
		return 0, 0
	}
	return c.pos + 1, len(c.results)
}
