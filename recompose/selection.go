package recompose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wudi/pdfdeck/observability"
	"github.com/wudi/pdfdeck/scripting"
)

var (
	ErrUnknownPage  = errors.New("recompose: page does not resolve")
	ErrUnknownEntry = errors.New("recompose: no such entry")
)

type options struct {
	log      observability.Logger
	tracer   observability.Tracer
	locale   language.Tag
	fontName string
	font     []byte
	scripts  scripting.Engine
}

// Option configures a Selection or an Exporter.
type Option func(*options)

func WithLogger(l observability.Logger) Option {
	return func(o *options) { o.log = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLocale selects the language of placeholders, the contents heading
// and the default file name.
func WithLocale(tag language.Tag) Option {
	return func(o *options) { o.locale = tag }
}

// WithFont sets the TrueType font embedded for generated text.
func WithFont(name string, data []byte) Option {
	return func(o *options) {
		o.fontName = name
		o.font = data
	}
}

// WithScripting sets the engine compiling SelectWhere expressions.
func WithScripting(e scripting.Engine) Option {
	return func(o *options) { o.scripts = e }
}

func newOptions(opts []Option) options {
	o := options{
		log:    observability.NopLogger{},
		tracer: observability.NopTracer(),
		locale: language.English,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scripts == nil {
		o.scripts = scripting.NewEngine()
	}
	return o
}

// Selection is the set of selected pages together with the ordered table
// of contents. Every selected page has exactly one PageEntry. It is safe
// for concurrent use.
type Selection struct {
	lib     Library
	log     observability.Logger
	print   *message.Printer
	scripts scripting.Engine

	mu       sync.Mutex
	entries  []Entry
	selected map[int]bool
	// edited marks pages whose title was set by the user.
	edited map[int]bool
	// tokens identify the selection a pending title computation belongs to.
	tokens   map[int]uint64
	seq      uint64
	chapters int
}

func NewSelection(lib Library, opts ...Option) *Selection {
	o := newOptions(opts)
	return &Selection{
		lib:      lib,
		log:      o.log,
		print:    printer(o.locale),
		scripts:  o.scripts,
		selected: make(map[int]bool),
		edited:   make(map[int]bool),
		tokens:   make(map[int]uint64),
	}
}

// Toggle selects or deselects a global page and reports whether it is now
// selected. A newly selected page gets its first text line as title; the
// text is read without holding the lock and never replaces a title the
// user set meanwhile.
func (s *Selection) Toggle(ctx context.Context, global int) (bool, error) {
	s.mu.Lock()
	if s.selected[global] {
		s.removePage(global)
		s.mu.Unlock()
		return false, nil
	}
	if _, ok := s.lib.Resolve(global); !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %d", ErrUnknownPage, global)
	}
	s.seq++
	token := s.seq
	s.selected[global] = true
	s.tokens[global] = token
	s.entries = append(s.entries, PageEntry{ID: pageID(global), GlobalPage: global, Title: s.print.Sprintf(msgPage, global)})
	s.mu.Unlock()

	title := s.defaultTitle(ctx, global)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens[global] == token && !s.edited[global] {
		s.setPageTitle(global, title)
	}
	return true, nil
}

// Select adds every page not yet selected.
func (s *Selection) Select(ctx context.Context, pages ...int) error {
	for _, p := range pages {
		if s.IsSelected(p) {
			continue
		}
		if _, err := s.Toggle(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Deselect removes pages and their entries.
func (s *Selection) Deselect(pages ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pages {
		if s.selected[p] {
			s.removePage(p)
		}
	}
}

// SelectWhere selects every page for which the JavaScript expression is
// truthy and returns how many pages were added. The expression sees
// page.global, page.local, page.document and page.name.
func (s *Selection) SelectWhere(ctx context.Context, expr string) (int, error) {
	pred, err := s.scripts.Compile(expr)
	if err != nil {
		return 0, err
	}
	var matched []int
	for i, e := range s.lib.Entries() {
		ok, err := pred.Match(ctx, scripting.Page{
			Global:   i + 1,
			Local:    e.LocalPage,
			Document: e.DocumentIndex,
			Name:     e.DocumentName,
		})
		if err != nil {
			return 0, err
		}
		if ok && !s.IsSelected(i+1) {
			matched = append(matched, i+1)
		}
	}
	if err := s.Select(ctx, matched...); err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Selection) IsSelected(global int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected[global]
}

// AddChapter appends a chapter heading and returns its id. An empty title
// gets the localized placeholder.
func (s *Selection) AddChapter(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" {
		title = s.print.Sprintf(msgNewChapter)
	}
	s.chapters++
	id := fmt.Sprintf("ch-%d", s.chapters)
	s.entries = append(s.entries, ChapterEntry{ID: id, Title: title})
	return id
}

// Remove deletes an entry. Removing a page entry deselects its page.
func (s *Selection) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	if p, ok := s.entries[i].(PageEntry); ok {
		s.removePage(p.GlobalPage)
		return nil
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return nil
}

// Move places an entry at position to, clamped to the list.
func (s *Selection) Move(id string, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	to = max(0, min(to, len(s.entries)))
	s.entries = append(s.entries[:to], append([]Entry{e}, s.entries[to:]...)...)
	return nil
}

// SetTitle replaces the title of an entry. A page title set this way
// survives until the page is deselected.
func (s *Selection) SetTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	switch e := s.entries[i].(type) {
	case PageEntry:
		e.Title = title
		s.entries[i] = e
		s.edited[e.GlobalPage] = true
	case ChapterEntry:
		e.Title = title
		s.entries[i] = e
	}
	return nil
}

// Replace installs an imported table of contents. Page entries must resolve
// and be distinct; their titles count as user edits.
func (s *Selection) Replace(entries []Entry) error {
	seen := make(map[int]bool)
	out := make([]Entry, 0, len(entries))
	chapters := 0
	for _, e := range entries {
		switch v := e.(type) {
		case PageEntry:
			if _, ok := s.lib.Resolve(v.GlobalPage); !ok {
				return fmt.Errorf("%w: %d", ErrUnknownPage, v.GlobalPage)
			}
			if seen[v.GlobalPage] {
				return fmt.Errorf("recompose: page %d listed twice", v.GlobalPage)
			}
			seen[v.GlobalPage] = true
			v.ID = pageID(v.GlobalPage)
			out = append(out, v)
		case ChapterEntry:
			chapters++
			v.ID = fmt.Sprintf("ch-%d", chapters)
			out = append(out, v)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = out
	s.chapters = chapters
	s.selected = seen
	s.edited = make(map[int]bool, len(seen))
	s.tokens = make(map[int]uint64)
	for p := range seen {
		s.edited[p] = true
	}
	return nil
}

// Reset drops every entry.
func (s *Selection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.selected = make(map[int]bool)
	s.edited = make(map[int]bool)
	s.tokens = make(map[int]uint64)
}

// Entries returns a copy of the ordered entries.
func (s *Selection) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Numbered returns the entries with their output page numbers.
func (s *Selection) Numbered(offset int) []NumberedEntry {
	return Number(s.Entries(), offset)
}

// Selected returns the selected global pages in ascending order.
func (s *Selection) Selected() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.selected))
	for p := range s.selected {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (s *Selection) defaultTitle(ctx context.Context, global int) string {
	items, err := s.lib.TextContent(ctx, global)
	if err != nil {
		s.log.Warn("title extraction failed", observability.Int("page", global), observability.Error("error", err))
		return s.print.Sprintf(msgPageError, global)
	}
	if line := FirstLine(items); line != "" {
		return line
	}
	return s.print.Sprintf(msgPage, global)
}

func (s *Selection) find(id string) int {
	for i, e := range s.entries {
		if e.EntryID() == id {
			return i
		}
	}
	return -1
}

func (s *Selection) removePage(global int) {
	delete(s.selected, global)
	delete(s.edited, global)
	delete(s.tokens, global)
	id := pageID(global)
	out := s.entries[:0]
	for _, e := range s.entries {
		if e.EntryID() != id {
			out = append(out, e)
		}
	}
	s.entries = out
}

func (s *Selection) setPageTitle(global int, title string) {
	id := pageID(global)
	for i, e := range s.entries {
		if p, ok := e.(PageEntry); ok && p.ID == id {
			p.Title = title
			s.entries[i] = p
			return
		}
	}
}
