package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/pageindex"
)

// ErrPageNotFound is returned by State lookups for a global page outside the
// loaded range.
var ErrPageNotFound = errors.New("session: page not found")

// SourceDocument is one loaded file.
type SourceDocument struct {
	Name   string
	MIME   string
	Handle engine.Document
	raw    []byte
}

// Raw returns the original file bytes. Callers must not modify them.
func (d SourceDocument) Raw() []byte { return d.raw }

// State is an immutable set of loaded documents and their page index. A new
// State is built for every load; the previous one is released once swapped
// out.
type State struct {
	documents []SourceDocument
	index     *pageindex.Index
	release   sync.Once
}

func newState(docs []SourceDocument) *State {
	sources := make([]pageindex.Source, len(docs))
	for i, d := range docs {
		sources[i] = pageindex.Source{Name: d.Name, PageCount: d.Handle.PageCount()}
	}
	return &State{documents: docs, index: pageindex.Build(sources)}
}

var emptyState = &State{index: pageindex.Build(nil)}

func (s *State) Total() int { return s.index.Total() }

func (s *State) Index() *pageindex.Index { return s.index }

func (s *State) Resolve(global int) (pageindex.Entry, bool) { return s.index.Resolve(global) }

func (s *State) Entries() []pageindex.Entry { return s.index.Entries() }

// Documents returns the loaded documents in load order.
func (s *State) Documents() []SourceDocument {
	return append([]SourceDocument(nil), s.documents...)
}

// Document returns the document at index i.
func (s *State) Document(i int) (SourceDocument, bool) {
	if i < 0 || i >= len(s.documents) {
		return SourceDocument{}, false
	}
	return s.documents[i], true
}

// Raw returns the bytes of document i, or false when none are held.
func (s *State) Raw(documentIndex int) ([]byte, bool) {
	d, ok := s.Document(documentIndex)
	if !ok || d.raw == nil {
		return nil, false
	}
	return d.raw, true
}

// Page resolves a global page to its engine page.
func (s *State) Page(ctx context.Context, global int) (engine.Page, pageindex.Entry, error) {
	e, ok := s.index.Resolve(global)
	if !ok {
		return nil, pageindex.Entry{}, fmt.Errorf("%w: %d", ErrPageNotFound, global)
	}
	p, err := s.documents[e.DocumentIndex].Handle.Page(ctx, e.LocalPage)
	if err != nil {
		return nil, e, err
	}
	return p, e, nil
}

// TextContent returns the text runs of a global page.
func (s *State) TextContent(ctx context.Context, global int) ([]engine.TextItem, error) {
	p, _, err := s.Page(ctx, global)
	if err != nil {
		return nil, err
	}
	return p.TextContent(ctx)
}

func (s *State) close() {
	s.release.Do(func() {
		for _, d := range s.documents {
			if d.Handle != nil {
				d.Handle.Close()
			}
		}
	})
}
