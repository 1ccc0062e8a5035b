// Package recompose builds a new PDF from selected pages of the loaded
// documents, optionally fronted by a generated table of contents.
package recompose

import (
	"context"
	"fmt"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/pageindex"
)

// Library is the session data recomposition reads from.
type Library interface {
	Resolve(global int) (pageindex.Entry, bool)
	Entries() []pageindex.Entry
	// Raw returns the original bytes of a loaded document.
	Raw(documentIndex int) ([]byte, bool)
	TextContent(ctx context.Context, global int) ([]engine.TextItem, error)
}

// Entry is one line of the table of contents: a PageEntry or a
// ChapterEntry.
type Entry interface {
	EntryID() string
	EntryTitle() string
	isEntry()
}

// PageEntry binds a selected global page.
type PageEntry struct {
	ID         string
	GlobalPage int
	Title      string
}

// ChapterEntry is a heading without a page.
type ChapterEntry struct {
	ID    string
	Title string
}

func (e PageEntry) EntryID() string    { return e.ID }
func (e PageEntry) EntryTitle() string { return e.Title }
func (PageEntry) isEntry()             {}

func (e ChapterEntry) EntryID() string    { return e.ID }
func (e ChapterEntry) EntryTitle() string { return e.Title }
func (ChapterEntry) isEntry()             {}

func pageID(global int) string { return fmt.Sprintf("page-%d", global) }

// NumberedEntry pairs an entry with its output page number. Chapters have
// number 0.
type NumberedEntry struct {
	Entry  Entry
	Number int
}

// Number assigns page numbers by counting page entries from the top, so the
// k-th page entry gets k + offset.
func Number(entries []Entry, offset int) []NumberedEntry {
	out := make([]NumberedEntry, len(entries))
	k := 0
	for i, e := range entries {
		out[i].Entry = e
		if _, ok := e.(PageEntry); ok {
			k++
			out[i].Number = k + offset
		}
	}
	return out
}

// Pages returns the page entries in order.
func Pages(entries []Entry) []PageEntry {
	var out []PageEntry
	for _, e := range entries {
		if p, ok := e.(PageEntry); ok {
			out = append(out, p)
		}
	}
	return out
}
