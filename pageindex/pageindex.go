// Package pageindex maps one continuous, 1-based global page space onto the
// pages of an ordered list of documents.
//
// Global page k is the k-th page of the concatenation, in document order, of
// every document's pages 1..PageCount. No other package computes page
// offsets itself.
package pageindex

// Source is what the index needs to know about one loaded document.
type Source struct {
	Name      string
	PageCount int
}

// Entry locates one global page.
type Entry struct {
	DocumentIndex int
	LocalPage     int
	DocumentName  string
}

// Index is immutable once built and safe for concurrent use.
type Index struct {
	entries []Entry
	// starts[i] is the 0-based position of document i's first page.
	starts []int
	counts []int
}

// Build lays out sources in order. Documents with no pages occupy no slot
// but keep their document index.
func Build(sources []Source) *Index {
	total := 0
	for _, s := range sources {
		if s.PageCount > 0 {
			total += s.PageCount
		}
	}
	idx := &Index{
		entries: make([]Entry, 0, total),
		starts:  make([]int, len(sources)),
		counts:  make([]int, len(sources)),
	}
	for i, s := range sources {
		idx.starts[i] = len(idx.entries)
		for local := 1; local <= s.PageCount; local++ {
			idx.entries = append(idx.entries, Entry{DocumentIndex: i, LocalPage: local, DocumentName: s.Name})
		}
		idx.counts[i] = len(idx.entries) - idx.starts[i]
	}
	return idx
}

// Total is the number of global pages. A nil Index is empty.
func (x *Index) Total() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

// Documents is the number of documents the index was built from.
func (x *Index) Documents() int {
	if x == nil {
		return 0
	}
	return len(x.starts)
}

// Resolve returns the entry of global page n. It reports false when n is
// outside [1, Total()].
func (x *Index) Resolve(n int) (Entry, bool) {
	if n < 1 || n > x.Total() {
		return Entry{}, false
	}
	return x.entries[n-1], true
}

// GlobalOf is the inverse of Resolve.
func (x *Index) GlobalOf(documentIndex, localPage int) (int, bool) {
	if documentIndex < 0 || documentIndex >= x.Documents() {
		return 0, false
	}
	if localPage < 1 || localPage > x.counts[documentIndex] {
		return 0, false
	}
	return x.starts[documentIndex] + localPage, true
}

// DocumentRange returns the first and last global page of a document.
func (x *Index) DocumentRange(documentIndex int) (first, last int, ok bool) {
	if documentIndex < 0 || documentIndex >= x.Documents() || x.counts[documentIndex] == 0 {
		return 0, 0, false
	}
	first = x.starts[documentIndex] + 1
	return first, first + x.counts[documentIndex] - 1, true
}

// Entries returns a copy of all entries in global order.
func (x *Index) Entries() []Entry {
	if x == nil {
		return nil
	}
	return append([]Entry(nil), x.entries...)
}
