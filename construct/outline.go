package construct

import (
	"unicode/utf16"

	"github.com/wudi/pdfkit/ir/raw"
	"golang.org/x/text/encoding/unicode"
)

// Outline is a bookmark. Page is the zero-based output page it opens, or
// -1 for a bookmark without destination.
type Outline struct {
	Title    string
	Page     int
	children []*Outline
}

// AddOutline appends a top-level bookmark.
func (d *Document) AddOutline(title string, page int) *Outline {
	o := &Outline{Title: title, Page: page}
	d.outline = append(d.outline, o)
	return o
}

// Add appends a child bookmark.
func (o *Outline) Add(title string, page int) *Outline {
	c := &Outline{Title: title, Page: page}
	o.children = append(o.children, c)
	return c
}

func (o *Outline) Children() []*Outline { return o.children }

func (d *Document) writeOutline() raw.ObjectRef {
	root := d.table.Reserve()
	first, last, count := d.writeItems(root, d.outline)
	dict := raw.Dict()
	dict.KV["Type"] = raw.NameLiteral("Outlines")
	dict.KV["First"] = raw.RefObj{R: first}
	dict.KV["Last"] = raw.RefObj{R: last}
	dict.KV["Count"] = raw.NumberInt(int64(count))
	d.table.Set(root, dict)
	return root
}

// writeItems writes a sibling chain and returns its ends and the number of
// visible descendants.
func (d *Document) writeItems(parent raw.ObjectRef, items []*Outline) (raw.ObjectRef, raw.ObjectRef, int) {
	refs := make([]raw.ObjectRef, len(items))
	for i := range items {
		refs[i] = d.table.Reserve()
	}
	count := len(items)
	for i, it := range items {
		dict := raw.Dict()
		dict.KV["Title"] = raw.Str(textString(it.Title))
		dict.KV["Parent"] = raw.RefObj{R: parent}
		if i > 0 {
			dict.KV["Prev"] = raw.RefObj{R: refs[i-1]}
		}
		if i < len(items)-1 {
			dict.KV["Next"] = raw.RefObj{R: refs[i+1]}
		}
		if it.Page >= 0 && it.Page < len(d.pages) {
			dict.KV["Dest"] = raw.NewArray(raw.RefObj{R: d.pages[it.Page].ref}, raw.NameLiteral("Fit"))
		}
		if len(it.children) > 0 {
			first, last, n := d.writeItems(refs[i], it.children)
			dict.KV["First"] = raw.RefObj{R: first}
			dict.KV["Last"] = raw.RefObj{R: last}
			dict.KV["Count"] = raw.NumberInt(int64(n))
			count += n
		}
		d.table.Set(refs[i], dict)
	}
	return refs[0], refs[len(refs)-1], count
}

// textString encodes s as a PDF text string: bytes for ASCII, UTF-16BE with
// a byte order mark otherwise.
func textString(s string) []byte {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return []byte(s)
	}
	b, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

func utf16Units(s string) []uint16 { return utf16.Encode([]rune(s)) }
