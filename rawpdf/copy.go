package rawpdf

import (
	"github.com/wudi/pdfkit/ir/raw"
)

// Table is an output object table with sequential object numbers.
type Table struct {
	objs Objects
	next int
}

func NewTable() *Table {
	return &Table{objs: make(Objects), next: 1}
}

// Reserve allocates a reference whose object is set later.
func (t *Table) Reserve() raw.ObjectRef {
	ref := raw.ObjectRef{Num: t.next}
	t.next++
	return ref
}

// Add stores obj under a fresh reference.
func (t *Table) Add(obj raw.Object) raw.ObjectRef {
	ref := t.Reserve()
	t.objs[ref] = obj
	return ref
}

func (t *Table) Set(ref raw.ObjectRef, obj raw.Object) { t.objs[ref] = obj }

func (t *Table) Get(ref raw.ObjectRef) raw.Object { return t.objs[ref] }

func (t *Table) Len() int { return len(t.objs) }

// Objects exposes the table contents.
func (t *Table) Objects() Objects { return t.objs }

// Copier deep-copies objects from one source file into a Table. Every
// source reference is copied once; repeated references share the copy.
type Copier struct {
	dst    *Table
	src    Objects
	mapped map[raw.ObjectRef]raw.ObjectRef
}

func NewCopier(dst *Table, src Objects) *Copier {
	return &Copier{dst: dst, src: src, mapped: make(map[raw.ObjectRef]raw.ObjectRef)}
}

// CopyPage copies a page into the table and returns the new page reference.
// The copy carries its inherited attributes and no /Parent; the caller links
// it into the output page tree. References to other pages of the source
// (link annotations, article beads) become null so unrelated pages are not
// dragged along.
func (c *Copier) CopyPage(p Page) raw.ObjectRef {
	if p.Ref.Num != 0 {
		if ref, ok := c.mapped[p.Ref]; ok {
			return ref
		}
	}
	ref := c.dst.Reserve()
	if p.Ref.Num != 0 {
		c.mapped[p.Ref] = ref
	}
	out := raw.Dict()
	for k, v := range p.Dict.KV {
		switch k {
		case "Parent", "Resources", "MediaBox", "CropBox", "Rotate", "B", "StructParents":
			continue
		}
		out.KV[k] = c.Copy(v)
	}
	out.KV["Type"] = raw.NameLiteral("Page")
	out.KV["MediaBox"] = p.MediaBox.Array()
	if p.CropBox != p.MediaBox {
		out.KV["CropBox"] = p.CropBox.Array()
	}
	if p.Rotate != 0 {
		out.KV["Rotate"] = raw.NumberInt(int64(p.Rotate))
	}
	if p.Resources != nil {
		out.KV["Resources"] = c.Copy(p.Resources)
	} else {
		out.KV["Resources"] = raw.Dict()
	}
	c.dst.Set(ref, out)
	return ref
}

// Copy deep-copies o. Indirect objects are copied into the table and
// referenced from the result.
func (c *Copier) Copy(o raw.Object) raw.Object {
	switch v := o.(type) {
	case raw.RefObj:
		if ref, ok := c.mapped[v.R]; ok {
			return raw.RefObj{R: ref}
		}
		target, ok := c.src[v.R]
		if !ok {
			return raw.NullObj{}
		}
		if isPageNode(c.src, target) {
			return raw.NullObj{}
		}
		ref := c.dst.Reserve()
		c.mapped[v.R] = ref
		c.dst.Set(ref, c.Copy(target))
		return raw.RefObj{R: ref}
	case *raw.DictObj:
		out := raw.Dict()
		for k, item := range v.KV {
			out.KV[k] = c.Copy(item)
		}
		return out
	case *raw.ArrayObj:
		items := make([]raw.Object, len(v.Items))
		for i, item := range v.Items {
			items[i] = c.Copy(item)
		}
		return raw.NewArray(items...)
	case *raw.StreamObj:
		dict := c.Copy(v.Dict).(*raw.DictObj)
		data := append([]byte(nil), v.Data...)
		dict.KV["Length"] = raw.NumberInt(int64(len(data)))
		return raw.NewStream(dict, data)
	case raw.StringObj:
		return raw.Str(append([]byte(nil), v.Bytes...))
	case nil:
		return raw.NullObj{}
	default:
		return v
	}
}

func isPageNode(objs Objects, o raw.Object) bool {
	d, ok := o.(*raw.DictObj)
	if !ok {
		return false
	}
	switch objs.Name(d.KV["Type"]) {
	case "Page", "Pages":
		return true
	}
	return false
}
