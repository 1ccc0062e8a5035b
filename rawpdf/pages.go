package rawpdf

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfkit/ir/raw"
)

// ErrNoPageTree is returned when a document has no reachable /Pages root.
var ErrNoPageTree = errors.New("rawpdf: page tree not found")

// letter is the fallback media box for pages that declare none.
var letter = Rect{0, 0, 612, 792}

// Page is one leaf of the page tree with inheritable attributes applied.
type Page struct {
	Ref       raw.ObjectRef
	Dict      *raw.DictObj
	Resources raw.Object
	MediaBox  Rect
	CropBox   Rect
	Rotate    int
}

type inherited struct {
	resources raw.Object
	mediaBox  *Rect
	cropBox   *Rect
	rotate    *int
}

// Pages lists the leaves of doc's page tree in document order.
func Pages(doc *raw.Document) ([]Page, error) {
	if doc == nil {
		return nil, ErrNoPageTree
	}
	objs := Objects(doc.Objects)
	root := catalog(doc)
	if root == nil {
		return nil, ErrNoPageTree
	}
	pagesObj, ok := root.KV["Pages"]
	if !ok {
		return nil, ErrNoPageTree
	}
	var out []Page
	seen := make(map[raw.ObjectRef]bool)
	if err := walk(objs, pagesObj, inherited{}, seen, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Catalog returns the document catalog dictionary, or nil.
func Catalog(doc *raw.Document) *raw.DictObj {
	if doc == nil {
		return nil
	}
	return catalog(doc)
}

func catalog(doc *raw.Document) *raw.DictObj {
	objs := Objects(doc.Objects)
	if doc.Trailer != nil {
		if rootObj, ok := doc.Trailer.Get(raw.NameLiteral("Root")); ok {
			if d := objs.Dict(rootObj); d != nil {
				return d
			}
		}
	}
	// Damaged trailer: fall back to scanning for the catalog.
	var best *raw.DictObj
	bestNum := -1
	for ref, o := range doc.Objects {
		d, ok := o.(*raw.DictObj)
		if !ok || objs.Name(d.KV["Type"]) != "Catalog" {
			continue
		}
		if ref.Num > bestNum {
			best, bestNum = d, ref.Num
		}
	}
	return best
}

func walk(objs Objects, node raw.Object, inh inherited, seen map[raw.ObjectRef]bool, out *[]Page) error {
	ref, isRef := RefOf(node)
	if isRef {
		if seen[ref] {
			return fmt.Errorf("rawpdf: page tree cycle at %s", ref)
		}
		seen[ref] = true
	}
	dict := objs.Dict(node)
	if dict == nil {
		return nil
	}
	if r, ok := objs.Rect(dict.KV["MediaBox"]); ok {
		inh.mediaBox = &r
	}
	if r, ok := objs.Rect(dict.KV["CropBox"]); ok {
		inh.cropBox = &r
	}
	if n, ok := objs.Number(dict.KV["Rotate"]); ok {
		rot := int(n)
		inh.rotate = &rot
	}
	if res, ok := dict.KV["Resources"]; ok {
		inh.resources = res
	}

	kids, hasKids := dict.KV["Kids"]
	typ := objs.Name(dict.KV["Type"])
	if typ == "Page" || (typ == "" && !hasKids) {
		p := Page{Ref: ref, Dict: dict, Resources: inh.resources, MediaBox: letter}
		if inh.mediaBox != nil {
			p.MediaBox = *inh.mediaBox
		}
		p.CropBox = p.MediaBox
		if inh.cropBox != nil {
			p.CropBox = intersect(*inh.cropBox, p.MediaBox)
		}
		if inh.rotate != nil {
			p.Rotate = NormalizeRotation(*inh.rotate)
		}
		*out = append(*out, p)
		return nil
	}
	arr := objs.Array(kids)
	if arr == nil {
		return nil
	}
	for _, kid := range arr.Items {
		if err := walk(objs, kid, inh, seen, out); err != nil {
			return err
		}
	}
	return nil
}

func intersect(a, b Rect) Rect {
	r := Rect{
		LLX: max(a.LLX, b.LLX), LLY: max(a.LLY, b.LLY),
		URX: min(a.URX, b.URX), URY: min(a.URY, b.URY),
	}
	if r.Empty() {
		return b
	}
	return r
}

// NormalizeRotation maps any multiple of 90 into [0, 360).
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg - deg%90
}
