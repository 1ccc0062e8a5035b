package render

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wudi/pdfdeck/engine"
	"github.com/wudi/pdfdeck/search"
)

// TextLayerClass is the class of the text layer container.
const TextLayerClass = "textLayer"

// TextLayer builds the selectable overlay: one transparent, absolutely
// positioned span per text item, placed with the same viewport transform as
// the raster. Matches of highlight are wrapped in a search.HighlightClass
// span; the text itself is unchanged.
func TextLayer(items []engine.TextItem, vp engine.Viewport, highlight *search.Pattern) (string, error) {
	root := element(atom.Div, "class", TextLayerClass,
		"style", fmt.Sprintf("position:absolute;left:0;top:0;width:%s;height:%s;color:transparent", px(vp.Width), px(vp.Height)))

	var firstErr error
	for _, it := range items {
		if it.Text == "" {
			continue
		}
		m := it.Transform.Multiply(vp.Transform)
		fontHeight := math.Hypot(m[2], m[3])
		if fontHeight == 0 {
			continue
		}
		angle := math.Atan2(m[1], m[0]) * 180 / math.Pi
		style := fmt.Sprintf("position:absolute;white-space:pre;left:%s;top:%s;font-size:%s;font-family:sans-serif",
			px(m[4]), px(m[5]-fontHeight), px(fontHeight))
		if math.Abs(angle) > 0.01 {
			style += fmt.Sprintf(";transform:rotate(%.2fdeg);transform-origin:0 100%%", angle)
		}
		span := element(atom.Span, "style", style)
		var spans [][2]int
		if highlight != nil {
			var err error
			spans, err = highlight.FindAll(it.Text)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		appendMarked(span, it.Text, spans)
		root.AppendChild(span)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", err
	}
	return buf.String(), firstErr
}

// appendMarked adds text to parent, wrapping the rune ranges in spans.
func appendMarked(parent *html.Node, text string, spans [][2]int) {
	runes := []rune(text)
	pos := 0
	for _, s := range spans {
		if s[0] < pos || s[1] > len(runes) {
			continue
		}
		if s[0] > pos {
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: string(runes[pos:s[0]])})
		}
		mark := element(atom.Span, "class", search.HighlightClass)
		mark.AppendChild(&html.Node{Type: html.TextNode, Data: string(runes[s[0]:s[1]])})
		parent.AppendChild(mark)
		pos = s[1]
	}
	if pos < len(runes) {
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: string(runes[pos:])})
	}
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func px(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	if s == "-0" {
		s = "0"
	}
	return s + "px"
}
