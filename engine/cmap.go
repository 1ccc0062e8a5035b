package engine

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/wudi/pdfkit/scanner"
)

type cmapKey struct {
	code uint32
	n    int
}

// toUnicode maps character codes of a font to text.
type toUnicode struct {
	entries map[cmapKey]string
	// lengths holds the code byte lengths, longest first.
	lengths []int
}

// parseToUnicode reads the bfchar, bfrange and codespacerange sections of a
// ToUnicode CMap. Malformed entries are skipped.
func parseToUnicode(data []byte) *toUnicode {
	m := &toUnicode{entries: make(map[cmapKey]string)}
	lengthSet := make(map[int]bool)
	s := scanner.New(bytes.NewReader(data), scanner.Config{})

	var ops, array [][]byte
	inArray := false
	section := ""

	flushChars := func() {
		for len(ops) >= 2 {
			src, dst := ops[0], ops[1]
			m.entries[cmapKey{codeOf(src), len(src)}] = utf16BE(dst)
			lengthSet[len(src)] = true
			ops = ops[2:]
		}
	}
	flushRanges := func(keep int) {
		for len(ops) >= 3+keep {
			lo, hi, dst := ops[0], ops[1], ops[2]
			start, end := codeOf(lo), codeOf(hi)
			base := []rune(utf16BE(dst))
			if len(base) > 0 && end >= start && end-start < 1<<16 {
				for i := uint32(0); start+i <= end; i++ {
					r := append([]rune(nil), base...)
					r[len(r)-1] += rune(i)
					m.entries[cmapKey{start + i, len(lo)}] = string(r)
				}
			}
			lengthSet[len(lo)] = true
			ops = ops[3:]
		}
	}

	for {
		tok, err := s.Next()
		if err != nil {
			break
		}
		switch tok.Type {
		case scanner.TokenString:
			b := tok.Bytes
			if inArray {
				array = append(array, b)
			} else {
				ops = append(ops, b)
			}
			continue
		case scanner.TokenArray:
			if section == "bfrange" {
				flushRanges(2)
			}
			inArray, array = true, nil
			continue
		case scanner.TokenKeyword:
		default:
			continue
		}
		kw := tok.Str
		if kw == "]" {
			inArray = false
			if section == "bfrange" && len(ops) == 2 {
				lo := ops[0]
				start, end := codeOf(lo), codeOf(ops[1])
				for i := uint32(0); start+i <= end && int(i) < len(array); i++ {
					m.entries[cmapKey{start + i, len(lo)}] = utf16BE(array[i])
				}
				lengthSet[len(lo)] = true
			}
			ops = ops[:0]
			continue
		}
		switch section {
		case "bfchar":
			flushChars()
		case "bfrange":
			flushRanges(0)
		case "codespacerange":
			for i := 0; i+1 < len(ops); i += 2 {
				lengthSet[len(ops[i])] = true
			}
		}
		ops = ops[:0]
		switch kw {
		case "begincodespacerange", "beginbfchar", "beginbfrange":
			section = strings.TrimPrefix(kw, "begin")
		case "endcodespacerange", "endbfchar", "endbfrange":
			section = ""
		}
	}
	for l := range lengthSet {
		if l > 0 && l <= 4 {
			m.lengths = append(m.lengths, l)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(m.lengths)))
	return m
}

// decode maps a shown string to text using the longest matching code.
// Unmapped bytes are skipped.
func (m *toUnicode) decode(data []byte, fallbackLen int) []glyph {
	lengths := m.lengths
	if len(lengths) == 0 {
		lengths = []int{fallbackLen}
	}
	var out []glyph
	for len(data) > 0 {
		matched := false
		for _, l := range lengths {
			if len(data) < l {
				continue
			}
			code := codeOf(data[:l])
			if text, ok := m.entries[cmapKey{code, l}]; ok {
				out = append(out, glyph{code: code, n: l, text: text})
				data = data[l:]
				matched = true
				break
			}
		}
		if !matched {
			l := lengths[len(lengths)-1]
			if l > len(data) {
				l = len(data)
			}
			out = append(out, glyph{code: codeOf(data[:l]), n: l})
			data = data[l:]
		}
	}
	return out
}

func codeOf(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func utf16BE(b []byte) string {
	if len(b)%2 == 1 {
		b = b[:len(b)-1]
	}
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(u))
}
