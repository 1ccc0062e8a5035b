package rawpdf

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/writer"
)

// Trailer names the document-level objects of a file being written.
type Trailer struct {
	Root raw.ObjectRef
	Info *raw.ObjectRef
	ID   []byte
}

// Write serializes the table as a PDF 1.7 file with a classic xref table.
// Objects are serialized by ser; names are escaped here first.
func (t *Table) Write(w io.Writer, ser writer.Writer, tr Trailer) error {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	refs := make([]raw.ObjectRef, 0, len(t.objs))
	for ref := range t.objs {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })

	offsets := make(map[int]int64, len(refs))
	maxNum := 0
	for _, ref := range refs {
		offsets[ref.Num] = int64(buf.Len())
		data, err := ser.SerializeObject(ref, escape(t.objs[ref]))
		if err != nil {
			return fmt.Errorf("serialize %s: %w", ref, err)
		}
		buf.Write(data)
		maxNum = max(maxNum, ref.Num)
	}

	xrefAt := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&buf, "trailer\n<</Size %d /Root %d %d R", maxNum+1, tr.Root.Num, tr.Root.Gen)
	if tr.Info != nil {
		fmt.Fprintf(&buf, " /Info %d %d R", tr.Info.Num, tr.Info.Gen)
	}
	if len(tr.ID) > 0 {
		fmt.Fprintf(&buf, " /ID [<%x> <%x>]", tr.ID, tr.ID)
	}
	fmt.Fprintf(&buf, ">>\nstartxref\n%d\n%%%%EOF\n", xrefAt)

	_, err := w.Write(buf.Bytes())
	return err
}

// escape returns a copy of o whose names are safe to emit verbatim. The
// serializer escapes literal strings itself.
func escape(o raw.Object) raw.Object {
	switch v := o.(type) {
	case *raw.DictObj:
		out := raw.Dict()
		for k, item := range v.KV {
			out.KV[escapeName(k)] = escape(item)
		}
		return out
	case *raw.ArrayObj:
		items := make([]raw.Object, len(v.Items))
		for i, item := range v.Items {
			items[i] = escape(item)
		}
		return raw.NewArray(items...)
	case *raw.StreamObj:
		dict := escape(v.Dict).(*raw.DictObj)
		dict.KV["Length"] = raw.NumberInt(int64(len(v.Data)))
		return raw.NewStream(dict, v.Data)
	case raw.NameObj:
		return raw.NameLiteral(escapeName(v.Val))
	case nil:
		return raw.NullObj{}
	}
	return o
}

// EscapeString escapes b for use inside a literal string in content streams.
func EscapeString(b []byte) []byte { return escapeString(b) }

func escapeString(b []byte) []byte {
	out := make([]byte, 0, len(b)+8)
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		default:
			if c < 0x20 || c >= 0x7f {
				out = append(out, '\\', '0'+(c>>6), '0'+((c>>3)&7), '0'+(c&7))
			} else {
				out = append(out, c)
			}
		}
	}
	return out
}

func escapeName(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '!' || c > '~' || bytes.IndexByte([]byte("#()<>[]{}/%"), c) >= 0 {
			if b == nil {
				b = append([]byte(nil), s[:i]...)
			}
			b = append(b, '#', hexDigit(c>>4), hexDigit(c&0xf))
			continue
		}
		if b != nil {
			b = append(b, c)
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}

func hexDigit(c byte) byte {
	if c < 10 {
		return '0' + c
	}
	return 'A' + c - 10
}
