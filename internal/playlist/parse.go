package playlist

import (
	"strings"

	"github.com/snapetech/iptvresolve/internal/catalog"
)

// Document is a parsed playlist that serializes back to its source lines verbatim.
type Document struct {
	Header string
	Blocks []Block
}

// Block is either an entry (an #EXTINF line, its directive lines and the address line)
// or loose lines that belong to no entry.
type Block struct {
	Lines []string
	info  int
	addr  int
}

// Parse splits text into a header and blocks. Line endings are normalized to \n.
func Parse(text string) *Document {
	doc := &Document{}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}
	var cur *Block
	flush := func() {
		if cur != nil {
			if cur.addr < 0 {
				cur.info = -1
			}
			doc.Blocks = append(doc.Blocks, *cur)
			cur = nil
		}
	}
	loose := func(l string) {
		doc.Blocks = append(doc.Blocks, Block{Lines: []string{l}, info: -1, addr: -1})
	}
	for i, l := range lines {
		t := strings.TrimSpace(l)
		switch {
		case i == 0 && strings.HasPrefix(t, headerTag):
			doc.Header = l
		case strings.HasPrefix(t, infoTag):
			flush()
			cur = &Block{Lines: []string{l}, info: 0, addr: -1}
		case cur != nil && strings.HasPrefix(t, "#"):
			cur.Lines = append(cur.Lines, l)
		case cur != nil && t != "":
			cur.addr = len(cur.Lines)
			cur.Lines = append(cur.Lines, l)
			doc.Blocks = append(doc.Blocks, *cur)
			cur = nil
		default:
			flush()
			loose(l)
		}
	}
	flush()
	return doc
}

// String serializes d. Parse(d.String()) yields an equal document.
func (d *Document) String() string {
	var b strings.Builder
	h := d.Header
	if h == "" {
		h = headerTag
	}
	b.WriteString(h)
	b.WriteByte('\n')
	for _, bl := range d.Blocks {
		for _, l := range bl.Lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Entries returns the parsed entries in order.
func (d *Document) Entries() []catalog.Entry {
	var out []catalog.Entry
	for _, bl := range d.Blocks {
		if e, ok := bl.Entry(); ok {
			out = append(out, e)
		}
	}
	return out
}

// IsEntry reports whether b is a complete entry.
func (b Block) IsEntry() bool { return b.info >= 0 && b.addr >= 0 }

// Address returns the address line of an entry block.
func (b Block) Address() string {
	if !b.IsEntry() {
		return ""
	}
	return strings.TrimSpace(b.Lines[b.addr])
}

// Name returns the display name of an entry block.
func (b Block) Name() string {
	if !b.IsEntry() {
		return ""
	}
	_, name := splitInfo(b.Lines[b.info])
	return name
}

// Group returns the group-title of an entry block.
func (b Block) Group() string {
	if !b.IsEntry() {
		return ""
	}
	attrs, _ := splitInfo(b.Lines[b.info])
	return attrValue(attrs, "group-title")
}

// Entry decodes b.
func (b Block) Entry() (catalog.Entry, bool) {
	if !b.IsEntry() {
		return catalog.Entry{}, false
	}
	attrs, name := splitInfo(b.Lines[b.info])
	e := catalog.Entry{
		Name:  name,
		TVGID: attrValue(attrs, "tvg-id"),
		Logo:  attrValue(attrs, "tvg-logo"),
		Group: attrValue(attrs, "group-title"),
	}
	e.Address.URL = b.Address()
	for _, l := range b.Lines[b.info+1 : b.addr] {
		l = strings.TrimSpace(l)
		switch {
		case strings.HasPrefix(l, originTag):
			e.Address.Headers.Origin = strings.TrimPrefix(l, originTag)
		case strings.HasPrefix(l, refererTag):
			e.Address.Headers.Referer = strings.TrimPrefix(l, refererTag)
		case strings.HasPrefix(l, uaTag):
			e.Address.Headers.UserAgent = strings.TrimPrefix(l, uaTag)
		}
	}
	return e, true
}

func (b *Block) setAddress(u string) {
	if b.IsEntry() {
		b.Lines[b.addr] = u
	}
}

// splitInfo splits an EXTINF line at the first comma outside quotes.
func splitInfo(l string) (attrs, name string) {
	l = strings.TrimPrefix(strings.TrimSpace(l), infoTag)
	quoted := false
	for i, r := range l {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return l[:i], strings.TrimSpace(l[i+1:])
			}
		}
	}
	return l, ""
}

func attrValue(attrs, key string) string {
	k := key + `="`
	i := strings.Index(attrs, k)
	for i > 0 && attrs[i-1] != ' ' {
		j := strings.Index(attrs[i+1:], k)
		if j < 0 {
			return ""
		}
		i += j + 1
	}
	if i < 0 {
		return ""
	}
	rest := attrs[i+len(k):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		return rest[:j]
	}
	return ""
}
