package playlist

import (
	"regexp"

	"github.com/snapetech/iptvresolve/internal/catalog"
)

var (
	reSDMarker = regexp.MustCompile(`(?i)(^|[^a-z0-9])SD([^a-z0-9]|$)`)
	reQuality  = regexp.MustCompile(`(?i)(^|[^a-z0-9])(F?HD|UHD|4K|SD)([^a-z0-9]|$)`)
)

// SDMarker reports whether a display name marks a standard-definition duplicate of a channel.
func SDMarker(name string) bool { return reSDMarker.MatchString(name) }

// NameKey is the default update key: quality tags dropped, then catalog.Normalize.
// "ESPN HD" and "ESPN" share a key.
func NameKey(name string) string {
	for {
		next := reQuality.ReplaceAllString(name, "$1$3")
		if next == name {
			break
		}
		name = next
	}
	return catalog.Normalize(name)
}

// Update is a freshly resolved address for an entry already present in the document.
type Update struct {
	Name    string
	Address string
}

// MergeOptions drive a section-scoped merge.
type MergeOptions struct {
	Header     string              // replaces the header line when set
	Updates    []Update            // rewritten into existing entries with the same key, in document order
	LowQuality func(string) bool   // entries whose name matches are dropped; nil keeps everything
	Sections   []string            // refreshable group titles, replaced wholesale by Fresh
	Fresh      []catalog.Entry     // appended after the surviving entries; groups should be in Sections
	Key        func(string) string // name key for Updates; default NameKey
	// Positional hands updates whose key matches nothing to the entries no update claimed,
	// in document order.
	Positional  bool
	OnUnmatched func(Update) // called for each update that reached no entry
}

// MergeStats count what a merge changed.
type MergeStats struct {
	Matched    int // updates applied to an entry, changed or not
	Rewritten  int // matched entries whose address changed
	Unmatched  int // updates that reached no entry
	Dropped    int // low-quality entries
	Removed    int // stale section entries
	Appended   int
	Duplicates int
}

// Merge applies opts to doc in place. Lines outside the touched entries are kept verbatim.
// Given the same opts, merging the result again produces the same document.
func Merge(doc *Document, opts MergeOptions) MergeStats {
	var st MergeStats
	key := opts.Key
	if key == nil {
		key = NameKey
	}
	if opts.Header != "" {
		doc.Header = opts.Header
	}
	sections := make(map[string]bool, len(opts.Sections))
	for _, s := range opts.Sections {
		sections[s] = true
	}

	kept := doc.Blocks[:0:0]
	for _, b := range doc.Blocks {
		if !b.IsEntry() {
			kept = append(kept, b)
			continue
		}
		if opts.LowQuality != nil && opts.LowQuality(b.Name()) {
			st.Dropped++
			continue
		}
		if sections[b.Group()] {
			st.Removed++
			continue
		}
		kept = append(kept, b)
	}

	st.applyUpdates(kept, opts, key)

	for _, e := range opts.Fresh {
		if opts.LowQuality != nil && opts.LowQuality(DisplayName(e.Name)) {
			continue
		}
		lines := EntryLines(e)
		if lines == nil {
			continue
		}
		kept = append(kept, Block{Lines: lines, info: 0, addr: len(lines) - 1})
		st.Appended++
	}

	seen := make(map[string]bool)
	out := kept[:0]
	for _, b := range kept {
		if a := b.Address(); a != "" {
			if seen[a] {
				st.Duplicates++
				continue
			}
			seen[a] = true
		}
		out = append(out, b)
	}
	doc.Blocks = out
	return st
}

// applyUpdates rewrites entry addresses in kept from opts.Updates.
func (st *MergeStats) applyUpdates(kept []Block, opts MergeOptions, key func(string) string) {
	type pending struct {
		u   Update
		hit bool
	}
	queue := make(map[string][]*pending)
	var all []*pending
	for _, u := range opts.Updates {
		if u.Address == "" {
			continue
		}
		p := &pending{u: u}
		k := key(u.Name)
		queue[k] = append(queue[k], p)
		all = append(all, p)
	}
	assign := func(i int, p *pending) {
		if kept[i].Address() != p.u.Address {
			st.Rewritten++
		}
		kept[i] = kept[i].clone()
		kept[i].setAddress(p.u.Address)
		p.hit = true
		st.Matched++
	}
	var unclaimed []int
	for i := range kept {
		if !kept[i].IsEntry() {
			continue
		}
		k := key(kept[i].Name())
		q := queue[k]
		if len(q) == 0 {
			unclaimed = append(unclaimed, i)
			continue
		}
		assign(i, q[0])
		queue[k] = q[1:]
	}
	for _, p := range all {
		if p.hit {
			continue
		}
		if opts.Positional && len(unclaimed) > 0 {
			assign(unclaimed[0], p)
			unclaimed = unclaimed[1:]
			continue
		}
		st.Unmatched++
		if opts.OnUnmatched != nil {
			opts.OnUnmatched(p.u)
		}
	}
}

func (b Block) clone() Block {
	b.Lines = append([]string(nil), b.Lines...)
	return b
}
