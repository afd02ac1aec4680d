// Package playlist renders, parses and merges extended M3U playlists in the 5-line block form
// players need for header-protected streams.
package playlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/snapetech/iptvresolve/internal/catalog"
)

const (
	headerTag  = "#EXTM3U"
	infoTag    = "#EXTINF:"
	originTag  = "#EXTVLCOPT:http-origin="
	refererTag = "#EXTVLCOPT:http-referrer="
	uaTag      = "#EXTVLCOPT:http-user-agent="
)

// Header returns the #EXTM3U line. epgURL adds url-tvg; a non-zero stamp appends an update marker,
// which makes repeated runs differ byte-wise.
func Header(epgURL string, stamp time.Time) string {
	h := headerTag
	if epgURL != "" {
		h += ` url-tvg="` + attr(epgURL) + `"`
	}
	if !stamp.IsZero() {
		h += fmt.Sprintf(" # Updated: %d", stamp.Unix())
	}
	return h
}

// Render returns a full playlist: header then one block per entry with an address.
func Render(header string, entries []catalog.Entry) string {
	if header == "" {
		header = headerTag
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, e := range entries {
		for _, l := range EntryLines(e) {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// EntryLines returns the 5 lines for e, or nil when e has no address.
func EntryLines(e catalog.Entry) []string {
	addr := strings.TrimSpace(e.Address.URL)
	if addr == "" {
		return nil
	}
	info := infoTag + "-1"
	if e.TVGID != "" {
		info += ` tvg-id="` + attr(e.TVGID) + `"`
	}
	if e.Logo != "" {
		info += ` tvg-logo="` + attr(e.Logo) + `"`
	}
	info += ` group-title="` + attr(e.Group) + `",` + DisplayName(e.Name)
	h := e.Address.Headers
	return []string{
		info,
		originTag + line(h.Origin),
		refererTag + line(h.Referer),
		uaTag + line(h.UserAgent),
		addr,
	}
}

// DisplayName strips the characters that would break an EXTINF title.
func DisplayName(name string) string {
	return strings.TrimSpace(line(strings.ReplaceAll(name, ",", "")))
}

func attr(s string) string { return line(strings.ReplaceAll(s, `"`, "")) }

func line(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
