package browser

import "strings"

// Request is what a route filter sees of an outbound request.
type Request struct {
	URL          string
	ResourceType string // CDP resource type, lowercased: document, script, image, media, font, xhr, ...
}

// Filter reports whether a request should be aborted.
type Filter func(Request) bool

var (
	blockedResourceTypes = map[string]bool{"image": true, "media": true, "font": true}
	adSubstrings         = []string{"googlesyndication", "doubleclick", "adservice", "adroll", "pop", "pixel"}
)

// AdFilter blocks heavy resources (images, media, fonts) and well-known ad/tracking hosts.
// Stream playlists are fetched as xhr/fetch so they are never caught by the resource-type rule.
func AdFilter(r Request) bool {
	if blockedResourceTypes[strings.ToLower(r.ResourceType)] {
		return true
	}
	u := strings.ToLower(r.URL)
	for _, s := range adSubstrings {
		if strings.Contains(u, s) {
			return true
		}
	}
	return false
}

// Except returns f with every request whose URL satisfies keep let through,
// e.g. a stream address that happens to contain "pop".
func (f Filter) Except(keep func(url string) bool) Filter {
	return func(r Request) bool {
		if keep != nil && keep(r.URL) {
			return false
		}
		return f(r)
	}
}
