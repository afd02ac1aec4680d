package catalog

import (
	"fmt"
	"strings"
)

// ElementRef points at the Index-th element matching Selector on a navigation target.
// Sites whose channels are entries in one shared list page (not separate pages) carry one per candidate.
type ElementRef struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
}

// Candidate is one resolvable channel or match discovered on a site.
type Candidate struct {
	ID      string   `json:"id"`      // site-native key or sequence index
	Name    string   `json:"name"`    // display name, commas removed at render time
	Targets []string `json:"targets"` // navigation targets, tried in order
	// Optional hints for group/tvg-id/logo selection
	Category string      `json:"category,omitempty"`
	Logo     string      `json:"logo,omitempty"`
	TVGID    string      `json:"tvg_id,omitempty"`
	Group    string      `json:"group,omitempty"`
	Section  string      `json:"section,omitempty"` // refreshable playlist section; "" = keyed update of an existing entry
	Click    *ElementRef `json:"click,omitempty"`
}

// Resolvable reports whether c has at least one navigation target.
// Candidates failing this are dropped by the source before resolution.
func (c Candidate) Resolvable() bool {
	for _, t := range c.Targets {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}

// Headers are the playback directives a player must send with the stream request.
type Headers struct {
	Origin    string `json:"origin,omitempty"`
	Referer   string `json:"referer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// StreamAddress is an intercepted media address plus its playback headers.
// Two addresses are the same stream iff their URL strings are identical.
type StreamAddress struct {
	URL     string  `json:"url"`
	Headers Headers `json:"headers"`
}

// Status is the terminal state of one candidate's resolution.
type Status int

const (
	StatusExhausted Status = iota // every target/attempt failed
	StatusResolved
	StatusInvalid // address intercepted but rejected by validation
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusInvalid:
		return "invalid"
	case StatusExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of resolving one Candidate in one run.
type Outcome struct {
	CandidateID string
	Status      Status
	Address     StreamAddress
	Target      string // target that produced Address
	// Attempts is the count made on the final target tried (≤ max retries);
	// TotalAttempts sums every target.
	Attempts      int
	TotalAttempts int
	ViaFallback   bool // matched by page-content scan, not by an observed request
	Err           error
}

// Resolved reports whether o carries a usable address.
func (o Outcome) Resolved() bool { return o.Status == StatusResolved && o.Address.URL != "" }

// Entry is one playable playlist item. Built only from a resolved Outcome and its Candidate.
type Entry struct {
	Name    string
	TVGID   string
	Logo    string
	Group   string
	Address StreamAddress
}

// NewEntry builds the playlist entry for a resolved candidate; group falls back to fallbackGroup.
func NewEntry(c Candidate, addr StreamAddress, fallbackGroup string) Entry {
	g := c.Group
	if g == "" {
		g = fallbackGroup
	}
	return Entry{
		Name:    c.Name,
		TVGID:   c.TVGID,
		Logo:    c.Logo,
		Group:   g,
		Address: addr,
	}
}
