// Package matcher recognizes the outbound request that carries a real stream address.
package matcher

import (
	"net/url"
	"regexp"
	"strings"
)

// ContentPattern finds stream addresses embedded in serialized page content.
var ContentPattern = regexp.MustCompile(`https?://[^\s"'<>]+\.m3u8(?:\?[^"'<>\s]*)?`)

// Matcher is a cheap predicate over request URLs. Safe for concurrent use once built.
type Matcher struct {
	substr      string
	query       string
	unwrapPath  string
	unwrapParam string
}

// Option configures a Matcher.
type Option func(*Matcher)

// New returns a Matcher for URLs containing substr (".m3u8" when empty), case-insensitively.
func New(substr string, opts ...Option) *Matcher {
	if substr == "" {
		substr = ".m3u8"
	}
	m := &Matcher{substr: strings.ToLower(substr)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RequireQuery additionally requires query parameter name to be present.
func RequireQuery(name string) Option {
	return func(m *Matcher) { m.query = name }
}

// Unwrap extracts the address carried in query parameter param of tracker requests whose URL contains path
// (e.g. "ping.gif?mu=<escaped address>").
func Unwrap(path, param string) Option {
	return func(m *Matcher) {
		m.unwrapPath = path
		m.unwrapParam = param
	}
}

// Match reports whether rawURL is (or wraps) a stream address and returns that address.
func (m *Matcher) Match(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	if m.unwrapPath != "" && strings.Contains(rawURL, m.unwrapPath) {
		if inner, ok := m.unwrap(rawURL); ok {
			rawURL = inner
		}
	}
	if !strings.Contains(strings.ToLower(rawURL), m.substr) {
		return "", false
	}
	if m.query != "" {
		u, err := url.Parse(rawURL)
		if err != nil || !u.Query().Has(m.query) {
			return "", false
		}
	}
	return rawURL, true
}

func (m *Matcher) unwrap(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	// Query().Get already unescapes once.
	inner := u.Query().Get(m.unwrapParam)
	if inner == "" {
		return "", false
	}
	return inner, true
}

// Scan returns the first address in content that ContentPattern finds and Match accepts.
func (m *Matcher) Scan(content string) (string, bool) {
	for _, hit := range ContentPattern.FindAllString(content, -1) {
		if addr, ok := m.Match(hit); ok {
			return addr, true
		}
	}
	return "", false
}

func (m *Matcher) String() string {
	s := "contains " + m.substr
	if m.query != "" {
		s += " with ?" + m.query
	}
	if m.unwrapPath != "" {
		s += " (unwrap " + m.unwrapPath + " " + m.unwrapParam + ")"
	}
	return s
}
