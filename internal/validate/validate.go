// Package validate rejects unusable stream addresses and drops addresses already accepted in the run.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/snapetech/iptvresolve/internal/safeurl"
)

var (
	ErrEmpty     = errors.New("empty address")
	ErrDuplicate = errors.New("duplicate address")
)

// RejectedError reports the rule that rejected an address.
type RejectedError struct {
	Rule string
	URL  string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("rejected by %s: %s", e.Rule, e.URL) }

// Rule is a named rejection predicate. Sites choose which rules apply to their addresses.
type Rule struct {
	Name   string
	Reject func(url string) bool
}

// SentinelToken rejects addresses containing token, case-insensitively.
// Some sites hand out well-formed placeholders such as ".../stream.m3u8?auth_key=false123".
// The check is a plain substring match and will also hit legitimate URLs containing token.
func SentinelToken(token string) Rule {
	t := strings.ToLower(token)
	return Rule{
		Name:   "sentinel:" + t,
		Reject: func(u string) bool { return t != "" && strings.Contains(strings.ToLower(u), t) },
	}
}

// HTTPOnly rejects anything that is not an absolute http(s) URL.
func HTTPOnly() Rule {
	return Rule{
		Name:   "http-only",
		Reject: func(u string) bool { return !safeurl.IsHTTPOrHTTPS(u) },
	}
}

// Validator checks addresses against its rules and dedups accepted ones. Safe for concurrent use.
type Validator struct {
	rules []Rule

	mu     sync.Mutex
	seen   map[string]struct{}
	filter *bloom.BloomFilter
}

// New returns a Validator sized for about expected accepted addresses.
func New(expected uint, rules ...Rule) *Validator {
	if expected < 64 {
		expected = 64
	}
	return &Validator{
		rules:  rules,
		seen:   make(map[string]struct{}),
		filter: bloom.NewWithEstimates(expected, 0.001),
	}
}

// Validate applies the rules only.
func (v *Validator) Validate(url string) error {
	if strings.TrimSpace(url) == "" {
		return ErrEmpty
	}
	for _, r := range v.rules {
		if r.Reject(url) {
			return &RejectedError{Rule: r.Name, URL: url}
		}
	}
	return nil
}

// Accept validates url and records it. An address identical to one accepted earlier returns ErrDuplicate;
// the earlier one stays.
func (v *Validator) Accept(url string) error {
	if err := v.Validate(url); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	// Bloom says "definitely new" for most addresses; the map settles the rest exactly.
	if v.filter.TestString(url) {
		if _, dup := v.seen[url]; dup {
			return ErrDuplicate
		}
	}
	v.seen[url] = struct{}{}
	v.filter.AddString(url)
	return nil
}

// Accepted returns the number of accepted addresses.
func (v *Validator) Accepted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}

// Invalid reports whether err marks a rejected (not duplicate) address.
func Invalid(err error) bool {
	var re *RejectedError
	return errors.Is(err, ErrEmpty) || errors.As(err, &re)
}
