package catalog

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	reVEPrefix   = regexp.MustCompile(`(?i)VE[-\s]*`)
	reParens     = regexp.MustCompile(`\([^)]*\)`)
	reNonAlnumSp = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	reNonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

// Normalize lowercases s and keeps only ASCII letters and digits.
// "US: ESPN 2" → "usespn2".
func Normalize(s string) string {
	return strings.ToLower(reNonAlnum.ReplaceAllString(s, ""))
}

// Prettify turns a raw site title into a display name: drops "VE-" tags and parenthetical notes,
// strips punctuation, collapses whitespace and title-cases the words.
func Prettify(raw string) string {
	s := reVEPrefix.ReplaceAllString(raw, "")
	s = reParens.ReplaceAllString(s, "")
	s = reNonAlnumSp.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
	// Casers are stateful and must not be shared across goroutines.
	return cases.Title(language.English).String(s)
}

// JoinLines joins the non-blank trimmed lines of a multi-line link text with " - ".
// Commas are removed since they delimit the display name in an EXTINF line.
func JoinLines(raw string) string {
	var parts []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.ReplaceAll(strings.Join(parts, " - "), ",", "")
}
