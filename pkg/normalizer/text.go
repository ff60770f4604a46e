// pkg/normalizer/text.go
package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	frenchTitle       = cases.Title(language.French)
)

// StripDiacritics removes combining marks so that "Léo" and "Leo" normalize
// identically regardless of source formatting.
func StripDiacritics(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the input.
		return s
	}
	return out
}

// NormalizeGeoName canonicalizes one level of the facility hierarchy: trims
// and collapses whitespace, strips diacritics and applies title case.
func NormalizeGeoName(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	if collapsed == "" {
		return ""
	}
	return frenchTitle.String(StripDiacritics(collapsed))
}

// FoldKey lowercases a normalized name and replaces spaces with underscores,
// producing the form used inside natural keys.
func FoldKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

// GeoID builds the natural key of a facility from its identifying levels.
// Only levels that name the facility itself belong here; administrative
// levels that can be reassigned stay out of the key so they can be versioned.
func GeoID(levels ...string) string {
	folded := make([]string, len(levels))
	for i, l := range levels {
		folded[i] = FoldKey(l)
	}
	return strings.Join(folded, "_")
}
