package orchestrator

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SearchQuery builds the stock-photo query for a category, collapsing
// whitespace and stripping diacritics ("Évora" becomes "Evora").
func SearchQuery(query, category string) string {
	q := strings.Join(strings.Fields(query+" "+category), " ")
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, q)
	if err != nil {
		return q
	}
	return out
}
