package llamador

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackBranch is returned when the text names no known branch.
const FallbackBranch = "otros"

// knownBranches is matched in order; the first hit wins.
var knownBranches = []string{"catamarca", "salta", "jujuy", "tucuman"}

// Classify maps free text to a branch label by case- and accent-insensitive
// substring search.
func Classify(text string) string {
	folded := fold(text)
	for _, b := range knownBranches {
		if strings.Contains(folded, b) {
			return b
		}
	}
	return FallbackBranch
}

// fold lowercases s and strips combining marks ("Tucumán" -> "tucuman").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
