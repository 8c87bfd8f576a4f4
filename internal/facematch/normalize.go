package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics strips diacritical marks from a string (e.g., "Novák" -> "Novak").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// NormalizeLabel canonicalizes an identity label for grouping: lowercase, no
// diacritics, dashes and underscores treated as word separators, runs of
// whitespace collapsed. Labels come from file names, so the same person may
// appear as "Jan-Novak", "jan_novak_2" or "Jan Novák".
func NormalizeLabel(label string) string {
	label = RemoveDiacritics(label)
	label = strings.ToLower(label)
	label = strings.ReplaceAll(label, "-", " ")
	label = strings.ReplaceAll(label, "_", " ")
	return strings.Join(strings.Fields(label), " ")
}
