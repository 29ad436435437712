package searchengine

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// foldCaser implements the Unicode case fold half of spec.md §9's
// "lowercase + NFKD accent strip" string-matching invariant.
var foldCaser = cases.Fold()

// normalizeString is the single normalization path shared by the write-time
// indexer (toIndexValue's StringValueNormalized) and the read-time query
// builder (stringClause's :contains/default ILIKE arguments), so a search
// for "José" and a stored "jose" fold to the same comparable value.
func normalizeString(s string) string {
	return stripMarks(norm.NFKD.String(foldCaser.String(s)))
}

// stripMarks drops the combining marks NFKD decomposition splits accented
// runes into, leaving the base letter behind.
func stripMarks(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
