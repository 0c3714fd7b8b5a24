package game

import (
	"regexp"
	"strings"
)

var (
	// Bracketed annotations: "(feat. X)", "[Live]", "(2011 Remaster)" and
	// any other parenthetical content.
	bracketPattern = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)
	// Everything that is not a letter, digit or whitespace.
	symbolPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Normalize reduces a song title or guess to a canonical comparison form.
// Exact equality of normalized strings is the sole acceptance criterion for
// a guess. Normalize is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = bracketPattern.ReplaceAllString(s, " ")

	// "Uptown Funk - Radio Edit" → "Uptown Funk"
	if i := strings.Index(s, " - "); i >= 0 {
		s = s[:i]
	}

	s = symbolPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
