package translate

import (
	"regexp"
	"strings"
	"unicode"
)

// disallowedRunes strips symbols that confuse the translation endpoints.
// Letters and digits in any script survive, as does basic punctuation; the
// circulars mix Gujarati body text with Latin course codes and numerals.
var disallowedRunes = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?:;\-()\[\]"']+`)

// NormalizeText removes disallowed characters, then collapses whitespace.
// The result doubles as the cache key source, so two visually identical
// titles with different spacing normalize to the same string.
func NormalizeText(s string) string {
	s = disallowedRunes.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// ContainsGujarati reports whether any rune belongs to the Gujarati script.
// Text without Gujarati runes is treated as already readable and skips the
// translation backends.
func ContainsGujarati(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Gujarati, r) {
			return true
		}
	}
	return false
}
