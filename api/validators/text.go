package validators

import (
	"strings"
	"unicode"
)

// CleanText trims s, drops control characters and truncates to maxRunes
// runes. A non-positive maxRunes disables truncation.
func CleanText(s string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if maxRunes <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= maxRunes {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}
