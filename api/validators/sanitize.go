package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims input and cuts it to maxLen runes.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen > 0 {
		if runes := []rune(trimmed); len(runes) > maxLen {
			return string(runes[:maxLen])
		}
	}
	return trimmed
}

// SanitizeText is SanitizeString for free text that may span lines. Other control
// characters are dropped.
func SanitizeText(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return SanitizeString(cleaned, maxLen)
}
