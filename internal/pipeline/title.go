package pipeline

import (
	"html"
	"strings"
	"unicode"
)

// maxTitleLength is the strictest per-platform title limit among the
// publishing targets.
const maxTitleLength = 50

// SanitizeTitle decodes HTML entities left over from feed scraping, collapses
// whitespace, and caps the result at the platform title limit. Truncation
// backs up to the previous word boundary when one exists past the halfway
// point, so titles do not end mid-word.
func SanitizeTitle(raw string) string {
	decoded := html.UnescapeString(raw)
	fields := strings.Fields(decoded)
	title := strings.Join(fields, " ")
	runes := []rune(title)
	if len(runes) <= maxTitleLength {
		return title
	}

	cut := maxTitleLength
	for cut > maxTitleLength/2 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut <= maxTitleLength/2 {
		cut = maxTitleLength
	}
	return strings.TrimSpace(string(runes[:cut]))
}
