package domain

import (
	"strings"
	"unicode"
)

// NormalizeName produces the canonical matching key for an entity name:
// lowercased, punctuation stripped, ampersands unified, whitespace collapsed.
// Matching on this key absorbs the casing and punctuation drift between
// providers without guessing about genuinely different names.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "&", " and ")

	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '/':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// SortName returns a name suitable for alphabetical ordering, moving a
// leading English article behind a comma ("The Kinks" -> "Kinks, The").
func SortName(name string) string {
	trimmed := strings.TrimSpace(name)
	for _, article := range []string{"The ", "A ", "An "} {
		if len(trimmed) > len(article) && strings.HasPrefix(trimmed, article) {
			return trimmed[len(article):] + ", " + strings.TrimSpace(article)
		}
	}
	return trimmed
}
