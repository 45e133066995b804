// Package slug normalizes free text into branch-safe slugs.
package slug

import "strings"

// Slugify lowercases the text and replaces every non-alphanumeric run with a
// single hyphen. The result is safe to embed in a git ref name.
func Slugify(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return ""
	}

	parts := strings.FieldsFunc(lowered, func(r rune) bool {
		return !isSlugRune(r)
	})
	return strings.Join(parts, "-")
}

// isSlugRune reports whether the rune may appear in a slug verbatim.
func isSlugRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
