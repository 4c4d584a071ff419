package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CollapseSpace trims value and folds every run of whitespace, including
// newlines and tabs, into a single space.
func CollapseSpace(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	prevSpace := false
	for _, r := range strings.TrimSpace(value) {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return b.String()
}

// Truncate shortens value to at most limit runes. A limit <= 0 returns value
// unchanged.
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:limit]))
}

// Digits returns only the decimal digits in value.
func Digits(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
}
