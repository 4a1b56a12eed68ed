// Package strings holds small text helpers shared by the output layers.
package strings

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "..."

// minWidth leaves room for one rune plus Ellipsis.
const minWidth = 4

// SingleLine collapses every run of whitespace, newlines included, into a
// single space and trims the ends.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate returns SingleLine(s) cut to at most width runes, ending in
// Ellipsis when cut. Widths below 4 are raised to 4.
func Truncate(s string, width int) string {
	width = max(width, minWidth)
	s = SingleLine(s)
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-len(Ellipsis)]) + Ellipsis
}
