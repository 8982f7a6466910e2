// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Preview collapses runs of whitespace in s to single spaces and shortens the result to at
// most maxRunes runes, marking a cut with "...". maxRunes <= 0 disables the limit.
func Preview(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
