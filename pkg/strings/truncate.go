// Package strings holds small text helpers shared by the CLI and console
// listing output.
package strings

import "strings"

// DefaultDescriptionMaxLen is the column width tool and marketplace listings
// allow for a description before truncating it.
const DefaultDescriptionMaxLen = 60

// minTruncateLen leaves room for at least one rune plus the ellipsis.
const minTruncateLen = 4

// TruncateDescription collapses a description onto one line and cuts it to
// maxLen runes, appending "..." when it was cut. maxLen values too small to
// hold anything are clamped.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	// Collapse newlines, tabs and runs of spaces into single spaces.
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
