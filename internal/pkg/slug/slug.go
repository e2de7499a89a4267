// Package slug derives filesystem- and branch-safe names from work item
// titles. Branch names feed git directly, so the rules are strict: NFKC
// normalization, lowercase, [a-z0-9-] only, bounded length.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxRunes = 48

// Make converts a title to a slug usable as a branch or directory suffix.
// Empty input (or input with no representable runes) falls back to "work".
func Make(title string) string {
	title = norm.NFKC.String(title)
	title = strings.ToLower(title)

	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/' || r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			// Other runes (punctuation, non-Latin scripts) are dropped.
		}
	}

	s := strings.TrimRight(b.String(), "-")
	if runes := []rune(s); len(runes) > maxRunes {
		s = strings.TrimRight(string(runes[:maxRunes]), "-")
	}
	if s == "" {
		return "work"
	}
	return s
}

// Branch builds the workspace branch name for a work item
func Branch(workItemID, title string) string {
	return "weave/" + workItemID + "-" + Make(title)
}
