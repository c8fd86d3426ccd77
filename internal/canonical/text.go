package canonical

import (
	"regexp"
	"strings"
)

// readMoreRE matches the expand/collapse affordance text the remote UI
// appends to truncated disclosure cells.
var readMoreRE = regexp.MustCompile(`(?i)\bread\s+(more|less)\b`)

var spaceRE = regexp.MustCompile(`\s+`)

// Announcement cleans a raw disclosure text: UI affordance artifacts are
// removed, whitespace is collapsed, and the result is terminated with
// sentence punctuation. The same input always yields the same output, which
// keeps repeated ingestions idempotent.
func Announcement(raw string) string {
	s := readMoreRE.ReplaceAllString(raw, "")
	s = spaceRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
		s += "."
	}
	return s
}
