package normalize

import (
	"html"
	"regexp"
	"strings"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// Sanitize scrubs a string destined for an HTML-adjacent consumer: tags are
// stripped, control characters removed, and HTML-special characters entity
// escaped. Upstream text is untrusted even when it comes from NOAA.
func Sanitize(s string) string {
	s = tagRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}

	return html.EscapeString(b.String())
}
