package uploads

import (
	"strings"
	"unicode"
)

// SafeName reduces s to a file name made of letters, digits, dot, dash and
// underscore. Spaces become dashes. An empty result yields fallback.
func SafeName(s, fallback string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return fallback
	}
	return name
}
