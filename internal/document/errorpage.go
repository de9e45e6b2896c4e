package document

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrorPages renders the page that lists inputs which could not be merged.
type ErrorPages struct {
	TempDir string
}

// Build writes the error page for missing into the temp directory and
// returns its path. validCount is the number of files merged after it.
func (e *ErrorPages) Build(missing []string, validCount int) (string, error) {
	return textPage(e.TempDir, "errorpage-*.pdf", ErrorPageText(missing, validCount))
}

// ErrorPageText is the text printed on the error page.
func ErrorPageText(missing []string, validCount int) string {
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = filepath.Base(m)
	}

	var b strings.Builder
	b.WriteString("The following files are missing or unreadable: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n")
	switch {
	case validCount == 1:
		b.WriteString("There is 1 valid file for this entry included after this page.")
	case validCount > 1:
		fmt.Fprintf(&b, "There are %d valid files for this entry included after this page.", validCount)
	default:
		b.WriteString("There are no valid files for this entry.")
	}
	return b.String()
}
