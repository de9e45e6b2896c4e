// Package document validates, repairs and generates the single-purpose PDFs
// that feed a merge: error pages, placeholders and record covers.
package document

import (
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrNoPages is returned by Validate for a document with an empty page tree.
var ErrNoPages = errors.New("document has no pages")

// Validate opens the PDF at path and checks it exposes at least one page.
// The reader panics on some malformed inputs; those count as invalid too.
func Validate(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if r.NumPage() < 1 {
		return ErrNoPages
	}
	return nil
}
