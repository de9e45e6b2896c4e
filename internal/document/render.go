package document

import (
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
)

// createTemp reserves a unique file name in dir for a generated document.
func createTemp(dir, pattern string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// textPage writes a single A4 page holding text to a new file in dir.
func textPage(dir, pattern, text string) (string, error) {
	path, err := createTemp(dir, pattern)
	if err != nil {
		return "", err
	}

	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()
	doc.SetFont("Arial", "B", 12)
	doc.MultiCell(0, 10, tr(text), "", "", false)

	if err := doc.OutputFileAndClose(path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
