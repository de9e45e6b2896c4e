package document

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/go-pdf/fpdf"

	"github.com/kalambet/pdfmerge/internal/storage"
)

// CoverRenderer renders a summary page of a record's field values. It stands
// in for the site's own PDF generator when a cover is requested.
type CoverRenderer struct {
	TempDir string
}

// Render writes the cover for entry into the temp directory.
func (c *CoverRenderer) Render(ctx context.Context, form storage.Form, entry storage.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := createTemp(c.TempDir, "cover-*.pdf")
	if err != nil {
		return "", err
	}

	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetTitle(form.Title, true)
	doc.AddPage()

	doc.SetFont("Arial", "B", 16)
	doc.MultiCell(0, 10, tr(form.Title), "", "", false)
	doc.SetFont("Arial", "", 10)
	doc.MultiCell(0, 6, fmt.Sprintf("Entry #%d, submitted %s", entry.ID, entry.CreatedAt.Format("2006-01-02 15:04")), "", "", false)
	doc.Ln(4)

	for _, row := range coverRows(form, entry) {
		doc.SetFont("Arial", "B", 11)
		doc.MultiCell(0, 7, tr(row[0]), "", "", false)
		doc.SetFont("Arial", "", 11)
		doc.MultiCell(0, 7, tr(row[1]), "", "", false)
		doc.Ln(2)
	}

	if err := doc.OutputFileAndClose(path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing cover %s: %w", path, err)
	}
	return path, nil
}

// coverRows lists label/value pairs for the plain fields of entry. Upload
// and nested fields are left out since their content follows the cover.
func coverRows(form storage.Form, entry storage.Entry) [][2]string {
	var rows [][2]string
	seen := make(map[int64]bool)
	for _, f := range form.Fields {
		seen[f.ID] = true
		switch f.Type {
		case storage.FieldFileUpload, storage.FieldNestedForm, storage.FieldMergePDFs:
			continue
		}
		v := entry.Values[f.ID]
		if v == "" {
			continue
		}
		label := f.Label
		if label == "" {
			label = fmt.Sprintf("Field %d", f.ID)
		}
		rows = append(rows, [2]string{label, v})
	}

	// values without a field definition, in id order
	var orphans []int64
	for id, v := range entry.Values {
		if !seen[id] && v != "" {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	for _, id := range orphans {
		rows = append(rows, [2]string{fmt.Sprintf("Field %d", id), entry.Values[id]})
	}
	return rows
}
