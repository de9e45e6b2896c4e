package batch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/pdfmerge/internal/storage"
	"github.com/kalambet/pdfmerge/internal/uploads"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)(?::(\d+))?\}`)

// RenderName expands a bulk naming template for entry and returns a safe
// file name ending in .pdf. Supported placeholders: {entry_id}, {form_id},
// {form_title}, {date_created} and {field:N}. Unknown placeholders expand to
// nothing.
func RenderName(tmpl string, form storage.Form, entry storage.Entry) string {
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		switch sub[1] {
		case "entry_id":
			return strconv.FormatInt(entry.ID, 10)
		case "form_id":
			return strconv.FormatInt(form.ID, 10)
		case "form_title":
			return form.Title
		case "date_created":
			if entry.CreatedAt.IsZero() {
				return ""
			}
			return entry.CreatedAt.Format("2006-01-02")
		case "field":
			id, err := strconv.ParseInt(sub[2], 10, 64)
			if err != nil {
				return ""
			}
			return entry.Values[id]
		}
		return ""
	})
	out = strings.TrimSuffix(strings.TrimSpace(out), ".pdf")
	return uploads.SafeName(out, strconv.FormatInt(entry.ID, 10)) + ".pdf"
}

// uniqueName returns name, or name with a -N suffix when already taken.
func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		taken[name] = true
		return name
	}
	base := strings.TrimSuffix(name, ".pdf")
	for i := 2; ; i++ {
		n := base + "-" + strconv.Itoa(i) + ".pdf"
		if !taken[n] {
			taken[n] = true
			return n
		}
	}
}
