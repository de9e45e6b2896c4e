package storage

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Field types the merge pipeline cares about. Anything else is ignored.
const (
	FieldFileUpload = "fileupload"
	FieldNestedForm = "form"
	FieldMergePDFs  = "merge_pdfs"
)

type Form struct {
	ID       int64
	Title    string
	Fields   []Field
	Settings FormSettings
}

// HasField reports whether the form declares at least one field of type typ.
func (f Form) HasField(typ string) bool {
	for _, fl := range f.Fields {
		if fl.Type == typ {
			return true
		}
	}
	return false
}

type Field struct {
	ID            int64
	FormID        int64
	Position      int
	Type          string
	Label         string
	CSSClass      string // space separated
	MultipleFiles bool
	NestedFormID  int64
}

// HasClass reports whether class appears as a token in the field's CSS classes.
func (f Field) HasClass(class string) bool {
	for _, c := range strings.Fields(f.CSSClass) {
		if c == class {
			return true
		}
	}
	return false
}

type FormSettings struct {
	BypassNotifications bool
	BypassDisplay       bool
	BulkNameTemplate    string
}

type Entry struct {
	ID        int64
	FormID    int64
	CreatedAt time.Time
	UpdatedAt time.Time // zero when the entry was never edited
	Values    map[int64]string
}

// Modified returns the last update time, falling back to the creation time.
func (e Entry) Modified() time.Time {
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	return e.CreatedAt
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	Result      string
}
