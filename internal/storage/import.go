package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Dataset is the JSON document accepted by Import.
type Dataset struct {
	Forms    []FormDoc  `json:"forms"`
	Entries  []EntryDoc `json:"entries"`
	Children []ChildDoc `json:"children"`
}

type FormDoc struct {
	ID                  int64      `json:"id"`
	Title               string     `json:"title"`
	BypassNotifications bool       `json:"bypass_notifications"`
	BypassDisplay       bool       `json:"bypass_display"`
	BulkNameTemplate    string     `json:"bulk_name_template"`
	Fields              []FieldDoc `json:"fields"`
}

type FieldDoc struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	Label         string `json:"label"`
	CSSClass      string `json:"css_class"`
	MultipleFiles bool   `json:"multiple_files"`
	NestedFormID  int64  `json:"nested_form_id"`
}

type EntryDoc struct {
	ID        int64             `json:"id"`
	FormID    int64             `json:"form_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
	Values    map[string]string `json:"values"`
}

type ChildDoc struct {
	ParentID int64 `json:"parent_id"`
	FieldID  int64 `json:"field_id"`
	ChildID  int64 `json:"child_id"`
	Position int   `json:"position"`
}

// ImportStats counts what Import wrote.
type ImportStats struct {
	Forms    int
	Entries  int
	Children int
}

// DecodeDataset reads a Dataset from r.
func DecodeDataset(r io.Reader) (Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return Dataset{}, fmt.Errorf("decoding dataset: %w", err)
	}
	return ds, nil
}

// Import writes all forms, entries and child links of ds in one transaction.
func (s *Store) Import(ds Dataset) (ImportStats, error) {
	var stats ImportStats

	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	for _, fd := range ds.Forms {
		f := Form{
			ID:    fd.ID,
			Title: fd.Title,
			Settings: FormSettings{
				BypassNotifications: fd.BypassNotifications,
				BypassDisplay:       fd.BypassDisplay,
				BulkNameTemplate:    fd.BulkNameTemplate,
			},
		}
		for i, fl := range fd.Fields {
			f.Fields = append(f.Fields, Field{
				ID:            fl.ID,
				FormID:        fd.ID,
				Position:      i + 1,
				Type:          fl.Type,
				Label:         fl.Label,
				CSSClass:      fl.CSSClass,
				MultipleFiles: fl.MultipleFiles,
				NestedFormID:  fl.NestedFormID,
			})
		}
		if err := saveFormTx(tx, f); err != nil {
			return stats, err
		}
		stats.Forms++
	}

	for _, ed := range ds.Entries {
		e := Entry{ID: ed.ID, FormID: ed.FormID, CreatedAt: ed.CreatedAt, Values: make(map[int64]string, len(ed.Values))}
		if ed.UpdatedAt != nil {
			e.UpdatedAt = *ed.UpdatedAt
		}
		for k, v := range ed.Values {
			fieldID, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return stats, fmt.Errorf("entry %d: invalid field id %q", ed.ID, k)
			}
			e.Values[fieldID] = v
		}
		if err := saveEntryTx(tx, e); err != nil {
			return stats, err
		}
		stats.Entries++
	}

	for _, cd := range ds.Children {
		if err := linkChild(tx, cd.ParentID, cd.FieldID, cd.ChildID, cd.Position); err != nil {
			return stats, fmt.Errorf("linking entry %d to %d: %w", cd.ChildID, cd.ParentID, err)
		}
		stats.Children++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("committing import: %w", err)
	}
	return stats, nil
}
