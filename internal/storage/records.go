package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Forms ---

// SaveForm inserts or replaces a form together with its fields and settings.
func (s *Store) SaveForm(f Form) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning form transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveFormTx(tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

func saveFormTx(tx *sql.Tx, f Form) error {
	if _, err := tx.Exec(`
		INSERT INTO forms (id, title) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title`, f.ID, f.Title); err != nil {
		return fmt.Errorf("saving form %d: %w", f.ID, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO form_settings (form_id, bypass_notifications, bypass_display, bulk_name_template)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(form_id) DO UPDATE SET
			bypass_notifications = excluded.bypass_notifications,
			bypass_display = excluded.bypass_display,
			bulk_name_template = excluded.bulk_name_template`,
		f.ID, f.Settings.BypassNotifications, f.Settings.BypassDisplay, f.Settings.BulkNameTemplate,
	); err != nil {
		return fmt.Errorf("saving settings for form %d: %w", f.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM fields WHERE form_id = ?`, f.ID); err != nil {
		return fmt.Errorf("clearing fields for form %d: %w", f.ID, err)
	}
	for i, fl := range f.Fields {
		pos := fl.Position
		if pos == 0 {
			pos = i + 1
		}
		if _, err := tx.Exec(`
			INSERT INTO fields (form_id, id, position, type, label, css_class, multiple_files, nested_form_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, fl.ID, pos, fl.Type, fl.Label, fl.CSSClass, fl.MultipleFiles, fl.NestedFormID,
		); err != nil {
			return fmt.Errorf("saving field %d of form %d: %w", fl.ID, f.ID, err)
		}
	}
	return nil
}

// GetForm loads a form with its fields in declaration order.
func (s *Store) GetForm(id int64) (Form, error) {
	var f Form
	err := s.db.QueryRow(`
		SELECT f.id, f.title,
			COALESCE(fs.bypass_notifications, 0), COALESCE(fs.bypass_display, 0), COALESCE(fs.bulk_name_template, '')
		FROM forms f LEFT JOIN form_settings fs ON fs.form_id = f.id
		WHERE f.id = ?`, id,
	).Scan(&f.ID, &f.Title, &f.Settings.BypassNotifications, &f.Settings.BypassDisplay, &f.Settings.BulkNameTemplate)
	if err == sql.ErrNoRows {
		return Form{}, ErrNotFound
	}
	if err != nil {
		return Form{}, err
	}

	rows, err := s.db.Query(`
		SELECT id, form_id, position, type, label, css_class, multiple_files, nested_form_id
		FROM fields WHERE form_id = ? ORDER BY position ASC, id ASC`, id)
	if err != nil {
		return Form{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var fl Field
		if err := rows.Scan(&fl.ID, &fl.FormID, &fl.Position, &fl.Type, &fl.Label, &fl.CSSClass, &fl.MultipleFiles, &fl.NestedFormID); err != nil {
			return Form{}, err
		}
		f.Fields = append(f.Fields, fl)
	}
	return f, rows.Err()
}

// --- Entries ---

// SaveEntry inserts or replaces an entry and all of its values.
func (s *Store) SaveEntry(e Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning entry transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveEntryTx(tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func saveEntryTx(tx *sql.Tx, e Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var updated sql.NullString
	if !e.UpdatedAt.IsZero() {
		updated = sql.NullString{String: e.UpdatedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if _, err := tx.Exec(`
		INSERT INTO entries (id, form_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET form_id = excluded.form_id, created_at = excluded.created_at, updated_at = excluded.updated_at`,
		e.ID, e.FormID, created.UTC().Format(time.RFC3339Nano), updated,
	); err != nil {
		return fmt.Errorf("saving entry %d: %w", e.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM entry_values WHERE entry_id = ?`, e.ID); err != nil {
		return fmt.Errorf("clearing values for entry %d: %w", e.ID, err)
	}
	for fieldID, v := range e.Values {
		if _, err := tx.Exec(`INSERT INTO entry_values (entry_id, field_id, value) VALUES (?, ?, ?)`, e.ID, fieldID, v); err != nil {
			return fmt.Errorf("saving value %d of entry %d: %w", fieldID, e.ID, err)
		}
	}
	return nil
}

// GetEntry loads an entry with all of its field values.
func (s *Store) GetEntry(id int64) (Entry, error) {
	var e Entry
	var createdAt string
	var updatedAt sql.NullString
	err := s.db.QueryRow(`SELECT id, form_id, created_at, updated_at FROM entries WHERE id = ?`, id).
		Scan(&e.ID, &e.FormID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if updatedAt.Valid && updatedAt.String != "" {
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt.String); err != nil {
			return Entry{}, fmt.Errorf("parsing updated_at: %w", err)
		}
	}

	rows, err := s.db.Query(`SELECT field_id, value FROM entry_values WHERE entry_id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()

	e.Values = make(map[int64]string)
	for rows.Next() {
		var fieldID int64
		var v string
		if err := rows.Scan(&fieldID, &v); err != nil {
			return Entry{}, err
		}
		e.Values[fieldID] = v
	}
	return e, rows.Err()
}

// TouchEntry sets an entry's updated time.
func (s *Store) TouchEntry(id int64, at time.Time) error {
	res, err := s.db.Exec(`UPDATE entries SET updated_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntryIDs returns the ids of a form's entries in ascending order.
func (s *Store) ListEntryIDs(formID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id FROM entries WHERE form_id = ? ORDER BY id ASC LIMIT ?`, formID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Child links ---

// LinkChild attaches child as a nested entry of parent under field.
func (s *Store) LinkChild(parentID, fieldID, childID int64, position int) error {
	return linkChild(s.db, parentID, fieldID, childID, position)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func linkChild(db execer, parentID, fieldID, childID int64, position int) error {
	_, err := db.Exec(`
		INSERT INTO entry_children (parent_entry_id, field_id, child_entry_id, position) VALUES (?, ?, ?, ?)
		ON CONFLICT(parent_entry_id, field_id, child_entry_id) DO UPDATE SET position = excluded.position`,
		parentID, fieldID, childID, position,
	)
	return err
}

// ChildEntries returns the nested entries linked to parent under field, in
// the order they were attached.
func (s *Store) ChildEntries(parentID, fieldID int64) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT child_entry_id FROM entry_children
		WHERE parent_entry_id = ? AND field_id = ?
		ORDER BY position ASC, child_entry_id ASC`, parentID, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
