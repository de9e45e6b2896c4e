package storage

import (
	"strings"
	"testing"
	"time"
)

func seedForm(t *testing.T, s *Store) Form {
	t.Helper()
	f := Form{
		ID:    3,
		Title: "Grant application",
		Fields: []Field{
			{ID: 1, Type: "text", Label: "Name"},
			{ID: 4, Type: FieldFileUpload, Label: "Budget", CSSClass: "wide skip_merge"},
			{ID: 2, Type: FieldFileUpload, Label: "Letters", MultipleFiles: true},
			{ID: 7, Type: FieldNestedForm, Label: "Partners", NestedFormID: 5},
		},
		Settings: FormSettings{BypassDisplay: true, BulkNameTemplate: "{form_title}-{entry_id}"},
	}
	if err := s.SaveForm(f); err != nil {
		t.Fatalf("SaveForm: %v", err)
	}
	return f
}

func TestSaveAndGetForm(t *testing.T) {
	s := openTestStore(t)
	seedForm(t, s)

	got, err := s.GetForm(3)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	if got.Title != "Grant application" {
		t.Errorf("Title = %q", got.Title)
	}
	if len(got.Fields) != 4 {
		t.Fatalf("len(Fields) = %d, want 4", len(got.Fields))
	}
	// declaration order, not id order
	wantIDs := []int64{1, 4, 2, 7}
	for i, id := range wantIDs {
		if got.Fields[i].ID != id {
			t.Errorf("Fields[%d].ID = %d, want %d", i, got.Fields[i].ID, id)
		}
	}
	if !got.Fields[2].MultipleFiles {
		t.Error("Fields[2].MultipleFiles = false, want true")
	}
	if got.Fields[3].NestedFormID != 5 {
		t.Errorf("Fields[3].NestedFormID = %d, want 5", got.Fields[3].NestedFormID)
	}
	if !got.Fields[1].HasClass("skip_merge") || got.Fields[1].HasClass("skip") {
		t.Errorf("HasClass mismatch for %q", got.Fields[1].CSSClass)
	}
	if !got.Settings.BypassDisplay || got.Settings.BypassNotifications {
		t.Errorf("Settings = %+v", got.Settings)
	}
	if got.Settings.BulkNameTemplate != "{form_title}-{entry_id}" {
		t.Errorf("BulkNameTemplate = %q", got.Settings.BulkNameTemplate)
	}
}

func TestSaveFormReplacesFields(t *testing.T) {
	s := openTestStore(t)
	f := seedForm(t, s)

	f.Fields = f.Fields[:1]
	if err := s.SaveForm(f); err != nil {
		t.Fatalf("SaveForm: %v", err)
	}
	got, err := s.GetForm(3)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	if len(got.Fields) != 1 {
		t.Errorf("len(Fields) = %d, want 1", len(got.Fields))
	}
}

func TestGetFormNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetForm(99); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndGetEntry(t *testing.T) {
	s := openTestStore(t)
	seedForm(t, s)

	created := time.Date(2024, 3, 1, 10, 0, 0, 500, time.UTC)
	e := Entry{
		ID:        11,
		FormID:    3,
		CreatedAt: created,
		Values:    map[int64]string{1: "Ada", 2: `["https://x/y/a.pdf"]`},
	}
	if err := s.SaveEntry(e); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	got, err := s.GetEntry(11)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.IsZero() {
		t.Errorf("UpdatedAt = %v, want zero", got.UpdatedAt)
	}
	if !got.Modified().Equal(created) {
		t.Errorf("Modified() = %v, want created time", got.Modified())
	}
	if got.Values[1] != "Ada" || got.Values[2] != `["https://x/y/a.pdf"]` {
		t.Errorf("Values = %v", got.Values)
	}

	updated := created.Add(time.Hour)
	if err := s.TouchEntry(11, updated); err != nil {
		t.Fatalf("TouchEntry: %v", err)
	}
	got, err = s.GetEntry(11)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if !got.Modified().Equal(updated) {
		t.Errorf("Modified() = %v, want %v", got.Modified(), updated)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetEntry(42); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.TouchEntry(42, time.Now()); err != ErrNotFound {
		t.Errorf("TouchEntry err = %v, want ErrNotFound", err)
	}
}

func TestChildEntriesOrdered(t *testing.T) {
	s := openTestStore(t)
	seedForm(t, s)
	if err := s.SaveForm(Form{ID: 5, Title: "Partner"}); err != nil {
		t.Fatalf("SaveForm: %v", err)
	}
	for _, id := range []int64{1, 20, 21, 22} {
		formID := int64(5)
		if id == 1 {
			formID = 3
		}
		if err := s.SaveEntry(Entry{ID: id, FormID: formID}); err != nil {
			t.Fatalf("SaveEntry %d: %v", id, err)
		}
	}
	if err := s.LinkChild(1, 7, 22, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkChild(1, 7, 20, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkChild(1, 7, 21, 3); err != nil {
		t.Fatal(err)
	}

	got, err := s.ChildEntries(1, 7)
	if err != nil {
		t.Fatalf("ChildEntries: %v", err)
	}
	want := []int64{22, 20, 21}
	if len(got) != len(want) {
		t.Fatalf("ChildEntries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ChildEntries[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	ids, err := s.ListEntryIDs(5, 0)
	if err != nil {
		t.Fatalf("ListEntryIDs: %v", err)
	}
	if len(ids) != 3 || ids[0] != 20 {
		t.Errorf("ListEntryIDs = %v", ids)
	}
}

func TestImport(t *testing.T) {
	s := openTestStore(t)

	doc := `{
  "forms": [
    {"id": 1, "title": "Main", "bulk_name_template": "{entry_id}", "fields": [
      {"id": 3, "type": "fileupload"},
      {"id": 6, "type": "form", "nested_form_id": 2}
    ]},
    {"id": 2, "title": "Child", "fields": [{"id": 1, "type": "fileupload"}]}
  ],
  "entries": [
    {"id": 10, "form_id": 1, "created_at": "2024-01-02T03:04:05Z", "values": {"3": "https://x/y/a.pdf"}},
    {"id": 11, "form_id": 2, "created_at": "2024-01-02T03:04:05Z", "updated_at": "2024-02-02T03:04:05Z", "values": {"1": "https://x/y/b.pdf"}}
  ],
  "children": [{"parent_id": 10, "field_id": 6, "child_id": 11, "position": 1}]
}`
	ds, err := DecodeDataset(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeDataset: %v", err)
	}
	stats, err := s.Import(ds)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Forms != 2 || stats.Entries != 2 || stats.Children != 1 {
		t.Errorf("stats = %+v", stats)
	}

	e, err := s.GetEntry(11)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if e.Values[1] != "https://x/y/b.pdf" {
		t.Errorf("Values = %v", e.Values)
	}
	if e.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not imported")
	}
	kids, err := s.ChildEntries(10, 6)
	if err != nil || len(kids) != 1 || kids[0] != 11 {
		t.Errorf("ChildEntries = %v, %v", kids, err)
	}
}

func TestImportRejectsBadFieldID(t *testing.T) {
	s := openTestStore(t)

	ds := Dataset{
		Forms:   []FormDoc{{ID: 1}},
		Entries: []EntryDoc{{ID: 1, FormID: 1, Values: map[string]string{"x": "v"}}},
	}
	if _, err := s.Import(ds); err == nil {
		t.Fatal("expected error for non-numeric field id")
	}
	if _, err := s.GetForm(1); err != ErrNotFound {
		t.Errorf("import not rolled back: GetForm err = %v", err)
	}
}
