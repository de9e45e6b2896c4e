// Package collector discovers the PDF attachments of an entry and of the
// entries nested inside it.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kalambet/pdfmerge/internal/storage"
)

// ErrNotFound is returned when the requested entry or its form is missing.
var ErrNotFound = errors.New("record not found")

const (
	// MaxDepth bounds how far nested entries are followed.
	MaxDepth = 8
	// SkipClass excludes an upload field from merging when present in its CSS classes.
	SkipClass = "skip_merge"
)

// RecordStore is the subset of the record store the collector reads.
type RecordStore interface {
	GetEntry(id int64) (storage.Entry, error)
	GetForm(id int64) (storage.Form, error)
	ChildEntries(parentID, fieldID int64) ([]int64, error)
}

// CoverProducer renders a fresh summary document for an entry.
type CoverProducer interface {
	Render(ctx context.Context, form storage.Form, entry storage.Entry) (string, error)
}

// PathResolver maps a stored URL to a local path.
type PathResolver interface {
	Resolve(uri string) string
}

type AttachmentRef struct {
	FormID      int64  `json:"form_id"`
	FieldID     int64  `json:"field_id"`
	RecordID    int64  `json:"record_id"`
	LocalPath   string `json:"local_path"`
	OriginalURI string `json:"original_uri,omitempty"`
	// Generated marks files produced for this request (the cover); they
	// live in the temp directory and are deleted after the merge.
	Generated bool `json:"generated,omitempty"`
}

// Result is the outcome of one collection. Files are in merge order.
type Result struct {
	RecordID       int64           `json:"record_id"`
	FormID         int64           `json:"form_id"`
	Files          []AttachmentRef `json:"files"`
	Errors         []string        `json:"errors"`
	RecordModified time.Time       `json:"record_modified"`
}

// Empty reports whether there is nothing to merge.
func (r Result) Empty() bool {
	return len(r.Files) == 0 && len(r.Errors) == 0
}

type Options struct {
	Cover bool
}

type Collector struct {
	store    RecordStore
	resolver PathResolver
	cover    CoverProducer
	forms    *expirable.LRU[int64, storage.Form]
	logger   *slog.Logger
}

// Config tunes the form definition cache.
type Config struct {
	FormCacheSize int
	FormCacheTTL  time.Duration
}

// New builds a Collector. cover may be nil, in which case cover requests
// are ignored.
func New(store RecordStore, resolver PathResolver, cover CoverProducer, cfg Config, logger *slog.Logger) *Collector {
	if cfg.FormCacheSize <= 0 {
		cfg.FormCacheSize = 256
	}
	if cfg.FormCacheTTL <= 0 {
		cfg.FormCacheTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:    store,
		resolver: resolver,
		cover:    cover,
		forms:    expirable.NewLRU[int64, storage.Form](cfg.FormCacheSize, nil, cfg.FormCacheTTL),
		logger:   logger,
	}
}

// Form returns a form definition, served from the cache when possible.
func (c *Collector) Form(id int64) (storage.Form, error) {
	if f, ok := c.forms.Get(id); ok {
		formCacheLookups.WithLabelValues("hit").Inc()
		return f, nil
	}
	formCacheLookups.WithLabelValues("miss").Inc()

	f, err := c.store.GetForm(id)
	if err != nil {
		return storage.Form{}, err
	}
	c.forms.Add(id, f)
	return f, nil
}

// InvalidateForm drops a cached form definition.
func (c *Collector) InvalidateForm(id int64) {
	c.forms.Remove(id)
}

// Collect walks recordID and its nested entries breadth first. The entry's
// own upload fields come first in declaration order, then those of nested
// entries in the order they were discovered.
func (c *Collector) Collect(ctx context.Context, recordID int64, opts Options) (Result, error) {
	res := Result{RecordID: recordID, Files: []AttachmentRef{}, Errors: []string{}}
	log := c.logger.With("record_id", recordID)

	root, err := c.store.GetEntry(recordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("entry %d: %w", recordID, ErrNotFound)
		}
		return res, fmt.Errorf("loading entry %d: %w", recordID, err)
	}
	rootForm, err := c.Form(root.FormID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("form %d of entry %d: %w", root.FormID, recordID, ErrNotFound)
		}
		return res, fmt.Errorf("loading form %d: %w", root.FormID, err)
	}
	res.FormID = root.FormID
	res.RecordModified = root.Modified()

	type node struct {
		entry storage.Entry
		form  storage.Form
		depth int
	}
	visited := map[int64]bool{root.ID: true}
	queue := []node{{entry: root, form: rootForm}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n := queue[0]
		queue = queue[1:]

		for _, field := range n.form.Fields {
			switch field.Type {
			case storage.FieldFileUpload:
				if field.HasClass(SkipClass) {
					continue
				}
				c.collectField(&res, n.entry, field, log)

			case storage.FieldNestedForm:
				if n.depth+1 > MaxDepth {
					log.Warn("nested entries too deep, skipping", "entry_id", n.entry.ID, "field_id", field.ID)
					continue
				}
				for _, childID := range c.children(n.entry, field, log) {
					if visited[childID] {
						log.Warn("nested entry already visited", "entry_id", childID)
						continue
					}
					visited[childID] = true

					child, err := c.store.GetEntry(childID)
					if err != nil {
						log.Warn("loading nested entry", "entry_id", childID, "error", err)
						continue
					}
					childForm, err := c.Form(child.FormID)
					if err != nil {
						log.Warn("loading nested form", "form_id", child.FormID, "error", err)
						continue
					}
					queue = append(queue, node{entry: child, form: childForm, depth: n.depth + 1})
				}
			}
		}
	}

	if opts.Cover && c.cover != nil && !res.Empty() {
		path, err := c.cover.Render(ctx, rootForm, root)
		if err != nil {
			log.Warn("rendering cover failed, merging without it", "error", err)
		} else {
			cover := AttachmentRef{FormID: root.FormID, RecordID: root.ID, LocalPath: path, Generated: true}
			res.Files = append([]AttachmentRef{cover}, res.Files...)
		}
	}

	collectedFiles.WithLabelValues("file").Add(float64(len(res.Files)))
	collectedFiles.WithLabelValues("error").Add(float64(len(res.Errors)))
	log.Debug("collected attachments", "files", len(res.Files), "errors", len(res.Errors))
	return res, nil
}

// children lists the nested entries under field. Linked children win; a
// value of comma separated ids is the fallback.
func (c *Collector) children(e storage.Entry, field storage.Field, log *slog.Logger) []int64 {
	ids, err := c.store.ChildEntries(e.ID, field.ID)
	if err != nil {
		log.Warn("listing nested entries", "entry_id", e.ID, "field_id", field.ID, "error", err)
	}
	if len(ids) > 0 {
		return ids
	}
	for _, part := range strings.Split(e.Values[field.ID], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Warn("invalid nested entry id", "value", part, "field_id", field.ID)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (c *Collector) collectField(res *Result, e storage.Entry, field storage.Field, log *slog.Logger) {
	raw := strings.TrimSpace(e.Values[field.ID])
	if raw == "" {
		return
	}

	refs := []string{raw}
	if field.MultipleFiles {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			log.Warn("multi-file value is not a JSON list, using it as one reference", "field_id", field.ID, "error", err)
		} else {
			refs = list
		}
	}

	for _, uri := range refs {
		if uri == "" {
			continue
		}
		path := c.resolver.Resolve(uri)
		if err := checkFile(path); err != nil {
			log.Debug("attachment rejected", "path", path, "reason", err)
			res.Errors = append(res.Errors, path)
			continue
		}
		res.Files = append(res.Files, AttachmentRef{
			FormID:      e.FormID,
			FieldID:     field.ID,
			RecordID:    e.ID,
			LocalPath:   path,
			OriginalURI: uri,
		})
	}
}

// checkFile requires a readable regular file with a .pdf extension.
func checkFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	f.Close()
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return errors.New("not a PDF")
	}
	return nil
}
