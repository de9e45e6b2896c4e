// Package batch merges many entries of a form and packages the results
// into one ZIP archive.
package batch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/storage"
	"github.com/kalambet/pdfmerge/internal/uploads"
)

var (
	// ErrArchive wraps failures to write the archive. The whole export fails.
	ErrArchive = errors.New("archive creation failed")
	// ErrNothingExported is returned when none of the entries produced a document.
	ErrNothingExported = errors.New("no merged documents to export")
)

type Collector interface {
	Collect(ctx context.Context, recordID int64, opts collector.Options) (collector.Result, error)
	Form(id int64) (storage.Form, error)
}

type EntryLoader interface {
	GetEntry(id int64) (storage.Entry, error)
}

type Cache interface {
	Resolve(ctx context.Context, job mergecache.Job) (mergecache.Result, error)
}

// Archive describes a finished export.
type Archive struct {
	Path    string
	Entries []string // names inside the archive, in input order
	Skipped []int64  // record ids that produced no document
}

type Exporter struct {
	collector   Collector
	entries     EntryLoader
	cache       Cache
	dir         string
	concurrency int
	logger      *slog.Logger
}

// New creates an Exporter writing archives into dir. concurrency bounds how
// many records are merged at once.
func New(col Collector, entries EntryLoader, cache Cache, dir string, concurrency int, logger *slog.Logger) *Exporter {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		collector:   col,
		entries:     entries,
		cache:       cache,
		dir:         dir,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ArchivePath is where the archive of formID is written.
func (e *Exporter) ArchivePath(form storage.Form) string {
	return filepath.Join(e.dir, uploads.SafeName(form.Title, strconv.FormatInt(form.ID, 10))+".zip")
}

type item struct {
	path string
	name string
}

// Export merges every record in recordIDs and writes the results, in input
// order, into the form's archive. Records that are missing, empty or fail to
// merge are skipped with a warning. A failure to write the archive fails the
// export; the merged cache entries built so far are kept.
func (e *Exporter) Export(ctx context.Context, formID int64, recordIDs []int64) (Archive, error) {
	log := e.logger.With("form_id", formID)

	form, err := e.collector.Form(formID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Archive{}, fmt.Errorf("form %d: %w", formID, collector.ErrNotFound)
		}
		return Archive{}, err
	}

	items := make([]*item, len(recordIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range recordIDs {
		g.Go(func() error {
			it, err := e.build(gctx, form, id, log.With("record_id", id))
			if err != nil {
				return err
			}
			items[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		exportsTotal.WithLabelValues("failed").Inc()
		return Archive{}, err
	}

	arch := Archive{Path: e.ArchivePath(form)}
	var included []item
	taken := make(map[string]bool)
	for i, it := range items {
		if it == nil {
			arch.Skipped = append(arch.Skipped, recordIDs[i])
			exportRecords.WithLabelValues("skipped").Inc()
			continue
		}
		it.name = uniqueName(it.name, taken)
		included = append(included, *it)
		arch.Entries = append(arch.Entries, it.name)
		exportRecords.WithLabelValues("included").Inc()
	}
	if len(included) == 0 {
		exportsTotal.WithLabelValues("empty").Inc()
		return arch, ErrNothingExported
	}

	if err := writeArchive(arch.Path, included); err != nil {
		exportsTotal.WithLabelValues("failed").Inc()
		log.Error("writing archive", "path", arch.Path, "error", err)
		return Archive{}, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	exportsTotal.WithLabelValues("ok").Inc()
	log.Info("export written", "path", arch.Path, "entries", len(included), "skipped", len(arch.Skipped))
	return arch, nil
}

// build merges one record. It returns nil, nil for records to skip; only
// cancellation aborts the batch.
func (e *Exporter) build(ctx context.Context, form storage.Form, id int64, log *slog.Logger) (*item, error) {
	res, err := e.collector.Collect(ctx, id, collector.Options{})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("skipping record", "error", err)
		return nil, nil
	}
	if res.FormID != form.ID {
		log.Warn("skipping record of another form", "record_form_id", res.FormID)
		return nil, nil
	}
	if res.Empty() {
		log.Warn("skipping record with nothing to merge")
		return nil, nil
	}

	merged, err := e.cache.Resolve(ctx, mergecache.JobFromResult(res, mergecache.ModeSavedPath, ""))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("skipping record, merge failed", "error", err)
		return nil, nil
	}

	name := filepath.Base(merged.Path)
	if tmpl := form.Settings.BulkNameTemplate; tmpl != "" {
		entry, err := e.entries.GetEntry(id)
		if err != nil {
			log.Warn("loading entry for archive name, using default", "error", err)
		} else {
			name = RenderName(tmpl, form, entry)
		}
	}
	return &item{path: merged.Path, name: name}, nil
}

// writeArchive writes items into a temp file next to path and renames it
// into place. The temp file is removed on failure.
func writeArchive(path string, items []item) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(f)
	for _, it := range items {
		if err := addFile(zw, it); err != nil {
			return fmt.Errorf("adding %s: %w", it.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func addFile(zw *zip.Writer, it item) error {
	src, err := os.Open(it.path)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = it.name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
