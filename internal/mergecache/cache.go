// Package mergecache keeps one merged PDF per record on disk and rebuilds it
// when the record or any of its source files is newer than the cached copy.
package mergecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/uploads"
)

var (
	// ErrMergeFailed is returned when the merge tool fails or produces no
	// usable output. Nothing is written to the cache in that case.
	ErrMergeFailed = errors.New("merge failed")
	// ErrNoInputs is returned for a job with neither files nor errors.
	ErrNoInputs = errors.New("no inputs to merge")
)

// ContentType of every cache entry.
const ContentType = "application/pdf"

// Merger concatenates inputs, in order, into out.
type Merger interface {
	Merge(ctx context.Context, out string, inputs []string) error
}

// Repairer returns a mergeable path for any input.
type Repairer interface {
	Repair(ctx context.Context, path string) string
}

// ErrorPageBuilder renders the page listing unreadable inputs.
type ErrorPageBuilder interface {
	Build(missing []string, validCount int) (string, error)
}

// Mode selects how Resolve hands back the merged document.
type Mode int

const (
	ModeStream Mode = iota
	ModeBytes
	ModeSavedPath
)

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeBytes:
		return "bytes"
	case ModeSavedPath:
		return "saved_path"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// State of a cache entry relative to a job.
type State int

const (
	StateMiss State = iota
	StateValid
	StateStale
)

func (s State) String() string {
	switch s {
	case StateMiss:
		return "miss"
	case StateValid:
		return "hit"
	case StateStale:
		return "stale"
	}
	return "unknown"
}

// Job is one merge request.
type Job struct {
	RecordID       int64
	Files          []collector.AttachmentRef
	Errors         []string
	RecordModified time.Time
	OutputName     string // overrides the record id as cache file name
	Mode           Mode
}

// covered reports whether the job starts with a generated cover page.
func (j Job) covered() bool {
	return len(j.Files) > 0 && j.Files[0].Generated
}

// JobFromResult builds a Job from a collection result.
func JobFromResult(r collector.Result, mode Mode, outputName string) Job {
	return Job{
		RecordID:       r.RecordID,
		Files:          r.Files,
		Errors:         r.Errors,
		RecordModified: r.RecordModified,
		OutputName:     outputName,
		Mode:           mode,
	}
}

// Result is what Resolve produced. For ModeStream and ModeSavedPath, Path
// is the cache entry; for ModeBytes, Bytes holds its content.
type Result struct {
	Kind        Mode
	Path        string
	Bytes       []byte
	Name        string
	ContentType string
	ModTime     time.Time
	FromCache   bool
}

// Open opens the cached file of a stream or saved-path result.
func (r Result) Open() (*os.File, error) {
	if r.Path == "" {
		return nil, errors.New("result has no path")
	}
	return os.Open(r.Path)
}

type Config struct {
	Dir     string // where cache entries live
	TempDir string // scratch space for generated inputs and merge output
}

type Cache struct {
	dir        string
	tempDir    string
	merger     Merger
	repairer   Repairer
	errorPages ErrorPageBuilder
	logger     *slog.Logger
	group      singleflight.Group
}

// New creates a Cache. repairer may be nil to merge inputs as they are.
func New(cfg Config, merger Merger, repairer Repairer, errorPages ErrorPageBuilder, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		dir:        cfg.Dir,
		tempDir:    cfg.TempDir,
		merger:     merger,
		repairer:   repairer,
		errorPages: errorPages,
		logger:     logger,
	}
}

// Name is the file name of a job's cache entry. Jobs with a cover page get
// their own entry so the plain and covered documents never share one.
func Name(job Job) string {
	id := strconv.FormatInt(job.RecordID, 10)
	name := job.OutputName
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".pdf") {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		name = id
	} else {
		name = uploads.SafeName(name, id)
	}
	if job.covered() {
		name += "-cover"
	}
	return name + ".pdf"
}

// Path is the location of a job's cache entry.
func (c *Cache) Path(job Job) string {
	return filepath.Join(c.dir, Name(job))
}

// State reports whether the cache entry for job can be served as is.
func (c *Cache) State(job Job) (State, error) {
	st, _, err := c.check(c.Path(job), job)
	return st, err
}

func (c *Cache) check(path string, job Job) (State, string, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return StateMiss, "", nil
	}
	if err != nil {
		return StateMiss, "", fmt.Errorf("stat cache entry: %w", err)
	}
	cached := fi.ModTime()

	if cached.Before(job.RecordModified) {
		return StateStale, "record updated", nil
	}
	for _, f := range job.Files {
		if f.Generated {
			continue
		}
		sfi, err := os.Stat(f.LocalPath)
		if err != nil {
			return StateStale, "source unreadable: " + f.LocalPath, nil
		}
		if sfi.ModTime().After(cached) {
			return StateStale, "source updated: " + f.LocalPath, nil
		}
	}
	return StateValid, "", nil
}

// Resolve returns the merged document for job, rebuilding the cache entry
// when it is missing or stale. A valid entry is served without invoking the
// merge tool. Generated inputs of job are removed before Resolve returns.
func (c *Cache) Resolve(ctx context.Context, job Job) (Result, error) {
	defer c.removeGenerated(job.Files)

	path := c.Path(job)
	log := c.logger.With("record_id", job.RecordID, "path", path)

	state, reason, err := c.check(path, job)
	if err != nil {
		return Result{}, err
	}
	cacheLookups.WithLabelValues(state.String()).Inc()

	if state == StateValid {
		log.Debug("serving cached merge")
		return c.result(job, path, true)
	}

	if state == StateStale {
		log.Info("cached merge is stale", "reason", reason)
	}

	// Same-path rebuilds inside this process share one merge. Across
	// processes the last rename wins. A stale entry stays readable until
	// the rebuilt one is renamed over it.
	_, err, shared := c.group.Do(path, func() (any, error) {
		if st, _, err := c.check(path, job); err == nil && st == StateValid {
			return nil, nil
		}
		return nil, c.rebuild(ctx, path, job, log)
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		log.Debug("joined concurrent rebuild")
	}
	return c.result(job, path, false)
}

func (c *Cache) rebuild(ctx context.Context, path string, job Job, log *slog.Logger) error {
	if len(job.Files) == 0 && len(job.Errors) == 0 {
		return ErrNoInputs
	}
	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	start := time.Now()
	var inputs, scratch []string
	defer func() { c.removeAll(scratch) }()

	if len(job.Errors) > 0 {
		page, err := c.errorPages.Build(job.Errors, len(job.Files))
		if err != nil {
			mergeFailures.Inc()
			return fmt.Errorf("%w: building error page: %w", ErrMergeFailed, err)
		}
		inputs = append(inputs, page)
		scratch = append(scratch, page)
	}
	for _, f := range job.Files {
		p := f.LocalPath
		if c.repairer != nil && !f.Generated {
			p = c.repairer.Repair(ctx, p)
			if p != f.LocalPath {
				scratch = append(scratch, p)
			}
		}
		inputs = append(inputs, p)
	}

	out := filepath.Join(c.tempDir, "merge-"+uuid.NewString()+".pdf")
	scratch = append(scratch, out)

	if err := c.merger.Merge(ctx, out, inputs); err != nil {
		mergeFailures.Inc()
		log.Error("merge tool failed", "inputs", len(inputs), "error", err)
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	if err := checkOutput(out); err != nil {
		mergeFailures.Inc()
		log.Error("merge tool produced no usable output", "error", err)
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	if err := c.install(out, path); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	// Sources stamped in the future would otherwise keep the entry stale.
	if newest := newestInput(job); newest.After(time.Now()) {
		if err := os.Chtimes(path, newest, newest); err != nil {
			log.Warn("setting cache entry mtime", "error", err)
		}
	}

	mergeDuration.Observe(time.Since(start).Seconds())
	log.Info("merged record", "inputs", len(inputs), "errors", len(job.Errors), "duration", time.Since(start))
	return nil
}

// newestInput is the latest of the record's modification time and the
// mtimes of its non-generated sources.
func newestInput(job Job) time.Time {
	newest := job.RecordModified
	for _, f := range job.Files {
		if f.Generated {
			continue
		}
		if fi, err := os.Stat(f.LocalPath); err == nil && fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest
}

// checkOutput rejects a missing, empty or non-PDF merge output.
func checkOutput(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no output: %w", err)
	}
	defer f.Close()

	head := make([]byte, 5)
	n, err := io.ReadFull(f, head)
	if n == 0 {
		return errors.New("empty output")
	}
	if err != nil || string(head) != "%PDF-" {
		return errors.New("output is not a PDF")
	}
	return nil
}

// install copies src next to dst and renames it into place.
func (c *Cache) install(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (c *Cache) result(job Job, path string, fromCache bool) (Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat cache entry: %w", err)
	}
	r := Result{
		Kind:        job.Mode,
		Path:        path,
		Name:        Name(job),
		ContentType: ContentType,
		ModTime:     fi.ModTime(),
		FromCache:   fromCache,
	}
	if job.Mode == ModeBytes {
		b, err := os.ReadFile(path)
		if err != nil {
			return Result{}, fmt.Errorf("reading cache entry: %w", err)
		}
		r.Bytes = b
		r.Path = ""
	}
	return r, nil
}

// removeGenerated deletes inputs the pipeline produced for this request.
func (c *Cache) removeGenerated(files []collector.AttachmentRef) {
	var paths []string
	for _, f := range files {
		if f.Generated || c.inTemp(f.LocalPath) {
			paths = append(paths, f.LocalPath)
		}
	}
	c.removeAll(paths)
}

func (c *Cache) inTemp(path string) bool {
	if c.tempDir == "" {
		return false
	}
	rel, err := filepath.Rel(c.tempDir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (c *Cache) removeAll(paths []string) {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("removing temp files", "error", err)
	}
}
