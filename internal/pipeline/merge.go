// Package pipeline wires the collector to the merge cache and applies the
// per-form bypass settings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/storage"
)

var (
	// ErrBypassed is returned when the form's settings turn merging off
	// for the request's generation context.
	ErrBypassed = errors.New("merge bypassed by form settings")
	// ErrNothingToMerge is returned for an entry without attachments.
	ErrNothingToMerge = errors.New("nothing to merge")
)

// GenerationContext says who asked for the merge.
type GenerationContext int

const (
	// ContextBrowser covers display and download from a browser.
	ContextBrowser GenerationContext = iota
	// ContextNotification covers documents attached to outgoing notifications.
	ContextNotification
)

func (c GenerationContext) String() string {
	if c == ContextNotification {
		return "notification"
	}
	return "browser"
}

// ParseContext maps "browser" and "notification" to a GenerationContext.
func ParseContext(s string) (GenerationContext, error) {
	switch s {
	case "", "browser":
		return ContextBrowser, nil
	case "notification":
		return ContextNotification, nil
	}
	return 0, fmt.Errorf("unknown generation context %q", s)
}

type Request struct {
	RecordID   int64
	Context    GenerationContext
	Mode       mergecache.Mode
	Cover      bool
	OutputName string
}

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

// Pipeline serves single-record merges.
type Pipeline struct {
	entries   EntryLoader
	collector Collector
	cache     Cache
	logger    *slog.Logger
}

func New(entries EntryLoader, col Collector, cache Cache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{entries: entries, collector: col, cache: cache, logger: logger}
}

// Merge runs the pipeline for one record:
//  1. Load the entry and its form, apply the bypass settings for req.Context
//  2. Collect attachments, with a cover when requested and the form has a merge field
//  3. Resolve the merged document through the cache
func (p *Pipeline) Merge(ctx context.Context, req Request) (mergecache.Result, error) {
	log := p.logger.With("record_id", req.RecordID, "context", req.Context.String())

	entry, err := p.entries.GetEntry(req.RecordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return mergecache.Result{}, fmt.Errorf("entry %d: %w", req.RecordID, collector.ErrNotFound)
		}
		return mergecache.Result{}, err
	}
	form, err := p.collector.Form(entry.FormID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return mergecache.Result{}, fmt.Errorf("form %d: %w", entry.FormID, collector.ErrNotFound)
		}
		return mergecache.Result{}, err
	}

	if bypassed(form.Settings, req.Context) {
		log.Debug("merge bypassed", "form_id", form.ID)
		return mergecache.Result{}, ErrBypassed
	}

	cover := req.Cover && form.HasField(storage.FieldMergePDFs)
	if req.Cover && !cover {
		log.Debug("cover requested but form has no merge field", "form_id", form.ID)
	}

	res, err := p.collector.Collect(ctx, req.RecordID, collector.Options{Cover: cover})
	if err != nil {
		return mergecache.Result{}, err
	}
	if res.Empty() {
		return mergecache.Result{}, ErrNothingToMerge
	}
	if len(res.Errors) > 0 {
		log.Warn("some attachments are missing or unreadable", "errors", len(res.Errors))
	}

	return p.cache.Resolve(ctx, mergecache.JobFromResult(res, req.Mode, req.OutputName))
}

func bypassed(s storage.FormSettings, c GenerationContext) bool {
	switch c {
	case ContextNotification:
		return s.BypassNotifications
	default:
		return s.BypassDisplay
	}
}
