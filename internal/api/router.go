package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
	"github.com/kalambet/pdfmerge/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Merger runs the single-record merge pipeline.
type Merger interface {
	Merge(ctx context.Context, req pipeline.Request) (mergecache.Result, error)
}

// Collector exposes attachment collection and form lookup.
type Collector interface {
	Collect(ctx context.Context, recordID int64, opts collector.Options) (collector.Result, error)
	Form(id int64) (storage.Form, error)
}

// JobStore is the part of the job queue the API needs.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
}

// ArchiveLocator maps a form to its export archive.
type ArchiveLocator interface {
	ArchivePath(form storage.Form) string
}

type Deps struct {
	Merger    Merger
	Collector Collector
	Jobs      JobStore
	Archives  ArchiveLocator
	Token     string
	Link      LinkSigner
	PublicURL string // optional; defaults to the request host
	Logger    *slog.Logger
}

// NewRouter builds the HTTP handler. /health and /metrics are public; every
// other route requires the bearer token.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/merge/{recordID}", handleMerge(deps))
		r.Get("/merge/{recordID}/files", handleFiles(deps))
		r.Get("/merge/{recordID}/link", handleLink(deps))

		r.Post("/forms/{formID}/exports", handleCreateExport(deps))
		r.Get("/forms/{formID}/export.zip", handleDownloadExport(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
