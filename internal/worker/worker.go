// Package worker runs queued bulk exports in the background.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pdfmerge/internal/batch"
	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/storage"
)

// JobBulkExport is the job type for form exports.
const JobBulkExport = "bulk_export"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, result string) error
	FailJob(id string, errMsg string) error
	AbandonJob(id, errMsg string) error
}

// Exporter builds the archive for a batch of records.
type Exporter interface {
	Export(ctx context.Context, formID int64, recordIDs []int64) (batch.Archive, error)
}

// ExportPayload is the JSON payload of a bulk_export job.
type ExportPayload struct {
	FormID    int64   `json:"form_id"`
	RecordIDs []int64 `json:"record_ids"`
}

// NewExportJob builds a queued export job for formID.
func NewExportJob(formID int64, recordIDs []int64) (storage.Job, error) {
	if len(recordIDs) == 0 {
		return storage.Job{}, errors.New("no record ids")
	}
	payload, err := json.Marshal(ExportPayload{FormID: formID, RecordIDs: recordIDs})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        JobBulkExport,
		PayloadJSON: string(payload),
	}, nil
}

// Worker processes bulk_export jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	exporter Exporter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, exporter Exporter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		exporter: exporter,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single bulk_export job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobBulkExport})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID)
	path, err := w.processJob(ctx, job)
	if err != nil {
		fail := w.store.FailJob
		if permanent(err) {
			fail = w.store.AbandonJob
		}
		log.Warn("job failed", "error", err, "retry", !permanent(err))
		if failErr := fail(job.ID, err.Error()); failErr != nil {
			log.Error("failed to mark job as failed", "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, path); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	log.Info("export job completed", "archive", path)
	return true, nil
}

var errBadPayload = errors.New("invalid job payload")

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, errBadPayload) ||
		errors.Is(err, collector.ErrNotFound) ||
		errors.Is(err, batch.ErrNothingExported)
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload ExportPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("%w: %w", errBadPayload, err)
	}
	if len(payload.RecordIDs) == 0 {
		return "", fmt.Errorf("%w: no record ids", errBadPayload)
	}

	arch, err := w.exporter.Export(ctx, payload.FormID, payload.RecordIDs)
	if err != nil {
		return "", fmt.Errorf("exporting form %d: %w", payload.FormID, err)
	}
	return arch.Path, nil
}
