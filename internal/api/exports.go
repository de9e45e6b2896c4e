package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pdfmerge/internal/storage"
	"github.com/kalambet/pdfmerge/internal/worker"
)

type ExportRequest struct {
	RecordIDs []int64 `json:"record_ids"`
}

func handleCreateExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := idParam(r, "formID")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.RecordIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "record_ids is required")
			return
		}

		if _, err := deps.Collector.Form(formID); err != nil {
			writeError(w, err)
			return
		}

		job, err := worker.NewExportJob(formID, req.RecordIDs)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		if err := deps.Jobs.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}
		deps.Logger.Info("export queued", "job_id", job.ID, "form_id", formID, "records", len(req.RecordIDs))

		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id":       job.ID,
			"status":       "queued",
			"download_url": exportURL(formID),
		})
	}
}

type jobResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		resp := jobResponse{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
		}
		if job.Status == "completed" && job.Type == worker.JobBulkExport {
			var p worker.ExportPayload
			if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err == nil {
				resp.DownloadURL = exportURL(p.FormID)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleDownloadExport streams a form's archive once. The archive is moved
// aside before streaming so concurrent requests cannot both get it, and is
// deleted afterwards.
func handleDownloadExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := idParam(r, "formID")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		form, err := deps.Collector.Form(formID)
		if err != nil {
			writeError(w, err)
			return
		}

		path := deps.Archives.ArchivePath(form)
		claimed := path + "." + uuid.NewString() + ".sending"
		if err := os.Rename(path, claimed); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				httpError(w, http.StatusNotFound, "not_found", "export not ready")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open export: %v", err)
			return
		}
		defer func() {
			if err := os.Remove(claimed); err != nil {
				deps.Logger.Warn("removing streamed archive", "path", claimed, "error", err)
			}
		}()

		f, err := os.Open(claimed)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open export: %v", err)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
		if fi, err := f.Stat(); err == nil {
			w.Header().Set("Content-Length", fmt.Sprint(fi.Size()))
		}
		if _, err := io.Copy(w, f); err != nil {
			deps.Logger.Warn("streaming archive", "form_id", formID, "error", err)
			return
		}
		deps.Logger.Info("export downloaded", "form_id", formID, "path", path)
	}
}

func exportURL(formID int64) string {
	return fmt.Sprintf("/forms/%d/export.zip", formID)
}
