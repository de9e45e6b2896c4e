package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/ghostscript"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
	"github.com/kalambet/pdfmerge/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps pipeline errors to status codes. Merge failures never
// reach the client as partial PDF bytes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collector.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, pipeline.ErrNothingToMerge):
		httpError(w, http.StatusNotFound, "not_found", "no documents to merge")
	case errors.Is(err, pipeline.ErrBypassed):
		httpError(w, http.StatusConflict, "bypassed", "merged documents are disabled for this form")
	case errors.Is(err, mergecache.ErrMergeFailed), errors.Is(err, ghostscript.ErrTimeout):
		httpError(w, http.StatusBadGateway, "merge_error", "could not merge documents")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// idParam parses a positive integer URL parameter.
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}
