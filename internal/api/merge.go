package api

import (
	"fmt"
	"net/http"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
)

// Merge view modes.
const (
	ModeDisplay  = "display"
	ModeDownload = "download"
	ModeEmbed    = "embed"
)

func handleMerge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "recordID")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if !deps.Link.Verify(id, r.URL.Query().Get("token")) {
			httpError(w, http.StatusForbidden, "permission_error", "invalid link token")
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = ModeDisplay
		}
		disposition := "inline"
		switch mode {
		case ModeDisplay, ModeEmbed:
		case ModeDownload:
			disposition = "attachment"
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", mode)
			return
		}

		res, err := deps.Merger.Merge(r.Context(), pipeline.Request{
			RecordID: id,
			Context:  pipeline.ContextBrowser,
			Mode:     mergecache.ModeStream,
			Cover:    mode == ModeEmbed,
		})
		if err != nil {
			deps.Logger.Warn("merge request failed", "record_id", id, "error", err)
			writeError(w, err)
			return
		}

		f, err := res.Open()
		if err != nil {
			deps.Logger.Error("opening merged document", "record_id", id, "path", res.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "merged document unavailable")
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", mergecache.ContentType)
		w.Header().Set("Cache-Control", "private")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, res.Name))
		http.ServeContent(w, r, res.Name, res.ModTime, f)
	}
}

type filesResponse struct {
	RecordID int64                     `json:"record_id"`
	FormID   int64                     `json:"form_id"`
	Files    []collector.AttachmentRef `json:"files"`
	Errors   []string                  `json:"errors"`
}

func handleFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "recordID")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res, err := deps.Collector.Collect(r.Context(), id, collector.Options{})
		if err != nil {
			writeError(w, err)
			return
		}
		if res.Files == nil {
			res.Files = []collector.AttachmentRef{}
		}
		if res.Errors == nil {
			res.Errors = []string{}
		}

		writeJSON(w, http.StatusOK, filesResponse{
			RecordID: res.RecordID,
			FormID:   res.FormID,
			Files:    res.Files,
			Errors:   res.Errors,
		})
	}
}

func handleLink(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "recordID")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"record_id": id,
			"token":     deps.Link.Token(id),
			"url":       deps.Link.URL(baseURL(deps, r), id),
		})
	}
}

func baseURL(deps Deps, r *http.Request) string {
	if deps.PublicURL != "" {
		return deps.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
