package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
	"github.com/kalambet/pdfmerge/internal/storage"
)

const testToken = "test-token-12345"

var testSigner = LinkSigner{Multiplier: 687, Secret: "s3cret"}

type mockMerger struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	path string
	err  error
}

func (m *mockMerger) Merge(_ context.Context, req pipeline.Request) (mergecache.Result, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	if m.err != nil {
		return mergecache.Result{}, m.err
	}
	return mergecache.Result{
		Kind:        req.Mode,
		Path:        m.path,
		Name:        filepath.Base(m.path),
		ContentType: mergecache.ContentType,
		ModTime:     time.Now(),
	}, nil
}

func (m *mockMerger) last() pipeline.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[len(m.reqs)-1]
}

type mockCollector struct {
	forms   map[int64]storage.Form
	results map[int64]collector.Result
}

func (m *mockCollector) Collect(_ context.Context, id int64, _ collector.Options) (collector.Result, error) {
	r, ok := m.results[id]
	if !ok {
		return collector.Result{}, fmt.Errorf("entry %d: %w", id, collector.ErrNotFound)
	}
	return r, nil
}

func (m *mockCollector) Form(id int64) (storage.Form, error) {
	f, ok := m.forms[id]
	if !ok {
		return storage.Form{}, storage.ErrNotFound
	}
	return f, nil
}

type dirArchives string

func (d dirArchives) ArchivePath(form storage.Form) string {
	return filepath.Join(string(d), fmt.Sprintf("form-%d.zip", form.ID))
}

type testEnv struct {
	handler  http.Handler
	merger   *mockMerger
	store    *storage.Store
	archives dirArchives
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	pdf := filepath.Join(dir, "42.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4 merged"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		merger:   &mockMerger{path: pdf},
		store:    store,
		archives: dirArchives(t.TempDir()),
	}
	col := &mockCollector{
		forms: map[int64]storage.Form{4: {ID: 4, Title: "Grant"}},
		results: map[int64]collector.Result{
			42: {
				RecordID: 42, FormID: 4,
				Files:  []collector.AttachmentRef{{FormID: 4, FieldID: 3, RecordID: 42, LocalPath: "/up/a.pdf"}},
				Errors: []string{"/up/missing.pdf"},
			},
		},
	}
	env.handler = NewRouter(Deps{
		Merger:    env.merger,
		Collector: col,
		Jobs:      store,
		Archives:  env.archives,
		Token:     testToken,
		Link:      testSigner,
		PublicURL: "https://forms.example.org",
	})
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body.Error.Type
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	env := setupRouter(t)

	for _, path := range []string{"/health", "/metrics"} {
		rec := serve(env.handler, authReq(http.MethodGet, path, "", ""))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupRouter(t)
	url := "/merge/42?token=" + testSigner.Token(42)

	for _, tok := range []string{"", "wrong"} {
		rec := serve(env.handler, authReq(http.MethodGet, url, "", tok))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got == "" {
			t.Errorf("token %q: missing WWW-Authenticate header", tok)
		}
	}
	if len(env.merger.reqs) != 0 {
		t.Error("merger called without auth")
	}
}

func TestMergeDisplay(t *testing.T) {
	env := setupRouter(t)

	rec := serve(env.handler, authReq(http.MethodGet, "/merge/42?token="+testSigner.Token(42), "", testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "private" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `inline; filename="42.pdf"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Body.String() != "%PDF-1.4 merged" {
		t.Errorf("body = %q", rec.Body.String())
	}

	req := env.merger.last()
	if req.RecordID != 42 || req.Cover || req.Context != pipeline.ContextBrowser || req.Mode != mergecache.ModeStream {
		t.Errorf("pipeline request = %+v", req)
	}
}

func TestMergeModes(t *testing.T) {
	tests := []struct {
		mode        string
		disposition string
		cover       bool
	}{
		{"download", "attachment", false},
		{"embed", "inline", true},
		{"display", "inline", false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			env := setupRouter(t)
			url := fmt.Sprintf("/merge/42?mode=%s&token=%s", tt.mode, testSigner.Token(42))

			rec := serve(env.handler, authReq(http.MethodGet, url, "", testToken))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, tt.disposition+";") {
				t.Errorf("Content-Disposition = %q, want %s", got, tt.disposition)
			}
			if env.merger.last().Cover != tt.cover {
				t.Errorf("Cover = %v, want %v", env.merger.last().Cover, tt.cover)
			}
		})
	}
}

func TestMergeRejectsBadRequests(t *testing.T) {
	env := setupRouter(t)

	tests := []struct {
		name string
		url  string
		code int
	}{
		{"non-numeric id", "/merge/abc?token=x", http.StatusBadRequest},
		{"zero id", "/merge/0?token=x", http.StatusBadRequest},
		{"missing token", "/merge/42", http.StatusForbidden},
		{"token of another record", "/merge/42?token=" + testSigner.Token(1), http.StatusForbidden},
		{"unknown mode", "/merge/42?mode=print&token=" + testSigner.Token(42), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(env.handler, authReq(http.MethodGet, tt.url, "", testToken))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			errorType(t, rec)
		})
	}
	if len(env.merger.reqs) != 0 {
		t.Errorf("merger called %d times", len(env.merger.reqs))
	}
}

func TestMergeErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("entry 42: %w", collector.ErrNotFound), http.StatusNotFound},
		{pipeline.ErrNothingToMerge, http.StatusNotFound},
		{pipeline.ErrBypassed, http.StatusConflict},
		{fmt.Errorf("%w: exit 1", mergecache.ErrMergeFailed), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := setupRouter(t)
			env.merger.err = tt.err

			rec := serve(env.handler, authReq(http.MethodGet, "/merge/42?token="+testSigner.Token(42), "", testToken))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want JSON error body", ct)
			}
			errorType(t, rec)
		})
	}
}

func TestFiles(t *testing.T) {
	env := setupRouter(t)

	rec := serve(env.handler, authReq(http.MethodGet, "/merge/42/files", "", testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp filesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FormID != 4 || len(resp.Files) != 1 || len(resp.Errors) != 1 {
		t.Errorf("resp = %+v", resp)
	}

	rec = serve(env.handler, authReq(http.MethodGet, "/merge/7/files", "", testToken))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown record: status = %d, want 404", rec.Code)
	}
}

func TestLinkEndpoint(t *testing.T) {
	env := setupRouter(t)

	rec := serve(env.handler, authReq(http.MethodGet, "/merge/42/link", "", testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token != "c1e01178bc" {
		t.Errorf("token = %q", resp.Token)
	}
	if resp.URL != "https://forms.example.org/merge/42?token=c1e01178bc" {
		t.Errorf("url = %q", resp.URL)
	}
}
