package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/pdfmerge/internal/api"
	"github.com/kalambet/pdfmerge/internal/batch"
	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/config"
	"github.com/kalambet/pdfmerge/internal/document"
	"github.com/kalambet/pdfmerge/internal/ghostscript"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
	"github.com/kalambet/pdfmerge/internal/storage"
	"github.com/kalambet/pdfmerge/internal/uploads"
)

// app holds the wired components shared by the server and the local
// commands.
type app struct {
	cfg       config.Config
	store     *storage.Store
	gs        *ghostscript.Tool
	resolver  *uploads.Resolver
	collector *collector.Collector
	cache     *mergecache.Cache
	pipeline  *pipeline.Pipeline
	exporter  *batch.Exporter
	logger    *slog.Logger
}

func newApp(cfg config.Config) (*app, error) {
	logger := slog.Default()

	timeout, err := time.ParseDuration(cfg.Merge.Timeout)
	if err != nil || timeout <= 0 {
		logger.Warn("invalid merge timeout, using default 2m", "value", cfg.Merge.Timeout, "error", err)
		timeout = 2 * time.Minute
	}
	gs := ghostscript.New(cfg.Merge.GhostscriptPath, timeout)
	gs.Logger = logger

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	resolver := uploads.NewResolver(cfg.Uploads.BaseURL, cfg.Uploads.BaseDir)
	col := collector.New(store, resolver, &document.CoverRenderer{TempDir: cfg.Uploads.TempDir}, collector.Config{}, logger)

	var repairer mergecache.Repairer
	if cfg.Merge.RepairEnabled {
		repairer = document.NewRepairer(gs, cfg.Uploads.TempDir, logger)
	}
	cache := mergecache.New(
		mergecache.Config{Dir: cfg.Uploads.MergedDir, TempDir: cfg.Uploads.TempDir},
		gs, repairer, &document.ErrorPages{TempDir: cfg.Uploads.TempDir}, logger,
	)

	return &app{
		cfg:       cfg,
		store:     store,
		gs:        gs,
		resolver:  resolver,
		collector: col,
		cache:     cache,
		pipeline:  pipeline.New(store, col, cache, logger),
		exporter:  batch.New(col, store, cache, cfg.Uploads.MergedDir, cfg.Batch.Concurrency, logger),
		logger:    logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func (a *app) linkSigner() api.LinkSigner {
	return api.LinkSigner{Multiplier: int64(a.cfg.Link.Multiplier), Secret: a.cfg.Link.Secret}
}

// loadApp loads config, sets up logging and wires the components.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log, os.Stderr)
	return newApp(cfg)
}

// setupLogging installs the default slog logger: text on stderr unless
// log.format is json.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
