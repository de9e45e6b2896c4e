package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "PDFMERGE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PDFMERGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PDFMERGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "uploads.base_url", typ: kString, env: "PDFMERGE_UPLOADS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Uploads.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Uploads.BaseURL },
	},
	{
		key: "uploads.base_dir", typ: kString, env: "PDFMERGE_UPLOADS_BASE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Uploads.BaseDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Uploads.BaseDir },
	},
	{
		key: "uploads.merged_dir", typ: kString, env: "PDFMERGE_UPLOADS_MERGED_DIR",
		apply:   func(cfg *Config, v any) { cfg.Uploads.MergedDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Uploads.MergedDir },
	},
	{
		key: "uploads.temp_dir", typ: kString, env: "PDFMERGE_UPLOADS_TEMP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Uploads.TempDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Uploads.TempDir },
	},
	{
		key: "merge.ghostscript_path", typ: kString, env: "PDFMERGE_MERGE_GHOSTSCRIPT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Merge.GhostscriptPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Merge.GhostscriptPath },
	},
	{
		key: "merge.timeout", typ: kString, env: "PDFMERGE_MERGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Merge.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Merge.Timeout },
	},
	{
		key: "merge.repair_enabled", typ: kBool, env: "PDFMERGE_MERGE_REPAIR_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Merge.RepairEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Merge.RepairEnabled },
	},
	{
		key: "batch.concurrency", typ: kInt, env: "PDFMERGE_BATCH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Batch.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Concurrency },
	},
	{
		key: "batch.poll_interval", typ: kString, env: "PDFMERGE_BATCH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Batch.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Batch.PollInterval },
	},
	{
		key: "link.multiplier", typ: kInt, env: "PDFMERGE_LINK_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Link.Multiplier = v.(int) },
		extract: func(cfg Config) any { return cfg.Link.Multiplier },
	},
	{
		key: "link.public_url", typ: kString, env: "PDFMERGE_LINK_PUBLIC_URL",
		apply:   func(cfg *Config, v any) { cfg.Link.PublicURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Link.PublicURL },
	},
	{
		key: "link.secret", typ: kString, env: "PDFMERGE_LINK_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Link.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Link.Secret },
	},
	{
		key: "api.token", typ: kString, env: "PDFMERGE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "PDFMERGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "PDFMERGE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := getBool(b, s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] %v. Using default value.\n", err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
