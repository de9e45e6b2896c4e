package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Uploads UploadsConfig
	Merge   MergeConfig
	Batch   BatchConfig
	Link    LinkConfig
	API     APIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

// UploadsConfig describes where attachments live. BaseURL is the public
// prefix stored in record values; BaseDir is the matching local directory.
type UploadsConfig struct {
	BaseURL   string
	BaseDir   string
	MergedDir string
	TempDir   string
}

type MergeConfig struct {
	GhostscriptPath string
	Timeout         string
	RepairEnabled   bool
}

type BatchConfig struct {
	Concurrency  int
	PollInterval string
}

// LinkConfig parameterises the per-record link token. PublicURL is the
// externally visible server address used when printing links.
type LinkConfig struct {
	Multiplier int
	Secret     string
	PublicURL  string
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Uploads: UploadsConfig{
			TempDir: filepath.Join(os.TempDir(), "pdfmerge"),
		},
		Merge: MergeConfig{
			GhostscriptPath: "gs",
			Timeout:         "2m",
			RepairEnabled:   true,
		},
		Batch: BatchConfig{
			Concurrency:  2,
			PollInterval: "500ms",
		},
		Link: LinkConfig{
			Multiplier: 687,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.pdfmerge.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/pdfmerge/config.json
// and secrets come from environment variables or
// $XDG_DATA_HOME/pdfmerge/secrets.json.
//
// Environment variables (PDFMERGE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychain{})
}

// secretReader abstracts secret lookup for testing.
type secretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Link.Secret == "" {
		if v, err := kc.Get(secretService, "link_secret"); err == nil && v != "" {
			cfg.Link.Secret = v
		}
	}
	if cfg.API.Token == "" {
		if v, err := kc.Get(secretService, "api_token"); err == nil && v != "" {
			cfg.API.Token = v
		}
	}

	var missing []string
	if cfg.Uploads.BaseDir == "" {
		missing = append(missing, "uploads.base_dir (PDFMERGE_UPLOADS_BASE_DIR)")
	}
	if cfg.Uploads.BaseURL == "" {
		missing = append(missing, "uploads.base_url (PDFMERGE_UPLOADS_BASE_URL)")
	}
	if cfg.Link.Secret == "" {
		missing = append(missing, "link secret (PDFMERGE_LINK_SECRET"+secretHint()+")")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if cfg.Uploads.MergedDir == "" {
		cfg.Uploads.MergedDir = filepath.Join(cfg.Uploads.BaseDir, "merged")
	}
	if cfg.Batch.Concurrency <= 0 {
		cfg.Batch.Concurrency = 1
	}

	return cfg, nil
}
