package config

import (
	"errors"
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error  { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.data, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain is a map-backed SecretStore.
type mockKeychain struct {
	values map[string]string
	setErr error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[service+"/"+account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func requiredBackend() *memBackend {
	b := newMemBackend()
	b.data["uploads.base_dir"] = "/srv/uploads"
	b.data["uploads.base_url"] = "https://example.com/uploads"
	return b
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDFMERGE_LINK_SECRET", "s3cret")

	cfg, err := loadWith(requiredBackend(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Merge.GhostscriptPath != "gs" {
		t.Errorf("Merge.GhostscriptPath = %q, want gs", cfg.Merge.GhostscriptPath)
	}
	if !cfg.Merge.RepairEnabled {
		t.Error("Merge.RepairEnabled = false, want true")
	}
	if cfg.Link.Multiplier != 687 {
		t.Errorf("Link.Multiplier = %d, want 687", cfg.Link.Multiplier)
	}
	if cfg.Batch.Concurrency != 2 {
		t.Errorf("Batch.Concurrency = %d, want 2", cfg.Batch.Concurrency)
	}
	if cfg.Uploads.MergedDir != "/srv/uploads/merged" {
		t.Errorf("Uploads.MergedDir = %q, want derived from base dir", cfg.Uploads.MergedDir)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := requiredBackend()
	b.ints["server.port"] = 5000
	b.data["merge.repair_enabled"] = "false"
	b.data["uploads.merged_dir"] = "/var/cache/merged"
	b.data["log.format"] = "json"

	kc := &mockKeychain{values: map[string]string{"pdfmerge/link_secret": "from-keychain"}}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Merge.RepairEnabled {
		t.Error("Merge.RepairEnabled = true, want false")
	}
	if cfg.Uploads.MergedDir != "/var/cache/merged" {
		t.Errorf("Uploads.MergedDir = %q", cfg.Uploads.MergedDir)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
	if cfg.Link.Secret != "from-keychain" {
		t.Errorf("Link.Secret = %q, want keychain value", cfg.Link.Secret)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := requiredBackend()
	b.ints["server.port"] = 5000

	t.Setenv("PDFMERGE_SERVER_PORT", "6000")
	t.Setenv("PDFMERGE_LINK_SECRET", "env-secret")
	t.Setenv("PDFMERGE_BATCH_CONCURRENCY", "not-a-number")

	kc := &mockKeychain{values: map[string]string{"pdfmerge/link_secret": "from-keychain"}}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Link.Secret != "env-secret" {
		t.Errorf("Link.Secret = %q, want env value", cfg.Link.Secret)
	}
	if cfg.Batch.Concurrency != 2 {
		t.Errorf("Batch.Concurrency = %d, want default after bad env value", cfg.Batch.Concurrency)
	}
}

func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMemBackend(), &mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing config, got nil")
	}
	for _, want := range []string{"missing required config", "uploads.base_dir", "uploads.base_url", "PDFMERGE_LINK_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyIn(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKeyIn: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKeyIn(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyIn(b, "merge.repair_enabled", "maybe"); err == nil {
		t.Error("expected error for non-boolean value")
	}
	if err := setKeyIn(b, "link.secret", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyIn(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Link.Secret = "hidden"
	cfg.API.Token = "hidden"
	for _, ki := range ShowAll(cfg) {
		if ki.Value == "hidden" {
			t.Errorf("secret value exposed under key %s", ki.Key)
		}
	}
	for _, k := range ValidKeys() {
		if k == "link.secret" || k == "api.token" {
			t.Errorf("ValidKeys includes secret %s", k)
		}
	}
}

func TestGetAPITokenGeneratesOnce(t *testing.T) {
	kc := &mockKeychain{}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Error("expected stored token to be reused")
	}

	if _, err := GetAPIToken(&mockKeychain{setErr: errors.New("locked")}); err == nil {
		t.Error("expected error when the store rejects writes")
	}
}

func TestGetBool(t *testing.T) {
	b := newMemBackend()
	b.data["on"] = "true"
	b.data["off"] = "0"
	b.data["empty"] = ""
	b.data["junk"] = "maybe"

	if v, ok, err := getBool(b, "on"); err != nil || !ok || !v {
		t.Errorf("on = %v, %v, %v", v, ok, err)
	}
	if v, ok, err := getBool(b, "off"); err != nil || !ok || v {
		t.Errorf("off = %v, %v, %v", v, ok, err)
	}
	for _, key := range []string{"empty", "missing"} {
		if _, ok, err := getBool(b, key); err != nil || ok {
			t.Errorf("%s: ok = %v, err = %v", key, ok, err)
		}
	}
	if _, _, err := getBool(b, "junk"); err == nil {
		t.Error("expected error for junk value")
	}
}
