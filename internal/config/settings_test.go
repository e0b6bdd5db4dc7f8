package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.ServiceURL != DefaultServiceURL {
		t.Fatalf("expected default service URL, got %q", settings.ServiceURL)
	}
	if settings.Debounce != DefaultDebounce {
		t.Fatalf("expected default debounce, got %s", settings.Debounce)
	}
	if settings.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", settings.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rekindle.yaml")
	contents := `service_url: ws://localhost:9999/ws
debounce: 250ms
paths:
  - /srv/app/lib
globs:
  - /srv/app/conf/*.yaml
packages_file: /srv/app/.packages
watch_dependencies: true
log_level: debug
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.ServiceURL != "ws://localhost:9999/ws" {
		t.Fatalf("unexpected service URL %q", settings.ServiceURL)
	}
	if settings.Debounce != 250*time.Millisecond {
		t.Fatalf("unexpected debounce %s", settings.Debounce)
	}
	if len(settings.Paths) != 1 || settings.Paths[0] != "/srv/app/lib" {
		t.Fatalf("unexpected paths %v", settings.Paths)
	}
	if len(settings.Globs) != 1 {
		t.Fatalf("unexpected globs %v", settings.Globs)
	}
	if !settings.WatchDependencies {
		t.Fatal("expected watch_dependencies true")
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("unexpected log level %q", settings.LogLevel)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.ServiceURL != DefaultServiceURL {
		t.Fatalf("expected defaults, got %q", settings.ServiceURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rekindle.yaml")
	if err := os.WriteFile(path, []byte("service_url: ws://localhost:9999/ws\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv("REKINDLE_SERVICE_URL", "ws://localhost:7777/ws")
	t.Setenv("REKINDLE_DEBOUNCE", "2s")

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.ServiceURL != "ws://localhost:7777/ws" {
		t.Fatalf("expected env override, got %q", settings.ServiceURL)
	}
	if settings.Debounce != 2*time.Second {
		t.Fatalf("expected env debounce, got %s", settings.Debounce)
	}
}

func TestNegativeDebounceRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rekindle.yaml")
	if err := os.WriteFile(path, []byte("debounce: -1s\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative debounce")
	}
}

func TestZeroDebounceAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rekindle.yaml")
	if err := os.WriteFile(path, []byte("debounce: 0s\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	settings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Debounce != 0 {
		t.Fatalf("expected zero debounce, got %s", settings.Debounce)
	}
}
