package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.Logging.Console.Enabled {
		t.Error("console logging should be enabled by default")
	}
	if cfg.Logging.Console.Level != "info" {
		t.Errorf("default console level = %q", cfg.Logging.Console.Level)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled by default")
	}
}

func TestLoad(t *testing.T) {
	content := `
logging:
  console:
    enabled: true
    level: debug
    format: json
  file:
    enabled: true
    path: /var/log/adict.log
metrics:
  enabled: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Console.Level != "debug" {
		t.Errorf("console level = %q", cfg.Logging.Console.Level)
	}
	if cfg.Logging.File.Path != "/var/log/adict.log" {
		t.Errorf("file path = %q", cfg.Logging.File.Path)
	}
	// file level falls back to the default
	if cfg.Logging.File.Level != "info" {
		t.Errorf("file level = %q", cfg.Logging.File.Level)
	}
	// enabling metrics without an address picks the default one
	if cfg.Metrics.ListenAddr != ":9101" {
		t.Errorf("metrics addr = %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("logging: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
