package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Magick.Path != "/usr/bin" {
		t.Errorf("expected magick.path '/usr/bin', got '%s'", cfg.Magick.Path)
	}
	if cfg.Magick.Convert != "convert" || cfg.Magick.Composite != "composite" {
		t.Errorf("unexpected binary names %q, %q", cfg.Magick.Convert, cfg.Magick.Composite)
	}
	if cfg.Magick.Timeout != 60*time.Second {
		t.Errorf("expected timeout 60s, got %v", cfg.Magick.Timeout)
	}
	if cfg.Scratch.Dir != filepath.Join(os.TempDir(), "image-magick-mcp") {
		t.Errorf("unexpected scratch dir %q", cfg.Scratch.Dir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Batch.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Batch.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Magick.Path != "/usr/bin" {
		t.Errorf("expected default magick.path, got '%s'", cfg.Magick.Path)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `magick:
  path: /opt/imagemagick/bin
  timeout: 5s
scratch:
  dir: /var/tmp/im
log:
  level: debug
  format: json
batch:
  workers: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Magick.Path != "/opt/imagemagick/bin" {
		t.Errorf("magick.path = %q", cfg.Magick.Path)
	}
	if cfg.Magick.Convert != "convert" {
		t.Errorf("unset keys keep defaults, got convert = %q", cfg.Magick.Convert)
	}
	if cfg.Magick.Timeout != 5*time.Second {
		t.Errorf("magick.timeout = %v", cfg.Magick.Timeout)
	}
	if cfg.Scratch.Dir != "/var/tmp/im" {
		t.Errorf("scratch.dir = %q", cfg.Scratch.Dir)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Batch.Workers != 8 {
		t.Errorf("batch.workers = %d", cfg.Batch.Workers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("magick:\n  path: /from/file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMAGE_MCP_MAGICK_PATH", "/from/env")
	t.Setenv("IMAGE_MCP_MAGICK_TIMEOUT", "90s")
	t.Setenv("IMAGE_MCP_LOG_MAX_SIZE", "7")
	t.Setenv("IMAGE_MCP_BATCH_WORKERS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Magick.Path != "/from/env" {
		t.Errorf("environment should win over file, got %q", cfg.Magick.Path)
	}
	if cfg.Magick.Timeout != 90*time.Second {
		t.Errorf("magick.timeout = %v", cfg.Magick.Timeout)
	}
	if cfg.Log.MaxSize != 7 {
		t.Errorf("log.max-size = %d", cfg.Log.MaxSize)
	}
	if cfg.Batch.Workers != 2 {
		t.Errorf("batch.workers = %d", cfg.Batch.Workers)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}

	t.Setenv("IMAGE_MCP_LOG_LEVEL", "verbose")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "config.log.level") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"empty path", func(c *Config) { c.Magick.Path = "" }, "config.magick.path"},
		{"convert with separator", func(c *Config) { c.Magick.Convert = "bin/convert" }, "config.magick.convert"},
		{"negative timeout", func(c *Config) { c.Magick.Timeout = -time.Second }, "config.magick.timeout"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "config.log.format"},
		{"no workers", func(c *Config) { c.Batch.Workers = 0 }, "config.batch.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention %s", err, tt.field)
			}
		})
	}
}
