package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.DefaultLimit != 5 {
		t.Errorf("default_limit = %d, want 5", cfg.Search.DefaultLimit)
	}
	if cfg.Search.MaxLimit != 100 {
		t.Errorf("max_limit = %d, want 100", cfg.Search.MaxLimit)
	}
	if cfg.Search.MinSimilarity != 0.5 {
		t.Errorf("min_similarity = %v, want 0.5", cfg.Search.MinSimilarity)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("dimensions = %d, want 384", cfg.Embedding.Dimensions)
	}
	if cfg.Reset.BatchSize != 2000 {
		t.Errorf("batch_size = %d, want 2000", cfg.Reset.BatchSize)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/kbase.db"
  desc_index_path: "./data/desc"
  vector_index_path: "./data/vectors.bin"
oem:
  reference_path: "./oem.yaml"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data/kbase.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.OEM.ReferencePath != filepath.Join(dir, "oem.yaml") {
		t.Errorf("reference_path = %s", cfg.OEM.ReferencePath)
	}
}

func TestLoad_emptyReferencePathStaysEmpty(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OEM.ReferencePath != "" {
		t.Errorf("reference_path should stay empty, got %s", cfg.OEM.ReferencePath)
	}
	if cfg.OEM.Watch {
		t.Error("watch should default to false")
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Error("invalid yaml should fail")
	}
}
