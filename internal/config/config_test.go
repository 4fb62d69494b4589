package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.FTS != want.FTS || cfg.Embedding != want.Embedding {
		t.Errorf("Load on a missing file = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoad_OverlaysYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hybridstore.yaml")
	yaml := "fts:\n  k1: 2.0\n  b: 0.5\nembedding:\n  provider: genai\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FTS.K1 != 2.0 || cfg.FTS.B != 0.5 {
		t.Errorf("FTS = %+v, want overridden k1/b", cfg.FTS)
	}
	if cfg.Embedding.Provider != "genai" {
		t.Errorf("Embedding.Provider = %q, want genai", cfg.Embedding.Provider)
	}
	// Untouched sections should keep their defaults.
	if cfg.Batch != DefaultBatchConfig() {
		t.Errorf("Batch = %+v, want untouched default", cfg.Batch)
	}
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hybridstore.yaml")
	if err := os.WriteFile(path, []byte("fts: [this is not a mapping"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected malformed YAML to fail Load")
	}
}

func TestConfig_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "hybridstore.yaml")

	cfg := DefaultConfig()
	cfg.FTS.K1 = 3.3
	cfg.Store.Path = "/tmp/somewhere"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.FTS.K1 != 3.3 || loaded.Store.Path != "/tmp/somewhere" {
		t.Errorf("round-tripped config = %+v, want Save'd values", loaded)
	}
}
