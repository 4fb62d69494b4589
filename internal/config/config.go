// Package config holds engine configuration, struct-of-structs keyed by
// concern with a Default*Config() constructor for each, loaded from a YAML
// file colocated with the database directory or built programmatically.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Config is the top-level engine configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Batch     BatchConfig     `yaml:"batch"`
	FTS       FTSConfig       `yaml:"fts"`
	Watch     WatchConfig     `yaml:"watch"`
}

// StoreConfig controls RelStore's connection and WAL behavior.
type StoreConfig struct {
	// Path is the database directory (RelStore db file + VectorFile dir live
	// underneath it).
	Path string `yaml:"path"`

	JournalMode string `yaml:"journal_mode"`
	Synchronous string `yaml:"synchronous"`
	BusyTimeout int     `yaml:"busy_timeout_ms"`
	CacheSizeKB int     `yaml:"cache_size_kb"` // negative per SQLite convention (KB, not pages)
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path:        "./data/hybridstore",
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
		CacheSizeKB: -2000,
	}
}

// EmbeddingConfig selects and configures the default Embedder.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "ollama" or "genai"

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIModel string `yaml:"genai_model"`
	TaskType   string `yaml:"task_type"`

	Dimension int `yaml:"dimension"`
}

func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
		Dimension:      768,
	}
}

// BatchConfig controls BatchCoordinator defaults.
type BatchConfig struct {
	// AtomicDefault selects the default Scope mode when a caller doesn't
	// specify one explicitly.
	AtomicDefault bool `yaml:"atomic_default"`
	// IntentLogDir is relative to Path/vectors when empty.
	IntentLogDir string `yaml:"intent_log_dir"`
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{AtomicDefault: true, IntentLogDir: ""}
}

// FTSConfig is forwarded to ftsindex.Config; see there for how K1 and B
// reach bm25() (they do not change FTS5's own BM25 k1/b).
type FTSConfig struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

func DefaultFTSConfig() FTSConfig {
	return FTSConfig{K1: 1.2, B: 0.75}
}

// WatchConfig controls VectorFile's external-modification detection.
type WatchConfig struct {
	Enabled      bool  `yaml:"enabled"`
	PollFallback bool  `yaml:"poll_fallback"`
}

func DefaultWatchConfig() WatchConfig {
	return WatchConfig{Enabled: true, PollFallback: true}
}

// DefaultConfig returns the configuration used when no YAML file is
// present, matching every concern's own Default*Config().
func DefaultConfig() *Config {
	return &Config{
		Store:     DefaultStoreConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Batch:     DefaultBatchConfig(),
		FTS:       DefaultFTSConfig(),
		Watch:     DefaultWatchConfig(),
	}
}

// Load reads path as YAML and overlays it onto DefaultConfig. A missing
// file is not an error -- it just yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			xlog.Get(xlog.CategoryConfig).Info("config file not found, using defaults: %s", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	xlog.Get(xlog.CategoryConfig).Info("config loaded from %s", path)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
