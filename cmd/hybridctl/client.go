package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasastorian/hybridstore"
	"github.com/lucasastorian/hybridstore/internal/config"
	"github.com/lucasastorian/hybridstore/internal/embedder"
	"github.com/lucasastorian/hybridstore/internal/ftsindex"
	"github.com/lucasastorian/hybridstore/internal/schema"
)

// schemaFileName is where hybridctl expects a YAML schema describing the
// database's tables/views, colocated with the database directory (the CLI
// only operates on already-defined schemas; it never declares one).
const schemaFileName = "schema.yaml"

const configFileName = "hybridstore.yaml"

func openClient(dir string) (*hybridstore.Client, error) {
	s, err := loadSchema(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, err
	}

	emb, name, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	ftsCfg := ftsindex.Config{K1: cfg.FTS.K1, B: cfg.FTS.B}
	return hybridstore.Open(s, dir, hybridstore.WithEmbedder(name, emb), hybridstore.WithFTSConfig(ftsCfg))
}

func loadSchema(dir string) (*schema.Schema, error) {
	data, err := os.ReadFile(filepath.Join(dir, schemaFileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", schemaFileName, err)
	}
	return schema.Load(data)
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, string, error) {
	switch cfg.Embedding.Provider {
	case "genai":
		g, err := embedder.NewGenAI(context.Background(), "", cfg.Embedding.GenAIModel, cfg.Embedding.TaskType, cfg.Embedding.Dimension)
		if err != nil {
			return nil, "", err
		}
		return g, g.Name(), nil
	case "ollama", "":
		o := embedder.NewOllama(cfg.Embedding.OllamaEndpoint, cfg.Embedding.OllamaModel, cfg.Embedding.Dimension)
		return o, o.Name(), nil
	default:
		return nil, "", fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
