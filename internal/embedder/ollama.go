package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Ollama embeds text via a local Ollama server's /api/embeddings endpoint,
// adapted from the teacher's internal/embedding/ollama.go. Ollama has no
// rerank endpoint, so Rerank always returns ErrRerankUnsupported.
type Ollama struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client
}

// NewOllama constructs an Ollama embedder. endpoint/model default to
// "http://localhost:11434"/"embeddinggemma" when empty; dimension must
// match the model's actual output width since VectorFile enforces it.
func NewOllama(endpoint, model string, dimension int) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	if dimension == 0 {
		dimension = 768
	}
	return &Ollama{
		endpoint:  endpoint,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *Ollama) Name() string    { return fmt.Sprintf("ollama:%s", o.model) }
func (o *Ollama) Dimension() int  { return o.dimension }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, xerrors.Embedder("Ollama.Embed", fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Embedder("Ollama.Embed", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, xerrors.Embedder("Ollama.Embed", fmt.Errorf("ollama request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, xerrors.Embedder("Ollama.Embed", fmt.Errorf("ollama status %d: %s", resp.StatusCode, string(data)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, xerrors.Embedder("Ollama.Embed", fmt.Errorf("decode response: %w", err))
	}
	return result.Embedding, nil
}

// Embed calls Ollama once per text; the server exposes no native batch
// endpoint, mirroring the teacher's EmbedBatch sequential fallback.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	timer := xlog.StartTimer(xlog.CategoryEmbedder, "Ollama.Embed")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := o.embedOne(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Rerank is unsupported by the Ollama embeddings API.
func (o *Ollama) Rerank(ctx context.Context, query string, docs []string, k int) ([]int, error) {
	return nil, ErrRerankUnsupported
}
