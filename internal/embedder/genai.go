package embedder

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// genaiBatchLimit mirrors the teacher's maxBatchSize: GenAI rejects batch
// requests over 100 items.
const genaiBatchLimit = 100

// GenAI embeds text via Google's Gemini embedding API, adapted from the
// teacher's internal/embedding/genai.go. It has no rerank endpoint either,
// so Rerank also returns ErrRerankUnsupported.
type GenAI struct {
	client    *genai.Client
	model     string
	taskType  string
	dimension int
}

// credentialEnvVar is the named environment variable spec.md §6 says the
// Embedder implementation itself declares ("the core does not own this").
const credentialEnvVar = "HYBRIDSTORE_GENAI_API_KEY"

// NewGenAI constructs a GenAI embedder, reading its API key from
// HYBRIDSTORE_GENAI_API_KEY unless apiKey is passed explicitly.
func NewGenAI(ctx context.Context, apiKey, model, taskType string, dimension int) (*GenAI, error) {
	timer := xlog.StartTimer(xlog.CategoryEmbedder, "NewGenAI")
	defer timer.Stop()

	if apiKey == "" {
		apiKey = os.Getenv(credentialEnvVar)
	}
	if apiKey == "" {
		return nil, xerrors.Embedder("NewGenAI", fmt.Errorf("%s is not set", credentialEnvVar))
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}
	if dimension == 0 {
		dimension = 3072
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, xerrors.Embedder("NewGenAI", fmt.Errorf("create genai client: %w", err))
	}

	return &GenAI{client: client, model: model, taskType: taskType, dimension: dimension}, nil
}

func (g *GenAI) Name() string   { return fmt.Sprintf("genai:%s", g.model) }
func (g *GenAI) Dimension() int { return g.dimension }

func int32Ptr(i int32) *int32 { return &i }

func (g *GenAI) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(int32(g.dimension)),
	})
	if err != nil {
		return nil, xerrors.Embedder("GenAI.Embed", fmt.Errorf("embed content: %w", err))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, xerrors.Embedder("GenAI.Embed", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}

	out := make([][]float32, len(texts))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Embed batches texts into chunks of at most genaiBatchLimit and
// concatenates the results, mirroring the teacher's chunking EmbedBatch.
func (g *GenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	timer := xlog.StartTimer(xlog.CategoryEmbedder, "GenAI.Embed")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= genaiBatchLimit {
		return g.embedChunk(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiBatchLimit {
		end := start + genaiBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Cancelled("GenAI.Embed")
		default:
		}
		chunk, err := g.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Rerank is unsupported by the Gemini embeddings API surface used here.
func (g *GenAI) Rerank(ctx context.Context, query string, docs []string, k int) ([]int, error) {
	return nil, ErrRerankUnsupported
}
