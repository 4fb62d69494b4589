// Package embedder defines the Embedder capability (spec.md §1, §4.6):
// producing fixed-dimension vectors for text and, optionally, reranking a
// candidate list. Concrete provider adapters live alongside the interface
// (ollama.go, genai.go) the way the teacher ships internal/embedding next
// to internal/store rather than behind a separate module boundary; callers
// in internal/planner and internal/batch only ever depend on Embedder.
package embedder

import "context"

// Embedder is the external capability every vector-enabled column depends
// on. Implementations own their own provider credentials and HTTP clients.
type Embedder interface {
	// Name identifies the embedder for schema.EmbeddingConfig.Embedder and
	// for log lines ("ollama:embeddinggemma", "genai:gemini-embedding-001").
	Name() string

	// Dimension is the fixed D every vector this embedder produces has
	// (invariant I5).
	Dimension() int

	// Embed returns one vector per input text, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Rerank is optional: implementations that can't rerank return
	// ErrRerankUnsupported. The planner does not call Rerank; results keep
	// their fused scores.
	Rerank(ctx context.Context, query string, docs []string, k int) ([]int, error)
}

// ErrRerankUnsupported is returned by Rerank when an embedder has no
// reranking capability.
var ErrRerankUnsupported = errRerankUnsupported{}

type errRerankUnsupported struct{}

func (errRerankUnsupported) Error() string { return "embedder: rerank not supported by this provider" }
