//go:build integration

package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasastorian/hybridstore/internal/embedder"
	"github.com/lucasastorian/hybridstore/internal/filter"
	"github.com/lucasastorian/hybridstore/internal/relstore"
	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/vectorfile"
)

// toggleEmbedder fails every Embed call until Enable() is called, after
// which it returns a fixed vector -- used to simulate an outbox entry that
// later succeeds on retry.
type toggleEmbedder struct {
	dim     int
	enabled atomic.Bool
}

func (e *toggleEmbedder) Name() string   { return "toggle" }
func (e *toggleEmbedder) Dimension() int { return e.dim }
func (e *toggleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.enabled.Load() {
		return nil, errors.New("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}
func (e *toggleEmbedder) Rerank(ctx context.Context, query string, docs []string, k int) ([]int, error) {
	return nil, nil
}
func (e *toggleEmbedder) Enable() { e.enabled.Store(true) }

func testSchema() *schema.Schema {
	s := schema.New()
	_ = s.AddTable(schema.Table{
		Name: "docs",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PK: true},
			{Name: "content", Type: schema.TypeText, Vector: true,
				Embedding: &schema.EmbeddingConfig{Embedder: "toggle", Dimension: 4}},
		},
	})
	return s
}

func setup(t *testing.T) (*Coordinator, *relstore.Store, *vectorfile.Manager, *toggleEmbedder) {
	t.Helper()
	dir := t.TempDir()
	sch := testSchema()

	store, err := relstore.Open(filepath.Join(dir, "test.db"), sch)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors, err := vectorfile.OpenAll(dir, sch)
	require.NoError(t, err)
	t.Cleanup(func() { vectors.CloseAll() })

	emb := &toggleEmbedder{dim: 4}
	c := New(store, vectors, map[string]embedder.Embedder{"toggle": emb}, dir)
	return c, store, vectors, emb
}

func TestCoordinator_AtomicRollsBackOnEmbedFailure(t *testing.T) {
	c, store, vectors, emb := setup(t)
	emb.enabled.Store(false) // force an embed failure

	scope := c.Begin(true)
	scope.Insert("docs", relstore.Row{"content": "hello"})
	scope.Insert("docs", relstore.Row{"content": "world"})
	_, err := scope.Commit(context.Background())
	require.Error(t, err, "an embed failure inside an atomic scope must fail Commit")

	rows, err := store.Select("docs", filter.Filter{}, nil)
	require.NoError(t, err)
	require.Empty(t, rows, "a rolled-back atomic batch must leave no RelStore rows behind")

	vf, ok := vectors.Get("docs", "content")
	require.True(t, ok)
	require.EqualValues(t, 0, vf.Len(), "a rolled-back atomic batch must leave the VectorFile at its pre-scope length")
}

func TestCoordinator_AtomicSucceedsAndVectorFileGrows(t *testing.T) {
	c, store, vectors, emb := setup(t)
	emb.Enable()

	scope := c.Begin(true)
	scope.Insert("docs", relstore.Row{"content": "hello"})
	scope.Insert("docs", relstore.Row{"content": "world"})
	ids, err := scope.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rows, err := store.Select("docs", filter.Filter{}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	vf, _ := vectors.Get("docs", "content")
	require.EqualValues(t, 2, vf.Len())
}

func TestCoordinator_NonAtomicRoutesFailureToOutboxThenRetrySucceeds(t *testing.T) {
	c, store, vectors, emb := setup(t)
	emb.enabled.Store(false)

	scope := c.Begin(false)
	scope.Insert("docs", relstore.Row{"content": "hello"})
	ids, err := scope.Commit(context.Background())
	require.NoError(t, err, "non-atomic mode should commit the row even if embedding fails")
	require.Len(t, ids, 1)

	rows, err := store.Select("docs", filter.Filter{}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "the row itself must still be committed despite the embed failure")

	vf, _ := vectors.Get("docs", "content")
	require.EqualValues(t, 0, vf.Len(), "no vector should be appended while the embedder is failing")

	emb.Enable()
	succeeded, failed, err := c.RetryOutbox(context.Background(), "docs", "content")
	require.NoError(t, err)
	require.Equal(t, 1, succeeded)
	require.Equal(t, 0, failed)
	require.EqualValues(t, 1, vf.Len(), "a successful outbox retry should append the pending vector")

	// Retrying again with nothing left in the outbox is a no-op.
	succeeded, failed, err = c.RetryOutbox(context.Background(), "docs", "content")
	require.NoError(t, err)
	require.Equal(t, 0, succeeded)
	require.Equal(t, 0, failed)
}

func TestCoordinator_ReconcileReplaysIntentLogAfterSimulatedCrash(t *testing.T) {
	c, store, vectors, emb := setup(t)
	emb.Enable()

	id, err := store.Insert("docs", relstore.Row{"content": "hello"})
	require.NoError(t, err)

	// Simulate a crash between RelStore commit and VectorFile append: write
	// the intent log directly without ever calling vf.Append.
	_, err = c.writeIntentLog("docs", "content", []int64{id}, []string{"hello"})
	require.NoError(t, err)

	vf, _ := vectors.Get("docs", "content")
	require.False(t, vf.HasRow(id))

	require.NoError(t, c.Reconcile(context.Background()))
	require.True(t, vf.HasRow(id), "Reconcile should replay the logged row into VectorFile")
}

func TestCoordinator_ReconcileSkipsRowsRolledBackFromRelStore(t *testing.T) {
	c, _, vectors, emb := setup(t)
	emb.Enable()

	// An intent-log entry for a row RelStore never actually kept (simulating
	// a crash before the RelStore transaction committed).
	_, err := c.writeIntentLog("docs", "content", []int64{999}, []string{"ghost"})
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(context.Background()))

	vf, _ := vectors.Get("docs", "content")
	require.False(t, vf.HasRow(999), "a row absent from RelStore must not be replayed into VectorFile")
}
