// Package hybridstore is the public entry point: Client ties together
// RelStore, VectorFile, InvertedIndex, ViewResolver, QueryPlanner, and
// BatchCoordinator behind the external query surface described in
// spec.md §6. There is no global state -- every operation hangs off a
// Client instance, which owns the RelStore connection with scoped
// acquisition (open on Create/Open, released on Close).
package hybridstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/lucasastorian/hybridstore/internal/batch"
	"github.com/lucasastorian/hybridstore/internal/embedder"
	"github.com/lucasastorian/hybridstore/internal/filter"
	"github.com/lucasastorian/hybridstore/internal/ftsindex"
	"github.com/lucasastorian/hybridstore/internal/planner"
	"github.com/lucasastorian/hybridstore/internal/relstore"
	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/vectorfile"
	"github.com/lucasastorian/hybridstore/internal/view"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Client owns every store for one database directory.
type Client struct {
	dir       string
	schema    *schema.Schema
	store     *relstore.Store
	fts       *ftsindex.Manager
	vectors   *vectorfile.Manager
	views     *view.Resolver
	planner   *planner.Planner
	batch     *batch.Coordinator
	embedders map[string]embedder.Embedder
}

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	embedders map[string]embedder.Embedder
	ftsConfig ftsindex.Config
}

// WithEmbedder registers an Embedder under name, matching a column's
// schema.EmbeddingConfig.Embedder value.
func WithEmbedder(name string, e embedder.Embedder) Option {
	return func(o *options) { o.embedders[name] = e }
}

// WithFTSConfig sets the ftsindex.Config used for every fts index; see
// ftsindex.Config for how its values reach bm25() (FTS5 keeps its own BM25
// k1/b).
func WithFTSConfig(cfg ftsindex.Config) Option {
	return func(o *options) { o.ftsConfig = cfg }
}

func resolveOptions(opts []Option) *options {
	o := &options{embedders: make(map[string]embedder.Embedder), ftsConfig: ftsindex.DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create opens (creating if needed) a database directory at path for s,
// the same as Open -- RelStore/VectorFile/fts5 DDL is all idempotent
// CREATE ... IF NOT EXISTS, so there is no separate "must not already
// exist" constructor (spec.md §6 names both Client.create and Client.open;
// here they share one code path).
func Create(s *schema.Schema, path string, opts ...Option) (*Client, error) {
	return open(s, path, opts...)
}

// Open opens an existing (or new) database directory at path for s.
func Open(s *schema.Schema, path string, opts ...Option) (*Client, error) {
	return open(s, path, opts...)
}

func open(s *schema.Schema, dir string, opts ...Option) (*Client, error) {
	o := resolveOptions(opts)

	dbPath := filepath.Join(dir, "sqlite.db")
	store, err := relstore.Open(dbPath, s)
	if err != nil {
		return nil, err
	}

	fts, err := ftsindex.OpenAll(store.DB(), s, o.ftsConfig)
	if err != nil {
		store.Close()
		return nil, err
	}

	vectors, err := vectorfile.OpenAll(dir, s)
	if err != nil {
		store.Close()
		return nil, err
	}

	views, err := view.New(s)
	if err != nil {
		store.Close()
		vectors.CloseAll()
		return nil, err
	}

	pl := planner.New(store, fts, vectors, views, o.embedders)
	coord := batch.New(store, vectors, o.embedders, dir)

	c := &Client{
		dir: dir, schema: s, store: store, fts: fts, vectors: vectors,
		views: views, planner: pl, batch: coord, embedders: o.embedders,
	}

	if err := coord.Reconcile(context.Background()); err != nil {
		c.Close()
		return nil, err
	}

	xlog.Get(xlog.CategoryClient).Info("client ready at %s (%d tables, %d views)", dir, len(s.Tables), len(s.Views))
	return c, nil
}

// Close releases every store the Client owns.
func (c *Client) Close() error {
	var firstErr error
	if err := c.vectors.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Table returns a fluent handle for the named table or view.
func (c *Client) Table(name string) *Table {
	return &Table{client: c, name: name, filter: filter.Filter{}}
}

// BatchScope is a caller-facing handle onto internal/batch's atomic or
// non-atomic insert scope, letting a caller group inserts across several
// tables into one batch_embeddings call (spec.md §4.6).
type BatchScope struct {
	scope *batch.Scope
}

// Batch begins a new scope. atomic=true gives the all-or-nothing path:
// any failure before commit rolls back every insert and truncates every
// touched VectorFile back to its pre-scope length. atomic=false commits
// each row independently and routes embedding failures to the outbox.
func (c *Client) Batch(atomic bool) *BatchScope {
	return &BatchScope{scope: c.batch.Begin(atomic)}
}

// Insert queues a row for insertion on Commit, preserving call order.
func (b *BatchScope) Insert(table string, row relstore.Row) *BatchScope {
	b.scope.Insert(table, row)
	return b
}

// Commit executes the gathered inserts and returns the assigned row-ids
// in insertion order.
func (b *BatchScope) Commit(ctx context.Context) ([]int64, error) {
	return b.scope.Commit(ctx)
}

// RetryOutbox re-embeds every row queued in table.column's outbox after a
// non-atomic embedding failure (spec.md §4.6).
func (c *Client) RetryOutbox(ctx context.Context, table, column string) (succeeded, failed int, err error) {
	return c.batch.RetryOutbox(ctx, table, column)
}

// Compact rewrites table.column's VectorFile, dropping tombstoned slots and
// rebuilding a dense id<->slot bijection.
func (c *Client) Compact(table, column string) error {
	vf, ok := c.vectors.Get(table, column)
	if !ok {
		return xerrors.Schema("Client.Compact", fmt.Sprintf("%s.%s is not vector-enabled", table, column), nil)
	}
	return vf.Compact()
}

// VectorStats reports VectorFile occupancy for table.column, a supplement
// over the distilled spec's surface grounded on the teacher's
// GetVectorStats.
type VectorStatsResult struct {
	Dimension      int
	LiveCount      int
	TombstoneCount int
	Embedder       string
}

func (c *Client) VectorStats(table, column string) (VectorStatsResult, error) {
	vf, ok := c.vectors.Get(table, column)
	if !ok {
		return VectorStatsResult{}, xerrors.Schema("Client.VectorStats", fmt.Sprintf("%s.%s is not vector-enabled", table, column), nil)
	}
	t, ok := c.schema.Tables[table]
	if !ok {
		return VectorStatsResult{}, xerrors.Schema("Client.VectorStats", fmt.Sprintf("unknown table %q", table), nil)
	}
	colDef, _ := t.Column(column)
	records, err := vf.IterLive()
	if err != nil {
		return VectorStatsResult{}, err
	}
	embName := ""
	if colDef.Embedding != nil {
		embName = colDef.Embedding.Embedder
	}
	return VectorStatsResult{
		Dimension:      vf.Dimension(),
		LiveCount:      len(records),
		TombstoneCount: len(vf.Tombstones()),
		Embedder:       embName,
	}, nil
}

// ReembedColumn regenerates embeddings for rows in table.column that have
// no live vector yet (e.g. rows added before the column became
// vector-enabled, or rows whose non-atomic insert's outbox entry was never
// retried), grounded on the teacher's ReembedAllVectors.
func (c *Client) ReembedColumn(ctx context.Context, table, column string) (int, error) {
	return c.reembedColumn(ctx, table, column, false)
}

// ReembedColumnForce regenerates embeddings for every row in table.column
// regardless of whether a live vector already exists, grounded on the
// teacher's ReembedAllVectorsForce (e.g. after switching embedding
// providers).
func (c *Client) ReembedColumnForce(ctx context.Context, table, column string) (int, error) {
	return c.reembedColumn(ctx, table, column, true)
}

func (c *Client) reembedColumn(ctx context.Context, table, column string, force bool) (int, error) {
	t, ok := c.schema.Tables[table]
	if !ok {
		return 0, xerrors.Schema("Client.ReembedColumn", fmt.Sprintf("unknown table %q", table), nil)
	}
	colDef, ok := t.Column(column)
	if !ok || !colDef.Vector || colDef.Embedding == nil {
		return 0, xerrors.Schema("Client.ReembedColumn", fmt.Sprintf("%s.%s is not vector-enabled", table, column), nil)
	}
	vf, ok := c.vectors.Get(table, column)
	if !ok {
		return 0, xerrors.Schema("Client.ReembedColumn", fmt.Sprintf("%s.%s has no vector file", table, column), nil)
	}
	emb, ok := c.embedders[colDef.Embedding.Embedder]
	if !ok {
		return 0, xerrors.Embedder("Client.ReembedColumn", fmt.Errorf("no embedder registered for %q", colDef.Embedding.Embedder))
	}

	pk, _ := t.PrimaryKey()
	rows, err := c.store.Select(table, filter.Filter{}, []string{pk.Name, column})
	if err != nil {
		return 0, err
	}

	hashCol := relstore.HashColumn(column)
	count := 0
	for _, r := range rows {
		id, ok := toInt64(r[pk.Name])
		if !ok {
			continue
		}
		if !force && vf.HasRow(id) {
			continue
		}
		text, ok := r[column].(string)
		if !ok || text == "" {
			continue
		}
		vecs, err := emb.Embed(ctx, []string{text})
		if err != nil {
			return count, err
		}
		if _, err := vf.Append(id, vecs[0]); err != nil {
			return count, err
		}
		hash := textHash(text)
		if _, err := c.store.Update(table, filter.Filter{}.Eq(pk.Name, id), relstore.Row{hashCol: hash}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
