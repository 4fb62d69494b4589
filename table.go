package hybridstore

import (
	"context"
	"fmt"

	"github.com/lucasastorian/hybridstore/internal/filter"
	"github.com/lucasastorian/hybridstore/internal/planner"
	"github.com/lucasastorian/hybridstore/internal/relstore"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
)

// searchMode selects which of select/keyword/vector/hybrid Table.Execute
// dispatches to.
type searchMode int

const (
	modeSelect searchMode = iota
	modeKeyword
	modeVector
	modeHybrid
)

// Table is the fluent query/mutation handle named in spec.md §6: a chain
// of filter predicates plus an optional search mode, order, and limit,
// compiled once by Execute. Every chaining method returns a new Table so a
// caller can safely branch a chain without mutating a shared builder.
type Table struct {
	client *Client
	name   string
	filter filter.Filter

	mode   searchMode
	column string
	query  string
	topk   int
	alpha  float64
}

func (t Table) with(mutate func(*Table)) *Table {
	nt := t
	mutate(&nt)
	return &nt
}

// --- filter chain (spec.md §4.4), thin delegates onto filter.Filter ---

func (t *Table) Eq(column string, value interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Eq(column, value) })
}
func (t *Table) Neq(column string, value interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Neq(column, value) })
}
func (t *Table) Gt(column string, value interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Gt(column, value) })
}
func (t *Table) Gte(column string, value interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Gte(column, value) })
}
func (t *Table) Lt(column string, value interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Lt(column, value) })
}
func (t *Table) Lte(column string, value interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Lte(column, value) })
}
func (t *Table) Between(column string, lo, hi interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Between(column, lo, hi) })
}
func (t *Table) In(column string, values []interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.In(column, values) })
}
func (t *Table) NotIn(column string, values []interface{}) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.NotIn(column, values) })
}
func (t *Table) IsNull(column string) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.IsNull(column) })
}
func (t *Table) IsNotNull(column string) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.IsNotNull(column) })
}
func (t *Table) Contains(column string, value interface{}, isArray bool) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Contains(column, value, isArray) })
}
func (t *Table) ILike(column, pattern string) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.ILike(column, pattern) })
}
func (t *Table) Regex(column, pattern string) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Regex(column, pattern) })
}

// Order appends a stable ORDER BY term; ties always break by ascending
// primary key.
func (t *Table) Order(column string, desc bool) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Order(column, desc) })
}

// Limit caps the number of rows Execute returns.
func (t *Table) Limit(n int) *Table {
	return t.with(func(nt *Table) { nt.filter = nt.filter.Limit(n) })
}

// --- search mode selection ---

// VectorSearch scores rows by cosine similarity between query's embedding
// and column's stored vectors, restricted by any filters already chained.
func (t *Table) VectorSearch(column, query string, topk int) *Table {
	return t.with(func(nt *Table) { nt.mode = modeVector; nt.column = column; nt.query = query; nt.topk = topk })
}

// KeywordSearch scores rows by BM25 over column's fts5 index.
func (t *Table) KeywordSearch(column, query string, topk int) *Table {
	return t.with(func(nt *Table) { nt.mode = modeKeyword; nt.column = column; nt.query = query; nt.topk = topk })
}

// HybridSearch fuses vector and keyword scores: alpha weights the vector
// term, (1-alpha) the keyword term (spec.md §4.5).
func (t *Table) HybridSearch(column, query string, topk int, alpha float64) *Table {
	return t.with(func(nt *Table) { nt.mode = modeHybrid; nt.column = column; nt.query = query; nt.topk = topk; nt.alpha = alpha })
}

// Result is the shape Execute returns (spec.md §6): rows plus an optional
// parallel score slice for search modes.
type Result struct {
	Data   []relstore.Row
	Scores []float64
}

// Execute compiles and runs the chained filters plus search mode and
// returns the matched rows.
func (t *Table) Execute(ctx context.Context) (Result, error) {
	var r planner.Result
	var err error
	switch t.mode {
	case modeSelect:
		topk, _ := t.filter.LimitValue()
		r, err = t.client.planner.Select(t.name, t.filter, topk)
	case modeKeyword:
		r, err = t.client.planner.KeywordSearch(ctx, t.name, t.column, t.query, t.filter, t.topk)
	case modeVector:
		r, err = t.client.planner.VectorSearch(ctx, t.name, t.column, t.query, t.filter, t.topk)
	case modeHybrid:
		r, err = t.client.planner.HybridSearch(ctx, t.name, t.column, t.query, t.filter, t.topk, t.alpha)
	default:
		return Result{}, fmt.Errorf("hybridstore: unknown search mode %d", t.mode)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Data: r.Data, Scores: r.Scores}, nil
}

// Select reads t's base table directly through RelStore with an explicit
// column projection; pass nil for every column. Unlike Execute, it does not
// resolve views.
func (t *Table) Select(ctx context.Context, columns []string) ([]relstore.Row, error) {
	return t.client.store.Select(t.name, t.filter, columns)
}

// Insert adds one row via the non-atomic path (autocommit, embed failures
// routed to the outbox). Use Client.Batch for atomic multi-row scopes.
func (t *Table) Insert(ctx context.Context, row relstore.Row) (int64, error) {
	scope := t.client.batch.Begin(false)
	scope.Insert(t.name, row)
	ids, err := scope.Commit(ctx)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertMany adds rows via the non-atomic path, same failure semantics as
// Insert per row.
func (t *Table) InsertMany(ctx context.Context, rows []relstore.Row) ([]int64, error) {
	scope := t.client.batch.Begin(false)
	for _, row := range rows {
		scope.Insert(t.name, row)
	}
	return scope.Commit(ctx)
}

// Upsert inserts row, or updates the existing row matched by onConflict
// (a column name, typically the primary key) if one exists. On the update
// path, vector-enabled columns whose text is unchanged from the prior
// insert (compared via the stored text-hash sidecar) are not re-embedded,
// per spec.md §9's recommended upsert semantics.
func (t *Table) Upsert(ctx context.Context, row relstore.Row, onConflict string) (int64, error) {
	key, ok := row[onConflict]
	if !ok {
		return 0, xerrors.Schema("Table.Upsert", fmt.Sprintf("row missing conflict column %q", onConflict), nil)
	}

	existing, err := t.client.store.Select(t.name, filter.Filter{}.Eq(onConflict, key), nil)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return t.Insert(ctx, row)
	}

	schemaTable, ok := t.client.schema.Tables[t.name]
	if !ok {
		return 0, xerrors.Schema("Table.Upsert", fmt.Sprintf("unknown table %q", t.name), nil)
	}
	pk, _ := schemaTable.PrimaryKey()
	id, _ := toInt64(existing[0][pk.Name])

	set := relstore.Row{}
	for col, val := range row {
		set[col] = val
	}

	for _, col := range schemaTable.VectorColumns() {
		text, ok := row[col.Name].(string)
		if !ok {
			continue
		}
		hashCol := relstore.HashColumn(col.Name)
		prevHash, _ := existing[0][hashCol].(string)
		newHash := textHash(text)
		if newHash == prevHash {
			continue // unchanged text: skip re-embed, keep the existing vector
		}
		emb, ok := t.client.embedders[col.Embedding.Embedder]
		if !ok {
			return 0, xerrors.Embedder("Table.Upsert", fmt.Errorf("no embedder registered for %q", col.Embedding.Embedder))
		}
		vecs, err := emb.Embed(ctx, []string{text})
		if err != nil {
			return 0, err
		}
		vf, ok := t.client.vectors.Get(t.name, col.Name)
		if !ok {
			return 0, xerrors.Schema("Table.Upsert", fmt.Sprintf("%s.%s has no vector file", t.name, col.Name), nil)
		}
		if _, err := vf.Append(id, vecs[0]); err != nil {
			return 0, err
		}
		set[hashCol] = newHash
	}

	if _, err := t.client.store.Update(t.name, filter.Filter{}.Eq(onConflict, key), set); err != nil {
		return 0, err
	}
	return id, nil
}

// Update applies patch to every row matching the chained filter.
func (t *Table) Update(ctx context.Context, patch relstore.Row) (int64, error) {
	return t.client.store.Update(t.name, t.filter, patch)
}

// Delete tombstones the vector slot (for every vector-enabled column) and
// removes the row from RelStore for every row matching the chained
// filter. The FTS shadow table stays in sync via its own AFTER DELETE
// trigger.
func (t *Table) Delete(ctx context.Context) (int64, error) {
	schemaTable, ok := t.client.schema.Tables[t.name]
	if !ok {
		return 0, xerrors.Schema("Table.Delete", fmt.Sprintf("unknown table %q", t.name), nil)
	}
	vectorCols := schemaTable.VectorColumns()
	if len(vectorCols) > 0 {
		pk, _ := schemaTable.PrimaryKey()
		ids, _, err := t.client.store.FilteredIDs(t.name, t.filter)
		if err != nil {
			return 0, err
		}
		if ids == nil {
			// unrestricted delete: fall back to selecting every id explicitly
			// so every vector column's tombstone set sees each row.
			rows, err := t.client.store.Select(t.name, filter.Filter{}, []string{pk.Name})
			if err != nil {
				return 0, err
			}
			for _, r := range rows {
				if id, ok := toInt64(r[pk.Name]); ok {
					ids = append(ids, id)
				}
			}
		}
		for _, col := range vectorCols {
			vf, ok := t.client.vectors.Get(t.name, col.Name)
			if !ok {
				continue
			}
			for _, id := range ids {
				if err := vf.MarkDeleted(id); err != nil {
					return 0, err
				}
			}
		}
	}
	return t.client.store.Delete(t.name, t.filter)
}
