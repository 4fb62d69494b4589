// Package planner implements QueryPlanner (spec.md §4.5): turns a query
// request into an execution over RelStore, VectorFile, and InvertedIndex,
// handling plain tables and declared views uniformly.
package planner

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/lucasastorian/hybridstore/internal/embedder"
	"github.com/lucasastorian/hybridstore/internal/filter"
	"github.com/lucasastorian/hybridstore/internal/ftsindex"
	"github.com/lucasastorian/hybridstore/internal/relstore"
	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/vectorfile"
	"github.com/lucasastorian/hybridstore/internal/view"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Result is the shape every public query mode returns (spec.md §6):
// rows plus an optional parallel score slice.
type Result struct {
	Data   []relstore.Row
	Scores []float64
}

// Planner ties the per-component capabilities together. Embedders is keyed
// by schema.EmbeddingConfig.Embedder so a column's declared embedder name
// resolves to the concrete adapter the caller registered.
type Planner struct {
	store     *relstore.Store
	fts       *ftsindex.Manager
	vectors   *vectorfile.Manager
	views     *view.Resolver
	embedders map[string]embedder.Embedder
	sch       *schema.Schema
}

func New(store *relstore.Store, fts *ftsindex.Manager, vectors *vectorfile.Manager, views *view.Resolver, embedders map[string]embedder.Embedder) *Planner {
	return &Planner{store: store, fts: fts, vectors: vectors, views: views, embedders: embedders, sch: store.Schema()}
}

// target describes the resolved execution surface for one query: either a
// plain table, or a view rewritten into its joined base-table expansion.
type target struct {
	name     string
	isView   bool
	table    schema.Table // the direct table, or the vector-bearing table for a view
	viewDef  *view.Resolved
	resolver filter.Resolver // maps a logical column name to its SQL reference
	fromSQL  string          // FROM clause: quoted table name, or a join expansion
	pkSQLRef string          // fully resolved SQL reference to the primary key
}

func (p *Planner) resolveTarget(name string) (*target, error) {
	if t, ok := p.sch.Tables[name]; ok {
		pk, _ := t.PrimaryKey()
		return &target{
			name:     name,
			table:    t,
			resolver: func(col string) string { return filter.QuoteQualified(name, col) },
			fromSQL:  fmt.Sprintf("%q", name),
			pkSQLRef: filter.QuoteQualified(name, pk.Name),
		}, nil
	}

	resolved, ok := p.views.Get(name)
	if !ok {
		return nil, xerrors.Schema("planner.resolveTarget", fmt.Sprintf("unknown table or view %q", name), nil)
	}
	fromSQL, err := buildJoinSQL(p.sch, resolved.View)
	if err != nil {
		return nil, err
	}
	var vt schema.Table
	if resolved.VectorTable != "" {
		vt = p.sch.Tables[resolved.VectorTable]
	}
	resolver := func(alias string) string {
		ref, ok := resolved.View.Fields[alias]
		if !ok {
			return filter.QuoteQualified(name, alias) // best effort; Register already validated known aliases
		}
		return filter.QuoteQualified(ref.Table, ref.Column)
	}
	t := &target{
		name:     name,
		isView:   true,
		table:    vt,
		viewDef:  resolved,
		resolver: resolver,
		fromSQL:  fromSQL,
	}
	if resolved.VectorTable != "" {
		t.pkSQLRef = filter.QuoteQualified(resolved.VectorTable, resolved.VectorColumn)
	}
	return t, nil
}

// buildJoinSQL renders a FROM clause joining every table v.Tables names,
// following declared foreign keys (spec.md §9: tables/views as an adjacency
// list, join connectivity already validated by view.Resolver's union-find).
func buildJoinSQL(s *schema.Schema, v schema.View) (string, error) {
	if len(v.Tables) == 1 {
		return fmt.Sprintf("%q", v.Tables[0]), nil
	}

	type edge struct{ from, fromCol, to, toCol string }
	var edges []edge
	tableSet := make(map[string]bool, len(v.Tables))
	for _, t := range v.Tables {
		tableSet[t] = true
	}
	for _, tname := range v.Tables {
		t, ok := s.Tables[tname]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if tableSet[fk.RefTable] {
				edges = append(edges, edge{from: tname, fromCol: fk.Column, to: fk.RefTable, toCol: fk.RefColumn})
			}
		}
	}

	visited := map[string]bool{v.Tables[0]: true}
	from := fmt.Sprintf("%q", v.Tables[0])
	for len(visited) < len(v.Tables) {
		progressed := false
		for _, e := range edges {
			if visited[e.from] && !visited[e.to] {
				from += fmt.Sprintf(" JOIN %q ON %s = %s", e.to, filter.QuoteQualified(e.from, e.fromCol), filter.QuoteQualified(e.to, e.toCol))
				visited[e.to] = true
				progressed = true
			} else if visited[e.to] && !visited[e.from] {
				from += fmt.Sprintf(" JOIN %q ON %s = %s", e.from, filter.QuoteQualified(e.to, e.toCol), filter.QuoteQualified(e.from, e.fromCol))
				visited[e.from] = true
				progressed = true
			}
		}
		if !progressed {
			return "", xerrors.Schema("planner.buildJoinSQL", fmt.Sprintf("view %q: no foreign-key path joins all declared tables", v.Name), nil)
		}
	}
	return from, nil
}

// projection renders the SELECT list for a target: every declared view
// field (aliased), or every column of a plain table.
func (t *target) projection(v schema.View) string {
	if !t.isView {
		return "*"
	}
	out := ""
	first := true
	for alias, ref := range v.Fields {
		if !first {
			out += ", "
		}
		out += fmt.Sprintf("%s AS %q", filter.QuoteQualified(ref.Table, ref.Column), alias)
		first = false
	}
	return out
}

// Select executes a plain filtered read (spec.md §4.3/§6 .select()).
func (p *Planner) Select(targetName string, f filter.Filter, topk int) (Result, error) {
	t, err := p.resolveTarget(targetName)
	if err != nil {
		return Result{}, err
	}
	if !t.isView {
		rows, err := p.store.Select(targetName, withLimit(f, topk), nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Data: rows}, nil
	}

	pk := t.viewDef.View.IDAlias
	compiled, err := filter.CompileWithResolver(f, pk, t.resolver)
	if err != nil {
		return Result{}, err
	}
	if compiled.Vacuous {
		return Result{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s", t.projection(t.viewDef.View), t.fromSQL)
	if compiled.Where != "" {
		query += " WHERE " + compiled.Where
	}
	if pk != "" {
		query += " ORDER BY " + filter.CompileOrderWithResolver(f, pk, t.resolver)
	}
	f2 := withLimit(f, topk)
	if n, has := f2.LimitValue(); has {
		query += fmt.Sprintf(" LIMIT %d", n)
	}
	rows, err := p.store.Raw(query, compiled.Args)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: rows}, nil
}

func withLimit(f filter.Filter, topk int) filter.Filter {
	if topk > 0 {
		if _, has := f.LimitValue(); !has {
			return f.Limit(topk)
		}
	}
	return f
}

// candidateIDs returns C per spec.md §4.5: nil+false means unrestricted
// ("ALL"), otherwise the concrete id list (possibly empty).
func (p *Planner) candidateIDs(t *target, f filter.Filter) ([]int64, bool, error) {
	if !t.isView {
		return p.store.FilteredIDs(t.name, f)
	}
	if !f.HasPredicates() {
		return nil, false, nil
	}
	pk := t.viewDef.View.IDAlias
	compiled, err := filter.CompileWithResolver(f, pk, t.resolver)
	if err != nil {
		return nil, true, err
	}
	if compiled.Vacuous {
		return []int64{}, true, nil
	}
	if t.pkSQLRef == "" {
		return nil, true, xerrors.Schema("planner.candidateIDs", fmt.Sprintf("view %q has no id_alias for vector/keyword search", t.name), nil)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", t.pkSQLRef, t.fromSQL)
	if compiled.Where != "" {
		query += " WHERE " + compiled.Where
	}
	rows, err := p.store.Raw(query, compiled.Args)
	if err != nil {
		return nil, true, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		for _, v := range r {
			if id, ok := toInt64(v); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, true, nil
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

// resolveColumnRef maps a caller-named search column to its (table, column)
// backing store, following a view's field alias when targetName is a view.
func (p *Planner) resolveColumnRef(t *target, column string) (table, col string, err error) {
	if !t.isView {
		return t.name, column, nil
	}
	ref, ok := t.viewDef.View.Fields[column]
	if !ok {
		return "", "", xerrors.Schema("planner.resolveColumnRef", fmt.Sprintf("view %q has no field %q", t.name, column), nil)
	}
	return ref.Table, ref.Column, nil
}

// projectByIDs fetches and returns rows for ids, preserving the requested
// order of ids (needed since search results rank by score, not by pk).
func (p *Planner) projectByIDs(t *target, ids []int64) ([]relstore.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	var rows []relstore.Row
	var err error
	if !t.isView {
		pk, _ := t.table.PrimaryKey()
		f := filter.Filter{}.In(pk.Name, values)
		rows, err = p.store.Select(t.name, f, nil)
	} else {
		pk := t.viewDef.View.IDAlias
		f := filter.Filter{}.In(pk, values)
		compiled, cerr := filter.CompileWithResolver(f, pk, t.resolver)
		if cerr != nil {
			return nil, cerr
		}
		query := fmt.Sprintf("SELECT %s FROM %s", t.projection(t.viewDef.View), t.fromSQL)
		if compiled.Where != "" {
			query += " WHERE " + compiled.Where
		}
		rows, err = p.store.Raw(query, compiled.Args)
	}
	if err != nil {
		return nil, err
	}

	idKey := t.pkProjectionKey()
	byID := make(map[int64]relstore.Row, len(rows))
	for _, r := range rows {
		if id, ok := toInt64(r[idKey]); ok {
			byID[id] = r
		}
	}
	out := make([]relstore.Row, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *target) pkProjectionKey() string {
	if t.isView {
		return t.viewDef.View.IDAlias
	}
	pk, _ := t.table.PrimaryKey()
	return pk.Name
}

// KeywordSearch implements spec.md §4.5's keyword_search.
func (p *Planner) KeywordSearch(ctx context.Context, targetName, column, query string, f filter.Filter, topk int) (Result, error) {
	timer := xlog.StartTimer(xlog.CategoryPlanner, "KeywordSearch")
	defer timer.Stop()

	t, err := p.resolveTarget(targetName)
	if err != nil {
		return Result{}, err
	}
	table, col, err := p.resolveColumnRef(t, column)
	if err != nil {
		return Result{}, err
	}
	idx, ok := p.fts.Get(table, col)
	if !ok {
		return Result{}, xerrors.Schema("planner.KeywordSearch", fmt.Sprintf("%s.%s is not fts-enabled", table, col), nil)
	}

	candidates, restricted, err := p.candidateIDs(t, f)
	if err != nil {
		return Result{}, err
	}
	if restricted && len(candidates) == 0 {
		return Result{}, nil
	}

	var scope []int64
	if restricted {
		scope = candidates
	}
	hits, err := idx.Search(query, scope, topk)
	if err != nil {
		return Result{}, err
	}

	ids := make([]int64, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.RowID
		scores[i] = h.Score
	}
	rows, err := p.projectByIDs(t, ids)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: rows, Scores: scores}, nil
}

// VectorSearch implements spec.md §4.5's vector_search.
func (p *Planner) VectorSearch(ctx context.Context, targetName, column, query string, f filter.Filter, topk int) (Result, error) {
	timer := xlog.StartTimer(xlog.CategoryPlanner, "VectorSearch")
	defer timer.Stop()

	t, err := p.resolveTarget(targetName)
	if err != nil {
		return Result{}, err
	}
	table, col, err := p.resolveColumnRef(t, column)
	if err != nil {
		return Result{}, err
	}
	vf, ok := p.vectors.Get(table, col)
	if !ok {
		return Result{}, xerrors.Schema("planner.VectorSearch", fmt.Sprintf("%s.%s is not vector-enabled", table, col), nil)
	}

	colDef, _ := p.sch.Tables[table].Column(col)
	if colDef.Embedding == nil {
		return Result{}, xerrors.Schema("planner.VectorSearch", fmt.Sprintf("%s.%s has no embedding config", table, col), nil)
	}
	emb, ok := p.embedders[colDef.Embedding.Embedder]
	if !ok {
		return Result{}, xerrors.Embedder("planner.VectorSearch", fmt.Errorf("no embedder registered for %q", colDef.Embedding.Embedder))
	}

	vecs, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return Result{}, err
	}
	q := vecs[0]

	candidates, restricted, err := p.candidateIDs(t, f)
	if err != nil {
		return Result{}, err
	}
	if restricted && len(candidates) == 0 {
		return Result{}, nil
	}

	var allow map[int64]bool
	if restricted {
		allow = make(map[int64]bool, len(candidates))
		for _, id := range candidates {
			allow[id] = true
		}
	}

	records, err := vf.IterLive()
	if err != nil {
		return Result{}, err
	}

	type scored struct {
		id    int64
		score float64
	}
	var scoredRows []scored
	for _, rec := range records {
		if allow != nil && !allow[rec.RowID] {
			continue
		}
		score := vectorfile.CosineSimilarity(q, rec.Vector)
		scoredRows = append(scoredRows, scored{id: rec.RowID, score: score})
	}
	sort.Slice(scoredRows, func(i, j int) bool {
		if scoredRows[i].score != scoredRows[j].score {
			return scoredRows[i].score > scoredRows[j].score
		}
		return scoredRows[i].id < scoredRows[j].id
	})
	if topk > 0 && len(scoredRows) > topk {
		scoredRows = scoredRows[:topk]
	}

	ids := make([]int64, len(scoredRows))
	scores := make([]float64, len(scoredRows))
	for i, sr := range scoredRows {
		ids[i] = sr.id
		scores[i] = sr.score
	}
	rows, err := p.projectByIDs(t, ids)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: rows, Scores: scores}, nil
}

// HybridSearch implements spec.md §4.5's hybrid_search: min-max normalized
// score fusion across top-M keyword and vector hits, not reciprocal-rank
// fusion.
func (p *Planner) HybridSearch(ctx context.Context, targetName, column, query string, f filter.Filter, topk int, alpha float64) (Result, error) {
	timer := xlog.StartTimer(xlog.CategoryPlanner, "HybridSearch")
	defer timer.Stop()

	m := topk * 4
	if m < 50 {
		m = 50
	}

	kwResult, err := p.KeywordSearch(ctx, targetName, column, query, f, m)
	if err != nil {
		return Result{}, err
	}
	vecResult, err := p.VectorSearch(ctx, targetName, column, query, f, m)
	if err != nil {
		return Result{}, err
	}

	t, err := p.resolveTarget(targetName)
	if err != nil {
		return Result{}, err
	}
	idKey := t.pkProjectionKey()

	kwScores := make(map[int64]float64, len(kwResult.Data))
	for i, r := range kwResult.Data {
		if id, ok := toInt64(r[idKey]); ok {
			kwScores[id] = kwResult.Scores[i]
		}
	}
	vecScores := make(map[int64]float64, len(vecResult.Data))
	rowByID := make(map[int64]relstore.Row, len(vecResult.Data))
	for i, r := range vecResult.Data {
		if id, ok := toInt64(r[idKey]); ok {
			vecScores[id] = vecResult.Scores[i]
			rowByID[id] = r
		}
	}
	for _, r := range kwResult.Data {
		if id, ok := toInt64(r[idKey]); ok {
			if _, exists := rowByID[id]; !exists {
				rowByID[id] = r
			}
		}
	}

	// SQLite's bm25() is lower-is-better; ftsindex.Search already returns it
	// that way, so normalize as "closer to the minimum is better" here.
	kwNorm := minMaxNormalize(kwScores, true)
	vecNorm := minMaxNormalize(vecScores, false)

	type fused struct {
		id       int64
		score    float64
		vecScore float64
	}
	seen := make(map[int64]bool, len(rowByID))
	var all []fused
	for id := range rowByID {
		if seen[id] {
			continue
		}
		seen[id] = true
		vn := vecNorm[id] // 0 if absent
		kn := kwNorm[id]
		all = append(all, fused{id: id, score: alpha*vn + (1-alpha)*kn, vecScore: vecScores[id]})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].vecScore != all[j].vecScore {
			return all[i].vecScore > all[j].vecScore
		}
		return all[i].id < all[j].id
	})
	if topk > 0 && len(all) > topk {
		all = all[:topk]
	}

	rows := make([]relstore.Row, len(all))
	scores := make([]float64, len(all))
	for i, fr := range all {
		rows[i] = rowByID[fr.id]
		scores[i] = fr.score
	}
	return Result{Data: rows, Scores: scores}, nil
}

// minMaxNormalize scales scores into [0,1]. A constant list normalizes to
// 1.0 (spec.md §4.5). invert treats a lower raw score as better (bm25).
func minMaxNormalize(scores map[int64]float64, invert bool) map[int64]float64 {
	out := make(map[int64]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	for id, s := range scores {
		if max == min {
			out[id] = 1.0
			continue
		}
		n := (s - min) / (max - min)
		if invert {
			n = 1 - n
		}
		out[id] = n
	}
	return out
}
