// Package ftsindex implements InvertedIndex (spec.md §4.2): one fts5
// virtual table per fts-enabled column, kept in sync with its base table by
// AFTER INSERT/DELETE/UPDATE triggers, queried through SQLite's bm25()
// ranking function. Grounded on the content/content_rowid/trigger pattern
// used across the retrieval-engine examples in the pack (teamcontext's
// files_fts, sqvect's chunks_fts).
package ftsindex

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Index owns the fts5 virtual table for one (table, column) pair. The base
// table's primary key must be an INTEGER PRIMARY KEY so it aliases SQLite's
// rowid -- that's what lets content_rowid='rowid' keep the shadow table and
// the base table's row identity in lockstep.
type Index struct {
	db        *sql.DB
	table     string
	column    string
	ftsTable  string
	k1, b     float64
}

// Config holds the two numbers Search passes to FTS5's bm25() after the
// table name. bm25() reads those arguments as per-column weights, not as
// BM25 parameters: K1 weights the single indexed column (scaling every
// score alike, so the ranking order is unchanged) and B falls past the last
// column and is ignored. FTS5 itself fixes k1=1.2 and b=0.75, and these
// values do not change them.
type Config struct {
	K1 float64
	B  float64
}

func DefaultConfig() Config { return Config{K1: 1.2, B: 0.75} }

// Open creates (if missing) the fts5 virtual table and sync triggers for
// table.column, then returns a handle for Search.
func Open(db *sql.DB, table, column string, cfg Config) (*Index, error) {
	ftsTable := fmt.Sprintf("%s__%s_fts", table, column)
	idx := &Index{db: db, table: table, column: column, ftsTable: ftsTable, k1: cfg.K1, b: cfg.B}

	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %q USING fts5(%q, content=%q, content_rowid='rowid')`,
		ftsTable, column, table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, xerrors.Storage("ftsindex.Open", fmt.Errorf("create fts5 table %s: %w", ftsTable, err), false)
	}

	if err := idx.createTriggers(); err != nil {
		return nil, err
	}
	xlog.Get(xlog.CategoryFTSIndex).Info("opened fts index %s on %s.%s", ftsTable, table, column)
	return idx, nil
}

func (idx *Index) createTriggers() error {
	aiName := fmt.Sprintf("%s_ai", idx.ftsTable)
	adName := fmt.Sprintf("%s_ad", idx.ftsTable)
	auName := fmt.Sprintf("%s_au", idx.ftsTable)

	stmts := []string{
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %q AFTER INSERT ON %q BEGIN
			INSERT INTO %q(rowid, %q) VALUES (new.rowid, new.%q);
		END`, aiName, idx.table, idx.ftsTable, idx.column, idx.column),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %q AFTER DELETE ON %q BEGIN
			INSERT INTO %q(%q, rowid, %q) VALUES ('delete', old.rowid, old.%q);
		END`, adName, idx.table, idx.ftsTable, idx.ftsTable, idx.column, idx.column),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %q AFTER UPDATE ON %q BEGIN
			INSERT INTO %q(%q, rowid, %q) VALUES ('delete', old.rowid, old.%q);
			INSERT INTO %q(rowid, %q) VALUES (new.rowid, new.%q);
		END`, auName, idx.table, idx.ftsTable, idx.ftsTable, idx.column, idx.column, idx.ftsTable, idx.column, idx.column),
	}
	for _, s := range stmts {
		if _, err := idx.db.Exec(s); err != nil {
			return xerrors.Storage("ftsindex.createTriggers", fmt.Errorf("%s: %w", idx.ftsTable, err), false)
		}
	}
	return nil
}

// Hit is one keyword-search match: the base table's rowid and its bm25
// score (lower is a better match, matching SQLite's bm25() convention;
// planner negates/normalizes it before fusion).
type Hit struct {
	RowID int64
	Score float64
}

// Search runs a MATCH query against query, restricted to rowid values in
// candidateIDs when it is non-empty; a nil or empty slice leaves the search
// unrestricted (the planner uses this to intersect keyword
// search with a prior filter pass without re-deriving SQL).
func (idx *Index) Search(query string, candidateIDs []int64, limit int) ([]Hit, error) {
	sanitized := sanitizeMatchQuery(query)
	if sanitized == "" {
		return nil, nil
	}

	sql := fmt.Sprintf(`SELECT rowid, bm25(%q, %f, %f) AS score FROM %q WHERE %q MATCH ?`,
		idx.ftsTable, idx.k1, idx.b, idx.ftsTable, idx.ftsTable)
	args := []interface{}{sanitized}

	if len(candidateIDs) > 0 {
		placeholders := make([]string, len(candidateIDs))
		for i, id := range candidateIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		sql += fmt.Sprintf(" AND rowid IN (%s)", strings.Join(placeholders, ","))
	}
	sql += " ORDER BY score ASC, rowid ASC"
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := idx.db.Query(sql, args...)
	if err != nil {
		return nil, xerrors.Storage("ftsindex.Search", err, true)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.RowID, &h.Score); err != nil {
			return nil, xerrors.Storage("ftsindex.Search", err, false)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// sanitizeMatchQuery escapes fts5 query-syntax characters a caller's free
// text might accidentally trigger (unbalanced quotes, leading NOT/column
// filters) by quoting each token and re-joining with implicit AND, the same
// defensive posture the pack's hybrid-search examples take before handing a
// user string to MATCH.
func sanitizeMatchQuery(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted[i] = fmt.Sprintf(`"%s"`, f)
	}
	return strings.Join(quoted, " ")
}

// Drop removes the fts5 table and its sync triggers, used when a column is
// demoted out of fts (not currently exposed by the public schema builder,
// kept for administrative/test use).
func (idx *Index) Drop() error {
	stmts := []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %q", fmt.Sprintf("%s_ai", idx.ftsTable)),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %q", fmt.Sprintf("%s_ad", idx.ftsTable)),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %q", fmt.Sprintf("%s_au", idx.ftsTable)),
		fmt.Sprintf("DROP TABLE IF EXISTS %q", idx.ftsTable),
	}
	for _, s := range stmts {
		if _, err := idx.db.Exec(s); err != nil {
			return xerrors.Storage("ftsindex.Drop", err, false)
		}
	}
	return nil
}
