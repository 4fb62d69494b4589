package ftsindex

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func mustDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE docs (id INTEGER PRIMARY KEY, title TEXT)`); err != nil {
		t.Fatalf("create base table: %v", err)
	}
	return db
}

func TestIndex_SearchFindsInsertedRow(t *testing.T) {
	db := mustDB(t)
	idx, err := Open(db, "docs", "title", DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	res, err := db.Exec(`INSERT INTO docs (title) VALUES ('the quick brown fox')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id, _ := res.LastInsertId()

	hits, err := idx.Search("quick fox", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RowID != id {
		t.Fatalf("expected a single hit for row %d, got %v", id, hits)
	}
}

func TestIndex_TriggersTrackUpdateAndDelete(t *testing.T) {
	db := mustDB(t)
	idx, err := Open(db, "docs", "title", DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	res, _ := db.Exec(`INSERT INTO docs (title) VALUES ('original text')`)
	id, _ := res.LastInsertId()

	if _, err := db.Exec(`UPDATE docs SET title = 'updated wording' WHERE id = ?`, id); err != nil {
		t.Fatalf("update: %v", err)
	}
	hits, err := idx.Search("original", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected the stale term to no longer match after update, got %v", hits)
	}
	hits, err = idx.Search("updated", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected the new term to match after update, got %v", hits)
	}

	if _, err := db.Exec(`DELETE FROM docs WHERE id = ?`, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	hits, err = idx.Search("updated", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after the base row was deleted, got %v", hits)
	}
}

func TestIndex_SearchRestrictsToCandidateIDs(t *testing.T) {
	db := mustDB(t)
	idx, err := Open(db, "docs", "title", DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	res1, _ := db.Exec(`INSERT INTO docs (title) VALUES ('apple banana')`)
	id1, _ := res1.LastInsertId()
	res2, _ := db.Exec(`INSERT INTO docs (title) VALUES ('apple cherry')`)
	id2, _ := res2.LastInsertId()

	hits, err := idx.Search("apple", []int64{id2}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RowID != id2 {
		t.Fatalf("expected the candidate restriction to keep only row %d, got %v (sibling %d excluded)", id2, hits, id1)
	}
}

func TestSanitizeMatchQuery(t *testing.T) {
	if got := sanitizeMatchQuery(""); got != "" {
		t.Errorf("empty query should sanitize to empty, got %q", got)
	}
	if got := sanitizeMatchQuery(`foo"bar baz`); got != `"foo""bar" "baz"` {
		t.Errorf("sanitizeMatchQuery = %q, want quoted+escaped tokens", got)
	}
}
