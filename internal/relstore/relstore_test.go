package relstore

import (
	"path/filepath"
	"testing"

	"github.com/lucasastorian/hybridstore/internal/filter"
	"github.com/lucasastorian/hybridstore/internal/schema"
)

func testSchema() *schema.Schema {
	s := schema.New()
	s.AddTable(schema.Table{
		Name: "docs",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PK: true},
			{Name: "title", Type: schema.TypeText, FTS: true},
			{Name: "age", Type: schema.TypeInteger},
		},
	})
	return s
}

func mustOpen(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "test.db"), testSchema())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertAndSelect(t *testing.T) {
	store := mustOpen(t)

	id, err := store.Insert("docs", Row{"title": "hello world", "age": 30})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero assigned primary key")
	}

	rows, err := store.Select("docs", filter.Filter{}.Eq("id", id), nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["title"] != "hello world" {
		t.Errorf("title = %v, want %q", rows[0]["title"], "hello world")
	}
}

func TestStore_SelectWithVacuousFilterReturnsNoRows(t *testing.T) {
	store := mustOpen(t)
	if _, err := store.Insert("docs", Row{"title": "a", "age": 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rows, err := store.Select("docs", filter.Filter{}.In("id", nil), nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected a vacuous filter to short-circuit to 0 rows, got %d", len(rows))
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	store := mustOpen(t)
	id, err := store.Insert("docs", Row{"title": "a", "age": 1})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := store.Update("docs", filter.Filter{}.Eq("id", id), Row{"age": 99})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}

	rows, err := store.Select("docs", filter.Filter{}.Eq("id", id), []string{"age"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := rows[0]["age"]; got != int64(99) {
		t.Errorf("age after update = %v, want 99", got)
	}

	n, err = store.Delete("docs", filter.Filter{}.Eq("id", id))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}

	exists, err := store.RowExists("docs", id)
	if err != nil {
		t.Fatalf("RowExists: %v", err)
	}
	if exists {
		t.Fatal("row should no longer exist after Delete")
	}
}

func TestStore_InsertTxRollback(t *testing.T) {
	store := mustOpen(t)

	tx, err := store.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := store.InsertTx(tx, "docs", Row{"title": "rolled back", "age": 1})
	if err != nil {
		store.EndBegin()
		t.Fatalf("InsertTx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	store.EndBegin()

	exists, err := store.RowExists("docs", id)
	if err != nil {
		t.Fatalf("RowExists: %v", err)
	}
	if exists {
		t.Fatal("a rolled-back tx insert should not be visible")
	}
}

func TestStore_FilteredIDsUnrestrictedReturnsNotRestricted(t *testing.T) {
	store := mustOpen(t)
	if _, err := store.Insert("docs", Row{"title": "a", "age": 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ids, restricted, err := store.FilteredIDs("docs", filter.Filter{})
	if err != nil {
		t.Fatalf("FilteredIDs: %v", err)
	}
	if restricted {
		t.Fatal("an empty filter should report unrestricted (ALL), not a concrete id list")
	}
	if ids != nil {
		t.Errorf("expected a nil id list for an unrestricted filter, got %v", ids)
	}
}

func TestStore_FilteredIDsSelective(t *testing.T) {
	store := mustOpen(t)
	id1, _ := store.Insert("docs", Row{"title": "a", "age": 1})
	_, _ = store.Insert("docs", Row{"title": "b", "age": 2})

	ids, restricted, err := store.FilteredIDs("docs", filter.Filter{}.Eq("age", 1))
	if err != nil {
		t.Fatalf("FilteredIDs: %v", err)
	}
	if !restricted {
		t.Fatal("a selective filter should report restricted")
	}
	if len(ids) != 1 || ids[0] != id1 {
		t.Errorf("FilteredIDs = %v, want [%d]", ids, id1)
	}
}

func TestStore_RegexpFunction(t *testing.T) {
	store := mustOpen(t)
	if _, err := store.Insert("docs", Row{"title": "foo123", "age": 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Insert("docs", Row{"title": "nomatch", "age": 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rows, err := store.Select("docs", filter.Filter{}.Regex("title", `foo\d+`), nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row to match the regexp, got %d", len(rows))
	}
}
