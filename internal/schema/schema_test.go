package schema

import "testing"

func TestSchema_AddTableRequiresPrimaryKey(t *testing.T) {
	s := New()
	err := s.AddTable(Table{
		Name:    "docs",
		Columns: []Column{{Name: "title", Type: TypeText}},
	})
	if err == nil {
		t.Fatal("expected AddTable to reject a table with no primary_key column")
	}
}

func TestSchema_AddTableRejectsDuplicateName(t *testing.T) {
	s := New()
	tbl := Table{Name: "docs", Columns: []Column{{Name: "id", Type: TypeInteger, PK: true}}}
	if err := s.AddTable(tbl); err != nil {
		t.Fatalf("AddTable: %v", err)
	}
	if err := s.AddTable(tbl); err == nil {
		t.Fatal("expected AddTable to reject a duplicate table name")
	}
}

func TestTable_VectorAndFTSColumns(t *testing.T) {
	tbl := Table{
		Name: "docs",
		Columns: []Column{
			{Name: "id", Type: TypeInteger, PK: true},
			{Name: "title", Type: TypeText, FTS: true},
			{Name: "embedding", Type: TypeBlob, Vector: true, Embedding: &EmbeddingConfig{Embedder: "ollama", Dimension: 4}},
		},
	}
	if got := tbl.VectorColumns(); len(got) != 1 || got[0].Name != "embedding" {
		t.Errorf("VectorColumns = %v, want [embedding]", got)
	}
	if got := tbl.FTSColumns(); len(got) != 1 || got[0].Name != "title" {
		t.Errorf("FTSColumns = %v, want [title]", got)
	}
	pk, ok := tbl.PrimaryKey()
	if !ok || pk.Name != "id" {
		t.Errorf("PrimaryKey = (%v, %v), want (id, true)", pk, ok)
	}
}

func TestSchema_LoadAndMarshalRoundTrip(t *testing.T) {
	s := New()
	_ = s.AddTable(Table{
		Name: "docs",
		Columns: []Column{
			{Name: "id", Type: TypeInteger, PK: true},
			{Name: "title", Type: TypeText, FTS: true},
		},
	})

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	loaded, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tbl, ok := loaded.Tables["docs"]
	if !ok {
		t.Fatal("expected docs table to round-trip")
	}
	if _, ok := tbl.Column("title"); !ok {
		t.Error("expected title column to round-trip")
	}
}

func TestSchema_LoadInitializesNilMaps(t *testing.T) {
	s, err := Load([]byte(`{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Tables == nil || s.Views == nil {
		t.Fatal("Load should initialize empty Tables/Views maps even for an empty document")
	}
}
