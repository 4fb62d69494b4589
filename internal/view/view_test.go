package view

import (
	"errors"
	"testing"

	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
)

func baseSchema() *schema.Schema {
	s := schema.New()
	_ = s.AddTable(schema.Table{
		Name: "authors",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PK: true},
			{Name: "name", Type: schema.TypeText},
		},
	})
	_ = s.AddTable(schema.Table{
		Name: "docs",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PK: true},
			{Name: "title", Type: schema.TypeText},
			{Name: "author_id", Type: schema.TypeInteger},
		},
		ForeignKeys: []schema.ForeignKey{
			{Column: "author_id", RefTable: "authors", RefColumn: "id"},
		},
	})
	_ = s.AddTable(schema.Table{
		Name: "orphan",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PK: true},
		},
	})
	return s
}

func TestResolver_RegistersConnectedView(t *testing.T) {
	s := baseSchema()
	_ = s.AddView(schema.View{
		Name:   "doc_with_author",
		Tables: []string{"docs", "authors"},
		Fields: map[string]schema.FieldRef{
			"doc_id":   {Table: "docs", Column: "id"},
			"title":    {Table: "docs", Column: "title"},
			"author":   {Table: "authors", Column: "name"},
		},
		IDAlias: "doc_id",
	})

	r, err := New(s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolved, ok := r.Get("doc_with_author")
	if !ok {
		t.Fatal("expected doc_with_author to be registered")
	}
	if resolved.VectorTable != "docs" || resolved.VectorColumn != "id" {
		t.Errorf("id_alias should resolve to docs.id, got %s.%s", resolved.VectorTable, resolved.VectorColumn)
	}
}

func TestResolver_RejectsDisconnectedJoin(t *testing.T) {
	s := baseSchema()
	_ = s.AddView(schema.View{
		Name:   "bad_join",
		Tables: []string{"docs", "orphan"},
		Fields: map[string]schema.FieldRef{
			"title": {Table: "docs", Column: "title"},
		},
	})

	_, err := New(s)
	if err == nil {
		t.Fatal("expected a disconnected-join view to fail registration")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		if !xerrors.Is(err, xerrors.KindSchema) {
			t.Fatalf("expected a schema error, got %v", err)
		}
		return
	}
	if ve.Kind != DisconnectedJoin {
		t.Errorf("expected DisconnectedJoin, got %v", ve.Kind)
	}
}

func TestResolver_RejectsUnknownTable(t *testing.T) {
	s := baseSchema()
	_ = s.AddView(schema.View{
		Name:   "ghost",
		Tables: []string{"ghost_table"},
	})
	if _, err := New(s); err == nil {
		t.Fatal("expected registering a view over an unknown table to fail")
	}
}

func TestResolver_RejectsIDAliasNotPrimaryKey(t *testing.T) {
	s := baseSchema()
	_ = s.AddView(schema.View{
		Name:   "bad_alias",
		Tables: []string{"docs"},
		Fields: map[string]schema.FieldRef{
			"title": {Table: "docs", Column: "title"},
		},
		IDAlias: "title", // not the primary key
	})
	if _, err := New(s); err == nil {
		t.Fatal("expected an id_alias that isn't the table's primary key to fail registration")
	}
}

func TestUnionFind_TransitiveConnectivity(t *testing.T) {
	uf := newUnionFind([]string{"a", "b", "c"})
	uf.union("a", "b")
	uf.union("b", "c")
	if uf.find("a") != uf.find("c") {
		t.Fatal("expected a and c to be transitively connected via b")
	}
}
