// Package view implements ViewResolver (spec.md §4.7): registers
// declarative views, validates their field references and join
// connectivity, and rewrites a query issued against a view into a query
// against its base tables.
package view

import (
	"fmt"

	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
)

// FailureKind enumerates the validation failures spec.md §4.7 names.
type FailureKind string

const (
	UnknownTable     FailureKind = "unknown_table"
	UnknownField     FailureKind = "unknown_field"
	DisconnectedJoin FailureKind = "disconnected_join"
	MissingVectorId  FailureKind = "missing_vector_id"
)

// ValidationError reports why a view failed registration.
type ValidationError struct {
	Kind FailureKind
	View string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("view %q: %s: %s", e.View, e.Kind, e.Msg)
}

// Resolved is a registered, validated view ready for query rewriting.
type Resolved struct {
	View         schema.View
	VectorTable  string // table backing the id alias, if any
	VectorColumn string // the PK column on VectorTable
}

// Resolver owns every registered view, keyed by name.
type Resolver struct {
	schema *schema.Schema
	views  map[string]*Resolved
}

// New creates a Resolver bound to s. Every view already present in s is
// validated immediately; an invalid view in the schema is a programmer
// error surfaced at construction rather than deferred to first query.
func New(s *schema.Schema) (*Resolver, error) {
	r := &Resolver{schema: s, views: make(map[string]*Resolved)}
	for _, v := range s.Views {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates v against the schema and adds it to the resolver.
func (r *Resolver) Register(v schema.View) error {
	if len(v.Tables) == 0 {
		return xerrors.Schema("view.Register", fmt.Sprintf("view %q declares no tables", v.Name), &ValidationError{Kind: UnknownTable, View: v.Name, Msg: "no participating tables"})
	}
	for _, tname := range v.Tables {
		if _, ok := r.schema.Tables[tname]; !ok {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q references unknown table %q", v.Name, tname),
				&ValidationError{Kind: UnknownTable, View: v.Name, Msg: tname})
		}
	}

	for alias, ref := range v.Fields {
		t, ok := r.schema.Tables[ref.Table]
		if !ok {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q field %q references unknown table %q", v.Name, alias, ref.Table),
				&ValidationError{Kind: UnknownTable, View: v.Name, Msg: ref.Table})
		}
		if _, ok := t.Column(ref.Column); !ok {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q field %q references unknown column %s.%s", v.Name, alias, ref.Table, ref.Column),
				&ValidationError{Kind: UnknownField, View: v.Name, Msg: fmt.Sprintf("%s.%s", ref.Table, ref.Column)})
		}
	}

	if len(v.Tables) > 1 {
		if !connected(r.schema, v.Tables) {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q's tables are not connected by declared foreign keys", v.Name),
				&ValidationError{Kind: DisconnectedJoin, View: v.Name, Msg: fmt.Sprintf("%v", v.Tables)})
		}
	}

	resolved := &Resolved{View: v}
	if v.IDAlias != "" {
		ref, ok := v.Fields[v.IDAlias]
		if !ok {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q id_alias %q has no field mapping", v.Name, v.IDAlias),
				&ValidationError{Kind: MissingVectorId, View: v.Name, Msg: v.IDAlias})
		}
		t, ok := r.schema.Tables[ref.Table]
		if !ok {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q id_alias table %q unknown", v.Name, ref.Table),
				&ValidationError{Kind: MissingVectorId, View: v.Name, Msg: ref.Table})
		}
		pk, ok := t.PrimaryKey()
		if !ok || pk.Name != ref.Column {
			return xerrors.Schema("view.Register", fmt.Sprintf("view %q id_alias %q does not resolve to %s's primary key", v.Name, v.IDAlias, ref.Table),
				&ValidationError{Kind: MissingVectorId, View: v.Name, Msg: fmt.Sprintf("%s.%s", ref.Table, ref.Column)})
		}
		resolved.VectorTable = ref.Table
		resolved.VectorColumn = ref.Column
	}

	r.views[v.Name] = resolved
	return nil
}

// Get returns the resolved view by name.
func (r *Resolver) Get(name string) (*Resolved, bool) {
	res, ok := r.views[name]
	return res, ok
}

// connected reports whether every table in tables is reachable from the
// others via declared foreign-key edges, using union-find per spec.md §9.
func connected(s *schema.Schema, tables []string) bool {
	uf := newUnionFind(tables)
	for _, tname := range tables {
		t, ok := s.Tables[tname]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if uf.has(fk.RefTable) {
				uf.union(tname, fk.RefTable)
			}
		}
	}
	root := uf.find(tables[0])
	for _, tname := range tables[1:] {
		if uf.find(tname) != root {
			return false
		}
	}
	return true
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind(items []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(items))}
	for _, it := range items {
		uf.parent[it] = it
	}
	return uf
}

func (uf *unionFind) has(item string) bool {
	_, ok := uf.parent[item]
	return ok
}

func (uf *unionFind) find(item string) string {
	root := item
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	// path compression
	for uf.parent[item] != root {
		next := uf.parent[item]
		uf.parent[item] = root
		item = next
	}
	return root
}

func (uf *unionFind) union(a, b string) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
