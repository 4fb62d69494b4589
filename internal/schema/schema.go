// Package schema holds the declarative data model: tables, columns, and
// views. Schemas are built with plain functions producing descriptor
// records (see Table, Column, View below) rather than struct tags or
// code generation, and can optionally be loaded from YAML via Load.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ColumnType is the semantic type of a column (spec.md §3).
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeText    ColumnType = "text"
	TypeBoolean ColumnType = "boolean"
	TypeReal    ColumnType = "real"
	TypeBlob    ColumnType = "blob"
	TypeJSON    ColumnType = "json"
)

// EmbeddingConfig names the Embedder to use for a vector-enabled column and
// its fixed dimension D (spec.md §3, invariant I5).
type EmbeddingConfig struct {
	Embedder  string `yaml:"embedder" json:"embedder"`
	Dimension int    `yaml:"dimension" json:"dimension"`
}

// Column describes one column of a Table.
type Column struct {
	Name      string     `yaml:"name" json:"name"`
	Type      ColumnType `yaml:"type" json:"type"`
	PK        bool       `yaml:"primary_key" json:"primary_key"`
	Index     bool       `yaml:"index" json:"index"`
	FTS       bool       `yaml:"fts" json:"fts"`
	Vector    bool       `yaml:"vector" json:"vector"`
	Embedding *EmbeddingConfig `yaml:"embedding,omitempty" json:"embedding,omitempty"`
}

// ForeignKey declares a FK edge from Column on the owning table to
// RefTable.RefColumn, used by the ViewResolver's join-connectivity check.
type ForeignKey struct {
	Column    string `yaml:"column" json:"column"`
	RefTable  string `yaml:"ref_table" json:"ref_table"`
	RefColumn string `yaml:"ref_column" json:"ref_column"`
}

// Table is an ordered list of columns plus a designated integer primary key.
type Table struct {
	Name        string       `yaml:"name" json:"name"`
	Columns     []Column     `yaml:"columns" json:"columns"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty" json:"foreign_keys,omitempty"`
}

// PrimaryKey returns the table's PK column, or ("", false) if none declared.
func (t Table) PrimaryKey() (Column, bool) {
	for _, c := range t.Columns {
		if c.PK {
			return c, true
		}
	}
	return Column{}, false
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// VectorColumns returns every vector-enabled column on the table.
func (t Table) VectorColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.Vector {
			out = append(out, c)
		}
	}
	return out
}

// FTSColumns returns every fts-enabled column on the table.
func (t Table) FTSColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.FTS {
			out = append(out, c)
		}
	}
	return out
}

// FieldRef names a (table, column) pair a view alias resolves to.
type FieldRef struct {
	Table  string `yaml:"table" json:"table"`
	Column string `yaml:"column" json:"column"`
}

// View is a named projection over joined base tables (spec.md §3, flat
// views only — a view never references another view).
type View struct {
	Name    string              `yaml:"name" json:"name"`
	Tables  []string            `yaml:"tables" json:"tables"`
	Fields  map[string]FieldRef `yaml:"fields" json:"fields"`
	// IDAlias, when set, is the projection alias that resolves to the
	// vector-bearing table's primary key (spec.md I4).
	IDAlias string `yaml:"id_alias" json:"id_alias"`
}

// Schema maps table and view names to their descriptors.
type Schema struct {
	Tables map[string]Table `yaml:"tables" json:"tables"`
	Views  map[string]View  `yaml:"views" json:"views"`
}

// New builds an empty schema ready for Table/View registration.
func New() *Schema {
	return &Schema{Tables: make(map[string]Table), Views: make(map[string]View)}
}

// AddTable registers a table descriptor, returning an error if the name is
// already taken or no primary key is declared.
func (s *Schema) AddTable(t Table) error {
	if t.Name == "" {
		return fmt.Errorf("schema: table must have a name")
	}
	if _, exists := s.Tables[t.Name]; exists {
		return fmt.Errorf("schema: table %q already registered", t.Name)
	}
	if _, ok := t.PrimaryKey(); !ok {
		return fmt.Errorf("schema: table %q has no primary_key column", t.Name)
	}
	s.Tables[t.Name] = t
	return nil
}

// AddView registers a view descriptor.
func (s *Schema) AddView(v View) error {
	if v.Name == "" {
		return fmt.Errorf("schema: view must have a name")
	}
	if _, exists := s.Views[v.Name]; exists {
		return fmt.Errorf("schema: view %q already registered", v.Name)
	}
	s.Views[v.Name] = v
	return nil
}

// Load parses a Schema from YAML, the declarative alternative to the
// builder API above (spec.md §9: "class-based declarations... re-express
// as schema builder functions producing plain descriptor records").
func Load(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: failed to parse yaml: %w", err)
	}
	if s.Tables == nil {
		s.Tables = make(map[string]Table)
	}
	if s.Views == nil {
		s.Views = make(map[string]View)
	}
	return &s, nil
}

// Marshal serializes a Schema back to YAML.
func Marshal(s *Schema) ([]byte, error) {
	return yaml.Marshal(s)
}
