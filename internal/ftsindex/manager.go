package ftsindex

import (
	"database/sql"
	"fmt"

	"github.com/lucasastorian/hybridstore/internal/schema"
)

// Manager opens and holds one Index per (table, fts column) pair declared
// in the schema, keyed by "table.column" for lookup by the planner.
type Manager struct {
	indexes map[string]*Index
}

// OpenAll creates every fts5 index named by s's FTS-flagged columns.
func OpenAll(db *sql.DB, s *schema.Schema, cfg Config) (*Manager, error) {
	m := &Manager{indexes: make(map[string]*Index)}
	for _, t := range s.Tables {
		for _, c := range t.FTSColumns() {
			idx, err := Open(db, t.Name, c.Name, cfg)
			if err != nil {
				return nil, err
			}
			m.indexes[key(t.Name, c.Name)] = idx
		}
	}
	return m, nil
}

func key(table, column string) string { return fmt.Sprintf("%s.%s", table, column) }

// Get returns the index for table.column, or (nil, false) if that column
// isn't fts-enabled.
func (m *Manager) Get(table, column string) (*Index, bool) {
	idx, ok := m.indexes[key(table, column)]
	return idx, ok
}
