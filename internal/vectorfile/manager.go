package vectorfile

import (
	"fmt"

	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
)

// Manager opens and holds one VectorFile per vector-enabled column declared
// in the schema, keyed by "table.column".
type Manager struct {
	dir   string
	files map[string]*VectorFile
}

// OpenAll opens (or creates) every VectorFile named by s's vector-flagged
// columns under dir/vectors.
func OpenAll(dir string, s *schema.Schema) (*Manager, error) {
	m := &Manager{dir: dir, files: make(map[string]*VectorFile)}
	for _, t := range s.Tables {
		for _, c := range t.VectorColumns() {
			if c.Embedding == nil {
				return nil, xerrors.Schema("vectorfile.OpenAll", fmt.Sprintf("column %s.%s is vector-enabled but has no embedding config", t.Name, c.Name), nil)
			}
			vf, err := Open(dir, t.Name, c.Name, c.Embedding.Dimension)
			if err != nil {
				return nil, err
			}
			m.files[key(t.Name, c.Name)] = vf
		}
	}
	return m, nil
}

func key(table, column string) string { return fmt.Sprintf("%s.%s", table, column) }

// Get returns the VectorFile for table.column, or (nil, false) if that
// column isn't vector-enabled.
func (m *Manager) Get(table, column string) (*VectorFile, bool) {
	vf, ok := m.files[key(table, column)]
	return vf, ok
}

// CloseAll closes every managed VectorFile, returning the first error.
func (m *Manager) CloseAll() error {
	var firstErr error
	for _, vf := range m.files {
		if err := vf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
