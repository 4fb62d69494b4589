package relstore

import (
	"database/sql"
	"fmt"

	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// schemaMigrationsTable tracks which additive column migrations have run,
// mirroring the teacher's versioned migrations.go but keyed by (table,
// column) pairs discovered from the live schema rather than a fixed list,
// since hybridstore schemas are caller-defined rather than built in.
const schemaMigrationsTable = "__schema_migrations"

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (table_name, column_name)
		)`, schemaMigrationsTable))
	if err != nil {
		return xerrors.Storage("relstore.ensureMigrationsTable", err, false)
	}
	return nil
}

// RunMigrations adds any column present in s but missing from the live
// table (an additive-only schema change, per spec.md §1's non-goal scoping
// out anything beyond that). Existing tables are left untouched otherwise.
func RunMigrations(db *sql.DB, s *schema.Schema) error {
	timer := xlog.StartTimer(xlog.CategoryRelStore, "RunMigrations")
	defer timer.Stop()

	applied := 0
	for _, t := range s.Tables {
		if !tableExists(db, t.Name) {
			continue
		}
		for _, c := range t.Columns {
			if !columnExists(db, t.Name, c.Name) {
				if err := addColumn(db, t.Name, c.Name, sqlColumnType(c.Type)); err != nil {
					return err
				}
				applied++
			}
			if c.Vector {
				hashCol := hashColumn(c.Name)
				if !columnExists(db, t.Name, hashCol) {
					if err := addColumn(db, t.Name, hashCol, "TEXT"); err != nil {
						return err
					}
					applied++
				}
			}
		}
	}
	if applied > 0 {
		xlog.Get(xlog.CategoryRelStore).Info("schema migrations applied: %d column(s) added", applied)
	}
	return nil
}

func addColumn(db *sql.DB, table, column, sqlType string) error {
	query := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %q %s", table, column, sqlType)
	if _, err := db.Exec(query); err != nil {
		return xerrors.Storage("relstore.RunMigrations", fmt.Errorf("add %s.%s: %w", table, column, err), false)
	}
	if _, err := db.Exec(fmt.Sprintf(
		"INSERT OR IGNORE INTO %q (table_name, column_name) VALUES (?, ?)", schemaMigrationsTable),
		table, column); err != nil {
		return xerrors.Storage("relstore.RunMigrations", err, false)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
