// Package relstore implements RelStore (spec.md §4.3): the relational
// backing store for row data, secondary indexes, and transactions. It wraps
// a single modernc.org/sqlite connection per database directory.
package relstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lucasastorian/hybridstore/internal/filter"
	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Store owns the single SQLite connection backing one database directory.
// modernc.org/sqlite registers its driver as "sqlite", not "sqlite3" --
// there is no CGO sqlite3 driver in this module, so every caller must use
// that name.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	schema *schema.Schema
}

// Open creates the database file if needed, applies WAL/busy_timeout
// pragmas, registers the REGEXP function Filter.Regex depends on, and
// creates any tables/indexes declared by s that don't already exist.
func Open(dbPath string, s *schema.Schema) (*Store, error) {
	timer := xlog.StartTimer(xlog.CategoryRelStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, xerrors.Storage("relstore.Open", fmt.Errorf("create directory %s: %w", dir, err), false)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Storage("relstore.Open", fmt.Errorf("open database: %w", err), false)
	}
	// A single connection keeps writer serialization simple; RelStore callers
	// already hold Store.mu for the duration of a statement or transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := registerRegexp(); err != nil {
		db.Close()
		return nil, xerrors.Storage("relstore.Open", fmt.Errorf("register regexp function: %w", err), false)
	}

	st := &Store{db: db, dbPath: dbPath, schema: s}
	if err := st.ensureMigrationsTable(); err != nil {
		db.Close()
		return nil, err
	}
	if err := st.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db, s); err != nil {
		db.Close()
		return nil, err
	}

	xlog.Get(xlog.CategoryRelStore).Info("opened relstore at %s (%d tables)", dbPath, len(s.Tables))
	return st, nil
}

var regexpOnce sync.Once
var regexpOnceErr error

// registerRegexp installs SQLite's conventional REGEXP infix operator as a
// deterministic scalar function, the same way the teacher's vec_compat.go
// registers vector_distance_cos -- one process-wide registration guarded by
// sync.Once since modernc.org/sqlite functions are registered globally.
func registerRegexp() error {
	regexpOnce.Do(func() {
		regexpOnceErr = sqliteRegisterRegexp()
	})
	return regexpOnceErr
}

// compiledPatternCache avoids recompiling the same regex on every row scan.
var (
	patternCacheMu sync.RWMutex
	patternCache   = make(map[string]*regexp.Regexp)
)

func matchRegexp(pattern, value string) (bool, error) {
	patternCacheMu.RLock()
	re, ok := patternCache[pattern]
	patternCacheMu.RUnlock()
	if !ok {
		compiled, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return false, err
		}
		patternCacheMu.Lock()
		patternCache[pattern] = compiled
		patternCacheMu.Unlock()
		re = compiled
	}
	return re.MatchString(value), nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw *sql.DB for components (ftsindex) that need to
// share the same connection and transaction.
func (s *Store) DB() *sql.DB { return s.db }

// createTables issues CREATE TABLE IF NOT EXISTS for every table in the
// schema, plus secondary indexes for every column flagged Index.
func (s *Store) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.schema.Tables {
		ddl, err := tableDDL(t)
		if err != nil {
			return xerrors.Schema("relstore.createTables", fmt.Sprintf("table %q", t.Name), err)
		}
		if _, err := s.db.Exec(ddl); err != nil {
			return xerrors.Storage("relstore.createTables", fmt.Errorf("create table %s: %w", t.Name, err), false)
		}
		for _, c := range t.Columns {
			if !c.Index || c.PK {
				continue
			}
			ensureIndexIfColumn(s.db, t.Name, c.Name)
		}
	}
	return nil
}

func tableDDL(t schema.Table) (string, error) {
	pk, ok := t.PrimaryKey()
	if !ok {
		return "", fmt.Errorf("table %q has no primary key", t.Name)
	}
	var cols []string
	for _, c := range t.Columns {
		colType := sqlColumnType(c.Type)
		def := fmt.Sprintf("%q %s", c.Name, colType)
		if c.Name == pk.Name {
			def += " PRIMARY KEY"
		}
		cols = append(cols, def)
	}
	// Every row carries a text-hash sidecar column per vector column so
	// Table.Upsert can skip re-embedding unchanged text (SPEC_FULL §5).
	for _, c := range t.Columns {
		if c.Vector {
			cols = append(cols, fmt.Sprintf("%q TEXT", hashColumn(c.Name)))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", t.Name, joinCols(cols)), nil
}

// hashColumn names the sidecar column storing the text hash that produced a
// vector column's most recent embedding.
func hashColumn(column string) string {
	return "__" + column + "_hash"
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func sqlColumnType(t schema.ColumnType) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeText, schema.TypeJSON:
		return "TEXT"
	case schema.TypeBoolean:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	case schema.TypeBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func ensureIndexIfColumn(db *sql.DB, table, column string) {
	indexName := fmt.Sprintf("idx_%s_%s", table, column)
	q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %q ON %q(%q)", indexName, table, column)
	if _, err := db.Exec(q); err != nil {
		xlog.Get(xlog.CategoryRelStore).Warn("failed to create index %s on %s(%s): %v", indexName, table, column, err)
	}
}

// Row is a generic result row keyed by column name.
type Row map[string]interface{}

// Select runs a filtered read against table, returning matched rows in
// Filter-compiled order. Vacuous filters (empty In(), etc) short-circuit to
// no rows without touching the database.
func (s *Store) Select(table string, f filter.Filter, columns []string) ([]Row, error) {
	t, ok := s.schema.Tables[table]
	if !ok {
		return nil, xerrors.Schema("relstore.Select", fmt.Sprintf("unknown table %q", table), nil)
	}
	pk, _ := t.PrimaryKey()

	compiled, err := filter.Compile(f, pk.Name)
	if err != nil {
		return nil, err
	}
	if compiled.Vacuous {
		return nil, nil
	}

	colList := "*"
	if len(columns) > 0 {
		colList = quoteColumns(columns)
	}
	query := fmt.Sprintf("SELECT %s FROM %q", colList, table)
	if compiled.Where != "" {
		query += " WHERE " + compiled.Where
	}
	query += " ORDER BY " + filter.CompileOrder(f, pk.Name)
	if n, has := f.LimitValue(); has {
		query += fmt.Sprintf(" LIMIT %d", n)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(query, compiled.Args...)
	if err != nil {
		return nil, xerrors.Storage("relstore.Select", err, true)
	}
	defer rows.Close()
	return scanRows(rows)
}

func quoteColumns(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", c)
	}
	return out
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, xerrors.Storage("relstore.scanRows", err, false)
	}
	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, xerrors.Storage("relstore.scanRows", err, false)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Storage("relstore.scanRows", err, false)
	}
	return out, nil
}

// Insert inserts one row, returning the assigned primary key.
func (s *Store) Insert(table string, values Row) (int64, error) {
	if _, ok := s.schema.Tables[table]; !ok {
		return 0, xerrors.Schema("relstore.Insert", fmt.Sprintf("unknown table %q", table), nil)
	}
	cols, placeholders, args := insertParts(values)
	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, cols, placeholders)

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, xerrors.Storage("relstore.Insert", err, true)
	}
	return res.LastInsertId()
}

// Begin exposes a raw transaction for BatchCoordinator's atomic scope,
// which must keep the transaction open across RelStore inserts, the bulk
// embed call, and the VectorFile appends before committing (spec.md §4.6
// steps 1-5 all share one transaction boundary).
func (s *Store) Begin() (*sql.Tx, error) {
	s.mu.Lock()
	tx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return nil, xerrors.Storage("relstore.Begin", err, true)
	}
	return tx, nil
}

// EndBegin releases the lock acquired by Begin. Callers must call this
// exactly once after the transaction returned by Begin is committed or
// rolled back.
func (s *Store) EndBegin() { s.mu.Unlock() }

// InsertTx is Insert scoped to an already-open transaction.
func (s *Store) InsertTx(tx *sql.Tx, table string, values Row) (int64, error) {
	if _, ok := s.schema.Tables[table]; !ok {
		return 0, xerrors.Schema("relstore.InsertTx", fmt.Sprintf("unknown table %q", table), nil)
	}
	cols, placeholders, args := insertParts(values)
	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, cols, placeholders)
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, xerrors.Storage("relstore.InsertTx", err, true)
	}
	return res.LastInsertId()
}

// RowExists reports whether table still has a row with the given primary
// key, used by the intent-log reconciliation path to tell a rolled-back
// insert apart from one whose VectorFile append merely lagged its commit.
func (s *Store) RowExists(table string, id int64) (bool, error) {
	t, ok := s.schema.Tables[table]
	if !ok {
		return false, xerrors.Schema("relstore.RowExists", fmt.Sprintf("unknown table %q", table), nil)
	}
	pk, _ := t.PrimaryKey()
	var got int64
	s.mu.RLock()
	err := s.db.QueryRow(fmt.Sprintf("SELECT %q FROM %q WHERE %q = ?", pk.Name, table, pk.Name), id).Scan(&got)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Storage("relstore.RowExists", err, true)
	}
	return true, nil
}

func insertParts(values Row) (cols, placeholders string, args []interface{}) {
	first := true
	for k, v := range values {
		if !first {
			cols += ", "
			placeholders += ", "
		}
		cols += fmt.Sprintf("%q", k)
		placeholders += "?"
		args = append(args, v)
		first = false
	}
	return cols, placeholders, args
}

// Update applies a column=value set to every row matching f.
func (s *Store) Update(table string, f filter.Filter, set Row) (int64, error) {
	t, ok := s.schema.Tables[table]
	if !ok {
		return 0, xerrors.Schema("relstore.Update", fmt.Sprintf("unknown table %q", table), nil)
	}
	pk, _ := t.PrimaryKey()
	compiled, err := filter.Compile(f, pk.Name)
	if err != nil {
		return 0, err
	}
	if compiled.Vacuous {
		return 0, nil
	}

	setClause := ""
	var args []interface{}
	first := true
	for k, v := range set {
		if !first {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%q = ?", k)
		args = append(args, v)
		first = false
	}
	args = append(args, compiled.Args...)

	query := fmt.Sprintf("UPDATE %q SET %s", table, setClause)
	if compiled.Where != "" {
		query += " WHERE " + compiled.Where
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, xerrors.Storage("relstore.Update", err, true)
	}
	return res.RowsAffected()
}

// Delete removes every row matching f, returning the number removed.
func (s *Store) Delete(table string, f filter.Filter) (int64, error) {
	t, ok := s.schema.Tables[table]
	if !ok {
		return 0, xerrors.Schema("relstore.Delete", fmt.Sprintf("unknown table %q", table), nil)
	}
	pk, _ := t.PrimaryKey()
	compiled, err := filter.Compile(f, pk.Name)
	if err != nil {
		return 0, err
	}
	if compiled.Vacuous {
		return 0, nil
	}

	query := fmt.Sprintf("DELETE FROM %q", table)
	if compiled.Where != "" {
		query += " WHERE " + compiled.Where
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(query, compiled.Args...)
	if err != nil {
		return 0, xerrors.Storage("relstore.Delete", err, true)
	}
	return res.RowsAffected()
}

// Tx runs fn inside a single transaction, rolling back on any error or
// panic. BatchCoordinator's atomic path does not use Tx; it drives its
// transaction through Begin, InsertTx and EndBegin.
func (s *Store) Tx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return xerrors.Storage("relstore.Tx", err, true)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Storage("relstore.Tx", err, true)
	}
	return nil
}

// FilteredIDs computes the candidate primary-key set C that spec.md §4.5's
// keyword/vector/hybrid search modes restrict their scans to. restricted is
// false when f carries no predicates at all (the caller should treat that
// as "scan everything" rather than an empty set).
func (s *Store) FilteredIDs(table string, f filter.Filter) (ids []int64, restricted bool, err error) {
	t, ok := s.schema.Tables[table]
	if !ok {
		return nil, false, xerrors.Schema("relstore.FilteredIDs", fmt.Sprintf("unknown table %q", table), nil)
	}
	if !f.HasPredicates() {
		return nil, false, nil
	}
	pk, _ := t.PrimaryKey()
	compiled, err := filter.Compile(f, pk.Name)
	if err != nil {
		return nil, true, err
	}
	if compiled.Vacuous {
		return []int64{}, true, nil
	}

	query := fmt.Sprintf("SELECT %q FROM %q", pk.Name, table)
	if compiled.Where != "" {
		query += " WHERE " + compiled.Where
	}
	query += fmt.Sprintf(" ORDER BY %q ASC", pk.Name)

	s.mu.RLock()
	rows, err := s.db.Query(query, compiled.Args...)
	s.mu.RUnlock()
	if err != nil {
		return nil, true, xerrors.Storage("relstore.FilteredIDs", err, true)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, true, xerrors.Storage("relstore.FilteredIDs", err, false)
		}
		ids = append(ids, id)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, true, rows.Err()
}

// Raw runs an arbitrary parameterized SELECT, used by the planner to
// execute the joined SQL expansion of a view. Callers are responsible for
// identifier quoting; values always travel as bound args.
func (s *Store) Raw(query string, args []interface{}) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, xerrors.Storage("relstore.Raw", err, true)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Schema exposes the registered schema for components (planner, view) that
// need table/column metadata beyond single-table CRUD.
func (s *Store) Schema() *schema.Schema { return s.schema }

// TableSchema returns the registered descriptor for table.
func (s *Store) TableSchema(table string) (schema.Table, bool) {
	t, ok := s.schema.Tables[table]
	return t, ok
}

// HashColumn exposes the sidecar text-hash column name for a vector column,
// written by BatchCoordinator on insert and compared by Table.Upsert to skip
// re-embedding unchanged text.
func HashColumn(column string) string { return hashColumn(column) }
