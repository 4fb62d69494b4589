// Package batch implements BatchCoordinator (spec.md §4.6): atomic and
// non-atomic grouped insertion across RelStore and VectorFile, with
// rollback-on-failure in atomic mode and a durable outbox in non-atomic
// mode.
package batch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lucasastorian/hybridstore/internal/embedder"
	"github.com/lucasastorian/hybridstore/internal/relstore"
	"github.com/lucasastorian/hybridstore/internal/schema"
	"github.com/lucasastorian/hybridstore/internal/vectorfile"
	"github.com/lucasastorian/hybridstore/internal/xerrors"
	"github.com/lucasastorian/hybridstore/internal/xlog"
)

// Coordinator ties RelStore inserts to VectorFile appends for every
// vector-enabled column in the schema.
type Coordinator struct {
	store     *relstore.Store
	vectors   *vectorfile.Manager
	embedders map[string]embedder.Embedder
	sch       *schema.Schema
	dbDir     string
}

func New(store *relstore.Store, vectors *vectorfile.Manager, embedders map[string]embedder.Embedder, dbDir string) *Coordinator {
	return &Coordinator{store: store, vectors: vectors, embedders: embedders, sch: store.Schema(), dbDir: dbDir}
}

type item struct {
	id     uuid.UUID
	table  string
	values relstore.Row
}

// Scope gathers inserts across any table for one batch_embeddings call.
type Scope struct {
	c      *Coordinator
	atomic bool
	items  []item
}

// Begin starts a batch scope. atomic selects the all-or-nothing path;
// non-atomic commits each row independently and routes embed failures to
// an outbox instead of failing the scope.
func (c *Coordinator) Begin(atomic bool) *Scope {
	return &Scope{c: c, atomic: atomic}
}

// Insert queues a row for insertion on Commit, preserving call order. The
// text-hash sidecar of every vector column with text is recorded alongside
// the row so Table.Upsert can skip re-embedding unchanged text.
func (s *Scope) Insert(table string, values relstore.Row) {
	row := make(relstore.Row, len(values))
	for k, v := range values {
		row[k] = v
	}
	for _, col := range s.c.vectorColumns(table) {
		if text, ok := textOf(values, col.Name); ok {
			row[relstore.HashColumn(col.Name)] = textHash(text)
		}
	}
	s.items = append(s.items, item{id: uuid.New(), table: table, values: row})
}

// Commit executes the gathered inserts per spec.md §4.6 and returns the
// assigned row-ids in insertion order.
func (s *Scope) Commit(ctx context.Context) ([]int64, error) {
	if len(s.items) == 0 {
		return nil, nil
	}
	if s.atomic {
		return s.c.commitAtomic(ctx, s.items)
	}
	return s.c.commitNonAtomic(ctx, s.items)
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Coordinator) vectorColumns(table string) []schema.Column {
	t, ok := c.sch.Tables[table]
	if !ok {
		return nil
	}
	return t.VectorColumns()
}

func textOf(values relstore.Row, column string) (string, bool) {
	v, ok := values[column]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// commitAtomic implements spec.md §4.6's atomic mode: one RelStore
// transaction spans every insert; vectors are embedded in bulk and appended
// to VectorFile before commit; any failure before commit rolls back the
// transaction and truncates every touched VectorFile back to its pre-scope
// length, discarding sidecar appends and writing no tombstones.
func (c *Coordinator) commitAtomic(ctx context.Context, items []item) ([]int64, error) {
	timer := xlog.StartTimer(xlog.CategoryBatch, "commitAtomic")
	defer timer.Stop()

	preLen := make(map[string]int64)
	touched := make(map[string]*vectorfile.VectorFile)
	for _, it := range items {
		for _, col := range c.vectorColumns(it.table) {
			key := it.table + "." + col.Name
			if _, ok := touched[key]; ok {
				continue
			}
			vf, ok := c.vectors.Get(it.table, col.Name)
			if !ok {
				continue
			}
			touched[key] = vf
			preLen[key] = vf.Len()
		}
	}

	rollback := func(cause error) ([]int64, error) {
		for key, vf := range touched {
			_ = vf.Truncate(preLen[key])
			_ = key
		}
		return nil, cause
	}

	tx, err := c.store.Begin()
	if err != nil {
		return nil, err
	}
	defer c.store.EndBegin()

	ids := make([]int64, len(items))
	byTable := make(map[string][]int64)
	for i, it := range items {
		rowID, err := c.store.InsertTx(tx, it.table, it.values)
		if err != nil {
			tx.Rollback()
			return rollback(err)
		}
		ids[i] = rowID
		byTable[it.table] = append(byTable[it.table], rowID)
	}

	// Gather per-table texts for bulk embedding and write the intent log
	// before any VectorFile append begins (SPEC_FULL §5 recovery strategy).
	type pending struct {
		table, column string
		rowIDs        []int64
		texts         []string
	}
	var batches []pending
	for i, it := range items {
		for _, col := range c.vectorColumns(it.table) {
			text, ok := textOf(it.values, col.Name)
			if !ok {
				continue
			}
			found := false
			for bi := range batches {
				if batches[bi].table == it.table && batches[bi].column == col.Name {
					batches[bi].rowIDs = append(batches[bi].rowIDs, ids[i])
					batches[bi].texts = append(batches[bi].texts, text)
					found = true
					break
				}
			}
			if !found {
				batches = append(batches, pending{table: it.table, column: col.Name, rowIDs: []int64{ids[i]}, texts: []string{text}})
			}
		}
	}

	var logPaths []string
	for _, b := range batches {
		colDef, _ := c.sch.Tables[b.table].Column(b.column)
		if colDef.Embedding == nil {
			tx.Rollback()
			return rollback(xerrors.Schema("batch.commitAtomic", fmt.Sprintf("%s.%s has no embedding config", b.table, b.column), nil))
		}
		logPath, err := c.writeIntentLog(b.table, b.column, b.rowIDs, b.texts)
		if err != nil {
			tx.Rollback()
			return rollback(err)
		}
		logPaths = append(logPaths, logPath)
	}

	for _, b := range batches {
		colDef, _ := c.sch.Tables[b.table].Column(b.column)
		emb, ok := c.embedders[colDef.Embedding.Embedder]
		if !ok {
			tx.Rollback()
			return rollback(xerrors.Embedder("batch.commitAtomic", fmt.Errorf("no embedder registered for %q", colDef.Embedding.Embedder)))
		}
		vectors, err := emb.Embed(ctx, b.texts)
		if err != nil {
			tx.Rollback()
			return rollback(err)
		}
		vf, _ := c.vectors.Get(b.table, b.column)
		for i, rowID := range b.rowIDs {
			if _, err := vf.Append(rowID, vectors[i]); err != nil {
				tx.Rollback()
				return rollback(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return rollback(xerrors.Storage("batch.commitAtomic", err, true))
	}

	// Commit succeeded; VectorFile.Append already fsyncs per call (step 6),
	// so clearing the intent log now is safe -- a crash from here on finds
	// RelStore and VectorFile already agreeing.
	for _, p := range logPaths {
		_ = os.Remove(p)
	}

	xlog.Get(xlog.CategoryBatch).Info("atomic batch committed: %d rows across %d table(s)", len(items), len(byTable))
	return ids, nil
}

// commitNonAtomic implements spec.md §4.6's non-atomic mode.
func (c *Coordinator) commitNonAtomic(ctx context.Context, items []item) ([]int64, error) {
	timer := xlog.StartTimer(xlog.CategoryBatch, "commitNonAtomic")
	defer timer.Stop()

	ids := make([]int64, len(items))
	for i, it := range items {
		rowID, err := c.store.Insert(it.table, it.values)
		if err != nil {
			return nil, err
		}
		ids[i] = rowID

		for _, col := range c.vectorColumns(it.table) {
			text, ok := textOf(it.values, col.Name)
			if !ok {
				continue
			}
			colDef, _ := c.sch.Tables[it.table].Column(col.Name)
			if colDef.Embedding == nil {
				continue
			}
			emb, ok := c.embedders[colDef.Embedding.Embedder]
			if !ok {
				c.appendOutbox(it.table, col.Name, rowID, text)
				continue
			}
			vecs, err := emb.Embed(ctx, []string{text})
			if err != nil {
				xlog.Get(xlog.CategoryBatch).Warn("non-atomic embed failed for %s.%s row %d: %v", it.table, col.Name, rowID, err)
				c.appendOutbox(it.table, col.Name, rowID, text)
				continue
			}
			vf, _ := c.vectors.Get(it.table, col.Name)
			if _, err := vf.Append(rowID, vecs[0]); err != nil {
				xlog.Get(xlog.CategoryBatch).Warn("vectorfile append failed for %s.%s row %d: %v", it.table, col.Name, rowID, err)
				c.appendOutbox(it.table, col.Name, rowID, text)
			}
		}
	}
	return ids, nil
}

// outboxEntry is one durable retry-pending row (spec.md §4.6, §6).
type outboxEntry struct {
	RowID    int64  `json:"row_id"`
	TextHash string `json:"text_hash"`
	Text     string `json:"text"`
	Attempts int    `json:"attempts"`
}

func (c *Coordinator) outboxPath(table, column string) string {
	return filepath.Join(c.dbDir, "vectors", fmt.Sprintf("%s__%s.outbox", table, column))
}

func (c *Coordinator) intentLogPath(table, column string) string {
	return filepath.Join(c.dbDir, "vectors", fmt.Sprintf("%s__%s.log", table, column))
}

func (c *Coordinator) appendOutbox(table, column string, rowID int64, text string) {
	path := c.outboxPath(table, column)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		xlog.Get(xlog.CategoryBatch).Error("failed to open outbox %s: %v", path, err)
		return
	}
	defer f.Close()

	entry := outboxEntry{RowID: rowID, TextHash: textHash(text), Text: text, Attempts: 1}
	data, _ := json.Marshal(entry)
	f.Write(append(data, '\n'))
}

// intentLogEntry records a pending VectorFile append so a crash between
// RelStore commit and VectorFile fsync can be replayed on reopen (SPEC_FULL
// §5's chosen strategy, spec.md §4.6 option 2).
type intentLogEntry struct {
	RowID int64  `json:"row_id"`
	Text  string `json:"text"`
}

func (c *Coordinator) writeIntentLog(table, column string, rowIDs []int64, texts []string) (string, error) {
	path := c.intentLogPath(table, column)
	f, err := os.Create(path)
	if err != nil {
		return "", xerrors.Storage("batch.writeIntentLog", err, false)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i, rowID := range rowIDs {
		if err := enc.Encode(intentLogEntry{RowID: rowID, Text: texts[i]}); err != nil {
			return "", xerrors.Storage("batch.writeIntentLog", err, false)
		}
	}
	if err := f.Sync(); err != nil {
		return "", xerrors.Storage("batch.writeIntentLog", err, false)
	}
	return path, nil
}

// Reconcile replays any non-empty intent log left by a crash between
// RelStore commit and VectorFile fsync (spec.md §4.6). For each logged row
// still present in RelStore but missing from VectorFile, its vector is
// re-embedded and appended; rows RelStore no longer has (a rolled-back
// insert) are skipped. Call once after opening all managers.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	for _, t := range c.sch.Tables {
		for _, col := range t.VectorColumns() {
			if err := c.reconcileColumn(ctx, t.Name, col.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Coordinator) reconcileColumn(ctx context.Context, table, column string) error {
	path := c.intentLogPath(table, column)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Storage("batch.Reconcile", err, false)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []intentLogEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e intentLogEntry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		_ = os.Remove(path)
		return nil
	}

	vf, ok := c.vectors.Get(table, column)
	if !ok {
		_ = os.Remove(path)
		return nil
	}
	colDef, _ := c.sch.Tables[table].Column(column)
	var emb embedder.Embedder
	if colDef.Embedding != nil {
		emb = c.embedders[colDef.Embedding.Embedder]
	}

	replayed := 0
	for _, e := range entries {
		if vf.HasRow(e.RowID) {
			continue // already durable before the crash
		}
		exists, err := c.store.RowExists(table, e.RowID)
		if err != nil {
			return err
		}
		if !exists {
			continue // RelStore rolled back; stale intent-log entry
		}
		if emb == nil {
			xlog.Get(xlog.CategoryBatch).Warn("reconcile %s.%s row %d: no embedder registered, leaving for manual retry", table, column, e.RowID)
			continue
		}
		vecs, err := emb.Embed(ctx, []string{e.Text})
		if err != nil {
			xlog.Get(xlog.CategoryBatch).Error("reconcile %s.%s row %d: re-embed failed: %v", table, column, e.RowID, err)
			continue
		}
		if _, err := vf.Append(e.RowID, vecs[0]); err != nil {
			return err
		}
		replayed++
	}
	xlog.Get(xlog.CategoryBatch).Info("reconciled %s.%s: %d row(s) replayed from intent log", table, column, replayed)
	_ = os.Remove(path)
	return nil
}

// RetryOutbox re-embeds every row in the (table, column) outbox, appending
// successes to VectorFile and rewriting the outbox with only the
// still-failing entries. A no-op on an empty or missing outbox.
func (c *Coordinator) RetryOutbox(ctx context.Context, table, column string) (succeeded, failed int, err error) {
	path := c.outboxPath(table, column)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, xerrors.Storage("batch.RetryOutbox", err, false)
	}
	if len(data) == 0 {
		return 0, 0, nil
	}

	var entries []outboxEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e outboxEntry
		if decErr := dec.Decode(&e); decErr != nil {
			break
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	colDef, _ := c.sch.Tables[table].Column(column)
	var emb embedder.Embedder
	if colDef.Embedding != nil {
		emb = c.embedders[colDef.Embedding.Embedder]
	}
	vf, _ := c.vectors.Get(table, column)

	var remaining []outboxEntry
	for _, e := range entries {
		if emb == nil || vf == nil {
			e.Attempts++
			remaining = append(remaining, e)
			failed++
			continue
		}
		vecs, embErr := emb.Embed(ctx, []string{e.Text})
		if embErr != nil {
			e.Attempts++
			remaining = append(remaining, e)
			failed++
			continue
		}
		if _, appendErr := vf.Append(e.RowID, vecs[0]); appendErr != nil {
			e.Attempts++
			remaining = append(remaining, e)
			failed++
			continue
		}
		succeeded++
	}

	return succeeded, failed, c.rewriteOutbox(path, remaining)
}

func (c *Coordinator) rewriteOutbox(path string, entries []outboxEntry) error {
	if len(entries) == 0 {
		return os.Remove(path)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Storage("batch.rewriteOutbox", err, false)
	}
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return xerrors.Storage("batch.rewriteOutbox", err, false)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return xerrors.Storage("batch.rewriteOutbox", err, false)
	}
	f.Close()
	return os.Rename(tmp, path)
}
