package vectorfile

import (
	"testing"
)

func mustOpen(t *testing.T, dim int) *VectorFile {
	t.Helper()
	dir := t.TempDir()
	vf, err := Open(dir, "docs", "embedding", dim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { vf.Close() })
	return vf
}

func TestVectorFile_AppendAndHasRow(t *testing.T) {
	vf := mustOpen(t, 4)

	if vf.HasRow(1) {
		t.Fatal("fresh VectorFile should not have row 1")
	}

	if _, err := vf.Append(1, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !vf.HasRow(1) {
		t.Fatal("expected row 1 to be present after Append")
	}
	if vf.Len() != 1 {
		t.Fatalf("expected Len()=1, got %d", vf.Len())
	}
}

func TestVectorFile_AppendDimensionMismatch(t *testing.T) {
	vf := mustOpen(t, 4)
	if _, err := vf.Append(1, []float32{1, 0}); err == nil {
		t.Fatal("expected an error appending a vector of the wrong dimension")
	}
}

func TestVectorFile_MarkDeletedTombstonesWithoutShrinkingFile(t *testing.T) {
	vf := mustOpen(t, 4)
	if _, err := vf.Append(1, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	lenBefore := vf.Len()

	if err := vf.MarkDeleted(1); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if !vf.IsTombstoned(1) {
		t.Fatal("expected row 1 to be tombstoned")
	}
	if vf.Len() != lenBefore {
		t.Errorf("MarkDeleted must not change the slot count, got %d want %d", vf.Len(), lenBefore)
	}

	// Re-marking an already-tombstoned (or never-appended) row is a no-op,
	// not an error.
	if err := vf.MarkDeleted(1); err != nil {
		t.Fatalf("re-MarkDeleted should be idempotent, got: %v", err)
	}
	if err := vf.MarkDeleted(999); err != nil {
		t.Fatalf("MarkDeleted on an absent row should be a no-op, got: %v", err)
	}
}

func TestVectorFile_TruncateRollsBackAppends(t *testing.T) {
	vf := mustOpen(t, 4)
	if _, err := vf.Append(1, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	pre := vf.Len()

	if _, err := vf.Append(2, []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := vf.Append(3, []float32{0, 0, 1, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := vf.Truncate(pre); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if vf.Len() != pre {
		t.Fatalf("Len() after Truncate = %d, want %d", vf.Len(), pre)
	}
	if vf.HasRow(2) || vf.HasRow(3) {
		t.Fatal("rows appended after the truncation point should no longer be present")
	}
	if !vf.HasRow(1) {
		t.Fatal("rows appended before the truncation point should survive")
	}
}

func TestVectorFile_CompactDropsTombstonesAndRebuildsBijection(t *testing.T) {
	vf := mustOpen(t, 4)
	for id, v := range map[int64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0, 0, 1, 0},
	} {
		if _, err := vf.Append(id, v); err != nil {
			t.Fatalf("Append(%d): %v", id, err)
		}
	}
	if err := vf.MarkDeleted(2); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	if err := vf.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if len(vf.Tombstones()) != 0 {
		t.Errorf("expected no tombstones after Compact, got %v", vf.Tombstones())
	}
	if vf.Len() != 2 {
		t.Errorf("expected Len()=2 after compacting away 1 of 3 rows, got %d", vf.Len())
	}
	if !vf.HasRow(1) || !vf.HasRow(3) {
		t.Fatal("expected rows 1 and 3 to survive compaction")
	}
	if vf.HasRow(2) {
		t.Fatal("expected tombstoned row 2 to be gone after compaction")
	}

	records, err := vf.IterLive()
	if err != nil {
		t.Fatalf("IterLive: %v", err)
	}
	seen := map[int64]bool{}
	for i, r := range records {
		if r.Slot != int64(i) {
			t.Errorf("expected a dense bijection after compaction, record %d has slot %d", i, r.Slot)
		}
		seen[r.RowID] = true
	}
	if !seen[1] || !seen[3] {
		t.Errorf("expected live records for rows 1 and 3, got %v", records)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name    string
		a, b    []float32
		wantMin float64
	}{
		{"identical", []float32{1, 0, 0, 0}, []float32{1, 0, 0, 0}, 0.9999},
		{"orthogonal", []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}, -0.0001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if tc.name == "identical" && got < tc.wantMin {
				t.Errorf("CosineSimilarity(identical) = %v, want >= %v", got, tc.wantMin)
			}
			if tc.name == "orthogonal" && (got > 0.0001 || got < -0.0001) {
				t.Errorf("CosineSimilarity(orthogonal) = %v, want ~0", got)
			}
		})
	}
}
