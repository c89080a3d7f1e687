package lsm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aklyosov/ikvs/internal/kv"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	m, err := Open(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return m
}

func TestSaveAndGetWithinOneLevel(t *testing.T) {
	m := newManager(t)
	if err := m.Save([]kv.Pair{{Key: 1, Value: 10}, {Key: 2, Value: 20}}, 1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	v, ok, err := m.Get(1)
	if err != nil || !ok || v != 10 {
		t.Fatalf("Get(1) = (%d, %v, %v), want (10, true, nil)", v, ok, err)
	}
	if _, ok, _ := m.Get(99); ok {
		t.Fatal("Get(99) unexpectedly found a key")
	}
}

func TestSecondSaveTriggersCompactionIntoNextLevel(t *testing.T) {
	m := newManager(t)
	m.Save([]kv.Pair{{Key: 1, Value: 1}, {Key: 3, Value: 3}}, 1)
	m.Save([]kv.Pair{{Key: 2, Value: 2}, {Key: 4, Value: 4}}, 1)

	if got := m.counts[1]; got != 0 {
		t.Fatalf("level 1 count = %d, want 0 after compaction", got)
	}
	if got := m.counts[2]; got != 1 {
		t.Fatalf("level 2 count = %d, want 1 after compaction", got)
	}
	if _, err := os.Stat(m.slotPath(1, 1)); !os.IsNotExist(err) {
		t.Fatal("level 1 slot 1 should have been removed by compaction")
	}

	for _, k := range []int32{1, 2, 3, 4} {
		v, ok, err := m.Get(k)
		if err != nil || !ok || v != k {
			t.Fatalf("Get(%d) = (%d, %v, %v), want (%d, true, nil)", k, v, ok, err, k)
		}
	}
}

func TestCompactionPrefersFresherSlotOnEqualKey(t *testing.T) {
	m := newManager(t)
	m.Save([]kv.Pair{{Key: 5, Value: 500}}, 1)
	m.Save([]kv.Pair{{Key: 5, Value: 501}}, 1)

	v, ok, err := m.Get(5)
	if err != nil || !ok || v != 501 {
		t.Fatalf("Get(5) = (%d, %v, %v), want (501, true, nil)", v, ok, err)
	}
}

func TestTombstoneDroppedAtDeepestLevel(t *testing.T) {
	m := newManager(t)
	m.Save([]kv.Pair{{Key: 1, Value: kv.Tombstone}}, 1)
	m.Save([]kv.Pair{{Key: 2, Value: 2}}, 1) // compacts into level 2, the only (deepest) level

	merged, err := readAllForTest(m.slotPath(2, 1))
	if err != nil {
		t.Fatalf("reading level 2 run failed: %v", err)
	}
	for _, p := range merged {
		if p.Key == 1 {
			t.Fatalf("tombstone for key 1 survived into the deepest level: %+v", merged)
		}
	}
}

func TestTombstonePreservedThroughIntermediateLevel(t *testing.T) {
	m := newManager(t)
	m.ensureLevelDir(3) // a deeper level already exists, so level 2 is not the deepest
	m.Save([]kv.Pair{{Key: 1, Value: kv.Tombstone}}, 1)
	m.Save([]kv.Pair{{Key: 2, Value: 2}}, 1) // compacts into level 2

	merged, err := readAllForTest(m.slotPath(2, 1))
	if err != nil {
		t.Fatalf("reading level 2 run failed: %v", err)
	}
	found := false
	for _, p := range merged {
		if p.Key == 1 && p.IsTombstone() {
			found = true
		}
	}
	if !found {
		t.Fatal("tombstone for key 1 was dropped at an intermediate level")
	}
}

func TestScanMergesAcrossLevelsFresherWins(t *testing.T) {
	m := newManager(t)
	m.Save([]kv.Pair{{Key: 10, Value: 1}, {Key: 30, Value: 3}}, 1)
	m.Save([]kv.Pair{{Key: 20, Value: 2}, {Key: 40, Value: 4}}, 1) // compacts into level 2
	m.Save([]kv.Pair{{Key: 20, Value: 22}}, 1)                     // fresher version at level 1

	got, err := m.Scan(10, 40)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Scan length = %d, want 4 (%v)", len(got), got)
	}
	if got[1].Key != 20 || got[1].Value != 22 {
		t.Fatalf("Scan pair 1 = %+v, want {20 22} from level 1", got[1])
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Key >= got[i].Key {
			t.Fatalf("Scan not strictly ascending: %v", got)
		}
	}
}

func TestMetadataSurvivesClose(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	m, err := Open(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	m.Save([]kv.Pair{{Key: 1, Value: 1}}, 1)
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.counts[1] != 1 {
		t.Fatalf("level 1 count after reopen = %d, want 1", reopened.counts[1])
	}
	v, ok, err := reopened.Get(1)
	if err != nil || !ok || v != 1 {
		t.Fatalf("Get(1) after reopen = (%d, %v, %v), want (1, true, nil)", v, ok, err)
	}
}

func TestDeleteFilesRemovesDirectory(t *testing.T) {
	m := newManager(t)
	m.Save([]kv.Pair{{Key: 1, Value: 1}}, 1)
	if err := m.DeleteFiles(); err != nil {
		t.Fatalf("DeleteFiles failed: %v", err)
	}
	if len(m.counts) != 0 {
		t.Fatalf("counts after DeleteFiles = %v, want empty", m.counts)
	}
}

// readAllForTest avoids importing runfile directly in the test to keep the
// package boundary the same shape as production code uses it.
func readAllForTest(path string) ([]kv.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]kv.Pair, len(data)/kv.PairSize)
	for i := range out {
		out[i] = kv.Decode(data[i*kv.PairSize : i*kv.PairSize+kv.PairSize])
	}
	return out, nil
}

func TestLevelSlotPathsSkipsLevelsWithoutARun(t *testing.T) {
	m := newManager(t)
	m.Save([]kv.Pair{{Key: 1, Value: 1}}, 1)
	m.Save([]kv.Pair{{Key: 2, Value: 2}}, 1) // compacts into level 2
	m.ensureLevelDir(3)

	paths := m.LevelSlotPaths()
	if len(paths) != 1 {
		t.Fatalf("LevelSlotPaths = %v, want exactly the level-2 slot", paths)
	}
	if filepath.Base(filepath.Dir(paths[0])) != "level-2" {
		t.Fatalf("LevelSlotPaths = %v, want a path under level-2", paths)
	}
}
