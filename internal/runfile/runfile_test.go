package runfile

import (
	"path/filepath"
	"testing"

	"github.com/aklyosov/ikvs/internal/kv"
)

func samplePairs(n int) []kv.Pair {
	out := make([]kv.Pair, n)
	for i := 0; i < n; i++ {
		out[i] = kv.Pair{Key: int32(i * 2), Value: int32(i*2 + 1)}
	}
	return out
}

func TestWriteReadAllRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst-1")
	want := samplePairs(1200)

	if err := Write(path, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadAll length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pair %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPageCountAndShortLastPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst-1")
	pairs := samplePairs(kv.PairsPerPage + 10)
	if err := Write(path, pairs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	size, err := Size(path)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if got := PageCount(size); got != 2 {
		t.Fatalf("PageCount = %d, want 2", got)
	}

	last, err := ReadPage(path, 1)
	if err != nil {
		t.Fatalf("ReadPage(1) failed: %v", err)
	}
	if len(last) != 10 {
		t.Fatalf("last page length = %d, want 10", len(last))
	}
}

func TestReadPageBeyondEOFReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst-1")
	if err := Write(path, samplePairs(5)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	pairs, err := ReadPage(path, 9)
	if err != nil {
		t.Fatalf("ReadPage(9) unexpected error: %v", err)
	}
	if pairs != nil {
		t.Fatalf("ReadPage(9) = %v, want nil", pairs)
	}
}

func TestBinarySearchHitAndMiss(t *testing.T) {
	pairs := samplePairs(50)
	if v, ok := BinarySearch(pairs, 20); !ok || v != 21 {
		t.Fatalf("BinarySearch(20) = (%d, %v), want (21, true)", v, ok)
	}
	if _, ok := BinarySearch(pairs, 21); ok {
		t.Fatal("BinarySearch(21) unexpectedly found an odd key")
	}
}

func TestSearchGE(t *testing.T) {
	pairs := samplePairs(10) // keys 0,2,4,...,18
	if i := SearchGE(pairs, 5); i != 3 || pairs[i].Key != 6 {
		t.Fatalf("SearchGE(5) = %d (key %d), want index pointing at key 6", i, pairs[i].Key)
	}
	if i := SearchGE(pairs, 100); i != len(pairs) {
		t.Fatalf("SearchGE(100) = %d, want %d", i, len(pairs))
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		firstKey, lastKey, low, high int32
		want                         bool
	}{
		{10, 20, 0, 9, false},
		{10, 20, 21, 30, false},
		{10, 20, 15, 15, true},
		{10, 20, 0, 100, true},
		{10, 20, 20, 20, true},
	}
	for _, c := range cases {
		if got := Overlaps(c.firstKey, c.lastKey, c.low, c.high); got != c.want {
			t.Fatalf("Overlaps(%d,%d,%d,%d) = %v, want %v", c.firstKey, c.lastKey, c.low, c.high, got, c.want)
		}
	}
}
