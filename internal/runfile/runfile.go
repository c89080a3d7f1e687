// Package runfile implements the page-aligned binary reader/writer shared by
// the flat-layout Sorted Run Store (internal/flatstore) and the leveled LSM
// manager (internal/lsm): writing a packed KV stream, reading it back one
// page at a time, binary-searching a decoded page, and pruning runs whose
// key range cannot overlap a scan. Grounded on the teacher's SSTable reader
// (lsm.SSTable.readBlock / lsm.SSTable.Overlaps in the reference corpus),
// adapted from the teacher's string-keyed, block-indexed format to the
// spec's fixed 8-byte packed records with no index block.
package runfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/aklyosov/ikvs/internal/engineconfig"
	"github.com/aklyosov/ikvs/internal/kv"
)

// Write creates (or truncates) the file at path and writes pairs as a
// packed little-endian stream. Callers guarantee pairs are sorted ascending
// and unique by key; Write does not re-validate that.
func Write(path string, pairs []kv.Pair) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("runfile: create %s: %w", path, engineconfig.ErrIO)
	}
	defer f.Close()

	if _, err := f.Write(kv.EncodeAll(pairs)); err != nil {
		return fmt.Errorf("runfile: write %s: %w", path, engineconfig.ErrIO)
	}
	return nil
}

// PageCount returns the number of pages a file of size fileSize spans. The
// last page may be short.
func PageCount(fileSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	n := fileSize / engineconfig.PageSize
	if fileSize%engineconfig.PageSize != 0 {
		n++
	}
	return int(n)
}

// Size stats path and returns its size in bytes.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("runfile: stat %s: %w", path, engineconfig.ErrIO)
	}
	return info.Size(), nil
}

// ReadPage reads and decodes page number `page` (0-based) of the file at
// path. The final page of a file may be shorter than engineconfig.PageSize.
func ReadPage(path string, page int) ([]kv.Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("runfile: open %s: %w", path, engineconfig.ErrIO)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("runfile: stat %s: %w", path, engineconfig.ErrIO)
	}

	offset := int64(page) * engineconfig.PageSize
	if offset >= info.Size() {
		return nil, nil
	}
	length := engineconfig.PageSize
	if remaining := info.Size() - offset; remaining < int64(length) {
		length = int(remaining)
	}

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("runfile: read %s page %d: %w", path, page, engineconfig.ErrIO)
	}
	return kv.DecodeAll(buf)
}

// ReadAll decodes the entire file at path into an ordered pair slice.
func ReadAll(path string) ([]kv.Pair, error) {
	size, err := Size(path)
	if err != nil {
		return nil, err
	}
	pages := PageCount(size)
	out := make([]kv.Pair, 0, size/engineconfig.KVPairSize)
	for p := 0; p < pages; p++ {
		pairs, err := ReadPage(path, p)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

// BinarySearch reports the value stored for key within pairs (sorted
// ascending by key) and whether it was found.
func BinarySearch(pairs []kv.Pair, key int32) (value int32, found bool) {
	i := SearchGE(pairs, key)
	if i < len(pairs) && pairs[i].Key == key {
		return pairs[i].Value, true
	}
	return 0, false
}

// SearchGE returns the index of the smallest entry in pairs (sorted
// ascending by key) whose key is >= target, or len(pairs) if none qualify.
func SearchGE(pairs []kv.Pair, target int32) int {
	return sort.Search(len(pairs), func(i int) bool {
		return pairs[i].Key >= target
	})
}

// Overlaps reports whether the closed interval [firstKey, lastKey] (a run's
// minimum and maximum key) intersects the closed interval [low, high].
func Overlaps(firstKey, lastKey, low, high int32) bool {
	return !(lastKey < low || firstKey > high)
}
