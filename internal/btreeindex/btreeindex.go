// Package btreeindex builds and searches the static, read-only B-tree index
// over an existing sorted run: a dense, right-justified tree built
// bottom-up in one pass, leaves pointing at SRS pages and internal nodes
// pointing at child B-tree pages one level down. Grounded on the teacher's btree.Page
// fixed-size page encoding (btree/page.go in the reference corpus) for its
// header-plus-packed-records layout, but rebuilt as a write-once structure:
// the teacher's btree is a mutable B+tree with splits, merges, and a WAL;
// this index is built in a single bottom-up pass over an immutable run and
// never mutated afterward (SPEC_FULL.md §4.4).
package btreeindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/aklyosov/ikvs/internal/engineconfig"
)

// pageBytes is the fixed size of one B-tree page on disk: a 4-byte entry
// count followed by up to FanOut (key, child) records, zero-padded.
const pageBytes = 4 + engineconfig.PageSize

// Entry is one (key, child) record of a B-tree page. For a leaf page,
// Child is a non-negative SRS page index. For an internal page, Child is
// negative; the referenced B-tree page is -Child-1.
type Entry struct {
	Key   int32
	Child int32
}

type page = []Entry

// Build constructs a static B-tree file at path from pageMaxKeys, the
// maximum key stored on each SRS page of a run, in SRS page order.
func Build(path string, pageMaxKeys []int32) error {
	leaf := make(page, len(pageMaxKeys))
	for p, k := range pageMaxKeys {
		leaf[p] = Entry{Key: k, Child: int32(p)}
	}

	tiers := [][]page{paginate(leaf)}
	current := tiers[0]
	for len(current) > 1 {
		// One parent entry per child page: its key is the child's maximum
		// key, its Child the child's index within the current level.
		parent := make(page, 0, len(current))
		for idx, child := range current {
			maxKey := child[len(child)-1].Key
			parent = append(parent, Entry{Key: maxKey, Child: -(int32(idx) + 1)})
		}
		parentPages := paginate(parent)
		tiers = append(tiers, parentPages)
		current = parentPages
	}

	// tiers is bottom-up (leaves first, root last); write order is
	// root-first, so reverse.
	levels := make([][]page, len(tiers))
	for i, t := range tiers {
		levels[len(tiers)-1-i] = t
	}

	offsets := make([]int, len(levels))
	running := 0
	for i, lvl := range levels {
		offsets[i] = running
		running += len(lvl)
	}

	// Rebase every internal level's child offsets (relative to the next
	// level down) into absolute page indices within the file.
	for i := 0; i < len(levels)-1; i++ {
		childLevelOffset := int32(offsets[i+1])
		for _, pg := range levels[i] {
			for j := range pg {
				groupStart := -pg[j].Child - 1
				abs := childLevelOffset + groupStart
				pg[j].Child = -(abs + 1)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("btreeindex: create %s: %w", path, engineconfig.ErrIO)
	}
	defer f.Close()

	for _, lvl := range levels {
		for _, pg := range lvl {
			if _, err := f.Write(encodePage(pg)); err != nil {
				return fmt.Errorf("btreeindex: write %s: %w", path, engineconfig.ErrIO)
			}
		}
	}
	return nil
}

// paginate groups entries into pages of up to engineconfig.FanOut entries
// each, in order; the last page may be short. An empty input still yields
// one (empty) page, so a zero-page run still has a valid root.
func paginate(entries page) []page {
	if len(entries) == 0 {
		return []page{{}}
	}
	var pages []page
	for start := 0; start < len(entries); start += engineconfig.FanOut {
		end := start + engineconfig.FanOut
		if end > len(entries) {
			end = len(entries)
		}
		pages = append(pages, entries[start:end])
	}
	return pages
}

func encodePage(pg page) []byte {
	buf := make([]byte, pageBytes)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(pg)))
	off := 4
	for _, e := range pg {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(e.Key))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(e.Child))
		off += 8
	}
	return buf
}

func decodePage(buf []byte) (page, error) {
	if len(buf) != pageBytes {
		return nil, engineconfig.ErrCorruption
	}
	size := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if size < 0 || int(size) > engineconfig.FanOut {
		return nil, engineconfig.ErrCorruption
	}
	pg := make(page, size)
	off := 4
	for i := 0; i < int(size); i++ {
		key := int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		child := int32(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		pg[i] = Entry{Key: key, Child: child}
		off += 8
	}
	return pg, nil
}

// ReadPage reads and decodes B-tree page pageIdx of the file at path.
func ReadPage(path string, pageIdx int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("btreeindex: open %s: %w", path, engineconfig.ErrIndexMissing)
	}
	defer f.Close()

	buf := make([]byte, pageBytes)
	if _, err := f.ReadAt(buf, int64(pageIdx)*int64(pageBytes)); err != nil {
		return nil, fmt.Errorf("btreeindex: read %s page %d: %w", path, pageIdx, engineconfig.ErrIO)
	}
	return decodePage(buf)
}

// Lookup descends the B-tree at path for key. ok reports whether this run's
// index places key on SRS page srsPage; the caller must still read that
// page and confirm an exact match (the B-tree only narrows to a page, per
// SPEC_FULL.md §4.4). ok=false means the key cannot be present in this run.
func Lookup(path string, key int32) (srsPage int, ok bool, err error) {
	if _, err := os.Stat(path); err != nil {
		return 0, false, fmt.Errorf("btreeindex: %s: %w", path, engineconfig.ErrIndexMissing)
	}

	pageIdx := 0
	for {
		pg, err := ReadPage(path, pageIdx)
		if err != nil {
			return 0, false, err
		}
		if len(pg) == 0 {
			return 0, false, nil
		}
		if pg[len(pg)-1].Key < key {
			return 0, false, nil
		}

		i := sort.Search(len(pg), func(j int) bool { return pg[j].Key >= key })
		if isLeaf(pg) {
			return int(pg[i].Child), true, nil
		}
		pageIdx = int(-pg[i].Child - 1)
	}
}

func isLeaf(pg page) bool {
	return pg[0].Child >= 0
}
