// Package flatstore implements the flat-layout Sorted Run Store: an
// append-only, ever-growing sequence of immutable runs sst-1..sst-N, read
// newest-to-oldest on lookup. Grounded on the teacher's lsm.LSM top-level
// manager (lsm.go in the reference corpus) for its Config/DefaultConfig
// shape and directory-management style, adapted from the teacher's leveled
// design down to a single flat run sequence per SPEC_FULL.md §4.2.
package flatstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aklyosov/ikvs/internal/bufcache"
	"github.com/aklyosov/ikvs/internal/engineconfig"
	"github.com/aklyosov/ikvs/internal/kv"
	"github.com/aklyosov/ikvs/internal/runfile"
)

// Config bundles a Store's fixed parameters, mirroring the teacher's
// Config/DefaultConfig idiom.
type Config struct {
	DataDir        string
	BufferCapacity int
}

// DefaultConfig returns sensible defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{DataDir: dataDir, BufferCapacity: 256}
}

// Store manages the flat sequence of sorted runs under DataDir.
type Store struct {
	cfg   Config
	log   zerolog.Logger
	cache *bufcache.Cache
	n     int
}

// Open loads (or initializes) a flat store rooted at cfg.DataDir.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("flatstore: mkdir %s: %w", cfg.DataDir, engineconfig.ErrIO)
	}
	s := &Store{
		cfg:   cfg,
		log:   log.With().Str("component", "flatstore").Logger(),
		cache: bufcache.New(cfg.BufferCapacity),
	}
	n, err := readMetadata(s.metadataPath())
	if err != nil {
		return nil, err
	}
	s.n = n
	return s, nil
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.cfg.DataDir, engineconfig.MetadataFileName)
}

func (s *Store) runPath(idx int) string {
	return filepath.Join(s.cfg.DataDir, "sst-"+strconv.Itoa(idx))
}

// RunPath returns the filesystem path of run idx, exported for the static
// B-tree builder.
func (s *Store) RunPath(idx int) string {
	return s.runPath(idx)
}

func readMetadata(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("flatstore: read metadata: %w", engineconfig.ErrIO)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("flatstore: parse metadata: %w", engineconfig.ErrCorruption)
	}
	return n, nil
}

func (s *Store) writeMetadata() error {
	data := []byte(strconv.Itoa(s.n))
	if err := os.WriteFile(s.metadataPath(), data, 0o644); err != nil {
		return fmt.Errorf("flatstore: write metadata: %w", engineconfig.ErrIO)
	}
	return nil
}

// Save writes pairs as a new run and increments N. An empty pairs slice is
// a no-op that returns success.
func (s *Store) Save(pairs []kv.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	idx := s.n + 1
	if err := runfile.Write(s.runPath(idx), pairs); err != nil {
		return err
	}
	s.n = idx
	if err := s.writeMetadata(); err != nil {
		return err
	}
	s.log.Debug().Int("run", idx).Int("pairs", len(pairs)).Msg("flushed run")
	return nil
}

// Metadata returns the current run count.
func (s *Store) Metadata() (int, error) {
	return s.n, nil
}

// ReadPage reads page `page` of run `idx`, consulting the buffer cache
// first and inserting on miss.
func (s *Store) ReadPage(idx, page int) ([]kv.Pair, error) {
	id := bufcache.PageID{Level: 0, Run: int32(idx), Page: int32(page)}
	if pairs, ok := s.cache.Get(id); ok {
		return pairs, nil
	}
	pairs, err := runfile.ReadPage(s.runPath(idx), page)
	if err != nil {
		return nil, err
	}
	s.cache.Put(id, pairs)
	return pairs, nil
}

// ReadRun reads every page of run idx in order.
func (s *Store) ReadRun(idx int) ([]kv.Pair, error) {
	size, err := runfile.Size(s.runPath(idx))
	if err != nil {
		return nil, err
	}
	pages := runfile.PageCount(size)
	out := make([]kv.Pair, 0, size/engineconfig.KVPairSize)
	for p := 0; p < pages; p++ {
		pairs, err := s.ReadPage(idx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

// Get searches runs newest to oldest for key. A tombstone is reported as
// found=true with Value == kv.Tombstone; the façade interprets it.
func (s *Store) Get(key int32) (value int32, found bool, err error) {
	for idx := s.n; idx >= 1; idx-- {
		pairs, err := s.ReadRun(idx)
		if err != nil {
			return 0, false, err
		}
		if v, ok := runfile.BinarySearch(pairs, key); ok {
			return v, true, nil
		}
	}
	return 0, false, nil
}

// Scan returns every pair with key in [low, high], ascending by key,
// deduplicated so a key already satisfied by a fresher run is not
// re-emitted by an older one.
func (s *Store) Scan(low, high int32) ([]kv.Pair, error) {
	if low > high {
		return nil, nil
	}

	visited := make(map[int32]struct{})
	var out []kv.Pair
	for idx := s.n; idx >= 1; idx-- {
		pairs, err := s.ReadRun(idx)
		if err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			continue
		}
		if !runfile.Overlaps(pairs[0].Key, pairs[len(pairs)-1].Key, low, high) {
			continue
		}
		start := runfile.SearchGE(pairs, low)
		for i := start; i < len(pairs) && pairs[i].Key <= high; i++ {
			if _, seen := visited[pairs[i].Key]; seen {
				continue
			}
			visited[pairs[i].Key] = struct{}{}
			out = append(out, pairs[i])
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteFiles removes the entire database directory.
func (s *Store) DeleteFiles() error {
	if err := os.RemoveAll(s.cfg.DataDir); err != nil {
		return fmt.Errorf("flatstore: remove %s: %w", s.cfg.DataDir, engineconfig.ErrIO)
	}
	s.cache.Invalidate()
	s.n = 0
	return nil
}

// RunPaths returns the filesystem path of every currently existing run, in
// ascending run-index order. Used by the static B-tree builder.
func (s *Store) RunPaths() []string {
	paths := make([]string, 0, s.n)
	for idx := 1; idx <= s.n; idx++ {
		paths = append(paths, s.runPath(idx))
	}
	return paths
}

// RunIndices returns every currently existing run index, ascending.
func (s *Store) RunIndices() []int {
	indices := make([]int, 0, s.n)
	for idx := 1; idx <= s.n; idx++ {
		indices = append(indices, idx)
	}
	return indices
}
