// Package kv defines the fixed-width key/value pair shared by every layer of
// the store: the memtable, the sorted-run format, the LSM manager, and the
// static B-tree index all operate on kv.Pair.
package kv

import (
	"encoding/binary"

	"github.com/aklyosov/ikvs/internal/engineconfig"
)

const (
	// PageSize is the unit of I/O and of buffer-cache caching.
	PageSize = engineconfig.PageSize

	// PairSize is the on-disk width of one packed (key, value) record.
	PairSize = engineconfig.KVPairSize

	// PairsPerPage is the number of full-size records that fit in PageSize.
	PairsPerPage = PageSize / PairSize

	// Tombstone is the sentinel value denoting logical deletion. It is excluded
	// from the legal value domain.
	Tombstone = int32(-1 << 31)
)

// Pair is an ordered (key, value) record.
type Pair struct {
	Key   int32
	Value int32
}

// IsTombstone reports whether p represents a logical deletion.
func (p Pair) IsTombstone() bool {
	return p.Value == Tombstone
}

// Encode writes p as an 8-byte little-endian record into dst, which must have
// length >= PairSize.
func (p Pair) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Key))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(p.Value))
}

// Decode reads an 8-byte little-endian record from src, which must have
// length >= PairSize.
func Decode(src []byte) Pair {
	return Pair{
		Key:   int32(binary.LittleEndian.Uint32(src[0:4])),
		Value: int32(binary.LittleEndian.Uint32(src[4:8])),
	}
}

// DecodeAll decodes a packed byte slice into pairs, in file order. The slice
// need not be a full page (the last page of a run may be short), but its
// length must be a multiple of PairSize; a partial trailing record is
// ErrCorruption.
func DecodeAll(src []byte) ([]Pair, error) {
	if len(src)%PairSize != 0 {
		return nil, engineconfig.ErrCorruption
	}
	n := len(src) / PairSize
	out := make([]Pair, n)
	for i := 0; i < n; i++ {
		out[i] = Decode(src[i*PairSize : i*PairSize+PairSize])
	}
	return out, nil
}

// EncodeAll packs pairs into a contiguous byte slice in the order given.
func EncodeAll(pairs []Pair) []byte {
	buf := make([]byte, len(pairs)*PairSize)
	for i, p := range pairs {
		p.Encode(buf[i*PairSize : i*PairSize+PairSize])
	}
	return buf
}
