// Package memtable implements the balanced in-memory ordered dictionary that
// absorbs recent writes before they are flushed to a sorted run. It is an
// AVL tree keyed by int32, adapted from the teacher's sorted-slice MemTable
// (lsm.MemTable in the reference corpus) to the self-balancing structure the
// spec requires: in-order traversal strictly increasing, height O(log n).
package memtable

import "github.com/aklyosov/ikvs/internal/kv"

type node struct {
	key         int32
	value       int32
	height      int
	left, right *node
}

// MemTable is a fixed-capacity, self-balancing ordered dictionary of KV
// pairs. It is not safe for concurrent use; the façade that owns a MemTable
// is itself single-threaded (see SPEC_FULL.md §5).
type MemTable struct {
	root     *node
	size     int
	capacity int
}

// New creates an empty memtable with the given capacity.
func New(capacity int) *MemTable {
	return &MemTable{capacity: capacity}
}

// Insert adds or replaces key's value and reports whether the memtable is at
// or beyond capacity after the call. Replacing an existing key's value never
// increments size and never changes the tree's shape.
func (m *MemTable) Insert(key, value int32) (full bool) {
	var grew bool
	m.root, grew = insert(m.root, key, value)
	if grew {
		m.size++
	}
	return m.size >= m.capacity
}

// Get returns the value stored for key, or (0, false) if key is absent.
func (m *MemTable) Get(key int32) (int32, bool) {
	n := m.root
	for n != nil {
		switch {
		case key == n.key:
			return n.value, true
		case key < n.key:
			n = n.left
		default:
			n = n.right
		}
	}
	return 0, false
}

// Len returns the number of distinct keys currently held.
func (m *MemTable) Len() int {
	return m.size
}

// Height returns the tree's height, for verifying the O(log n) balance
// invariant in tests; it is not part of the operational surface.
func (m *MemTable) Height() int {
	return height(m.root)
}

// ScanAll returns every pair in ascending key order.
func (m *MemTable) ScanAll() []kv.Pair {
	return m.ScanRange(minKey, maxKey)
}

const (
	minKey = int32(-1 << 31)
	maxKey = int32(1<<31 - 1)
)

// ScanRange returns every pair whose key lies in [low, high], ascending by
// key. An empty slice (never nil) is returned for low > high.
func (m *MemTable) ScanRange(low, high int32) []kv.Pair {
	out := make([]kv.Pair, 0)
	if low > high {
		return out
	}
	scanRange(m.root, low, high, &out)
	return out
}

func scanRange(n *node, low, high int32, out *[]kv.Pair) {
	if n == nil {
		return
	}
	if n.key > low {
		scanRange(n.left, low, high, out)
	}
	if n.key >= low && n.key <= high {
		*out = append(*out, kv.Pair{Key: n.key, Value: n.value})
	}
	if n.key < high {
		scanRange(n.right, low, high, out)
	}
}

// insert returns the new subtree root and whether a new key was added
// (as opposed to an existing key's value being replaced in place).
func insert(n *node, key, value int32) (*node, bool) {
	if n == nil {
		return &node{key: key, value: value, height: 1}, true
	}

	var grew bool
	switch {
	case key == n.key:
		n.value = value
		return n, false
	case key < n.key:
		n.left, grew = insert(n.left, key, value)
	default:
		n.right, grew = insert(n.right, key, value)
	}

	return rebalance(n), grew
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func balanceFactor(n *node) int {
	return height(n.left) - height(n.right)
}

func updateHeight(n *node) {
	l, r := height(n.left), height(n.right)
	if l > r {
		n.height = l + 1
	} else {
		n.height = r + 1
	}
}

// rebalance restores the AVL balance-factor invariant {-1, 0, +1} at n,
// rotating as needed, and returns the (possibly new) subtree root.
func rebalance(n *node) *node {
	updateHeight(n)
	bf := balanceFactor(n)

	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

func rotateRight(n *node) *node {
	l := n.left
	n.left = l.right
	l.right = n
	updateHeight(n)
	updateHeight(l)
	return l
}

func rotateLeft(n *node) *node {
	r := n.right
	n.right = r.left
	r.left = n
	updateHeight(n)
	updateHeight(r)
	return r
}
