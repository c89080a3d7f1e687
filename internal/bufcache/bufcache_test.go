package bufcache

import (
	"testing"

	"github.com/aklyosov/ikvs/internal/kv"
)

func pairs(n int32) []kv.Pair {
	return []kv.Pair{{Key: n, Value: n * 10}}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(4)
	id := PageID{Level: 0, Run: 1, Page: 2}
	c.Put(id, pairs(7))

	got, ok := c.Get(id)
	if !ok {
		t.Fatal("Get after Put reported miss")
	}
	if len(got) != 1 || got[0].Key != 7 {
		t.Fatalf("Get = %v, want [{7 70}]", got)
	}
}

func TestGetMissOnUnknownPage(t *testing.T) {
	c := New(4)
	if _, ok := c.Get(PageID{Page: 1}); ok {
		t.Fatal("Get on empty cache reported a hit")
	}
}

func TestPutDuplicateIsNoOp(t *testing.T) {
	c := New(4)
	id := PageID{Page: 1}
	c.Put(id, pairs(1))
	c.Put(id, pairs(99))

	got, _ := c.Get(id)
	if got[0].Key != 1 {
		t.Fatalf("second Put overwrote existing frame: got %v", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after duplicate Put", c.Len())
	}
}

func TestUpdateMutatesExistingFrame(t *testing.T) {
	c := New(4)
	id := PageID{Page: 1}
	c.Put(id, pairs(1))
	c.Update(id, pairs(2))

	got, _ := c.Get(id)
	if got[0].Key != 2 {
		t.Fatalf("Update did not take effect: got %v", got)
	}
}

func TestUpdateOnUncachedPageIsNoOp(t *testing.T) {
	c := New(4)
	c.Update(PageID{Page: 1}, pairs(5))
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestInvalidateClearsCache(t *testing.T) {
	c := New(4)
	c.Put(PageID{Page: 1}, pairs(1))
	c.Put(PageID{Page: 2}, pairs(2))
	c.Invalidate()

	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Invalidate", c.Len())
	}
	if _, ok := c.Get(PageID{Page: 1}); ok {
		t.Fatal("Get found a page after Invalidate")
	}
}

func TestCacheNeverExceedsCapacity(t *testing.T) {
	const capacity = 8
	c := New(capacity)
	for i := int32(0); i < capacity*4; i++ {
		c.Put(PageID{Page: i}, pairs(i))
		if c.Len() > capacity {
			t.Fatalf("Len() = %d exceeds capacity %d after inserting page %d", c.Len(), capacity, i)
		}
	}
	if c.Len() != capacity {
		t.Fatalf("Len() = %d, want %d once full", c.Len(), capacity)
	}
}

func TestEvictionKeepsExactlyCapacityPagesResident(t *testing.T) {
	const capacity = 8
	c := New(capacity)
	for i := int32(0); i < capacity; i++ {
		c.Put(PageID{Page: i}, pairs(i))
	}
	for i := int32(capacity); i < capacity*3; i++ {
		c.Put(PageID{Page: i}, pairs(i))
		if c.Len() != capacity {
			t.Fatalf("Len() = %d, want %d after eviction-triggering insert of page %d", c.Len(), capacity, i)
		}
	}
	// The most recently inserted page is always resident: it was just
	// created and nothing evicts what it hasn't yet had a chance to visit.
	last := PageID{Page: capacity*3 - 1}
	if _, ok := c.Get(last); !ok {
		t.Fatal("most recently inserted page is missing from the cache")
	}
}
