package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asjoyner/wormhole/wire"
)

func nowAt(seconds int64) time.Time { return time.Unix(seconds, 0) }

func newTestCache(t *testing.T, budget uint64, fetch FetchFunc) *Cache {
	t.Helper()
	mem, err := NewMemoryTier(budget)
	if err != nil {
		t.Fatalf("NewMemoryTier: %v", err)
	}
	disk, err := NewDiskTier(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}
	return New(mem, disk, NewDedupIndex(), fetch)
}

func hashOf(data []byte) ContentHash {
	var h ContentHash
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	h[0] = sum
	return h
}

func TestReadMissThenHit(t *testing.T) {
	var fetches int32
	payload := []byte("chunk data")
	c := newTestCache(t, 1<<20, func(ctx context.Context, id wire.ChunkID) ([]byte, ContentHash, error) {
		atomic.AddInt32(&fetches, 1)
		return payload, hashOf(payload), nil
	})

	id := wire.ChunkID{Inode: 5, Index: 0}
	got, err := c.Read(context.Background(), id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Read = %q, want %q", got, payload)
	}

	if _, err := c.Read(context.Background(), id); err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if fetches != 1 {
		t.Fatalf("fetch called %d times, want 1 (second read should hit cache)", fetches)
	}
}

func TestWriteThenMarkFlushedPersistsToDisk(t *testing.T) {
	c := newTestCache(t, 1<<20, nil)
	id := wire.ChunkID{Inode: 1, Index: 0}
	payload := []byte("written data")
	hash := hashOf(payload)

	c.Write(id, payload, hash)
	e, ok := c.mem.Get(id)
	if !ok || e.State != Dirty {
		t.Fatalf("entry after Write: ok=%v state=%v, want Dirty", ok, e.State)
	}

	if err := c.MarkFlushed(id); err != nil {
		t.Fatalf("MarkFlushed: %v", err)
	}
	e2, ok := c.mem.Get(id)
	if !ok || e2.State != Clean {
		t.Fatalf("entry after MarkFlushed: ok=%v state=%v, want Clean", ok, e2.State)
	}
	if !c.disk.Has(hash) {
		t.Fatal("MarkFlushed did not persist to disk tier")
	}
}

func TestInvalidateDropsEntriesAndFlagsDirty(t *testing.T) {
	c := newTestCache(t, 1<<20, nil)
	id := wire.ChunkID{Inode: 7, Index: 0}
	c.Write(id, []byte("dirty"), hashOf([]byte("dirty")))

	res := c.Invalidate(7)
	if !res.HadDirty {
		t.Fatal("Invalidate should report a dropped dirty entry")
	}
	if _, ok := c.mem.Get(id); ok {
		t.Fatal("entry should be gone after Invalidate")
	}
}

func TestInvalidateDecrementsRefcount(t *testing.T) {
	c := newTestCache(t, 1<<20, nil)
	id := wire.ChunkID{Inode: 3, Index: 0}
	payload := []byte("clean data")
	hash := hashOf(payload)
	if err := c.insert(id, hash, payload); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := c.dedup.RefCount(hash); got != 1 {
		t.Fatalf("refcount after insert = %d, want 1", got)
	}

	c.Invalidate(3)
	if got := c.dedup.RefCount(hash); got != 0 {
		t.Fatalf("refcount after invalidate = %d, want 0", got)
	}
}

func TestMemoryTierEvictsCleanUnderBudget(t *testing.T) {
	mem, err := NewMemoryTier(10)
	if err != nil {
		t.Fatalf("NewMemoryTier: %v", err)
	}
	id1 := wire.ChunkID{Inode: 1, Index: 0}
	id2 := wire.ChunkID{Inode: 1, Index: 1}
	if err := mem.PutClean(&Entry{ChunkID: id1, Payload: make([]byte, 8), HasPayload: true}); err != nil {
		t.Fatalf("PutClean 1: %v", err)
	}
	if err := mem.PutClean(&Entry{ChunkID: id2, Payload: make([]byte, 8), HasPayload: true}); err != nil {
		t.Fatalf("PutClean 2: %v", err)
	}
	if _, ok := mem.Get(id1); ok {
		t.Fatal("id1 should have been evicted once budget was exceeded")
	}
	if _, ok := mem.Get(id2); !ok {
		t.Fatal("id2 should still be present")
	}
}

func TestMemoryTierDirtyEntriesArePinned(t *testing.T) {
	mem, err := NewMemoryTier(4)
	if err != nil {
		t.Fatalf("NewMemoryTier: %v", err)
	}
	dirtyID := wire.ChunkID{Inode: 1, Index: 0}
	mem.PutDirty(dirtyID, make([]byte, 8), ContentHash{1})

	cleanID := wire.ChunkID{Inode: 1, Index: 1}
	if err := mem.PutClean(&Entry{ChunkID: cleanID, Payload: make([]byte, 8), HasPayload: true}); err != ErrNoBudget {
		t.Fatalf("PutClean = %v, want ErrNoBudget (only pinned dirty bytes left over budget)", err)
	}

	if _, ok := mem.Get(dirtyID); !ok {
		t.Fatal("dirty entry must not be evicted by clean-tier pressure")
	}
}

func TestDedupIndexSweepRespectsGrace(t *testing.T) {
	d := NewDedupIndex()
	h := ContentHash{9}
	d.Increment(h)
	d.Decrement(h, nowAt(0))

	if got := d.Sweep(nowAt(1), 5*time.Second); len(got) != 0 {
		t.Fatalf("Sweep before grace elapsed returned %d hashes, want 0", len(got))
	}
	got := d.Sweep(nowAt(10), 5*time.Second)
	if len(got) != 1 || got[0] != h {
		t.Fatalf("Sweep after grace elapsed = %v, want [%x]", got, h)
	}
}
