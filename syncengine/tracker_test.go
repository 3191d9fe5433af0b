package syncengine

import (
	"testing"

	"github.com/asjoyner/wormhole/wire"
)

func TestDirtyTrackerGroupsContiguousIndices(t *testing.T) {
	tr := NewDirtyTracker()
	tr.Add(wire.ChunkID{Inode: 1, Index: 0})
	tr.Add(wire.ChunkID{Inode: 1, Index: 1})
	tr.Add(wire.ChunkID{Inode: 1, Index: 2})
	tr.Add(wire.ChunkID{Inode: 1, Index: 5}) // not contiguous

	ino, batch, ok := tr.NextBatch(10)
	if !ok {
		t.Fatal("expected a batch")
	}
	if ino != 1 {
		t.Fatalf("inode = %d, want 1", ino)
	}
	if len(batch) != 3 || batch[0] != 0 || batch[2] != 2 {
		t.Fatalf("batch = %v, want [0 1 2]", batch)
	}
}

func TestDirtyTrackerBatchBoundedByMax(t *testing.T) {
	tr := NewDirtyTracker()
	for i := uint64(0); i < 10; i++ {
		tr.Add(wire.ChunkID{Inode: 1, Index: i})
	}
	_, batch, ok := tr.NextBatch(3)
	if !ok || len(batch) != 3 {
		t.Fatalf("batch len = %d, want 3", len(batch))
	}
}

func TestDirtyTrackerRemove(t *testing.T) {
	tr := NewDirtyTracker()
	tr.Add(wire.ChunkID{Inode: 1, Index: 0})
	tr.Remove(wire.ChunkID{Inode: 1, Index: 0})
	if tr.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after removing the only dirty chunk", tr.Len())
	}
}

func TestDirtyTrackerRemoveInode(t *testing.T) {
	tr := NewDirtyTracker()
	tr.Add(wire.ChunkID{Inode: 1, Index: 0})
	tr.Add(wire.ChunkID{Inode: 1, Index: 1})
	tr.Add(wire.ChunkID{Inode: 2, Index: 0})
	tr.RemoveInode(1)
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after RemoveInode(1)", tr.Len())
	}
}

func TestEmptyTrackerNextBatch(t *testing.T) {
	tr := NewDirtyTracker()
	if _, _, ok := tr.NextBatch(10); ok {
		t.Fatal("NextBatch on empty tracker should report ok=false")
	}
}
