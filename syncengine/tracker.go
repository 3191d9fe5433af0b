// Package syncengine batches dirty chunks per file and flushes them to
// the host, retrying transient failures with backoff and applying
// backpressure when too much dirty data has piled up.
package syncengine

import (
	"sort"
	"sync"

	"github.com/asjoyner/wormhole/wire"
)

// DirtyTracker records which chunk indices are dirty for which inodes, in
// (inode, index) order, so the runner can group adjacent dirty chunks of
// the same file into one batch.
type DirtyTracker struct {
	mu    sync.Mutex
	dirty map[wire.Inode]map[uint64]struct{}
}

// NewDirtyTracker returns an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{dirty: map[wire.Inode]map[uint64]struct{}{}}
}

// Add marks one chunk dirty.
func (t *DirtyTracker) Add(id wire.ChunkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.dirty[id.Inode]
	if !ok {
		m = map[uint64]struct{}{}
		t.dirty[id.Inode] = m
	}
	m[id.Index] = struct{}{}
}

// Remove clears one chunk's dirty bit, e.g. after a successful flush.
func (t *DirtyTracker) Remove(id wire.ChunkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.dirty[id.Inode]
	if !ok {
		return
	}
	delete(m, id.Index)
	if len(m) == 0 {
		delete(t.dirty, id.Inode)
	}
}

// RemoveInode drops every dirty bit for inode, e.g. on an invalidation
// conflict the sync engine can no longer resolve.
func (t *DirtyTracker) RemoveInode(inode wire.Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirty, inode)
}

// NextBatch returns one inode with dirty chunks and the contiguous run of
// dirty indices starting at its lowest dirty index, bounded to at most
// maxChunks entries. It returns ok=false if nothing is dirty.
func (t *DirtyTracker) NextBatch(maxChunks int) (inode wire.Inode, indices []uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ino, m := range t.dirty {
		return ino, contiguousBatchLocked(m, maxChunks), true
	}
	return 0, nil, false
}

// BatchForInode is NextBatch narrowed to one inode, for a caller (such as
// a synchronous flush-on-close) that needs to drain a specific file
// rather than whichever one the tracker picks next.
func (t *DirtyTracker) BatchForInode(inode wire.Inode, maxChunks int) (indices []uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.dirty[inode]
	if !ok {
		return nil, false
	}
	return contiguousBatchLocked(m, maxChunks), true
}

// contiguousBatchLocked returns the contiguous run of indices in m starting
// at its lowest entry, bounded to maxChunks. Callers must hold t.mu.
func contiguousBatchLocked(m map[uint64]struct{}, maxChunks int) []uint64 {
	sorted := make([]uint64, 0, len(m))
	for idx := range m {
		sorted = append(sorted, idx)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	batch := []uint64{sorted[0]}
	for i := 1; i < len(sorted) && len(batch) < maxChunks; i++ {
		if sorted[i] == batch[len(batch)-1]+1 {
			batch = append(batch, sorted[i])
		} else {
			break
		}
	}
	return batch
}

// Len reports how many inodes currently have at least one dirty chunk.
func (t *DirtyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}
