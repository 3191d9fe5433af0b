package cache

import (
	"expvar"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/asjoyner/wormhole/wire"
)

var (
	memCleanChunks = expvar.NewInt("wormhole_cache_memory_clean_chunks")
	memDirtyChunks = expvar.NewInt("wormhole_cache_memory_dirty_chunks")
	memUsedBytes   = expvar.NewInt("wormhole_cache_memory_used_bytes")
)

// ErrNoBudget is returned by PutClean when the byte budget cannot be
// satisfied because every clean entry has already been evicted and the
// memory tier is still over budget.
var ErrNoBudget = fmt.Errorf("cache: memory budget exhausted, no clean entries left to evict")

// MemoryTier is the LRU front tier of the chunk cache. Clean entries are
// evicted oldest-first once the byte budget is exceeded; dirty entries are
// pinned and never evicted, matching spec: "Dirty entries are pinned."
//
// The clean side is modeled directly on drive/memory's chunk LRU: an
// unbounded-count LRU whose eviction callback decrements a running byte
// total, with a WaitGroup so a forced eviction loop can block until the
// callback has actually run.
type MemoryTier struct {
	mu         sync.Mutex
	budget     uint64
	used       uint64
	clean      *lru.Cache // wire.ChunkID -> *Entry
	dirty      map[wire.ChunkID]*Entry
	wg         sync.WaitGroup
	evictGuard sync.Mutex
}

// NewMemoryTier returns a tier whose clean entries are capped at budget
// bytes. Dirty entries are unbounded; the sync engine's high/low-water
// marks are the backpressure mechanism for those.
func NewMemoryTier(budget uint64) (*MemoryTier, error) {
	m := &MemoryTier{budget: budget, dirty: map[wire.ChunkID]*Entry{}}
	clean, err := lru.NewWithEvict(math.MaxInt64, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: init memory tier: %w", err)
	}
	m.clean = clean
	return m, nil
}

func (m *MemoryTier) onEvict(key, value interface{}) {
	e := value.(*Entry)
	m.used -= e.size()
	m.wg.Done()
}

// Get returns the entry for id, checking dirty entries first since they
// are always the freshest.
func (m *MemoryTier) Get(id wire.ChunkID) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.dirty[id]; ok {
		return e, true
	}
	if v, ok := m.clean.Get(id); ok {
		return v.(*Entry), true
	}
	return nil, false
}

// PutClean inserts or replaces a clean entry, evicting older clean entries
// until the byte budget is satisfied. It returns ErrNoBudget if no clean
// entries remain to evict and the tier is still over budget (all
// remaining space is consumed by pinned dirty entries).
func (m *MemoryTier) PutClean(e *Entry) error {
	e.State = Clean
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.dirty, e.ChunkID)
	if old, ok := m.clean.Peek(e.ChunkID); ok {
		m.used -= old.(*Entry).size()
		m.clean.Remove(e.ChunkID)
	}
	m.used += e.size()
	m.clean.Add(e.ChunkID, e)
	m.updateStats()

	return m.evictToBudgetLocked()
}

// evictToBudgetLocked must be called with m.mu held. The LRU invokes
// onEvict synchronously from within RemoveOldest, so the WaitGroup is
// already satisfied by the time Wait runs; it exists to make that
// synchronous contract explicit rather than to cross a goroutine boundary.
func (m *MemoryTier) evictToBudgetLocked() error {
	for m.used > m.budget {
		if m.clean.Len() == 0 {
			return ErrNoBudget
		}
		m.wg.Add(1)
		m.clean.RemoveOldest()
		m.wg.Wait()
	}
	m.updateStats()
	return nil
}

// PutDirty marks (or replaces) the entry for id as dirty and pinned,
// returning the previous hash if one was cached so the caller can
// decrement its dedup refcount.
func (m *MemoryTier) PutDirty(id wire.ChunkID, payload []byte, hash ContentHash) (prevHash ContentHash, hadPrev bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.clean.Peek(id); ok {
		prevHash, hadPrev = old.(*Entry).Hash, true
		m.used -= old.(*Entry).size()
		m.clean.Remove(id)
	} else if old, ok := m.dirty[id]; ok {
		prevHash, hadPrev = old.Hash, true
		m.used -= old.size()
	}

	e := &Entry{ChunkID: id, Hash: hash, Payload: payload, State: Dirty, HasPayload: true}
	m.dirty[id] = e
	m.used += e.size()
	m.updateStats()
	return prevHash, hadPrev
}

// GetDirty returns the dirty entry for id, if any, without touching the
// clean tier. The sync engine uses this to read back a pinned payload it
// needs to flush.
func (m *MemoryTier) GetDirty(id wire.ChunkID) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dirty[id]
	return e, ok
}

// DirtyIDs returns the ChunkIDs currently pinned dirty, for enumerating
// what the sync engine still has to flush after a restart.
func (m *MemoryTier) DirtyIDs() []wire.ChunkID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]wire.ChunkID, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	return ids
}

// MarkClean transitions a dirty, flushed entry back to Clean and unpins
// it, making it eligible for LRU eviction again.
func (m *MemoryTier) MarkClean(id wire.ChunkID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dirty[id]
	if !ok {
		return
	}
	delete(m.dirty, id)
	e.State = Clean
	m.clean.Add(id, e)
	m.updateStats()
	m.evictToBudgetLocked()
}

// InvalidateInode drops every memory entry (clean or dirty) belonging to
// inode. It returns the hashes of dropped clean entries (for dedup
// refcount decrement) and whether any dirty entry was dropped, which the
// caller surfaces to the sync engine as a conflict.
func (m *MemoryTier) InvalidateInode(inode wire.Inode) (droppedHashes []ContentHash, hadDirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range m.clean.Keys() {
		id := k.(wire.ChunkID)
		if id.Inode != inode {
			continue
		}
		v, _ := m.clean.Peek(id)
		e := v.(*Entry)
		droppedHashes = append(droppedHashes, e.Hash)
		m.used -= e.size()
		m.clean.Remove(id)
	}
	for id, e := range m.dirty {
		if id.Inode != inode {
			continue
		}
		hadDirty = true
		m.used -= e.size()
		delete(m.dirty, id)
	}
	m.updateStats()
	return droppedHashes, hadDirty
}

func (m *MemoryTier) updateStats() {
	memCleanChunks.Set(int64(m.clean.Len()))
	memDirtyChunks.Set(int64(len(m.dirty)))
	memUsedBytes.Set(int64(m.used))
}

// DirtyBytes returns the total size of all pinned dirty entries, the
// input to the sync engine's high/low-water backpressure.
func (m *MemoryTier) DirtyBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, e := range m.dirty {
		total += e.size()
	}
	return total
}
