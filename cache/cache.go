package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asjoyner/wormhole/wire"
)

// FetchFunc fetches a chunk's payload over the network, returning its
// content hash for dedup bookkeeping. It is supplied by the transport
// layer; the cache never opens a connection itself.
type FetchFunc func(ctx context.Context, id wire.ChunkID) (payload []byte, hash ContentHash, err error)

// Cache is the coordinator described in 4.E: a memory LRU in front of a
// content-addressed disk tier, with dedup refcounting and single-flight
// coalescing of concurrent misses for the same chunk.
type Cache struct {
	mem   *MemoryTier
	disk  *DiskTier
	dedup *DedupIndex
	fetch FetchFunc
	sf    singleflight.Group
}

// New returns a Cache backed by the given tiers. fetch is invoked at most
// once per outstanding miss on any given ChunkID, regardless of how many
// concurrent readers asked for it.
func New(mem *MemoryTier, disk *DiskTier, dedup *DedupIndex, fetch FetchFunc) *Cache {
	return &Cache{mem: mem, disk: disk, dedup: dedup, fetch: fetch}
}

func sfKey(id wire.ChunkID) string {
	return fmt.Sprintf("%d:%d", id.Inode, id.Index)
}

// Read returns the payload for id, consulting memory, then disk, then
// falling back to a single coalesced network fetch on a full miss.
func (c *Cache) Read(ctx context.Context, id wire.ChunkID) ([]byte, error) {
	if e, ok := c.mem.Get(id); ok {
		if e.HasPayload {
			return e.Payload, nil
		}
		// Memory knows the hash but not the payload: it was evicted to
		// disk. Promote it back rather than going to the network.
		data, err := c.disk.Get(e.Hash)
		if err == nil {
			e.Payload = data
			e.HasPayload = true
			if e.State == Clean {
				c.mem.PutClean(e)
			}
			return data, nil
		}
	}

	v, err, _ := c.sf.Do(sfKey(id), func() (interface{}, error) {
		payload, hash, err := c.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := c.insert(id, hash, payload); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// insert records a freshly fetched chunk: bump its dedup refcount,
// persist to disk if new, and cache the payload in memory as Clean.
func (c *Cache) insert(id wire.ChunkID, hash ContentHash, payload []byte) error {
	c.dedup.Increment(hash)
	if !c.disk.Has(hash) {
		if err := c.disk.Put(hash, payload); err != nil {
			return fmt.Errorf("cache: persist chunk: %w", err)
		}
	}
	return c.mem.PutClean(&Entry{ChunkID: id, Hash: hash, Payload: payload, HasPayload: true})
}

// Write records a local write: the entry becomes Dirty and pinned until
// the sync engine flushes it. The hash previously backing this chunk (if
// any) has its dedup refcount decremented, since this chunk's content no
// longer references it.
func (c *Cache) Write(id wire.ChunkID, payload []byte, hash ContentHash) {
	prev, hadPrev := c.mem.PutDirty(id, payload, hash)
	if hadPrev && prev != hash {
		c.dedup.Decrement(prev, time.Now())
	}
}

// DirtyPayload returns the pinned payload for a dirty chunk, for the sync
// engine to flush.
func (c *Cache) DirtyPayload(id wire.ChunkID) ([]byte, bool) {
	e, ok := c.mem.GetDirty(id)
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// DirtyIDs lists every chunk currently pinned dirty.
func (c *Cache) DirtyIDs() []wire.ChunkID { return c.mem.DirtyIDs() }

// MarkFlushed transitions id back to Clean after the sync engine
// confirms the host has durably stored it, and persists the payload to
// disk so later evictions don't lose it.
func (c *Cache) MarkFlushed(id wire.ChunkID) error {
	e, ok := c.mem.Get(id)
	if !ok {
		return fmt.Errorf("cache: MarkFlushed: %v not cached", id)
	}
	c.dedup.Increment(e.Hash)
	if !c.disk.Has(e.Hash) {
		if err := c.disk.Put(e.Hash, e.Payload); err != nil {
			return fmt.Errorf("cache: persist flushed chunk: %w", err)
		}
	}
	c.mem.MarkClean(id)
	return nil
}

// InvalidateResult reports what Invalidate did, so the sync engine can
// surface a conflict for any dirty chunk that got dropped out from under
// it.
type InvalidateResult struct {
	Inode      wire.Inode
	HadDirty   bool
	DroppedNum int
}

// Invalidate drops cached entries for inode and decrements their dedup
// refcounts. If any dropped entry was dirty, HadDirty is set so the
// caller can raise a conflict to the sync engine, per 4.E.
func (c *Cache) Invalidate(inode wire.Inode) InvalidateResult {
	hashes, hadDirty := c.mem.InvalidateInode(inode)
	now := time.Now()
	for _, h := range hashes {
		c.dedup.Decrement(h, now)
	}
	return InvalidateResult{Inode: inode, HadDirty: hadDirty, DroppedNum: len(hashes)}
}

// DirtyBytes exposes the memory tier's pinned-byte total for the sync
// engine's backpressure watermarks.
func (c *Cache) DirtyBytes() uint64 { return c.mem.DirtyBytes() }
