package cache

import (
	"expvar"
	"sync"
	"time"
)

var dedupTrackedHashes = expvar.NewInt("wormhole_cache_dedup_tracked_hashes")

// DedupIndex maps each hash persisted in the disk tier to the number of
// live memory-tier entries referencing it. A hash whose refcount drops to
// zero is not deleted immediately: it is marked with the time it hit zero
// so the garbage collector can give it a grace period before reclaiming
// the disk object, in case a new write is about to reference it again.
type DedupIndex struct {
	mu        sync.Mutex
	refs      map[ContentHash]int64
	zeroSince map[ContentHash]time.Time
}

// NewDedupIndex returns an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{
		refs:      map[ContentHash]int64{},
		zeroSince: map[ContentHash]time.Time{},
	}
}

// Increment records a new reference to hash and returns the new count.
func (d *DedupIndex) Increment(hash ContentHash) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[hash]++
	delete(d.zeroSince, hash)
	dedupTrackedHashes.Set(int64(len(d.refs)))
	return d.refs[hash]
}

// Decrement drops one reference to hash. If the count reaches zero, the
// hash is marked with now as its zero-since time for the GC sweep.
func (d *DedupIndex) Decrement(hash ContentHash, now time.Time) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.refs[hash]
	if !ok || n <= 0 {
		return 0
	}
	n--
	if n == 0 {
		delete(d.refs, hash)
		d.zeroSince[hash] = now
	} else {
		d.refs[hash] = n
	}
	dedupTrackedHashes.Set(int64(len(d.refs)))
	return n
}

// RefCount returns the current reference count for hash.
func (d *DedupIndex) RefCount(hash ContentHash) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs[hash]
}

// Sweep returns hashes that have been at zero refcount for at least grace
// and removes them from the index's bookkeeping; the caller is
// responsible for actually deleting the disk object.
func (d *DedupIndex) Sweep(now time.Time, grace time.Duration) []ContentHash {
	d.mu.Lock()
	defer d.mu.Unlock()
	var reclaim []ContentHash
	for hash, since := range d.zeroSince {
		if now.Sub(since) >= grace {
			reclaim = append(reclaim, hash)
			delete(d.zeroSince, hash)
		}
	}
	return reclaim
}
