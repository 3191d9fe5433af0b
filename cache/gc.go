package cache

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DefaultGCInterval is how often the sweeper scans for reclaimable
// objects when the caller doesn't specify one.
const DefaultGCInterval = 1 * time.Minute

// DefaultGCGrace is how long a hash must sit at zero refcount before its
// disk object is reclaimed.
const DefaultGCGrace = 5 * time.Minute

// GC periodically reclaims disk-tier objects whose dedup refcount has
// been zero for longer than the grace period. It holds no locks across
// the actual file deletion, matching the "holds no locks across I/O"
// requirement: DedupIndex.Sweep takes its own lock only long enough to
// snapshot the reclaimable set.
type GC struct {
	Dedup    *DedupIndex
	Disk     *DiskTier
	Interval time.Duration
	Grace    time.Duration
}

// NewGC returns a GC with the given index and disk tier, defaulting
// Interval and Grace if zero.
func NewGC(dedup *DedupIndex, disk *DiskTier, interval, grace time.Duration) *GC {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	if grace <= 0 {
		grace = DefaultGCGrace
	}
	return &GC{Dedup: dedup, Disk: disk, Interval: interval, Grace: grace}
}

// Run blocks, sweeping at Interval until ctx is cancelled.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepOnce()
		}
	}
}

func (g *GC) sweepOnce() {
	reclaim := g.Dedup.Sweep(time.Now(), g.Grace)
	for _, hash := range reclaim {
		if err := g.Disk.Delete(hash); err != nil {
			glog.Errorf("cache: gc failed to delete %x: %v", hash, err)
			continue
		}
		glog.V(1).Infof("cache: gc reclaimed %x", hash)
	}
}
