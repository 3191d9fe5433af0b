package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/golang/glog"

	"github.com/asjoyner/wormhole/cache"
	"github.com/asjoyner/wormhole/lock"
	"github.com/asjoyner/wormhole/wire"
)

// errLockBusy is returned internally by drainBatch when the local,
// in-process lock for an inode is already held by a concurrent drain or
// an in-flight Flush call. It is never reported via SyncFailedFunc: the
// caller either retries the ticker's next tick, or, for Flush, waits and
// tries again.
var errLockBusy = errors.New("syncengine: inode lock busy")

// DefaultMaxBatchChunks bounds how many contiguous dirty chunks are
// flushed in a single WriteChunk sequence.
const DefaultMaxBatchChunks = 32

// DefaultMaxAttempts bounds retries before a batch surfaces SyncFailed.
const DefaultMaxAttempts = 8

// DefaultHighWaterBytes is the dirty-byte threshold above which new
// writes block until the runner drains below DefaultLowWaterBytes.
const (
	DefaultHighWaterBytes = 64 * 1024 * 1024
	DefaultLowWaterBytes  = 32 * 1024 * 1024
)

// FlushFunc issues WriteChunk for each (inode, index) in order and returns
// the file's new size if the batch extended it. token is the engine's own
// local lock token for inode, not a grant issued by the host.
type FlushFunc func(ctx context.Context, token wire.LockToken, inode wire.Inode, indices []uint64, payloads [][]byte) (newSize uint64, hasNewSize bool, err error)

// SyncFailedFunc is invoked when a batch exhausts its retry budget; the
// filesystem layer uses this to surface an I/O error to the caller that
// originally issued the write.
type SyncFailedFunc func(inode wire.Inode, indices []uint64, err error)

// Engine runs the background flush loop described in spec.md section 4.G.
type Engine struct {
	tracker *DirtyTracker
	cache   *cache.Cache
	locks   *lock.Manager
	flush   FlushFunc
	onFail  SyncFailedFunc

	clientID string
	progress *TransferProgressTracker

	maxBatchChunks int
	maxAttempts    int
	highWater      uint64
	lowWater       uint64

	cond    *sync.Cond
	drainMu sync.Mutex
	stop    chan struct{}
}

// Config collects Engine construction parameters that have sensible
// defaults when left zero.
type Config struct {
	ClientID       string
	MaxBatchChunks int
	MaxAttempts    int
	HighWaterBytes uint64
	LowWaterBytes  uint64
}

// New returns a ready Engine. Run must be called to start the background
// flush loop.
func New(c *cache.Cache, locks *lock.Manager, flush FlushFunc, onFail SyncFailedFunc, cfg Config) *Engine {
	if cfg.MaxBatchChunks <= 0 {
		cfg.MaxBatchChunks = DefaultMaxBatchChunks
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HighWaterBytes == 0 {
		cfg.HighWaterBytes = DefaultHighWaterBytes
	}
	if cfg.LowWaterBytes == 0 {
		cfg.LowWaterBytes = DefaultLowWaterBytes
	}
	e := &Engine{
		tracker:        NewDirtyTracker(),
		cache:          c,
		locks:          locks,
		flush:          flush,
		onFail:         onFail,
		clientID:       cfg.ClientID,
		progress:       NewTransferProgressTracker(),
		maxBatchChunks: cfg.MaxBatchChunks,
		maxAttempts:    cfg.MaxAttempts,
		highWater:      cfg.HighWaterBytes,
		lowWater:       cfg.LowWaterBytes,
		stop:           make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.drainMu)
	return e
}

// Progress returns the tracker reporting bytes-flushed/total per inode
// across the batches this Engine has drained.
func (e *Engine) Progress() *TransferProgressTracker { return e.progress }

// MarkDirty records a write: the chunk is cached as Dirty (by the
// caller, via cache.Write) and enqueued here for the flush loop to pick
// up.
func (e *Engine) MarkDirty(id wire.ChunkID) {
	e.tracker.Add(id)
}

// WaitForCapacity blocks callers issuing new writes once dirty bytes
// exceed the high-water mark, until the runner has drained below the
// low-water mark, implementing the backpressure policy in 4.G and 5. It
// returns ctx's error if ctx ends first.
func (e *Engine) WaitForCapacity(ctx context.Context) error {
	if e.cache.DirtyBytes() <= e.highWater {
		return nil
	}
	stop := context.AfterFunc(ctx, e.signalDrainProgress)
	defer stop()
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	for e.cache.DirtyBytes() > e.lowWater {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.cond.Wait()
	}
	return nil
}

func (e *Engine) signalDrainProgress() {
	e.drainMu.Lock()
	e.cond.Broadcast()
	e.drainMu.Unlock()
}

// Run drives the flush loop until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.drainOne(ctx)
		}
	}
}

// Stop halts Run.
func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) drainOne(ctx context.Context) {
	inode, indices, ok := e.tracker.NextBatch(e.maxBatchChunks)
	if !ok {
		return
	}
	err := e.drainBatch(ctx, inode, indices, 10*time.Second)
	if err == nil {
		return
	}
	if errors.Is(err, errLockBusy) {
		glog.Warningf("syncengine: %v", err)
		return
	}
	if e.onFail != nil {
		e.onFail(inode, indices, err)
	}
}

// Flush synchronously drains every chunk currently dirty for inode,
// blocking until each batch reaches the host or exhausts its retries. It
// shares drainBatch with the background Run loop: a concurrent Run tick
// draining the same inode just makes this wait out the local lock and
// try again, rather than racing it.
func (e *Engine) Flush(ctx context.Context, inode wire.Inode) error {
	for {
		indices, ok := e.tracker.BatchForInode(inode, e.maxBatchChunks)
		if !ok {
			return nil
		}
		err := e.drainBatch(ctx, inode, indices, 30*time.Second)
		if err == nil {
			continue
		}
		if errors.Is(err, errLockBusy) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		return err
	}
}

// drainBatch acquires the local lock for inode, gathers the dirty payload
// for each of indices, flushes them through e.flush with backoff retry,
// and on success marks them clean. A lock that cannot be acquired within
// lockTimeout returns errLockBusy; a flush that exhausts its retries
// returns the underlying error so the caller can decide how to report it.
func (e *Engine) drainBatch(ctx context.Context, inode wire.Inode, indices []uint64, lockTimeout time.Duration) error {
	token, err := e.locks.Acquire(inode, e.clientID, wire.LockExclusive, lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", errLockBusy, err)
	}
	defer e.locks.Release(inode, token)

	payloads := make([][]byte, len(indices))
	ids := make([]wire.ChunkID, len(indices))
	var batchBytes uint64
	for i, idx := range indices {
		id := wire.ChunkID{Inode: inode, Index: idx}
		ids[i] = id
		p, ok := e.cache.DirtyPayload(id)
		if !ok {
			// Already flushed or invalidated out from under us; drop it
			// from this batch rather than failing the whole thing.
			payloads[i] = nil
			continue
		}
		payloads[i] = p
		batchBytes += uint64(len(p))
	}
	e.progress.Start(inode, batchBytes)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.RandomizationFactor = 0.25
	retryable := backoff.WithMaxRetries(bo, uint64(e.maxAttempts))

	attemptErr := backoff.Retry(func() error {
		_, _, err := e.flush(ctx, token, inode, indices, payloads)
		return err
	}, retryable)

	if attemptErr != nil {
		return fmt.Errorf("syncengine: flush failed after retries: %w", attemptErr)
	}

	for i, id := range ids {
		if err := e.cache.MarkFlushed(id); err != nil {
			glog.Warningf("syncengine: MarkFlushed(%v): %v", id, err)
			continue
		}
		e.tracker.Remove(id)
		e.progress.Advance(inode, uint64(len(payloads[i])))
	}
	if p, ok := e.progress.Snapshot(inode); ok && p.Done() {
		e.progress.Forget(inode)
	}
	e.signalDrainProgress()
	return nil
}
