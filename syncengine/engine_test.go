package syncengine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asjoyner/wormhole/cache"
	"github.com/asjoyner/wormhole/lock"
	"github.com/asjoyner/wormhole/wire"
)

func newTestEngine(t *testing.T, flush FlushFunc, onFail SyncFailedFunc) (*Engine, *cache.Cache) {
	t.Helper()
	mem, err := cache.NewMemoryTier(1 << 20)
	if err != nil {
		t.Fatalf("NewMemoryTier: %v", err)
	}
	disk, err := cache.NewDiskTier(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}
	c := cache.New(mem, disk, cache.NewDedupIndex(), nil)
	locks := lock.New(0)
	e := New(c, locks, flush, onFail, Config{ClientID: "test-client"})
	return e, c
}

func TestEngineFlushesAndMarksClean(t *testing.T) {
	var flushed int32
	flush := func(ctx context.Context, token wire.LockToken, inode wire.Inode, indices []uint64, payloads [][]byte) (uint64, bool, error) {
		atomic.AddInt32(&flushed, 1)
		return uint64(len(indices)) * wire.ChunkSize, true, nil
	}
	e, c := newTestEngine(t, flush, nil)

	id := wire.ChunkID{Inode: 1, Index: 0}
	c.Write(id, []byte("dirty payload"), cache.ContentHash{1})
	e.MarkDirty(id)

	e.drainOne(context.Background())

	if flushed != 1 {
		t.Fatalf("flush called %d times, want 1", flushed)
	}
	if _, ok := c.DirtyPayload(id); ok {
		t.Fatal("chunk should no longer be dirty after a successful flush")
	}
}

func TestEngineRetriesOnFailureThenSurfacesSyncFailed(t *testing.T) {
	var attempts int32
	failErr := context.DeadlineExceeded
	flush := func(ctx context.Context, token wire.LockToken, inode wire.Inode, indices []uint64, payloads [][]byte) (uint64, bool, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, false, failErr
	}
	var failedInode wire.Inode
	onFail := func(inode wire.Inode, indices []uint64, err error) {
		failedInode = inode
	}
	e, c := newTestEngine(t, flush, onFail)
	e.maxAttempts = 2 // keep the test fast

	id := wire.ChunkID{Inode: 9, Index: 0}
	c.Write(id, []byte("x"), cache.ContentHash{2})
	e.MarkDirty(id)

	e.drainOne(context.Background())

	if attempts < 2 {
		t.Fatalf("attempts = %d, want at least 2", attempts)
	}
	if failedInode != 9 {
		t.Fatalf("onFail called with inode %d, want 9", failedInode)
	}
	if _, ok := c.DirtyPayload(id); !ok {
		t.Fatal("chunk should remain dirty after exhausting retries")
	}
}

func TestWaitForCapacityBlocksAboveHighWater(t *testing.T) {
	e, c := newTestEngine(t, nil, nil)
	e.highWater = 4
	e.lowWater = 0

	id := wire.ChunkID{Inode: 1, Index: 0}
	c.Write(id, make([]byte, 16), cache.ContentHash{3})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.WaitForCapacity(ctx); err == nil {
		t.Fatal("expected WaitForCapacity to block until context deadline given dirty bytes over high water")
	}
}
