package fusefs

import (
	"context"
	"testing"
	"time"

	"github.com/asjoyner/wormhole/bridge"
	"github.com/asjoyner/wormhole/cache"
	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/lock"
	"github.com/asjoyner/wormhole/syncengine"
	"github.com/asjoyner/wormhole/wire"
)

// newFakeServer wires a Server's bridge to h directly, standing in for a
// real transport.Session so Server.call can be exercised without a
// network connection. c and engine may be nil for tests that don't touch
// the read or flush paths.
func newFakeServer(t *testing.T, h bridge.Handler, c *cache.Cache, engine *syncengine.Engine) (*Server, context.CancelFunc) {
	t.Helper()
	sc := &Server{br: bridge.New(bridge.DefaultMaxInflight, bridge.DefaultDeadline), cache: c, engine: engine}
	ctx, cancel := context.WithCancel(context.Background())
	go sc.br.Run(ctx, h)
	if engine != nil {
		go engine.Run(ctx)
	}
	return sc, cancel
}

// newTestCacheAndEngine builds a real in-memory cache/disk-tier cache and
// sync engine, the same construction newTestEngine uses in
// syncengine/engine_test.go, so flush exercises the genuine write path
// rather than a mock.
func newTestCacheAndEngine(t *testing.T, flush syncengine.FlushFunc, cfg syncengine.Config) (*cache.Cache, *syncengine.Engine) {
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
	if cfg.ClientID == "" {
		cfg.ClientID = "test-client"
	}
	e := syncengine.New(c, locks, flush, nil, cfg)
	return c, e
}

func TestAttrFromWireRoundTrip(t *testing.T) {
	a := wire.FileAttr{
		Inode: 7,
		Kind:  wire.KindDirectory,
		Size:  4096,
		Mode:  0755,
		Nlink: 2,
		UID:   1000,
		GID:   1000,
	}
	fa := attrFromWire(a)
	if fa.Inode != 7 || fa.Size != 4096 || fa.Nlink != 2 {
		t.Fatalf("unexpected attr: %+v", fa)
	}
	if fuseMode(a)&0755 == 0 {
		t.Fatalf("expected permission bits preserved")
	}
}

func TestHandleApplyWriteSpansChunkBoundary(t *testing.T) {
	h := &handle{}
	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i)
	}
	h.applyWrite(data, int64(wire.ChunkSize-5))
	if len(h.dirty) != 2 {
		t.Fatalf("expected write to span 2 chunks, got %d", len(h.dirty))
	}
	if h.size != wire.ChunkSize+5 {
		t.Fatalf("size = %d, want %d", h.size, wire.ChunkSize+5)
	}
}

func TestServerCallGetAttr(t *testing.T) {
	handler := func(ctx context.Context, req bridge.Request) (wire.Message, error) {
		ga := req.Message.(*wire.GetAttr)
		if ga.Inode != wire.RootInode {
			t.Fatalf("unexpected inode %v", ga.Inode)
		}
		return &wire.GetAttrResponse{Found: true, Attr: wire.FileAttr{Inode: wire.RootInode, Kind: wire.KindDirectory}}, nil
	}
	sc, cancel := newFakeServer(t, handler, nil, nil)
	defer cancel()

	resp, err := sc.call(context.Background(), &wire.GetAttr{Inode: wire.RootInode})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	ga, ok := resp.(*wire.GetAttrResponse)
	if !ok || !ga.Found {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestServerCallTimesOutWithoutHandler(t *testing.T) {
	sc := &Server{br: bridge.New(bridge.DefaultMaxInflight, bridge.DefaultDeadline)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sc.call(ctx, &wire.Ping{})
	if err == nil {
		t.Fatal("expected an error with no running bridge consumer")
	}
}

// TestFlushWritesDirtyChunksThroughCacheAndEngine drives Server.flush with
// a real cache.Cache and syncengine.Engine (no bridge handler involved:
// the engine's FlushFunc talks "to the host" directly, same as
// cmd/wormhole-mount's flushFunc), and checks every dirty chunk reaches
// the FlushFunc before the handle's dirty map is cleared.
func TestFlushWritesDirtyChunksThroughCacheAndEngine(t *testing.T) {
	var mu syncFlushCalls
	flush := func(ctx context.Context, token wire.LockToken, inode wire.Inode, indices []uint64, payloads [][]byte) (uint64, bool, error) {
		if inode != 5 {
			t.Fatalf("flush called for inode %d, want 5", inode)
		}
		for i, data := range payloads {
			if data == nil {
				continue
			}
			if !crypto.VerifyChecksum(data, crypto.Checksum(data)) {
				t.Fatalf("checksum mismatch for chunk %d", indices[i])
			}
		}
		mu.record(indices)
		return uint64(wire.ChunkSize) + 5, true, nil
	}

	c, engine := newTestCacheAndEngine(t, flush, syncengine.Config{})
	sc, cancel := newFakeServer(t, nil, c, engine)
	defer cancel()

	sc.handles = []handle{{inode: 5}}
	sc.handles[0].applyWrite([]byte("hello"), 0)
	sc.handles[0].applyWrite([]byte("world"), int64(wire.ChunkSize))

	if err := sc.flush(context.Background(), 0); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if got := mu.total(); got != 2 {
		t.Fatalf("flushed %d chunks across all batches, want 2", got)
	}
	if len(sc.handles[0].dirty) != 0 {
		t.Fatal("expected dirty chunks to be cleared after flush")
	}
}

// TestFlushSurfacesPersistentFlushError checks that a FlushFunc which
// never succeeds causes Server.flush to return an error (rather than the
// old behavior of always responding success regardless of outcome), while
// still leaving the chunk dirty in the cache for the engine's background
// loop to keep retrying.
func TestFlushSurfacesPersistentFlushError(t *testing.T) {
	wantErr := wire.NewError(wire.ErrIoError, "simulated host failure")
	flush := func(ctx context.Context, token wire.LockToken, inode wire.Inode, indices []uint64, payloads [][]byte) (uint64, bool, error) {
		return 0, false, wantErr
	}

	c, engine := newTestCacheAndEngine(t, flush, syncengine.Config{MaxAttempts: 1})
	sc, cancel := newFakeServer(t, nil, c, engine)
	defer cancel()

	sc.handles = []handle{{inode: 9}}
	sc.handles[0].applyWrite([]byte("x"), 0)

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := sc.flush(ctx, 0); err == nil {
		t.Fatal("expected flush to surface the persistent host error")
	}

	id := wire.ChunkID{Inode: 9, Index: 0}
	if _, ok := c.DirtyPayload(id); !ok {
		t.Fatal("expected the chunk to remain dirty after flush failed")
	}
}

// syncFlushCalls accumulates the chunk indices seen across however many
// batches the engine splits a flush into.
type syncFlushCalls struct {
	seen []uint64
}

func (s *syncFlushCalls) record(indices []uint64) { s.seen = append(s.seen, indices...) }
func (s *syncFlushCalls) total() int              { return len(s.seen) }
