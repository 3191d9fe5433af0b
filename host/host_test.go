package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/wire"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	h, err := New(Config{Root: dir, HostName: "test-host"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestListDirAndGetAttr(t *testing.T) {
	h := newTestHost(t)
	resp, err := h.listDir(&wire.ListDir{Inode: wire.RootInode})
	if err != nil {
		t.Fatalf("listDir: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(resp.Entries))
	}
	var fileIno wire.Inode
	for _, e := range resp.Entries {
		if e.Name == "hello.txt" {
			fileIno = e.Inode
		}
	}
	if fileIno == 0 {
		t.Fatal("hello.txt not found in listing")
	}

	attrResp, err := h.getAttr(&wire.GetAttr{Inode: fileIno})
	if err != nil {
		t.Fatalf("getAttr: %v", err)
	}
	if !attrResp.Found || attrResp.Attr.Size != uint64(len("hello world")) {
		t.Fatalf("unexpected attr %#v", attrResp)
	}
}

func TestLookupRejectsPathSeparatorInName(t *testing.T) {
	h := newTestHost(t)
	_, err := h.lookup(&wire.Lookup{Parent: wire.RootInode, Name: "../escape"})
	if err == nil {
		t.Fatal("expected an error for a traversal-shaped name")
	}
}

func TestReadChunkOutOfRange(t *testing.T) {
	h := newTestHost(t)
	lookup, err := h.lookup(&wire.Lookup{Parent: wire.RootInode, Name: "hello.txt"})
	if err != nil || !lookup.Found {
		t.Fatalf("lookup: %v, found=%v", err, lookup.Found)
	}
	_, err = h.readChunk(&wire.ReadChunk{ChunkID: wire.ChunkID{Inode: lookup.Attr.Inode, Index: 5}})
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestWriteChunkRequiresLockToken(t *testing.T) {
	h := newTestHost(t)
	lookup, err := h.lookup(&wire.Lookup{Parent: wire.RootInode, Name: "hello.txt"})
	if err != nil || !lookup.Found {
		t.Fatalf("lookup: %v, found=%v", err, lookup.Found)
	}
	ino := lookup.Attr.Inode

	data := []byte("overwritten")
	_, err = h.writeChunk("client", &wire.WriteChunk{
		ChunkID:  wire.ChunkID{Inode: ino, Index: 0},
		Data:     data,
		Checksum: crypto.Checksum(data),
	})
	if err == nil {
		t.Fatal("expected LockNotHeld without a valid token")
	}

	lockResp, err := h.acquireLock("client", &wire.AcquireLock{Inode: ino, Kind: wire.LockExclusive, TimeoutMs: 1000})
	if err != nil || !lockResp.Granted {
		t.Fatalf("acquireLock: %v granted=%v", err, lockResp.Granted)
	}

	writeResp, err := h.writeChunk("client", &wire.WriteChunk{
		ChunkID:   wire.ChunkID{Inode: ino, Index: 0},
		Data:      data,
		Checksum:  crypto.Checksum(data),
		LockToken: lockResp.Token,
	})
	if err != nil || !writeResp.Success {
		t.Fatalf("writeChunk: %v success=%v", err, writeResp.Success)
	}
	if writeResp.NewSize != uint64(len(data)) {
		t.Fatalf("NewSize = %d, want %d", writeResp.NewSize, len(data))
	}

	releaseResp, err := h.releaseLock(&wire.ReleaseLock{Token: lockResp.Token})
	if err != nil || !releaseResp.Success {
		t.Fatalf("releaseLock: %v success=%v", err, releaseResp.Success)
	}
}

func TestWriteChunkRejectsChecksumMismatch(t *testing.T) {
	h := newTestHost(t)
	lookup, _ := h.lookup(&wire.Lookup{Parent: wire.RootInode, Name: "hello.txt"})
	ino := lookup.Attr.Inode
	lockResp, _ := h.acquireLock("client", &wire.AcquireLock{Inode: ino, Kind: wire.LockExclusive, TimeoutMs: 1000})

	_, err := h.writeChunk("client", &wire.WriteChunk{
		ChunkID:   wire.ChunkID{Inode: ino, Index: 0},
		Data:      []byte("bad"),
		Checksum:  [32]byte{},
		LockToken: lockResp.Token,
	})
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestAdmissionBlocksAboveLimit(t *testing.T) {
	a := NewAdmission(1)
	if err := a.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Acquire(ctx, 20*time.Millisecond); err == nil {
		t.Fatal("expected second Acquire to fail while the only slot is held")
	}
	a.Release()
	if err := a.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestRateLimiterPerClientIsIndependent(t *testing.T) {
	rl := newRateLimiters(1, 1)
	if !rl.allow("a") {
		t.Fatal("first call for client a should be allowed")
	}
	if rl.allow("a") {
		t.Fatal("second immediate call for client a should be rate limited")
	}
	if !rl.allow("b") {
		t.Fatal("client b should have its own independent limiter")
	}
}

func TestEventStreamPublishSubscribe(t *testing.T) {
	es := NewEventStream()
	ch, unsubscribe := es.Subscribe()
	defer unsubscribe()
	es.publish(GlobalEvent{Invalidate: &wire.Invalidate{Inodes: []wire.Inode{3}}})
	select {
	case ev := <-ch:
		if len(ev.Invalidate.Inodes) != 1 || ev.Invalidate.Inodes[0] != 3 {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
