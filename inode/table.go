// Package inode maintains the stable bijection between an inode number and
// the relative path it names within one session.
package inode

import (
	"expvar"
	"fmt"
	"sync"
)

var (
	numLiveInodes = expvar.NewInt("wormhole_inodes_live")
	lastInode     = expvar.NewInt("wormhole_inodes_last_allocated")
)

// Root is always inode 1.
const Root uint64 = 1

// FirstAllocatable is the first inode handed out to a non-root entry.
const FirstAllocatable uint64 = 2

// Table maps inode <-> relative path. Once an inode is tombstoned (its
// path removed) the number is never reused for the life of the table, so a
// stale handle reliably gets ENOENT instead of silently resolving to an
// unrelated file.
type Table struct {
	mu        sync.RWMutex
	toPath    map[uint64]string
	toInode   map[string]uint64
	tombstone map[uint64]bool
	lastInode uint64
}

// New returns a Table that already knows the root path.
func New() *Table {
	numLiveInodes.Set(1)
	lastInode.Set(int64(Root))
	return &Table{
		toPath:    map[uint64]string{Root: "/"},
		toInode:   map[string]uint64{"/": Root},
		tombstone: map[uint64]bool{},
		lastInode: Root,
	}
}

// Lookup returns the inode for path, allocating a new one on first sight.
func (t *Table) Lookup(path string) uint64 {
	t.mu.RLock()
	if ino, ok := t.toInode[path]; ok {
		t.mu.RUnlock()
		return ino
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.toInode[path]; ok {
		return ino
	}
	t.lastInode++
	ino := t.lastInode
	t.toPath[ino] = path
	t.toInode[path] = ino
	numLiveInodes.Set(int64(len(t.toPath)))
	lastInode.Set(int64(t.lastInode))
	return ino
}

// Known reports the inode already allocated to path, if any, without
// allocating a new one.
func (t *Table) Known(path string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ino, ok := t.toInode[path]
	return ino, ok
}

// Path returns the path allocated to inode, or an error if it was never
// allocated or has since been tombstoned.
func (t *Table) Path(ino uint64) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tombstone[ino] {
		return "", fmt.Errorf("inode: %d is tombstoned", ino)
	}
	if p, ok := t.toPath[ino]; ok {
		return p, nil
	}
	return "", fmt.Errorf("inode: %d not allocated", ino)
}

// Rename updates the path recorded for an already-allocated inode, used
// when a host-side move is observed out from under the table.
func (t *Table) Rename(ino uint64, newPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	oldPath, ok := t.toPath[ino]
	if !ok || t.tombstone[ino] {
		return fmt.Errorf("inode: %d not allocated", ino)
	}
	delete(t.toInode, oldPath)
	t.toPath[ino] = newPath
	t.toInode[newPath] = ino
	return nil
}

// Tombstone marks inode as permanently gone. The number is retained so it
// is never handed out again by Lookup.
func (t *Table) Tombstone(ino uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.toPath[ino]; ok {
		delete(t.toInode, p)
	}
	delete(t.toPath, ino)
	t.tombstone[ino] = true
	numLiveInodes.Set(int64(len(t.toPath)))
}

// IsTombstoned reports whether ino was allocated and later tombstoned.
func (t *Table) IsTombstoned(ino uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tombstone[ino]
}
