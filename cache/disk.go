package cache

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DiskTier is the content-addressed second tier: payloads are written
// once to a file named by their hex-encoded hash and never modified
// in place, matching drive/local's read-only-once convention.
type DiskTier struct {
	mu  sync.RWMutex
	dir string
}

// NewDiskTier returns a tier rooted at dir, creating it if missing.
func NewDiskTier(dir string) (*DiskTier, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cache: create disk tier dir: %w", err)
	}
	return &DiskTier{dir: dir}, nil
}

func (d *DiskTier) path(hash ContentHash) string {
	return filepath.Join(d.dir, hex.EncodeToString(hash[:]))
}

// Has reports whether hash is already persisted.
func (d *DiskTier) Has(hash ContentHash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, err := os.Stat(d.path(hash))
	return err == nil
}

// Get reads the payload for hash.
func (d *DiskTier) Get(hash ContentHash) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, err := os.ReadFile(d.path(hash))
	if err != nil {
		return nil, fmt.Errorf("cache: disk chunk %x not found: %w", hash, err)
	}
	return data, nil
}

// Put persists data under hash if not already present. Content-addressed
// storage means any existing file with this name already has this exact
// content, so a second write is a no-op.
func (d *DiskTier) Put(hash ContentHash, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.path(hash)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.WriteFile(p, data, 0400)
}

// Delete removes the persisted payload for hash. Called only by the
// garbage collector once the dedup refcount has been zero past the
// grace period.
func (d *DiskTier) Delete(hash ContentHash) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := os.Remove(d.path(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: delete disk chunk %x: %w", hash, err)
	}
	return nil
}
