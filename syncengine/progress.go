package syncengine

import (
	"sync"

	"github.com/asjoyner/wormhole/wire"
)

// Progress reports how much of a dirty-chunk batch has reached the host,
// so a caller (CLI, UI) can render upload progress for a large write.
type Progress struct {
	TotalBytes   uint64
	FlushedBytes uint64
}

// Done reports whether every byte Start announced has been flushed.
func (p Progress) Done() bool { return p.FlushedBytes >= p.TotalBytes }

// TransferProgressTracker tracks bytes-flushed/total per inode across the
// batches the flush loop drains for it. A transfer spanning many batches
// (a file larger than MaxBatchChunks chunks) accumulates across all of
// them until the tracker is told the inode's writes are fully settled.
type TransferProgressTracker struct {
	mu        sync.Mutex
	transfers map[wire.Inode]*Progress
}

// NewTransferProgressTracker returns an empty tracker.
func NewTransferProgressTracker() *TransferProgressTracker {
	return &TransferProgressTracker{transfers: make(map[wire.Inode]*Progress)}
}

// Start records totalBytes more pending bytes for inode, creating its
// entry if this is the first batch seen for it.
func (t *TransferProgressTracker) Start(inode wire.Inode, totalBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.transfers[inode]
	if !ok {
		p = &Progress{}
		t.transfers[inode] = p
	}
	p.TotalBytes += totalBytes
}

// Advance records n more bytes of inode's pending total as flushed.
func (t *TransferProgressTracker) Advance(inode wire.Inode, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.transfers[inode]
	if !ok {
		return
	}
	p.FlushedBytes += n
}

// Snapshot returns the current progress for inode, if any batch has
// started for it.
func (t *TransferProgressTracker) Snapshot(inode wire.Inode) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.transfers[inode]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

// Forget drops inode's entry, once its transfer is complete and no
// longer interesting to report on.
func (t *TransferProgressTracker) Forget(inode wire.Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.transfers, inode)
}
