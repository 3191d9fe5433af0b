// Package cache implements the two-tier chunk cache: a byte-budgeted
// memory LRU backed by a content-addressed, reference-counted disk tier.
package cache

import "github.com/asjoyner/wormhole/wire"

// ContentHash is the BLAKE3 digest that addresses a chunk's payload in the
// disk tier, independent of which file or offset it currently backs.
type ContentHash [32]byte

// EntryState distinguishes a clean memory entry (safe to evict, mirrored
// to disk) from a dirty one (pinned, not yet flushed to the host).
type EntryState uint8

const (
	// Clean entries may be evicted under byte pressure; their payload
	// is already durable in the disk tier.
	Clean EntryState = iota
	// Dirty entries hold a write the sync engine has not yet flushed.
	// They are never evicted by LRU pressure.
	Dirty
)

func (s EntryState) String() string {
	if s == Dirty {
		return "dirty"
	}
	return "clean"
}

// Entry is one memory-tier record. HasPayload is false when the memory
// tier only remembers which hash backs this chunk (the payload having
// been evicted to disk); a read in that state re-fetches from disk.
type Entry struct {
	ChunkID    wire.ChunkID
	Hash       ContentHash
	Payload    []byte
	State      EntryState
	HasPayload bool
}

func (e *Entry) size() uint64 { return uint64(len(e.Payload)) }
