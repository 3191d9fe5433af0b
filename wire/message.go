// Package wire defines the request/response message catalogue exchanged
// between a wormhole client and host, and the length-prefixed framing used
// to put them on a stream.
package wire

import "fmt"

// ProtocolVersion is exchanged in Hello/HelloAck. A mismatch is fatal.
const ProtocolVersion uint32 = 1

// MaxFrameSize is the largest frame accepted off the wire. Larger frames
// are rejected with a ProtocolError whose message reads "message too large".
const MaxFrameSize = 1 << 20 // 1 MiB

// ChunkSize is the aligned slice size used to address file content.
const ChunkSize = 128 * 1024 // 128 KiB

// Inode identifies a file within a session.
type Inode uint64

// RootInode is always 1; 2 is the first user-allocatable value.
const (
	RootInode      Inode = 1
	FirstUserInode Inode = 2
)

// ChunkID identifies one chunk of one file.
type ChunkID struct {
	Inode Inode
	Index uint64
}

// ChunkIDFromOffset returns the ChunkID covering byte offset off of inode.
func ChunkIDFromOffset(inode Inode, off uint64) ChunkID {
	return ChunkID{Inode: inode, Index: off / ChunkSize}
}

// ByteOffset returns the byte at which this chunk begins.
func (c ChunkID) ByteOffset() uint64 { return c.Index * ChunkSize }

// ChunkCount returns how many ChunkSize-aligned chunks a file of size bytes
// spans. A zero-length file has zero chunks.
func ChunkCount(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size-1)/ChunkSize + 1
}

// FileKind enumerates the type of a filesystem entry.
type FileKind uint8

const (
	KindFile FileKind = iota
	KindDirectory
	KindSymlink
)

func (k FileKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("FileKind(%d)", uint8(k))
	}
}

// FileAttr mirrors struct stat for the fields this protocol cares about.
type FileAttr struct {
	Inode     Inode
	Kind      FileKind
	Size      uint64
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	AtimeSec  int64
	AtimeNsec uint32
	MtimeSec  int64
	MtimeNsec uint32
	CtimeSec  int64
	CtimeNsec uint32
}

// ChunkCount returns the number of chunks this file's Size implies.
func (a FileAttr) ChunkCount() uint64 { return ChunkCount(a.Size) }

// DirEntry is one entry returned by ListDir.
type DirEntry struct {
	Name  string
	Inode Inode
	Kind  FileKind
}

// LockToken is the opaque credential a lock grant returns. It is required
// to write a chunk or release the lock.
type LockToken [16]byte

// LockKind distinguishes shared (read) from exclusive (write) locks.
type LockKind uint8

const (
	LockShared LockKind = iota
	LockExclusive
)

func (k LockKind) String() string {
	if k == LockExclusive {
		return "exclusive"
	}
	return "shared"
}
