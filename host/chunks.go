package host

import (
	"io"
	"os"
	"time"

	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/wire"
)

func (h *Host) readChunk(req *wire.ReadChunk) (*wire.ReadChunkResponse, error) {
	path, err := h.resolvePath(req.ChunkID.Inode)
	if err != nil {
		return nil, wire.NewError(wire.ErrFileNotFound, "readChunk: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, wire.NewError(wire.ErrIoError, "open: %v", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, wire.NewError(wire.ErrIoError, "stat: %v", err)
	}
	off := int64(req.ChunkID.ByteOffset())
	if off >= fi.Size() {
		return nil, wire.NewError(wire.ErrChunkOutOfRange, "chunk %d starts at or past EOF (size %d)", req.ChunkID.Index, fi.Size())
	}

	buf := make([]byte, wire.ChunkSize)
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, wire.NewError(wire.ErrIoError, "read: %v", err)
	}
	data := buf[:n]
	isFinal := off+int64(n) >= fi.Size()

	return &wire.ReadChunkResponse{
		ChunkID:  req.ChunkID,
		Data:     data,
		Checksum: crypto.Checksum(data),
		IsFinal:  isFinal,
	}, nil
}

func (h *Host) writeChunk(clientID string, req *wire.WriteChunk) (*wire.WriteChunkResponse, error) {
	if !h.locks.ValidateToken(req.ChunkID.Inode, req.LockToken) {
		return nil, wire.NewError(wire.ErrLockNotHeld, "writeChunk: no live exclusive hold for inode %d", req.ChunkID.Inode)
	}
	if !crypto.VerifyChecksum(req.Data, req.Checksum) {
		return nil, wire.NewError(wire.ErrChecksumMismatch, "writeChunk: checksum mismatch for inode %d chunk %d", req.ChunkID.Inode, req.ChunkID.Index)
	}

	path, err := h.resolvePath(req.ChunkID.Inode)
	if err != nil {
		return nil, wire.NewError(wire.ErrFileNotFound, "writeChunk: %v", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, wire.NewError(wire.ErrIoError, "open: %v", err)
	}
	defer f.Close()

	off := int64(req.ChunkID.ByteOffset())
	if _, err := f.WriteAt(req.Data, off); err != nil {
		return nil, wire.NewError(wire.ErrIoError, "write: %v", err)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, wire.NewError(wire.ErrIoError, "stat: %v", err)
	}
	return &wire.WriteChunkResponse{Success: true, NewSize: uint64(fi.Size()), HasNewSize: true}, nil
}

func (h *Host) acquireLock(clientID string, req *wire.AcquireLock) (*wire.LockResponse, error) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	token, err := h.locks.Acquire(req.Inode, clientID, req.Kind, timeout)
	if err != nil {
		return &wire.LockResponse{Granted: false}, nil
	}
	return &wire.LockResponse{Granted: true, Token: token, HasToken: true}, nil
}

func (h *Host) releaseLock(req *wire.ReleaseLock) (*wire.ReleaseLockResponse, error) {
	if err := h.locks.ReleaseByToken(req.Token); err != nil {
		return &wire.ReleaseLockResponse{Success: false}, nil
	}
	return &wire.ReleaseLockResponse{Success: true}, nil
}
