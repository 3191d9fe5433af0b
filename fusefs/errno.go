package fusefs

import (
	"context"
	"errors"
	"syscall"

	"bazil.org/fuse"

	"github.com/asjoyner/wormhole/transport"
	"github.com/asjoyner/wormhole/wire"
)

// codeErrno maps a wire.ErrorCode to the errno the kernel should see, per
// spec.md section 6/7.
var codeErrno = map[wire.ErrorCode]syscall.Errno{
	wire.ErrFileNotFound:     syscall.ENOENT,
	wire.ErrNotADirectory:    syscall.ENOTDIR,
	wire.ErrNotAFile:         syscall.EISDIR,
	wire.ErrPermissionDenied: syscall.EACCES,
	wire.ErrPathTraversal:    syscall.EACCES,
	wire.ErrNameTooLong:      syscall.ENAMETOOLONG,
	wire.ErrAlreadyExists:    syscall.EEXIST,
	wire.ErrNotEmpty:         syscall.ENOTEMPTY,
	wire.ErrIoError:          syscall.EIO,
	wire.ErrChecksumMismatch: syscall.EIO,
	wire.ErrChunkOutOfRange:  syscall.EINVAL,
	wire.ErrLockNotHeld:      syscall.ENOLCK,
	wire.ErrLockExpired:      syscall.ENOLCK,
	wire.ErrLockConflict:     syscall.EAGAIN,
	wire.ErrSessionExpired:   syscall.ESTALE,
	wire.ErrRateLimited:      syscall.EAGAIN,
	wire.ErrHostShuttingDown: syscall.EAGAIN,
	wire.ErrAuthFailed:       syscall.EACCES,
	wire.ErrTimeout:          syscall.ETIMEDOUT,
}

// errnoFor maps an error returned from a call into the session or the
// bridge to the fuse.Errno a handler should respond with. A *wire.ProtoError
// (surfaced by Session.Do when the host replies with a wire.ErrorMessage) is
// translated via its ErrorCode; a connection-level failure (the session
// dropped, or the bridge's own deadline expired) becomes ETIMEDOUT;
// anything else defaults to EIO.
func errnoFor(err error) fuse.Errno {
	var pe *wire.ProtoError
	if errors.As(err, &pe) {
		if errno, ok := codeErrno[pe.Code]; ok {
			return fuse.Errno(errno)
		}
		return fuse.Errno(syscall.EIO)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, transport.ErrConnectionLost) {
		return fuse.Errno(syscall.ETIMEDOUT)
	}
	return fuse.Errno(syscall.EIO)
}
