// Package ioplatform abstracts the platform-specific syscalls a host uses
// to move chunk data efficiently: zero-copy file-to-socket transfer where
// the OS provides one, falling back to a buffered copy everywhere else.
package ioplatform

import (
	"expvar"
	"os"
)

// AsyncIO is the capability a transport uses to move file bytes onto a
// connection without the caller needing to know whether that happens via
// a zero-copy syscall or a buffered read/write loop.
type AsyncIO interface {
	// SendFile transfers up to len bytes from file starting at offset
	// directly to dst, returning the number of bytes actually sent.
	SendFile(dst *os.File, src *os.File, offset int64, length int) (int, error)

	// Name identifies the backend, for logging.
	Name() string
}

// Stats counts I/O operations across every AsyncIO backend in the process,
// exported for diagnostics the way the host exports request counters.
var Stats = struct {
	BytesSent     *expvar.Int
	SendfileCalls *expvar.Int
	FallbackCalls *expvar.Int
}{
	BytesSent:     expvar.NewInt("wormhole_io_bytes_sent"),
	SendfileCalls: expvar.NewInt("wormhole_io_sendfile_calls"),
	FallbackCalls: expvar.NewInt("wormhole_io_fallback_calls"),
}

// Default returns the best AsyncIO implementation for the running
// platform, selected at build time via the platform-specific files in
// this package.
func Default() AsyncIO {
	return defaultIO
}
