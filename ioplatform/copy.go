package ioplatform

import (
	"errors"
	"io"
	"os"
)

const copyBufSize = 64 * 1024

// fallbackCopy moves length bytes from src at offset to dst via a buffered
// read/write loop. Used directly on platforms with no sendfile, and as the
// recovery path when a platform's zero-copy syscall fails (e.g. ENOSYS on
// an unusual filesystem).
func fallbackCopy(dst *os.File, src *os.File, offset int64, length int) (int, error) {
	buf := make([]byte, copyBufSize)
	var written int
	for written < length {
		toRead := len(buf)
		if remaining := length - written; remaining < toRead {
			toRead = remaining
		}
		n, rerr := src.ReadAt(buf[:toRead], offset+int64(written))
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += w
			Stats.BytesSent.Add(int64(w))
			if werr != nil {
				return written, werr
			}
			if w < n {
				return written, os.ErrClosed
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return written, rerr
		}
		if n == 0 {
			break
		}
	}
	return written, nil
}
