//go:build linux

package ioplatform

import (
	"os"

	"golang.org/x/sys/unix"
)

// linuxIO uses sendfile(2) for a zero-copy file-to-socket transfer.
type linuxIO struct{}

var defaultIO AsyncIO = linuxIO{}

func (linuxIO) SendFile(dst *os.File, src *os.File, offset int64, length int) (int, error) {
	off := offset
	n, err := unix.Sendfile(int(dst.Fd()), int(src.Fd()), &off, length)
	if err != nil {
		Stats.FallbackCalls.Add(1)
		return fallbackCopy(dst, src, offset, length)
	}
	Stats.SendfileCalls.Add(1)
	Stats.BytesSent.Add(int64(n))
	return n, nil
}

func (linuxIO) Name() string { return "linux (sendfile)" }
