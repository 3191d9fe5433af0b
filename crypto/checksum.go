package crypto

import "github.com/zeebo/blake3"

// ChecksumSize is the length in bytes of a chunk checksum.
const ChecksumSize = 32

// Checksum returns the BLAKE3 digest of data.
func Checksum(data []byte) [ChecksumSize]byte {
	var out [ChecksumSize]byte
	sum := blake3.Sum256(data)
	copy(out[:], sum[:])
	return out
}

// VerifyChecksum reports whether data hashes to expected.
func VerifyChecksum(data []byte, expected [ChecksumSize]byte) bool {
	return Checksum(data) == expected
}

// StreamingHasher accumulates a BLAKE3 digest across multiple Write calls,
// used when a chunk is assembled from several network reads.
type StreamingHasher struct {
	h *blake3.Hasher
}

// NewStreamingHasher returns a ready-to-use hasher.
func NewStreamingHasher() *StreamingHasher {
	return &StreamingHasher{h: blake3.New()}
}

// Write implements io.Writer; it never returns an error.
func (s *StreamingHasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Finalize returns the digest of everything written so far.
func (s *StreamingHasher) Finalize() [ChecksumSize]byte {
	var out [ChecksumSize]byte
	sum := s.h.Sum(nil)
	copy(out[:], sum)
	return out
}
