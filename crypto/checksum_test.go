package crypto

import "testing"

func TestChecksumRoundTrip(t *testing.T) {
	data := []byte("hello world")
	sum := Checksum(data)
	if !VerifyChecksum(data, sum) {
		t.Fatal("VerifyChecksum rejected matching data")
	}
	if VerifyChecksum([]byte("hello worlD"), sum) {
		t.Fatal("VerifyChecksum accepted tampered data")
	}
}

func TestStreamingHasherMatchesOneShot(t *testing.T) {
	data := []byte("hello world")
	want := Checksum(data)

	h := NewStreamingHasher()
	h.Write([]byte("hello "))
	h.Write([]byte("world"))
	got := h.Finalize()

	if got != want {
		t.Fatalf("streaming hash %x != one-shot hash %x", got, want)
	}
}
