package ioplatform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSendFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src")
	if err := os.WriteFile(srcPath, []byte("hello wormhole"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		t.Fatalf("Open src: %v", err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, "dst")
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile dst: %v", err)
	}
	defer dst.Close()

	io := Default()
	n, err := io.SendFile(dst, src, 0, len("hello wormhole"))
	if err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if n != len("hello wormhole") {
		t.Fatalf("SendFile copied %d bytes, want %d", n, len("hello wormhole"))
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello wormhole" {
		t.Fatalf("dst contents = %q", got)
	}
	if io.Name() == "" {
		t.Fatal("Name() should not be empty")
	}
}

func TestFallbackCopyPartialOffset(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src")
	if err := os.WriteFile(srcPath, []byte("0123456789"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, "dst")
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer dst.Close()

	n, err := fallbackCopy(dst, src, 5, 5)
	if err != nil {
		t.Fatalf("fallbackCopy: %v", err)
	}
	if n != 5 {
		t.Fatalf("copied %d bytes, want 5", n)
	}
	got, _ := os.ReadFile(dstPath)
	if string(got) != "56789" {
		t.Fatalf("dst contents = %q, want %q", got, "56789")
	}
}
