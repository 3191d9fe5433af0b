package inode

import "testing"

func TestLookupAllocatesOnce(t *testing.T) {
	tb := New()
	a := tb.Lookup("/foo")
	b := tb.Lookup("/foo")
	if a != b {
		t.Fatalf("Lookup not stable: %d != %d", a, b)
	}
	if a < FirstAllocatable {
		t.Fatalf("allocated inode %d below FirstAllocatable", a)
	}
}

func TestRootIsStable(t *testing.T) {
	tb := New()
	if got := tb.Lookup("/"); got != Root {
		t.Fatalf("Lookup(\"/\") = %d, want %d", got, Root)
	}
}

func TestPathRoundTrip(t *testing.T) {
	tb := New()
	ino := tb.Lookup("/a/b.txt")
	p, err := tb.Path(ino)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if p != "/a/b.txt" {
		t.Fatalf("Path = %q, want /a/b.txt", p)
	}
}

func TestTombstoneForbidsReuse(t *testing.T) {
	tb := New()
	ino := tb.Lookup("/gone")
	tb.Tombstone(ino)

	if _, err := tb.Path(ino); err == nil {
		t.Fatal("Path on tombstoned inode should error")
	}
	if !tb.IsTombstoned(ino) {
		t.Fatal("IsTombstoned should report true")
	}

	// Re-creating a file at the same path must get a fresh inode, never
	// the tombstoned one.
	newIno := tb.Lookup("/gone")
	if newIno == ino {
		t.Fatal("Lookup reused a tombstoned inode number")
	}
}

func TestRename(t *testing.T) {
	tb := New()
	ino := tb.Lookup("/old")
	if err := tb.Rename(ino, "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	p, err := tb.Path(ino)
	if err != nil || p != "/new" {
		t.Fatalf("Path after rename = %q, %v", p, err)
	}
	if got := tb.Lookup("/new"); got != ino {
		t.Fatalf("Lookup(/new) = %d, want %d", got, ino)
	}
}
