package transport

import (
	"context"
	"net"
	"testing"

	"github.com/asjoyner/wormhole/wire"
)

func newTestSession(t *testing.T, id int) (*Session, net.Conn) {
	t.Helper()
	ps, server := newPooledStreamPair(t, id)
	s := &Session{pool: &StreamPool{streams: []*PooledStream{ps}}, state: StateConnected}
	return s, server
}

func TestDoConvertsErrorMessageToError(t *testing.T) {
	s, server := newTestSession(t, 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := wire.Decode(server)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		em := &wire.ErrorMessage{Code: wire.ErrFileNotFound, Message: "nope"}
		if err := wire.Encode(server, wire.Frame{RequestID: f.RequestID, Message: em}); err != nil {
			t.Errorf("server encode: %v", err)
		}
	}()

	_, err := s.Do(context.Background(), &wire.GetAttr{Inode: 1})
	<-done
	if err == nil {
		t.Fatal("expected an error")
	}
	if wire.CodeOf(err) != wire.ErrFileNotFound {
		t.Fatalf("CodeOf(err) = %v, want ErrFileNotFound", wire.CodeOf(err))
	}
}

func TestDoReturnsSuccessMessageUnconverted(t *testing.T) {
	s, server := newTestSession(t, 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := wire.Decode(server)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		resp := &wire.GetAttrResponse{Found: true, Attr: wire.FileAttr{Inode: 1}}
		if err := wire.Encode(server, wire.Frame{RequestID: f.RequestID, Message: resp}); err != nil {
			t.Errorf("server encode: %v", err)
		}
	}()

	resp, err := s.Do(context.Background(), &wire.GetAttr{Inode: 1})
	<-done
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if ga, ok := resp.(*wire.GetAttrResponse); !ok || !ga.Found {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestDoDoesNotRetryNonIdempotentErrorMessage(t *testing.T) {
	s, server := newTestSession(t, 0)
	requests := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := wire.Decode(server)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		requests++
		em := &wire.ErrorMessage{Code: wire.ErrLockConflict}
		if err := wire.Encode(server, wire.Frame{RequestID: f.RequestID, Message: em}); err != nil {
			t.Errorf("server encode: %v", err)
		}
	}()

	_, err := s.Do(context.Background(), &wire.WriteChunk{})
	<-done
	if err == nil {
		t.Fatal("expected an error")
	}
	if wire.CodeOf(err) != wire.ErrLockConflict {
		t.Fatalf("CodeOf(err) = %v, want ErrLockConflict", wire.CodeOf(err))
	}
	if requests != 1 {
		t.Fatalf("server saw %d requests, want 1 (no retry on an application-level error)", requests)
	}
}
