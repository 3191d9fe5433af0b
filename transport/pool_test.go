package transport

import (
	"net"
	"testing"

	"github.com/asjoyner/wormhole/wire"
)

// pipeStream adapts a net.Conn to the quicStream interface used by
// PooledStream, so pool and request-response behavior can be tested
// without a real QUIC connection.
type pipeStream struct {
	net.Conn
}

func newPooledStreamPair(t *testing.T, id int) (*PooledStream, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return &PooledStream{id: id, stream: pipeStream{client}}, server
}

func TestStreamPoolRoundRobin(t *testing.T) {
	p := &StreamPool{streams: []*PooledStream{{id: 0}, {id: 1}, {id: 2}}}
	seen := make([]int, 6)
	for i := range seen {
		seen[i] = p.Acquire().id
	}
	want := []int{0, 1, 2, 0, 1, 2}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Acquire sequence = %v, want %v", seen, want)
		}
	}
}

func TestStreamPoolReplace(t *testing.T) {
	p := &StreamPool{streams: []*PooledStream{{id: 9}}}
	p.Acquire()
	p.Replace([]*PooledStream{{id: 1}, {id: 2}})
	if got := p.Acquire().id; got != 1 {
		t.Fatalf("first acquire after Replace = %d, want 1", got)
	}
}

func TestPooledStreamSendRequestRoundTrip(t *testing.T) {
	ps, server := newPooledStreamPair(t, 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := wire.Decode(server)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		if _, ok := f.Message.(*wire.Ping); !ok {
			t.Errorf("server got %T, want *wire.Ping", f.Message)
		}
		if err := wire.Encode(server, wire.Frame{RequestID: f.RequestID, Message: &wire.Pong{Timestamp: 7}}); err != nil {
			t.Errorf("server encode: %v", err)
		}
	}()

	resp, err := ps.SendRequest(wire.Frame{RequestID: 1, Message: &wire.Ping{Timestamp: 7}})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	pong, ok := resp.Message.(*wire.Pong)
	if !ok || pong.Timestamp != 7 {
		t.Fatalf("unexpected response %#v", resp.Message)
	}
	<-done
}

func TestIdempotentClassification(t *testing.T) {
	cases := []struct {
		msg  wire.Message
		want bool
	}{
		{&wire.ListDir{}, true},
		{&wire.GetAttr{}, true},
		{&wire.ReadChunk{}, true},
		{&wire.WriteChunk{}, false},
		{&wire.AcquireLock{}, false},
		{&wire.ReleaseLock{}, false},
	}
	for _, c := range cases {
		if got := Idempotent(c.msg); got != c.want {
			t.Errorf("Idempotent(%T) = %v, want %v", c.msg, got, c.want)
		}
	}
}
