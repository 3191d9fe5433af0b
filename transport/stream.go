// Package transport provides the reliable, ordered, multiplexed session
// between peers, modeled on QUIC: a pool of bidirectional streams, a
// keepalive ping/pong loop, and reconnection with backoff.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/asjoyner/wormhole/wire"
)

// Stream is a single QUIC stream carrying one Frame at a time.
type Stream interface {
	io.Closer
	quicStream
}

type quicStream interface {
	io.Reader
	io.Writer
}

// PooledStream serializes access to one underlying QUIC stream so a
// caller can send a Frame and read its response without interleaving
// with another caller's bytes on the same stream.
type PooledStream struct {
	mu     sync.Mutex
	id     int
	stream quicStream
}

// SendRequest writes req and reads back exactly one response frame. Only
// one request may be outstanding per PooledStream at a time; the caller
// obtains exclusivity by acquiring the stream from a StreamPool.
func (p *PooledStream) SendRequest(req wire.Frame) (wire.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := wire.Encode(p.stream, req); err != nil {
		return wire.Frame{}, fmt.Errorf("transport: write request on stream %d: %w", p.id, err)
	}
	resp, err := wire.Decode(p.stream)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("transport: read response on stream %d: %w", p.id, err)
	}
	return resp, nil
}

// openPooledStream opens a new bidirectional QUIC stream and wraps it.
func openPooledStream(ctx context.Context, conn *quic.Conn, id int) (*PooledStream, error) {
	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &PooledStream{id: id, stream: s}, nil
}
