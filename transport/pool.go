package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

// Stream pool sizing, per spec.md section 4.I.
const (
	DefaultStreams = 4
	MinStreams     = 2
	MaxStreams     = 16
)

// StreamPool hands out PooledStreams to callers round-robin, so requests
// spread across the session's streams instead of queueing behind one.
type StreamPool struct {
	mu      sync.RWMutex
	streams []*PooledStream
	next    uint64
}

// NewStreamPool opens n streams (clamped to [MinStreams, MaxStreams]) on
// conn.
func NewStreamPool(ctx context.Context, conn *quic.Conn, n int) (*StreamPool, error) {
	if n <= 0 {
		n = DefaultStreams
	}
	if n < MinStreams {
		n = MinStreams
	}
	if n > MaxStreams {
		n = MaxStreams
	}
	p := &StreamPool{streams: make([]*PooledStream, 0, n)}
	for i := 0; i < n; i++ {
		s, err := openPooledStream(ctx, conn, i)
		if err != nil {
			return nil, fmt.Errorf("transport: open stream %d/%d: %w", i, n, err)
		}
		p.streams = append(p.streams, s)
	}
	return p, nil
}

// Acquire returns the next stream in round-robin order.
func (p *StreamPool) Acquire() *PooledStream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.streams[i%uint64(len(p.streams))]
}

// Len reports the pool's stream count.
func (p *StreamPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.streams)
}

// Replace swaps in a freshly opened set of streams after reconnection.
func (p *StreamPool) Replace(streams []*PooledStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = streams
	p.next = 0
}
