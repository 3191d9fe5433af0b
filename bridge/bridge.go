// Package bridge connects the kernel filesystem callback domain, which
// must block synchronously, to the network domain, which is entirely
// asynchronous. A request submitted on the sync side is queued on a
// bounded channel and answered through a one-shot reply slot.
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/asjoyner/wormhole/wire"
)

// DefaultMaxInflight is the bounded channel capacity; a full channel
// blocks Submit, providing backpressure from the network domain back to
// the kernel callback threads.
const DefaultMaxInflight = 64

// DefaultDeadline is applied to a Submit call whose context has no
// deadline of its own.
const DefaultDeadline = 30 * time.Second

// Request is one unit of work crossing from the sync side to the async
// side.
type Request struct {
	ID      uint64
	Message wire.Message
}

// Reply is what a Handler produces for a Request.
type Reply struct {
	Message wire.Message
	Err     error
}

// Handler processes one Request on the async side.
type Handler func(ctx context.Context, req Request) (wire.Message, error)

type pending struct {
	req     Request
	ctx     context.Context
	cancel  context.CancelFunc
	replyCh chan Reply
}

// Bridge is the bounded queue and one-shot reply mechanism described in
// spec.md section 4.H.
type Bridge struct {
	queue           chan *pending
	sem             *semaphore.Weighted
	nextID          uint64
	defaultDeadline time.Duration
}

// New returns a Bridge with the given channel capacity and default
// per-request deadline; zero values fall back to the package defaults.
func New(maxInflight int64, defaultDeadline time.Duration) *Bridge {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	if defaultDeadline <= 0 {
		defaultDeadline = DefaultDeadline
	}
	return &Bridge{
		queue:           make(chan *pending, maxInflight),
		sem:             semaphore.NewWeighted(maxInflight),
		defaultDeadline: defaultDeadline,
	}
}

// Submit enqueues msg and returns a channel that receives at most one
// Reply: the handler's result, or a Timeout error once the deadline
// passes; a cancelled call receives none. It blocks if the channel is at capacity (backpressure) or until
// ctx is cancelled. The caller should select on both the returned channel
// and ctx.Done(); abandoning the call (letting ctx expire or cancelling
// it) without reading from the channel is the "drop the reply slot"
// cancellation path; the handler detects this and discards its result.
func (b *Bridge) Submit(ctx context.Context, msg wire.Message) (<-chan Reply, error) {
	dctx := ctx
	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok {
		dctx, cancel = context.WithTimeout(ctx, b.defaultDeadline)
	}

	p := &pending{
		req:     Request{ID: atomic.AddUint64(&b.nextID, 1), Message: msg},
		ctx:     dctx,
		cancel:  cancel,
		replyCh: make(chan Reply, 1),
	}

	select {
	case b.queue <- p:
		return p.replyCh, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// Run drains the queue, dispatching each request to handler on its own
// goroutine, bounded to maxInflight concurrent handlers by the semaphore.
// It blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-b.queue:
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go b.dispatch(p, handler)
		}
	}
}

func (b *Bridge) dispatch(p *pending, handler Handler) {
	defer b.sem.Release(1)
	defer p.cancel()

	select {
	case <-p.ctx.Done():
		trySend(p.replyCh, Reply{Err: wire.NewError(wire.ErrTimeout, "request %d timed out before dispatch", p.req.ID)})
		return
	default:
	}

	msg, err := handler(p.ctx, p.req)

	select {
	case <-p.ctx.Done():
		// The sync side stopped waiting (deadline or cancellation) while
		// the handler was running. Its result is discarded rather than
		// committed to the reply slot; a passed deadline completes the slot
		// with Timeout instead, a cancellation leaves it empty.
		if p.ctx.Err() == context.DeadlineExceeded {
			trySend(p.replyCh, Reply{Err: wire.NewError(wire.ErrTimeout, "request %d timed out", p.req.ID)})
		}
		return
	default:
	}

	trySend(p.replyCh, Reply{Message: msg, Err: err})
}

func trySend(ch chan Reply, r Reply) {
	select {
	case ch <- r:
	default:
	}
}
