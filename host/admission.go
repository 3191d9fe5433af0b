package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Admission bounds the number of concurrently connected sessions, per
// spec.md section 4.J.
type Admission struct {
	mu       sync.Mutex
	inUse    int
	max      int
	waitCond *sync.Cond
}

// NewAdmission returns an Admission gate allowing at most max concurrent
// connections.
func NewAdmission(max int) *Admission {
	a := &Admission{max: max}
	a.waitCond = sync.NewCond(&a.mu)
	return a
}

// ErrHostBusy is returned when the connection limit is reached and the
// caller's timeout (or context) expires before a slot frees up.
var ErrHostBusy = fmt.Errorf("host: connection limit reached")

// Acquire reserves one connection slot, blocking until one is free, ctx
// is cancelled, or timeout elapses (zero timeout means wait forever).
// Above the limit the caller should treat ErrHostBusy as grounds to
// reply HostShuttingDown rather than queue indefinitely.
func (a *Admission) Acquire(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.mu.Lock()
		for a.inUse >= a.max {
			a.waitCond.Wait()
		}
		a.inUse++
		a.mu.Unlock()
	}()

	if timeout <= 0 {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			go func() { <-done; a.Release() }()
			return ctx.Err()
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() { <-done; a.Release() }()
		return ctx.Err()
	case <-t.C:
		go func() { <-done; a.Release() }()
		return ErrHostBusy
	}
}

// Release frees one connection slot and wakes a waiter, if any.
func (a *Admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inUse > 0 {
		a.inUse--
	}
	a.waitCond.Signal()
}

// InUse reports the current connection count, for diagnostics.
func (a *Admission) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

func newRateLimiters(r rate.Limit, burst int) *rateLimiters {
	return &rateLimiters{limit: r, burst: burst, byClient: map[string]*rate.Limiter{}}
}

type rateLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	byClient map[string]*rate.Limiter
}

func (r *rateLimiters) allow(clientID string) bool {
	r.mu.Lock()
	l, ok := r.byClient[clientID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.byClient[clientID] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

func (r *rateLimiters) forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byClient, clientID)
}
