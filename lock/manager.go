// Package lock implements the per-inode lock manager: shared/exclusive
// holds with a FIFO waiter queue, reader coalescing, TTL expiry, and
// token-based release.
package lock

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/asjoyner/wormhole/wire"
)

// DefaultMaxWriterWait bounds how long reader coalescing may starve a
// waiting writer before it is granted ahead of later-arriving readers.
const DefaultMaxWriterWait = 2 * time.Second

// State is the current hold on one inode.
type State uint8

const (
	Unlocked State = iota
	SharedHeld
	ExclusiveHeld
)

func (s State) String() string {
	switch s {
	case SharedHeld:
		return "shared"
	case ExclusiveHeld:
		return "exclusive"
	default:
		return "unlocked"
	}
}

// hold records one grant: which client holds it, under what token, and
// when it expires.
type hold struct {
	client   string
	kind     wire.LockKind
	token    wire.LockToken
	deadline time.Time
}

// waiter is a queued request for a lock this inode cannot currently grant.
type waiter struct {
	client  string
	kind    wire.LockKind
	arrived time.Time
	notify  chan grantResult
	timeout time.Duration
}

type grantResult struct {
	token wire.LockToken
	err   error
}

// inodeState is the full per-inode state machine.
type inodeState struct {
	mu      sync.Mutex
	state   State
	holds   map[string]*hold // client -> hold; len>1 only possible for SharedHeld
	waiters []*waiter
	timer   *time.Timer
}

// Manager owns one inodeState per locked inode, created lazily.
type Manager struct {
	mu            sync.Mutex
	inodes        map[wire.Inode]*inodeState
	maxWriterWait time.Duration
}

// New returns an empty Manager. maxWriterWait of zero uses
// DefaultMaxWriterWait.
func New(maxWriterWait time.Duration) *Manager {
	if maxWriterWait <= 0 {
		maxWriterWait = DefaultMaxWriterWait
	}
	return &Manager{inodes: map[wire.Inode]*inodeState{}, maxWriterWait: maxWriterWait}
}

func (m *Manager) stateFor(ino wire.Inode) *inodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.inodes[ino]
	if !ok {
		s = &inodeState{holds: map[string]*hold{}}
		m.inodes[ino] = s
	}
	return s
}

func newToken() (wire.LockToken, error) {
	var t wire.LockToken
	_, err := rand.Read(t[:])
	return t, err
}

// Acquire blocks (honoring timeout) until client is granted kind on ino,
// or returns an error. A zero timeout waits forever.
func (m *Manager) Acquire(ino wire.Inode, client string, kind wire.LockKind, timeout time.Duration) (wire.LockToken, error) {
	s := m.stateFor(ino)
	s.mu.Lock()

	if granted, token, err := s.tryGrantLocked(client, kind, timeout); granted {
		s.mu.Unlock()
		return token, err
	}

	w := &waiter{client: client, kind: kind, arrived: time.Now(), notify: make(chan grantResult, 1), timeout: timeout}
	s.enqueueLocked(w, m.maxWriterWait)
	s.mu.Unlock()

	if timeout <= 0 {
		res := <-w.notify
		return res.token, res.err
	}
	select {
	case res := <-w.notify:
		return res.token, res.err
	case <-time.After(timeout):
		s.mu.Lock()
		s.removeWaiterLocked(w)
		s.mu.Unlock()
		return wire.LockToken{}, fmt.Errorf("lock: timed out waiting for %s on inode %d", kind, ino)
	}
}

// tryGrantLocked attempts an immediate grant under the plain state-machine
// rule (no waiters involved); s.mu must already be held.
func (s *inodeState) tryGrantLocked(client string, kind wire.LockKind, timeout time.Duration) (bool, wire.LockToken, error) {
	switch {
	case s.state == Unlocked:
		return true, s.grantLocked(client, kind, timeout), nil
	case s.state == SharedHeld && kind == wire.LockShared:
		return true, s.grantLocked(client, kind, timeout), nil
	default:
		return false, wire.LockToken{}, nil
	}
}

func (s *inodeState) grantLocked(client string, kind wire.LockKind, timeout time.Duration) wire.LockToken {
	token, err := newToken()
	if err != nil {
		// crypto/rand failure is not recoverable; surface a zero token
		// rather than panicking inside the lock manager.
		return wire.LockToken{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.holds[client] = &hold{client: client, kind: kind, token: token, deadline: time.Now().Add(timeout)}
	if kind == wire.LockExclusive {
		s.state = ExclusiveHeld
	} else {
		s.state = SharedHeld
	}
	s.rearmTimerLocked()
	return token
}

// Release gives up the hold identified by token. Returns an error if no
// hold matches.
func (m *Manager) Release(ino wire.Inode, token wire.LockToken) error {
	s := m.stateFor(ino)
	s.mu.Lock()
	defer s.mu.Unlock()

	var client string
	found := false
	for c, h := range s.holds {
		if h.token == token {
			client, found = c, true
			break
		}
	}
	if !found {
		return fmt.Errorf("lock: token not held on inode %d", ino)
	}
	delete(s.holds, client)
	if len(s.holds) == 0 {
		s.state = Unlocked
	}
	s.promoteWaitersLocked()
	return nil
}

// ReleaseAllForClient drops every hold and pending wait for client on
// ino, used when its connection drops.
func (m *Manager) ReleaseAllForClient(ino wire.Inode, client string) {
	s := m.stateFor(ino)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, client)
	if len(s.holds) == 0 {
		s.state = Unlocked
	}
	remaining := s.waiters[:0]
	for _, w := range s.waiters {
		if w.client == client {
			continue
		}
		remaining = append(remaining, w)
	}
	s.waiters = remaining
	s.promoteWaitersLocked()
}

// enqueueLocked adds w to the waiter queue. A Shared waiter that arrives
// behind a queued Exclusive waiter joins that writer's head-of-line reader
// batch instead of queueing strictly FIFO, UNLESS the writer has already
// waited longer than maxWriterWait, in which case it falls in behind the
// writer like everything else. This is what lets contiguous readers keep
// being granted together without starving a writer indefinitely.
func (s *inodeState) enqueueLocked(w *waiter, maxWriterWait time.Duration) {
	if w.kind == wire.LockShared {
		i := 0
		for i < len(s.waiters) && s.waiters[i].kind == wire.LockShared {
			i++
		}
		if i < len(s.waiters) && time.Since(s.waiters[i].arrived) <= maxWriterWait {
			s.waiters = append(s.waiters[:i:i], append([]*waiter{w}, s.waiters[i:]...)...)
			return
		}
	}
	s.waiters = append(s.waiters, w)
}

func (s *inodeState) removeWaiterLocked(target *waiter) {
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// promoteWaitersLocked grants the head-of-queue waiter (if Exclusive) or
// every contiguous Shared waiter at the head (reader coalescing). Which
// waiters are contiguous at the head was already decided at enqueue time
// by enqueueLocked's starvation check, so this just drains what's there.
func (s *inodeState) promoteWaitersLocked() {
	for len(s.waiters) > 0 && s.state == Unlocked {
		head := s.waiters[0]
		if head.kind == wire.LockExclusive {
			s.waiters = s.waiters[1:]
			token := s.grantLocked(head.client, head.kind, head.timeout)
			head.notify <- grantResult{token: token}
			return
		}

		var granted []*waiter
		i := 0
		for i < len(s.waiters) && s.waiters[i].kind == wire.LockShared {
			granted = append(granted, s.waiters[i])
			i++
		}
		s.waiters = s.waiters[i:]
		for _, w := range granted {
			token := s.grantLocked(w.client, w.kind, w.timeout)
			w.notify <- grantResult{token: token}
		}
		if len(granted) == 0 {
			return
		}
	}
}

// rearmTimerLocked schedules automatic expiry for the earliest-deadline
// hold, releasing it and promoting waiters when it fires.
func (s *inodeState) rearmTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	var earliest time.Time
	for _, h := range s.holds {
		if earliest.IsZero() || h.deadline.Before(earliest) {
			earliest = h.deadline
		}
	}
	if earliest.IsZero() {
		return
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		now := time.Now()
		for c, h := range s.holds {
			if !h.deadline.After(now) {
				delete(s.holds, c)
			}
		}
		if len(s.holds) == 0 {
			s.state = Unlocked
		}
		s.promoteWaitersLocked()
		s.rearmTimerLocked()
	})
}

// ReleaseByToken releases whichever inode's hold matches token, for
// protocol messages that don't carry the inode alongside the token. It
// returns LockNotHeld if no live hold anywhere matches.
func (m *Manager) ReleaseByToken(token wire.LockToken) error {
	m.mu.Lock()
	var ino wire.Inode
	found := false
	for i, s := range m.inodes {
		s.mu.Lock()
		for _, h := range s.holds {
			if h.token == token {
				found = true
			}
		}
		s.mu.Unlock()
		if found {
			ino = i
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return wire.NewError(wire.ErrLockNotHeld, "lock: token not held on any inode")
	}
	return m.Release(ino, token)
}

// ValidateToken reports whether token currently names a live, unexpired
// hold on ino, without releasing it. The host consults this before
// committing a WriteChunk.
func (m *Manager) ValidateToken(ino wire.Inode, token wire.LockToken) bool {
	s := m.stateFor(ino)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, h := range s.holds {
		if h.token == token {
			return h.deadline.After(now)
		}
	}
	return false
}

// StateOf reports the current state of ino, for diagnostics and tests.
func (m *Manager) StateOf(ino wire.Inode) State {
	s := m.stateFor(ino)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
