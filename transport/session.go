package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/asjoyner/wormhole/wire"
)

// Keepalive parameters, per spec.md section 4.I.
const (
	KeepaliveInterval = 15 * time.Second
	KeepaliveMisses   = 3
)

// SessionState reflects where a Session is in its connection lifecycle.
type SessionState int

const (
	StateConnected SessionState = iota
	StateReconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrConnectionLost is surfaced to a caller whose in-flight request was
// non-idempotent (a write or a lock operation) when the session dies;
// such requests cannot be safely re-enqueued.
var ErrConnectionLost = errors.New("transport: connection lost")

// Dialer opens a fresh QUIC connection to the peer, used both for the
// initial connect and every reconnection attempt.
type Dialer func(ctx context.Context) (*quic.Conn, error)

// Session wraps one QUIC connection, its stream pool, and the keepalive
// and reconnect machinery that keep it alive across transient network
// loss. SessionID is kept across reconnects; the session never sends it
// to the host, so the host does not tie a reconnect to an earlier session.
type Session struct {
	SessionID uuid.UUID

	dial       Dialer
	numStreams int

	mu    sync.RWMutex
	conn  *quic.Conn
	pool  *StreamPool
	state SessionState

	misses int32
	stop   chan struct{}
	closed chan struct{}
}

// NewSession dials an initial connection and starts the keepalive loop.
// A fresh SessionID is minted; use Resume to reattach to an existing one.
func NewSession(ctx context.Context, dial Dialer, numStreams int) (*Session, error) {
	return newSession(ctx, uuid.New(), dial, numStreams)
}

// Resume dials a new session that keeps a previously established
// sessionID as its SessionID. The ID stays local: the host treats the new
// connection like any other peer.
func Resume(ctx context.Context, sessionID uuid.UUID, dial Dialer, numStreams int) (*Session, error) {
	return newSession(ctx, sessionID, dial, numStreams)
}

func newSession(ctx context.Context, id uuid.UUID, dial Dialer, numStreams int) (*Session, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: initial dial: %w", err)
	}
	pool, err := NewStreamPool(ctx, conn, numStreams)
	if err != nil {
		conn.CloseWithError(0, "stream pool setup failed")
		return nil, err
	}
	s := &Session{
		SessionID:  id,
		dial:       dial,
		numStreams: numStreams,
		conn:       conn,
		pool:       pool,
		state:      StateConnected,
		stop:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go s.keepaliveLoop(ctx)
	return s, nil
}

// Pool returns the current stream pool. It may be replaced under the
// hood by a reconnect; callers should call Pool again rather than cache
// the result across a long-lived operation.
func (s *Session) Pool() *StreamPool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close tears down the session and stops its background loops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()
	close(s.stop)
	if conn != nil {
		conn.CloseWithError(0, "session closed")
	}
	<-s.closed
	return nil
}

func (s *Session) keepaliveLoop(ctx context.Context) {
	defer close(s.closed)
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ping(ctx); err != nil {
				if misses := s.recordMiss(); misses >= KeepaliveMisses {
					glog.Warningf("transport: session %s missed %d keepalives, reconnecting", s.SessionID, misses)
					s.reconnect(ctx)
				}
				continue
			}
			s.resetMisses()
		}
	}
}

func (s *Session) ping(ctx context.Context) error {
	pool := s.Pool()
	if pool == nil {
		return ErrConnectionLost
	}
	stream := pool.Acquire()
	req := wire.Frame{Message: &wire.Ping{Timestamp: time.Now().Unix()}}
	resp, err := stream.SendRequest(req)
	if err != nil {
		return err
	}
	if _, ok := resp.Message.(*wire.Pong); !ok {
		return fmt.Errorf("transport: expected Pong, got %T", resp.Message)
	}
	return nil
}

func (s *Session) recordMiss() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
	return s.misses
}

func (s *Session) resetMisses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses = 0
}

// reconnect attempts to re-establish the QUIC connection with
// exponential backoff, entering StateReconnecting for its duration.
func (s *Session) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the session is closed

	err := backoff.Retry(func() error {
		select {
		case <-s.stop:
			return backoff.Permanent(ErrConnectionLost)
		default:
		}
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		pool, err := NewStreamPool(ctx, conn, s.numStreams)
		if err != nil {
			conn.CloseWithError(0, "stream pool setup failed")
			return err
		}
		s.mu.Lock()
		s.conn = conn
		s.pool = pool
		s.state = StateConnected
		s.misses = 0
		s.mu.Unlock()
		return nil
	}, bo)

	if err != nil {
		glog.Errorf("transport: session %s failed to reconnect: %v", s.SessionID, err)
	}
}

// Reconnect tears down the current connection and dials a fresh one,
// then rebuilds the stream pool. Unlike the keepalive loop's reconnect,
// this makes one attempt and reports its error rather than retrying
// forever; it's for a caller that already knows the connection is bad
// (e.g. a corrupt chunk) and wants a clean one before retrying once.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrConnectionLost
	}
	oldConn := s.conn
	s.state = StateReconnecting
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("transport: reconnect: %w", err)
	}
	pool, err := NewStreamPool(ctx, conn, s.numStreams)
	if err != nil {
		conn.CloseWithError(0, "stream pool setup failed")
		return fmt.Errorf("transport: reconnect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.pool = pool
	s.state = StateConnected
	s.misses = 0
	s.mu.Unlock()

	if oldConn != nil {
		oldConn.CloseWithError(0, "replaced by reconnect")
	}
	return nil
}

// DialerWithTLS builds a Dialer for a plain address using the given TLS
// config, the common case for connecting to a known host address.
func DialerWithTLS(addr string, tlsConf *tls.Config, quicConf *quic.Config) Dialer {
	return func(ctx context.Context) (*quic.Conn, error) {
		return quic.DialAddr(ctx, addr, tlsConf, quicConf)
	}
}
