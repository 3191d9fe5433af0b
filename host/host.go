// Package host implements the peer that serves a local directory tree
// to remote clients: metadata, chunked reads and writes, lock
// validation, and filesystem-change notification, per spec.md section
// 4.J.
package host

import (
	"context"
	"expvar"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"github.com/asjoyner/wormhole/bridge"
	"github.com/asjoyner/wormhole/inode"
	"github.com/asjoyner/wormhole/lock"
	"github.com/asjoyner/wormhole/pathutil"
	"github.com/asjoyner/wormhole/wire"
)

// Default admission control parameters, per spec.md section 4.J.
const (
	DefaultMaxConnections = 64
	DefaultReadChunkRate  = 200 // chunks/sec/client
	DefaultReadChunkBurst = 400
)

// Config collects Host construction parameters.
type Config struct {
	Root           string
	HostName       string
	UID, GID       uint32
	MaxConnections int
	ReadChunkRate  rate.Limit
	ReadChunkBurst int
}

// Host serves Root to any number of sessions, each identified by a
// client ID used for lock ownership, rate limiting, and admission.
type Host struct {
	root     string
	hostName string
	uid, gid uint32

	inodes *inode.Table
	locks  *lock.Manager

	admission *Admission
	limiters  *rateLimiters

	events *EventStream
}

var statServed = expvar.NewInt("wormhole_host_requests_served")

// New returns a Host rooted at cfg.Root. The root directory must exist.
func New(cfg Config) (*Host, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("host: Root is required")
	}
	fi, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("host: stat root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("host: root %q is not a directory", cfg.Root)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.ReadChunkRate <= 0 {
		cfg.ReadChunkRate = DefaultReadChunkRate
	}
	if cfg.ReadChunkBurst <= 0 {
		cfg.ReadChunkBurst = DefaultReadChunkBurst
	}
	h := &Host{
		root:      cfg.Root,
		hostName:  cfg.HostName,
		uid:       cfg.UID,
		gid:       cfg.GID,
		inodes:    inode.New(),
		locks:     lock.New(0),
		admission: NewAdmission(cfg.MaxConnections),
		limiters:  newRateLimiters(cfg.ReadChunkRate, cfg.ReadChunkBurst),
		events:    NewEventStream(),
	}
	return h, nil
}

// HelloAck builds the handshake response for a newly connected session.
func (h *Host) HelloAck(sessionID [16]byte) *wire.HelloAck {
	return &wire.HelloAck{
		Version:      wire.ProtocolVersion,
		SessionID:    sessionID,
		RootInode:    wire.RootInode,
		HostName:     h.hostName,
		Capabilities: nil,
	}
}

// Handler builds a bridge.Handler bound to clientID, dispatching each
// request by its wire tag.
func (h *Host) Handler(clientID string) bridge.Handler {
	return func(ctx context.Context, req bridge.Request) (wire.Message, error) {
		statServed.Add(1)
		switch m := req.Message.(type) {
		case *wire.ListDir:
			return h.listDir(m)
		case *wire.GetAttr:
			return h.getAttr(m)
		case *wire.Lookup:
			return h.lookup(m)
		case *wire.ReadChunk:
			if !h.limiters.allow(clientID) {
				return nil, wire.NewError(wire.ErrRateLimited, "read rate limit exceeded")
			}
			return h.readChunk(m)
		case *wire.WriteChunk:
			return h.writeChunk(clientID, m)
		case *wire.AcquireLock:
			return h.acquireLock(clientID, m)
		case *wire.ReleaseLock:
			return h.releaseLock(m)
		case *wire.Ping:
			return &wire.Pong{Timestamp: m.Timestamp, Payload: m.Payload}, nil
		default:
			return nil, wire.NewError(wire.ErrProtocolError, "host: unexpected request type %T", m)
		}
	}
}

// Disconnect frees clientID's admission slot and its rate limiter, e.g.
// on stream close. It does not release locks held by clientID; those
// lapse when their TTL expires.
func (h *Host) Disconnect(clientID string) {
	h.admission.Release()
	h.limiters.forget(clientID)
	glog.V(1).Infof("host: client %s disconnected", clientID)
}

// Connect attempts to reserve an admission slot for a new session. It
// returns ErrHostBusy if the host is at its connection limit.
func (h *Host) Connect(ctx context.Context, timeout time.Duration) error {
	return h.admission.Acquire(ctx, timeout)
}

// Root returns the absolute share root this host serves.
func (h *Host) Root() string { return h.root }

// Inodes exposes the host's inode table, e.g. for the filesystem watcher.
func (h *Host) Inodes() *inode.Table { return h.inodes }

// Events returns the host's broadcast stream of Invalidate messages.
func (h *Host) Events() *EventStream { return h.events }

// resolvePath turns an inode's virtual path (as the inode table tracks
// it, rooted at "/") into the real filesystem path under h.root.
func (h *Host) resolvePath(ino wire.Inode) (string, error) {
	virtual, err := h.inodes.Path(uint64(ino))
	if err != nil {
		return "", err
	}
	return pathutil.Resolve(h.root, strings.TrimPrefix(virtual, "/"))
}
