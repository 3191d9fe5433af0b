package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// GlobalEventKind discriminates the progress events StartHostGlobal and
// ConnectGlobal emit while working through the signalling and
// hole-punch handshake, so a caller (CLI, UI) can render status without
// polling.
type GlobalEventKind string

const (
	EventWaitingForPeer GlobalEventKind = "waiting_for_peer"
	EventConnecting     GlobalEventKind = "connecting"
	EventPeerConnected  GlobalEventKind = "peer_connected"
	EventHolePunchReady GlobalEventKind = "hole_punch_ready"
)

// GlobalEvent is one step of progress reported to the EventCallback.
type GlobalEvent struct {
	Kind     GlobalEventKind
	JoinCode string
	Peer     PeerInfo
	IsLocal  bool
}

// EventCallback receives GlobalEvents as they occur. It must not block.
type EventCallback func(GlobalEvent)

// HostGlobalConfig collects parameters for StartHostGlobal.
type HostGlobalConfig struct {
	SignalServer string // e.g. "wss://rendezvous.example.com/rendezvous"
	JoinCode     string // empty: server generates one
	QuicPort     uint16
	Timeout      time.Duration
}

// MountGlobalConfig collects parameters for ConnectGlobal.
type MountGlobalConfig struct {
	SignalServer string
	JoinCode     string
	QuicPort     uint16
	Timeout      time.Duration
}

const defaultGlobalTimeout = 30 * time.Second

// GlobalResult is what both sides of a signalled rendezvous learn: the
// room's join code and the other peer's advertised addresses. The
// caller completes the handshake (PAKE over the join code, per crypto)
// and dials or accepts the direct transport session; rendezvous's job
// ends at introduction.
type GlobalResult struct {
	JoinCode string
	Peer     PeerInfo
	IsLocal  bool
}

// StartHostGlobal creates a room (generating a join code if cfg.JoinCode
// is empty), publishes this host's own addresses, and waits for exactly
// one peer to join and publish its own. It blocks until a peer appears,
// ctx is cancelled, or cfg.Timeout elapses.
func StartHostGlobal(ctx context.Context, cfg HostGlobalConfig, emit EventCallback) (*GlobalResult, error) {
	if emit == nil {
		emit = func(GlobalEvent) {}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGlobalTimeout
	}

	c, err := Dial(cfg.SignalServer)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dial signal server: %w", err)
	}
	defer c.Close()

	joinCode, err := c.CreateRoom(cfg.JoinCode, timeout)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: create room: %w", err)
	}
	emit(GlobalEvent{Kind: EventWaitingForPeer, JoinCode: joinCode})

	self := PeerInfo{
		LocalAddrs: localAddrs(),
		QuicPort:   cfg.QuicPort,
		IsHost:     true,
	}
	if err := c.PublishPeerInfo(self); err != nil {
		return nil, fmt.Errorf("rendezvous: publish peer info: %w", err)
	}

	peer, isLocal, err := waitForPeer(ctx, c, self, timeout)
	if err != nil {
		return nil, err
	}
	emit(GlobalEvent{Kind: EventPeerConnected, JoinCode: joinCode, Peer: peer, IsLocal: isLocal})
	return &GlobalResult{JoinCode: joinCode, Peer: peer, IsLocal: isLocal}, nil
}

// ConnectGlobal joins the room named by cfg.JoinCode, publishes this
// client's own addresses, and takes the host's from the JoinedRoom reply;
// if the host has not published them yet, it waits for them the same way
// StartHostGlobal does for the joining peer.
func ConnectGlobal(ctx context.Context, cfg MountGlobalConfig, emit EventCallback) (*GlobalResult, error) {
	if emit == nil {
		emit = func(GlobalEvent) {}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGlobalTimeout
	}

	c, err := Dial(cfg.SignalServer)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dial signal server: %w", err)
	}
	defer c.Close()

	emit(GlobalEvent{Kind: EventConnecting, JoinCode: cfg.JoinCode})
	host, err := c.JoinRoom(cfg.JoinCode, timeout)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: join room: %w", err)
	}

	self := PeerInfo{
		LocalAddrs: localAddrs(),
		QuicPort:   cfg.QuicPort,
		IsHost:     false,
	}
	if err := c.PublishPeerInfo(self); err != nil {
		return nil, fmt.Errorf("rendezvous: publish peer info: %w", err)
	}
	if host.PeerID == "" {
		// The host had not published its PeerInfo when we joined.
		if host, _, err = waitForPeer(ctx, c, self, timeout); err != nil {
			return nil, err
		}
	}

	isLocal := sharesLocalAddr(self, host)
	emit(GlobalEvent{Kind: EventPeerConnected, JoinCode: cfg.JoinCode, Peer: host, IsLocal: isLocal})
	return &GlobalResult{JoinCode: cfg.JoinCode, Peer: host, IsLocal: isLocal}, nil
}

// waitForPeer blocks until the server notifies us that the room's other
// peer has published its info, relayed either as a direct PeerConnected
// or folded into a HolePunchReady broadcast.
func waitForPeer(ctx context.Context, c *Client, self PeerInfo, timeout time.Duration) (PeerInfo, bool, error) {
	deadline := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return PeerInfo{}, false, ctx.Err()
		case <-deadline:
			return PeerInfo{}, false, fmt.Errorf("rendezvous: timed out waiting for a peer")
		case env, ok := <-c.Notifications():
			if !ok {
				return PeerInfo{}, false, fmt.Errorf("rendezvous: signal server connection closed")
			}
			peer, ok := extractPeer(env, self)
			if !ok {
				continue
			}
			return peer, sharesLocalAddr(self, peer), nil
		}
	}
}

func extractPeer(env Envelope, self PeerInfo) (PeerInfo, bool) {
	switch env.Type {
	case TypePeerConnected:
		var m PeerConnected
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return PeerInfo{}, false
		}
		return m.Peer, true
	case TypeHolePunchReady:
		var m HolePunchReady
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return PeerInfo{}, false
		}
		for _, p := range m.Peers {
			if p.PeerID != self.PeerID {
				return p, true
			}
		}
	}
	return PeerInfo{}, false
}

// localAddrs enumerates this host's non-loopback interface addresses,
// published alongside the room so the other peer can try a direct LAN
// connection before falling back to hole-punching.
func localAddrs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		out = append(out, ipNet.IP.String())
	}
	return out
}

// sharesLocalAddr reports whether self and peer appear to be on the
// same LAN, by intersecting their published local address lists.
func sharesLocalAddr(self, peer PeerInfo) bool {
	for _, a := range self.LocalAddrs {
		for _, b := range peer.LocalAddrs {
			if a == b {
				return true
			}
		}
	}
	return false
}
