package rendezvous

import (
	"sync"
	"time"

	"github.com/asjoyner/wormhole/crypto"
)

// Room sizing, per spec.md section 4.K.
const (
	RoomIdleExpiry  = 5 * time.Minute
	MaxPeersPerRoom = 10
)

// peer is one connected room member, identified by its send function so
// the registry doesn't need to know about the transport.
type peer struct {
	id     string
	isHost bool
	info   *PeerInfo // nil until the peer has published one
	send   func(Envelope) error
}

// room holds one join-code-keyed rendezvous session.
type room struct {
	mu         sync.Mutex
	joinCode   string
	peers      map[string]*peer
	lastActive time.Time
}

// Registry tracks all live rooms, keyed by join code.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: map[string]*room{}}
}

// CreateRoom allocates a room for requested (or a generated) join code.
// It returns ErrAlreadyInRoom's sibling InvalidJoinCode if requested is
// non-empty but malformed.
func (r *Registry) CreateRoom(requested string) (string, error) {
	code := crypto.NormalizeJoinCode(requested)
	if code == "" {
		var err error
		code, err = crypto.GenerateJoinCode()
		if err != nil {
			return "", &ErrorMessage{Code: ErrInternalError, Message: err.Error()}
		}
	} else if !crypto.ValidateJoinCode(code) {
		return "", &ErrorMessage{Code: ErrInvalidJoinCode}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[code]; exists {
		return "", &ErrorMessage{Code: ErrAlreadyInRoom, Message: "join code already in use"}
	}
	r.rooms[code] = &room{joinCode: code, peers: map[string]*peer{}, lastActive: time.Now()}
	return code, nil
}

// Join adds p to the room named by joinCode. It enforces MaxPeersPerRoom
// and rejects an unknown or expired code.
func (r *Registry) Join(joinCode, peerID string, isHost bool, send func(Envelope) error) (*room, error) {
	code := crypto.NormalizeJoinCode(joinCode)
	r.mu.Lock()
	rm, ok := r.rooms[code]
	r.mu.Unlock()
	if !ok {
		return nil, &ErrorMessage{Code: ErrRoomNotFound}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, already := rm.peers[peerID]; already {
		return nil, &ErrorMessage{Code: ErrAlreadyInRoom}
	}
	if len(rm.peers) >= MaxPeersPerRoom {
		return nil, &ErrorMessage{Code: ErrRoomFull}
	}
	rm.peers[peerID] = &peer{id: peerID, isHost: isHost, send: send}
	rm.lastActive = time.Now()
	return rm, nil
}

// Leave removes peerID from its room, deleting the room entirely if it
// becomes empty.
func (r *Registry) Leave(joinCode, peerID string) {
	code := crypto.NormalizeJoinCode(joinCode)
	r.mu.Lock()
	rm, ok := r.rooms[code]
	r.mu.Unlock()
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.peers, peerID)
	empty := len(rm.peers) == 0
	rm.mu.Unlock()
	if empty {
		r.mu.Lock()
		delete(r.rooms, code)
		r.mu.Unlock()
	}
}

// PublishPeerInfo records info for peerID and returns the other peers
// currently in the room, for broadcasting PeerConnected / HolePunchReady.
func (r *Registry) PublishPeerInfo(joinCode, peerID string, info PeerInfo) ([]*peer, error) {
	code := crypto.NormalizeJoinCode(joinCode)
	r.mu.Lock()
	rm, ok := r.rooms[code]
	r.mu.Unlock()
	if !ok {
		return nil, &ErrorMessage{Code: ErrRoomNotFound}
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.peers[peerID]
	if !ok {
		return nil, &ErrorMessage{Code: ErrNotInRoom}
	}
	info.PeerID = peerID
	info.IsHost = p.isHost
	p.info = &info
	rm.lastActive = time.Now()

	var others []*peer
	for id, other := range rm.peers {
		if id != peerID {
			others = append(others, other)
		}
	}
	return others, nil
}

// ReadyPeers returns every peer in the room that has published its
// PeerInfo, whether or not the other side has joined yet.
func (r *Registry) ReadyPeers(joinCode string) []PeerInfo {
	code := crypto.NormalizeJoinCode(joinCode)
	r.mu.Lock()
	rm, ok := r.rooms[code]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var out []PeerInfo
	for _, p := range rm.peers {
		if p.info != nil {
			out = append(out, *p.info)
		}
	}
	return out
}

// SweepIdle deletes rooms that have had no activity for longer than
// RoomIdleExpiry. Intended to run on a periodic ticker.
func (r *Registry) SweepIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for code, rm := range r.rooms {
		rm.mu.Lock()
		idle := now.Sub(rm.lastActive) > RoomIdleExpiry
		rm.mu.Unlock()
		if idle {
			delete(r.rooms, code)
			removed++
		}
	}
	return removed
}

// Len reports the number of live rooms, for diagnostics and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
