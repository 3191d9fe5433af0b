// Package rendezvous implements the signalling service peers use to
// find each other before establishing a direct QUIC session: a small
// JSON-over-WebSocket protocol brokering join codes, peer addresses,
// and NAT hole-punch coordination, per spec.md section 4.K.
package rendezvous

import "encoding/json"

// MessageType discriminates the JSON envelope's Payload.
type MessageType string

const (
	TypeCreateRoom     MessageType = "create_room"
	TypeRoomCreated    MessageType = "room_created"
	TypeJoinRoom       MessageType = "join_room"
	TypeJoinedRoom     MessageType = "joined_room"
	TypePeerConnected  MessageType = "peer_connected"
	TypePeerInfo       MessageType = "peer_info"
	TypeHolePunchReady MessageType = "hole_punch_ready"
	TypeErrorMessage   MessageType = "error"
)

// Envelope is the outer JSON object every message is wrapped in.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateRoom is sent by the host to allocate a room. JoinCode is
// optional; the server generates one if empty.
type CreateRoom struct {
	JoinCode string `json:"join_code,omitempty"`
}

// RoomCreated acknowledges CreateRoom with the room's join code.
type RoomCreated struct {
	JoinCode string `json:"join_code"`
}

// JoinRoom is sent by a client attempting to join a host's room.
type JoinRoom struct {
	JoinCode string `json:"join_code"`
}

// JoinedRoom acknowledges a successful JoinRoom with the host's info.
type JoinedRoom struct {
	HostInfo PeerInfo `json:"host_info"`
}

// PeerConnected carries a peer's PeerInfo to the other members of its
// room. The server sends it when that peer publishes its PeerInfo; a
// JoinRoom on its own sends none.
type PeerConnected struct {
	Peer PeerInfo `json:"peer"`
}

// PeerInfo is published by each peer once connected to its room, per
// spec.md section 4.K step 3.
type PeerInfo struct {
	PeerID     string   `json:"peer_id"`
	PublicAddr string   `json:"public_addr"`
	LocalAddrs []string `json:"local_addrs"`
	QuicPort   uint16   `json:"quic_port"`
	IsHost     bool     `json:"is_host"`
}

// HolePunchReady tells both peers in a room that PeerInfo has been
// exchanged and they may begin simultaneous hole-punching.
type HolePunchReady struct {
	Peers []PeerInfo `json:"peers"`
}

// ErrCode enumerates the rendezvous error taxonomy from spec.md section
// 4.K.
type ErrCode string

const (
	ErrRoomNotFound    ErrCode = "RoomNotFound"
	ErrRoomFull        ErrCode = "RoomFull"
	ErrInvalidJoinCode ErrCode = "InvalidJoinCode"
	ErrAlreadyInRoom   ErrCode = "AlreadyInRoom"
	ErrNotInRoom       ErrCode = "NotInRoom"
	ErrRateLimited     ErrCode = "RateLimited"
	ErrInternalError   ErrCode = "InternalError"
)

// ErrorMessage is sent in place of the expected reply on failure. It also
// satisfies the error interface so registry methods can return it directly.
type ErrorMessage struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message,omitempty"`
}

func (e *ErrorMessage) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func encode(t MessageType, v interface{}) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}
