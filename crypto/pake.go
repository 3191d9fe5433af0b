package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// PakeMessageSize is the length of the single message each side of a
// handshake sends the other.
const PakeMessageSize = 33

// SharedKeySize is the length of the key a completed handshake produces.
const SharedKeySize = 32

const pakeIdentity = "wormhole-pake-v1"

// PakeRole distinguishes the two sides of a handshake. The roles feed into
// key derivation so a host and a client never derive the same key from
// symmetric inputs by accident.
type PakeRole uint8

const (
	// RoleHost is the side sharing files.
	RoleHost PakeRole = iota
	// RoleClient is the side mounting them.
	RoleClient
)

// PakeHandshake runs a password-authenticated key exchange seeded by a join
// code, producing a shared key neither side had to transmit in the clear.
//
// There is no packaged Go SPAKE2 implementation available, so this builds
// directly on curve25519 and hkdf: each side blinds an ephemeral X25519
// public key with a password-derived mask before sending it (the classic
// encrypted-key-exchange construction), then mixes the raw Diffie-Hellman
// output with the join code and both ephemeral public keys through HKDF.
// A wrong join code yields a different key on each side silently; nothing
// here raises an explicit "wrong password" error; the mismatch is caught
// downstream when the first framed message fails to authenticate.
type PakeHandshake struct {
	role       PakeRole
	ephPriv    [32]byte
	ephPub     [32]byte
	mask       [32]byte
	outbound   [PakeMessageSize]byte
	normalized string
	done       bool
}

func deriveMask(normalizedCode string) [32]byte {
	r := hkdf.New(newSHA256, []byte(normalizedCode), nil, []byte(pakeIdentity+"|mask"))
	var mask [32]byte
	if _, err := io.ReadFull(r, mask[:]); err != nil {
		panic(err) // hkdf only fails if asked for an absurd length
	}
	return mask
}

func newHandshake(role PakeRole, joinCode string) (*PakeHandshake, error) {
	normalized := NormalizeJoinCode(joinCode)
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive ephemeral public key: %w", err)
	}

	h := &PakeHandshake{role: role, normalized: normalized}
	copy(h.ephPriv[:], priv[:])
	copy(h.ephPub[:], pub)
	h.mask = deriveMask(normalized)

	h.outbound[0] = byte(role)
	masked := xor32(h.ephPub, h.mask)
	copy(h.outbound[1:], masked[:])
	return h, nil
}

// StartHost begins a handshake as the host (initiator).
func StartHost(joinCode string) (*PakeHandshake, error) { return newHandshake(RoleHost, joinCode) }

// StartClient begins a handshake as the client (responder).
func StartClient(joinCode string) (*PakeHandshake, error) { return newHandshake(RoleClient, joinCode) }

// Role reports which side of the handshake this is.
func (h *PakeHandshake) Role() PakeRole { return h.role }

// OutboundMessage is the message to send to the peer.
func (h *PakeHandshake) OutboundMessage() []byte { return h.outbound[:] }

// Finish consumes the peer's message and derives the shared key. The
// handshake must not be reused afterward.
func (h *PakeHandshake) Finish(peerMessage []byte) ([SharedKeySize]byte, error) {
	var zero [SharedKeySize]byte
	if h.done {
		return zero, fmt.Errorf("crypto: handshake already finished")
	}
	if len(peerMessage) != PakeMessageSize {
		return zero, fmt.Errorf("crypto: peer message is %d bytes, want %d", len(peerMessage), PakeMessageSize)
	}
	h.done = true

	var peerMasked [32]byte
	copy(peerMasked[:], peerMessage[1:])
	peerPub := xor32(peerMasked, h.mask)

	raw, err := curve25519.X25519(h.ephPriv[:], peerPub[:])
	if err != nil {
		return zero, fmt.Errorf("crypto: handshake failed: %w", err)
	}

	// Order the two public keys canonically so host and client mix the
	// transcript identically regardless of who calls Finish first.
	var lo, hi [32]byte
	if h.role == RoleHost {
		lo, hi = h.ephPub, peerPub
	} else {
		lo, hi = peerPub, h.ephPub
	}

	info := append([]byte(pakeIdentity+"|key|"), lo[:]...)
	info = append(info, hi[:]...)
	r := hkdf.New(newSHA256, raw, []byte(h.normalized), info)
	var key [SharedKeySize]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return zero, fmt.Errorf("crypto: derive shared key: %w", err)
	}
	return key, nil
}

func xor32(a, b [32]byte) [32]byte {
	var out [32]byte
	subtle.XORBytes(out[:], a[:], b[:])
	return out
}
