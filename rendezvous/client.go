package rendezvous

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultDialTimeout bounds the initial WebSocket handshake.
const DefaultDialTimeout = 10 * time.Second

// Client is a peer's connection to a rendezvous server: it sends
// CreateRoom/JoinRoom/PeerInfo and delivers server-pushed envelopes
// (PeerConnected, HolePunchReady) to the caller through Notifications.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	replies chan Envelope
	notify  chan Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a rendezvous server at url (e.g. "wss://host/rendezvous").
func Dial(url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultDialTimeout}
	conn, _, err := dialer.Dial(url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		replies: make(chan Envelope, 1),
		notify:  make(chan Envelope, 8),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Notifications returns the channel server-pushed events (PeerConnected,
// HolePunchReady) arrive on, unprompted by a request this Client made.
func (c *Client) Notifications() <-chan Envelope { return c.notify }

func (c *Client) readLoop() {
	defer close(c.notify)
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			close(c.done)
			return
		}
		switch env.Type {
		case TypePeerConnected, TypeHolePunchReady:
			select {
			case c.notify <- env:
			default:
			}
		default:
			select {
			case c.replies <- env:
			default:
			}
		}
	}
}

func (c *Client) roundTrip(req Envelope, timeout time.Duration) (Envelope, error) {
	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return Envelope{}, err
	}
	select {
	case reply := <-c.replies:
		if reply.Type == TypeErrorMessage {
			var em ErrorMessage
			if jerr := json.Unmarshal(reply.Payload, &em); jerr == nil {
				return Envelope{}, &em
			}
		}
		return reply, nil
	case <-c.done:
		return Envelope{}, fmt.Errorf("rendezvous: connection closed")
	case <-time.After(timeout):
		return Envelope{}, fmt.Errorf("rendezvous: timed out waiting for reply to %s", req.Type)
	}
}

// CreateRoom asks the server to allocate a room, optionally with a
// caller-supplied join code, and returns the code actually assigned.
func (c *Client) CreateRoom(joinCode string, timeout time.Duration) (string, error) {
	env, err := encode(TypeCreateRoom, CreateRoom{JoinCode: joinCode})
	if err != nil {
		return "", err
	}
	reply, err := c.roundTrip(env, timeout)
	if err != nil {
		return "", err
	}
	var resp RoomCreated
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return "", err
	}
	return resp.JoinCode, nil
}

// JoinRoom joins the room named by joinCode and returns the host's info.
func (c *Client) JoinRoom(joinCode string, timeout time.Duration) (PeerInfo, error) {
	env, err := encode(TypeJoinRoom, JoinRoom{JoinCode: joinCode})
	if err != nil {
		return PeerInfo{}, err
	}
	reply, err := c.roundTrip(env, timeout)
	if err != nil {
		return PeerInfo{}, err
	}
	var resp JoinedRoom
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return PeerInfo{}, err
	}
	return resp.HostInfo, nil
}

// PublishPeerInfo sends this peer's own address information to the room,
// triggering PeerConnected/HolePunchReady notifications once every peer
// has published.
func (c *Client) PublishPeerInfo(info PeerInfo) error {
	env, err := encode(TypePeerInfo, info)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// Close closes the underlying WebSocket connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
