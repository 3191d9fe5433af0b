package rendezvous

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// DefaultSweepInterval governs how often idle rooms are reaped.
const DefaultSweepInterval = time.Minute

// connRateLimit bounds how many envelopes a single connection may send
// per second before ErrRateLimited replies start going out instead.
const connRateLimit = 20

// Server answers WebSocket connections and brokers CreateRoom/JoinRoom/
// PeerInfo exchange through a Registry.
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader

	path       string
	listener   net.Listener
	httpServer *http.Server

	stopSweep chan struct{}
}

// NewServer builds a Server that will listen at path (default "/rendezvous").
func NewServer(path string) *Server {
	if path == "" {
		path = "/rendezvous"
	}
	return &Server{
		registry: NewRegistry(),
		path:     path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		stopSweep: make(chan struct{}),
	}
}

// ListenAndServe starts the HTTP server at addr and runs until Stop.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go s.sweepLoop()

	glog.Infof("rendezvous: listening on %s%s", addr, s.path)
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the server's bound address, once ListenAndServe has
// started listening. Useful when addr was "host:0" and the kernel chose
// the port, e.g. in tests.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down the server and its idle-room sweeper.
func (s *Server) Stop() error {
	close(s.stopSweep)
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) sweepLoop() {
	t := time.NewTicker(DefaultSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case now := <-t.C:
			if n := s.registry.SweepIdle(now); n > 0 {
				glog.V(1).Infof("rendezvous: swept %d idle rooms", n)
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("rendezvous: upgrade failed: %v", err)
		return
	}
	c := &wsConn{
		conn:    conn,
		peerID:  uuid.NewString(),
		limiter: rate.NewLimiter(connRateLimit, connRateLimit),
	}
	go s.serveConn(c)
}

// wsConn wraps a websocket.Conn with a write mutex, since gorilla
// forbids concurrent writers on the same connection.
type wsConn struct {
	conn     *websocket.Conn
	peerID   string
	joinCode string // room this connection currently belongs to, if any
	isHost   bool

	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *wsConn) send(e Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(e)
}

func (c *wsConn) sendError(code ErrCode, msg string) error {
	env, err := encode(TypeErrorMessage, ErrorMessage{Code: code, Message: msg})
	if err != nil {
		return err
	}
	return c.send(env)
}

func (s *Server) serveConn(c *wsConn) {
	defer func() {
		c.conn.Close()
		if c.joinCode != "" {
			s.registry.Leave(c.joinCode, c.peerID)
		}
	}()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("rendezvous: connection %s closed unexpectedly: %v", c.peerID, err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.sendError(ErrRateLimited, "too many messages")
			continue
		}
		if err := s.dispatch(c, env); err != nil {
			if em, ok := err.(*ErrorMessage); ok {
				c.sendError(em.Code, em.Message)
			} else {
				c.sendError(ErrInternalError, err.Error())
			}
		}
	}
}

func (s *Server) dispatch(c *wsConn, env Envelope) error {
	switch env.Type {
	case TypeCreateRoom:
		var req CreateRoom
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return &ErrorMessage{Code: ErrInternalError, Message: err.Error()}
		}
		code, err := s.registry.CreateRoom(req.JoinCode)
		if err != nil {
			return err
		}
		if _, err := s.registry.Join(code, c.peerID, true, c.send); err != nil {
			return err
		}
		c.joinCode = code
		c.isHost = true
		out, err := encode(TypeRoomCreated, RoomCreated{JoinCode: code})
		if err != nil {
			return err
		}
		return c.send(out)

	case TypeJoinRoom:
		var req JoinRoom
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return &ErrorMessage{Code: ErrInternalError, Message: err.Error()}
		}
		rm, err := s.registry.Join(req.JoinCode, c.peerID, false, c.send)
		if err != nil {
			return err
		}
		c.joinCode = req.JoinCode
		c.isHost = false

		var hostInfo PeerInfo
		rm.mu.Lock()
		for _, p := range rm.peers {
			if p.isHost && p.info != nil {
				hostInfo = *p.info
			}
		}
		rm.mu.Unlock()

		out, err := encode(TypeJoinedRoom, JoinedRoom{HostInfo: hostInfo})
		if err != nil {
			return err
		}
		return c.send(out)

	case TypePeerInfo:
		var info PeerInfo
		if err := json.Unmarshal(env.Payload, &info); err != nil {
			return &ErrorMessage{Code: ErrInternalError, Message: err.Error()}
		}
		others, err := s.registry.PublishPeerInfo(c.joinCode, c.peerID, info)
		if err != nil {
			return err
		}
		info.PeerID = c.peerID
		info.IsHost = c.isHost
		connected, err := encode(TypePeerConnected, PeerConnected{Peer: info})
		if err != nil {
			return err
		}
		for _, other := range others {
			other.send(connected)
		}

		if ready := s.registry.ReadyPeers(c.joinCode); len(ready) >= 2 {
			out, err := encode(TypeHolePunchReady, HolePunchReady{Peers: ready})
			if err != nil {
				return err
			}
			for _, other := range others {
				other.send(out)
			}
			c.send(out)
		}
		return nil

	default:
		return &ErrorMessage{Code: ErrInternalError, Message: "unrecognized message type"}
	}
}
