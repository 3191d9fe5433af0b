// wormhole-host shares a directory tree with a remote wormhole-mount
// client: it accepts QUIC sessions, completes a PAKE handshake over the
// session's join code, and dispatches every subsequent frame to a
// host.Host.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"golang.org/x/time/rate"

	"github.com/asjoyner/wormhole/bridge"
	"github.com/asjoyner/wormhole/config"
	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/host"
	"github.com/asjoyner/wormhole/rendezvous"
	"github.com/asjoyner/wormhole/transport"
	"github.com/asjoyner/wormhole/wire"
)

var (
	configPath = flag.String("config", config.DefaultHostConfigPath(), "wormhole-host config file")
	listenAddr = flag.String("listen", "", "override the config's listen_addr, e.g. :4242")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nusage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.ReadHostConfig(*configPath)
	if err != nil {
		glog.Exitf("wormhole-host: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	h, err := host.New(host.Config{
		Root:           cfg.Root,
		HostName:       cfg.HostName,
		MaxConnections: cfg.MaxConnections,
		ReadChunkRate:  rate.Limit(cfg.ReadChunkRate),
		ReadChunkBurst: cfg.ReadChunkBurst,
	})
	if err != nil {
		glog.Exitf("wormhole-host: %v", err)
	}

	watcher, err := host.NewWatcher(h)
	if err != nil {
		glog.Errorf("wormhole-host: filesystem watcher disabled: %v", err)
	} else {
		go watcher.Run()
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		glog.Info("wormhole-host: shutting down")
		cancel()
	}()

	tlsConf, err := transport.GenerateHostTLSConfig()
	if err != nil {
		glog.Exitf("wormhole-host: %v", err)
	}

	joinCode := cfg.JoinCode
	if joinCode == "" {
		joinCode, err = crypto.GenerateJoinCode()
		if err != nil {
			glog.Exitf("wormhole-host: generate join code: %v", err)
		}
	}

	addr := cfg.ListenAddr
	if addr == "" {
		addr = "0.0.0.0:0"
	}
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		glog.Exitf("wormhole-host: listen: %v", err)
	}
	defer ln.Close()

	glog.Infof("wormhole-host: serving %q on %s, join code %s", cfg.Root, ln.Addr(), joinCode)

	if cfg.SignalServer != "" {
		if _, port, err := net.SplitHostPort(ln.Addr().String()); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				go announce(ctx, cfg.SignalServer, joinCode, uint16(p))
			}
		}
	} else {
		fmt.Println(joinCode)
	}

	acceptLoop(ctx, ln, h, joinCode)
	glog.Flush()
}

// announce publishes this host's join code and port to a signalling
// server, so a client with no direct address can discover it. It does
// not itself establish the QUIC session; wormhole-mount dials the
// address it already knows or learns from the same signal server.
func announce(ctx context.Context, signalServer, joinCode string, port uint16) {
	res, err := rendezvous.StartHostGlobal(ctx, rendezvous.HostGlobalConfig{
		SignalServer: signalServer,
		JoinCode:     joinCode,
		QuicPort:     port,
	}, func(ev rendezvous.GlobalEvent) {
		glog.V(1).Infof("wormhole-host: rendezvous: %s", ev.Kind)
	})
	if err != nil {
		glog.Errorf("wormhole-host: rendezvous: %v", err)
		return
	}
	glog.Infof("wormhole-host: rendezvous: peer %+v connected (local=%v)", res.Peer, res.IsLocal)
}

var sessionSeq uint64

// acceptLoop accepts QUIC connections until ctx is cancelled, handling
// each concurrently.
func acceptLoop(ctx context.Context, ln *quic.Listener, h *host.Host, joinCode string) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Errorf("wormhole-host: accept: %v", err)
			continue
		}
		go handleConn(ctx, conn, h, joinCode)
	}
}

// handleConn completes the PAKE handshake on the connection's first
// stream, then serves every subsequent stream's frames against h until
// the connection closes.
func handleConn(ctx context.Context, conn *quic.Conn, h *host.Host, joinCode string) {
	clientID := fmt.Sprintf("conn-%d", atomic.AddUint64(&sessionSeq, 1))
	defer h.Disconnect(clientID)

	if err := h.Connect(ctx, 0); err != nil {
		glog.Warningf("wormhole-host: %s: admission refused: %v", clientID, err)
		conn.CloseWithError(0, "host busy")
		return
	}

	hs, err := crypto.StartHost(joinCode)
	if err != nil {
		glog.Errorf("wormhole-host: %s: pake setup: %v", clientID, err)
		conn.CloseWithError(1, "handshake error")
		return
	}
	authStream, err := conn.AcceptStream(ctx)
	if err != nil {
		glog.Errorf("wormhole-host: %s: accept handshake stream: %v", clientID, err)
		return
	}
	if _, err := authStream.Write(hs.OutboundMessage()); err != nil {
		glog.Errorf("wormhole-host: %s: send handshake message: %v", clientID, err)
		authStream.Close()
		return
	}
	peerMsg := make([]byte, crypto.PakeMessageSize)
	if _, err := io.ReadFull(authStream, peerMsg); err != nil {
		glog.Errorf("wormhole-host: %s: read handshake message: %v", clientID, err)
		authStream.Close()
		return
	}
	if _, err := hs.Finish(peerMsg); err != nil {
		glog.Errorf("wormhole-host: %s: handshake failed: %v", clientID, err)
		authStream.Close()
		return
	}
	authStream.Close()

	sessionID := uuid.New()
	handler := h.Handler(clientID)

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				glog.V(1).Infof("wormhole-host: %s: connection closed: %v", clientID, err)
			}
			return
		}
		go serveStream(ctx, stream, handler, sessionID, h)
	}
}

// serveStream reads frames from stream in a loop, dispatching each
// through handler and writing back the reply (or a wire-level error),
// until the stream or ctx closes. The QUIC accept loop is already the
// asynchronous side here, so handler is invoked directly rather than
// through a bridge.Bridge; bridge is only needed to cross a synchronous
// callback boundary, which the host side doesn't have.
func serveStream(ctx context.Context, stream quic.Stream, handler bridge.Handler, sessionID uuid.UUID, h *host.Host) {
	defer stream.Close()
	for {
		frame, err := wire.Decode(stream)
		if err != nil {
			if err != io.EOF {
				glog.V(1).Infof("wormhole-host: decode: %v", err)
			}
			return
		}

		var reply wire.Message
		if _, ok := frame.Message.(*wire.Hello); ok {
			var id [16]byte
			copy(id[:], sessionID[:])
			reply = h.HelloAck(id)
		} else {
			resp, err := handler(ctx, bridge.Request{ID: frame.RequestID, Message: frame.Message})
			if err != nil {
				reply = errorMessage(err)
			} else {
				reply = resp
			}
		}

		if err := wire.Encode(stream, wire.Frame{RequestID: frame.RequestID, Message: reply}); err != nil {
			glog.V(1).Infof("wormhole-host: encode reply: %v", err)
			return
		}
	}
}

func errorMessage(err error) *wire.ErrorMessage {
	if pe, ok := err.(*wire.ProtoError); ok {
		return &wire.ErrorMessage{Code: pe.Code, Message: pe.Message, RelatedInode: pe.RelatedInode, HasInode: pe.HasInode}
	}
	return &wire.ErrorMessage{Code: wire.ErrUnknown, Message: err.Error()}
}
