// wormhole-mount attaches a remote host's shared directory tree at a
// local mountpoint over fuse, after completing a PAKE handshake keyed by
// the pair's join code.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	"github.com/golang/glog"
	"github.com/quic-go/quic-go"

	"github.com/asjoyner/wormhole/cache"
	"github.com/asjoyner/wormhole/config"
	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/fusefs"
	"github.com/asjoyner/wormhole/lock"
	"github.com/asjoyner/wormhole/rendezvous"
	"github.com/asjoyner/wormhole/syncengine"
	"github.com/asjoyner/wormhole/transport"
	"github.com/asjoyner/wormhole/wire"
)

var (
	configPath = flag.String("config", config.DefaultMountConfigPath(), "wormhole-mount config file")
	mountPoint = flag.String("mountpoint", "", "override the config's mount_point")
	hostAddr   = flag.String("host", "", "override the config's host_addr, e.g. 10.0.0.5:4242")
)

// defaultCacheMemoryBytes bounds the clean side of the memory tier absent
// a cache_memory_bytes override in MountConfig.
const defaultCacheMemoryBytes = 256 * 1024 * 1024

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nusage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.ReadMountConfig(*configPath)
	if err != nil {
		glog.Exitf("wormhole-mount: %v", err)
	}
	if *mountPoint != "" {
		cfg.MountPoint = *mountPoint
	}
	if *hostAddr != "" {
		cfg.HostAddr = *hostAddr
	}
	if cfg.MountPoint == "" {
		glog.Exit("wormhole-mount: mount_point is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		glog.Info("wormhole-mount: shutting down")
		cancel()
	}()

	addr := cfg.HostAddr
	if addr == "" && cfg.SignalServer != "" {
		res, err := rendezvous.ConnectGlobal(ctx, rendezvous.MountGlobalConfig{
			SignalServer: cfg.SignalServer,
			JoinCode:     cfg.JoinCode,
		}, func(ev rendezvous.GlobalEvent) {
			glog.V(1).Infof("wormhole-mount: rendezvous: %s", ev.Kind)
		})
		if err != nil {
			glog.Exitf("wormhole-mount: %v", err)
		}
		if len(res.Peer.LocalAddrs) == 0 {
			glog.Exit("wormhole-mount: peer advertised no address")
		}
		addr = fmt.Sprintf("%s:%d", res.Peer.LocalAddrs[0], res.Peer.QuicPort)
	}
	if addr == "" {
		glog.Exit("wormhole-mount: host_addr is required without a signal_server")
	}

	dial := transport.DialerWithTLS(addr, transport.ClientTLSConfig(), nil)
	conn, err := dial(ctx)
	if err != nil {
		glog.Exitf("wormhole-mount: dial %s: %v", addr, err)
	}

	if err := handshake(ctx, conn, cfg.JoinCode); err != nil {
		glog.Exitf("wormhole-mount: handshake: %v", err)
	}

	sess, err := transport.NewSession(ctx, func(ctx context.Context) (*quic.Conn, error) {
		return conn, nil
	}, transport.DefaultStreams)
	if err != nil {
		glog.Exitf("wormhole-mount: %v", err)
	}
	defer sess.Close()

	ack, err := sess.Do(ctx, &wire.Hello{Version: wire.ProtocolVersion})
	if err != nil {
		glog.Exitf("wormhole-mount: hello: %v", err)
	}
	helloAck, ok := ack.(*wire.HelloAck)
	if !ok {
		glog.Exitf("wormhole-mount: unexpected hello reply: %T", ack)
	}
	glog.Infof("wormhole-mount: connected to %q (root inode %d)", helloAck.HostName, helloAck.RootInode)

	fsName := helloAck.HostName
	if fsName == "" {
		fsName = "wormhole"
	}
	kernelConn, err := fuse.Mount(
		cfg.MountPoint,
		fuse.FSName(fsName),
		fuse.Subtype("wormhole"),
		fuse.LocalVolume(),
		fuse.VolumeName(fsName),
	)
	if err != nil {
		glog.Exitf("wormhole-mount: mount %s: %v", cfg.MountPoint, err)
	}
	defer kernelConn.Close()

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = config.DefaultCacheDir()
	}
	memBudget := cfg.CacheMemoryBytes
	if memBudget == 0 {
		memBudget = defaultCacheMemoryBytes
	}
	mem, err := cache.NewMemoryTier(memBudget)
	if err != nil {
		glog.Exitf("wormhole-mount: %v", err)
	}
	disk, err := cache.NewDiskTier(cacheDir)
	if err != nil {
		glog.Exitf("wormhole-mount: %v", err)
	}
	dedup := cache.NewDedupIndex()
	c := cache.New(mem, disk, dedup, fetchFunc(sess))

	engine := syncengine.New(c, lock.New(0), flushFunc(sess), func(inode wire.Inode, indices []uint64, err error) {
		glog.Errorf("wormhole-mount: SyncFailed inode %d chunks %v: %v", inode, indices, err)
	}, syncengine.Config{ClientID: sess.SessionID.String()})

	gc := cache.NewGC(dedup, disk, cache.DefaultGCInterval, cache.DefaultGCGrace)
	go gc.Run(ctx)

	srv := fusefs.New(sess, kernelConn, c, engine)
	go srv.Run(ctx)

	if err := srv.Serve(); err != nil {
		glog.Errorf("wormhole-mount: serve: %v", err)
	}
	engine.Stop()
	glog.Flush()
}

// fetchFunc builds the cache's network fallback: a ReadChunk round trip
// whose checksum is verified against the payload. A mismatch is treated
// as a corrupt connection rather than a corrupt chunk: the session is
// reconnected and the read is retried exactly once before giving up, per
// spec.md section 4.I.
func fetchFunc(sess *transport.Session) cache.FetchFunc {
	return func(ctx context.Context, id wire.ChunkID) ([]byte, cache.ContentHash, error) {
		rc, err := readChunkOnce(ctx, sess, id)
		if err != nil {
			return nil, cache.ContentHash{}, err
		}
		if crypto.VerifyChecksum(rc.Data, rc.Checksum) {
			return rc.Data, cache.ContentHash(rc.Checksum), nil
		}

		glog.Warningf("wormhole-mount: checksum mismatch reading chunk %+v, reconnecting and retrying once", id)
		if err := sess.Reconnect(ctx); err != nil {
			return nil, cache.ContentHash{}, fmt.Errorf("wormhole-mount: reconnect after checksum mismatch: %w", err)
		}
		rc, err = readChunkOnce(ctx, sess, id)
		if err != nil {
			return nil, cache.ContentHash{}, err
		}
		if !crypto.VerifyChecksum(rc.Data, rc.Checksum) {
			return nil, cache.ContentHash{}, wire.NewError(wire.ErrChecksumMismatch, "chunk %+v failed checksum on a fresh connection", id)
		}
		return rc.Data, cache.ContentHash(rc.Checksum), nil
	}
}

func readChunkOnce(ctx context.Context, sess *transport.Session, id wire.ChunkID) (*wire.ReadChunkResponse, error) {
	resp, err := sess.Do(ctx, &wire.ReadChunk{ChunkID: id})
	if err != nil {
		return nil, err
	}
	rc, ok := resp.(*wire.ReadChunkResponse)
	if !ok {
		return nil, fmt.Errorf("wormhole-mount: unexpected ReadChunk reply: %T", resp)
	}
	return rc, nil
}

// flushFunc builds the sync engine's FlushFunc: a real AcquireLock,
// one WriteChunk per dirty chunk in the batch, then ReleaseLock. The
// token the engine passes in is its own local serialization token, not a
// host-recognized wire.LockToken, so it's intentionally unused here; this
// closure acquires its own genuine lock grant from the host instead.
func flushFunc(sess *transport.Session) syncengine.FlushFunc {
	return func(ctx context.Context, _ wire.LockToken, inode wire.Inode, indices []uint64, payloads [][]byte) (uint64, bool, error) {
		resp, err := sess.Do(ctx, &wire.AcquireLock{Inode: inode, Kind: wire.LockExclusive, TimeoutMs: 10000})
		if err != nil {
			return 0, false, err
		}
		lr, ok := resp.(*wire.LockResponse)
		if !ok || !lr.Granted {
			return 0, false, wire.NewError(wire.ErrLockConflict, "AcquireLock(%d) not granted", inode)
		}
		defer func() {
			if _, err := sess.Do(ctx, &wire.ReleaseLock{Token: lr.Token}); err != nil {
				glog.Warningf("wormhole-mount: ReleaseLock(%d): %v", inode, err)
			}
		}()

		var newSize uint64
		var hasNewSize bool
		for i, idx := range indices {
			data := payloads[i]
			if data == nil {
				continue
			}
			resp, err := sess.Do(ctx, &wire.WriteChunk{
				ChunkID:   wire.ChunkID{Inode: inode, Index: idx},
				Data:      data,
				Checksum:  crypto.Checksum(data),
				LockToken: lr.Token,
			})
			if err != nil {
				return 0, false, err
			}
			wcr, ok := resp.(*wire.WriteChunkResponse)
			if !ok || !wcr.Success {
				return 0, false, wire.NewError(wire.ErrIoError, "WriteChunk(%d,%d) rejected", inode, idx)
			}
			if wcr.HasNewSize {
				newSize, hasNewSize = wcr.NewSize, true
			}
		}
		return newSize, hasNewSize, nil
	}
}

// handshake runs the PAKE exchange on a dedicated stream opened before
// the session's regular stream pool, so the shared key is established
// before any filesystem traffic crosses the connection.
func handshake(ctx context.Context, conn *quic.Conn, joinCode string) error {
	hs, err := crypto.StartClient(joinCode)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if _, err := stream.Write(hs.OutboundMessage()); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	peerMsg := make([]byte, crypto.PakeMessageSize)
	if _, err := io.ReadFull(stream, peerMsg); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	if _, err := hs.Finish(peerMsg); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	return nil
}
