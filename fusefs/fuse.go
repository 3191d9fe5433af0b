package fusefs

// This is a thin layer of glue between the bazil.org/fuse kernel interface
// and a wormhole session: every kernel request becomes a wire.Message
// submitted through bridge, answered asynchronously by a handler that
// forwards it over the session's stream pool.

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"bazil.org/fuse"
	_ "bazil.org/fuse/fs/fstestutil" // for fuse.debug
	"bazil.org/fuse/fuseutil"

	"github.com/asjoyner/wormhole/bridge"
	"github.com/asjoyner/wormhole/cache"
	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/syncengine"
	"github.com/asjoyner/wormhole/transport"
	"github.com/asjoyner/wormhole/wire"
)

var kernelRefresh = flag.Duration("kernel-refresh", time.Minute, "How long the kernel should cache metadata entries.")

const blockSize uint32 = 4096

// Server holds the state about the fuse connection. Every request it
// receives from the kernel crosses the sync/async boundary via br before
// reaching the remote host. cache and engine give read and write paths a
// real local chunk cache instead of a raw round trip per byte range: a
// read is satisfied by cache (falling back to the network on a miss) and
// a write lands in cache as dirty and is drained by engine in the
// background, per spec.md section 4.E/4.G.
type Server struct {
	br     *bridge.Bridge
	sess   *transport.Session
	conn   *fuse.Conn
	cache  *cache.Cache
	engine *syncengine.Engine

	handles []handle
	hm      sync.Mutex
}

// New returns a Server which will service fuse requests arriving on conn
// by forwarding them, via br, to sess, consulting c for reads and routing
// writes through engine. Call Run in its own goroutine before Serve to
// start draining the bridge queue and the engine's flush loop.
func New(sess *transport.Session, conn *fuse.Conn, c *cache.Cache, engine *syncengine.Engine) *Server {
	return &Server{
		br:     bridge.New(bridge.DefaultMaxInflight, bridge.DefaultDeadline),
		sess:   sess,
		conn:   conn,
		cache:  c,
		engine: engine,
	}
}

// Run drains the bridge's queue, forwarding every submitted request to the
// remote session, and runs the sync engine's background flush loop, until
// ctx is cancelled. It must run concurrently with Serve.
func (sc *Server) Run(ctx context.Context) {
	go sc.engine.Run(ctx)
	sc.br.Run(ctx, func(ctx context.Context, req bridge.Request) (wire.Message, error) {
		if rc, ok := req.Message.(*wire.ReadChunk); ok {
			return sc.serveReadChunk(ctx, rc)
		}
		return sc.sess.Do(ctx, req.Message)
	})
}

// serveReadChunk answers a ReadChunk request from the cache rather than
// issuing a fresh round trip for every read: a hot chunk is served from
// memory, a warm one is promoted from disk, and only a true miss reaches
// the network, via the cache's FetchFunc.
func (sc *Server) serveReadChunk(ctx context.Context, rc *wire.ReadChunk) (wire.Message, error) {
	data, err := sc.cache.Read(ctx, rc.ChunkID)
	if err != nil {
		return nil, err
	}
	return &wire.ReadChunkResponse{
		Data:     data,
		Checksum: crypto.Checksum(data),
		IsFinal:  uint64(len(data)) < wire.ChunkSize,
	}, nil
}

// call submits msg to the bridge and waits for its reply or for ctx to
// expire, whichever comes first.
func (sc *Server) call(ctx context.Context, msg wire.Message) (wire.Message, error) {
	replyCh, err := sc.br.Submit(ctx, msg)
	if err != nil {
		return nil, err
	}
	select {
	case reply := <-replyCh:
		return reply.Message, reply.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type handle struct {
	inode wire.Inode
	isDir bool
	size  uint64
	dirty map[uint64][]byte // chunk index -> pending bytes
}

// applyWrite buffers data at offset into the handle's dirty chunk map,
// splitting across wire.ChunkSize boundaries as needed.
func (h *handle) applyWrite(data []byte, offset int64) {
	if h.dirty == nil {
		h.dirty = make(map[uint64][]byte)
	}
	off := uint64(offset)
	for len(data) > 0 {
		idx := off / wire.ChunkSize
		chunkOff := off % wire.ChunkSize
		cb := h.dirty[idx]
		n := len(data)
		if room := int(wire.ChunkSize - chunkOff); n > room {
			n = room
		}
		need := int(chunkOff) + n
		if need > len(cb) {
			grown := make([]byte, need)
			copy(grown, cb)
			cb = grown
		}
		copy(cb[chunkOff:], data[:n])
		h.dirty[idx] = cb
		data = data[n:]
		off += uint64(n)
		if off > h.size {
			h.size = off
		}
	}
}

// Serve receives and dispatches Requests from the kernel.
func (sc *Server) Serve() error {
	for {
		req, err := sc.conn.ReadRequest()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		fuse.Debug(fmt.Sprintf("%+v", req))
		sc.serve(req)
	}
	return nil
}

func (sc *Server) serve(req fuse.Request) {
	ctx := context.Background()
	switch req := req.(type) {
	default:
		// ENOSYS means "this server never implements this request."
		fuse.Debug(fmt.Sprintf("ENOSYS: %+v", req))
		req.RespondError(fuse.ENOSYS)

	case *fuse.InitRequest:
		resp := fuse.InitResponse{MaxWrite: 128 * 1024,
			Flags: fuse.InitBigWrites & fuse.InitAsyncRead,
		}
		req.Respond(&resp)

	case *fuse.StatfsRequest:
		resp := &fuse.StatfsResponse{Bsize: blockSize}
		fuse.Debug(resp)
		req.Respond(resp)

	case *fuse.GetattrRequest:
		sc.getattr(ctx, req)

	case *fuse.LookupRequest:
		sc.lookup(ctx, req)

	case *fuse.ForgetRequest:
		req.Respond()

	case *fuse.OpenRequest:
		sc.open(ctx, req)

	case *fuse.SetattrRequest:
		sc.setattr(ctx, req)

	case *fuse.CreateRequest:
		req.RespondError(fuse.ENOSYS)

	case *fuse.ReadRequest:
		if req.Dir {
			sc.readDir(ctx, req)
		} else {
			sc.read(ctx, req)
		}

	case *fuse.MkdirRequest:
		req.RespondError(fuse.ENOSYS)

	case *fuse.RemoveRequest:
		req.RespondError(fuse.ENOSYS)

	case *fuse.RenameRequest:
		req.RespondError(fuse.ENOSYS)

	case *fuse.WriteRequest:
		sc.write(req)

	case *fuse.FlushRequest:
		if err := sc.flush(ctx, req.Handle); err != nil {
			fuse.Debug(fmt.Sprintf("Flush(%v): %v", req.Handle, err))
			req.RespondError(errnoFor(err))
			return
		}
		req.Respond()

	case *fuse.ReleaseRequest:
		sc.release(ctx, req)

	case *fuse.DestroyRequest:
		req.Respond()
	}
}

func attrFromWire(a wire.FileAttr) fuse.Attr {
	attr := fuse.Attr{
		Inode: uint64(a.Inode),
		Uid:   a.UID,
		Gid:   a.GID,
		Mode:  fuseMode(a),
		Nlink: a.Nlink,
		Size:  a.Size,
	}
	attr.Blocks = a.Size / uint64(blockSize)
	if r := a.Size % uint64(blockSize); r > 0 {
		attr.Blocks++
	}
	attr.Atime = time.Unix(a.AtimeSec, int64(a.AtimeNsec))
	attr.Mtime = time.Unix(a.MtimeSec, int64(a.MtimeNsec))
	attr.Ctime = time.Unix(a.CtimeSec, int64(a.CtimeNsec))
	return attr
}

func fuseMode(a wire.FileAttr) os.FileMode {
	mode := os.FileMode(a.Mode) & os.ModePerm
	switch a.Kind {
	case wire.KindDirectory:
		mode |= os.ModeDir
	case wire.KindSymlink:
		mode |= os.ModeSymlink
	}
	return mode
}

// getattr returns fuse.Attr for the inode described by req.Header.Node.
func (sc *Server) getattr(ctx context.Context, req *fuse.GetattrRequest) {
	resp, err := sc.call(ctx, &wire.GetAttr{Inode: wire.Inode(req.Header.Node)})
	if err != nil {
		fuse.Debug(err.Error())
		req.RespondError(errnoFor(err))
		return
	}
	ga, ok := resp.(*wire.GetAttrResponse)
	if !ok || !ga.Found {
		req.RespondError(fuse.ESTALE)
		return
	}
	out := &fuse.GetattrResponse{Attr: attrFromWire(ga.Attr)}
	fuse.Debug(out)
	req.Respond(out)
}

// lookup resolves req.Name under req.Header.Node.
func (sc *Server) lookup(ctx context.Context, req *fuse.LookupRequest) {
	resp, err := sc.call(ctx, &wire.Lookup{Parent: wire.Inode(req.Header.Node), Name: req.Name})
	if err != nil {
		fuse.Debug(err.Error())
		req.RespondError(errnoFor(err))
		return
	}
	lr, ok := resp.(*wire.LookupResponse)
	if !ok || !lr.Found {
		req.RespondError(fuse.ENOENT)
		return
	}
	out := &fuse.LookupResponse{
		Node:       fuse.NodeID(lr.Attr.Inode),
		EntryValid: *kernelRefresh,
		Attr:       attrFromWire(lr.Attr),
	}
	fuse.Debug(fmt.Sprintf("Lookup(%v in %v): %+v", req.Name, req.Header.Node, out.Node))
	req.Respond(out)
}

// readDir lists every page of req.Header.Node's children.
func (sc *Server) readDir(ctx context.Context, req *fuse.ReadRequest) {
	var entries []wire.DirEntry
	var offset uint64
	for {
		resp, err := sc.call(ctx, &wire.ListDir{Inode: wire.Inode(req.Header.Node), Offset: offset, Limit: 256})
		if err != nil {
			fuse.Debug(err.Error())
			req.RespondError(errnoFor(err))
			return
		}
		ld, ok := resp.(*wire.ListDirResponse)
		if !ok {
			req.RespondError(fuse.EIO)
			return
		}
		entries = append(entries, ld.Entries...)
		if !ld.HasMore {
			break
		}
		offset = ld.NextOffset
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var data []byte
	for _, e := range entries {
		t := fuse.DT_File
		if e.Kind == wire.KindDirectory {
			t = fuse.DT_Dir
		}
		data = fuse.AppendDirent(data, fuse.Dirent{Inode: uint64(e.Inode), Name: e.Name, Type: t})
	}

	resp := &fuse.ReadResponse{Data: make([]byte, 0, req.Size)}
	fuseutil.HandleRead(req, resp, data)
	req.Respond(resp)
}

// read assembles the requested byte range from one or more remote chunks.
func (sc *Server) read(ctx context.Context, req *fuse.ReadRequest) {
	h, err := sc.handleByID(req.Handle)
	if err != nil {
		fuse.Debug(fmt.Sprintf("handleByID(%v): %v", req.Handle, err))
		req.RespondError(fuse.ESTALE)
		return
	}

	start := uint64(req.Offset)
	end := start + uint64(req.Size)
	firstChunk := start / wire.ChunkSize
	lastChunk := end / wire.ChunkSize

	var all []byte
	for idx := firstChunk; idx <= lastChunk; idx++ {
		// Routed through sc.call, this is answered by serveReadChunk out of
		// the local cache rather than a fresh network round trip; a
		// checksum mismatch is already retried once, on a reconnected
		// session, inside the cache's FetchFunc.
		resp, err := sc.call(ctx, &wire.ReadChunk{ChunkID: wire.ChunkID{Inode: h.inode, Index: idx}})
		if err != nil {
			fuse.Debug(fmt.Sprintf("ReadChunk(%d,%d): %v", h.inode, idx, err))
			req.RespondError(errnoFor(err))
			return
		}
		rc, ok := resp.(*wire.ReadChunkResponse)
		if !ok {
			req.RespondError(fuse.EIO)
			return
		}
		all = append(all, rc.Data...)
		if rc.IsFinal {
			break
		}
	}

	low := start - firstChunk*wire.ChunkSize
	if low > uint64(len(all)) {
		low = uint64(len(all))
	}
	high := low + uint64(req.Size)
	if high > uint64(len(all)) {
		high = uint64(len(all))
	}
	req.Respond(&fuse.ReadResponse{Data: all[low:high]})
}

// open allocates a kernel file handle, held until Release.
func (sc *Server) open(ctx context.Context, req *fuse.OpenRequest) {
	resp, err := sc.call(ctx, &wire.GetAttr{Inode: wire.Inode(req.Header.Node)})
	if err != nil {
		req.RespondError(errnoFor(err))
		return
	}
	ga, ok := resp.(*wire.GetAttrResponse)
	if !ok || !ga.Found {
		req.RespondError(fuse.ENOENT)
		return
	}

	hID := sc.allocHandle(wire.Inode(req.Header.Node), ga.Attr.Kind == wire.KindDirectory, ga.Attr.Size)
	out := fuse.OpenResponse{Handle: fuse.HandleID(hID)}
	fuse.Debug(fmt.Sprintf("Open Response: %+v", out))
	req.Respond(&out)
}

func (sc *Server) setattr(ctx context.Context, req *fuse.SetattrRequest) {
	resp, err := sc.call(ctx, &wire.GetAttr{Inode: wire.Inode(req.Header.Node)})
	if err != nil {
		req.RespondError(errnoFor(err))
		return
	}
	ga, ok := resp.(*wire.GetAttrResponse)
	if !ok || !ga.Found {
		req.RespondError(fuse.ENOENT)
		return
	}
	req.Respond(&fuse.SetattrResponse{Attr: attrFromWire(ga.Attr)})
}

func (sc *Server) allocHandle(inode wire.Inode, isDir bool, size uint64) uint64 {
	h := handle{inode: inode, isDir: isDir, size: size}
	sc.hm.Lock()
	defer sc.hm.Unlock()
	for i, existing := range sc.handles {
		if existing.inode == 0 {
			sc.handles[i] = h
			return uint64(i)
		}
	}
	sc.handles = append(sc.handles, h)
	return uint64(len(sc.handles) - 1)
}

func (sc *Server) handleByID(id fuse.HandleID) (handle, error) {
	sc.hm.Lock()
	defer sc.hm.Unlock()
	if int(id) >= len(sc.handles) {
		return handle{}, fmt.Errorf("handle %v has not been allocated", id)
	}
	return sc.handles[id], nil
}

func (sc *Server) release(ctx context.Context, req *fuse.ReleaseRequest) {
	flushErr := sc.flush(ctx, req.Handle)

	sc.hm.Lock()
	h := sc.handles[req.Handle]
	h.inode = 0
	sc.handles[req.Handle] = h
	sc.hm.Unlock()

	if flushErr != nil {
		fuse.Debug(fmt.Sprintf("Release flush(%v): %v", req.Handle, flushErr))
		req.RespondError(errnoFor(flushErr))
		return
	}
	req.Respond()
}

// write buffers req.Data as dirty bytes in the handle; it is not sent to
// the host until flush (on Flush or Release).
func (sc *Server) write(req *fuse.WriteRequest) {
	sc.hm.Lock()
	defer sc.hm.Unlock()
	h := sc.handles[req.Handle]
	h.applyWrite(req.Data, req.Offset)
	sc.handles[req.Handle] = h
	req.Respond(&fuse.WriteResponse{Size: len(req.Data)})
}

// flush hands the handle's dirty chunks to the cache and blocks until the
// sync engine has durably written them to the host, or returns whatever
// error kept that from happening (per spec.md section 4.G.5, a failure
// here must leave the chunks dirty rather than silently drop them). It
// briefly takes sc.hm to atomically swap out the dirty map, then releases
// it before the network round trip and any retry/backoff, so one slow or
// backlogged flush doesn't stall every other open handle.
func (sc *Server) flush(ctx context.Context, hID fuse.HandleID) error {
	sc.hm.Lock()
	if int(hID) >= len(sc.handles) {
		sc.hm.Unlock()
		return nil
	}
	h := sc.handles[hID]
	dirty := h.dirty
	h.dirty = nil
	sc.handles[hID] = h
	sc.hm.Unlock()

	if h.isDir || len(dirty) == 0 {
		return nil
	}

	for idx, data := range dirty {
		id := wire.ChunkID{Inode: h.inode, Index: idx}
		sc.cache.Write(id, data, cache.ContentHash(crypto.Checksum(data)))
		sc.engine.MarkDirty(id)
	}

	// Whether or not Flush below succeeds, the chunks are already pinned
	// Dirty in the cache and tracked by the engine: a failure here does
	// not lose them, it only means this call can't confirm they reached
	// the host yet. The engine's background loop keeps retrying them
	// regardless of what this handle does next.
	return sc.engine.Flush(ctx, h.inode)
}
