package wire

func marshalChunkID(w *writer, c ChunkID) {
	w.u64(uint64(c.Inode))
	w.u64(c.Index)
}

func unmarshalChunkID(r *reader) ChunkID {
	return ChunkID{Inode: Inode(r.u64()), Index: r.u64()}
}

// ReadChunk requests the bytes of one chunk. Priority lets the cache
// prefer satisfying interactive reads (e.g. readahead) over background
// prefetch.
type ReadChunk struct {
	ChunkID  ChunkID
	Priority uint8
}

func (m *ReadChunk) Tag() Tag { return TagReadChunk }
func (m *ReadChunk) marshal(w *writer) {
	marshalChunkID(w, m.ChunkID)
	w.u8(m.Priority)
}
func (m *ReadChunk) unmarshal(r *reader) error {
	m.ChunkID = unmarshalChunkID(r)
	m.Priority = r.u8()
	return r.err
}

// ReadChunkResponse carries the chunk payload and its BLAKE3 checksum.
// IsFinal marks the last chunk of a file, which may be shorter than
// ChunkSize.
type ReadChunkResponse struct {
	ChunkID  ChunkID
	Data     []byte
	Checksum [32]byte
	IsFinal  bool
}

func (m *ReadChunkResponse) Tag() Tag { return TagReadChunkResponse }
func (m *ReadChunkResponse) marshal(w *writer) {
	marshalChunkID(w, m.ChunkID)
	w.bytesField(m.Data)
	w.fixed(m.Checksum[:])
	w.boolean(m.IsFinal)
}
func (m *ReadChunkResponse) unmarshal(r *reader) error {
	m.ChunkID = unmarshalChunkID(r)
	m.Data = r.bytesField()
	copy(m.Checksum[:], r.fixed(32))
	m.IsFinal = r.boolean()
	return r.err
}

// WriteChunk writes data for one chunk. LockToken must name a live
// exclusive hold on ChunkID.Inode.
type WriteChunk struct {
	ChunkID   ChunkID
	Data      []byte
	Checksum  [32]byte
	LockToken LockToken
}

func (m *WriteChunk) Tag() Tag { return TagWriteChunk }
func (m *WriteChunk) marshal(w *writer) {
	marshalChunkID(w, m.ChunkID)
	w.bytesField(m.Data)
	w.fixed(m.Checksum[:])
	w.fixed(m.LockToken[:])
}
func (m *WriteChunk) unmarshal(r *reader) error {
	m.ChunkID = unmarshalChunkID(r)
	m.Data = r.bytesField()
	copy(m.Checksum[:], r.fixed(32))
	copy(m.LockToken[:], r.fixed(16))
	return r.err
}

// WriteChunkResponse reports success and, if the write extended the file,
// its new size.
type WriteChunkResponse struct {
	Success    bool
	NewSize    uint64
	HasNewSize bool
}

func (m *WriteChunkResponse) Tag() Tag { return TagWriteChunkResponse }
func (m *WriteChunkResponse) marshal(w *writer) {
	w.boolean(m.Success)
	w.boolean(m.HasNewSize)
	w.u64(m.NewSize)
}
func (m *WriteChunkResponse) unmarshal(r *reader) error {
	m.Success = r.boolean()
	m.HasNewSize = r.boolean()
	m.NewSize = r.u64()
	return r.err
}
