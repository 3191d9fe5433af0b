package wire

// Ping is a keepalive probe; Pong echoes it back.
type Ping struct {
	Timestamp int64
	Payload   [8]byte
}

func (m *Ping) Tag() Tag { return TagPing }
func (m *Ping) marshal(w *writer) {
	w.i64(m.Timestamp)
	w.fixed(m.Payload[:])
}
func (m *Ping) unmarshal(r *reader) error {
	m.Timestamp = r.i64()
	copy(m.Payload[:], r.fixed(8))
	return r.err
}

// Pong answers a Ping.
type Pong struct {
	Timestamp int64
	Payload   [8]byte
}

func (m *Pong) Tag() Tag { return TagPong }
func (m *Pong) marshal(w *writer) {
	w.i64(m.Timestamp)
	w.fixed(m.Payload[:])
}
func (m *Pong) unmarshal(r *reader) error {
	m.Timestamp = r.i64()
	copy(m.Payload[:], r.fixed(8))
	return r.err
}

// ErrorMessage carries a wire-level failure for a request.
type ErrorMessage struct {
	Code         ErrorCode
	Message      string
	RelatedInode Inode
	HasInode     bool
}

func (m *ErrorMessage) Tag() Tag { return TagError }
func (m *ErrorMessage) marshal(w *writer) {
	w.u32(uint32(m.Code))
	w.str(m.Message)
	w.boolean(m.HasInode)
	w.u64(uint64(m.RelatedInode))
}
func (m *ErrorMessage) unmarshal(r *reader) error {
	m.Code = ErrorCode(r.u32())
	m.Message = r.str()
	m.HasInode = r.boolean()
	m.RelatedInode = Inode(r.u64())
	return r.err
}

// AsError converts a wire ErrorMessage into a *ProtoError.
func (m *ErrorMessage) AsError() *ProtoError {
	return &ProtoError{Code: m.Code, Message: m.Message, RelatedInode: m.RelatedInode, HasInode: m.HasInode}
}

// Goodbye announces an orderly disconnect and why.
type Goodbye struct {
	Reason string
}

func (m *Goodbye) Tag() Tag { return TagGoodbye }
func (m *Goodbye) marshal(w *writer) {
	w.str(m.Reason)
}
func (m *Goodbye) unmarshal(r *reader) error {
	m.Reason = r.str()
	return r.err
}

// Invalidate tells the client to drop cached entries for the listed
// inodes. Best-effort: clients must not rely on it for correctness.
type Invalidate struct {
	Inodes []Inode
	Reason string
}

func (m *Invalidate) Tag() Tag { return TagInvalidate }
func (m *Invalidate) marshal(w *writer) {
	w.u32(uint32(len(m.Inodes)))
	for _, i := range m.Inodes {
		w.u64(uint64(i))
	}
	w.str(m.Reason)
}
func (m *Invalidate) unmarshal(r *reader) error {
	n := r.u32()
	m.Inodes = make([]Inode, n)
	for i := range m.Inodes {
		m.Inodes[i] = Inode(r.u64())
	}
	m.Reason = r.str()
	return r.err
}
