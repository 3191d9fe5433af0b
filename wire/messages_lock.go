package wire

// AcquireLock requests a shared or exclusive hold on inode.
type AcquireLock struct {
	Inode     Inode
	Kind      LockKind
	TimeoutMs uint32
}

func (m *AcquireLock) Tag() Tag { return TagAcquireLock }
func (m *AcquireLock) marshal(w *writer) {
	w.u64(uint64(m.Inode))
	w.u8(uint8(m.Kind))
	w.u32(m.TimeoutMs)
}
func (m *AcquireLock) unmarshal(r *reader) error {
	m.Inode = Inode(r.u64())
	m.Kind = LockKind(r.u8())
	m.TimeoutMs = r.u32()
	return r.err
}

// LockResponse reports whether the lock was granted; if not, Holder
// names the current/contending holder and RetryAfterMs suggests a backoff.
type LockResponse struct {
	Granted      bool
	Token        LockToken
	HasToken     bool
	Holder       string
	RetryAfterMs uint32
}

func (m *LockResponse) Tag() Tag { return TagLockResponse }
func (m *LockResponse) marshal(w *writer) {
	w.boolean(m.Granted)
	w.boolean(m.HasToken)
	w.fixed(m.Token[:])
	w.str(m.Holder)
	w.u32(m.RetryAfterMs)
}
func (m *LockResponse) unmarshal(r *reader) error {
	m.Granted = r.boolean()
	m.HasToken = r.boolean()
	copy(m.Token[:], r.fixed(16))
	m.Holder = r.str()
	m.RetryAfterMs = r.u32()
	return r.err
}

// ReleaseLock gives up a held lock by its token.
type ReleaseLock struct {
	Token LockToken
}

func (m *ReleaseLock) Tag() Tag { return TagReleaseLock }
func (m *ReleaseLock) marshal(w *writer) {
	w.fixed(m.Token[:])
}
func (m *ReleaseLock) unmarshal(r *reader) error {
	copy(m.Token[:], r.fixed(16))
	return r.err
}

// ReleaseLockResponse acknowledges the release, or reports LockNotHeld.
type ReleaseLockResponse struct {
	Success bool
}

func (m *ReleaseLockResponse) Tag() Tag { return TagReleaseLockResponse }
func (m *ReleaseLockResponse) marshal(w *writer) {
	w.boolean(m.Success)
}
func (m *ReleaseLockResponse) unmarshal(r *reader) error {
	m.Success = r.boolean()
	return r.err
}
