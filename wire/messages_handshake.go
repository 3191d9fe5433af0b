package wire

// Hello is the first message a client sends to open a session.
type Hello struct {
	Version      uint32
	ClientID     [16]byte
	Capabilities []string
}

func (m *Hello) Tag() Tag { return TagHello }

func (m *Hello) marshal(w *writer) {
	w.u32(m.Version)
	w.fixed(m.ClientID[:])
	w.u32(uint32(len(m.Capabilities)))
	for _, c := range m.Capabilities {
		w.str(c)
	}
}

func (m *Hello) unmarshal(r *reader) error {
	m.Version = r.u32()
	copy(m.ClientID[:], r.fixed(16))
	n := r.u32()
	m.Capabilities = make([]string, n)
	for i := range m.Capabilities {
		m.Capabilities[i] = r.str()
	}
	return r.err
}

// HelloAck is the host's reply to Hello. A Version mismatch is fatal.
type HelloAck struct {
	Version      uint32
	SessionID    [16]byte
	RootInode    Inode
	HostName     string
	Capabilities []string
}

func (m *HelloAck) Tag() Tag { return TagHelloAck }

func (m *HelloAck) marshal(w *writer) {
	w.u32(m.Version)
	w.fixed(m.SessionID[:])
	w.u64(uint64(m.RootInode))
	w.str(m.HostName)
	w.u32(uint32(len(m.Capabilities)))
	for _, c := range m.Capabilities {
		w.str(c)
	}
}

func (m *HelloAck) unmarshal(r *reader) error {
	m.Version = r.u32()
	copy(m.SessionID[:], r.fixed(16))
	m.RootInode = Inode(r.u64())
	m.HostName = r.str()
	n := r.u32()
	m.Capabilities = make([]string, n)
	for i := range m.Capabilities {
		m.Capabilities[i] = r.str()
	}
	return r.err
}
