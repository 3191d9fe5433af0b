package wire

func marshalAttr(w *writer, a FileAttr) {
	w.u64(uint64(a.Inode))
	w.u8(uint8(a.Kind))
	w.u64(a.Size)
	w.u32(a.Mode)
	w.u32(a.Nlink)
	w.u32(a.UID)
	w.u32(a.GID)
	w.i64(a.AtimeSec)
	w.u32(a.AtimeNsec)
	w.i64(a.MtimeSec)
	w.u32(a.MtimeNsec)
	w.i64(a.CtimeSec)
	w.u32(a.CtimeNsec)
}

func unmarshalAttr(r *reader) FileAttr {
	return FileAttr{
		Inode:     Inode(r.u64()),
		Kind:      FileKind(r.u8()),
		Size:      r.u64(),
		Mode:      r.u32(),
		Nlink:     r.u32(),
		UID:       r.u32(),
		GID:       r.u32(),
		AtimeSec:  r.i64(),
		AtimeNsec: r.u32(),
		MtimeSec:  r.i64(),
		MtimeNsec: r.u32(),
		CtimeSec:  r.i64(),
		CtimeNsec: r.u32(),
	}
}

func marshalDirEntry(w *writer, e DirEntry) {
	w.str(e.Name)
	w.u64(uint64(e.Inode))
	w.u8(uint8(e.Kind))
}

func unmarshalDirEntry(r *reader) DirEntry {
	return DirEntry{Name: r.str(), Inode: Inode(r.u64()), Kind: FileKind(r.u8())}
}

// ListDir requests a page of directory entries.
type ListDir struct {
	Inode  Inode
	Offset uint64
	Limit  uint32
}

func (m *ListDir) Tag() Tag { return TagListDir }
func (m *ListDir) marshal(w *writer) {
	w.u64(uint64(m.Inode))
	w.u64(m.Offset)
	w.u32(m.Limit)
}
func (m *ListDir) unmarshal(r *reader) error {
	m.Inode = Inode(r.u64())
	m.Offset = r.u64()
	m.Limit = r.u32()
	return r.err
}

// ListDirResponse returns one page of entries.
type ListDirResponse struct {
	Entries    []DirEntry
	HasMore    bool
	NextOffset uint64
}

func (m *ListDirResponse) Tag() Tag { return TagListDirResponse }
func (m *ListDirResponse) marshal(w *writer) {
	w.u32(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		marshalDirEntry(w, e)
	}
	w.boolean(m.HasMore)
	w.u64(m.NextOffset)
}
func (m *ListDirResponse) unmarshal(r *reader) error {
	n := r.u32()
	m.Entries = make([]DirEntry, n)
	for i := range m.Entries {
		m.Entries[i] = unmarshalDirEntry(r)
	}
	m.HasMore = r.boolean()
	m.NextOffset = r.u64()
	return r.err
}

// GetAttr requests the attributes of an inode.
type GetAttr struct {
	Inode Inode
}

func (m *GetAttr) Tag() Tag          { return TagGetAttr }
func (m *GetAttr) marshal(w *writer) { w.u64(uint64(m.Inode)) }
func (m *GetAttr) unmarshal(r *reader) error {
	m.Inode = Inode(r.u64())
	return r.err
}

// GetAttrResponse returns the attributes, if the inode is known.
type GetAttrResponse struct {
	Attr  FileAttr
	Found bool
}

func (m *GetAttrResponse) Tag() Tag { return TagGetAttrResponse }
func (m *GetAttrResponse) marshal(w *writer) {
	w.boolean(m.Found)
	marshalAttr(w, m.Attr)
}
func (m *GetAttrResponse) unmarshal(r *reader) error {
	m.Found = r.boolean()
	m.Attr = unmarshalAttr(r)
	return r.err
}

// Lookup resolves name within parent, allocating an inode on first sight.
type Lookup struct {
	Parent Inode
	Name   string
}

func (m *Lookup) Tag() Tag { return TagLookup }
func (m *Lookup) marshal(w *writer) {
	w.u64(uint64(m.Parent))
	w.str(m.Name)
}
func (m *Lookup) unmarshal(r *reader) error {
	m.Parent = Inode(r.u64())
	m.Name = r.str()
	return r.err
}

// LookupResponse returns the resolved attributes, or Found=false for ENOENT.
type LookupResponse struct {
	Attr  FileAttr
	Found bool
}

func (m *LookupResponse) Tag() Tag { return TagLookupResponse }
func (m *LookupResponse) marshal(w *writer) {
	w.boolean(m.Found)
	marshalAttr(w, m.Attr)
}
func (m *LookupResponse) unmarshal(r *reader) error {
	m.Found = r.boolean()
	m.Attr = unmarshalAttr(r)
	return r.err
}
