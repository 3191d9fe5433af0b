package host

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asjoyner/wormhole/pathutil"
	"github.com/asjoyner/wormhole/wire"
)

func (h *Host) attrFor(ino wire.Inode, fi os.FileInfo) wire.FileAttr {
	kind := wire.KindFile
	switch {
	case fi.IsDir():
		kind = wire.KindDirectory
	case fi.Mode()&os.ModeSymlink != 0:
		kind = wire.KindSymlink
	}
	mt := fi.ModTime()
	return wire.FileAttr{
		Inode:     ino,
		Kind:      kind,
		Size:      uint64(fi.Size()),
		Mode:      uint32(fi.Mode().Perm()),
		Nlink:     1,
		UID:       h.uid,
		GID:       h.gid,
		AtimeSec:  mt.Unix(),
		AtimeNsec: uint32(mt.Nanosecond()),
		MtimeSec:  mt.Unix(),
		MtimeNsec: uint32(mt.Nanosecond()),
		CtimeSec:  mt.Unix(),
		CtimeNsec: uint32(mt.Nanosecond()),
	}
}

func (h *Host) getAttr(req *wire.GetAttr) (*wire.GetAttrResponse, error) {
	path, err := h.resolvePath(req.Inode)
	if err != nil {
		return &wire.GetAttrResponse{Found: false}, nil
	}
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &wire.GetAttrResponse{Found: false}, nil
		}
		return nil, wire.NewError(wire.ErrIoError, "stat: %v", err)
	}
	return &wire.GetAttrResponse{Attr: h.attrFor(req.Inode, fi), Found: true}, nil
}

func (h *Host) lookup(req *wire.Lookup) (*wire.LookupResponse, error) {
	if strings.ContainsRune(req.Name, '/') || req.Name == ".." || req.Name == "." {
		return nil, wire.NewError(wire.ErrPathTraversal, "lookup: invalid name %q", req.Name)
	}
	if err := pathutil.Validate(req.Name); err != nil {
		return nil, wire.NewError(wire.ErrPathTraversal, "lookup: %v", err)
	}
	parentPath, err := h.resolvePath(req.Parent)
	if err != nil {
		return &wire.LookupResponse{Found: false}, nil
	}
	childPath := filepath.Join(parentPath, req.Name)
	fi, err := os.Lstat(childPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &wire.LookupResponse{Found: false}, nil
		}
		return nil, wire.NewError(wire.ErrIoError, "stat: %v", err)
	}

	parentVirtual, err := h.inodes.Path(uint64(req.Parent))
	if err != nil {
		return &wire.LookupResponse{Found: false}, nil
	}
	childVirtual := filepath.Join(parentVirtual, req.Name)
	ino := wire.Inode(h.inodes.Lookup(childVirtual))
	return &wire.LookupResponse{Attr: h.attrFor(ino, fi), Found: true}, nil
}

func (h *Host) listDir(req *wire.ListDir) (*wire.ListDirResponse, error) {
	path, err := h.resolvePath(req.Inode)
	if err != nil {
		return nil, wire.NewError(wire.ErrFileNotFound, "listDir: %v", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, wire.NewError(wire.ErrIoError, "readdir: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	virtual, err := h.inodes.Path(uint64(req.Inode))
	if err != nil {
		return nil, wire.NewError(wire.ErrFileNotFound, "listDir: %v", err)
	}

	limit := req.Limit
	if limit == 0 {
		limit = uint32(len(entries))
	}
	start := int(req.Offset)
	if start > len(entries) {
		start = len(entries)
	}
	end := start + int(limit)
	hasMore := end < len(entries)
	if end > len(entries) {
		end = len(entries)
	}

	out := make([]wire.DirEntry, 0, end-start)
	for _, de := range entries[start:end] {
		childVirtual := filepath.Join(virtual, de.Name())
		ino := wire.Inode(h.inodes.Lookup(childVirtual))
		kind := wire.KindFile
		if de.IsDir() {
			kind = wire.KindDirectory
		} else if de.Type()&os.ModeSymlink != 0 {
			kind = wire.KindSymlink
		}
		out = append(out, wire.DirEntry{Name: de.Name(), Inode: ino, Kind: kind})
	}

	return &wire.ListDirResponse{Entries: out, HasMore: hasMore, NextOffset: uint64(end)}, nil
}
