package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/devtable"
	"chardevfs/internal/logging"
)

func (r *RootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	logging.Debugf("Readdir called on root")

	entries := r.table.List()
	fuseEntries := make([]fuse.DirEntry, len(entries))
	for i, e := range entries {
		fuseEntries[i] = fuse.DirEntry{
			Name: e.Name,
			Mode: syscall.S_IFREG,
			Ino:  stableIno(e),
		}
	}

	return fs.NewListDirStream(fuseEntries), 0
}

func (r *RootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logging.Debugf("Lookup called on root: %s", name)

	if err := devtable.ValidateName(name); err != nil {
		logging.Debugf("Lookup: invalid name: %v", err)
		return nil, syscall.EINVAL
	}

	e, ok := r.table.Lookup(name)
	if !ok {
		return nil, syscall.ENOENT
	}

	// Reuse the node the kernel already knows so open handles keep their state.
	var child *fs.Inode
	if existing := r.GetChild(name); existing != nil {
		if dn, ok := existing.Operations().(*DeviceNode); ok && dn.boundTo(e) {
			child = existing
		}
	}
	if child == nil {
		child = r.NewInode(ctx, newDeviceNode(e, r.access), stableAttr(e))
	}

	dn, ok := child.Operations().(*DeviceNode)
	if !ok {
		logging.Warnf("Lookup: inode for %s is not a device node", name)
		return nil, syscall.EIO
	}
	dn.mu.Lock()
	dn.fillAttrLocked(ctx, &out.Attr)
	dn.mu.Unlock()

	out.SetEntryTimeout(entryTimeoutSec)
	out.SetAttrTimeout(attrTimeoutSec)

	return child, 0
}

func (r *RootNode) Opendir(ctx context.Context) syscall.Errno {
	logging.Debugf("Opendir called on root")
	return r.access.check(ctx, "/")
}

func (r *RootNode) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	logging.Debugf("OpendirHandle called on root")

	handle := &dirStreamHandle{
		creator: func(ctx context.Context) (fs.DirStream, syscall.Errno) {
			return r.Readdir(ctx)
		},
	}

	return handle, 0, 0
}
