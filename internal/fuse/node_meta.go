package fuse

import (
	"context"
	"strconv"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/logging"
)

// Extended attributes exposing the identity assigned by the driver table.
const (
	xattrName  = "user.chardev.name"
	xattrMajor = "user.chardev.major"
	xattrMinor = "user.chardev.minor"
)

var deviceXattrs = []string{xattrName, xattrMajor, xattrMinor}

func fillOwner(ctx context.Context, out *fuse.Attr) {
	caller, ok := fuse.FromContext(ctx)
	if ok {
		out.Uid = caller.Uid
		out.Gid = caller.Gid
	}
}

func setTimes(out *fuse.Attr, t time.Time) {
	out.Mtime = uint64(t.Unix())
	out.Atime = out.Mtime
	out.Ctime = out.Mtime
}

func (r *RootNode) fillAttr(ctx context.Context, out *fuse.Attr) {
	out.Mode = syscall.S_IFDIR | dirMode
	out.Nlink = dirNlink
	out.Blksize = blockSize
	setTimes(out, r.mountTime)
	fillOwner(ctx, out)
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	logging.Debugf("Getattr called on root")

	r.fillAttr(ctx, &out.Attr)
	out.SetTimeout(attrTimeoutSec)
	return 0
}

func (r *RootNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	logging.Debugf("Access called on root (mask: %d)", mask)
	return r.access.check(ctx, "/")
}

func (r *RootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	logging.Debugf("Statfs called on root")

	files := uint64(r.table.Count())

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = 0
	out.Bfree = 0
	out.Bavail = 0
	out.Files = files
	out.Ffree = 0
	out.NameLen = maxNameLen

	return 0
}

func (n *DeviceNode) fillAttrLocked(ctx context.Context, out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | deviceMode
	out.Nlink = fileNlink
	out.Ino = stableIno(n.entry)

	if n.entry.Ops != nil {
		out.Size = uint64(n.entry.Ops.Len())
	}
	out.Blksize = blockSize
	out.Blocks = (out.Size + blockFactor - 1) / blockFactor

	setTimes(out, n.modTime)
	fillOwner(ctx, out)
}

func (n *DeviceNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("Getattr called on device: %s", n.entry.Name)

	n.fillAttrLocked(ctx, &out.Attr)
	out.SetTimeout(attrTimeoutSec)
	return 0
}

func (n *DeviceNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	logging.Debugf("Access called on device: %s (mask: %d)", n.Name(), mask)
	return n.access.check(ctx, n.Name())
}

// Setattr accepts size changes without touching the device, so that shell
// redirection (open with O_TRUNC) works. Ownership and mode are fixed.
func (n *DeviceNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("Setattr called on device: %s", n.entry.Name)

	if _, ok := in.GetMode(); ok {
		return syscall.ENOTSUP
	}
	if _, ok := in.GetUID(); ok {
		return syscall.ENOTSUP
	}
	if _, ok := in.GetGID(); ok {
		return syscall.ENOTSUP
	}
	if size, ok := in.GetSize(); ok {
		logging.Debugf("Ignoring truncate to %d on device %s", size, n.entry.Name)
	}
	if t, ok := in.GetMTime(); ok {
		n.markModifiedLocked(t)
	}

	n.fillAttrLocked(ctx, &out.Attr)
	out.SetTimeout(attrTimeoutSec)
	return 0
}

func (n *DeviceNode) xattrValueLocked(attr string) (string, bool) {
	switch attr {
	case xattrName:
		return n.entry.Name, true
	case xattrMajor:
		return strconv.FormatUint(uint64(n.entry.Major), 10), true
	case xattrMinor:
		return strconv.FormatUint(uint64(n.entry.Minor), 10), true
	}
	return "", false
}

func (n *DeviceNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("Getxattr called on device: %s (attr: %s)", n.entry.Name, attr)

	val, ok := n.xattrValueLocked(attr)
	if !ok {
		return 0, syscall.ENODATA
	}
	if len(dest) < len(val) {
		return uint32(len(val)), syscall.ERANGE
	}
	return uint32(copy(dest, val)), 0
}

func (n *DeviceNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	logging.Debugf("Listxattr called on device: %s", n.Name())

	var list []byte
	for _, name := range deviceXattrs {
		list = append(list, name...)
		list = append(list, 0)
	}
	if len(dest) < len(list) {
		return uint32(len(list)), syscall.ERANGE
	}
	return uint32(copy(dest, list)), 0
}
