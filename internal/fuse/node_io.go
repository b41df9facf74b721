package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/logging"
)

func (n *DeviceNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("Open called on device: %s (flags: %#x)", n.entry.Name, flags)

	if n.entry.Ops == nil {
		return nil, 0, syscall.ENODEV
	}

	h := newDeviceHandle(n.entry.Ops, flags)
	n.trackHandleLocked(h)
	count := n.entry.Ops.Open()
	logging.Debugf("Opened handle %s on %s (open count: %d)", h.id, n.entry.Name, count)

	// Bypass the page cache so every read and write reaches the device with the
	// handle's own file position.
	return h, fuse.FOPEN_DIRECT_IO, 0
}

func (n *DeviceNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	ops := n.handleOps(fh)
	logging.Debugf("Read called on device: %s, offset: %d, size: %d", n.Name(), off, len(dest))

	if ops == nil {
		return nil, syscall.ENODEV
	}

	read, err := ops.ReadInto(dest, off, len(dest))
	if err != nil {
		logging.Debugf("Read failed on %s: %v", n.Name(), err)
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:read]), 0
}

// Write replaces the device contents with data. The offset is ignored, as for a
// character device.
func (n *DeviceNode) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	ops := n.handleOps(fh)
	logging.Debugf("Write called on device: %s, offset: %d, size: %d", n.Name(), off, len(data))

	if ops == nil {
		return 0, syscall.ENODEV
	}

	written, err := ops.Store(data, len(data))
	if err != nil {
		logging.Warnf("Write to %s failed: %v", n.Name(), err)
		return 0, errnoFor(err)
	}

	n.mu.Lock()
	n.markModifiedLocked(time.Now())
	n.mu.Unlock()

	return uint32(written), 0
}

func (n *DeviceNode) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	logging.Debugf("Flush called on device: %s", n.Name())
	return 0
}

func (n *DeviceNode) Fsync(ctx context.Context, fh fs.FileHandle, flags uint32) syscall.Errno {
	logging.Debugf("Fsync called on device: %s", n.Name())
	return 0
}

func (n *DeviceNode) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	h := asDeviceHandle(fh)
	if !n.untrackHandleLocked(h) {
		logging.Warnf("Release called with unknown handle for %s", n.entry.Name)
		return 0
	}

	count := h.ops.Release()
	logging.Debugf("Released handle %s on %s after %v (open count: %d)", h.id, n.entry.Name, time.Since(h.opened), count)
	return 0
}
