package fuse

import (
	"time"

	"github.com/oklog/ulid/v2"

	"chardevfs/internal/devtable"
	"chardevfs/internal/logging"
)

// deviceHandle is the file handle returned by Open. Its id ties a Release back to
// the Open that created it, and it keeps the device it was opened on even if the
// name is registered again.
type deviceHandle struct {
	id     string
	ops    devtable.Operations
	flags  uint32
	opened time.Time
}

func newDeviceHandle(ops devtable.Operations, flags uint32) *deviceHandle {
	return &deviceHandle{
		id:     ulid.Make().String(),
		ops:    ops,
		flags:  flags,
		opened: time.Now(),
	}
}

func (n *DeviceNode) trackHandleLocked(h *deviceHandle) {
	if n.handles == nil {
		n.handles = make(map[string]*deviceHandle)
	}
	n.handles[h.id] = h
}

// untrackHandleLocked reports whether h was opened on this node and not yet released.
func (n *DeviceNode) untrackHandleLocked(h *deviceHandle) bool {
	if h == nil {
		return false
	}
	if _, ok := n.handles[h.id]; !ok {
		return false
	}
	delete(n.handles, h.id)
	return true
}

func (n *DeviceNode) openHandles() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handles)
}

func (n *DeviceNode) markModifiedLocked(t time.Time) {
	n.modTime = t
}

// handleOps returns the device behind fh, falling back to the node's current device.
func (n *DeviceNode) handleOps(fh any) devtable.Operations {
	if h, ok := fh.(*deviceHandle); ok && h.ops != nil {
		return h.ops
	}
	return n.ops()
}

func asDeviceHandle(fh any) *deviceHandle {
	h, ok := fh.(*deviceHandle)
	if !ok && fh != nil {
		logging.Warnf("Unexpected file handle type %T", fh)
	}
	return h
}
