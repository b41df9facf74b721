package fuse

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/chardev"
	"chardevfs/internal/devtable"
	"chardevfs/internal/logging"
)

// File system constants
const (
	// Device contents change on every write, so attributes are cached briefly.
	attrTimeoutSec  = 1
	entryTimeoutSec = 60

	// File permissions
	dirMode    = 0755
	deviceMode = 0666

	// Block size for file attributes
	blockSize   = 4096
	blockFactor = 512 // for calculating number of blocks

	// Statfs limits
	maxNameLen = 255

	// Default inode number when no device number is available
	defaultIno = 1

	// Nlink values
	dirNlink  = 2
	fileNlink = 1
)

// NodeConfig holds configuration for access control.
type NodeConfig struct {
	OwnerUid       uint32 // UID of the user who mounted the filesystem
	RestrictAccess bool   // Whether to enforce UID-based access control
}

type accessControl struct {
	ownerUid       uint32
	restrictAccess bool
}

func (a accessControl) check(ctx context.Context, name string) syscall.Errno {
	if !a.restrictAccess {
		return 0
	}
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		logging.Warnf("Access: failed to get caller context for %s", name)
		return syscall.EACCES
	}
	if caller.Uid != a.ownerUid {
		logging.Debugf("Access denied: caller UID %d != owner UID %d for %s", caller.Uid, a.ownerUid, name)
		return syscall.EACCES
	}
	return 0
}

// RootNode is the mount root. Its entries are the devices in the driver table.
type RootNode struct {
	fs.Inode
	table     *devtable.Table
	access    accessControl
	mountTime time.Time
}

// DeviceNode is a registered device exposed as a file.
type DeviceNode struct {
	fs.Inode
	mu      sync.Mutex
	entry   devtable.Entry
	access  accessControl
	modTime time.Time
	handles map[string]*deviceHandle
}

var _ = (fs.NodeGetattrer)((*RootNode)(nil))
var _ = (fs.NodeLookuper)((*RootNode)(nil))
var _ = (fs.NodeReaddirer)((*RootNode)(nil))
var _ = (fs.NodeOpendirer)((*RootNode)(nil))
var _ = (fs.NodeOpendirHandler)((*RootNode)(nil))
var _ = (fs.NodeAccesser)((*RootNode)(nil))
var _ = (fs.NodeStatfser)((*RootNode)(nil))

var _ = (fs.NodeGetattrer)((*DeviceNode)(nil))
var _ = (fs.NodeSetattrer)((*DeviceNode)(nil))
var _ = (fs.NodeOpener)((*DeviceNode)(nil))
var _ = (fs.NodeReader)((*DeviceNode)(nil))
var _ = (fs.NodeWriter)((*DeviceNode)(nil))
var _ = (fs.NodeFlusher)((*DeviceNode)(nil))
var _ = (fs.NodeFsyncer)((*DeviceNode)(nil))
var _ = (fs.NodeReleaser)((*DeviceNode)(nil))
var _ = (fs.NodeAccesser)((*DeviceNode)(nil))
var _ = (fs.NodeGetxattrer)((*DeviceNode)(nil))
var _ = (fs.NodeListxattrer)((*DeviceNode)(nil))

// NewRootNode creates the mount root backed by table.
func NewRootNode(table *devtable.Table, config *NodeConfig) (*RootNode, error) {
	if table == nil {
		return nil, fmt.Errorf("nil device table")
	}

	root := &RootNode{
		table:     table,
		mountTime: time.Now(),
	}

	// Apply access control configuration
	if config != nil {
		root.access = accessControl{
			ownerUid:       config.OwnerUid,
			restrictAccess: config.RestrictAccess,
		}
	}

	return root, nil
}

func newDeviceNode(e devtable.Entry, access accessControl) *DeviceNode {
	return &DeviceNode{
		entry:   e,
		access:  access,
		modTime: time.Now(),
	}
}

func (n *DeviceNode) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entry.Name
}

// ops returns the current device operations.
func (n *DeviceNode) ops() devtable.Operations {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entry.Ops
}

// boundTo reports whether the node serves registration e. A node keeps the entry
// it was created for; a name registered again gets a new node.
func (n *DeviceNode) boundTo(e devtable.Entry) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entry.Ops == e.Ops && n.entry.Gen == e.Gen
}

func stableAttr(e devtable.Entry) fs.StableAttr {
	return fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno(e),
		Gen:  e.Gen,
	}
}

func stableIno(e devtable.Entry) uint64 {
	if dev := e.Dev(); dev > 0 {
		return dev
	}
	if e.Name != "" {
		return hashStringToIno(e.Name)
	}
	return defaultIno
}

func hashStringToIno(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()
	if sum == 0 {
		return defaultIno
	}
	return sum
}

// errnoFor maps device errors to the errno returned to the kernel.
func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, chardev.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, chardev.ErrFault):
		return syscall.EFAULT
	default:
		return syscall.EIO
	}
}
