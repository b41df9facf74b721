package fuse

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/devtable"
)

func newTestRootNode(t *testing.T, table *devtable.Table) *RootNode {
	t.Helper()
	root, err := NewRootNode(table, nil)
	if err != nil {
		t.Fatalf("NewRootNode: %v", err)
	}
	fs.NewNodeFS(root, &fs.Options{})
	return root
}

func TestRootLookup(t *testing.T) {
	table := devtable.New()
	e := newTestEntry(t, table, "chardev")
	e.Ops.Store([]byte("abc"), 3)
	root := newTestRootNode(t, table)

	out := &fuse.EntryOut{}
	inode, errno := root.Lookup(context.Background(), "chardev", out)
	if errno != 0 {
		t.Fatalf("Lookup errno: %d", errno)
	}
	dn, ok := inode.Operations().(*DeviceNode)
	if !ok {
		t.Fatalf("unexpected node type %T", inode.Operations())
	}
	if dn.ops() != e.Ops {
		t.Fatal("node is not bound to the registered device")
	}
	if out.Attr.Size != 3 {
		t.Fatalf("expected size 3, got %d", out.Attr.Size)
	}
	if out.Attr.Mode != syscall.S_IFREG|deviceMode {
		t.Fatalf("unexpected mode %o", out.Attr.Mode)
	}
	if out.Attr.Ino != e.Dev() {
		t.Fatalf("expected ino %d, got %d", e.Dev(), out.Attr.Ino)
	}
}

func TestRootLookupReusesChild(t *testing.T) {
	table := devtable.New()
	e := newTestEntry(t, table, "chardev")
	root := newTestRootNode(t, table)
	ctx := context.Background()

	childNode := newDeviceNode(e, accessControl{})
	childInode := root.NewPersistentInode(ctx, childNode, stableAttr(e))
	root.AddChild("chardev", childInode, false)

	inode, errno := root.Lookup(ctx, "chardev", &fuse.EntryOut{})
	if errno != 0 {
		t.Fatalf("Lookup errno: %d", errno)
	}
	if inode != childInode {
		t.Fatal("expected existing inode")
	}
}

func TestRootLookupReplacesStaleChild(t *testing.T) {
	table := devtable.New()
	first := newTestEntry(t, table, "chardev")
	root := newTestRootNode(t, table)
	ctx := context.Background()

	oldInode := root.NewPersistentInode(ctx, newDeviceNode(first, accessControl{}), stableAttr(first))
	root.AddChild("chardev", oldInode, false)

	table.Unregister("chardev")
	second := newTestEntry(t, table, "chardev")

	out := &fuse.EntryOut{}
	inode, errno := root.Lookup(ctx, "chardev", out)
	if errno != 0 {
		t.Fatalf("Lookup errno: %d", errno)
	}
	if inode == oldInode {
		t.Fatal("expected a new inode for the new registration")
	}
	dn := inode.Operations().(*DeviceNode)
	if dn.ops() != second.Ops {
		t.Fatal("new inode is not bound to the new device")
	}
	if out.Attr.Ino != inode.StableAttr().Ino {
		t.Fatalf("attr ino %d does not match stable ino %d", out.Attr.Ino, inode.StableAttr().Ino)
	}
	if oldInode.Operations().(*DeviceNode).ops() != first.Ops {
		t.Fatal("old inode was rebound")
	}
}

func TestRootLookupErrors(t *testing.T) {
	root := newTestRootNode(t, devtable.New())
	ctx := context.Background()

	if _, errno := root.Lookup(ctx, "missing", &fuse.EntryOut{}); errno != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %d", errno)
	}
	if _, errno := root.Lookup(ctx, "..", &fuse.EntryOut{}); errno != syscall.EINVAL {
		t.Fatalf("expected EINVAL, got %d", errno)
	}
}

func TestRootReaddir(t *testing.T) {
	table := devtable.New()
	b := newTestEntry(t, table, "revdev")
	a := newTestEntry(t, table, "chardev")
	root := newTestRootNode(t, table)

	ds, errno := root.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir errno: %d", errno)
	}

	var got []fuse.DirEntry
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != 0 {
			t.Fatalf("Next errno: %d", errno)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Name != "chardev" || got[0].Ino != a.Dev() {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].Name != "revdev" || got[1].Ino != b.Dev() {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
	if got[0].Mode != syscall.S_IFREG {
		t.Fatalf("unexpected mode %o", got[0].Mode)
	}
}

func TestRootOpendirHandleListsDevices(t *testing.T) {
	table := devtable.New()
	root := newTestRootNode(t, table)
	ctx := context.Background()

	fh, _, errno := root.OpendirHandle(ctx, 0)
	if errno != 0 {
		t.Fatalf("OpendirHandle errno: %d", errno)
	}
	h := fh.(*dirStreamHandle)

	// Devices registered after opendir but before the first read are listed.
	newTestEntry(t, table, "chardev")

	entry, errno := h.Readdirent(ctx)
	if errno != 0 {
		t.Fatalf("Readdirent errno: %d", errno)
	}
	if entry == nil || entry.Name != "chardev" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	h.Releasedir(ctx, 0)
}
