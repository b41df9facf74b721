package fuse

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"chardevfs/internal/chardev"
	"chardevfs/internal/devtable"
)

func newTestEntry(t *testing.T, table *devtable.Table, name string) devtable.Entry {
	t.Helper()
	e, err := table.Register(name, chardev.New())
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return e
}

func TestStableInoVariants(t *testing.T) {
	withDev := devtable.Entry{Name: "chardev", Major: 254, Minor: 0}
	if got := stableIno(withDev); got != withDev.Dev() {
		t.Fatalf("expected device number to win, got %d", got)
	}

	withName := devtable.Entry{Name: "chardev"}
	expected := hashStringToIno("chardev")
	if got := stableIno(withName); got != expected {
		t.Fatalf("expected name hash %d, got %d", expected, got)
	}

	if got := stableIno(devtable.Entry{}); got != defaultIno {
		t.Fatalf("expected default ino %d, got %d", defaultIno, got)
	}
}

func TestErrnoFor(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{chardev.ErrInvalidArgument, syscall.EINVAL},
		{fmt.Errorf("write of 81 bytes: %w", chardev.ErrInvalidArgument), syscall.EINVAL},
		{fmt.Errorf("copy: %w", chardev.ErrFault), syscall.EFAULT},
		{errors.New("other"), syscall.EIO},
	}

	for _, tt := range tests {
		if got := errnoFor(tt.err); got != tt.want {
			t.Errorf("errnoFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestNewRootNode(t *testing.T) {
	config := &NodeConfig{OwnerUid: 99, RestrictAccess: true}
	root, err := NewRootNode(devtable.New(), config)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if root.access.ownerUid != 99 || !root.access.restrictAccess {
		t.Fatalf("unexpected node config: %+v", root.access)
	}
	if root.mountTime.IsZero() {
		t.Fatal("expected mount time to be set")
	}
}

func TestNewRootNode_NilTable(t *testing.T) {
	_, err := NewRootNode(nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDeviceNodeBoundTo(t *testing.T) {
	table := devtable.New()
	first := newTestEntry(t, table, "chardev")
	n := newDeviceNode(first, accessControl{})

	if !n.boundTo(first) {
		t.Fatal("expected node bound to its own entry")
	}

	if err := table.Unregister("chardev"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	second := newTestEntry(t, table, "chardev")
	if second.Dev() != first.Dev() {
		t.Fatalf("expected the freed major to be reused, got %d and %d", first.Major, second.Major)
	}
	if n.boundTo(second) {
		t.Fatal("node must not serve a later registration of the same name")
	}
	if n.ops() != first.Ops {
		t.Fatal("node lost its original device")
	}
}

func TestStableAttrDistinguishesRegistrations(t *testing.T) {
	table := devtable.New()
	first := newTestEntry(t, table, "chardev")
	table.Unregister("chardev")
	second := newTestEntry(t, table, "chardev")

	a, b := stableAttr(first), stableAttr(second)
	if a.Ino != b.Ino {
		t.Fatalf("expected same inode number, got %d and %d", a.Ino, b.Ino)
	}
	if a == b {
		t.Fatal("expected generations to differ")
	}
	if a.Mode != syscall.S_IFREG {
		t.Fatalf("unexpected mode %o", a.Mode)
	}
}
