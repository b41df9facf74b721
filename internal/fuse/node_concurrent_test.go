package fuse

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/chardev"
)

// TestConcurrentReadWrite tests concurrent read and write operations on the same device.
// Every read must observe one complete stored value, never a mix of two writes.
func TestConcurrentReadWrite(t *testing.T) {
	n, dev := newTestDeviceNode(t)
	inputs := []string{"hello\n", "concurrent device test", "abcdefghijklmnopqrstuvwxyz\n"}
	valid := make(map[string]bool)
	for _, in := range inputs {
		b := []byte(in)
		chardev.Reverse(b)
		valid[string(b)] = true
	}

	const numGoroutines = 20
	const opsPerGoroutine = 50
	var wg sync.WaitGroup

	// Start concurrent readers
	for i := 0; i < numGoroutines/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dest := make([]byte, chardev.Capacity)
			for j := 0; j < opsPerGoroutine; j++ {
				result, errno := n.Read(context.Background(), nil, dest, 0)
				if errno != 0 {
					t.Errorf("Read failed with errno: %d", errno)
					return
				}
				got, _ := result.Bytes(nil)
				if len(got) > 0 && !valid[string(got)] {
					t.Errorf("Read observed torn content: %q", got)
					return
				}
			}
		}()
	}

	// Start concurrent writers
	for i := 0; i < numGoroutines/2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				data := []byte(inputs[(id+j)%len(inputs)])
				_, errno := n.Write(context.Background(), nil, data, 0)
				if errno != 0 {
					t.Errorf("Write failed with errno: %d", errno)
				}
			}
		}(i)
	}

	wg.Wait()

	if !valid[string(dev.Snapshot())] {
		t.Errorf("Final content is not a stored value: %q", dev.Snapshot())
	}
}

// TestConcurrentOpenRelease verifies that open counts balance under concurrent use.
func TestConcurrentOpenRelease(t *testing.T) {
	n, dev := newTestDeviceNode(t)
	var opened atomic.Int32

	const numGoroutines = 16
	const opsPerGoroutine = 100
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				fh, _, errno := n.Open(context.Background(), syscall.O_RDONLY)
				if errno != 0 {
					t.Errorf("Open failed with errno: %d", errno)
					return
				}
				opened.Add(1)
				n.Release(context.Background(), fh)
			}
		}()
	}

	wg.Wait()

	if got := opened.Load(); got != numGoroutines*opsPerGoroutine {
		t.Errorf("Expected %d opens, got %d", numGoroutines*opsPerGoroutine, got)
	}
	if dev.OpenCount() != 0 {
		t.Errorf("Expected open count 0, got %d", dev.OpenCount())
	}
	if n.openHandles() != 0 {
		t.Errorf("Expected no tracked handles, got %d", n.openHandles())
	}
}

// TestConcurrentWriteGetattr checks that size reported by Getattr is always a
// length that was written.
func TestConcurrentWriteGetattr(t *testing.T) {
	n, _ := newTestDeviceNode(t)
	lengths := map[uint64]bool{0: true, 3: true, 10: true}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			data := []byte("abc")
			if j%2 == 0 {
				data = []byte("0123456789")
			}
			n.Write(context.Background(), nil, data, 0)
		}
	}()
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			out := &fuse.AttrOut{}
			n.Getattr(context.Background(), nil, out)
			if !lengths[out.Size] {
				t.Errorf("Unexpected size %d", out.Size)
				return
			}
		}
	}()
	wg.Wait()
}
