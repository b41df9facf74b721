// Package chardev implements the state of a reversing character device.
//
// A Device holds a fixed-size text buffer. Every write replaces the buffer with a
// reversed copy of the input, leaving a trailing line terminator in place. Reads
// deliver the stored text relative to a caller-maintained offset.
package chardev

import (
	"errors"
	"fmt"
	"sync"

	"chardevfs/internal/logging"
)

// Capacity is the size of the text buffer in bytes.
const Capacity = 80

var (
	// ErrInvalidArgument is returned for writes larger than Capacity and for negative
	// offsets or lengths.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFault is returned when a copy between caller memory and the buffer cannot
	// complete because the caller's slice is shorter than the requested length.
	ErrFault = errors.New("bad address")
)

// Device is a single reversing text device. The zero value is not usable; call New.
type Device struct {
	mu        sync.Mutex
	buf       [Capacity]byte
	length    int
	openCount int
}

// New returns an empty device with no open clients.
func New() *Device {
	return &Device{}
}

// Open registers a client and returns the new reference count.
func (d *Device) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.openCount++
	return d.openCount
}

// Release drops a client and returns the new reference count.
// A release without a matching open leaves the count at zero.
func (d *Device) Release() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openCount == 0 {
		logging.Warnf("Release called with openCount=0")
		return 0
	}
	d.openCount--
	return d.openCount
}

// Store copies n bytes of src into the buffer, replacing its contents, and reverses
// them in place. It returns n on success.
func (d *Device) Store(src []byte, n int) (int, error) {
	if n > Capacity {
		logging.Warnf("Write rejected: %d bytes exceeds capacity %d", n, Capacity)
		return 0, fmt.Errorf("write of %d bytes: %w", n, ErrInvalidArgument)
	}
	if n < 0 || n > len(src) {
		logging.Warnf("Write rejected: cannot copy %d bytes from a %d byte source", n, len(src))
		return 0, fmt.Errorf("copy %d bytes from %d byte source: %w", n, len(src), ErrFault)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.buf[:n], src[:n])
	logging.Debugf("Text received: %q", d.buf[:n])
	Reverse(d.buf[:n])
	d.length = n
	logging.Debugf("Text reversed: %q", d.buf[:n])

	return n, nil
}

// Write stores all of p. It satisfies io.Writer.
func (d *Device) Write(p []byte) (int, error) {
	return d.Store(p, len(p))
}

// Read returns up to maxLen bytes of the stored text for a caller that has already
// consumed off bytes. An empty result signals end of data.
func (d *Device) Read(off int64, maxLen int) ([]byte, error) {
	if off < 0 || maxLen < 0 {
		return nil, fmt.Errorf("read at %d len %d: %w", off, maxLen, ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start, end := d.windowLocked(off, maxLen)
	out := make([]byte, end-start)
	copy(out, d.buf[start:end])
	return out, nil
}

// ReadInto is Read copying into dest. maxLen larger than dest is a fault and nothing
// is copied.
func (d *Device) ReadInto(dest []byte, off int64, maxLen int) (int, error) {
	if off < 0 || maxLen < 0 {
		return 0, fmt.Errorf("read at %d len %d: %w", off, maxLen, ErrInvalidArgument)
	}
	if maxLen > len(dest) {
		return 0, fmt.Errorf("copy %d bytes into %d byte destination: %w", maxLen, len(dest), ErrFault)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start, end := d.windowLocked(off, maxLen)
	return copy(dest, d.buf[start:end]), nil
}

// windowLocked returns the buffer range delivered to a reader at off.
// Chunks are taken from the tail of the unread region, so the first call returns
// the last bytes of the buffer when maxLen is smaller than the stored text.
func (d *Device) windowLocked(off int64, maxLen int) (int, int) {
	if off >= int64(d.length) {
		return 0, 0
	}
	remaining := d.length - int(off)
	n := min(maxLen, remaining)
	start := d.length - int(off) - n
	return start, start + n
}

// Len returns the number of valid bytes in the buffer.
func (d *Device) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.length
}

// OpenCount returns the number of clients that currently hold the device open.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount
}

// Snapshot returns a copy of the stored text in storage order.
func (d *Device) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]byte, d.length)
	copy(out, d.buf[:d.length])
	return out
}
