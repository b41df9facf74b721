// Package devtable is the driver table that hands out device identities.
//
// Registering a device assigns it a dynamic major number the same way a kernel
// character-device table does, and the filesystem layer resolves names through
// the table when a client looks up or lists devices.
package devtable

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chardevfs/internal/logging"
)

// Dynamic major numbers are allocated from the top of this range downward.
const (
	DynamicMajorStart = 254
	DynamicMajorEnd   = 234
)

// minorBits is the width of the minor number in an encoded device number.
const minorBits = 20

var (
	ErrInvalidName = errors.New("invalid device name")
	ErrExists      = errors.New("device already registered")
	ErrNotFound    = errors.New("device not registered")
	ErrNoMajor     = errors.New("no free major number")
)

// Operations is the set of calls a registered device exposes to the host.
type Operations interface {
	Open() int
	Release() int
	Store(src []byte, n int) (int, error)
	Read(off int64, maxLen int) ([]byte, error)
	ReadInto(dest []byte, off int64, maxLen int) (int, error)
	Len() int
}

// Entry is a registered device. Gen is unique per registration, so a name
// registered again after Unregister is a different entry even when it gets the
// same major.
type Entry struct {
	Name  string
	Major uint32
	Minor uint32
	Gen   uint64
	Ops   Operations
}

// Dev returns the encoded device number.
func (e Entry) Dev() uint64 {
	return uint64(e.Major)<<minorBits | uint64(e.Minor)
}

// Table tracks registered devices by name.
type Table struct {
	entries map[string]Entry
	majors  map[uint32]string
	lastGen uint64
	mu      sync.RWMutex
}

// New creates an empty table.
func New() *Table {
	return &Table{
		entries: make(map[string]Entry),
		majors:  make(map[uint32]string),
	}
}

// ValidateName rejects names that cannot appear as a single directory entry.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("%w: %q contains path separator", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}

// Register adds ops under name with the next free dynamic major and minor 0.
func (t *Table) Register(name string, ops Operations) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[name]; ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrExists, name)
	}

	major, ok := t.allocMajorLocked()
	if !ok {
		logging.Errorf("Failed to register device %s: dynamic majors %d-%d exhausted", name, DynamicMajorEnd, DynamicMajorStart)
		return Entry{}, ErrNoMajor
	}

	t.lastGen++
	e := Entry{Name: name, Major: major, Gen: t.lastGen, Ops: ops}
	t.entries[name] = e
	t.majors[major] = name
	logging.Infof("Device %s registered with major number %d", name, major)
	return e, nil
}

func (t *Table) allocMajorLocked() (uint32, bool) {
	for m := uint32(DynamicMajorStart); m >= DynamicMajorEnd; m-- {
		if _, used := t.majors[m]; !used {
			return m, true
		}
	}
	return 0, false
}

// Unregister removes name and frees its major number.
func (t *Table) Unregister(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(t.entries, name)
	delete(t.majors, e.Major)
	logging.Infof("Device %s unregistered", name)
	return nil
}

// Lookup returns the entry registered under name.
func (t *Table) Lookup(name string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}

// List returns all entries sorted by name.
func (t *Table) List() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// UnregisterAll removes every entry and returns how many were removed.
func (t *Table) UnregisterAll() int {
	removed := 0
	for _, e := range t.List() {
		if err := t.Unregister(e.Name); err == nil {
			removed++
		}
	}
	return removed
}

// Count returns the number of registered devices.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
