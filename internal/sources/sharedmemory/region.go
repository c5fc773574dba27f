package sharedmemory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRegionUnavailable is returned when a named region does not exist or
// cannot be mapped.
var ErrRegionUnavailable = errors.New("shared memory region unavailable")

// Region is a read-only view of a named shared memory region.
type Region interface {
	Name() string
	Size() int
	// CopyTo copies up to len(dst) bytes from the start of the region and
	// returns the number copied. The copy is not atomic; callers rely on the
	// version counters to detect tearing.
	CopyTo(dst []byte) int
	Close() error
}

// OpenFunc opens a region by name, mapping at most maxSize bytes.
type OpenFunc func(name string, maxSize int) (Region, error)

// OpenRegion maps a named region using the platform implementation.
func OpenRegion(name string, maxSize int) (Region, error) {
	if maxSize <= 0 {
		maxSize = DefaultBufferSize
	}
	return openRegion(name, maxSize)
}

// OpenFirst tries each name in order and returns the first region that opens.
func OpenFirst(open OpenFunc, names []string, maxSize int) (Region, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no region names configured", ErrRegionUnavailable)
	}
	var errs []error
	for _, name := range names {
		r, err := open(name, maxSize)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// view is the platform-independent part of a mapped region.
type view struct {
	name string
	data []byte
}

func (v *view) Name() string { return v.name }

func (v *view) Size() int { return len(v.data) }

func (v *view) CopyTo(dst []byte) int {
	return copy(dst, v.data)
}

// MemoryRegion is a Region backed by an ordinary byte slice. It is used by
// tests and by tools that feed recorded region dumps.
type MemoryRegion struct {
	mu     sync.Mutex
	name   string
	data   []byte
	closed bool
}

// NewMemoryRegion returns a region of the given size.
func NewMemoryRegion(name string, size int) *MemoryRegion {
	return &MemoryRegion{name: name, data: make([]byte, size)}
}

func (m *MemoryRegion) Name() string { return m.name }

func (m *MemoryRegion) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *MemoryRegion) CopyTo(dst []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	return copy(dst, m.data)
}

// WriteAt overwrites region bytes starting at off, growing the region if needed.
func (m *MemoryRegion) WriteAt(p []byte, off int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if need := off + len(p); need > len(m.data) {
		grown := make([]byte, need)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
}

// Closed reports whether Close has been called.
func (m *MemoryRegion) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryRegion) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
