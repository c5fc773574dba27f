//go:build unix

package sharedmemory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ShmDir is where named regions are looked up on unix systems. Wine and
// Proton bridges expose the game's mappings here.
var ShmDir = "/dev/shm"

type mappedRegion struct {
	view
}

func openRegion(name string, maxSize int) (Region, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(ShmDir, name)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrRegionUnavailable, path, err)
		}
		return nil, fmt.Errorf("could not open region %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat region %s: %w", path, err)
	}
	size := int(fi.Size())
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrRegionUnavailable, path)
	}
	if size > maxSize {
		size = maxSize
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrRegionUnavailable, path, err)
	}

	return &mappedRegion{view: view{name: name, data: data}}, nil
}

func (m *mappedRegion) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
