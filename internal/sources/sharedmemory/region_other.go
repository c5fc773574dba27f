//go:build !unix && !windows

package sharedmemory

import "fmt"

func openRegion(name string, maxSize int) (Region, error) {
	return nil, fmt.Errorf("%w: %s: not supported on this platform", ErrRegionUnavailable, name)
}
