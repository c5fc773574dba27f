//go:build windows

package sharedmemory

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileMappingW = modkernel32.NewProc("OpenFileMappingW")
)

type mappedRegion struct {
	view
	handle windows.Handle
	addr   uintptr
}

func openRegion(name string, maxSize int) (Region, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid region name %q: %w", name, err)
	}

	r0, _, e1 := procOpenFileMappingW.Call(uintptr(windows.FILE_MAP_READ), 0, uintptr(unsafe.Pointer(namePtr)))
	if r0 == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrRegionUnavailable, name, e1)
	}
	handle := windows.Handle(r0)

	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ, 0, 0, 0)
	if err != nil {
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("%w: MapViewOfFile %s: %v", ErrRegionUnavailable, name, err)
	}

	var info windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("could not query region %s: %w", name, err)
	}

	size := int(info.RegionSize)
	if size > maxSize {
		size = maxSize
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &mappedRegion{view: view{name: name, data: data}, handle: handle, addr: addr}, nil
}

func (m *mappedRegion) Close() error {
	if m.addr == 0 {
		return nil
	}
	m.data = nil
	err := windows.UnmapViewOfFile(m.addr)
	m.addr = 0
	if cerr := windows.CloseHandle(m.handle); err == nil {
		err = cerr
	}
	return err
}
