//go:build linux || darwin || freebsd

package malloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapSource maps anonymous private memory straight from the OS.
// Memory is outside the Go heap and is not scanned by GC.
type MmapSource struct{}

// Alloc ...
func (MmapSource) Alloc(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w: %w", size, err, ErrOutOfMemory)
	}
	return b, nil
}

// Free unmaps b, which must be a buffer returned by Alloc.
func (MmapSource) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	if err := unix.Munmap(b); err != nil {
		panic(fmt.Sprintf("mmap: munmap failed: %v", err))
	}
}
