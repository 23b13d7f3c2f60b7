//go:build !linux && !darwin && !freebsd

package malloc

import "fmt"

// MmapSource is not available on this platform, Alloc always fails.
type MmapSource struct{}

// Alloc ...
func (MmapSource) Alloc(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("mmap: %w: %w", ErrUnsupported, ErrOutOfMemory)
}

// Free ...
func (MmapSource) Free([]byte) {}
